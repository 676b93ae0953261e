package resilience

import (
	"sync"
	"time"
)

// ServicePolicy bundles the breaker and retry configuration for one
// upstream service
type ServicePolicy struct {
	Name    string
	Breaker CircuitBreakerConfig
	Retry   RetryConfig
}

// Registry holds one pipeline per upstream service. It is constructed once
// at process start and passed by reference to every job handler; there is
// no package-level breaker state. Failures in one service never affect
// another service's breaker.
type Registry struct {
	mutex     sync.RWMutex
	pipelines map[string]*Pipeline
	fallback  ServicePolicy
}

// NewRegistry creates a registry pre-populated from the given policies
func NewRegistry(policies []ServicePolicy) *Registry {
	r := &Registry{
		pipelines: make(map[string]*Pipeline, len(policies)),
		fallback: ServicePolicy{
			Breaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				RecoveryTimeout:  60 * time.Second,
				SuccessThreshold: 2,
			},
			Retry: DefaultRetryConfig(),
		},
	}

	for _, policy := range policies {
		r.register(policy)
	}

	return r
}

func (r *Registry) register(policy ServicePolicy) {
	policy.Breaker.Name = policy.Name
	r.pipelines[policy.Name] = NewPipeline(
		NewCircuitBreaker(policy.Breaker),
		NewRetrier(policy.Retry),
	)
}

// Pipeline returns the pipeline for the named service, creating one with
// fallback policy on first use
func (r *Registry) Pipeline(service string) *Pipeline {
	r.mutex.RLock()
	p, ok := r.pipelines[service]
	r.mutex.RUnlock()
	if ok {
		return p
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if p, ok := r.pipelines[service]; ok {
		return p
	}

	policy := r.fallback
	policy.Name = service
	r.register(policy)
	return r.pipelines[service]
}

// Breaker returns the circuit breaker for the named service
func (r *Registry) Breaker(service string) *CircuitBreaker {
	return r.Pipeline(service).Breaker()
}

// Services returns the names of all registered services
func (r *Registry) Services() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, 0, len(r.pipelines))
	for name := range r.pipelines {
		names = append(names, name)
	}
	return names
}

// Upstream service names guarded by the registry
const (
	ServiceCostAPI         = "cost-api"
	ServicePolicyAPI       = "policy-api"
	ServiceSecurityAPI     = "security-api"
	ServiceResourceAPI     = "resource-api"
	ServiceGraphAPI        = "graph-api"
	ServiceTenantFullSync  = "tenant-full-sync"
	ServiceTenantDeltaSync = "tenant-delta-sync"
)

// DefaultPolicies returns the per-service breaker and retry policies.
// Thresholds reflect the relative cost and rate sensitivity of each API:
// the cost API is heavily rate limited so it backs off longer, the graph
// API tolerates more probing, and the tenant sync pipelines sit in between.
func DefaultPolicies() []ServicePolicy {
	return []ServicePolicy{
		{
			Name: ServiceCostAPI,
			Breaker: CircuitBreakerConfig{
				FailureThreshold: 3,
				RecoveryTimeout:  120 * time.Second,
				SuccessThreshold: 2,
			},
			Retry: RetryConfig{
				MaxRetries: 5,
				BaseDelay:  2 * time.Second,
				MaxDelay:   60 * time.Second,
			},
		},
		{
			Name: ServicePolicyAPI,
			Breaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				RecoveryTimeout:  60 * time.Second,
				SuccessThreshold: 2,
			},
			Retry: RetryConfig{
				MaxRetries: 3,
				BaseDelay:  1 * time.Second,
				MaxDelay:   30 * time.Second,
			},
		},
		{
			Name: ServiceSecurityAPI,
			Breaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				RecoveryTimeout:  60 * time.Second,
				SuccessThreshold: 2,
			},
			Retry: RetryConfig{
				MaxRetries: 3,
				BaseDelay:  1 * time.Second,
				MaxDelay:   30 * time.Second,
			},
		},
		{
			Name: ServiceResourceAPI,
			Breaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				RecoveryTimeout:  60 * time.Second,
				SuccessThreshold: 3,
			},
			Retry: RetryConfig{
				MaxRetries: 4,
				BaseDelay:  1 * time.Second,
				MaxDelay:   45 * time.Second,
			},
		},
		{
			Name: ServiceGraphAPI,
			Breaker: CircuitBreakerConfig{
				FailureThreshold: 8,
				RecoveryTimeout:  30 * time.Second,
				SuccessThreshold: 2,
			},
			Retry: RetryConfig{
				MaxRetries: 3,
				BaseDelay:  1 * time.Second,
				MaxDelay:   30 * time.Second,
			},
		},
		{
			Name: ServiceTenantFullSync,
			Breaker: CircuitBreakerConfig{
				FailureThreshold: 4,
				RecoveryTimeout:  90 * time.Second,
				SuccessThreshold: 2,
			},
			Retry: RetryConfig{
				MaxRetries: 4,
				BaseDelay:  2 * time.Second,
				MaxDelay:   60 * time.Second,
			},
		},
		{
			Name: ServiceTenantDeltaSync,
			Breaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				RecoveryTimeout:  60 * time.Second,
				SuccessThreshold: 2,
			},
			Retry: RetryConfig{
				MaxRetries: 3,
				BaseDelay:  1 * time.Second,
				MaxDelay:   30 * time.Second,
			},
		},
	}
}
