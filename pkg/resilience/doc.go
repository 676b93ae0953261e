// Package resilience makes periodic, unreliable, rate-limited upstream API
// calls safe to run unattended.
//
// # Circuit Breaker
//
// One breaker guards one upstream service. It opens after a configured
// number of consecutive countable failures, rejects calls while open, lets
// a recovery probe through after the recovery timeout, and closes again
// after enough consecutive probe successes.
//
//	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
//		Name:             "cost-api",
//		FailureThreshold: 3,
//		RecoveryTimeout:  2 * time.Minute,
//		SuccessThreshold: 2,
//	})
//
//	result, err := cb.Guard(ctx, func(ctx context.Context) (interface{}, error) {
//		return costAPI.FetchUsage(ctx, tenant)
//	})
//
// Only errors the breaker's classifier accepts count toward its state;
// anything else propagates without moving the state machine, so a
// programming bug is never conflated with service unavailability.
//
// # Retry with Exponential Backoff
//
// The retrier re-attempts transient failures with exponential backoff and
// jitter, fails fast on permanent errors, and surfaces the final attempt's
// original error rather than a wrapper.
//
//	retrier := resilience.NewRetrier(resilience.DefaultRetryConfig())
//	err := retrier.Execute(ctx, func(ctx context.Context) error {
//		return pullComplianceFindings(ctx)
//	})
//
// # Composition
//
// Pipeline fixes the composition order: the breaker observes every retry
// attempt, and an open breaker short-circuits the remaining attempts.
// Registry holds one pipeline per upstream service and is passed explicitly
// to job handlers instead of living in package globals.
//
//	reg := resilience.NewRegistry(resilience.DefaultPolicies())
//	result, err := reg.Pipeline(resilience.ServiceCostAPI).Execute(ctx, work)
package resilience
