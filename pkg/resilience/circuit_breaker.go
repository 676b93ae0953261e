package resilience

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/stackwatch/stackwatch/pkg/errors"
	"github.com/stackwatch/stackwatch/pkg/logging"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// StateClosed - calls proceed normally
	StateClosed CircuitState = iota
	// StateOpen - calls are rejected without reaching the upstream service
	StateOpen
	// StateHalfOpen - recovery probes are allowed through
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig holds configuration for one named circuit breaker
type CircuitBreakerConfig struct {
	// Name identifies the upstream service guarded by this breaker
	Name string
	// FailureThreshold is the number of consecutive countable failures in
	// the closed state that opens the breaker
	FailureThreshold int
	// RecoveryTimeout is how long the breaker stays open before letting a
	// recovery probe through
	RecoveryTimeout time.Duration
	// SuccessThreshold is the number of consecutive probe successes in the
	// half-open state that closes the breaker. It also caps how many probes
	// may be in flight at once while half-open, so concurrent callers cannot
	// stampede a recovering service.
	SuccessThreshold int
	// IsFailure classifies whether an error counts toward breaker state.
	// Errors it rejects propagate to the caller without touching counters.
	IsFailure func(error) bool
	// OnStateChange is called on every state transition
	OnStateChange func(name string, from, to CircuitState)
	// OnRejection is called every time Guard rejects a call without
	// invoking the work
	OnRejection func(name string, retryAfter time.Duration)
}

// CircuitBreaker prevents calling an upstream service that is currently
// failing, and probes for recovery after a cooldown. One instance guards
// one external service; instances are fully independent.
type CircuitBreaker struct {
	name             string
	failureThreshold int
	recoveryTimeout  time.Duration
	successThreshold int
	isFailure        func(error) bool
	onStateChange    func(name string, from, to CircuitState)
	onRejection      func(name string, retryAfter time.Duration)

	mutex          sync.Mutex
	state          CircuitState
	failureCount   int
	successCount   int
	probesInFlight int
	lastFailureAt  time.Time

	logger *logging.Logger
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:             config.Name,
		failureThreshold: config.FailureThreshold,
		recoveryTimeout:  config.RecoveryTimeout,
		successThreshold: config.SuccessThreshold,
		isFailure:        config.IsFailure,
		onStateChange:    config.OnStateChange,
		onRejection:      config.OnRejection,
		state:            StateClosed,
		logger:           logging.GetLogger(),
	}

	if cb.failureThreshold <= 0 {
		cb.failureThreshold = 5
	}
	if cb.recoveryTimeout <= 0 {
		cb.recoveryTimeout = 60 * time.Second
	}
	if cb.successThreshold <= 0 {
		cb.successThreshold = 2
	}
	if cb.isFailure == nil {
		cb.isFailure = errors.IsCountableFailure
	}

	return cb
}

// CanExecute reports whether a call may proceed. While open, it also
// performs the open to half-open transition once the recovery timeout has
// elapsed since the last failure; the call that observes the transition is
// the first recovery probe. While half-open, at most SuccessThreshold
// probes are admitted at a time; further callers are rejected until a
// probe resolves.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.lastFailureAt) >= cb.recoveryTimeout {
			cb.setState(StateHalfOpen)
			cb.probesInFlight = 1
			return true
		}
		return false
	case StateHalfOpen:
		if cb.probesInFlight < cb.successThreshold {
			cb.probesInFlight++
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess records a successful call against the breaker
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
	case StateHalfOpen:
		if cb.probesInFlight > 0 {
			cb.probesInFlight--
		}
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.setState(StateClosed)
			cb.failureCount = 0
			cb.successCount = 0
			cb.probesInFlight = 0
		}
	}
}

// RecordFailure records a countable failure against the breaker
func (cb *CircuitBreaker) RecordFailure() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.lastFailureAt = time.Now()

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.setState(StateOpen)
		}
	case StateHalfOpen:
		// A single failed probe reopens the breaker
		cb.successCount = 0
		cb.probesInFlight = 0
		cb.setState(StateOpen)
	}
}

// Guard executes work under the breaker: it rejects fast with a
// BreakerOpenError when the breaker is open, otherwise invokes the work,
// classifies the outcome, updates breaker state, and propagates the
// original result or error unchanged.
func (cb *CircuitBreaker) Guard(ctx context.Context, work func(context.Context) (interface{}, error)) (interface{}, error) {
	if !cb.CanExecute() {
		retryAfter := cb.retryAfter()
		if cb.onRejection != nil {
			cb.onRejection(cb.name, retryAfter)
		}
		return nil, &BreakerOpenError{Name: cb.name, RetryAfter: retryAfter}
	}

	result, err := work(ctx)
	if err == nil {
		cb.RecordSuccess()
		return result, nil
	}

	if cb.isFailure(err) {
		cb.RecordFailure()
	} else {
		cb.releaseProbe()
	}
	return result, err
}

// releaseProbe frees a half-open probe slot when its call finished with an
// error that does not count toward breaker state. The probe resolved
// without a verdict, so another caller may probe instead.
func (cb *CircuitBreaker) releaseProbe() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.state == StateHalfOpen && cb.probesInFlight > 0 {
		cb.probesInFlight--
	}
}

// State returns the current state without side effects
func (cb *CircuitBreaker) State() CircuitState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// Name returns the name of the guarded service
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// FailureCount returns the current consecutive failure count
func (cb *CircuitBreaker) FailureCount() int {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.failureCount
}

// setState transitions the breaker. Caller must hold the mutex.
func (cb *CircuitBreaker) setState(state CircuitState) {
	if cb.state == state {
		return
	}

	prev := cb.state
	cb.state = state

	if state == StateHalfOpen {
		cb.successCount = 0
		cb.probesInFlight = 0
	}

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, prev, state)
	}

	cb.logger.Info("Circuit breaker state changed",
		"breaker", cb.name,
		"from", prev.String(),
		"to", state.String(),
		"failure_count", cb.failureCount,
	)
}

// retryAfter reports how long until the next recovery probe is allowed
func (cb *CircuitBreaker) retryAfter() time.Duration {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	remaining := cb.recoveryTimeout - time.Since(cb.lastFailureAt)
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// BreakerOpenError is returned when a call is rejected without ever
// reaching the upstream service. It is distinguishable from a real upstream
// failure so callers and metrics can tell "we didn't even try" from "we
// tried and failed".
type BreakerOpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *BreakerOpenError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is open (retry after %s)", e.Name, e.RetryAfter.Round(time.Millisecond))
}

// IsBreakerOpen checks whether an error is a breaker rejection
func IsBreakerOpen(err error) bool {
	var boErr *BreakerOpenError
	return stderrors.As(err, &boErr)
}
