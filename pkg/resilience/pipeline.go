package resilience

import (
	"context"
)

// Pipeline composes a circuit breaker and a retrier around a unit of work
// with a fixed, visible ordering: the breaker is the outer layer, and every
// individual retry attempt passes through the breaker and reports its own
// success or failure to it. A breaker that opens mid-retry short-circuits
// the remaining attempts, because a breaker rejection is never retryable.
type Pipeline struct {
	breaker *CircuitBreaker
	retrier *Retrier
}

// NewPipeline creates a pipeline from a breaker and a retrier
func NewPipeline(breaker *CircuitBreaker, retrier *Retrier) *Pipeline {
	return &Pipeline{
		breaker: breaker,
		retrier: retrier,
	}
}

// Execute runs the work through the breaker and retrier
func (p *Pipeline) Execute(ctx context.Context, work func(context.Context) (interface{}, error)) (interface{}, error) {
	return p.retrier.ExecuteWithResult(ctx, func(ctx context.Context) (interface{}, error) {
		return p.breaker.Guard(ctx, work)
	})
}

// ExecuteVoid runs work that produces no result
func (p *Pipeline) ExecuteVoid(ctx context.Context, work func(context.Context) error) error {
	_, err := p.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, work(ctx)
	})
	return err
}

// Breaker returns the pipeline's circuit breaker
func (p *Pipeline) Breaker() *CircuitBreaker {
	return p.breaker
}

// Retrier returns the pipeline's retrier
func (p *Pipeline) Retrier() *Retrier {
	return p.retrier
}
