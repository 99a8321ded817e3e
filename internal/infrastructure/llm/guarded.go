package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/kirillkom/file-organiser/internal/core/domain"
	"github.com/kirillkom/file-organiser/internal/core/ports"
	"github.com/kirillkom/file-organiser/internal/infrastructure/resilience"
)

// GuardedProvider paces requests with a token bucket and runs them through
// the retry and circuit breaker executor.
type GuardedProvider struct {
	inner    ports.CompletionProvider
	limiter  *rate.Limiter
	executor *resilience.Executor
}

// NewGuardedProvider builds the guard. rps <= 0 disables pacing.
func NewGuardedProvider(inner ports.CompletionProvider, executor *resilience.Executor, rps float64, burst int) *GuardedProvider {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst <= 0 {
		burst = 1
	}
	return &GuardedProvider{
		inner:    inner,
		limiter:  rate.NewLimiter(limit, burst),
		executor: executor,
	}
}

func (g *GuardedProvider) Name() string { return g.inner.Name() }

func (g *GuardedProvider) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	operation := "completion." + g.inner.Name()
	out, err := resilience.Do(ctx, g.executor, operation, func(ctx context.Context) (string, error) {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("wait for rate limiter: %w", err)
		}
		return g.inner.Complete(ctx, req)
	}, ClassifyError)
	if err != nil {
		return "", WrapTemporary(operation, err)
	}
	return out, nil
}
