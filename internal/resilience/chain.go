package resilience

import (
	"context"
	"errors"
	"log/slog"
)

// ErrNoAttempts is returned by Chain when called with an empty attempt list.
var ErrNoAttempts = errors.New("no attempts configured")

// Attempt is one strategy in an ordered fallback chain.
type Attempt[T any] struct {
	Name string
	Run  func(ctx context.Context) (T, error)
}

// Chain tries attempts in order and returns the first success along with the
// name of the attempt that produced it. Fallback lists (LLM model order,
// converter-then-passthrough) stay declarative instead of nested branches.
func Chain[T any](ctx context.Context, attempts []Attempt[T]) (T, string, error) {
	var zero T
	var lastErr error

	for _, a := range attempts {
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}
		result, err := a.Run(ctx)
		if err == nil {
			return result, a.Name, nil
		}
		lastErr = err
		slog.Debug("fallback attempt failed", "attempt", a.Name, "error", err)
	}

	if lastErr == nil {
		lastErr = ErrNoAttempts
	}
	return zero, "", lastErr
}
