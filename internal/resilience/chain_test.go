package resilience

import (
	"context"
	stderrors "errors"
	"testing"
)

func TestChainFirstSuccess(t *testing.T) {
	calls := []string{}
	got, name, err := Chain(context.Background(), []Attempt[string]{
		{Name: "a", Run: func(ctx context.Context) (string, error) {
			calls = append(calls, "a")
			return "from-a", nil
		}},
		{Name: "b", Run: func(ctx context.Context) (string, error) {
			calls = append(calls, "b")
			return "from-b", nil
		}},
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "from-a" || name != "a" {
		t.Errorf("expected first attempt to win, got %q from %q", got, name)
	}
	if len(calls) != 1 {
		t.Errorf("later attempts should not run, got %v", calls)
	}
}

func TestChainFallsThrough(t *testing.T) {
	boom := stderrors.New("boom")
	got, name, err := Chain(context.Background(), []Attempt[int]{
		{Name: "first", Run: func(ctx context.Context) (int, error) { return 0, boom }},
		{Name: "second", Run: func(ctx context.Context) (int, error) { return 42, nil }},
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 || name != "second" {
		t.Errorf("expected fallback result, got %d from %q", got, name)
	}
}

func TestChainAllFail(t *testing.T) {
	last := stderrors.New("last failure")
	_, _, err := Chain(context.Background(), []Attempt[int]{
		{Name: "a", Run: func(ctx context.Context) (int, error) { return 0, stderrors.New("first") }},
		{Name: "b", Run: func(ctx context.Context) (int, error) { return 0, last }},
	})

	if err != last {
		t.Errorf("expected last error, got %v", err)
	}
}

func TestChainEmpty(t *testing.T) {
	_, _, err := Chain[int](context.Background(), nil)
	if err != ErrNoAttempts {
		t.Errorf("expected ErrNoAttempts, got %v", err)
	}
}

func TestChainCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := Chain(ctx, []Attempt[int]{
		{Name: "a", Run: func(ctx context.Context) (int, error) {
			t.Error("attempt should not run with cancelled context")
			return 0, nil
		}},
	})
	if !stderrors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
