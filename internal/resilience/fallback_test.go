package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestGroup() *FallbackGroup[string] {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fg.AddFallback("secondary", "secondary")
	return fg
}

func TestFallbackGroup_PrimarySuccess(t *testing.T) {
	fg := newTestGroup()

	var called string
	err := fg.Execute(context.Background(), func(_ context.Context, v string) error {
		called = v
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called != "primary" {
		t.Fatalf("called = %q, want primary", called)
	}
	if fg.Len() != 2 {
		t.Errorf("Len() = %d, want 2", fg.Len())
	}
}

func TestFallbackGroup_PrimaryFailFallbackSuccess(t *testing.T) {
	fg := newTestGroup()

	var called string
	err := fg.Execute(context.Background(), func(_ context.Context, v string) error {
		if v == "primary" {
			return errTest
		}
		called = v
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called != "secondary" {
		t.Fatalf("called = %q, want secondary", called)
	}
}

func TestFallbackGroup_AllFail(t *testing.T) {
	fg := newTestGroup()

	err := fg.Execute(context.Background(), func(context.Context, string) error {
		return errTest
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errTest) {
		t.Fatalf("err = %v, want to wrap the last provider error", err)
	}
}

func TestFallbackGroup_SingleEntryReturnsOwnError(t *testing.T) {
	fg := NewFallbackGroup("only", "only", FallbackConfig{})

	err := fg.Execute(context.Background(), func(context.Context, string) error {
		return errTest
	})
	if !errors.Is(err, errTest) {
		t.Fatalf("err = %v, want errTest", err)
	}
	if errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, single entry must not wrap ErrAllFailed", err)
	}
}

func TestFallbackGroup_CircuitBreakerSkipsOpenProvider(t *testing.T) {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{
			MaxFailures:  2,
			ResetTimeout: time.Hour,
		},
	})
	fg.AddFallback("secondary", "secondary")
	ctx := context.Background()

	for range 2 {
		_ = fg.Execute(ctx, func(_ context.Context, v string) error {
			if v == "primary" {
				return errTest
			}
			return nil
		})
	}

	var calls []string
	err := fg.Execute(ctx, func(_ context.Context, v string) error {
		calls = append(calls, v)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(calls) != 1 || calls[0] != "secondary" {
		t.Fatalf("calls = %v, want [secondary] (primary should be skipped)", calls)
	}

	status := fg.Status()
	if status[0].Name != "primary" || status[0].State != StateOpen {
		t.Errorf("status[0] = %+v, want primary/open", status[0])
	}
	if status[1].State != StateClosed {
		t.Errorf("status[1] = %+v, want closed", status[1])
	}
	if !fg.Available() {
		t.Error("Available() = false, want true while secondary is closed")
	}
}

func TestFallbackGroup_AvailableFalseWhenAllOpen(t *testing.T) {
	fg := NewFallbackGroup("only", "only", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	_ = fg.Execute(context.Background(), func(context.Context, string) error { return errTest })

	if fg.Available() {
		t.Fatal("Available() = true, want false")
	}
	err := fg.Execute(context.Background(), func(context.Context, string) error { return nil })
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrAllFailed wrapping ErrCircuitOpen", err)
	}
}

func TestFallbackGroup_CancellationStopsFailover(t *testing.T) {
	fg := newTestGroup()
	ctx, cancel := context.WithCancel(context.Background())

	var calls []string
	err := fg.Execute(ctx, func(ctx context.Context, v string) error {
		calls = append(calls, v)
		cancel()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(calls) != 1 {
		t.Fatalf("calls = %v, want only the primary", calls)
	}
	if fg.Status()[0].State != StateClosed {
		t.Error("cancelled call must not count against the primary")
	}
}

func TestExecuteWithResult_Success(t *testing.T) {
	fg := NewFallbackGroup(10, "ten", FallbackConfig{})
	fg.AddFallback("twenty", 20)

	result, err := ExecuteWithResult(context.Background(), fg, func(_ context.Context, v int) (string, error) {
		return "value", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "value" {
		t.Fatalf("result = %q, want value", result)
	}
}

func TestExecuteWithResult_Failover(t *testing.T) {
	fg := NewFallbackGroup(10, "ten", FallbackConfig{})
	fg.AddFallback("twenty", 20)

	result, err := ExecuteWithResult(context.Background(), fg, func(_ context.Context, v int) (int, error) {
		if v == 10 {
			return 0, errTest
		}
		return v * 2, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 40 {
		t.Fatalf("result = %d, want 40", result)
	}
}

func TestExecuteWithResult_AllFail(t *testing.T) {
	fg := NewFallbackGroup(10, "ten", FallbackConfig{})
	fg.AddFallback("twenty", 20)

	result, err := ExecuteWithResult(context.Background(), fg, func(context.Context, int) (string, error) {
		return "ignored", errTest
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if result != "" {
		t.Fatalf("result = %q, want zero value", result)
	}
}
