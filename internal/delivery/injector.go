package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNoTarget is returned when there is no foreground or focused window to
// type into.
var ErrNoTarget = errors.New("delivery: no injection target")

// Injection strategy names.
const (
	StrategyStandard = "standard"
	StrategyCompat   = "compat"
	StrategyNone     = "none"
)

// Target identifies the window that receives injected text. Handle is an
// opaque platform value. Focused is true when a focused child control was
// found rather than just the top-level window.
type Target struct {
	Handle  uintptr
	Focused bool
}

// Injector types text into whatever the user is working in.
//
// Implementations must be safe to call from the [UI] loop goroutine; they are
// never called concurrently.
type Injector interface {
	// ResolveTarget finds the window that would receive text right now.
	ResolveTarget(ctx context.Context) (Target, error)

	// Inject types text into the current target.
	Inject(ctx context.Context, text string) error
}

// InjectorConfig selects and tunes an [Injector].
type InjectorConfig struct {
	// Strategy is one of [StrategyStandard], [StrategyCompat] or
	// [StrategyNone]. Default: standard.
	Strategy string

	// CharDelay is the pause between characters in compat mode. Default: 10ms.
	CharDelay time.Duration

	// RestoreClipboard restores the previous clipboard contents after a
	// standard paste.
	RestoreClipboard bool
}

// NewInjector builds the injector named by cfg.Strategy.
func NewInjector(cfg InjectorConfig) (Injector, error) {
	switch cfg.Strategy {
	case "", StrategyStandard:
		return NewStandard(systemClipboard{}, &keyboardPaster{}, WithRestore(cfg.RestoreClipboard)), nil
	case StrategyCompat:
		return NewCompat(newWindowAPI(), WithCharDelay(cfg.CharDelay)), nil
	case StrategyNone:
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("delivery: unknown injection strategy %q", cfg.Strategy)
	}
}

// Nop is an [Injector] that never types anything.
type Nop struct{}

// ResolveTarget always returns [ErrNoTarget].
func (Nop) ResolveTarget(context.Context) (Target, error) { return Target{}, ErrNoTarget }

// Inject does nothing.
func (Nop) Inject(context.Context, string) error { return nil }

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
