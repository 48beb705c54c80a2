// Package mock provides a scripted [llm.Provider] for enhancement tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/dictum/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// Call is one recorded Complete invocation.
type Call struct {
	Req llm.Request
	// Deadline is the context deadline, zero when the context had none.
	Deadline time.Time
}

// Provider answers every prompt from its fields. With Func set, Func answers
// instead. A zero Provider replies with (nil, nil).
type Provider struct {
	Reply *llm.Reply
	Err   error
	Func  func(ctx context.Context, req llm.Request) (*llm.Reply, error)

	mu    sync.Mutex
	calls []Call
}

// Text returns a Provider that always replies with s.
func Text(s string) *Provider {
	return &Provider{Reply: &llm.Reply{Text: s}}
}

// Failing returns a Provider whose every call fails with err.
func Failing(err error) *Provider {
	return &Provider{Err: err}
}

// Complete records the call and returns the scripted answer.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (*llm.Reply, error) {
	deadline, _ := ctx.Deadline()
	p.mu.Lock()
	p.calls = append(p.calls, Call{Req: req, Deadline: deadline})
	p.mu.Unlock()

	if p.Func != nil {
		return p.Func(ctx, req)
	}
	return p.Reply, p.Err
}

// Calls returns a copy of the recorded calls in order.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// CallCount returns the number of Complete calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
