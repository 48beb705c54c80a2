// Package mock provides a test double for the stt.Recognizer interface.
//
// Set Result and Err for a fixed answer, or RecognizeFunc when the test needs
// per-call behaviour such as blocking until released or answering by content.
//
// Example:
//
//	r := &mock.Recognizer{Result: &stt.Result{Text: "hello"}}
//	res, _ := r.Recognize(ctx, stt.Request{Audio: wav})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/dictum/pkg/provider/stt"
)

// RecognizeCall records a single invocation of Recognizer.Recognize.
type RecognizeCall struct {
	// Ctx is the context passed to Recognize.
	Ctx context.Context
	// Req is the request passed to Recognize. Audio is copied.
	Req stt.Request
}

// Recognizer is a mock implementation of stt.Recognizer.
type Recognizer struct {
	mu sync.Mutex

	// Result is returned by Recognize when RecognizeFunc is nil. A nil Result
	// with a nil Err yields an empty, successful result.
	Result *stt.Result

	// Err, if non-nil, is returned by Recognize when RecognizeFunc is nil.
	Err error

	// RecognizeFunc, if set, handles every call instead of Result/Err. It is
	// called without the mock's lock held.
	RecognizeFunc func(ctx context.Context, req stt.Request) (*stt.Result, error)

	// Calls records every call to Recognize in order.
	Calls []RecognizeCall
}

// Recognize records the call and returns the configured answer.
func (r *Recognizer) Recognize(ctx context.Context, req stt.Request) (*stt.Result, error) {
	cp := req
	cp.Audio = append([]byte(nil), req.Audio...)
	cp.Keywords = append([]string(nil), req.Keywords...)

	r.mu.Lock()
	r.Calls = append(r.Calls, RecognizeCall{Ctx: ctx, Req: cp})
	fn := r.RecognizeFunc
	res, err := r.Result, r.Err
	r.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	if res == nil {
		return &stt.Result{Language: req.Language}, nil
	}
	out := *res
	return &out, nil
}

// CallCount returns the number of Recognize calls. Thread-safe.
func (r *Recognizer) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Calls)
}

// Requests returns a copy of every request seen so far. Thread-safe.
func (r *Recognizer) Requests() []stt.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]stt.Request, len(r.Calls))
	for i, c := range r.Calls {
		out[i] = c.Req
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (r *Recognizer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = nil
}

// Ensure Recognizer implements stt.Recognizer at compile time.
var _ stt.Recognizer = (*Recognizer)(nil)
