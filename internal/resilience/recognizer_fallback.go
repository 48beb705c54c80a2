package resilience

import (
	"context"

	"github.com/MrWong99/dictum/pkg/provider/stt"
)

// RecognizerFallback implements [stt.Recognizer] with automatic failover across
// multiple recognition backends. Each backend has its own circuit breaker.
type RecognizerFallback struct {
	group *FallbackGroup[stt.Recognizer]
}

// Compile-time interface assertion.
var _ stt.Recognizer = (*RecognizerFallback)(nil)

// NewRecognizerFallback creates a [RecognizerFallback] with primary as the
// preferred backend.
func NewRecognizerFallback(primary stt.Recognizer, primaryName string, cfg FallbackConfig) *RecognizerFallback {
	return &RecognizerFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional recognizer as a fallback.
func (f *RecognizerFallback) AddFallback(name string, r stt.Recognizer) {
	f.group.AddFallback(name, r)
}

// Status reports the breaker state of every backend.
func (f *RecognizerFallback) Status() []EntryStatus { return f.group.Status() }

// Available reports whether any backend would currently accept a request.
func (f *RecognizerFallback) Available() bool { return f.group.Available() }

// Recognize sends req to the first healthy backend. Requests the backend
// rejects outright (empty audio) are not retried elsewhere.
func (f *RecognizerFallback) Recognize(ctx context.Context, req stt.Request) (*stt.Result, error) {
	if len(req.Audio) == 0 {
		return nil, stt.ErrEmptyAudio
	}
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, r stt.Recognizer) (*stt.Result, error) {
		return r.Recognize(ctx, req)
	})
}
