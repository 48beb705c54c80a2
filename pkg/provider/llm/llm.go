// Package llm is the language model seam behind transcript enhancement.
//
// Enhancement sends one prompt per segment and keeps the reply text, so a
// Provider is a single-turn completion: no conversation, no system slot and
// no streaming. Implementations must be safe for concurrent use because
// segments are enhanced on their own dispatcher goroutines.
package llm

import (
	"context"
	"errors"
)

// ErrNoReply is returned when a backend answers without any choice.
var ErrNoReply = errors.New("llm: backend returned no reply")

// Request is one enhancement prompt.
type Request struct {
	// Prompt is sent as the only user message.
	Prompt string

	// Temperature is the sampling temperature. Zero keeps the backend default.
	Temperature float64

	// MaxTokens caps the reply. Zero keeps the backend default.
	MaxTokens int
}

// Reply is the model's answer to a [Request].
type Reply struct {
	Text string

	// Truncated is set when generation stopped at MaxTokens.
	Truncated bool
}

// Provider completes a single prompt.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Reply, error)
}

// finishLength is the finish reason OpenAI-style backends report when the
// token cap cut the reply short.
const finishLength = "length"

// Truncated reports whether an OpenAI-style finish reason means the reply
// was cut at the token cap.
func Truncated(finishReason string) bool { return finishReason == finishLength }
