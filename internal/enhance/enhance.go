// Package enhance rewrites recognized text with a language model: grammar
// repair, bullet summaries or translation.
//
// Enhancement runs on the dispatcher goroutine of each segment, never on the
// capture path. A failure is reported to the caller, which keeps the
// unenhanced text and attaches a warning.
package enhance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/dictum/internal/observe"
	"github.com/MrWong99/dictum/pkg/provider/llm"
)

// ErrUnavailable wraps every failure of the backing language model.
var ErrUnavailable = errors.New("enhance: language model unavailable")

// ErrEmptyResponse is returned when the model answers with no text.
var ErrEmptyResponse = errors.New("enhance: empty response")

const (
	defaultTemperature = 0.2
	defaultTimeout     = 30 * time.Second
)

// Task selects the rewrite applied to a transcript.
type Task string

const (
	TaskImprove   Task = "improve"
	TaskSummarize Task = "summarize"
	TaskTranslate Task = "translate"
)

// prompts are sent verbatim, followed by a blank line and the text.
var prompts = map[Task]string{
	TaskImprove:   "Fix grammar and punctuation in this text, keeping the original meaning. Only return the corrected text:",
	TaskSummarize: "Summarize this text in bullet points:",
	TaskTranslate: "Translate this text to Spanish:",
}

// Tasks lists every supported task in display order.
func Tasks() []Task { return []Task{TaskImprove, TaskSummarize, TaskTranslate} }

// Valid reports whether t is a known task.
func (t Task) Valid() bool {
	_, ok := prompts[t]
	return ok
}

// Prompt builds the user prompt for text. Unknown tasks use [TaskImprove].
func (t Task) Prompt(text string) string {
	p, ok := prompts[t]
	if !ok {
		p = prompts[TaskImprove]
	}
	return p + "\n\n" + text
}

// Option is a functional option for configuring an [Enhancer].
type Option func(*Enhancer)

// WithTemperature sets the sampling temperature. Default: 0.2.
func WithTemperature(temp float64) Option {
	return func(e *Enhancer) { e.temperature = temp }
}

// WithMaxTokens caps the completion length. Zero leaves it to the backend.
func WithMaxTokens(n int) Option {
	return func(e *Enhancer) { e.maxTokens = n }
}

// WithTimeout bounds each completion. Default: 30s.
func WithTimeout(d time.Duration) Option {
	return func(e *Enhancer) { e.timeout = d }
}

// Enhancer applies a [Task] to text through an [llm.Provider]. It is safe for
// concurrent use.
type Enhancer struct {
	llm         llm.Provider
	temperature float64
	maxTokens   int
	timeout     time.Duration
}

// New returns an [Enhancer] backed by provider.
func New(provider llm.Provider, opts ...Option) *Enhancer {
	e := &Enhancer{
		llm:         provider,
		temperature: defaultTemperature,
		timeout:     defaultTimeout,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Enhance applies task to text and returns the model's answer with markdown
// fences and surrounding whitespace removed. Blank input is returned as is
// without calling the model.
func (e *Enhancer) Enhance(ctx context.Context, text string, task Task) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	reply, err := e.llm.Complete(ctx, llm.Request{
		Prompt:      task.Prompt(text),
		Temperature: e.temperature,
		MaxTokens:   e.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	if reply == nil {
		return "", ErrEmptyResponse
	}
	out := stripMarkdown(reply.Text)
	if out == "" {
		return "", ErrEmptyResponse
	}
	if reply.Truncated {
		observe.Logger(ctx).Warn("enhance: reply cut at the token limit", "task", task, "max_tokens", e.maxTokens)
	}
	return out, nil
}

// stripMarkdown removes a surrounding markdown code fence (with or without a
// language tag) that some models wrap their answer in.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	if after, ok := strings.CutPrefix(s, "```"); ok {
		// Drop an optional language tag on the opening fence line.
		if nl := strings.IndexByte(after, '\n'); nl >= 0 && !strings.ContainsAny(after[:nl], " \t") {
			after = after[nl+1:]
		}
		s = after
		if before, ok := strings.CutSuffix(strings.TrimSpace(s), "```"); ok {
			s = before
		}
	}
	return strings.TrimSpace(s)
}
