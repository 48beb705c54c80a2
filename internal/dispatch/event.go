package dispatch

import (
	"strings"
	"time"

	"github.com/MrWong99/dictum/internal/segment"
)

// Event statuses, also used as the metric attribute.
const (
	StatusOK     = "ok"
	StatusEmpty  = "empty"
	StatusFailed = "failed"
)

// Event is the outcome of one submitted segment.
type Event struct {
	// Seq is the per-dispatcher submission number, starting at 1.
	Seq uint64

	// SessionID is the capture session the segment came from, if known.
	SessionID string

	// Reason is why the segment was finalized.
	Reason segment.Reason

	// Audio is the duration of the recognized audio.
	Audio time.Duration

	// Text is the final text after vocabulary correction and enhancement.
	// Empty when nothing was recognized or recognition failed.
	Text string

	// RawText is the recognizer's answer before any correction.
	RawText string

	// Language is the language reported by the recognizer.
	Language string

	// Warnings are non-fatal problems, such as a failed enhancement.
	Warnings []string

	// Err is set when the segment could not be recognized.
	Err error

	// Completed is when processing finished (not when it was released).
	Completed time.Time
}

// Status classifies the event as [StatusOK], [StatusEmpty] or [StatusFailed].
func (e Event) Status() string {
	switch {
	case e.Err != nil:
		return StatusFailed
	case e.Text == "":
		return StatusEmpty
	default:
		return StatusOK
	}
}

// HasText reports whether the event carries text to deliver.
func (e Event) HasText() bool { return e.Err == nil && e.Text != "" }

// StatusMessage is the one-line status shown to the user, or "" when there
// is nothing to report.
func (e Event) StatusMessage() string {
	if e.Err != nil {
		return "Recognition failed: " + e.Err.Error()
	}
	return strings.Join(e.Warnings, "; ")
}
