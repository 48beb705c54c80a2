// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech detector (Silero VAD or the amplitude
// fallback) and surfaces it as a stateful, per-stream session. Each session
// carries its own recurrent state, so concurrent capture streams never bias one
// another.
//
// VAD is synchronous by design: Process returns immediately with a speech
// probability, which keeps it usable inside the fixed-cadence segmentation loop.
//
// Implementations must be safe for concurrent use across different sessions.
// A single Session must not be shared across goroutines.
package vad

import (
	"errors"
	"fmt"
)

// ErrInvalidFrameSize is returned by [Session.Process] when the frame length
// does not match the session's frame size. Frames are never padded or truncated.
var ErrInvalidFrameSize = errors.New("vad: invalid frame size")

// ErrClosed is returned by [Session.Process] after Close.
var ErrClosed = errors.New("vad: session closed")

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Silero supports 8000 and 16000.
	SampleRate int

	// SilenceThreshold is the peak amplitude at or above which the amplitude
	// backend reports speech. Range: (0.0, 1.0]. Typical: 0.01.
	SilenceThreshold float64
}

// FrameSize returns the number of samples per frame the Silero model expects
// at rate: 512 at 16 kHz and 256 at 8 kHz. It returns 0 for unsupported rates.
func FrameSize(rate int) int {
	switch rate {
	case 16000:
		return 512
	case 8000:
		return 256
	default:
		return 0
	}
}

// CheckFrame returns a wrapped [ErrInvalidFrameSize] when len(frame) != want.
func CheckFrame(frame []float32, want int) error {
	if len(frame) != want {
		return fmt.Errorf("%w: got %d samples, want %d", ErrInvalidFrameSize, len(frame), want)
	}
	return nil
}

// Session represents an active VAD session for a single audio stream. It is
// an interface so that test code can supply mock implementations without a live
// engine. Reset clears detection state without closing the session.
type Session interface {
	// Process evaluates one frame of normalized mono samples and returns the
	// speech probability in [0, 1]. The frame must contain exactly FrameSize()
	// samples.
	Process(frame []float32) (float32, error)

	// FrameSize returns the number of samples Process expects.
	FrameSize() int

	// Reset zeroes all recurrent state. Call it at the start of every capture
	// session; stale state from a prior stream biases detection.
	Reset()

	// Close releases all resources associated with the session. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each VAD backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may call
// NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new session with zeroed state.
	NewSession(cfg Config) (Session, error)

	// Name identifies the backend in logs and status messages.
	Name() string
}
