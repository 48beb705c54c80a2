// Package energy provides an amplitude-threshold VAD backend.
//
// It is the fallback used when no inference runtime is available. A frame is
// reported as speech (probability 1) when its peak absolute sample reaches the
// configured silence threshold, and as silence (probability 0) otherwise. It
// uses the same frame size as the Silero model so the segmentation loop runs at
// an identical cadence whichever backend is active.
package energy

import (
	"fmt"
	"sync/atomic"

	"github.com/MrWong99/dictum/pkg/audio"
	"github.com/MrWong99/dictum/pkg/provider/vad"
)

// DefaultSilenceThreshold is used when Config.SilenceThreshold is zero.
const DefaultSilenceThreshold = 0.01

// Engine creates amplitude sessions.
type Engine struct{}

// New returns an amplitude VAD engine.
func New() *Engine { return &Engine{} }

// Name implements [vad.Engine].
func (*Engine) Name() string { return "amplitude" }

// NewSession implements [vad.Engine].
func (*Engine) NewSession(cfg vad.Config) (vad.Session, error) {
	size := vad.FrameSize(cfg.SampleRate)
	if size == 0 {
		return nil, fmt.Errorf("energy: unsupported sample rate %d", cfg.SampleRate)
	}
	th := cfg.SilenceThreshold
	if th == 0 {
		th = DefaultSilenceThreshold
	}
	if th < 0 || th > 1 {
		return nil, fmt.Errorf("energy: silence threshold %v out of range (0, 1]", th)
	}
	return &Session{size: size, threshold: float32(th)}, nil
}

// Session is a stateless amplitude detector.
type Session struct {
	size      int
	threshold float32
	closed    atomic.Bool
}

// Process implements [vad.Session].
func (s *Session) Process(frame []float32) (float32, error) {
	if s.closed.Load() {
		return 0, vad.ErrClosed
	}
	if err := vad.CheckFrame(frame, s.size); err != nil {
		return 0, err
	}
	if audio.Peak(frame) >= s.threshold {
		return 1, nil
	}
	return 0, nil
}

// FrameSize implements [vad.Session].
func (s *Session) FrameSize() int { return s.size }

// Reset implements [vad.Session]. The amplitude detector carries no state.
func (*Session) Reset() {}

// Close implements [vad.Session].
func (s *Session) Close() error {
	s.closed.Store(true)
	return nil
}

// Compile-time assertions.
var (
	_ vad.Engine  = (*Engine)(nil)
	_ vad.Session = (*Session)(nil)
)
