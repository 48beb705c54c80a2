// Package segment turns a stream of voiced/silent audio chunks into finalized
// speech segments.
//
// [Machine] is the pure Idle/Speaking state machine. It has no clock and no
// I/O: every duration is derived from sample counts, so the same input always
// yields the same segments. [Loop] drives a Machine from a capture source and
// a VAD session at the source's cadence, and [Recorder] implements the
// reduced manual mode that only watches for the idle timeout.
package segment

import (
	"errors"
	"fmt"
	"time"
)

// Phase is the state of a [Machine].
type Phase int

const (
	// PhaseIdle means no utterance is being accumulated.
	PhaseIdle Phase = iota

	// PhaseSpeaking means an utterance is being accumulated.
	PhaseSpeaking
)

// String returns the human-readable name of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSpeaking:
		return "speaking"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Reason records why a segment was finalized.
type Reason int

const (
	// ReasonPause means the silence after speech reached the pause threshold.
	ReasonPause Reason = iota

	// ReasonForceFlush means the buffer reached the maximum duration mid-speech.
	ReasonForceFlush

	// ReasonStop means the stream stopped while speaking.
	ReasonStop

	// ReasonManual means a manual recording was stopped.
	ReasonManual
)

// String returns the metric/log label of the reason.
func (r Reason) String() string {
	switch r {
	case ReasonPause:
		return "pause"
	case ReasonForceFlush:
		return "force_flush"
	case ReasonStop:
		return "stop"
	case ReasonManual:
		return "manual"
	default:
		return fmt.Sprintf("Reason(%d)", int(r))
	}
}

// Config holds the segmentation thresholds. All comparisons against these
// values are inclusive.
type Config struct {
	// SampleRate of the chunks passed to Step, in Hz.
	SampleRate int

	// PauseThreshold is the silence after speech that ends a segment.
	PauseThreshold time.Duration

	// VoiceFloor is the minimum voiced duration for a segment to be
	// dispatched instead of discarded as noise.
	VoiceFloor time.Duration

	// MaxBuffer forces a segment out while speech continues.
	MaxBuffer time.Duration

	// IdleTimeout ends the session after this much silence with no speech.
	// Zero disables the idle stop.
	IdleTimeout time.Duration

	// MinStopDuration is the minimum buffered audio flushed on stream stop.
	MinStopDuration time.Duration
}

// DefaultConfig returns the reference thresholds at 16 kHz.
func DefaultConfig() Config {
	return Config{
		SampleRate:      16000,
		PauseThreshold:  1500 * time.Millisecond,
		VoiceFloor:      500 * time.Millisecond,
		MaxBuffer:       30 * time.Second,
		IdleTimeout:     10 * time.Second,
		MinStopDuration: 300 * time.Millisecond,
	}
}

// Validate reports invalid thresholds.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("segment: sample rate must be positive, got %d", c.SampleRate))
	}
	if c.PauseThreshold <= 0 {
		errs = append(errs, fmt.Errorf("segment: pause threshold must be positive, got %v", c.PauseThreshold))
	}
	if c.VoiceFloor < 0 {
		errs = append(errs, fmt.Errorf("segment: voice floor must not be negative, got %v", c.VoiceFloor))
	}
	if c.MaxBuffer <= 0 {
		errs = append(errs, fmt.Errorf("segment: max buffer must be positive, got %v", c.MaxBuffer))
	}
	if c.IdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("segment: idle timeout must not be negative, got %v", c.IdleTimeout))
	}
	if c.MinStopDuration < 0 {
		errs = append(errs, fmt.Errorf("segment: min stop duration must not be negative, got %v", c.MinStopDuration))
	}
	return errors.Join(errs...)
}

// Segment is one finalized utterance. It is immutable once produced.
type Segment struct {
	Samples    []float32
	SampleRate int

	// Total is the duration of Samples.
	Total time.Duration

	// Voiced is Total minus the trailing silence counted at finalization.
	Voiced time.Duration

	Reason Reason
}

// ActionKind classifies an [Action].
type ActionKind int

const (
	// ActionFinalize carries a segment to dispatch.
	ActionFinalize ActionKind = iota

	// ActionDiscard reports a buffer dropped by the voice floor.
	ActionDiscard

	// ActionStop asks the host to end the session (idle timeout).
	ActionStop
)

// Action is an output of [Machine.Step] or [Machine.Flush].
type Action struct {
	Kind ActionKind

	// Segment is set for ActionFinalize.
	Segment *Segment

	// Total and Voiced describe the buffer for ActionDiscard.
	Total  time.Duration
	Voiced time.Duration

	// Reason is the finalization trigger for ActionFinalize and ActionDiscard.
	Reason Reason
}

// Machine is the segmentation state machine. It is owned by one goroutine
// and is not safe for concurrent use.
type Machine struct {
	cfg Config

	phase   Phase
	buf     []float32
	silence time.Duration
	idle    time.Duration
	halted  bool
}

// NewMachine returns a Machine in PhaseIdle.
func NewMachine(cfg Config) *Machine {
	return &Machine{cfg: cfg}
}

// Config returns the thresholds the machine was built with.
func (m *Machine) Config() Config { return m.cfg }

// Phase returns the current phase.
func (m *Machine) Phase() Phase { return m.phase }

// Buffered returns the duration of the in-progress utterance.
func (m *Machine) Buffered() time.Duration { return m.duration(len(m.buf)) }

// Idle returns the running idle counter.
func (m *Machine) Idle() time.Duration { return m.idle }

// Halted reports whether the machine has emitted ActionStop.
func (m *Machine) Halted() bool { return m.halted }

// Reset returns the machine to a fresh PhaseIdle state.
func (m *Machine) Reset() {
	m.phase = PhaseIdle
	m.buf = nil
	m.silence = 0
	m.idle = 0
	m.halted = false
}

func (m *Machine) duration(samples int) time.Duration {
	return time.Duration(samples) * time.Second / time.Duration(m.cfg.SampleRate)
}

// Step evaluates one chunk. voiced is the chunk-level detection decision.
// After ActionStop has been emitted Step does nothing until Reset.
func (m *Machine) Step(chunk []float32, voiced bool) []Action {
	if m.halted {
		return nil
	}
	d := m.duration(len(chunk))

	if voiced {
		m.idle = 0
		if m.phase == PhaseIdle {
			m.phase = PhaseSpeaking
			m.buf = nil
			m.silence = 0
		}
		m.buf = append(m.buf, chunk...)

		if m.Buffered() >= m.cfg.MaxBuffer {
			seg := m.take(ReasonForceFlush, m.Buffered())
			m.silence = 0
			return []Action{{Kind: ActionFinalize, Segment: seg, Reason: ReasonForceFlush}}
		}
		return nil
	}

	if m.phase == PhaseIdle {
		m.idle += d
		if m.cfg.IdleTimeout > 0 && m.idle >= m.cfg.IdleTimeout {
			m.halted = true
			return []Action{{Kind: ActionStop}}
		}
		return nil
	}

	m.buf = append(m.buf, chunk...)
	m.silence += d
	if m.silence < m.cfg.PauseThreshold {
		return nil
	}

	total := m.Buffered()
	voicedDur := total - m.silence
	var act Action
	if voicedDur < m.cfg.VoiceFloor {
		act = Action{Kind: ActionDiscard, Total: total, Voiced: voicedDur, Reason: ReasonPause}
	} else {
		act = Action{Kind: ActionFinalize, Segment: m.take(ReasonPause, voicedDur), Reason: ReasonPause}
	}
	m.buf = nil
	m.silence = 0
	m.idle = 0
	m.phase = PhaseIdle
	return []Action{act}
}

// Flush finalizes a pending utterance when the stream stops. It applies the
// voice floor and the minimum stop duration, and always leaves the machine
// in PhaseIdle with an empty buffer.
func (m *Machine) Flush() []Action {
	defer func() {
		m.buf = nil
		m.silence = 0
		m.phase = PhaseIdle
	}()
	if m.phase != PhaseSpeaking || len(m.buf) == 0 {
		return nil
	}

	total := m.Buffered()
	voicedDur := total - m.silence
	if voicedDur < m.cfg.VoiceFloor || total < m.cfg.MinStopDuration {
		return []Action{{Kind: ActionDiscard, Total: total, Voiced: voicedDur, Reason: ReasonStop}}
	}
	return []Action{{Kind: ActionFinalize, Segment: m.take(ReasonStop, voicedDur), Reason: ReasonStop}}
}

// take hands the current buffer to a new Segment and clears it.
func (m *Machine) take(reason Reason, voiced time.Duration) *Segment {
	seg := &Segment{
		Samples:    m.buf,
		SampleRate: m.cfg.SampleRate,
		Total:      m.Buffered(),
		Voiced:     voiced,
		Reason:     reason,
	}
	m.buf = nil
	return seg
}
