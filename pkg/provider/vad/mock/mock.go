// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify that sessions are created with the expected Config.
// Use Session to script speech probabilities and inspect the frames that were
// submitted for processing.
//
// Example:
//
//	sess := &mock.Session{Probabilities: []float32{0.1, 0.9, 0.9}}
//	eng := &mock.Engine{Session: sess}
//	handle, _ := eng.NewSession(cfg)
package mock

import (
	"sync"

	"github.com/MrWong99/dictum/pkg/provider/vad"
)

// NewSessionCall records a single invocation of Engine.NewSession.
type NewSessionCall struct {
	// Cfg is the Config passed to NewSession.
	Cfg vad.Config
}

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is the Session returned by NewSession. If nil, NewSession
	// returns a new default Session.
	Session vad.Session

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// EngineName is returned by Name. Defaults to "mock".
	EngineName string

	// NewSessionCalls records every call to NewSession in order.
	NewSessionCalls []NewSessionCall
}

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, NewSessionCall{Cfg: cfg})
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

// Name returns EngineName or "mock".
func (e *Engine) Name() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.EngineName == "" {
		return "mock"
	}
	return e.EngineName
}

// Ensure Engine implements vad.Engine at compile time.
var _ vad.Engine = (*Engine)(nil)

// Session is a mock implementation of vad.Session.
type Session struct {
	mu sync.Mutex

	// Probabilities are returned by successive Process calls. Once exhausted,
	// DefaultProbability is returned.
	Probabilities []float32

	// DefaultProbability is returned when Probabilities is exhausted.
	DefaultProbability float32

	// Size is returned by FrameSize. Defaults to 512.
	Size int

	// ProcessErr, if non-nil, is returned by every Process call.
	ProcessErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// Frames holds a copy of every frame passed to Process, in order.
	Frames [][]float32

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	next int
}

// Process records the frame and returns the next scripted probability.
func (s *Session) Process(frame []float32) (float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]float32, len(frame))
	copy(cp, frame)
	s.Frames = append(s.Frames, cp)
	if s.ProcessErr != nil {
		return 0, s.ProcessErr
	}
	if err := vad.CheckFrame(frame, s.frameSizeLocked()); err != nil {
		return 0, err
	}
	if s.next < len(s.Probabilities) {
		p := s.Probabilities[s.next]
		s.next++
		return p, nil
	}
	return s.DefaultProbability, nil
}

// FrameSize returns Size or 512.
func (s *Session) FrameSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frameSizeLocked()
}

func (s *Session) frameSizeLocked() int {
	if s.Size == 0 {
		return 512
	}
	return s.Size
}

// Reset records the call by incrementing ResetCallCount.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCallCount++
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// ProcessCallCount returns the number of frames processed so far.
func (s *Session) ProcessCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Frames)
}

// Ensure Session implements vad.Session at compile time.
var _ vad.Session = (*Session)(nil)
