package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/MrWong99/dictum/internal/observe"
	"github.com/MrWong99/dictum/internal/segment"
	"github.com/MrWong99/dictum/pkg/audio"
	"github.com/MrWong99/dictum/pkg/provider/vad"
)

// recognitionRate is the sample rate every recognizer receives.
const recognitionRate = 16000

var (
	// ErrSessionActive is returned by Start while a session is running.
	ErrSessionActive = errors.New("app: a session is already active")

	// ErrNoSession is returned by Stop when nothing is running.
	ErrNoSession = errors.New("app: no active session")
)

// Mode selects how a session segments audio.
type Mode string

const (
	// ModeContinuous dispatches each utterance as soon as a pause ends it.
	ModeContinuous Mode = "continuous"

	// ModeManual records until stop or idle timeout and dispatches the whole
	// recording as one segment.
	ModeManual Mode = "manual"
)

// ParseMode maps a query value to a [Mode]. The empty string selects def.
func ParseMode(s string, def Mode) (Mode, error) {
	switch Mode(s) {
	case "":
		return def, nil
	case ModeContinuous, ModeManual:
		return Mode(s), nil
	}
	return "", fmt.Errorf("app: unknown mode %q; valid values: continuous, manual", s)
}

// SessionInfo describes a running capture session.
type SessionInfo struct {
	ID        string    `json:"id"`
	Mode      Mode      `json:"mode"`
	Device    string    `json:"device"`
	StartedAt time.Time `json:"started_at"`
}

// SessionState is what GET /session reports.
type SessionState struct {
	Active  bool         `json:"active"`
	Session *SessionInfo `json:"session,omitempty"`

	// LastEnd is how the previous session ended, e.g. "idle_timeout".
	LastEnd string `json:"last_end,omitempty"`
	// LastError is the capture error that ended the previous session, if any.
	LastError string `json:"last_error,omitempty"`
}

// Detection holds the VAD decision thresholds.
type Detection struct {
	Threshold        float64
	SilenceThreshold float64
}

// SessionManagerConfig holds the dependencies of a [SessionManager].
type SessionManagerConfig struct {
	VAD        vad.Engine
	OpenSource func(audio.SourceConfig) (audio.Source, error)
	Source     audio.SourceConfig
	Detection  Detection

	// Segmentation thresholds. SampleRate is taken from the opened source.
	Segmentation segment.Config

	// Sink returns where a session's segments go, tagged with its ID.
	Sink func(sessionID string) segment.Sink

	Metrics *observe.Metrics

	// OnStart and OnEnd run on the session goroutine and must not block.
	OnStart func(SessionInfo)
	OnEnd   func(SessionInfo, segment.Cause, error)

	// OnRejected receives manual recordings that failed validation, such as
	// too short or silent ones.
	OnRejected func(SessionInfo, error)
}

type running struct {
	info   SessionInfo
	cancel context.CancelFunc
	done   chan struct{}
}

// SessionManager owns the one active capture session. Only one session can be
// active at a time. All exported methods are safe for concurrent use.
type SessionManager struct {
	cfg SessionManagerConfig

	mu      sync.Mutex
	seg     segment.Config
	det     Detection
	active  *running
	lastEnd string
	lastErr string
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &SessionManager{cfg: cfg, seg: cfg.Segmentation, det: cfg.Detection}
}

// SetSegmentation replaces the thresholds used by sessions started from now
// on. A running session keeps the thresholds it started with.
func (sm *SessionManager) SetSegmentation(seg segment.Config, det Detection) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.seg = seg
	sm.det = det
}

// Start opens the capture source and begins a session in mode. The session
// runs detached from ctx's cancellation but keeps its values; end it with
// [SessionManager.Stop].
func (sm *SessionManager) Start(ctx context.Context, mode Mode) (SessionInfo, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.active != nil {
		return SessionInfo{}, fmt.Errorf("%w (id=%s)", ErrSessionActive, sm.active.info.ID)
	}

	src, err := sm.cfg.OpenSource(sm.cfg.Source)
	if err != nil {
		return SessionInfo{}, fmt.Errorf("app: open capture: %w", err)
	}
	rate := src.Format().SampleRate
	vs, err := sm.cfg.VAD.NewSession(vad.Config{SampleRate: rate, SilenceThreshold: sm.det.SilenceThreshold})
	if err != nil {
		src.Close()
		return SessionInfo{}, fmt.Errorf("app: open vad session: %w", err)
	}

	info := SessionInfo{
		ID:        xid.New().String(),
		Mode:      mode,
		Device:    sm.cfg.Source.Device,
		StartedAt: time.Now().UTC(),
	}
	seg := sm.seg
	seg.SampleRate = rate
	det := segment.NewDetector(vs, sm.det.Threshold, sm.det.SilenceThreshold)

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &running{info: info, cancel: cancel, done: make(chan struct{})}
	sm.active = r

	sm.cfg.Metrics.ActiveSessions.Add(sctx, 1)
	go sm.run(sctx, r, src, vs, det, seg)
	return info, nil
}

func (sm *SessionManager) run(ctx context.Context, r *running, src audio.Source, vs vad.Session, det *segment.Detector, seg segment.Config) {
	ctx, span := observe.StartSessionSpan(ctx, r.info.ID, string(r.info.Mode))
	log := observe.Logger(ctx)
	defer close(r.done)
	defer r.cancel()
	defer span.End()

	log.Info("session started", "mode", r.info.Mode, "device", r.info.Device, "sample_rate", seg.SampleRate)
	if sm.cfg.OnStart != nil {
		sm.cfg.OnStart(r.info)
	}

	sink := sm.cfg.Sink(r.info.ID)
	var (
		cause segment.Cause
		err   error
	)
	switch r.info.Mode {
	case ModeManual:
		cause, err = sm.record(ctx, r.info, src, det, seg.IdleTimeout, sink)
	default:
		loop := segment.NewLoop(src, det, segment.NewMachine(seg), sink, segment.WithMetrics(sm.cfg.Metrics))
		cause, err = loop.Run(ctx)
	}

	if cerr := vs.Close(); cerr != nil {
		log.Warn("close vad session", "err", cerr)
	}
	if cerr := src.Close(); cerr != nil {
		log.Warn("close capture source", "err", cerr)
	}
	sm.cfg.Metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)

	sm.mu.Lock()
	if sm.active == r {
		sm.active = nil
	}
	sm.lastEnd = cause.String()
	sm.lastErr = ""
	if err != nil {
		sm.lastErr = err.Error()
	}
	sm.mu.Unlock()

	span.SetAttributes(observe.SessionCauseKey.String(cause.String()))
	if err != nil {
		span.RecordError(err)
		log.Error("session ended by capture error", "err", err)
	} else {
		log.Info("session ended", "cause", cause)
	}
	if sm.cfg.OnEnd != nil {
		sm.cfg.OnEnd(r.info, cause, err)
	}
}

// record runs a manual recording and submits it as one segment. A capture
// error still submits what was recorded before the failure.
func (sm *SessionManager) record(ctx context.Context, info SessionInfo, src audio.Source, det *segment.Detector, idle time.Duration, sink segment.Sink) (segment.Cause, error) {
	clip, cause, err := segment.NewRecorder(src, det, idle).Run(ctx)

	prepared, perr := audio.Prepare(clip, recognitionRate)
	if perr != nil {
		observe.Logger(ctx).Info("manual recording rejected", "err", perr, "samples", len(clip.Samples))
		if sm.cfg.OnRejected != nil {
			sm.cfg.OnRejected(info, perr)
		}
		return cause, err
	}
	if prepared.Warning != "" {
		observe.Logger(ctx).Warn("manual recording", "warning", prepared.Warning)
	}
	sm.cfg.Metrics.RecordSegment(context.WithoutCancel(ctx), segment.ReasonManual.String())
	sink.Submit(segment.ManualSegment(prepared))
	return cause, err
}

// Stop ends the active session and waits for it to flush, bounded by ctx.
// Segments already dispatched keep processing and are still delivered.
func (sm *SessionManager) Stop(ctx context.Context) (SessionInfo, error) {
	sm.mu.Lock()
	r := sm.active
	sm.mu.Unlock()
	if r == nil {
		return SessionInfo{}, ErrNoSession
	}

	r.cancel()
	select {
	case <-r.done:
		return r.info, nil
	case <-ctx.Done():
		return r.info, fmt.Errorf("app: stop session %s: %w", r.info.ID, ctx.Err())
	}
}

// Toggle stops the active session or starts one in mode. It reports whether
// a session is running afterwards.
func (sm *SessionManager) Toggle(ctx context.Context, mode Mode) (bool, SessionInfo, error) {
	info, err := sm.Stop(ctx)
	if err == nil {
		return false, info, nil
	}
	if !errors.Is(err, ErrNoSession) {
		return true, info, err
	}
	info, err = sm.Start(ctx, mode)
	if errors.Is(err, ErrSessionActive) {
		// Lost a race with a concurrent Start; report the session that won.
		st := sm.State()
		if st.Session != nil {
			return true, *st.Session, nil
		}
	}
	return err == nil, info, err
}

// State returns a snapshot of the session state.
func (sm *SessionManager) State() SessionState {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	st := SessionState{LastEnd: sm.lastEnd, LastError: sm.lastErr}
	if sm.active != nil {
		info := sm.active.info
		st.Active = true
		st.Session = &info
	}
	return st
}

// IsActive reports whether a session is running.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.active != nil
}

// ActiveID returns the ID of the running session, or "".
func (sm *SessionManager) ActiveID() string {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.active == nil {
		return ""
	}
	return sm.active.info.ID
}

// Wait blocks until the active session (if any) has ended or ctx is done.
func (sm *SessionManager) Wait(ctx context.Context) error {
	sm.mu.Lock()
	r := sm.active
	sm.mu.Unlock()
	if r == nil {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
