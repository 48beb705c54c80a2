package segment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/MrWong99/dictum/internal/observe"
	"github.com/MrWong99/dictum/pkg/audio"
	"github.com/MrWong99/dictum/pkg/provider/vad"
)

// Cause explains why [Loop.Run] returned.
type Cause int

const (
	// CauseCancelled means the session context was cancelled (user stop or
	// host shutdown).
	CauseCancelled Cause = iota

	// CauseIdle means the idle timeout elapsed with no speech.
	CauseIdle

	// CauseEOF means a finite source was exhausted.
	CauseEOF

	// CauseCaptureError means the capture source failed.
	CauseCaptureError
)

// String returns the log label of the cause.
func (c Cause) String() string {
	switch c {
	case CauseCancelled:
		return "cancelled"
	case CauseIdle:
		return "idle_timeout"
	case CauseEOF:
		return "eof"
	case CauseCaptureError:
		return "capture_error"
	default:
		return fmt.Sprintf("Cause(%d)", int(c))
	}
}

// Sink receives finalized segments. Submit must not block: it is called on
// the capture goroutine.
type Sink interface {
	Submit(seg Segment)
}

// SinkFunc adapts a function to [Sink].
type SinkFunc func(Segment)

// Submit calls f(seg).
func (f SinkFunc) Submit(seg Segment) { f(seg) }

// Detector turns one chunk into a voiced/silent decision.
type Detector struct {
	sess      vad.Session
	fb        *audio.FrameBuffer
	threshold float32
	amplitude float32
}

// NewDetector returns a Detector that runs sess on every complete frame in a
// chunk and reports voice when the highest probability reaches threshold. A
// chunk too short to yield any frame falls back to comparing its peak
// amplitude with silenceThreshold.
func NewDetector(sess vad.Session, threshold, silenceThreshold float64) *Detector {
	return &Detector{
		sess:      sess,
		fb:        audio.NewFrameBuffer(sess.FrameSize()),
		threshold: float32(threshold),
		amplitude: float32(silenceThreshold),
	}
}

// Reset zeroes VAD state and drops buffered samples.
func (d *Detector) Reset() {
	d.sess.Reset()
	d.fb.Reset()
}

// Voiced evaluates chunk. It returns the decision and the highest probability
// seen across the chunk's frames.
func (d *Detector) Voiced(chunk []float32) (bool, float32, error) {
	frames := d.fb.Push(chunk)
	if len(frames) == 0 {
		return audio.Peak(chunk) >= d.amplitude, 0, nil
	}
	var maxProb float32
	for _, f := range frames {
		p, err := d.sess.Process(f)
		if err != nil {
			return false, 0, err
		}
		maxProb = max(maxProb, p)
	}
	return maxProb >= d.threshold, maxProb, nil
}

// LoopOption is a functional option for [NewLoop].
type LoopOption func(*Loop)

// WithMetrics sets the metrics recorder. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) LoopOption {
	return func(l *Loop) { l.metrics = m }
}

// WithDiscardHook registers a callback for buffers rejected by the voice floor.
func WithDiscardHook(fn func(total, voiced time.Duration, reason Reason)) LoopOption {
	return func(l *Loop) { l.onDiscard = fn }
}

// WithPhaseHook registers a callback invoked on every phase transition.
func WithPhaseHook(fn func(Phase)) LoopOption {
	return func(l *Loop) { l.onPhase = fn }
}

// Loop is the continuous-mode capture loop. It owns its [Machine] and
// [Detector] exclusively; nothing else may touch them while Run executes.
type Loop struct {
	src      audio.Source
	detector *Detector
	machine  *Machine
	sink     Sink

	metrics   *observe.Metrics
	onDiscard func(total, voiced time.Duration, reason Reason)
	onPhase   func(Phase)
}

// NewLoop wires a source, detector, and machine to a sink.
func NewLoop(src audio.Source, det *Detector, m *Machine, sink Sink, opts ...LoopOption) *Loop {
	l := &Loop{src: src, detector: det, machine: m, sink: sink}
	for _, o := range opts {
		o(l)
	}
	if l.metrics == nil {
		l.metrics = observe.DefaultMetrics()
	}
	return l
}

// Run reads chunks until ctx is cancelled, the source ends, the idle timeout
// fires, or capture fails. It resets VAD state and the machine on entry and
// flushes any pending utterance on the way out. The returned error is non-nil
// only for [CauseCaptureError].
func (l *Loop) Run(ctx context.Context) (Cause, error) {
	l.detector.Reset()
	l.machine.Reset()
	phase := l.machine.Phase()

	for {
		if ctx.Err() != nil {
			l.flush(ctx)
			return CauseCancelled, nil
		}

		chunk, err := l.src.Read(ctx)
		if err != nil {
			l.flush(ctx)
			switch {
			case ctx.Err() != nil, errors.Is(err, audio.ErrClosed):
				return CauseCancelled, nil
			case errors.Is(err, io.EOF):
				return CauseEOF, nil
			default:
				return CauseCaptureError, fmt.Errorf("segment: capture: %w", err)
			}
		}

		start := time.Now()
		voiced, prob, err := l.detector.Voiced(chunk)
		l.metrics.VADDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			// A failing model must not end dictation; fall back for this chunk.
			slog.Warn("segment: vad error, using amplitude for chunk", "err", err)
			l.metrics.RecordVADFallback(ctx, "model_error")
			voiced = audio.Peak(chunk) >= l.detector.amplitude
		}

		actions := l.machine.Step(chunk, voiced)
		if p := l.machine.Phase(); p != phase {
			slog.Debug("segment: phase change", "from", phase, "to", p, "prob", prob)
			phase = p
			if l.onPhase != nil {
				l.onPhase(p)
			}
		}
		if l.apply(ctx, actions) {
			slog.Info("segment: idle timeout reached, stopping", "idle", l.machine.Idle())
			return CauseIdle, nil
		}
	}
}

func (l *Loop) flush(ctx context.Context) {
	l.apply(context.WithoutCancel(ctx), l.machine.Flush())
}

// apply hands actions to the sink and hooks. It reports whether a stop was
// requested.
func (l *Loop) apply(ctx context.Context, actions []Action) bool {
	stop := false
	for _, a := range actions {
		switch a.Kind {
		case ActionFinalize:
			seg := *a.Segment
			slog.Debug("segment: finalized",
				"reason", seg.Reason,
				"total", seg.Total,
				"voiced", seg.Voiced,
			)
			l.metrics.RecordSegment(ctx, seg.Reason.String())
			l.sink.Submit(seg)
		case ActionDiscard:
			slog.Debug("segment: discarded below voice floor",
				"reason", a.Reason,
				"total", a.Total,
				"voiced", a.Voiced,
			)
			l.metrics.RecordDiscard(ctx, a.Reason.String())
			if l.onDiscard != nil {
				l.onDiscard(a.Total, a.Voiced, a.Reason)
			}
		case ActionStop:
			stop = true
		}
	}
	return stop
}
