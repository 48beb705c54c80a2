package segment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/MrWong99/dictum/pkg/audio"
)

// IdleTracker is the reduced state machine used in manual mode: it only
// accumulates silence and reports once when the idle timeout is reached.
// Voice resets the counter.
type IdleTracker struct {
	timeout time.Duration
	idle    time.Duration
	fired   bool
}

// NewIdleTracker returns a tracker. A zero timeout never fires.
func NewIdleTracker(timeout time.Duration) *IdleTracker {
	return &IdleTracker{timeout: timeout}
}

// Observe accounts for one chunk of duration d. It returns true exactly once,
// on the first chunk where the idle counter reaches the timeout.
func (t *IdleTracker) Observe(d time.Duration, voiced bool) bool {
	if t.fired {
		return false
	}
	if voiced {
		t.idle = 0
		return false
	}
	t.idle += d
	if t.timeout > 0 && t.idle >= t.timeout {
		t.fired = true
		return true
	}
	return false
}

// Idle returns the running idle counter.
func (t *IdleTracker) Idle() time.Duration { return t.idle }

// Recorder captures one open-ended manual recording. There is no pause
// segmentation: everything captured between start and stop becomes a single
// clip.
type Recorder struct {
	src      audio.Source
	detector *Detector
	idle     *IdleTracker
}

// NewRecorder returns a Recorder that stops on its own after idleTimeout of
// continuous silence.
func NewRecorder(src audio.Source, det *Detector, idleTimeout time.Duration) *Recorder {
	return &Recorder{src: src, detector: det, idle: NewIdleTracker(idleTimeout)}
}

// Run records until ctx is cancelled, the source ends, or the idle timeout
// fires, and returns everything captured. On [CauseCaptureError] the partial
// clip is returned alongside the error.
func (r *Recorder) Run(ctx context.Context) (audio.Clip, Cause, error) {
	r.detector.Reset()
	f := r.src.Format()
	f.Channels = 1
	clip := audio.Clip{Format: f}

	for {
		if ctx.Err() != nil {
			return clip, CauseCancelled, nil
		}
		chunk, err := r.src.Read(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil, errors.Is(err, audio.ErrClosed):
				return clip, CauseCancelled, nil
			case errors.Is(err, io.EOF):
				return clip, CauseEOF, nil
			default:
				return clip, CauseCaptureError, fmt.Errorf("segment: capture: %w", err)
			}
		}
		clip.Samples = append(clip.Samples, chunk...)

		voiced, _, err := r.detector.Voiced(chunk)
		if err != nil {
			slog.Warn("segment: vad error during manual recording", "err", err)
			voiced = audio.Peak(chunk) >= r.detector.amplitude
		}
		if r.idle.Observe(f.Duration(len(chunk)), voiced) {
			slog.Info("segment: manual recording idle timeout", "idle", r.idle.Idle())
			return clip, CauseIdle, nil
		}
	}
}

// ManualSegment wraps a prepared manual recording as a [Segment]. The whole
// recording counts as voiced.
func ManualSegment(p audio.Prepared) Segment {
	return Segment{
		Samples:    p.Samples,
		SampleRate: p.SampleRate,
		Total:      p.Duration,
		Voiced:     p.Duration,
		Reason:     ReasonManual,
	}
}
