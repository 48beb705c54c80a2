// Package dispatch turns finalized speech segments into delivery events.
//
// [Dispatcher.Submit] never blocks the capture goroutine: each segment is
// recognized, corrected and optionally enhanced on its own goroutine, with no
// concurrency cap. Completed events pass through a reorder buffer and are
// handed to the delivery callback strictly in submission order, one event per
// submitted segment whether it succeeded, came back empty or failed.
//
// Work runs on a context owned by the dispatcher rather than the session, so
// stopping a session never cancels segments already in flight.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/dictum/internal/enhance"
	"github.com/MrWong99/dictum/internal/observe"
	"github.com/MrWong99/dictum/internal/segment"
	"github.com/MrWong99/dictum/internal/vocab"
	"github.com/MrWong99/dictum/pkg/audio"
	"github.com/MrWong99/dictum/pkg/provider/stt"
)

// ErrClosed is reported by events submitted after [Dispatcher.Close].
var ErrClosed = errors.New("dispatch: dispatcher closed")

const defaultTimeout = 2 * time.Minute

// Enhancer rewrites recognized text. [enhance.Enhancer] implements it.
type Enhancer interface {
	Enhance(ctx context.Context, text string, task enhance.Task) (string, error)
}

// Settings are the per-segment processing choices. They are captured when a
// segment is submitted, so a change applies to later segments only.
type Settings struct {
	// Language is the configured recognition language ("auto", "en", "yue"...).
	Language string

	// Enhance enables the language-model pass.
	Enhance bool

	// Task selects the enhancement prompt.
	Task enhance.Task
}

// Option is a functional option for [New].
type Option func(*Dispatcher)

// WithEnhancer sets the enhancement backend. Enhancement still only runs when
// [Settings.Enhance] is true.
func WithEnhancer(e Enhancer) Option {
	return func(d *Dispatcher) { d.enhancer = e }
}

// WithVocabulary sets the initial vocabulary corrector.
func WithVocabulary(v *vocab.Corrector) Option {
	return func(d *Dispatcher) { d.vocab.Store(v) }
}

// WithSettings sets the initial [Settings].
func WithSettings(s Settings) Option {
	return func(d *Dispatcher) { d.settings.Store(&s) }
}

// WithMetrics sets the metrics recorder. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithRecognizerName labels provider metrics. Default: "stt".
func WithRecognizerName(name string) Option {
	return func(d *Dispatcher) { d.recognizerName = name }
}

// WithTimeout bounds the whole processing of one segment. Default: 2m.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = timeout }
}

// Dispatcher runs recognition off the capture path and releases events in
// order. All methods are safe for concurrent use.
type Dispatcher struct {
	rec            stt.Recognizer
	deliver        func(Event)
	enhancer       Enhancer
	metrics        *observe.Metrics
	recognizerName string
	timeout        time.Duration

	settings atomic.Pointer[Settings]
	vocab    atomic.Pointer[vocab.Corrector]

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	seq      uint64
	order    *reorder
	closed   bool
	inFlight int

	// deliverMu is taken while mu is held so batches reach deliver in the
	// order they were released.
	deliverMu sync.Mutex
}

// New returns a Dispatcher that recognizes with rec and hands every event to
// deliver. deliver is called from dispatcher goroutines, one call at a time,
// and must not block for long.
func New(rec stt.Recognizer, deliver func(Event), opts ...Option) *Dispatcher {
	base, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		rec:            rec,
		deliver:        deliver,
		recognizerName: "stt",
		timeout:        defaultTimeout,
		base:           base,
		cancel:         cancel,
		order:          newReorder(1),
	}
	d.settings.Store(&Settings{Language: "auto", Task: enhance.TaskImprove})
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d
}

// Settings returns the current settings.
func (d *Dispatcher) Settings() Settings { return *d.settings.Load() }

// SetSettings replaces the settings used for segments submitted from now on.
func (d *Dispatcher) SetSettings(s Settings) { d.settings.Store(&s) }

// SetVocabulary replaces the vocabulary corrector. nil disables correction.
func (d *Dispatcher) SetVocabulary(v *vocab.Corrector) { d.vocab.Store(v) }

// InFlight returns the number of segments submitted but not yet released.
func (d *Dispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inFlight
}

// Submit implements [segment.Sink]. It assigns the next sequence number and
// returns immediately.
func (d *Dispatcher) Submit(seg segment.Segment) {
	d.submit("", seg)
}

// Sink returns a [segment.Sink] that tags events with sessionID.
func (d *Dispatcher) Sink(sessionID string) segment.Sink {
	return segment.SinkFunc(func(seg segment.Segment) { d.submit(sessionID, seg) })
}

func (d *Dispatcher) submit(sessionID string, seg segment.Segment) uint64 {
	d.mu.Lock()
	d.seq++
	seq := d.seq
	d.inFlight++
	closed := d.closed
	if !closed {
		d.wg.Add(1)
	}
	d.mu.Unlock()

	j := job{
		seq:       seq,
		sessionID: sessionID,
		seg:       seg,
		settings:  d.Settings(),
		vocab:     d.vocab.Load(),
	}
	if closed {
		// The sequence must not stall even for a late submit.
		d.complete(j.event(ErrClosed))
		return seq
	}

	d.metrics.DispatchInFlight.Add(d.base, 1)
	go func() {
		defer d.wg.Done()
		defer d.metrics.DispatchInFlight.Add(context.Background(), -1)
		d.complete(d.process(j))
	}()
	return seq
}

// job is everything a dispatcher goroutine needs, captured at submit time.
type job struct {
	seq       uint64
	sessionID string
	seg       segment.Segment
	settings  Settings
	vocab     *vocab.Corrector
}

func (j job) event(err error) Event {
	return Event{
		Seq:       j.seq,
		SessionID: j.sessionID,
		Reason:    j.seg.Reason,
		Audio:     j.seg.Total,
		Err:       err,
	}
}

// process runs the recognition pipeline for one segment. It always returns an
// event; failures are carried in it.
func (d *Dispatcher) process(j job) (ev Event) {
	ctx := d.base
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	ctx, span := observe.StartSegmentSpan(ctx, observe.SegmentSpan{
		SessionID: j.sessionID,
		Seq:       j.seq,
		Reason:    j.seg.Reason.String(),
		Audio:     j.seg.Total,
		Voiced:    j.seg.Voiced,
	})
	log := observe.Logger(ctx)

	ev = j.event(nil)
	defer func() {
		if r := recover(); r != nil {
			ev = j.event(fmt.Errorf("dispatch: panic: %v", r))
		}
		span.SetAttributes(observe.SegmentStatusKey.String(ev.Status()))
		if ev.Err != nil {
			span.SetStatus(codes.Error, ev.Err.Error())
		}
		span.End()
	}()

	wav, err := audio.EncodeWAV(j.seg.Samples, audio.Format{SampleRate: j.seg.SampleRate, Channels: 1})
	if err != nil {
		ev.Err = fmt.Errorf("dispatch: encode: %w", err)
		return ev
	}

	req := stt.Request{Audio: wav, Language: stt.HintLanguage(j.settings.Language)}
	if j.vocab != nil {
		req.Keywords = j.vocab.Terms()
	}

	start := time.Now()
	res, err := d.rec.Recognize(ctx, req)
	d.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		d.metrics.RecordProviderRequest(ctx, d.recognizerName, "stt", "error")
		d.metrics.RecordProviderError(ctx, d.recognizerName, "stt")
		log.Warn("dispatch: recognition failed", "err", err)
		span.RecordError(err)
		ev.Err = fmt.Errorf("dispatch: recognize: %w", err)
		return ev
	}
	d.metrics.RecordProviderRequest(ctx, d.recognizerName, "stt", "ok")

	text := strings.TrimSpace(res.Text)
	ev.RawText = text
	ev.Language = res.Language
	if text == "" {
		log.Debug("dispatch: no speech recognized")
		return ev
	}

	if j.vocab != nil {
		var subs []vocab.Substitution
		text, subs = j.vocab.Correct(text)
		for _, s := range subs {
			log.Debug("dispatch: vocabulary correction", "from", s.Original, "to", s.Term, "score", s.Confidence)
		}
	}

	if j.settings.Enhance && d.enhancer != nil {
		start := time.Now()
		out, err := d.enhancer.Enhance(ctx, text, j.settings.Task)
		d.metrics.EnhanceDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			d.metrics.RecordProviderError(ctx, "llm", "enhance")
			d.metrics.RecordEnhanceFailure(ctx, string(j.settings.Task))
			log.Warn("dispatch: enhancement failed, keeping recognized text", "task", j.settings.Task, "err", err)
			ev.Warnings = append(ev.Warnings, "Enhancement failed: "+err.Error())
		} else {
			text = out
		}
	}

	ev.Text = text
	return ev
}

// complete hands ev to the reorder buffer and delivers whatever became
// releasable.
func (d *Dispatcher) complete(ev Event) {
	ev.Completed = time.Now()

	d.mu.Lock()
	held := d.order.waiting()
	ready := d.order.add(ev)
	d.inFlight -= len(ready)
	d.metrics.DispatchHeld.Add(context.Background(), int64(d.order.waiting()-held))
	if len(ready) == 0 {
		d.mu.Unlock()
		return
	}
	d.deliverMu.Lock()
	d.mu.Unlock()
	defer d.deliverMu.Unlock()

	for _, e := range ready {
		d.metrics.RecordDelivery(context.Background(), e.Status())
		if d.deliver != nil {
			d.deliver(e)
		}
	}
}

// Close stops accepting work and waits for in-flight segments, bounded by
// ctx. When ctx ends first the remaining work is cancelled and Close returns
// without waiting for it; those events are still delivered as failures.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		slog.Warn("dispatch: shutdown deadline reached, cancelling in-flight segments", "in_flight", d.InFlight())
		d.cancel()
		return fmt.Errorf("dispatch: close: %w", ctx.Err())
	}
}
