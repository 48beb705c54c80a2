// Package delivery puts recognized text in front of the user. It owns the
// transcript, the overlay model and text injection into the focused
// application.
//
// All of that state lives on one goroutine, the [UI] loop. Other goroutines
// talk to it by message: [UI.Deliver] posts dispatcher events and the control
// methods post closures and wait for their result. Overlay auto-hide timers
// post back into the same loop, so no state is ever touched from a timer
// goroutine.
//
// Each text event is handled in order: append to the transcript, append to
// the overlay, notify renderers and queue the text for injection. Injection
// runs on a second goroutine started by [UI.Run] that types queued texts one
// after another, after a short settle delay, so a slow target application
// never holds up the overlay or status line. Continuous-mode text is
// followed by a space everywhere.
// Manual-mode text is followed by a newline in the transcript and overlay
// but injected bare.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/dictum/internal/dispatch"
	"github.com/MrWong99/dictum/internal/observe"
	"github.com/MrWong99/dictum/internal/segment"
)

// ErrStopped is returned by control methods once the loop has exited.
var ErrStopped = errors.New("delivery: ui loop stopped")

// Frame is what renderers draw after every change.
type Frame struct {
	Overlay OverlayState `json:"overlay"`
	Status  string       `json:"status"`

	// Appended is the text added by this change, if any.
	Appended string `json:"appended,omitempty"`
}

// Renderer draws frames. Render is called on the UI goroutine and must not
// block.
type Renderer interface {
	Render(Frame)
}

// RendererFunc adapts a function to [Renderer].
type RendererFunc func(Frame)

// Render calls f.
func (f RendererFunc) Render(fr Frame) { f(fr) }

// Snapshot is a consistent copy of the UI state.
type Snapshot struct {
	Overlay    OverlayState `json:"overlay"`
	Transcript string       `json:"transcript"`
	Status     string       `json:"status"`
	Injection  string       `json:"injection"`
	Delivered  uint64       `json:"delivered"`
}

// Config holds the runtime-adjustable UI settings.
type Config struct {
	Overlay        OverlayConfig
	OverlayEnabled bool

	InjectEnabled bool
	// Strategy is the name of the active injector, used in logs and metrics.
	Strategy string
	// SettleDelay is the pause before injecting so focus can settle.
	// Default: 50ms.
	SettleDelay time.Duration

	// NotifyFailures shows a desktop notification when recognition fails.
	NotifyFailures bool
}

// DefaultConfig returns the UI defaults.
func DefaultConfig() Config {
	return Config{
		Overlay:        DefaultOverlayConfig(),
		OverlayEnabled: true,
		InjectEnabled:  true,
		Strategy:       StrategyStandard,
		SettleDelay:    50 * time.Millisecond,
	}
}

// Option configures a [UI].
type Option func(*UI)

// WithConfig sets the initial settings.
func WithConfig(cfg Config) Option {
	return func(u *UI) { u.cfg = cfg }
}

// WithInjector sets the injector. Default: [Nop].
func WithInjector(inj Injector) Option {
	return func(u *UI) { u.injector = inj }
}

// WithRenderers adds renderers.
func WithRenderers(rs ...Renderer) Option {
	return func(u *UI) { u.renderers = append(u.renderers, rs...) }
}

// WithNotifier sets the desktop notifier used for recognition failures.
func WithNotifier(n Notifier) Option {
	return func(u *UI) { u.notifier = n }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(u *UI) { u.metrics = m }
}

// WithDeliveredHook registers fn to run on the UI goroutine after each text
// event has been delivered. fn must not block.
func WithDeliveredHook(fn func(dispatch.Event)) Option {
	return func(u *UI) { u.onDelivered = fn }
}

// UI is the single owner of transcript, overlay and injection state.
type UI struct {
	events  chan dispatch.Event
	calls   chan func()
	done    chan struct{}
	injects *injectQueue

	// Everything below is owned by the Run goroutine.
	cfg         Config
	injector    Injector
	renderers   []Renderer
	notifier    Notifier
	metrics     *observe.Metrics
	onDelivered func(dispatch.Event)

	overlay    *Overlay
	transcript Transcript
	status     string
	delivered  uint64
	hideTimer  *time.Timer
}

// NewUI creates a UI. Call [UI.Run] to start processing.
func NewUI(opts ...Option) *UI {
	u := &UI{
		events:   make(chan dispatch.Event, 64),
		calls:    make(chan func()),
		done:     make(chan struct{}),
		injects:  newInjectQueue(),
		cfg:      DefaultConfig(),
		injector: Nop{},
		notifier: NopNotifier{},
		metrics:  observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(u)
	}
	u.cfg = u.cfg.withDefaults()
	u.overlay = NewOverlay(u.cfg.Overlay)
	return u
}

func (c Config) withDefaults() Config {
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.Strategy == "" {
		c.Strategy = StrategyStandard
	}
	return c
}

// Run processes events and control calls until ctx is done. Events and
// injections still queued when ctx ends are dropped.
func (u *UI) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		u.runInjector(ctx)
	}()
	defer func() {
		if u.hideTimer != nil {
			u.hideTimer.Stop()
		}
		close(u.done)
		wg.Wait()
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-u.events:
			u.handle(ev)
		case fn := <-u.calls:
			fn()
		}
	}
}

// Deliver queues ev for delivery. It blocks only while the queue is full and
// returns immediately once the loop has stopped.
func (u *UI) Deliver(ev dispatch.Event) {
	select {
	case u.events <- ev:
	case <-u.done:
	}
}

// call runs fn on the loop and waits for it.
func (u *UI) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		fn()
		close(finished)
	}
	select {
	case u.calls <- wrapped:
	case <-u.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// post queues fn without waiting. Used by timers.
func (u *UI) post(fn func()) {
	select {
	case u.calls <- fn:
	case <-u.done:
	}
}

// ToggleOverlay shows or hides the overlay and returns the new visibility.
func (u *UI) ToggleOverlay(ctx context.Context) (bool, error) {
	var visible bool
	err := u.call(ctx, func() {
		visible = u.overlay.Toggle()
		if !visible {
			u.stopHideTimer()
		}
		u.render("")
	})
	return visible, err
}

// ClearText empties both the transcript and the overlay.
func (u *UI) ClearText(ctx context.Context) error {
	return u.call(ctx, func() {
		u.transcript.Clear()
		u.overlay.Clear()
		u.status = "Text cleared"
		u.render("")
	})
}

// SetStatus replaces the status line.
func (u *UI) SetStatus(ctx context.Context, status string) error {
	return u.call(ctx, func() {
		u.status = status
		u.render("")
	})
}

// Snapshot returns a copy of the current state.
func (u *UI) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := u.call(ctx, func() {
		s = Snapshot{
			Overlay:    u.overlay.Snapshot(),
			Transcript: u.transcript.Text(),
			Status:     u.status,
			Delivered:  u.delivered,
		}
		if u.cfg.InjectEnabled {
			s.Injection = u.cfg.Strategy
		} else {
			s.Injection = StrategyNone
		}
	})
	return s, err
}

// Reconfigure applies new settings. A nil injector keeps the current one.
func (u *UI) Reconfigure(ctx context.Context, cfg Config, inj Injector) error {
	return u.call(ctx, func() {
		u.cfg = cfg.withDefaults()
		u.overlay.Configure(u.cfg.Overlay)
		if inj != nil {
			u.injector = inj
		}
		u.render("")
	})
}

// suffixes returns the transcript and injection suffixes for an event.
func suffixes(reason segment.Reason) (display, inject string) {
	if reason == segment.ReasonManual {
		return "\n", ""
	}
	return " ", " "
}

func (u *UI) handle(ev dispatch.Event) {
	if !ev.HasText() {
		u.handleStatus(ev)
		return
	}

	display, injectSuffix := suffixes(ev.Reason)
	if u.cfg.InjectEnabled {
		u.injects.push(injectJob{
			text:     ev.Text + injectSuffix,
			injector: u.injector,
			strategy: u.cfg.Strategy,
			settle:   u.cfg.SettleDelay,
		})
	}

	shown := ev.Text + display
	u.transcript.Append(shown)
	if u.cfg.OverlayEnabled {
		gen := u.overlay.Append(shown)
		u.armHideTimer(gen)
	}

	u.delivered++
	u.status = fmt.Sprintf("Transcribed (%.1fs)", ev.Audio.Seconds())
	if msg := ev.StatusMessage(); msg != "" {
		u.status = msg
	}
	u.render(shown)

	if u.onDelivered != nil {
		u.onDelivered(ev)
	}
}

// handleStatus reports events without text.
func (u *UI) handleStatus(ev dispatch.Event) {
	msg := ev.StatusMessage()
	if msg == "" {
		return
	}
	u.status = msg
	if ev.Err != nil && u.cfg.NotifyFailures {
		if err := u.notifier.Notify("Dictum", msg); err != nil {
			slog.Debug("notification failed", "error", err)
		}
	}
	u.render("")
}

// injectJob is one text waiting to be typed. It carries the injector and
// settings that were current when its event was handled, so a later
// [UI.Reconfigure] does not race with the injection goroutine.
type injectJob struct {
	text     string
	injector Injector
	strategy string
	settle   time.Duration
}

// injectQueue is an unbounded FIFO between the UI loop and the injection
// goroutine. push never blocks.
type injectQueue struct {
	mu   sync.Mutex
	jobs []injectJob
	wake chan struct{}
}

func newInjectQueue() *injectQueue {
	return &injectQueue{wake: make(chan struct{}, 1)}
}

func (q *injectQueue) push(j injectJob) {
	q.mu.Lock()
	q.jobs = append(q.jobs, j)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// take removes and returns every queued job.
func (q *injectQueue) take() []injectJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs := q.jobs
	q.jobs = nil
	return jobs
}

// runInjector types queued texts in delivery order until ctx is done.
func (u *UI) runInjector(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-u.injects.wake:
		}
		for _, j := range u.injects.take() {
			if ctx.Err() != nil {
				return
			}
			u.inject(ctx, j)
		}
	}
}

func (u *UI) inject(ctx context.Context, j injectJob) {
	if err := sleep(ctx, j.settle); err != nil {
		return
	}
	start := time.Now()
	err := j.injector.Inject(ctx, j.text)
	u.metrics.InjectDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("strategy", j.strategy)))
	if err != nil {
		observe.Logger(ctx).Warn("text injection failed", "strategy", j.strategy, "error", err)
		u.metrics.RecordInjectFailure(ctx, j.strategy)
	}
}

func (u *UI) armHideTimer(gen uint64) {
	u.stopHideTimer()
	u.hideTimer = time.AfterFunc(u.cfg.Overlay.HideAfter, func() {
		u.post(func() {
			if u.overlay.AutoHide(gen) {
				u.render("")
			}
		})
	})
}

func (u *UI) stopHideTimer() {
	if u.hideTimer != nil {
		u.hideTimer.Stop()
		u.hideTimer = nil
	}
}

func (u *UI) render(appended string) {
	if len(u.renderers) == 0 {
		return
	}
	fr := Frame{Overlay: u.overlay.Snapshot(), Status: u.status, Appended: appended}
	for _, r := range u.renderers {
		r.Render(fr)
	}
}
