// Package app wires the dictation pipeline into a running daemon.
//
// The App owns the full lifecycle: New connects capture, segmentation,
// dispatch and delivery; Run serves the control API and the UI loop until its
// context ends; Shutdown stops the session, drains in-flight segments and
// tears everything down in order.
//
// Tests inject mock components through [Components] and the functional
// options; nothing in New touches real devices unless asked to.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/dictum/internal/config"
	"github.com/MrWong99/dictum/internal/delivery"
	"github.com/MrWong99/dictum/internal/delivery/render"
	"github.com/MrWong99/dictum/internal/dispatch"
	"github.com/MrWong99/dictum/internal/enhance"
	"github.com/MrWong99/dictum/internal/health"
	"github.com/MrWong99/dictum/internal/history"
	"github.com/MrWong99/dictum/internal/observe"
	"github.com/MrWong99/dictum/internal/segment"
	"github.com/MrWong99/dictum/internal/vocab"
	"github.com/MrWong99/dictum/pkg/audio"
	"github.com/MrWong99/dictum/pkg/provider/llm"
	"github.com/MrWong99/dictum/pkg/provider/stt"
	"github.com/MrWong99/dictum/pkg/provider/vad"
)

// Components holds the constructed collaborators. Main fills it from the
// config registry; tests fill it with mocks. Nil optional fields fall back to
// harmless defaults.
type Components struct {
	Recognizer     stt.Recognizer
	RecognizerName string

	// RecognizerAvailable reports whether any recognizer can take work. Nil
	// means always available.
	RecognizerAvailable func() bool

	// LLM backs enhancement. Nil disables enhancement regardless of config.
	LLM llm.Provider

	VAD vad.Engine

	// VADFallback is true when the configured engine failed to load and the
	// energy detector replaced it.
	VADFallback bool

	OpenSource func(audio.SourceConfig) (audio.Source, error)

	// Injector overrides the injector built from config.
	Injector delivery.Injector

	History   history.Store
	Notifier  delivery.Notifier
	Cues      CuePlayer
	Renderers []delivery.Renderer
}

// CuePlayer plays the audible session start and stop cues.
type CuePlayer interface {
	Play(delivery.Cue) error
}

// App owns all subsystem lifetimes of the dictation daemon.
type App struct {
	comps          Components
	metrics        *observe.Metrics
	level          *slog.LevelVar
	metricsHandler http.Handler
	newInjector    func(delivery.InjectorConfig) (delivery.Injector, error)
	copyText       func(string) error

	mu  sync.Mutex
	cfg *config.Config

	ui         *delivery.UI
	dispatcher *dispatch.Dispatcher
	writer     *history.Writer
	sessions   *SessionManager
	feed       *render.Feed
	handler    http.Handler

	server    *http.Server
	cancelRun context.CancelFunc
	group     *errgroup.Group

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics sets the metrics recorder. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets config reloads change the log level of the handler
// built around lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithInjectorFactory replaces [delivery.NewInjector], which talks to the
// real clipboard and keyboard.
func WithInjectorFactory(fn func(delivery.InjectorConfig) (delivery.Injector, error)) Option {
	return func(a *App) { a.newInjector = fn }
}

// WithClipboardWriter replaces the system clipboard used by
// POST /transcript/copy.
func WithClipboardWriter(fn func(string) error) Option {
	return func(a *App) { a.copyText = fn }
}

// WithCloser registers fn to run during Shutdown after everything else has
// stopped. Main uses it for recognizers and engines that hold native
// resources.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// New wires cfg and comps into an App. It performs no I/O besides building
// the injector; capture starts with the first session.
func New(cfg *config.Config, comps Components, opts ...Option) (*App, error) {
	if comps.Recognizer == nil {
		return nil, errors.New("app: a recognizer is required")
	}
	if comps.VAD == nil {
		return nil, errors.New("app: a vad engine is required")
	}
	if comps.OpenSource == nil {
		return nil, errors.New("app: a capture source is required")
	}
	if comps.RecognizerName == "" {
		comps.RecognizerName = cfg.Recognition.Provider
	}
	if comps.History == nil {
		comps.History = history.Nop{}
	}
	if comps.Notifier == nil {
		comps.Notifier = delivery.NopNotifier{}
	}

	a := &App{
		cfg:         cfg,
		comps:       comps,
		newInjector: delivery.NewInjector,
		copyText:    clipboard.WriteAll,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if comps.VADFallback {
		a.metrics.RecordVADFallback(context.Background(), "engine_unavailable")
	}

	// ── 1. Delivery ──────────────────────────────────────────────────────
	inj, err := a.buildInjector(cfg)
	if err != nil {
		return nil, fmt.Errorf("app: build injector: %w", err)
	}
	a.writer = history.NewWriter(comps.History, 64)
	a.feed = render.NewFeed()
	renderers := append([]delivery.Renderer{a.feed}, comps.Renderers...)
	a.ui = delivery.NewUI(
		delivery.WithConfig(uiConfig(cfg)),
		delivery.WithInjector(inj),
		delivery.WithRenderers(renderers...),
		delivery.WithNotifier(comps.Notifier),
		delivery.WithMetrics(a.metrics),
		delivery.WithDeliveredHook(a.writer.Record),
	)

	// ── 2. Dispatch ──────────────────────────────────────────────────────
	dopts := []dispatch.Option{
		dispatch.WithSettings(dispatchSettings(cfg)),
		dispatch.WithMetrics(a.metrics),
		dispatch.WithRecognizerName(comps.RecognizerName),
		dispatch.WithTimeout(cfg.Recognition.Timeout),
	}
	if comps.LLM != nil {
		dopts = append(dopts, dispatch.WithEnhancer(enhance.New(comps.LLM)))
	}
	if v := vocabulary(cfg); v != nil {
		dopts = append(dopts, dispatch.WithVocabulary(v))
	}
	a.dispatcher = dispatch.New(comps.Recognizer, a.ui.Deliver, dopts...)

	// ── 3. Sessions ──────────────────────────────────────────────────────
	a.sessions = NewSessionManager(SessionManagerConfig{
		VAD:          comps.VAD,
		OpenSource:   comps.OpenSource,
		Source:       sourceConfig(cfg),
		Detection:    detection(cfg),
		Segmentation: segmentConfig(cfg),
		Sink:         a.dispatcher.Sink,
		Metrics:      a.metrics,
		OnStart:      a.sessionStarted,
		OnEnd:        a.sessionEnded,
		OnRejected:   a.recordingRejected,
	})

	// ── 4. Control API ───────────────────────────────────────────────────
	checks := []health.Checker{
		health.Recognizer(true, comps.RecognizerAvailable),
		health.VAD(cfg.VAD.Provider, !comps.VADFallback),
		health.Ping("history", comps.History),
	}
	a.handler = a.routes(health.New(checks...))

	a.closers = append([]func() error{comps.History.Close}, a.closers...)
	return a, nil
}

// Config returns the active configuration.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// UI returns the delivery loop.
func (a *App) UI() *delivery.UI { return a.ui }

// Handler returns the control API handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run starts the UI loop, the history writer and, when a listen address is
// configured, the control server. It blocks until ctx is cancelled or a
// component fails. Call [App.Shutdown] afterwards.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error { return a.ui.Run(gctx) })
	g.Go(func() error { return a.writer.Run(gctx) })

	cfg := a.Config().Server
	var srv *http.Server
	if cfg.ListenAddr != "" {
		ln, err := net.Listen("tcp", cfg.ListenAddr)
		if err != nil {
			cancel()
			_ = g.Wait()
			return fmt.Errorf("app: listen %s: %w", cfg.ListenAddr, err)
		}
		srv = &http.Server{Handler: a.handler, ReadHeaderTimeout: 10 * time.Second}
		slog.Info("control API listening", "addr", ln.Addr().String(), "tls", cfg.TLS != nil)
		g.Go(func() error {
			var err error
			if cfg.TLS != nil {
				err = srv.ServeTLS(ln, cfg.TLS.CertFile, cfg.TLS.KeyFile)
			} else {
				err = srv.Serve(ln)
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("app: control server: %w", err)
		})
	}

	a.mu.Lock()
	a.server, a.cancelRun, a.group = srv, cancel, g
	a.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil
	case <-gctx.Done():
		if err := context.Cause(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
}

// Shutdown stops the active session, waits for in-flight segments to be
// delivered (bounded by ctx), then stops the UI loop, drains the history
// writer and closes the stores. It is safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		if _, err := a.sessions.Stop(ctx); err != nil && !errors.Is(err, ErrNoSession) {
			errs = append(errs, err)
		}
		if err := a.dispatcher.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		a.mu.Lock()
		srv, cancel, g := a.server, a.cancelRun, a.group
		a.mu.Unlock()
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("app: shutdown control server: %w", err))
			}
		}
		if cancel != nil {
			cancel()
			if err := g.Wait(); err != nil {
				errs = append(errs, err)
			}
		}
		for _, c := range a.closers {
			if err := c(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// ApplyConfig applies the hot-reloadable parts of next. It is the
// [config.Watcher] callback.
func (a *App) ApplyConfig(old, next *config.Config) {
	d := config.Diff(old, next)
	a.mu.Lock()
	a.cfg = next
	a.mu.Unlock()

	if len(d.RestartRequired) > 0 {
		slog.Warn("config change needs a restart to take effect", "sections", d.RestartRequired)
	}
	if !d.Any() {
		return
	}

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.EnhancementChanged || d.LanguageChanged {
		a.dispatcher.SetSettings(dispatchSettings(next))
	}
	if d.EnhancementChanged && next.Enhancement.Enabled && a.comps.LLM == nil {
		slog.Warn("enhancement enabled but no language model was created at startup; restart to use it",
			"provider", next.Enhancement.Provider)
	}
	if d.VocabularyChanged {
		a.dispatcher.SetVocabulary(vocabulary(next))
	}
	if d.SegmentationChanged {
		a.sessions.SetSegmentation(segmentConfig(next), detection(next))
	}
	if d.OverlayChanged || d.InjectionChanged {
		var inj delivery.Injector
		if d.InjectionChanged {
			var err error
			if inj, err = a.buildInjector(next); err != nil {
				slog.Warn("keeping previous injector", "err", err)
				inj = nil
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := a.ui.Reconfigure(ctx, uiConfig(next), inj); err != nil {
			slog.Warn("reconfigure delivery", "err", err)
		}
	}
	slog.Info("configuration applied",
		"overlay", d.OverlayChanged,
		"injection", d.InjectionChanged,
		"enhancement", d.EnhancementChanged,
		"segmentation", d.SegmentationChanged,
	)
}

func (a *App) buildInjector(cfg *config.Config) (delivery.Injector, error) {
	if a.comps.Injector != nil {
		return a.comps.Injector, nil
	}
	if !cfg.Injection.Enabled {
		return delivery.Nop{}, nil
	}
	return a.newInjector(delivery.InjectorConfig{
		Strategy:         cfg.Injection.Strategy,
		CharDelay:        cfg.Injection.CharDelay,
		RestoreClipboard: cfg.Injection.RestoreClipboard,
	})
}

// ── Session hooks ────────────────────────────────────────────────────────────

func (a *App) sessionStarted(info SessionInfo) {
	a.setStatus(fmt.Sprintf("Listening (%s)", info.Mode))
	a.announce(delivery.CueStart, "Dictation started", fmt.Sprintf("%s mode", info.Mode))
}

func (a *App) sessionEnded(info SessionInfo, cause segment.Cause, err error) {
	status := "Stopped"
	switch {
	case err != nil:
		status = "Capture failed: " + err.Error()
	case cause == segment.CauseIdle:
		status = "Stopped after silence"
	}
	a.setStatus(status)
	a.announce(delivery.CueStop, "Dictation stopped", status)
}

func (a *App) recordingRejected(_ SessionInfo, err error) {
	a.setStatus("Recording not transcribed: " + err.Error())
}

// setStatus updates the status line without blocking a session goroutine for
// long when the UI loop is busy or gone.
func (a *App) setStatus(status string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.ui.SetStatus(ctx, status); err != nil && !errors.Is(err, delivery.ErrStopped) {
		slog.Debug("status update skipped", "status", status, "err", err)
	}
}

func (a *App) announce(cue delivery.Cue, title, message string) {
	cfg := a.Config().Notifications
	if cfg.Sound && a.comps.Cues != nil {
		if err := a.comps.Cues.Play(cue); err != nil {
			slog.Debug("audible cue failed", "err", err)
		}
	}
	if cfg.Enabled {
		if err := a.comps.Notifier.Notify(title, message); err != nil {
			slog.Debug("notification failed", "err", err)
		}
	}
}

// ── Config translation ───────────────────────────────────────────────────────

func sourceConfig(cfg *config.Config) audio.SourceConfig {
	return audio.SourceConfig{
		Device:     cfg.Audio.Device,
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
		Chunk:      cfg.Audio.Chunk(),
	}
}

func segmentConfig(cfg *config.Config) segment.Config {
	s := cfg.Segmentation
	return segment.Config{
		SampleRate:      cfg.Audio.SampleRate,
		PauseThreshold:  config.Seconds(s.PauseThreshold),
		VoiceFloor:      config.Seconds(s.VoiceFloor),
		MaxBuffer:       config.Seconds(s.MaxBufferDuration),
		IdleTimeout:     config.Seconds(s.IdleTimeout),
		MinStopDuration: config.Seconds(s.MinStopDuration),
	}
}

func detection(cfg *config.Config) Detection {
	return Detection{Threshold: cfg.VAD.Threshold, SilenceThreshold: cfg.VAD.SilenceThreshold}
}

func dispatchSettings(cfg *config.Config) dispatch.Settings {
	return dispatch.Settings{
		Language: cfg.Recognition.Language,
		Enhance:  cfg.Enhancement.Enabled,
		Task:     enhance.Task(cfg.Enhancement.Task),
	}
}

func vocabulary(cfg *config.Config) *vocab.Corrector {
	if len(cfg.Vocabulary.Terms) == 0 {
		return nil
	}
	return vocab.New(cfg.Vocabulary.Terms,
		vocab.WithPhoneticThreshold(cfg.Vocabulary.PhoneticThreshold),
		vocab.WithFuzzyThreshold(cfg.Vocabulary.FuzzyThreshold),
	)
}

func uiConfig(cfg *config.Config) delivery.Config {
	return delivery.Config{
		Overlay: delivery.OverlayConfig{
			MaxLines:  cfg.Overlay.MaxLines,
			FontSize:  cfg.Overlay.FontSize,
			Width:     cfg.Overlay.Width,
			Opacity:   cfg.Overlay.Opacity,
			Position:  delivery.Position(cfg.Overlay.Position),
			HideAfter: cfg.Overlay.HideAfter,
		},
		OverlayEnabled: cfg.Overlay.Enabled,
		InjectEnabled:  cfg.Injection.Enabled,
		Strategy:       cfg.Injection.Strategy,
		SettleDelay:    cfg.Injection.SettleDelay,
		NotifyFailures: cfg.Notifications.Enabled,
	}
}

// SlogLevel maps a configured level to its slog value.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
