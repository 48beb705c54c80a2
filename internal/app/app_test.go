package app_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/dictum/internal/app"
	"github.com/MrWong99/dictum/internal/config"
	"github.com/MrWong99/dictum/internal/delivery"
	"github.com/MrWong99/dictum/internal/history"
	historymock "github.com/MrWong99/dictum/internal/history/mock"
	"github.com/MrWong99/dictum/pkg/audio"
	audiomock "github.com/MrWong99/dictum/pkg/audio/mock"
	llmmock "github.com/MrWong99/dictum/pkg/provider/llm/mock"
	"github.com/MrWong99/dictum/pkg/provider/stt"
	sttmock "github.com/MrWong99/dictum/pkg/provider/stt/mock"
	"github.com/MrWong99/dictum/pkg/provider/vad/energy"
)

type recordingInjector struct {
	mu    sync.Mutex
	texts []string
}

func (r *recordingInjector) ResolveTarget(context.Context) (delivery.Target, error) {
	return delivery.Target{Handle: 1, Focused: true}, nil
}

func (r *recordingInjector) Inject(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return nil
}

func (r *recordingInjector) Texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

// WaitTexts waits until n texts were injected. Injection runs behind the UI
// loop, so it may finish after the transcript shows the text.
func (r *recordingInjector) WaitTexts(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for len(r.Texts()) < n && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	return r.Texts()
}

type fixture struct {
	app       *app.App
	store     *historymock.Store
	injector  *recordingInjector
	recognize atomic.Int32
	copied    chan string
	srv       *httptest.Server
}

// newFixture builds an App around mocks. chunks is what every session reads
// before EOF; nil makes sessions block until stopped.
func newFixture(t *testing.T, chunks [][]float32, opts ...app.Option) *fixture {
	t.Helper()
	return newFixtureWith(t, chunks, nil, opts...)
}

// newFixtureWith is newFixture with a hook to adjust the components.
func newFixtureWith(t *testing.T, chunks [][]float32, adjust func(*app.Components), opts ...app.Option) *fixture {
	t.Helper()

	cfg := config.Default()
	cfg.Server.ListenAddr = ""
	cfg.Injection.SettleDelay = time.Millisecond
	cfg.Notifications.Enabled = false

	f := &fixture{
		store:    &historymock.Store{Appended: make(chan history.Entry, 8)},
		injector: &recordingInjector{},
		copied:   make(chan string, 1),
	}
	rec := &sttmock.Recognizer{RecognizeFunc: func(context.Context, stt.Request) (*stt.Result, error) {
		f.recognize.Add(1)
		return &stt.Result{Text: "hello world", Language: "en"}, nil
	}}
	comps := app.Components{
		Recognizer:     rec,
		RecognizerName: "mock",
		VAD:            energy.New(),
		OpenSource: func(audio.SourceConfig) (audio.Source, error) {
			return &audiomock.Source{Chunks: chunks, BlockWhenDrained: chunks == nil}, nil
		},
		Injector: f.injector,
		History:  f.store,
	}
	if adjust != nil {
		adjust(&comps)
	}
	opts = append([]app.Option{app.WithClipboardWriter(func(s string) error {
		f.copied <- s
		return nil
	})}, opts...)

	a, err := app.New(cfg, comps, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.app = a
	f.srv = httptest.NewServer(a.Handler())

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- a.Run(ctx) }()

	t.Cleanup(func() {
		f.srv.Close()
		cancel()
		if err := <-runDone; err != nil {
			t.Errorf("Run: %v", err)
		}
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := a.Shutdown(sctx); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := f.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, body
}

func (f *fixture) waitIdle(t *testing.T) app.SessionState {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.app.Sessions().Wait(ctx); err != nil {
		t.Fatalf("session did not end: %v", err)
	}
	return f.app.Sessions().State()
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	return v
}

func TestApp_DictationEndToEnd(t *testing.T) {
	t.Parallel()

	f := newFixture(t, audiomock.Concat(quiet(0.5), speech(2), quiet(2)))

	code, body := f.do(t, http.MethodPost, "/session/start?mode=continuous")
	if code != http.StatusOK {
		t.Fatalf("start = %d %s", code, body)
	}

	select {
	case e := <-f.store.Appended:
		if e.Text != "hello world" || e.Language != "en" {
			t.Errorf("history entry = %+v", e)
		}
		if e.SessionID == "" {
			t.Error("history entry has no session ID")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("nothing was delivered")
	}

	if st := f.waitIdle(t); st.LastEnd != "eof" {
		t.Errorf("last end = %q, want eof", st.LastEnd)
	}

	code, body = f.do(t, http.MethodGet, "/transcript")
	if code != http.StatusOK {
		t.Fatalf("transcript = %d %s", code, body)
	}
	snap := decode[delivery.Snapshot](t, body)
	if snap.Transcript != "hello world " {
		t.Errorf("transcript = %q, want %q", snap.Transcript, "hello world ")
	}
	if snap.Delivered != 1 {
		t.Errorf("delivered = %d, want 1", snap.Delivered)
	}
	if got := f.injector.WaitTexts(t, 1); len(got) != 1 || got[0] != "hello world " {
		t.Errorf("injected %q, want [\"hello world \"]", got)
	}
}

func TestApp_SubFloorNoiseDeliversNothing(t *testing.T) {
	t.Parallel()

	noise := audiomock.Repeat(audiomock.Tone(chunkSamples, 0.005), 8)
	f := newFixture(t, audiomock.Concat(quiet(1), noise, quiet(2)))

	if code, body := f.do(t, http.MethodPost, "/session/start"); code != http.StatusOK {
		t.Fatalf("start = %d %s", code, body)
	}
	f.waitIdle(t)

	if n := f.recognize.Load(); n != 0 {
		t.Errorf("recognizer called %d times, want 0", n)
	}
	_, body := f.do(t, http.MethodGet, "/transcript")
	if snap := decode[delivery.Snapshot](t, body); snap.Delivered != 0 || snap.Transcript != "" {
		t.Errorf("snapshot = %+v, want nothing delivered", snap)
	}
}

func TestApp_ManualRecordingEndsWithNewline(t *testing.T) {
	t.Parallel()

	f := newFixture(t, speech(1))
	if code, body := f.do(t, http.MethodPost, "/session/toggle?mode=manual"); code != http.StatusOK {
		t.Fatalf("toggle = %d %s", code, body)
	}
	select {
	case e := <-f.store.Appended:
		if e.Reason != "manual" {
			t.Errorf("reason = %q, want manual", e.Reason)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("nothing was delivered")
	}

	_, body := f.do(t, http.MethodGet, "/transcript")
	if snap := decode[delivery.Snapshot](t, body); snap.Transcript != "hello world\n" {
		t.Errorf("transcript = %q, want %q", snap.Transcript, "hello world\n")
	}
	if got := f.injector.WaitTexts(t, 1); len(got) != 1 || got[0] != "hello world" {
		t.Errorf("injected %q, want [\"hello world\"]", got)
	}
}

func TestApp_SessionEndpoints(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	tests := []struct {
		method, path string
		want         int
	}{
		{http.MethodPost, "/session/start?mode=push", http.StatusBadRequest},
		{http.MethodPost, "/session/stop", http.StatusConflict},
		{http.MethodPost, "/session/start?mode=manual", http.StatusOK},
		{http.MethodPost, "/session/start", http.StatusConflict},
		{http.MethodGet, "/session", http.StatusOK},
		{http.MethodPost, "/session/stop", http.StatusOK},
		{http.MethodPost, "/session/toggle", http.StatusOK},
		{http.MethodPost, "/session/toggle", http.StatusOK},
		{http.MethodGet, "/session/start", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		if code, body := f.do(t, tt.method, tt.path); code != tt.want {
			t.Errorf("%s %s = %d %s, want %d", tt.method, tt.path, code, body, tt.want)
		}
	}

	_, body := f.do(t, http.MethodGet, "/session")
	if st := decode[app.SessionState](t, body); st.Active {
		t.Errorf("state = %+v, want inactive after two toggles", st)
	}
}

func TestApp_OverlayAndTranscriptEndpoints(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	_, body := f.do(t, http.MethodPost, "/overlay/toggle")
	first := decode[map[string]bool](t, body)["visible"]
	_, body = f.do(t, http.MethodPost, "/overlay/toggle")
	if second := decode[map[string]bool](t, body)["visible"]; second == first {
		t.Errorf("toggle did not flip visibility: %v then %v", first, second)
	}

	if code, _ := f.do(t, http.MethodPost, "/transcript/copy"); code != http.StatusConflict {
		t.Errorf("copy of empty transcript = %d, want 409", code)
	}
	if code, _ := f.do(t, http.MethodPost, "/transcript/clear"); code != http.StatusNoContent {
		t.Errorf("clear = %d, want 204", code)
	}
	_, body = f.do(t, http.MethodGet, "/transcript")
	if snap := decode[delivery.Snapshot](t, body); snap.Status != "Text cleared" {
		t.Errorf("status = %q, want %q", snap.Status, "Text cleared")
	}
}

func TestApp_TranscriptCopy(t *testing.T) {
	t.Parallel()

	f := newFixture(t, speech(1))
	f.do(t, http.MethodPost, "/session/start?mode=manual")
	select {
	case <-f.store.Appended:
	case <-time.After(5 * time.Second):
		t.Fatal("nothing was delivered")
	}

	code, body := f.do(t, http.MethodPost, "/transcript/copy")
	if code != http.StatusOK {
		t.Fatalf("copy = %d %s", code, body)
	}
	if got := <-f.copied; got != "hello world\n" {
		t.Errorf("copied %q", got)
	}
}

func TestApp_HistoryEndpoint(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := context.Background()
	for _, text := range []string{"one", "two", "three"} {
		if err := f.store.Append(ctx, history.Entry{Text: text, Created: time.Now()}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	code, body := f.do(t, http.MethodGet, "/history?limit=2")
	if code != http.StatusOK {
		t.Fatalf("history = %d %s", code, body)
	}
	entries := decode[[]history.Entry](t, body)
	if len(entries) != 2 || entries[0].Text != "three" {
		t.Errorf("entries = %+v, want newest two", entries)
	}

	if code, _ := f.do(t, http.MethodGet, "/history?limit=zero"); code != http.StatusBadRequest {
		t.Errorf("bad limit = %d, want 400", code)
	}
}

func TestApp_HealthAndMetrics(t *testing.T) {
	t.Parallel()

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "dictum_up 1\n")
	})
	f := newFixture(t, nil, app.WithMetricsHandler(metrics))

	if code, body := f.do(t, http.MethodGet, "/readyz"); code != http.StatusOK {
		t.Errorf("readyz = %d %s", code, body)
	}
	code, body := f.do(t, http.MethodGet, "/metrics")
	if code != http.StatusOK || !strings.Contains(string(body), "dictum_up") {
		t.Errorf("metrics = %d %s", code, body)
	}
}

func TestApp_ApplyConfig(t *testing.T) {
	t.Parallel()

	var lv slog.LevelVar
	f := newFixture(t, nil, app.WithLevelVar(&lv))
	old := f.app.Config()

	next := config.Default()
	next.Server.ListenAddr = ""
	next.Server.LogLevel = config.LogDebug
	next.Overlay.Opacity = 0.5
	next.Segmentation.Continuous = false
	f.app.ApplyConfig(old, next)

	if lv.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", lv.Level())
	}
	if f.app.Config() != next {
		t.Error("Config() does not return the applied config")
	}
	_, body := f.do(t, http.MethodGet, "/transcript")
	if snap := decode[delivery.Snapshot](t, body); snap.Overlay.Opacity != 0.5 {
		t.Errorf("overlay opacity = %v, want 0.5", snap.Overlay.Opacity)
	}

	// The default mode follows segmentation.continuous.
	_, body = f.do(t, http.MethodPost, "/session/start")
	var started struct {
		Session app.SessionInfo `json:"session"`
	}
	if err := json.Unmarshal(body, &started); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if started.Session.Mode != app.ModeManual {
		t.Errorf("mode = %q, want manual", started.Session.Mode)
	}
}

func TestApp_EnablingEnhancementAtRuntime(t *testing.T) {
	t.Parallel()

	model := llmmock.Text("Hello, world.")
	f := newFixtureWith(t, audiomock.Concat(quiet(0.5), speech(2), quiet(2)), func(c *app.Components) {
		c.LLM = model
	})
	old := f.app.Config()
	if old.Enhancement.Enabled {
		t.Fatal("enhancement is enabled by default")
	}

	next := *old
	next.Enhancement.Enabled = true
	f.app.ApplyConfig(old, &next)

	if code, body := f.do(t, http.MethodPost, "/session/start?mode=continuous"); code != http.StatusOK {
		t.Fatalf("start = %d %s", code, body)
	}
	select {
	case e := <-f.store.Appended:
		if e.Text != "Hello, world." || e.RawText != "hello world" {
			t.Errorf("entry text = %q raw = %q, want enhanced text", e.Text, e.RawText)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("nothing was delivered")
	}
	if n := model.CallCount(); n != 1 {
		t.Errorf("language model called %d times, want 1", n)
	}
}

func TestNew_RequiresComponents(t *testing.T) {
	t.Parallel()

	open := func(audio.SourceConfig) (audio.Source, error) { return &audiomock.Source{}, nil }
	tests := []struct {
		name  string
		comps app.Components
	}{
		{"no recognizer", app.Components{VAD: energy.New(), OpenSource: open}},
		{"no vad", app.Components{Recognizer: &sttmock.Recognizer{}, OpenSource: open}},
		{"no source", app.Components{Recognizer: &sttmock.Recognizer{}, VAD: energy.New()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := app.New(config.Default(), tt.comps); err == nil {
				t.Error("New succeeded, want error")
			}
		})
	}
}

func TestShutdown_WithoutRunClosesStore(t *testing.T) {
	t.Parallel()

	store := &historymock.Store{}
	var closed atomic.Bool
	a, err := app.New(config.Default(), app.Components{
		Recognizer: &sttmock.Recognizer{},
		VAD:        energy.New(),
		OpenSource: func(audio.SourceConfig) (audio.Source, error) { return &audiomock.Source{}, nil },
		Injector:   delivery.Nop{},
		History:    store,
	}, app.WithCloser(func() error {
		closed.Store(true)
		return nil
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !closed.Load() {
		t.Error("registered closer did not run")
	}
	if !store.Closed() {
		t.Error("history store not closed")
	}
	// Second call is a no-op.
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}
