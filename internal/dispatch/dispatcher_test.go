package dispatch_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/dictum/internal/dispatch"
	"github.com/MrWong99/dictum/internal/enhance"
	"github.com/MrWong99/dictum/internal/observe"
	"github.com/MrWong99/dictum/internal/segment"
	"github.com/MrWong99/dictum/internal/vocab"
	"github.com/MrWong99/dictum/pkg/audio"
	"github.com/MrWong99/dictum/pkg/provider/stt"
	sttmock "github.com/MrWong99/dictum/pkg/provider/stt/mock"
)

const waitTimeout = 2 * time.Second

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// seg returns a pause segment of n samples at 16 kHz.
func seg(n int) segment.Segment {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = 0.1
	}
	f := audio.Format{SampleRate: 16000, Channels: 1}
	return segment.Segment{
		Samples:    samples,
		SampleRate: 16000,
		Total:      f.Duration(n),
		Voiced:     f.Duration(n),
		Reason:     segment.ReasonPause,
	}
}

// sampleCount decodes the WAV a recognizer received. It returns -1 when the
// payload is not a valid WAV.
func sampleCount(wav []byte) int {
	clip, err := audio.DecodeWAV(bytes.NewReader(wav))
	if err != nil {
		return -1
	}
	return len(clip.Samples)
}

// collector gathers delivered events.
type collector struct {
	ch chan dispatch.Event
}

func newCollector() *collector { return &collector{ch: make(chan dispatch.Event, 32)} }

func (c *collector) deliver(ev dispatch.Event) { c.ch <- ev }

func (c *collector) next(t *testing.T) dispatch.Event {
	t.Helper()
	select {
	case ev := <-c.ch:
		return ev
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for event")
		return dispatch.Event{}
	}
}

func (c *collector) none(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case ev := <-c.ch:
		t.Fatalf("unexpected event seq=%d text=%q", ev.Seq, ev.Text)
	case <-time.After(d):
	}
}

func closeDispatcher(t *testing.T, d *dispatch.Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Errorf("Close: %v", err)
	}
}

type fakeEnhancer struct {
	mu    sync.Mutex
	tasks []enhance.Task
	err   error
}

func (f *fakeEnhancer) Enhance(_ context.Context, text string, task enhance.Task) (string, error) {
	f.mu.Lock()
	f.tasks = append(f.tasks, task)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return strings.ToUpper(text), nil
}

func TestDispatcher_ReleasesInOrderUnderReversedCompletion(t *testing.T) {
	t.Parallel()

	gates := map[int]chan struct{}{
		1600: make(chan struct{}),
		3200: make(chan struct{}),
		4800: make(chan struct{}),
	}
	texts := map[int]string{1600: "one", 3200: "two", 4800: "three"}
	rec := &sttmock.Recognizer{RecognizeFunc: func(ctx context.Context, req stt.Request) (*stt.Result, error) {
		n := sampleCount(req.Audio)
		gate, ok := gates[n]
		if !ok {
			return nil, errors.New("unexpected segment length")
		}
		<-gate
		return &stt.Result{Text: texts[n]}, nil
	}}

	out := newCollector()
	d := dispatch.New(rec, out.deliver, dispatch.WithMetrics(testMetrics(t)))

	d.Submit(seg(1600))
	d.Submit(seg(3200))
	d.Submit(seg(4800))

	close(gates[4800])
	close(gates[3200])
	out.none(t, 100*time.Millisecond)

	close(gates[1600])
	var got []string
	for want := uint64(1); want <= 3; want++ {
		ev := out.next(t)
		if ev.Seq != want {
			t.Fatalf("event seq = %d, want %d", ev.Seq, want)
		}
		got = append(got, ev.Text)
	}
	if diff := cmp.Diff([]string{"one", "two", "three"}, got); diff != "" {
		t.Errorf("texts mismatch (-want +got):\n%s", diff)
	}
	closeDispatcher(t, d)
	if d.InFlight() != 0 {
		t.Errorf("InFlight() = %d, want 0", d.InFlight())
	}
}

func TestDispatcher_OneEventPerSegment(t *testing.T) {
	t.Parallel()

	rec := &sttmock.Recognizer{RecognizeFunc: func(ctx context.Context, req stt.Request) (*stt.Result, error) {
		switch sampleCount(req.Audio) {
		case 1600:
			return nil, errors.New("server unreachable")
		case 3200:
			return &stt.Result{Text: "   "}, nil
		default:
			return &stt.Result{Text: " hello ", Language: "en"}, nil
		}
	}}

	out := newCollector()
	d := dispatch.New(rec, out.deliver, dispatch.WithMetrics(testMetrics(t)))
	d.Submit(seg(1600))
	d.Submit(seg(3200))
	d.Submit(seg(4800))

	failed, empty, ok := out.next(t), out.next(t), out.next(t)
	closeDispatcher(t, d)

	if failed.Status() != dispatch.StatusFailed || failed.HasText() {
		t.Errorf("event 1 status = %q, want failed", failed.Status())
	}
	if msg := failed.StatusMessage(); !strings.HasPrefix(msg, "Recognition failed: ") || !strings.Contains(msg, "server unreachable") {
		t.Errorf("status message = %q", msg)
	}
	if empty.Status() != dispatch.StatusEmpty || empty.Err != nil {
		t.Errorf("event 2 = %+v, want empty without error", empty)
	}
	if ok.Status() != dispatch.StatusOK || ok.Text != "hello" || ok.Language != "en" {
		t.Errorf("event 3 = %+v, want text hello/en", ok)
	}
	if ok.Audio != 300*time.Millisecond || ok.Reason != segment.ReasonPause {
		t.Errorf("event 3 audio/reason = %v/%v", ok.Audio, ok.Reason)
	}
}

func TestDispatcher_EnhancementFailureKeepsText(t *testing.T) {
	t.Parallel()

	rec := &sttmock.Recognizer{Result: &stt.Result{Text: "keep me"}}
	enh := &fakeEnhancer{err: errors.New("ollama down")}
	out := newCollector()
	d := dispatch.New(rec, out.deliver,
		dispatch.WithMetrics(testMetrics(t)),
		dispatch.WithEnhancer(enh),
		dispatch.WithSettings(dispatch.Settings{Language: "auto", Enhance: true, Task: enhance.TaskSummarize}),
	)

	d.Submit(seg(1600))
	ev := out.next(t)
	closeDispatcher(t, d)

	if ev.Text != "keep me" || ev.Err != nil {
		t.Fatalf("event = %+v, want original text without error", ev)
	}
	if diff := cmp.Diff([]string{"Enhancement failed: ollama down"}, ev.Warnings); diff != "" {
		t.Errorf("warnings mismatch (-want +got):\n%s", diff)
	}
	if ev.StatusMessage() != "Enhancement failed: ollama down" {
		t.Errorf("status message = %q", ev.StatusMessage())
	}
	if diff := cmp.Diff([]enhance.Task{enhance.TaskSummarize}, enh.tasks); diff != "" {
		t.Errorf("tasks mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatcher_EnhancementAppliedWhenEnabled(t *testing.T) {
	t.Parallel()

	rec := &sttmock.Recognizer{Result: &stt.Result{Text: "quiet words"}}
	enh := &fakeEnhancer{}
	out := newCollector()
	d := dispatch.New(rec, out.deliver, dispatch.WithMetrics(testMetrics(t)), dispatch.WithEnhancer(enh))

	d.Submit(seg(1600))
	if ev := out.next(t); ev.Text != "quiet words" {
		t.Fatalf("text = %q with enhancement disabled", ev.Text)
	}

	d.SetSettings(dispatch.Settings{Language: "auto", Enhance: true, Task: enhance.TaskImprove})
	d.Submit(seg(1600))
	ev := out.next(t)
	closeDispatcher(t, d)

	if ev.Text != "QUIET WORDS" || ev.RawText != "quiet words" {
		t.Errorf("text/raw = %q/%q, want enhanced text and raw original", ev.Text, ev.RawText)
	}
	if len(ev.Warnings) != 0 {
		t.Errorf("warnings = %v, want none", ev.Warnings)
	}
}

func TestDispatcher_LanguageHint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		setting string
		want    string
	}{
		{"auto", ""},
		{"yue", "zh"},
		{"de", "de"},
	}
	for _, tt := range tests {
		t.Run(tt.setting, func(t *testing.T) {
			t.Parallel()

			rec := &sttmock.Recognizer{}
			out := newCollector()
			d := dispatch.New(rec, out.deliver,
				dispatch.WithMetrics(testMetrics(t)),
				dispatch.WithSettings(dispatch.Settings{Language: tt.setting}),
			)
			d.Submit(seg(1600))
			out.next(t)
			closeDispatcher(t, d)

			if got := rec.Requests()[0].Language; got != tt.want {
				t.Errorf("request language = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDispatcher_VocabularyCorrection(t *testing.T) {
	t.Parallel()

	rec := &sttmock.Recognizer{Result: &stt.Result{Text: "deploy on kubernetes"}}
	out := newCollector()
	d := dispatch.New(rec, out.deliver,
		dispatch.WithMetrics(testMetrics(t)),
		dispatch.WithVocabulary(vocab.New([]string{"Kubernetes"})),
	)

	d.Submit(seg(1600))
	ev := out.next(t)
	closeDispatcher(t, d)

	if ev.Text != "deploy on Kubernetes" || ev.RawText != "deploy on kubernetes" {
		t.Errorf("text/raw = %q/%q", ev.Text, ev.RawText)
	}
	if diff := cmp.Diff([]string{"Kubernetes"}, rec.Requests()[0].Keywords); diff != "" {
		t.Errorf("keywords mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatcher_SinkTagsSession(t *testing.T) {
	t.Parallel()

	out := newCollector()
	d := dispatch.New(&sttmock.Recognizer{Result: &stt.Result{Text: "hi"}}, out.deliver, dispatch.WithMetrics(testMetrics(t)))

	d.Sink("session-a").Submit(seg(1600))
	ev := out.next(t)
	closeDispatcher(t, d)

	if ev.SessionID != "session-a" {
		t.Errorf("SessionID = %q, want session-a", ev.SessionID)
	}
}

func TestDispatcher_CloseWaitsForInFlight(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	rec := &sttmock.Recognizer{RecognizeFunc: func(ctx context.Context, req stt.Request) (*stt.Result, error) {
		<-gate
		return &stt.Result{Text: "late"}, nil
	}}
	out := newCollector()
	d := dispatch.New(rec, out.deliver, dispatch.WithMetrics(testMetrics(t)))
	d.Submit(seg(1600))

	closed := make(chan error, 1)
	go func() { closed <- d.Close(context.Background()) }()

	select {
	case err := <-closed:
		t.Fatalf("Close returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	select {
	case err := <-closed:
		if err != nil {
			t.Fatalf("Close: %v", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("Close did not return")
	}
	if ev := out.next(t); ev.Text != "late" {
		t.Errorf("text = %q, want late", ev.Text)
	}
}

func TestDispatcher_CloseDeadlineCancelsWork(t *testing.T) {
	t.Parallel()

	rec := &sttmock.Recognizer{RecognizeFunc: func(ctx context.Context, req stt.Request) (*stt.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	out := newCollector()
	d := dispatch.New(rec, out.deliver, dispatch.WithMetrics(testMetrics(t)))
	d.Submit(seg(1600))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Close error = %v, want DeadlineExceeded", err)
	}

	ev := out.next(t)
	if !errors.Is(ev.Err, context.Canceled) {
		t.Errorf("event error = %v, want context.Canceled", ev.Err)
	}
}

func TestDispatcher_SubmitAfterClose(t *testing.T) {
	t.Parallel()

	rec := &sttmock.Recognizer{}
	out := newCollector()
	d := dispatch.New(rec, out.deliver, dispatch.WithMetrics(testMetrics(t)))
	closeDispatcher(t, d)

	d.Submit(seg(1600))
	ev := out.next(t)
	if !errors.Is(ev.Err, dispatch.ErrClosed) || ev.Seq != 1 {
		t.Errorf("event = %+v, want seq 1 with ErrClosed", ev)
	}
	if rec.CallCount() != 0 {
		t.Errorf("recognizer called %d times after close", rec.CallCount())
	}
}
