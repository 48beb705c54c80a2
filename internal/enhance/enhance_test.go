package enhance_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/dictum/internal/enhance"
	"github.com/MrWong99/dictum/pkg/provider/llm"
	"github.com/MrWong99/dictum/pkg/provider/llm/mock"
)

func TestTask_Prompt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		task enhance.Task
		want string
	}{
		{enhance.TaskImprove, "Fix grammar and punctuation in this text, keeping the original meaning. Only return the corrected text:\n\nhello"},
		{enhance.TaskSummarize, "Summarize this text in bullet points:\n\nhello"},
		{enhance.TaskTranslate, "Translate this text to Spanish:\n\nhello"},
		{enhance.Task("poetry"), "Fix grammar and punctuation in this text, keeping the original meaning. Only return the corrected text:\n\nhello"},
	}
	for _, tt := range tests {
		t.Run(string(tt.task), func(t *testing.T) {
			t.Parallel()
			if got := tt.task.Prompt("hello"); got != tt.want {
				t.Errorf("Prompt() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTask_Valid(t *testing.T) {
	t.Parallel()

	for _, task := range enhance.Tasks() {
		if !task.Valid() {
			t.Errorf("%q.Valid() = false", task)
		}
	}
	if enhance.Task("").Valid() {
		t.Error(`"".Valid() = true`)
	}
}

func TestEnhance_SendsPrompt(t *testing.T) {
	t.Parallel()

	p := mock.Text("  Hello, world.  ")
	e := enhance.New(p, enhance.WithTemperature(0.4), enhance.WithMaxTokens(256))

	got, err := e.Enhance(context.Background(), "hello world", enhance.TaskImprove)
	if err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	if got != "Hello, world." {
		t.Errorf("Enhance = %q, want %q", got, "Hello, world.")
	}

	if p.CallCount() != 1 {
		t.Fatalf("Complete calls = %d, want 1", p.CallCount())
	}
	call := p.Calls()[0]
	req := call.Req
	if req.Prompt != enhance.TaskImprove.Prompt("hello world") {
		t.Errorf("prompt = %q, want the improve prompt", req.Prompt)
	}
	if !strings.HasSuffix(req.Prompt, "\n\nhello world") {
		t.Errorf("prompt = %q, want text appended after a blank line", req.Prompt)
	}
	if req.Temperature != 0.4 || req.MaxTokens != 256 {
		t.Errorf("temperature/max tokens = %v/%d, want 0.4/256", req.Temperature, req.MaxTokens)
	}
	if call.Deadline.IsZero() {
		t.Error("completion context has no deadline")
	}
}

func TestEnhance_StripsMarkdownFences(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"plain", "Fixed text.", "Fixed text."},
		{"bare fence", "```\nFixed text.\n```", "Fixed text."},
		{"tagged fence", "```markdown\n- one\n- two\n```", "- one\n- two"},
		{"inline fence", "```Fixed text.```", "Fixed text."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := mock.Text(tt.content)
			got, err := enhance.New(p).Enhance(context.Background(), "text", enhance.TaskSummarize)
			if err != nil {
				t.Fatalf("Enhance: %v", err)
			}
			if got != tt.want {
				t.Errorf("Enhance = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEnhance_BlankInputSkipsModel(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{}
	got, err := enhance.New(p).Enhance(context.Background(), "   ", enhance.TaskImprove)
	if err != nil || got != "   " {
		t.Fatalf("Enhance = %q, %v; want input unchanged", got, err)
	}
	if p.CallCount() != 0 {
		t.Errorf("Complete calls = %d, want 0", p.CallCount())
	}
}

func TestEnhance_BackendErrorIsUnavailable(t *testing.T) {
	t.Parallel()

	backendErr := errors.New("connection refused")
	p := mock.Failing(backendErr)

	_, err := enhance.New(p).Enhance(context.Background(), "text", enhance.TaskImprove)
	if !errors.Is(err, enhance.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if !errors.Is(err, backendErr) {
		t.Errorf("err = %v, want to wrap the backend error", err)
	}
}

func TestEnhance_EmptyResponse(t *testing.T) {
	t.Parallel()

	for name, p := range map[string]*mock.Provider{
		"nil response": {},
		"blank":        mock.Text("```\n```"),
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := enhance.New(p).Enhance(context.Background(), "text", enhance.TaskImprove)
			if !errors.Is(err, enhance.ErrEmptyResponse) {
				t.Fatalf("err = %v, want ErrEmptyResponse", err)
			}
		})
	}
}

func TestEnhance_Timeout(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Func: func(ctx context.Context, _ llm.Request) (*llm.Reply, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	_, err := enhance.New(p, enhance.WithTimeout(10*time.Millisecond)).Enhance(context.Background(), "text", enhance.TaskImprove)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
}

func TestEnhance_TruncatedReplyIsKept(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Reply: &llm.Reply{Text: "- first point\n- second", Truncated: true}}
	got, err := enhance.New(p, enhance.WithMaxTokens(16)).Enhance(context.Background(), "a long dictation", enhance.TaskSummarize)
	if err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	if got != "- first point\n- second" {
		t.Errorf("Enhance = %q, want the partial reply", got)
	}
}
