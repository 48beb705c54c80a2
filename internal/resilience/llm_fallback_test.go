package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/dictum/pkg/provider/llm"
	llmmock "github.com/MrWong99/dictum/pkg/provider/llm/mock"
)

func TestLLMFallback_Complete_PrimarySuccess(t *testing.T) {
	primary := llmmock.Text("from primary")
	secondary := llmmock.Text("from secondary")

	fb := NewLLMFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	resp, err := fb.Complete(context.Background(), llm.Request{Prompt: "Fix grammar:\n\nhi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "from primary" {
		t.Fatalf("content = %q, want from primary", resp.Text)
	}
	if secondary.CallCount() != 0 {
		t.Fatalf("secondary called %d times, want 0", secondary.CallCount())
	}
}

func TestLLMFallback_Complete_Failover(t *testing.T) {
	primary := llmmock.Failing(errTest)
	secondary := llmmock.Text("from secondary")

	fb := NewLLMFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	resp, err := fb.Complete(context.Background(), llm.Request{Prompt: "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "from secondary" {
		t.Fatalf("content = %q, want from secondary", resp.Text)
	}
	if primary.CallCount() != 1 {
		t.Errorf("primary called %d times, want 1", primary.CallCount())
	}
}

func TestLLMFallback_Complete_AllFail(t *testing.T) {
	fb := NewLLMFallback(llmmock.Failing(errTest), "primary", FallbackConfig{})
	fb.AddFallback("secondary", llmmock.Failing(errTest))

	if _, err := fb.Complete(context.Background(), llm.Request{Prompt: "x"}); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestLLMFallback_Status(t *testing.T) {
	fb := NewLLMFallback(&llmmock.Provider{}, "openai", FallbackConfig{})
	fb.AddFallback("ollama", &llmmock.Provider{})

	status := fb.Status()
	if len(status) != 2 {
		t.Fatalf("len(status) = %d, want 2", len(status))
	}
	if status[0].Name != "openai" || status[1].Name != "ollama" {
		t.Errorf("status names = %q, %q", status[0].Name, status[1].Name)
	}
}
