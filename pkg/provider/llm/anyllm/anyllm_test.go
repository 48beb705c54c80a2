package anyllm

import (
	"slices"
	"strings"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/dictum/pkg/provider/llm"
)

func TestParams_PromptIsOnlyUserMessage(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "llama3.2"}
	params := p.params(llm.Request{Prompt: "Summarize this text in bullet points:\n\nhello"})

	if params.Model != "llama3.2" {
		t.Errorf("model = %q, want llama3.2", params.Model)
	}
	if len(params.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(params.Messages))
	}
	m := params.Messages[0]
	if m.Role != anyllmlib.RoleUser || m.ContentString() != "Summarize this text in bullet points:\n\nhello" {
		t.Errorf("message = %+v, want the prompt as user", m)
	}
}

func TestParams_OptionalKnobs(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "m"}
	if zero := p.params(llm.Request{Prompt: "x"}); zero.Temperature != nil || zero.MaxTokens != nil {
		t.Error("zero temperature and max tokens must stay unset")
	}

	set := p.params(llm.Request{Prompt: "x", Temperature: 0.2, MaxTokens: 256})
	if set.Temperature == nil || *set.Temperature != 0.2 {
		t.Errorf("temperature = %v, want 0.2", set.Temperature)
	}
	if set.MaxTokens == nil || *set.MaxTokens != 256 {
		t.Errorf("max tokens = %v, want 256", set.MaxTokens)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		model   string
		opts    []anyllmlib.Option
		wantErr bool
	}{
		{name: "ollama default", backend: "ollama", model: "llama3.2"},
		{name: "case insensitive", backend: "Ollama", model: "llama3.2"},
		{name: "local llama.cpp", backend: "llamacpp", model: "qwen"},
		{name: "hosted with key", backend: "anthropic", model: "claude-3-5-haiku-latest", opts: []anyllmlib.Option{anyllmlib.WithAPIKey("sk-ant-test")}},
		{name: "empty model", backend: "ollama", wantErr: true},
		{name: "unknown backend", backend: "whisper", model: "m", wantErr: true},
		{name: "hosted without key", backend: "openai", model: "gpt-4o-mini", wantErr: true},
	}
	t.Setenv("OPENAI_API_KEY", "")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.backend, tt.model, tt.opts...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New(%q, %q) err = %v, wantErr %v", tt.backend, tt.model, err, tt.wantErr)
			}
			if err == nil && p.Name() != strings.ToLower(tt.backend) {
				t.Errorf("Name() = %q, want %q", p.Name(), strings.ToLower(tt.backend))
			}
		})
	}
}

func TestBackends_MatchConfigChoices(t *testing.T) {
	t.Parallel()

	want := []string{"anthropic", "deepseek", "gemini", "groq", "llamacpp", "llamafile", "mistral", "ollama", "openai"}
	if !slices.Equal(Backends, want) {
		t.Errorf("Backends = %v, want %v", Backends, want)
	}
}
