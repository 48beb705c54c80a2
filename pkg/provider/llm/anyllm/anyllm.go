// Package anyllm enhances transcripts through github.com/mozilla-ai/any-llm-go,
// which fronts hosted models (OpenAI, Anthropic, Gemini, DeepSeek, Mistral,
// Groq) and local runtimes (Ollama, llama.cpp, llamafile) behind one API.
// The default enhancement backend is a local Ollama model.
package anyllm

import (
	"context"
	"fmt"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/dictum/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

type constructor func(...anyllmlib.Option) (anyllmlib.Provider, error)

// wrap adapts a concrete any-llm constructor to the common signature.
func wrap[P anyllmlib.Provider](fn func(...anyllmlib.Option) (P, error)) constructor {
	return func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
		return fn(opts...)
	}
}

var backends = map[string]constructor{
	"ollama":    wrap(ollama.New),
	"openai":    wrap(anyllmoai.New),
	"anthropic": wrap(anthropic.New),
	"gemini":    wrap(gemini.New),
	"deepseek":  wrap(deepseek.New),
	"mistral":   wrap(mistral.New),
	"groq":      wrap(groq.New),
	"llamacpp":  wrap(llamacpp.New),
	"llamafile": wrap(llamafile.New),
}

// Backends lists the backend names [New] accepts, sorted.
var Backends = func() []string {
	names := make([]string, 0, len(backends))
	for n := range backends {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}()

// Provider sends each prompt as a single user message to one backend.
type Provider struct {
	backend anyllmlib.Provider
	name    string
	model   string
}

// New returns a Provider for model on the named backend. Hosted backends
// read their API key from opts or, failing that, their usual environment
// variable such as ANTHROPIC_API_KEY.
func New(backend, model string, opts ...anyllmlib.Option) (*Provider, error) {
	name := strings.ToLower(backend)
	if model == "" {
		return nil, fmt.Errorf("anyllm: %s: model must not be empty", name)
	}
	ctor, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("anyllm: unknown backend %q (known: %s)", backend, strings.Join(Backends, ", "))
	}
	b, err := ctor(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s: %w", name, err)
	}
	return &Provider{backend: b, name: name, model: model}, nil
}

// Name returns the lower-cased backend name.
func (p *Provider) Name() string { return p.name }

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.Request) (*llm.Reply, error) {
	resp, err := p.backend.Completion(ctx, p.params(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: %s: %w", p.name, llm.ErrNoReply)
	}
	c := resp.Choices[0]
	return &llm.Reply{Text: c.Message.ContentString(), Truncated: llm.Truncated(c.FinishReason)}, nil
}

func (p *Provider) params(req llm.Request) anyllmlib.CompletionParams {
	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: []anyllmlib.Message{{Role: anyllmlib.RoleUser, Content: req.Prompt}},
	}
	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		n := req.MaxTokens
		params.MaxTokens = &n
	}
	return params
}
