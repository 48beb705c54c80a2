// Package openai enhances transcripts through any server speaking the OpenAI
// chat completions API: LM Studio, vLLM, llama.cpp's server or OpenAI itself.
package openai

import (
	"context"
	"errors"
	"fmt"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/dictum/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// Provider sends each prompt as a one-message chat completion.
type Provider struct {
	client oai.Client
	model  string
}

// New returns a Provider for model. apiKey may be empty for local servers
// that do not check it. baseURL must include the API prefix, e.g.
// "http://localhost:1234/v1/". Empty keeps the OpenAI endpoint.
func New(model, baseURL, apiKey string) (*Provider, error) {
	if model == "" {
		return nil, errors.New("openai: model must not be empty")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Provider{client: oai.NewClient(opts...), model: model}, nil
}

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.Request) (*llm.Reply, error) {
	resp, err := p.client.Chat.Completions.New(ctx, p.params(req))
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: %w", llm.ErrNoReply)
	}
	c := resp.Choices[0]
	return &llm.Reply{Text: c.Message.Content, Truncated: llm.Truncated(c.FinishReason)}, nil
}

func (p *Provider) params(req llm.Request) oai.ChatCompletionNewParams {
	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: []oai.ChatCompletionMessageParamUnion{oai.UserMessage(req.Prompt)},
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	return params
}
