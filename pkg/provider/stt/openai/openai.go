// Package openai provides a recognizer backed by the OpenAI audio
// transcription API (whisper-1, gpt-4o-transcribe and compatible servers).
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/dictum/pkg/provider/stt"
)

// DefaultModel is used when New is called with an empty model.
const DefaultModel = "whisper-1"

// Compile-time assertion that Recognizer implements stt.Recognizer.
var _ stt.Recognizer = (*Recognizer)(nil)

// Recognizer implements stt.Recognizer using the OpenAI API.
type Recognizer struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the recognizer.
type config struct {
	baseURL    string
	timeout    time.Duration
	maxRetries int
}

// Option is a functional option for Recognizer.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Any server that
// implements POST /audio/transcriptions works.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithMaxRetries sets how often the SDK retries a failed request. Negative
// values keep the SDK default.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		c.maxRetries = n
	}
}

// New constructs a new OpenAI Recognizer.
func New(apiKey, model string, opts ...Option) (*Recognizer, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{maxRetries: -1}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}
	if cfg.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.maxRetries))
	}

	return &Recognizer{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Recognize implements stt.Recognizer.
func (r *Recognizer) Recognize(ctx context.Context, req stt.Request) (*stt.Result, error) {
	if len(req.Audio) == 0 {
		return nil, fmt.Errorf("openai: %w", stt.ErrEmptyAudio)
	}

	params := oai.AudioTranscriptionNewParams{
		File:  &wavFile{Reader: bytes.NewReader(req.Audio)},
		Model: oai.AudioModel(r.model),
	}
	if req.Language != "" {
		params.Language = oai.String(req.Language)
	}
	if len(req.Keywords) > 0 {
		params.Prompt = oai.String(strings.Join(req.Keywords, ", "))
	}

	resp, err := r.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: transcription: %w", err)
	}
	return &stt.Result{
		Text:     strings.TrimSpace(resp.Text),
		Language: req.Language,
	}, nil
}

// wavFile names the upload so the API can infer the container format from
// the extension.
type wavFile struct {
	*bytes.Reader
}

func (*wavFile) Filename() string    { return "audio.wav" }
func (*wavFile) Name() string        { return "audio.wav" }
func (*wavFile) ContentType() string { return "audio/wav" }
