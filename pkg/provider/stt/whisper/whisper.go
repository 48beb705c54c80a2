// Package whisper provides whisper.cpp-backed recognizers.
//
// [Recognizer] talks to a running whisper-server binary, which exposes a REST
// API at POST /inference. Each call uploads one WAV segment as
// multipart/form-data and returns the decoded text.
//
// [NativeRecognizer] links whisper.cpp directly through its CGO bindings and
// skips the HTTP hop entirely.
//
// Usage:
//
//	r, err := whisper.New("http://localhost:8080", whisper.WithModel("base"))
//	res, err := r.Recognize(ctx, stt.Request{Audio: wav, Language: "en"})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/dictum/pkg/provider/stt"
)

const (
	defaultTimeout = 60 * time.Second

	// maxErrorBody bounds how much of a non-200 response is quoted in errors.
	maxErrorBody = 512
)

// Compile-time assertion that Recognizer implements stt.Recognizer.
var _ stt.Recognizer = (*Recognizer)(nil)

// Option is a functional option for configuring a Recognizer.
type Option func(*Recognizer)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with. This is the default.
func WithModel(model string) Option {
	return func(r *Recognizer) {
		r.model = model
	}
}

// WithHTTPClient replaces the HTTP client. The default client has a 60 s
// timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Recognizer) {
		r.httpClient = c
	}
}

// WithTemperature sets the decoding temperature sent with every request.
// Zero (the default) omits the field and lets the server decide.
func WithTemperature(t float64) Option {
	return func(r *Recognizer) {
		r.temperature = t
	}
}

// Recognizer implements stt.Recognizer backed by a whisper.cpp HTTP server.
// It holds no per-request state and is safe for concurrent use.
type Recognizer struct {
	serverURL   string
	model       string
	temperature float64
	httpClient  *http.Client
}

// New creates a Recognizer that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Recognizer, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	r := &Recognizer{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Recognize POSTs req.Audio to the /inference endpoint and returns the
// transcribed text.
func (r *Recognizer) Recognize(ctx context.Context, req stt.Request) (*stt.Result, error) {
	if len(req.Audio) == 0 {
		return nil, fmt.Errorf("whisper: %w", stt.ErrEmptyAudio)
	}

	body, contentType, err := r.form(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.serverURL+"/inference", body)
	if err != nil {
		return nil, fmt.Errorf("whisper: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("whisper: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(data))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return nil, fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, msg)
	}

	var result struct {
		Text     string  `json:"text"`
		Language string  `json:"language"`
		Duration float64 `json:"duration"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	lang := result.Language
	if lang == "" {
		lang = req.Language
	}
	return &stt.Result{
		Text:     strings.TrimSpace(result.Text),
		Language: lang,
		Duration: time.Duration(result.Duration * float64(time.Second)),
	}, nil
}

// form builds the multipart body for one inference request.
func (r *Recognizer) form(req stt.Request) (io.Reader, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(req.Audio); err != nil {
		return nil, "", fmt.Errorf("whisper: write wav data: %w", err)
	}

	fields := [][2]string{{"response_format", "json"}}
	if req.Language != "" {
		fields = append(fields, [2]string{"language", req.Language})
	} else {
		fields = append(fields, [2]string{"language", "auto"})
	}
	if r.model != "" {
		fields = append(fields, [2]string{"model", r.model})
	}
	if len(req.Keywords) > 0 {
		fields = append(fields, [2]string{"prompt", strings.Join(req.Keywords, ", ")})
	}
	if r.temperature > 0 {
		fields = append(fields, [2]string{"temperature", fmt.Sprintf("%.2f", r.temperature)})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("whisper: write %s field: %w", f[0], err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}
	return &body, mw.FormDataContentType(), nil
}
