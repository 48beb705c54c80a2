// Package deepgram provides a Deepgram-backed recognizer using the Deepgram
// streaming WebSocket API.
//
// Each Recognize call opens one live connection, streams the segment's WAV
// bytes as binary messages, sends CloseStream and collects every final
// result until the server closes the connection. Deepgram detects the WAV
// container itself, so no encoding parameters are sent.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/dictum/pkg/provider/stt"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"

	// chunkBytes is the size of each binary audio message.
	chunkBytes = 8 * 1024

	// keywordBoost is the intensifier attached to every vocabulary hint.
	keywordBoost = 2.0
)

// Compile-time assertion that Recognizer implements stt.Recognizer.
var _ stt.Recognizer = (*Recognizer)(nil)

// Option is a functional option for configuring the Deepgram Recognizer.
type Option func(*Recognizer)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(r *Recognizer) {
		r.model = model
	}
}

// WithEndpoint overrides the streaming endpoint URL. Used by tests and
// on-premises deployments.
func WithEndpoint(endpoint string) Option {
	return func(r *Recognizer) {
		r.endpoint = endpoint
	}
}

// Recognizer implements stt.Recognizer backed by the Deepgram streaming API.
type Recognizer struct {
	apiKey   string
	model    string
	endpoint string
}

// New creates a new Deepgram Recognizer. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Recognizer, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	r := &Recognizer{
		apiKey:   apiKey,
		model:    defaultModel,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Recognize streams req.Audio to Deepgram and joins all final results.
func (r *Recognizer) Recognize(ctx context.Context, req stt.Request) (*stt.Result, error) {
	if len(req.Audio) == 0 {
		return nil, fmt.Errorf("deepgram: %w", stt.ErrEmptyAudio)
	}

	wsURL, err := r.buildURL(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+r.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()

	type readResult struct {
		res *stt.Result
		err error
	}
	done := make(chan readResult, 1)
	go func() {
		res, err := collect(ctx, conn)
		done <- readResult{res, err}
	}()

	if err := send(ctx, conn, req.Audio); err != nil {
		return nil, err
	}

	select {
	case rr := <-done:
		if rr.err != nil {
			return nil, rr.err
		}
		if rr.res.Language == "" {
			rr.res.Language = req.Language
		}
		return rr.res, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("deepgram: %w", ctx.Err())
	}
}

// buildURL constructs the Deepgram streaming endpoint URL for one request.
func (r *Recognizer) buildURL(req stt.Request) (string, error) {
	u, err := url.Parse(r.endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", r.model)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	if req.Language != "" {
		q.Set("language", req.Language)
	}
	for _, kw := range req.Keywords {
		// Deepgram keyword format: word:boost (e.g., "Kubernetes:2")
		q.Add("keywords", fmt.Sprintf("%s:%g", kw, keywordBoost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// send streams wav in fixed-size binary messages followed by CloseStream.
func send(ctx context.Context, conn *websocket.Conn, wav []byte) error {
	for off := 0; off < len(wav); off += chunkBytes {
		end := min(off+chunkBytes, len(wav))
		if err := conn.Write(ctx, websocket.MessageBinary, wav[off:end]); err != nil {
			return fmt.Errorf("deepgram: write audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("deepgram: write close stream: %w", err)
	}
	return nil
}

// collect reads messages until the server closes the connection and returns
// the concatenated final transcripts.
func collect(ctx context.Context, conn *websocket.Conn) (*stt.Result, error) {
	var (
		parts []string
		res   stt.Result
	)
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				res.Text = strings.Join(parts, " ")
				return &res, nil
			}
			return nil, fmt.Errorf("deepgram: read: %w", err)
		}

		ev, ok := parseDeepgramResponse(msg)
		if !ok {
			continue
		}
		switch {
		case ev.metadata:
			res.Duration = ev.duration
		case ev.isFinal && ev.text != "":
			parts = append(parts, ev.text)
			if ev.language != "" {
				res.Language = ev.language
			}
		}
	}
}

// ---- wire format ----

// deepgramResponse is the JSON structure returned by Deepgram for Results and
// Metadata events.
type deepgramResponse struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string   `json:"transcript"`
			Confidence float64  `json:"confidence"`
			Languages  []string `json:"languages"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// event is the part of a Deepgram message the recognizer cares about.
type event struct {
	text     string
	language string
	isFinal  bool
	metadata bool
	duration time.Duration
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message. Returns
// (event, true) on success, or (zero, false) if the message should be ignored.
func parseDeepgramResponse(data []byte) (event, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return event{}, false
	}
	switch resp.Type {
	case "Metadata":
		return event{
			metadata: true,
			duration: time.Duration(resp.Duration * float64(time.Second)),
		}, true
	case "Results":
	default:
		return event{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return event{}, false
	}

	alt := resp.Channel.Alternatives[0]
	ev := event{
		text:    strings.TrimSpace(alt.Transcript),
		isFinal: resp.IsFinal,
	}
	if len(alt.Languages) > 0 {
		ev.language = alt.Languages[0]
	}
	return ev, true
}
