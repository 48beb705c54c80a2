// This file contains the NativeRecognizer implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/dictum/pkg/audio"
	"github.com/MrWong99/dictum/pkg/provider/stt"
)

// modelSampleRate is the only input rate whisper models accept.
const modelSampleRate = 16000

// Compile-time assertion that NativeRecognizer satisfies stt.Recognizer.
var _ stt.Recognizer = (*NativeRecognizer)(nil)

// NativeRecognizer implements stt.Recognizer using whisper.cpp Go bindings
// (CGO). The model is loaded once at construction.
type NativeRecognizer struct {
	model   whisperlib.Model
	threads uint

	// whisper_full on a shared model context is not reentrant.
	mu sync.Mutex
}

// NativeOption is a functional option for configuring a NativeRecognizer.
type NativeOption func(*NativeRecognizer)

// WithThreads sets the number of CPU threads used per inference. Zero keeps
// the whisper.cpp default.
func WithThreads(n uint) NativeOption {
	return func(r *NativeRecognizer) { r.threads = n }
}

// NewNative creates a NativeRecognizer that loads the whisper.cpp model from
// the given file path. The caller must call Close when the recognizer is no
// longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeRecognizer, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	r := &NativeRecognizer{model: model}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Close releases the whisper model.
func (r *NativeRecognizer) Close() error {
	if r.model != nil {
		return r.model.Close()
	}
	return nil
}

// Recognize decodes req.Audio, converts it to 16 kHz mono and runs
// whisper.cpp inference on it. ctx is only checked before inference starts;
// whisper.cpp cannot be interrupted mid-run.
func (r *NativeRecognizer) Recognize(ctx context.Context, req stt.Request) (*stt.Result, error) {
	if len(req.Audio) == 0 {
		return nil, fmt.Errorf("whisper: %w", stt.ErrEmptyAudio)
	}
	samples, err := decodeMono16k(req.Audio)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}

	wctx, err := r.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}

	lang := req.Language
	if lang == "" {
		lang = "auto"
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
	}
	if r.threads > 0 {
		wctx.SetThreads(r.threads)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}

	detected := wctx.DetectedLanguage()
	if detected == "" {
		detected = req.Language
	}
	return &stt.Result{
		Text:     strings.Join(parts, " "),
		Language: detected,
		Duration: time.Duration(len(samples)) * time.Second / modelSampleRate,
	}, nil
}

// decodeMono16k turns a WAV file into the mono 16 kHz float32 samples the
// model expects.
func decodeMono16k(wav []byte) ([]float32, error) {
	clip, err := audio.DecodeWAV(bytes.NewReader(wav))
	if err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	mono := audio.MixToMono(clip.Samples, clip.Format.Channels)
	out, err := audio.Resample(mono, clip.Format.SampleRate, modelSampleRate)
	if err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	return out, nil
}
