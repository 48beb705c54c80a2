package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/dictum/internal/config"
	"github.com/MrWong99/dictum/internal/history"
	historybadger "github.com/MrWong99/dictum/internal/history/badger"
	historypg "github.com/MrWong99/dictum/internal/history/postgres"
	"github.com/MrWong99/dictum/internal/resilience"
	"github.com/MrWong99/dictum/pkg/audio"
	"github.com/MrWong99/dictum/pkg/audio/malgo"
	"github.com/MrWong99/dictum/pkg/audio/portaudio"
	"github.com/MrWong99/dictum/pkg/provider/llm"
	"github.com/MrWong99/dictum/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/dictum/pkg/provider/llm/openai"
	"github.com/MrWong99/dictum/pkg/provider/stt"
	"github.com/MrWong99/dictum/pkg/provider/stt/deepgram"
	oastt "github.com/MrWong99/dictum/pkg/provider/stt/openai"
	"github.com/MrWong99/dictum/pkg/provider/stt/whisper"
	"github.com/MrWong99/dictum/pkg/provider/vad"
	"github.com/MrWong99/dictum/pkg/provider/vad/energy"
	"github.com/MrWong99/dictum/pkg/provider/vad/silero"
)

// registerBuiltinProviders wires every built-in factory into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Recognition ───────────────────────────────────────────────────────────

	reg.RegisterRecognizer("whisper", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterRecognizer("whisper-native", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		return whisper.NewNative(modelPath)
	})

	reg.RegisterRecognizer("openai", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		var opts []oastt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(entry.BaseURL))
		}
		return oastt.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterRecognizer("deepgram", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── Enhancement ───────────────────────────────────────────────────────────
	// Every any-llm backend shares the same shape: optional API key and
	// optional base URL. A local ollama server only needs the URL.
	for _, name := range anyllm.Backends {
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" && name != "ollama" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	// "openai-compatible" talks to any server with the OpenAI chat API through
	// the official SDK, e.g. LM Studio or vLLM.
	reg.RegisterLLM("openai-compatible", func(entry config.ProviderEntry) (llm.Provider, error) {
		return oallm.New(entry.Model, entry.BaseURL, entry.APIKey)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("silero", func(cfg config.VADConfig) (vad.Engine, error) {
		var opts []silero.Option
		if cfg.LibraryPath != "" {
			opts = append(opts, silero.WithLibraryPath(cfg.LibraryPath))
		}
		return silero.New(cfg.ModelPath, opts...)
	})

	reg.RegisterVAD("energy", func(config.VADConfig) (vad.Engine, error) {
		return energy.New(), nil
	})

	// ── Capture ───────────────────────────────────────────────────────────────

	reg.RegisterSource("portaudio", func(cfg audio.SourceConfig) (audio.Source, error) {
		return portaudio.Open(cfg)
	}, portaudio.Lister{})

	reg.RegisterSource("malgo", func(cfg audio.SourceConfig) (audio.Source, error) {
		return malgo.Open(cfg)
	}, malgo.Lister{})

	slog.Debug("registered providers", "recognizers", reg.Recognizers(), "llms", reg.LLMs())
}

// closers collects resources that must be released at shutdown.
type closers []func() error

func (c *closers) add(v any) {
	if cl, ok := v.(io.Closer); ok {
		*c = append(*c, cl.Close)
	}
}

func (c closers) closeAll() {
	for _, fn := range c {
		if err := fn(); err != nil {
			slog.Warn("close provider", "err", err)
		}
	}
}

var breakerConfig = resilience.FallbackConfig{CircuitBreaker: resilience.CircuitBreakerConfig{}}

// buildRecognizer creates the configured recognizer. With fallbacks it is
// wrapped in a circuit-breaking fallback chain; available reports whether any
// entry can take work.
func buildRecognizer(cfg *config.Config, reg *config.Registry, cl *closers) (rec stt.Recognizer, available func() bool, err error) {
	primary, err := reg.CreateRecognizer(cfg.Recognition.Entry())
	if err != nil {
		return nil, nil, fmt.Errorf("create recognizer %q: %w", cfg.Recognition.Provider, err)
	}
	cl.add(primary)
	slog.Info("provider created", "kind", "recognition", "name", cfg.Recognition.Provider)
	if len(cfg.Recognition.Fallbacks) == 0 {
		return primary, nil, nil
	}

	chain := resilience.NewRecognizerFallback(primary, cfg.Recognition.Provider, breakerConfig)
	for _, entry := range cfg.Recognition.Fallbacks {
		fb, err := reg.CreateRecognizer(entry)
		if err != nil {
			slog.Warn("skipping recognition fallback", "name", entry.Name, "err", err)
			continue
		}
		cl.add(fb)
		chain.AddFallback(entry.Name, fb)
		slog.Info("provider created", "kind", "recognition-fallback", "name", entry.Name)
	}
	return chain, chain.Available, nil
}

// buildLLM creates the enhancement model. The client is built even when
// enhancement is disabled so that enabling it in the config file takes effect
// without a restart. It returns nil when no provider is configured or the
// provider cannot be created; dictation works without it.
func buildLLM(cfg *config.Config, reg *config.Registry) llm.Provider {
	if cfg.Enhancement.Provider == "" {
		return nil
	}
	primary, err := reg.CreateLLM(cfg.Enhancement.Entry())
	if err != nil {
		log := slog.Debug
		if cfg.Enhancement.Enabled {
			log = slog.Warn
		}
		log("enhancement unavailable: cannot create language model", "name", cfg.Enhancement.Provider, "err", err)
		return nil
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.Enhancement.Provider, "model", cfg.Enhancement.Model)
	if len(cfg.Enhancement.Fallbacks) == 0 {
		return primary
	}

	chain := resilience.NewLLMFallback(primary, cfg.Enhancement.Provider, breakerConfig)
	for _, entry := range cfg.Enhancement.Fallbacks {
		fb, err := reg.CreateLLM(entry)
		if err != nil {
			slog.Warn("skipping llm fallback", "name", entry.Name, "err", err)
			continue
		}
		chain.AddFallback(entry.Name, fb)
	}
	return chain
}

// openVAD loads the configured engine. When it cannot be loaded, the energy
// detector takes over and fallback is true.
func openVAD(cfg *config.Config, reg *config.Registry, cl *closers) (engine vad.Engine, fallback bool) {
	engine, err := reg.CreateVAD(cfg.VAD)
	if err == nil {
		cl.add(engine)
		slog.Info("vad engine loaded", "name", engine.Name())
		return engine, false
	}
	slog.Warn("vad engine unavailable, using amplitude detection", "name", cfg.VAD.Provider, "err", err)
	return energy.New(), true
}

// openHistory opens the configured history store.
func openHistory(ctx context.Context, cfg config.HistoryConfig) (history.Store, error) {
	switch cfg.Backend {
	case config.HistoryBadger:
		return historybadger.Open(historybadger.Options{Dir: cfg.Path})
	case config.HistoryPostgres:
		return historypg.Open(ctx, cfg.DSN)
	default:
		return history.Nop{}, nil
	}
}

var errHistoryDisabled = errors.New("history is disabled; set history.backend to badger or postgres")

// optString extracts a string value from a provider Options map.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
