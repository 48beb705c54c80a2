package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"recognition": {"whisper", "whisper-native", "openai", "deepgram"},
	"llm":         {"ollama", "openai", "anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile", "openai-compatible"},
	"vad":         {"silero", "energy"},
	"audio":       {"portaudio", "malgo"},
}

var (
	validTasks      = []string{"improve", "summarize", "translate"}
	validStrategies = []string{"standard", "compat", "none"}
	validPositions  = []string{"bottom-right", "bottom-left", "top-right", "top-left"}
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over [Default], applies
// defaults to whatever the document zeroed, and validates the result.
// An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Audio
	if cfg.Audio.SampleRate != 8000 && cfg.Audio.SampleRate != 16000 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is invalid; valid values: 8000, 16000", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels < 1 {
		errs = append(errs, fmt.Errorf("audio.channels %d must be at least 1", cfg.Audio.Channels))
	}
	if cfg.Audio.ChunkMS < 10 || cfg.Audio.ChunkMS > 1000 {
		errs = append(errs, fmt.Errorf("audio.chunk_ms %d is out of range [10, 1000]", cfg.Audio.ChunkMS))
	}

	// VAD
	if cfg.VAD.Threshold <= 0 || cfg.VAD.Threshold > 1 {
		errs = append(errs, fmt.Errorf("vad.threshold %.2f is out of range (0, 1]", cfg.VAD.Threshold))
	}
	if cfg.VAD.SilenceThreshold <= 0 || cfg.VAD.SilenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("vad.silence_threshold %.3f is out of range (0, 1]", cfg.VAD.SilenceThreshold))
	}

	// Segmentation
	seg := cfg.Segmentation
	if seg.PauseThreshold <= 0 {
		errs = append(errs, fmt.Errorf("segmentation.pause_threshold %.2f must be positive", seg.PauseThreshold))
	}
	if seg.VoiceFloor < 0 {
		errs = append(errs, fmt.Errorf("segmentation.voice_floor %.2f must not be negative", seg.VoiceFloor))
	}
	if seg.MaxBufferDuration <= seg.VoiceFloor {
		errs = append(errs, fmt.Errorf("segmentation.max_buffer_duration %.2f must exceed voice_floor %.2f", seg.MaxBufferDuration, seg.VoiceFloor))
	}
	if seg.IdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("segmentation.idle_timeout %.2f must not be negative", seg.IdleTimeout))
	}
	if seg.MinStopDuration < 0 {
		errs = append(errs, fmt.Errorf("segmentation.min_stop_duration %.2f must not be negative", seg.MinStopDuration))
	}

	// Provider name validation: warn for unknown provider names.
	validateProviderName("recognition", cfg.Recognition.Provider)
	for _, fb := range cfg.Recognition.Fallbacks {
		validateProviderName("recognition", fb.Name)
	}
	validateProviderName("llm", cfg.Enhancement.Provider)
	for _, fb := range cfg.Enhancement.Fallbacks {
		validateProviderName("llm", fb.Name)
	}
	validateProviderName("vad", cfg.VAD.Provider)
	validateProviderName("audio", cfg.Audio.Backend)

	for i, fb := range cfg.Recognition.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("recognition.fallbacks[%d].name is required", i))
		}
	}
	for i, fb := range cfg.Enhancement.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("enhancement.fallbacks[%d].name is required", i))
		}
	}
	if cfg.Recognition.Timeout < 0 {
		errs = append(errs, fmt.Errorf("recognition.timeout %v must not be negative", cfg.Recognition.Timeout))
	}

	// Recognizer ↔ credentials cross-validation
	switch cfg.Recognition.Provider {
	case "openai", "deepgram":
		if cfg.Recognition.APIKey == "" {
			slog.Warn("recognition provider needs an API key; set recognition.api_key or DICTUM_RECOGNITION_API_KEY",
				"provider", cfg.Recognition.Provider)
		}
	case "whisper-native":
		if cfg.Recognition.Model == "" {
			errs = append(errs, errors.New("recognition.model (path to a ggml model) is required for whisper-native"))
		}
	}

	// Enhancement
	if !slices.Contains(validTasks, cfg.Enhancement.Task) {
		errs = append(errs, fmt.Errorf("enhancement.task %q is invalid; valid values: improve, summarize, translate", cfg.Enhancement.Task))
	}

	// Vocabulary
	if t := cfg.Vocabulary.PhoneticThreshold; t <= 0 || t > 1 {
		errs = append(errs, fmt.Errorf("vocabulary.phonetic_threshold %.2f is out of range (0, 1]", t))
	}
	if t := cfg.Vocabulary.FuzzyThreshold; t <= 0 || t > 1 {
		errs = append(errs, fmt.Errorf("vocabulary.fuzzy_threshold %.2f is out of range (0, 1]", t))
	}

	// Overlay
	if o := cfg.Overlay.Opacity; o <= 0 || o > 1 {
		errs = append(errs, fmt.Errorf("overlay.opacity %.2f is out of range (0, 1]", o))
	}
	if !slices.Contains(validPositions, cfg.Overlay.Position) {
		errs = append(errs, fmt.Errorf("overlay.position %q is invalid; valid values: bottom-right, bottom-left, top-right, top-left", cfg.Overlay.Position))
	}
	if cfg.Overlay.MaxLines < 1 {
		errs = append(errs, fmt.Errorf("overlay.max_lines %d must be at least 1", cfg.Overlay.MaxLines))
	}
	if cfg.Overlay.HideAfter < 0 {
		errs = append(errs, fmt.Errorf("overlay.hide_after %v must not be negative", cfg.Overlay.HideAfter))
	}

	// Injection
	if !slices.Contains(validStrategies, cfg.Injection.Strategy) {
		errs = append(errs, fmt.Errorf("injection.strategy %q is invalid; valid values: standard, compat, none", cfg.Injection.Strategy))
	}
	if cfg.Injection.CharDelay < 0 {
		errs = append(errs, fmt.Errorf("injection.char_delay %v must not be negative", cfg.Injection.CharDelay))
	}

	// History
	if !cfg.History.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("history.backend %q is invalid; valid values: none, badger, postgres", cfg.History.Backend))
	}
	if cfg.History.Backend == HistoryPostgres && cfg.History.DSN == "" {
		errs = append(errs, errors.New("history.dsn is required when history.backend is postgres"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
