// Package config provides the configuration schema, loader, environment
// overrides and provider registry for the Dictum dictation daemon.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Dictum.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Audio         AudioConfig         `yaml:"audio"`
	VAD           VADConfig           `yaml:"vad"`
	Segmentation  SegmentationConfig  `yaml:"segmentation"`
	Recognition   RecognitionConfig   `yaml:"recognition"`
	Enhancement   EnhancementConfig   `yaml:"enhancement"`
	Vocabulary    VocabularyConfig    `yaml:"vocabulary"`
	Overlay       OverlayConfig       `yaml:"overlay"`
	Injection     InjectionConfig     `yaml:"injection"`
	History       HistoryConfig       `yaml:"history"`
	Notifications NotificationsConfig `yaml:"notifications"`
}

// ServerConfig holds the control endpoint and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the control and metrics server.
	// Leave empty to disable the HTTP surface.
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// AudioConfig selects the capture device and backend.
type AudioConfig struct {
	// Device is a device name or "auto" for the host default input.
	Device string `yaml:"device"`

	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`

	// ChunkMS is the capture cadence in milliseconds.
	ChunkMS int `yaml:"chunk_ms"`

	// Backend names the capture implementation ("portaudio" or "malgo").
	Backend string `yaml:"backend"`
}

// Chunk returns the capture cadence as a duration.
func (a AudioConfig) Chunk() time.Duration {
	return time.Duration(a.ChunkMS) * time.Millisecond
}

// VADConfig configures voice activity detection.
type VADConfig struct {
	// Provider names the detector ("silero" or "energy"). Silero falls back
	// to energy when the model cannot be loaded.
	Provider string `yaml:"provider"`

	ModelPath string `yaml:"model_path"`

	// LibraryPath points at the onnxruntime shared library. Empty uses the
	// platform default search path.
	LibraryPath string `yaml:"library_path"`

	// Threshold is the speech probability at or above which a chunk is voiced.
	Threshold float64 `yaml:"threshold"`

	// SilenceThreshold is the peak amplitude used by the energy detector and
	// for chunks shorter than one model frame.
	SilenceThreshold float64 `yaml:"silence_threshold"`
}

// SegmentationConfig holds the segmentation thresholds in seconds.
type SegmentationConfig struct {
	// Continuous selects continuous mode for sessions started without an
	// explicit mode.
	Continuous bool `yaml:"continuous"`

	PauseThreshold    float64 `yaml:"pause_threshold"`
	VoiceFloor        float64 `yaml:"voice_floor"`
	MaxBufferDuration float64 `yaml:"max_buffer_duration"`

	// IdleTimeout stops a session after this much silence. Zero disables it.
	IdleTimeout     float64 `yaml:"idle_timeout"`
	MinStopDuration float64 `yaml:"min_stop_duration"`
}

// Seconds converts a seconds value from the settings file to a duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// ProviderEntry is the configuration block shared by recognizer and language
// model providers. Name is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	Name    string `yaml:"name"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// Options holds provider-specific values not covered by the fields above.
	Options map[string]any `yaml:"options"`
}

// RecognitionConfig selects the speech recognizer and its fallbacks.
type RecognitionConfig struct {
	Provider string `yaml:"provider"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`

	// Language is a language code, "yue" for Cantonese or "auto".
	Language string `yaml:"language"`
	APIKey   string `yaml:"api_key"`

	// Timeout bounds one recognition request including enhancement.
	Timeout time.Duration `yaml:"timeout"`

	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// Entry returns the primary recognizer as a [ProviderEntry].
func (r RecognitionConfig) Entry() ProviderEntry {
	return ProviderEntry{Name: r.Provider, APIKey: r.APIKey, BaseURL: r.BaseURL, Model: r.Model}
}

// EnhancementConfig configures the optional language-model pass.
type EnhancementConfig struct {
	Enabled bool `yaml:"enabled"`

	// Task is one of improve, summarize or translate.
	Task string `yaml:"task"`

	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`

	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// Entry returns the primary language model as a [ProviderEntry].
func (e EnhancementConfig) Entry() ProviderEntry {
	return ProviderEntry{Name: e.Provider, APIKey: e.APIKey, BaseURL: e.BaseURL, Model: e.Model}
}

// VocabularyConfig lists custom terms the transcript is corrected towards.
type VocabularyConfig struct {
	Terms             []string `yaml:"terms"`
	PhoneticThreshold float64  `yaml:"phonetic_threshold"`
	FuzzyThreshold    float64  `yaml:"fuzzy_threshold"`
}

// OverlayConfig controls the transcript overlay.
type OverlayConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Opacity   float64       `yaml:"opacity"`
	Width     int           `yaml:"width"`
	Position  string        `yaml:"position"`
	MaxLines  int           `yaml:"max_lines"`
	FontSize  int           `yaml:"font_size"`
	HideAfter time.Duration `yaml:"hide_after"`

	// Terminal renders the overlay to stdout with lipgloss.
	Terminal bool `yaml:"terminal"`
}

// InjectionConfig controls how delivered text reaches the focused window.
type InjectionConfig struct {
	Enabled bool `yaml:"enabled"`

	// Strategy is standard, compat or none.
	Strategy         string        `yaml:"strategy"`
	CharDelay        time.Duration `yaml:"char_delay"`
	SettleDelay      time.Duration `yaml:"settle_delay"`
	RestoreClipboard bool          `yaml:"restore_clipboard"`
}

// HistoryBackend selects the transcript history store.
type HistoryBackend string

const (
	HistoryNone     HistoryBackend = "none"
	HistoryBadger   HistoryBackend = "badger"
	HistoryPostgres HistoryBackend = "postgres"
)

// IsValid reports whether b is a recognised history backend.
func (b HistoryBackend) IsValid() bool {
	switch b {
	case HistoryNone, HistoryBadger, HistoryPostgres:
		return true
	}
	return false
}

// HistoryConfig selects where delivered transcripts are kept.
type HistoryConfig struct {
	Backend HistoryBackend `yaml:"backend"`

	// Path is the badger directory.
	Path string `yaml:"path"`

	// DSN is the PostgreSQL connection string.
	DSN string `yaml:"dsn"`
}

// NotificationsConfig toggles desktop notifications and audible cues.
type NotificationsConfig struct {
	Enabled bool `yaml:"enabled"`
	Sound   bool `yaml:"sound"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{
		Server:       ServerConfig{ListenAddr: ":8089"},
		Segmentation: SegmentationConfig{Continuous: true, IdleTimeout: 10},
		Overlay:      OverlayConfig{Enabled: true},
		Injection: InjectionConfig{
			Enabled:          true,
			CharDelay:        10 * time.Millisecond,
			RestoreClipboard: true,
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued settings with their defaults. Settings whose
// zero value is meaningful (booleans, server.listen_addr,
// segmentation.idle_timeout and injection.char_delay) are left alone. [LoadFromReader] decodes into
// [Default] so those keep their defaults when omitted.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	setString(&cfg.Audio.Device, "auto")
	setInt(&cfg.Audio.SampleRate, 16000)
	setInt(&cfg.Audio.Channels, 1)
	setInt(&cfg.Audio.ChunkMS, 100)
	setString(&cfg.Audio.Backend, "portaudio")

	setString(&cfg.VAD.Provider, "silero")
	setString(&cfg.VAD.ModelPath, "models/silero_vad.onnx")
	setFloat(&cfg.VAD.Threshold, 0.5)
	setFloat(&cfg.VAD.SilenceThreshold, 0.01)

	setFloat(&cfg.Segmentation.PauseThreshold, 1.5)
	setFloat(&cfg.Segmentation.VoiceFloor, 0.5)
	setFloat(&cfg.Segmentation.MaxBufferDuration, 30)
	setFloat(&cfg.Segmentation.MinStopDuration, 0.3)

	setString(&cfg.Recognition.Provider, "whisper")
	setString(&cfg.Recognition.Language, "auto")
	if cfg.Recognition.Provider == "whisper" {
		setString(&cfg.Recognition.BaseURL, "http://localhost:8080")
	}
	if cfg.Recognition.Timeout == 0 {
		cfg.Recognition.Timeout = 2 * time.Minute
	}

	setString(&cfg.Enhancement.Task, "improve")
	setString(&cfg.Enhancement.Provider, "ollama")
	setString(&cfg.Enhancement.Model, "llama3.2")

	setFloat(&cfg.Vocabulary.PhoneticThreshold, 0.70)
	setFloat(&cfg.Vocabulary.FuzzyThreshold, 0.85)

	setFloat(&cfg.Overlay.Opacity, 0.85)
	setInt(&cfg.Overlay.Width, 400)
	setString(&cfg.Overlay.Position, "bottom-right")
	setInt(&cfg.Overlay.MaxLines, 10)
	setInt(&cfg.Overlay.FontSize, 11)
	if cfg.Overlay.HideAfter == 0 {
		cfg.Overlay.HideAfter = 3 * time.Second
	}

	setString(&cfg.Injection.Strategy, "standard")
	if cfg.Injection.SettleDelay == 0 {
		cfg.Injection.SettleDelay = 50 * time.Millisecond
	}

	if cfg.History.Backend == "" {
		cfg.History.Backend = HistoryNone
	}
	setString(&cfg.History.Path, "data/history")
}

func setString(p *string, v string) {
	if *p == "" {
		*p = v
	}
}

func setInt(p *int, v int) {
	if *p == 0 {
		*p = v
	}
}

func setFloat(p *float64, v float64) {
	if *p == 0 {
		*p = v
	}
}
