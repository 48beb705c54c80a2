package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g.
// DICTUM_RECOGNITION_API_KEY for recognition.api_key.
const EnvPrefix = "DICTUM"

type envBinding struct {
	key   string
	apply func(v *viper.Viper, key string, cfg *Config) error
}

func envString(field func(*Config) *string) func(*viper.Viper, string, *Config) error {
	return func(v *viper.Viper, key string, cfg *Config) error {
		*field(cfg) = v.GetString(key)
		return nil
	}
}

func envBool(field func(*Config) *bool) func(*viper.Viper, string, *Config) error {
	return func(v *viper.Viper, key string, cfg *Config) error {
		switch strings.ToLower(strings.TrimSpace(v.GetString(key))) {
		case "1", "true", "yes", "on":
			*field(cfg) = true
		case "0", "false", "no", "off":
			*field(cfg) = false
		default:
			return fmt.Errorf("%s: %q is not a boolean", envName(key), v.GetString(key))
		}
		return nil
	}
}

var envBindings = []envBinding{
	{"server.listen_addr", envString(func(c *Config) *string { return &c.Server.ListenAddr })},
	{"server.log_level", func(v *viper.Viper, key string, c *Config) error {
		c.Server.LogLevel = LogLevel(strings.ToLower(v.GetString(key)))
		return nil
	}},
	{"audio.device", envString(func(c *Config) *string { return &c.Audio.Device })},
	{"audio.backend", envString(func(c *Config) *string { return &c.Audio.Backend })},
	{"vad.provider", envString(func(c *Config) *string { return &c.VAD.Provider })},
	{"vad.model_path", envString(func(c *Config) *string { return &c.VAD.ModelPath })},
	{"vad.library_path", envString(func(c *Config) *string { return &c.VAD.LibraryPath })},
	{"recognition.provider", envString(func(c *Config) *string { return &c.Recognition.Provider })},
	{"recognition.base_url", envString(func(c *Config) *string { return &c.Recognition.BaseURL })},
	{"recognition.model", envString(func(c *Config) *string { return &c.Recognition.Model })},
	{"recognition.language", envString(func(c *Config) *string { return &c.Recognition.Language })},
	{"recognition.api_key", envString(func(c *Config) *string { return &c.Recognition.APIKey })},
	{"enhancement.enabled", envBool(func(c *Config) *bool { return &c.Enhancement.Enabled })},
	{"enhancement.task", envString(func(c *Config) *string { return &c.Enhancement.Task })},
	{"enhancement.provider", envString(func(c *Config) *string { return &c.Enhancement.Provider })},
	{"enhancement.model", envString(func(c *Config) *string { return &c.Enhancement.Model })},
	{"enhancement.base_url", envString(func(c *Config) *string { return &c.Enhancement.BaseURL })},
	{"enhancement.api_key", envString(func(c *Config) *string { return &c.Enhancement.APIKey })},
	{"vocabulary.terms", func(v *viper.Viper, key string, c *Config) error {
		var terms []string
		for t := range strings.SplitSeq(v.GetString(key), ",") {
			if t = strings.TrimSpace(t); t != "" {
				terms = append(terms, t)
			}
		}
		c.Vocabulary.Terms = terms
		return nil
	}},
	{"overlay.enabled", envBool(func(c *Config) *bool { return &c.Overlay.Enabled })},
	{"overlay.terminal", envBool(func(c *Config) *bool { return &c.Overlay.Terminal })},
	{"injection.enabled", envBool(func(c *Config) *bool { return &c.Injection.Enabled })},
	{"injection.strategy", envString(func(c *Config) *string { return &c.Injection.Strategy })},
	{"history.backend", func(v *viper.Viper, key string, c *Config) error {
		c.History.Backend = HistoryBackend(v.GetString(key))
		return nil
	}},
	{"history.path", envString(func(c *Config) *string { return &c.History.Path })},
	{"history.dsn", envString(func(c *Config) *string { return &c.History.DSN })},
	{"notifications.enabled", envBool(func(c *Config) *bool { return &c.Notifications.Enabled })},
	{"notifications.sound", envBool(func(c *Config) *bool { return &c.Notifications.Sound })},
}

// EnvKeys returns the settings keys that can be overridden from the
// environment, in their environment variable spelling.
func EnvKeys() []string {
	out := make([]string, len(envBindings))
	for i, b := range envBindings {
		out[i] = envName(b.key)
	}
	return out
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// ApplyEnv layers DICTUM_* environment variables over cfg and re-validates
// it. Only variables that are set are applied. It returns the settings keys
// that were overridden.
func ApplyEnv(cfg *Config) ([]string, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AllowEmptyEnv(false)

	var applied []string
	for _, b := range envBindings {
		if err := v.BindEnv(b.key); err != nil {
			return nil, fmt.Errorf("config: bind env %s: %w", b.key, err)
		}
		if !v.IsSet(b.key) {
			continue
		}
		if err := b.apply(v, b.key, cfg); err != nil {
			return nil, fmt.Errorf("config: env override: %w", err)
		}
		applied = append(applied, b.key)
	}
	if len(applied) == 0 {
		return nil, nil
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return applied, fmt.Errorf("config: after env overrides: %w", err)
	}
	return applied, nil
}
