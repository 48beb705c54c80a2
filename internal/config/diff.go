package config

import "slices"

// ConfigDiff describes the hot-reloadable changes between two configs.
// Everything else (capture, VAD, recognizer and history wiring) needs a
// restart; segmentation thresholds apply at the next session start.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// OverlayChanged covers appearance, placement and the enabled flag.
	OverlayChanged bool

	// InjectionChanged covers the strategy, delays and the enabled flag.
	InjectionChanged bool

	// EnhancementChanged covers the enabled flag and the task.
	EnhancementChanged bool

	VocabularyChanged   bool
	SegmentationChanged bool
	LanguageChanged     bool

	// RestartRequired lists settings sections that changed but are only read
	// at startup.
	RestartRequired []string
}

// Any reports whether at least one hot-reloadable setting changed.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.OverlayChanged || d.InjectionChanged ||
		d.EnhancementChanged || d.VocabularyChanged || d.SegmentationChanged ||
		d.LanguageChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Terminal is only read when the renderers are built.
	oo, no := old.Overlay, new.Overlay
	oo.Terminal, no.Terminal = false, false
	d.OverlayChanged = oo != no

	d.InjectionChanged = old.Injection != new.Injection
	d.EnhancementChanged = old.Enhancement.Enabled != new.Enhancement.Enabled ||
		old.Enhancement.Task != new.Enhancement.Task
	d.VocabularyChanged = !slices.Equal(old.Vocabulary.Terms, new.Vocabulary.Terms) ||
		old.Vocabulary.PhoneticThreshold != new.Vocabulary.PhoneticThreshold ||
		old.Vocabulary.FuzzyThreshold != new.Vocabulary.FuzzyThreshold
	d.SegmentationChanged = old.Segmentation != new.Segmentation
	d.LanguageChanged = old.Recognition.Language != new.Recognition.Language

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.VAD != new.VAD {
		d.RestartRequired = append(d.RestartRequired, "vad")
	}
	if !sameProvider(old.Recognition.Entry(), new.Recognition.Entry()) ||
		len(old.Recognition.Fallbacks) != len(new.Recognition.Fallbacks) ||
		old.Recognition.Timeout != new.Recognition.Timeout {
		d.RestartRequired = append(d.RestartRequired, "recognition")
	}
	if !sameProvider(old.Enhancement.Entry(), new.Enhancement.Entry()) ||
		len(old.Enhancement.Fallbacks) != len(new.Enhancement.Fallbacks) {
		d.RestartRequired = append(d.RestartRequired, "enhancement")
	}
	if old.History != new.History {
		d.RestartRequired = append(d.RestartRequired, "history")
	}
	if old.Overlay.Terminal != new.Overlay.Terminal {
		d.RestartRequired = append(d.RestartRequired, "overlay.terminal")
	}
	if old.Notifications != new.Notifications {
		d.RestartRequired = append(d.RestartRequired, "notifications")
	}
	return d
}

func sameProvider(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
