package config_test

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/dictum/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()

	d := config.Diff(config.Default(), config.Default())
	if d.Any() || len(d.RestartRequired) != 0 {
		t.Errorf("expected no changes, got %+v", d)
	}
}

func TestDiff_HotReloadable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		check  func(config.ConfigDiff) bool
	}{
		{"log level", func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			func(d config.ConfigDiff) bool { return d.LogLevelChanged && d.NewLogLevel == config.LogDebug }},
		{"overlay", func(c *config.Config) { c.Overlay.Opacity = 0.5 },
			func(d config.ConfigDiff) bool { return d.OverlayChanged }},
		{"overlay hidden", func(c *config.Config) { c.Overlay.Enabled = false },
			func(d config.ConfigDiff) bool { return d.OverlayChanged }},
		{"injection strategy", func(c *config.Config) { c.Injection.Strategy = "compat" },
			func(d config.ConfigDiff) bool { return d.InjectionChanged }},
		{"char delay", func(c *config.Config) { c.Injection.CharDelay = 25 * time.Millisecond },
			func(d config.ConfigDiff) bool { return d.InjectionChanged }},
		{"enhancement task", func(c *config.Config) { c.Enhancement.Task = "summarize" },
			func(d config.ConfigDiff) bool { return d.EnhancementChanged }},
		{"vocabulary", func(c *config.Config) { c.Vocabulary.Terms = []string{"Dictum"} },
			func(d config.ConfigDiff) bool { return d.VocabularyChanged }},
		{"segmentation", func(c *config.Config) { c.Segmentation.PauseThreshold = 2 },
			func(d config.ConfigDiff) bool { return d.SegmentationChanged }},
		{"language", func(c *config.Config) { c.Recognition.Language = "de" },
			func(d config.ConfigDiff) bool { return d.LanguageChanged }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			updated := config.Default()
			tt.mutate(updated)
			d := config.Diff(config.Default(), updated)
			if !tt.check(d) {
				t.Errorf("change not reported: %+v", d)
			}
			if len(d.RestartRequired) != 0 {
				t.Errorf("hot-reloadable change flagged for restart: %v", d.RestartRequired)
			}
		})
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	updated := config.Default()
	updated.Audio.Device = "Headset"
	updated.Recognition.Provider = "deepgram"
	updated.History.Backend = config.HistoryBadger
	updated.Overlay.Terminal = true

	d := config.Diff(config.Default(), updated)
	want := []string{"audio", "recognition", "history", "overlay.terminal"}
	if diff := cmp.Diff(want, d.RestartRequired); diff != "" {
		t.Errorf("RestartRequired mismatch (-want +got):\n%s", diff)
	}
	if d.OverlayChanged {
		t.Error("terminal rendering toggle reported as a live overlay change")
	}
	if d.Any() {
		t.Errorf("no hot-reloadable setting changed, got %+v", d)
	}
}
