package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/MrWong99/dictum/internal/config"
	"github.com/MrWong99/dictum/internal/delivery/render"
	"github.com/MrWong99/dictum/internal/dispatch"
	"github.com/MrWong99/dictum/internal/enhance"
	"github.com/MrWong99/dictum/internal/segment"
	"github.com/MrWong99/dictum/internal/vocab"
	"github.com/MrWong99/dictum/pkg/audio"
)

var (
	dimStyle    = lipgloss.NewStyle().Foreground(render.DefaultTheme.Dim)
	accentStyle = lipgloss.NewStyle().Foreground(render.DefaultTheme.Primary).Bold(true)
)

func newDevicesCmd() *cobra.Command {
	var backend string
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List audio input devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if backend == "" {
				backend = cfg.Audio.Backend
			}
			reg := config.NewRegistry()
			registerBuiltinProviders(reg)
			lister, err := reg.DeviceLister(backend)
			if err != nil {
				return err
			}
			devices, err := lister.Devices(cmd.Context())
			if err != nil {
				return fmt.Errorf("list devices: %w", err)
			}
			if len(devices) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no input devices found")
				return nil
			}
			out := cmd.OutOrStdout()
			for _, d := range devices {
				marker := "  "
				name := d.Name
				if d.IsDefault {
					marker = accentStyle.Render("* ")
					name = accentStyle.Render(d.Name)
				}
				fmt.Fprintf(out, "%s%s %s\n", marker, name,
					dimStyle.Render(fmt.Sprintf("(%d ch, %.0f Hz)", d.MaxInputChannels, d.DefaultSampleRate)))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&backend, "backend", "", "capture backend (portaudio or malgo); default from config")
	return cmd
}

func newTranscribeCmd() *cobra.Command {
	var (
		language string
		task     string
		raw      bool
	)
	cmd := &cobra.Command{
		Use:   "transcribe FILE.wav",
		Short: "Transcribe a WAV file and print the text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if language != "" {
				cfg.Recognition.Language = language
			}
			if task != "" {
				if !enhance.Task(task).Valid() {
					return fmt.Errorf("unknown task %q; valid values: improve, summarize, translate", task)
				}
				cfg.Enhancement.Enabled = true
				cfg.Enhancement.Task = task
			}
			if raw {
				cfg.Enhancement.Enabled = false
			}
			return transcribeFile(cmd, cfg, args[0])
		},
	}
	cmd.Flags().StringVarP(&language, "language", "l", "", "language code or auto; default from config")
	cmd.Flags().StringVarP(&task, "task", "t", "", "run enhancement with this task (improve, summarize, translate)")
	cmd.Flags().BoolVar(&raw, "raw", false, "skip enhancement even when it is enabled in the config")
	return cmd
}

func transcribeFile(cmd *cobra.Command, cfg *config.Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	clip, err := audio.DecodeWAV(f)
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	prepared, err := audio.Prepare(clip, 16000)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if prepared.Warning != "" {
		fmt.Fprintln(cmd.ErrOrStderr(), dimStyle.Render("warning: "+prepared.Warning))
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	var cl closers
	defer cl.closeAll()
	rec, _, err := buildRecognizer(cfg, reg, &cl)
	if err != nil {
		return err
	}

	events := make(chan dispatch.Event, 1)
	opts := []dispatch.Option{
		dispatch.WithRecognizerName(cfg.Recognition.Provider),
		dispatch.WithTimeout(cfg.Recognition.Timeout),
		dispatch.WithSettings(dispatch.Settings{
			Language: cfg.Recognition.Language,
			Enhance:  cfg.Enhancement.Enabled,
			Task:     enhance.Task(cfg.Enhancement.Task),
		}),
	}
	if p := buildLLM(cfg, reg); p != nil {
		opts = append(opts, dispatch.WithEnhancer(enhance.New(p)))
	}
	if len(cfg.Vocabulary.Terms) > 0 {
		opts = append(opts, dispatch.WithVocabulary(vocab.New(cfg.Vocabulary.Terms,
			vocab.WithPhoneticThreshold(cfg.Vocabulary.PhoneticThreshold),
			vocab.WithFuzzyThreshold(cfg.Vocabulary.FuzzyThreshold),
		)))
	}
	d := dispatch.New(rec, func(ev dispatch.Event) { events <- ev }, opts...)
	d.Submit(segment.ManualSegment(prepared))

	var ev dispatch.Event
	select {
	case ev = <-events:
	case <-cmd.Context().Done():
		return cmd.Context().Err()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = d.Close(ctx)

	if ev.Err != nil {
		return ev.Err
	}
	for _, w := range ev.Warnings {
		fmt.Fprintln(cmd.ErrOrStderr(), dimStyle.Render("warning: "+w))
	}
	if ev.Text == "" {
		fmt.Fprintln(cmd.ErrOrStderr(), "no speech recognized")
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), ev.Text)
	return nil
}

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print recently delivered dictation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.History.Backend == config.HistoryNone {
				return errHistoryDisabled
			}
			store, err := openHistory(cmd.Context(), cfg.History)
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer store.Close()

			entries, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("read history: %w", err)
			}
			out := cmd.OutOrStdout()
			for i := len(entries) - 1; i >= 0; i-- {
				e := entries[i]
				meta := e.Created.Local().Format(time.DateTime) + " " + e.Reason
				if e.Language != "" {
					meta += " " + e.Language
				}
				fmt.Fprintf(out, "%s  %s\n", dimStyle.Render(meta), strings.TrimSpace(e.Text))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show")
	return cmd
}
