// Command dictum is a push-button dictation daemon: it listens to the
// microphone, transcribes what you say and types it where your cursor is.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/MrWong99/dictum/internal/app"
	"github.com/MrWong99/dictum/internal/config"
	"github.com/MrWong99/dictum/internal/delivery"
	"github.com/MrWong99/dictum/internal/delivery/render"
	"github.com/MrWong99/dictum/internal/observe"
	"github.com/MrWong99/dictum/pkg/audio"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	configPath string
	levelVar   = new(slog.LevelVar)
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "dictum: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "dictum",
		Short:         "Voice dictation that types into any window",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar})))
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML configuration file")

	root.AddCommand(newRunCmd(), newDevicesCmd(), newTranscribeCmd(), newHistoryCmd())
	return root
}

// loadConfig reads the configuration file and layers DICTUM_* environment
// variables over it. A missing file is only an error when --config was given
// explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	switch {
	case errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config"):
		slog.Info("no config file found, using defaults", "path", configPath)
		cfg = config.Default()
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", configPath)
	case err != nil:
		return nil, err
	}

	applied, err := config.ApplyEnv(cfg)
	if err != nil {
		return nil, err
	}
	if len(applied) > 0 {
		slog.Info("environment overrides applied", "keys", applied)
	}
	levelVar.Set(app.SlogLevel(cfg.Server.LogLevel))
	return cfg, nil
}

func newRunCmd() *cobra.Command {
	var noWatch bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the dictation daemon and its control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd, !noWatch)
		},
	}
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not reload the config file when it changes")
	return cmd
}

func runDaemon(cmd *cobra.Command, watch bool) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	slog.Info("dictum starting",
		"version", version,
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"recognizer", cfg.Recognition.Provider,
		"vad", cfg.VAD.Provider,
		"capture", cfg.Audio.Backend,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "dictum",
		ServiceVersion: version,
		Recognizer:     cfg.Recognition.Provider,
		VAD:            cfg.VAD.Provider,
		Capture:        cfg.Audio.Backend,
		Injection:      cfg.Injection.Strategy,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	tel.SetGlobal()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	var cl closers
	rec, available, err := buildRecognizer(cfg, reg, &cl)
	if err != nil {
		return err
	}
	engine, vadFallback := openVAD(cfg, reg, &cl)

	store, err := openHistory(ctx, cfg.History)
	if err != nil {
		cl.closeAll()
		return fmt.Errorf("open history: %w", err)
	}

	comps := app.Components{
		Recognizer:          rec,
		RecognizerName:      cfg.Recognition.Provider,
		RecognizerAvailable: available,
		LLM:                 buildLLM(cfg, reg),
		VAD:                 engine,
		VADFallback:         vadFallback,
		OpenSource: func(sc audio.SourceConfig) (audio.Source, error) {
			return reg.CreateSource(cfg.Audio.Backend, sc)
		},
		History:  store,
		Notifier: delivery.DesktopNotifier{},
	}
	if cfg.Notifications.Sound {
		comps.Cues = &delivery.Chime{}
	}
	if cfg.Overlay.Terminal {
		comps.Renderers = append(comps.Renderers, render.NewTerminal(os.Stdout))
	}

	application, err := app.New(cfg, comps,
		app.WithLevelVar(levelVar),
		app.WithMetricsHandler(promhttp.Handler()),
		app.WithCloser(func() error { cl.closeAll(); return nil }),
	)
	if err != nil {
		cl.closeAll()
		_ = store.Close()
		return fmt.Errorf("initialise application: %w", err)
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if watch {
		if _, statErr := os.Stat(configPath); statErr == nil {
			w, err := config.NewWatcher(configPath, application.ApplyConfig, config.WithEnvOverrides())
			if err != nil {
				slog.Warn("config hot reload disabled", "err", err)
			} else {
				go func() { _ = w.Run(ctx) }()
				defer w.Stop()
			}
		}
	}

	slog.Info("ready; POST /session/toggle to start dictating", "listen_addr", cfg.Server.ListenAddr)
	runErr := application.Run(ctx)
	if runErr != nil {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("goodbye")
	return runErr
}
