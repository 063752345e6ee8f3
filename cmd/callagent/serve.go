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

	"github.com/spf13/cobra"

	"github.com/MrWong99/callagent/internal/app"
	"github.com/MrWong99/callagent/internal/config"
	"github.com/MrWong99/callagent/internal/observe"
	"github.com/MrWong99/callagent/internal/web"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(g *globals) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST API and the websocket call channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), g, watch)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", true, "reload the script and call settings when the config file changes")
	return cmd
}

func runServe(ctx context.Context, g *globals, watch bool) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	slog.Info("callagent starting",
		"config", g.configPath,
		"listen_addr", cfg.Server.ListenAddr(),
		"log_level", string(cfg.Server.LogLevel),
		"version", version,
	)

	providers, err := buildProviders(cfg)
	if err != nil {
		return fmt.Errorf("build providers: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "callagent",
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	printStartupSummary(cfg)

	var opts []app.Option
	if watch {
		opts = append(opts, app.WithConfigWatch(g.configPath, g.level))
	}
	application, err := app.New(ctx, cfg, providers, opts...)
	if err != nil {
		_ = otelShutdown(context.Background())
		return fmt.Errorf("initialise application: %w", err)
	}

	srv := web.New(web.Config{
		Sessions: application.Sessions(),
		Store:    application.Store(),
		Version:  version,
		Health:   application.Health(),
		Metrics:  application.Metrics(),
	})

	if watch {
		go reloadOnHangup(ctx, application)
	}

	slog.Info("server ready, press Ctrl+C to shut down")
	runErr := application.Run(ctx, srv.Handler())
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	slog.Info("shutdown signal received, stopping")
	err = errors.Join(
		application.Shutdown(shutdownCtx),
		otelShutdown(shutdownCtx),
	)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("goodbye")
	return nil
}

// reloadOnHangup re-reads the config file whenever the process gets SIGHUP.
func reloadOnHangup(ctx context.Context, a *app.App) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := a.ReloadConfig(); err != nil {
				slog.Warn("config reload rejected, keeping previous config", "err", err)
			}
		}
	}
}

// ── Startup summary ─────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	sc := cfg.ScriptOrDefault()
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║      AI Calling Agent, startup        ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model, len(cfg.Providers.LLMFallbacks))
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model, len(cfg.Providers.STTFallbacks))
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model, len(cfg.Providers.TTSFallbacks))
	fmt.Printf("║  Script stages   : %-19d ║\n", sc.Len())
	fmt.Printf("║  Storage         : %-19s ║\n", string(cfg.Storage.Backend))
	fmt.Printf("║  Recording       : %-19t ║\n", cfg.Call.RecordingEnabled())
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr())
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string, fallbacks int) {
	value := name
	switch {
	case value == "":
		value = "(not configured)"
	case model != "":
		value = name + " / " + model
	}
	if fallbacks > 0 {
		value = fmt.Sprintf("%s +%d", value, fallbacks)
	}
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}
