// Command callagent runs the AI calling agent: the web service that places
// scripted job-inquiry calls, a console demo, and commands for inspecting
// recorded calls.
//
// Usage:
//
//	callagent [--config config.yaml] [--log-level info] <command>
//
// Commands:
//
//	serve        run the REST and websocket service
//	demo         place a call from the terminal
//	calls        list recorded calls, or show one
//	stats        print aggregate call statistics
//	version      print the build version
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/callagent/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "callagent: %v\n", err)
		os.Exit(1)
	}
}

// globals carries the persistent flags shared by every subcommand.
type globals struct {
	configPath string
	logLevel   string

	// level is shared with the config watcher so a reload can change it.
	level *slog.LevelVar
}

func newRootCmd() *cobra.Command {
	g := &globals{level: new(slog.LevelVar)}
	root := &cobra.Command{
		Use:   "callagent",
		Short: "AI calling agent for scripted job-inquiry calls",
		Long: `callagent places scripted telephone-style calls to an HR representative
on behalf of a job seeker. The agent greets, explains the purpose, asks a fixed
set of questions and closes politely, then records a summary and transcript.

Configuration is read from a YAML file (default config.yaml). When the file is
missing the service runs from environment variables such as ANTHROPIC_API_KEY.

Examples:
  # Serve the web interface on localhost:5000
  callagent serve

  # Talk to the agent from the terminal
  callagent demo

  # Run the built-in HR responses unattended
  callagent demo --scripted

  # Inspect what was recorded
  callagent calls --limit 5
  callagent calls show 20260302_091500_a1b2c3
`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "config.yaml", "path to the YAML configuration file")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "override server.log_level (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(g),
		newDemoCmd(g),
		newCallsCmd(g),
		newStatsCmd(g),
		newVersionCmd(),
	)
	return root
}

// loadConfig reads the configuration, applies the --log-level override and
// installs the default logger.
func (g *globals) loadConfig() (*config.Config, error) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: g.level})))

	cfg, err := config.LoadOrDefault(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.logLevel != "" {
		lvl := config.LogLevel(g.logLevel)
		if !lvl.IsValid() {
			return nil, fmt.Errorf("--log-level %q is invalid; valid values: debug, info, warn, error", g.logLevel)
		}
		cfg.Server.LogLevel = lvl
	}
	g.level.Set(slogLevel(cfg.Server.LogLevel))
	return cfg, nil
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "callagent", version)
		},
	}
}
