// Command decor is the AI home decor backend.
//
// It reads configuration from environment variables (or .env / config.yaml)
// and serves the design and chat API on the configured port.
//
// Quick-start (fallback designs only, static dev token):
//
//	AUTH_MODE=static AUTH_STATIC_TOKENS=dev-token ./decor
//
// Subcommands help with credentials and local testing; run "decor --help".
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// version is overridden at build time via -ldflags="-X main.version=x.y.z".
var version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	serve := newServeCmd()

	root := &cobra.Command{
		Use:           "decor",
		Short:         "AI home decor backend",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		// Running without a subcommand starts the server.
		RunE: serve.RunE,
	}

	root.AddCommand(
		serve,
		newModelsCmd(),
		newCheckKeyCmd(),
		newSmokeCmd(),
		newMockUpstreamCmd(),
	)
	return root
}

// buildLogger constructs a JSON slog.Logger for the given level string.
// Unknown level strings default to INFO.
func buildLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     l,
		AddSource: l == slog.LevelDebug,
	}))
}
