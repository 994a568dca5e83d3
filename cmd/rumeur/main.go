// CLAUDE:SUMMARY Entry point: cobra root with serve (chi HTTP + SSE log stream), analyze (one-shot) and mcp (stdio tool server).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/rumeur/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "rumeur",
	Short:         "Public-sentiment reports from web evidence",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (default $RUMEUR_CONFIG)")
	rootCmd.AddCommand(serveCmd, analyzeCmd, mcpCmd)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig reads --config, falling back to RUMEUR_CONFIG.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("RUMEUR_CONFIG")
	}
	return config.Load(path, os.Getenv)
}

// newLogger builds the JSON logger. stdio MCP must keep stdout clean, so
// callers pick the stream.
func newLogger(level string, out *os.File) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}
