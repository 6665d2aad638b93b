package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/tabtalk/internal/config"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "tabtalk",
	Short:         "Collect browser tabs as Markdown and hand them to an LLM chat",
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       version,
}

func init() {
	rootCmd.AddCommand(serveCmd, tabsCmd, extractCmd, docsCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "tabtalk:", err)
		os.Exit(1)
	}
}

// loadConfig reads configuration and installs the logger. Console-only
// commands log to the file alone so their output stays clean.
func loadConfig(console bool) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := setupLogger(cfg.LogLevel, cfg.LogFile, console); err != nil {
		return nil, fmt.Errorf("logger setup: %w", err)
	}
	return cfg, nil
}

func setupLogger(level, filename string, console bool) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	var out io.Writer = logWriter
	if console {
		out = io.MultiWriter(os.Stdout, logWriter)
	}
	h := slog.NewTextHandler(out, &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
