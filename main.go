package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ruinscan/ruinscan-go/cmd"
	"github.com/ruinscan/ruinscan-go/internal/conf"
	"github.com/ruinscan/ruinscan-go/internal/logging"
)

func main() {
	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}

	if err := setupLogging(settings); err != nil {
		fmt.Fprintf(os.Stderr, "error setting up logging: %v\n", err)
		os.Exit(1)
	}

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		logging.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func setupLogging(settings *conf.Settings) error {
	level := parseLevel(settings.Main.Log.Level)
	if settings.Debug {
		level = slog.LevelDebug
	}

	if settings.Main.Log.Enabled {
		closeLog, err := logging.InitWithFile(level, os.Stderr,
			settings.Main.Log.Path, logging.FileRotation{})
		if err != nil {
			return err
		}
		// Closed on process exit.
		_ = closeLog
		return nil
	}

	logging.Init(level, os.Stderr)
	return nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
