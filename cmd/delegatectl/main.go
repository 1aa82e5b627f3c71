package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/coredelegate/internal/app"
	"github.com/user/coredelegate/internal/config"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "delegatectl",
	Short:         "Run and inspect the handler delegates of an LMS client",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", config.DefaultPath(), "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// newApp builds an app with the default handlers registered. Callers must
// Close it.
func newApp(cfg *config.Config) (*app.App, error) {
	a, err := app.New(cfg, cfgPath, slog.Default())
	if err != nil {
		return nil, err
	}
	if err := a.RegisterDefaults(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}
