package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xseries/mailclerk/internal/config"
)

var (
	cfgPath      string
	storeBackend string
)

var rootCmd = &cobra.Command{
	Use:   "mailclerk",
	Short: "Customer support email agent for educational apps",
	Long: `Mailclerk watches a support mailbox, answers customer emails with a
tool-calling LLM agent, and records every issue in a tracking
spreadsheet.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath,
		"config", filepath.Join(os.Getenv("HOME"), ".mailclerk", "config.json"), "config file path")
	rootCmd.PersistentFlags().StringVar(&storeBackend,
		"store", "", "thread store backend (file or pebble), overrides config")
}

// loadConfig loads the config file, exiting on failure. Commands that
// can run without a valid config do not exist.
func loadConfig() *config.Config {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if storeBackend != "" {
		cfg.StoreBackend = storeBackend
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

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
