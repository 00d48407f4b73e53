package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

var (
	configFile string
	verbose    bool

	rootCmd = &cobra.Command{
		Use:           "loqa-tts",
		Short:         "Inspect model directories and synthesize speech offline",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (defaults plus LOQA_TTS_* env when empty)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log engine and loader activity to stderr")
	rootCmd.AddCommand(inspectCmd, synthCmd)
}

func loadConfig() (config.Config, error) {
	return config.Load(configFile)
}

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
