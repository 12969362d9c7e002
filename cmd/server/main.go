package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/makt28/stockwatch/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "stockwatch",
	Short: "stockwatch watches product pages and notifies Telegram chats when items are back in stock.",
	// No subcommand means serve.
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config file")
	rootCmd.AddCommand(serveCmd, checkCmd, hashPasswordCmd)
}

func main() {
	_, _ = maxprocs.Set()

	// A missing .env is fine, the process environment still applies.
	_ = godotenv.Load(".env")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and sets up the logger from it.
func loadConfig() (*config.Manager, error) {
	cfgMgr, err := config.NewManager(configPath)
	if err != nil {
		return nil, err
	}
	setupLogger(cfgMgr.Get().System.LogLevel)
	return cfgMgr, nil
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))
}
