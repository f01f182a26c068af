package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/deepchat/internal/backend"
	"github.com/user/deepchat/internal/config"
	"github.com/user/deepchat/internal/conversation"
	"github.com/user/deepchat/internal/history"
	"github.com/user/deepchat/internal/jobs"
	"github.com/user/deepchat/internal/notify"
	"github.com/user/deepchat/internal/stream"
	"github.com/user/deepchat/internal/transcript"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "deepchat",
	Short: "Terminal client for the deepchat agent service",
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config",
		filepath.Join(os.Getenv("HOME"), ".deepchat", "config.json"), "config file path")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
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

// buildOrchestrator wires the full conversation stack from config.
func buildOrchestrator(cfg *config.Config) (*conversation.Orchestrator, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	client := backend.New(&backend.Config{
		BaseURL: cfg.Backend.BaseURL,
		APIKey:  cfg.Backend.APIKey,
		Timeout: time.Duration(cfg.Backend.TimeoutSecs) * time.Second,
	})

	policy := &stream.RetryPolicy{
		MaxAttempts:  cfg.Backend.RetryAttempts,
		InitialDelay: time.Duration(cfg.Backend.RetryBaseSecs) * time.Second,
		Multiplier:   2.0,
		MaxDelay:     30 * time.Second,
	}

	window, err := history.New(cfg.History.Model, cfg.History.TokenBudget, cfg.History.MaxTurns)
	if err != nil {
		return nil, fmt.Errorf("create history window: %w", err)
	}

	registry := notify.NewRegistry()
	if cfg.Telegram.Token != "" {
		tg, err := notify.NewTelegram(cfg.Telegram.Token)
		if err != nil {
			slog.Warn("telegram notifier disabled", "error", err)
		} else {
			registry.Register("telegram", tg.Notify)
		}
	}

	return conversation.New(conversation.Options{
		Backend: client,
		Opener:  stream.NewOpener(client, policy),
		Reconciler: jobs.NewReconciler(client,
			time.Duration(cfg.Jobs.PollIntervalSecs*float64(time.Second)),
			time.Duration(cfg.Jobs.WindowSecs)*time.Second),
		Tracker:         jobs.NewTracker(int64(cfg.Jobs.MaxConcurrent)),
		Sessions:        transcript.NewSessionStore(cfg.DataDir),
		Transcript:      transcript.NewMessageLog(cfg.DataDir),
		Payloads:        transcript.NewPayloadStore(cfg.DataDir),
		Window:          window,
		Notify:          registry,
		TurnWindow:      time.Duration(cfg.Jobs.TurnWindowSecs) * time.Second,
		HistoryPageSize: cfg.Resync.PageSize,
	}), nil
}
