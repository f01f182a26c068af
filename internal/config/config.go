package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type Config struct {
	DataDir  string `json:"data_dir"`
	LogLevel string `json:"log_level"`
	Backend  struct {
		BaseURL        string `json:"base_url"`
		APIKey         string `json:"api_key"`
		TimeoutSecs    int    `json:"timeout_secs"`
		RetryAttempts  int    `json:"retry_attempts"`
		RetryBaseSecs  int    `json:"retry_base_secs"`
	} `json:"backend"`
	Jobs struct {
		MaxConcurrent    int     `json:"max_concurrent"`
		PollIntervalSecs float64 `json:"poll_interval_secs"`
		TurnWindowSecs   int     `json:"turn_window_secs"`
		WindowSecs       int     `json:"window_secs"`
	} `json:"jobs"`
	History struct {
		Model       string `json:"model"`
		TokenBudget int    `json:"token_budget"`
		MaxTurns    int    `json:"max_turns"`
	} `json:"history"`
	Resync struct {
		IntervalSecs int `json:"interval_secs"`
		PageSize     int `json:"page_size"`
	} `json:"resync"`
	Telegram struct {
		Token string `json:"token"`
	} `json:"telegram"`
}

func defaults() *Config {
	cfg := &Config{
		DataDir:  filepath.Join(os.Getenv("HOME"), ".deepchat"),
		LogLevel: "info",
	}
	cfg.Backend.BaseURL = "http://localhost:8000"
	cfg.Backend.TimeoutSecs = 30
	cfg.Backend.RetryAttempts = 3
	cfg.Backend.RetryBaseSecs = 2
	cfg.Jobs.MaxConcurrent = 4
	cfg.Jobs.PollIntervalSecs = 2.5
	cfg.Jobs.TurnWindowSecs = 90
	cfg.Jobs.WindowSecs = 600
	cfg.History.Model = "gpt-4"
	cfg.History.TokenBudget = 4096
	cfg.History.MaxTurns = 20
	cfg.Resync.IntervalSecs = 30
	cfg.Resync.PageSize = 50
	return cfg
}

// Load reads the config at path, writing defaults there first if the
// file does not exist. Environment variables take highest precedence.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	if baseURL := os.Getenv("DEEPCHAT_BASE_URL"); baseURL != "" {
		cfg.Backend.BaseURL = baseURL
	}
	if apiKey := os.Getenv("DEEPCHAT_API_KEY"); apiKey != "" {
		cfg.Backend.APIKey = apiKey
	}
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}

	return cfg, nil
}

// Save writes the config atomically, creating the directory if needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}
