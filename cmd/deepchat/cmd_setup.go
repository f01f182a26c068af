package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/deepchat/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("deepchat Setup Wizard")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.Backend.BaseURL = prompt(scanner, "Agent service base URL", cfg.Backend.BaseURL)
		cfg.Backend.APIKey = prompt(scanner, "API key", cfg.Backend.APIKey)
		cfg.DataDir = prompt(scanner, "Data directory", cfg.DataDir)

		budgetStr := prompt(scanner, "History token budget", strconv.Itoa(cfg.History.TokenBudget))
		if n, err := strconv.Atoi(budgetStr); err == nil {
			cfg.History.TokenBudget = n
		}

		cfg.Telegram.Token = prompt(scanner, "Telegram bot token (optional)", cfg.Telegram.Token)

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Println()
		fmt.Printf("Configuration written to %s\n", cfgPath)
		return nil
	},
}

func prompt(scanner *bufio.Scanner, label, def string) string {
	display := def
	if display == "" {
		display = "none"
	}
	fmt.Printf("%s [%s]: ", label, display)
	if !scanner.Scan() {
		return def
	}
	line := strings.TrimSpace(scanner.Text())
	if line == "" {
		return def
	}
	return line
}
