package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/deepchat/internal/backend"
	"github.com/user/deepchat/internal/transcript"
	"github.com/user/deepchat/internal/types"
)

func init() {
	rootCmd.AddCommand(jobCmd)
	jobCmd.AddCommand(jobStatusCmd, jobRetryCmd, jobPayloadCmd)
}

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect and retry background jobs",
}

func backendClient() *backend.Client {
	cfg := loadConfig()
	return backend.New(&backend.Config{
		BaseURL: cfg.Backend.BaseURL,
		APIKey:  cfg.Backend.APIKey,
		Timeout: time.Duration(cfg.Backend.TimeoutSecs) * time.Second,
	})
}

var jobStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the current status snapshot for a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := backendClient().JobStatus(context.Background(), types.TrackingID(args[0]))
		if err != nil {
			return fmt.Errorf("job status: %w", err)
		}
		out, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, string(out))
		return nil
	},
}

var jobPayloadCmd = &cobra.Command{
	Use:   "payload <payload-id>",
	Short: "Print an offloaded tool result payload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		store := transcript.NewPayloadStore(cfg.DataDir)
		data, err := store.Get(context.Background(), types.PayloadID(args[0]))
		if err != nil {
			return fmt.Errorf("load payload: %w", err)
		}
		fmt.Fprintln(os.Stdout, string(data))
		return nil
	},
}

var jobRetryCmd = &cobra.Command{
	Use:   "retry <session-key> <job-id>",
	Short: "Re-run a failed job's action set under a fresh id",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)
		orch, err := buildOrchestrator(cfg)
		if err != nil {
			return err
		}
		msg, err := orch.RetryActionRun(context.Background(), types.SessionKey(args[0]), types.TrackingID(args[1]))
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Retry started as %s (message %s, status %s)\n",
			msg.Meta.TrackingID, msg.ID, msg.Status)
		if msg.Content != "" {
			fmt.Fprintln(os.Stdout, msg.Content)
		}
		return nil
	},
}
