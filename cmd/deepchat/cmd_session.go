package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/deepchat/internal/transcript"
	"github.com/user/deepchat/internal/types"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionClearCmd, sessionResyncCmd)
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		sessions := transcript.NewSessionStore(cfg.DataDir)
		log := transcript.NewMessageLog(cfg.DataDir)

		ctx := context.Background()
		list, err := sessions.List(ctx)
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		if len(list) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tTITLE\tPLAN\tMESSAGES\tUPDATED")
		for _, s := range list {
			count, err := log.Count(ctx, s.SessionID)
			if err != nil {
				count = 0
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				s.SessionKey,
				s.Title,
				s.PlanTitle,
				count,
				s.UpdatedAt.Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear <key|all>",
	Short: "Clear a session or all sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		orch, err := buildOrchestrator(cfg)
		if err != nil {
			return err
		}
		ctx := context.Background()

		if args[0] == "all" {
			sessions := transcript.NewSessionStore(cfg.DataDir)
			list, err := sessions.List(ctx)
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
			for _, s := range list {
				if err := orch.ClearSession(ctx, s.SessionKey); err != nil {
					return fmt.Errorf("clear %s: %w", s.SessionKey, err)
				}
			}
			fmt.Println("All sessions cleared.")
			return nil
		}

		if err := orch.ClearSession(ctx, types.SessionKey(args[0])); err != nil {
			return fmt.Errorf("clear session: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Session %s cleared.\n", args[0])
		return nil
	},
}

var sessionResyncCmd = &cobra.Command{
	Use:   "resync <key>",
	Short: "Resynchronize a session's transcript from the server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)
		orch, err := buildOrchestrator(cfg)
		if err != nil {
			return err
		}
		if err := orch.ResyncSession(context.Background(), types.SessionKey(args[0])); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Session %s resynced.\n", args[0])
		return nil
	},
}
