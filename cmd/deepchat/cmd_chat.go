package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/user/deepchat/internal/resync"
	"github.com/user/deepchat/internal/types"
)

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatSession, "session", "default", "session name")
	chatCmd.Flags().BoolVar(&chatPlain, "plain", false, "disable markdown rendering")
}

var (
	chatSession string
	chatPlain   bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Chat with the agent (interactive when no message is given)",
	Args:  cobra.ArbitraryArgs,
	RunE:  runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	orch, err := buildOrchestrator(cfg)
	if err != nil {
		return err
	}
	key := types.NewSessionKey("cli", chatSession)

	renderer := newRenderer(chatPlain)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched, err := resync.New(cfg.Resync.IntervalSecs, func() {
		orch.ResyncActive(context.Background())
	})
	if err != nil {
		return fmt.Errorf("create resync scheduler: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	// One-shot mode: send the argument and print the reply.
	if len(args) > 0 {
		msg, err := orch.Send(ctx, key, strings.Join(args, " "), nil)
		if err != nil {
			return err
		}
		fmt.Print(renderer.render(msg))
		return nil
	}

	fmt.Println("deepchat interactive session. Type /quit to exit, /retry to retry the last turn.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/retry":
			msg, err := orch.RetryLast(ctx, key)
			if err != nil {
				fmt.Fprintf(os.Stderr, "retry: %v\n", err)
				continue
			}
			fmt.Print(renderer.render(msg))
		case line == "/clear":
			if err := orch.ClearSession(ctx, key); err != nil {
				fmt.Fprintf(os.Stderr, "clear: %v\n", err)
				continue
			}
			fmt.Println("Session cleared.")
		case line == "/older":
			older, hasMore, err := orch.LoadOlder(ctx, key, cfg.Resync.PageSize)
			if err != nil {
				fmt.Fprintf(os.Stderr, "load older: %v\n", err)
				continue
			}
			for _, m := range older {
				fmt.Printf("[%s] %s\n", m.Role, m.Content)
			}
			if !hasMore {
				fmt.Println("(beginning of history)")
			}
		default:
			msg, err := orch.Send(ctx, key, line, nil)
			if err != nil {
				fmt.Fprintf(os.Stderr, "send: %v\n", err)
				if msg == nil {
					continue
				}
			}
			fmt.Print(renderer.render(msg))
		}
	}
	return scanner.Err()
}

// chatRenderer prints assistant messages, with markdown formatting
// unless plain mode is requested or the terminal renderer cannot start.
type chatRenderer struct {
	md *glamour.TermRenderer
}

func newRenderer(plain bool) *chatRenderer {
	if plain {
		return &chatRenderer{}
	}
	md, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return &chatRenderer{}
	}
	return &chatRenderer{md: md}
}

func (r *chatRenderer) render(msg *types.Message) string {
	var sb strings.Builder
	if msg.Status == types.StatusRunning {
		sb.WriteString("(still working in the background; the reply will land in this session)\n")
	}
	content := msg.Content
	if r.md != nil {
		if out, err := r.md.Render(content); err == nil {
			content = out
		}
	}
	sb.WriteString(content)
	if !strings.HasSuffix(content, "\n") {
		sb.WriteString("\n")
	}
	for _, e := range msg.Meta.Errors {
		sb.WriteString("  ! " + e + "\n")
	}
	return sb.String()
}
