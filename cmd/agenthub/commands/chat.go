package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agenthub-ai/agenthub/internal/adapter"
	"github.com/agenthub-ai/agenthub/internal/config"
	"github.com/agenthub-ai/agenthub/internal/event"
	"github.com/agenthub-ai/agenthub/internal/logging"
	"github.com/agenthub-ai/agenthub/internal/session"
	"github.com/agenthub-ai/agenthub/internal/storage"
	"github.com/agenthub-ai/agenthub/pkg/types"
)

var (
	chatBackend string
	chatMessage string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive session with a backend",
	Long: `Start an interactive session with a coding-agent backend.

Examples:
  agenthub chat --backend duplex
  agenthub chat --backend polling -m "Explain main.go"`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatBackend, "backend", "b", "duplex", "Backend type (duplex|polling)")
	chatCmd.Flags().StringVarP(&chatMessage, "message", "m", "", "Send one message and exit after the turn completes")
}

func runChat(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(flagDirectory)
	if err != nil {
		return err
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return err
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	logging.Init(logging.Config{Level: logging.ParseLevel(cfg.LogLevel), Pretty: true})

	backendType := types.BackendType(chatBackend)
	factory := adapter.NewFactory(cfg)
	backend, err := factory.Create(backendType)
	if err != nil {
		return err
	}

	store := storage.New(cfg.DataDir)
	bus := event.NewBus()
	defer bus.Close()

	sess := session.New(backendType, backend, bus, store, cfg)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := sess.Connect(ctx); err != nil {
		return fmt.Errorf("connect failed: %w", err)
	}
	defer sess.Disconnect()

	events, err := sess.Subscribe(ctx)
	if err != nil {
		return err
	}

	turnDone := make(chan struct{}, 1)
	go renderEvents(events, turnDone)

	fmt.Printf("Connected to %s backend (session %s)\n", backendType, sess.ID())

	if chatMessage != "" {
		if err := sess.SendMessage(ctx, types.TextContent(chatMessage)); err != nil {
			return err
		}
		<-turnDone
		return nil
	}

	return inputLoop(ctx, sess, turnDone)
}

// inputLoop reads user lines from stdin. Lines starting with "/" are
// commands; everything else is sent as a message.
func inputLoop(ctx context.Context, sess *session.Session, turnDone <-chan struct{}) error {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/interrupt":
			if err := sess.Interrupt(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "interrupt failed: %v\n", err)
			}
		case strings.HasPrefix(line, "/approve ") || strings.HasPrefix(line, "/decline "):
			fields := strings.Fields(line)
			if len(fields) < 2 {
				fmt.Fprintln(os.Stderr, "usage: /approve <request-id> | /decline <request-id>")
				break
			}
			approved := fields[0] == "/approve"
			if err := sess.RespondToApproval(fields[1], approved, ""); err != nil {
				fmt.Fprintf(os.Stderr, "approval failed: %v\n", err)
			}
		default:
			err := sess.SendMessage(ctx, types.TextContent(line))
			switch {
			case err == session.ErrAlreadyGenerating:
				fmt.Fprintln(os.Stderr, "still generating; /interrupt to stop")
			case err != nil:
				fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
			default:
				<-turnDone
			}
		}
		fmt.Print("> ")
	}
	return scanner.Err()
}

// renderEvents prints the event stream and signals turnDone on each
// terminal event.
func renderEvents(events <-chan event.Event, turnDone chan<- struct{}) {
	for ev := range events {
		switch ev.Type {
		case event.TextDelta:
			fmt.Print(ev.Text)
		case event.ThinkingDelta:
			// Thinking is rendered dimmed-style with a prefix per chunk run.
		case event.ToolStarted:
			fmt.Printf("\n[tool %s started]\n", ev.ToolName)
		case event.ToolCompleted:
			status := "ok"
			if ev.Success != nil && !*ev.Success {
				status = "failed"
			}
			fmt.Printf("[tool %s %s]\n", ev.ToolName, status)
		case event.ApprovalRequest:
			fmt.Printf("\n[approval needed for %s: /approve %s | /decline %s]\n", ev.ToolName, ev.RequestID, ev.RequestID)
		case event.ApprovalResolved:
			fmt.Printf("[approval %s: %s]\n", ev.RequestID, ev.Status)
		case event.TurnCompleted:
			fmt.Printf("\n[turn %s]\n", ev.Status)
			signal(turnDone)
		case event.Error:
			fmt.Fprintf(os.Stderr, "\n[error %s: %s]\n", ev.Code, ev.Message)
			// Turn failures already signaled via their turn_completed event.
			if ev.Code == event.CodeConnectionFailed || ev.Code == event.CodeConnectionLost {
				signal(turnDone)
			}
		}
	}
	signal(turnDone)
}

func signal(ch chan<- struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
