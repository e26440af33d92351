package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/agent"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/conversation"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/store"
	"github.com/spf13/cobra"
)

var (
	chatSession string
	chatNew     bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the agent in the terminal",
	Long: `Start an interactive chat with the agent.
Steps are printed as they arrive. Press Ctrl-C to cancel the current run.
Type /tokens for the conversation's usage, /new for a fresh conversation
and /exit to quit.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatSession, "session", "", "conversation id to resume")
	chatCmd.Flags().BoolVar(&chatNew, "new", false, "start a new conversation")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	if chatNew && chatSession != "" {
		return fmt.Errorf("--session and --new are mutually exclusive")
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	svc := s.runtime.Conversations
	out := cmd.OutOrStdout()

	conv, err := pickConversation(ctx, svc)
	if err != nil {
		return err
	}
	if err := svc.Activate(ctx, conv.ID); err != nil {
		return err
	}
	fmt.Fprintf(out, "Conversation %s (%s)\n", conv.ID, conv.Title)

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/tokens":
			summary, err := svc.Tokens(ctx, conv.ID)
			if err != nil {
				return err
			}
			printTokens(out, summary.Cumulative)
			fmt.Fprintln(out)
			continue
		case "/new":
			conv, err = svc.Create(ctx, "")
			if err != nil {
				return err
			}
			if err := svc.Activate(ctx, conv.ID); err != nil {
				return err
			}
			fmt.Fprintf(out, "Conversation %s (%s)\n", conv.ID, conv.Title)
			continue
		}

		if err := chatTurn(ctx, out, s, conv.ID, line); err != nil {
			if errors.Is(err, agent.ErrConversationBusy) {
				fmt.Fprintln(out, "A run is already active for this conversation.")
				continue
			}
			return err
		}
	}
}

func pickConversation(ctx context.Context, svc *conversation.Service) (*store.Conversation, error) {
	switch {
	case chatSession != "":
		return svc.Get(ctx, chatSession)
	case chatNew:
		return svc.Create(ctx, "")
	default:
		return svc.GetOrCreateActive(ctx)
	}
}

// chatTurn runs one message and prints its steps. SIGINT cancels the run
// instead of killing the process.
func chatTurn(ctx context.Context, out io.Writer, s *session, id, message string) error {
	svc := s.runtime.Conversations
	run, err := svc.Send(ctx, id, message)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			run.Cancel()
		case <-run.Done():
		}
	}()

	sub := run.Events.Subscribe()
	defer sub.Close()
	for evt := range sub.Events(ctx) {
		printEvent(out, evt)
	}

	// Failures were already printed as error events.
	if _, err := run.Wait(ctx); err != nil && ctx.Err() != nil {
		return err
	}

	if err := s.runtime.Ledger.Flush(ctx); err != nil {
		return err
	}
	totals, err := s.runtime.Ledger.RunTotals(ctx, id, run.RunNumber)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "run %d: %d steps, ", run.RunNumber, totals.Steps)
	printTokens(out, totals.Tokens)
	fmt.Fprintln(out)
	return nil
}
