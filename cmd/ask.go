package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var askSessionID string

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask the knowledge base a single question",
	Long: `Sends one question through the assistant and prints the reply.
Pass --session to continue an earlier conversation.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAsk(strings.Join(args, " "))
	},
}

func init() {
	askCmd.Flags().StringVar(&askSessionID, "session", "", "session id to continue")
	rootCmd.AddCommand(askCmd)
}

func runAsk(question string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	sessionID := askSessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	reply, err := a.answer.Ask(ctx, sessionID, question)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	fmt.Println(reply)
	fmt.Printf("\n(session %s)\n", sessionID)
	return nil
}
