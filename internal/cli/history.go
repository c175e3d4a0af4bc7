package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var historyClear bool

var historyCmd = &cobra.Command{
	Use:   "history [conversation-id]",
	Short: "List or show conversations",
	Long: `List stored conversations, or show one transcript.

Examples:
  nova history
  nova history 3f1c9a52-...
  nova history 3f1c9a52-... --clear`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().BoolVar(&historyClear, "clear", false, "clear the given conversation")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if len(args) == 0 {
		summaries, err := apiClient.Conversations(ctx)
		if err != nil {
			return fmt.Errorf("list conversations: %w", err)
		}
		if len(summaries) == 0 {
			fmt.Println("No conversations yet.")
			return nil
		}
		for _, s := range summaries {
			fmt.Printf("%s  %3d messages  %s\n", s.ID, s.MessageCount, s.Preview)
		}
		return nil
	}

	id := args[0]
	if historyClear {
		if err := apiClient.ClearConversation(ctx, id); err != nil {
			return fmt.Errorf("clear conversation: %w", err)
		}
		fmt.Printf("Cleared %s\n", id)
		return nil
	}

	messages, err := apiClient.Conversation(ctx, id)
	if err != nil {
		return fmt.Errorf("get conversation: %w", err)
	}
	for _, msg := range messages {
		fmt.Printf("[%s] %s: %s\n", msg.Timestamp.Format("15:04:05"), msg.Role, msg.Content)
	}
	return nil
}
