package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var chatMessage string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the assistant",
	Long: `Chat with the assistant interactively, or send a single message.

Without flags an interactive session opens; responses stream in as the
model produces them. With -m a single message is sent and the response
printed to stdout.

Examples:
  nova chat
  nova chat -m "What's the weather in Vienna?"`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatMessage, "message", "m", "", "send a single message and exit")
}

func runChat(cmd *cobra.Command, args []string) error {
	if chatMessage != "" {
		return runChatOnce(chatMessage)
	}
	return runChatUI(apiClient, userID)
}

// runChatOnce streams one response to stdout and prints any executed commands.
func runChatOnce(message string) error {
	ctx := context.Background()

	resp, err := apiClient.ChatStream(ctx, chatRequest(message, ""), func(delta string) error {
		fmt.Print(delta)
		return nil
	})
	if err != nil {
		return fmt.Errorf("chat: %w", err)
	}
	fmt.Println()

	for _, c := range resp.Commands {
		if c.Message != "" {
			fmt.Fprintf(os.Stderr, "→ %s\n", c.Message)
		}
	}
	return nil
}
