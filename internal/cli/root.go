// Package cli provides the command-line interface for nova.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/nova/internal/client"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	serverURL string
	userID    string

	// Shared client, created before every command runs.
	apiClient *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "nova",
	Short: "Voice-style AI assistant client",
	Long: `Nova is a conversational AI assistant with command execution.

Chat with the assistant from your terminal; the model can trigger actions
like opening URLs, checking the weather, or fetching headlines as part of
its responses.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		apiClient = client.New(serverURL)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "", "server URL (default NOVA_SERVER_URL or http://localhost:3001)")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "", "user id for personalization")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(execCmd)
}

// exitWithError prints an error message and exits with code 1.
func exitWithError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
