package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var execCmd = &cobra.Command{
	Use:   "exec <command> [arg]",
	Short: "Run a single assistant command directly",
	Long: `Run one assistant command on the server without a chat turn.

Examples:
  nova exec time
  nova exec open_url github.com
  nova exec system battery_status`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runExec,
}

func runExec(cmd *cobra.Command, args []string) error {
	arg := ""
	if len(args) > 1 {
		arg = args[1]
	}

	result, err := apiClient.RunCommand(context.Background(), args[0], arg)
	if err != nil {
		return fmt.Errorf("run command: %w", err)
	}

	if !result.Success {
		exitWithError("%s", result.Message)
	}
	fmt.Println(result.Message)
	return nil
}
