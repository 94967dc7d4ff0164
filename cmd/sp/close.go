package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/spoolhq/spool/internal/types"
)

var closeCmd = &cobra.Command{
	Use:   "close <id>",
	Short: "Close an issue",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		reason, _ := cmd.Flags().GetString("reason")
		ctx := cmd.Context()

		env, err := openEnv(ctx)
		if err != nil {
			Fail(err)
		}
		internalID := env.resolve(args[0])
		issue, err := env.issues.Load(internalID)
		if err != nil {
			Fail(err)
		}
		if issue.IsTombstone() {
			FatalError("issue %s is deleted", issue.DisplayID)
		}
		if issue.Status == types.StatusClosed {
			FatalError("issue %s is already closed", issue.DisplayID)
		}

		now := time.Now().UTC()
		issue.Status = types.StatusClosed
		issue.ClosedAt = &now
		issue.CloseReason = reason
		issue.UpdatedAt = now

		if err := env.issues.Save(issue); err != nil {
			FatalError("%v", err)
		}
		if err := env.commit(ctx, fmt.Sprintf("sp close: %s", issue.DisplayID)); err != nil {
			FatalError("failed to commit close: %v", err)
		}
		fmt.Printf("%s Closed %s\n", color.GreenString("✓"), issue.DisplayID)
	},
}

func init() {
	closeCmd.Flags().String("reason", "", "Why the issue is closed")
	rootCmd.AddCommand(closeCmd)
}
