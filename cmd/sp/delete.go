package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an issue (tombstone)",
	Long: `Delete an issue.

Deletion never removes the issue file: the document becomes a tombstone and
the mapping table records a deletion marker, so every clone converges on the
same decision and the display ID is never reassigned.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		reason, _ := cmd.Flags().GetString("reason")
		ctx := cmd.Context()

		env, err := openEnv(ctx)
		if err != nil {
			Fail(err)
		}
		internalID := env.resolve(args[0])

		lock := env.lockMapping("delete")
		defer lock.Release()

		issue, err := env.issues.Load(internalID)
		if err != nil {
			Fail(err)
		}
		if issue.IsTombstone() {
			FatalError("issue %s is already deleted", issue.DisplayID)
		}

		now := time.Now().UTC()
		issue.DeletedAt = &now
		issue.DeletedBy = getActor(env)
		issue.DeleteReason = reason
		issue.UpdatedAt = now

		if err := env.issues.Save(issue); err != nil {
			FatalError("%v", err)
		}
		if err := env.table.MarkDeleted(internalID, now); err != nil {
			FatalError("%v", err)
		}
		if err := env.flushTable(); err != nil {
			FatalError("%v", err)
		}
		if err := env.commit(ctx, fmt.Sprintf("sp delete: %s", issue.DisplayID)); err != nil {
			FatalError("failed to commit deletion: %v", err)
		}
		fmt.Printf("%s Deleted %s\n", color.GreenString("✓"), issue.DisplayID)
	},
}

func init() {
	deleteCmd.Flags().String("reason", "", "Why the issue is deleted")
	rootCmd.AddCommand(deleteCmd)
}
