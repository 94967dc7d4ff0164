package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/spoolhq/spool/internal/types"
)

var commentCmd = &cobra.Command{
	Use:   "comment <id> <text>",
	Short: "Add a comment to an issue",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
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

		text := strings.TrimSpace(strings.Join(args[1:], " "))
		if text == "" {
			FatalError("comment text is empty")
		}

		now := time.Now().UTC()
		issue.Comments = append(issue.Comments, types.Comment{
			Author:    getActor(env),
			Text:      text,
			CreatedAt: now,
		})
		issue.UpdatedAt = now

		if err := env.issues.Save(issue); err != nil {
			FatalError("%v", err)
		}
		if err := env.commit(ctx, fmt.Sprintf("sp comment: %s", issue.DisplayID)); err != nil {
			FatalError("failed to commit comment: %v", err)
		}
		fmt.Printf("%s Commented on %s\n", color.GreenString("✓"), issue.DisplayID)
	},
}

func init() {
	rootCmd.AddCommand(commentCmd)
}
