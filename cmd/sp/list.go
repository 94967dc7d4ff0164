package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/spoolhq/spool/internal/timeparsing"
	"github.com/spoolhq/spool/internal/types"
	"github.com/spoolhq/spool/internal/ui"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List issues",
	Long: `List issues on the sync branch.

--since accepts compact durations (-2d), natural language ("3 days ago",
"last monday"), date-only (2025-02-01), or RFC3339 timestamps.`,
	Run: func(cmd *cobra.Command, _ []string) {
		statusFilter, _ := cmd.Flags().GetString("status")
		sinceExpr, _ := cmd.Flags().GetString("since")
		jsonOut, _ := cmd.Flags().GetBool("json")
		all, _ := cmd.Flags().GetBool("all")
		sortOrder, _ := cmd.Flags().GetString("sort")

		if statusFilter != "" && !types.Status(statusFilter).IsValid() {
			FatalError("invalid status %q (want open, in_progress, blocked, or closed)", statusFilter)
		}

		var since time.Time
		if sinceExpr != "" {
			t, err := timeparsing.ParseRelativeTime(sinceExpr, time.Now())
			if err != nil {
				FatalError("invalid --since: %v", err)
			}
			since = t
		}

		env, err := openEnv(cmd.Context())
		if err != nil {
			Fail(err)
		}

		issues, err := env.issues.List()
		if err != nil {
			FatalError("%v", err)
		}

		filtered := issues[:0]
		for _, issue := range issues {
			if issue.IsTombstone() && !all {
				continue
			}
			if statusFilter != "" && issue.Status != types.Status(statusFilter) {
				continue
			}
			if !since.IsZero() && issue.UpdatedAt.Before(since) {
				continue
			}
			filtered = append(filtered, issue)
		}
		types.SortIssues(filtered, types.ParseSortOrder(sortOrder))

		if jsonOut {
			data, err := json.MarshalIndent(filtered, "", "  ")
			if err != nil {
				FatalError("%v", err)
			}
			fmt.Println(string(data))
			return
		}

		if len(filtered) == 0 {
			fmt.Println("No issues found.")
			return
		}
		for _, issue := range filtered {
			line := fmt.Sprintf("%-14s P%d %-12s %s", issue.DisplayID, issue.Priority, issue.Status, ui.TruncateSimple(issue.Title, 72))
			if issue.IsTombstone() {
				line += ui.RenderMuted(" [deleted]")
			}
			if len(issue.Labels) > 0 {
				line += ui.RenderMuted(" (" + strings.Join(issue.Labels, ", ") + ")")
			}
			fmt.Println(line)
		}
	},
}

func init() {
	listCmd.Flags().StringP("status", "s", "", "Filter by status")
	listCmd.Flags().String("since", "", "Only issues updated since this time expression")
	listCmd.Flags().Bool("json", false, "Output JSON")
	listCmd.Flags().Bool("all", false, "Include deleted issues")
	listCmd.Flags().String("sort", "", "Sort order, e.g. \"priority,updated:desc\"")
	rootCmd.AddCommand(listCmd)
}
