package main

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/spoolhq/spool/internal/types"
)

var updateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update issue fields",
	Long: `Update fields of an existing issue.

Labels use +/- syntax: --label +urgent adds, --label -stale removes. A bare
label name adds. Immutable fields (IDs, creation metadata) cannot change.`,
	Args: cobra.ExactArgs(1),
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

		changed := false
		if cmd.Flags().Changed("title") {
			issue.Title, _ = cmd.Flags().GetString("title")
			changed = true
		}
		if cmd.Flags().Changed("description") {
			issue.Description, _ = cmd.Flags().GetString("description")
			changed = true
		}
		if cmd.Flags().Changed("status") {
			statusStr, _ := cmd.Flags().GetString("status")
			status := types.Status(statusStr)
			if !status.IsValid() {
				FatalError("invalid status %q (want open, in_progress, blocked, or closed)", statusStr)
			}
			if status == types.StatusClosed {
				FatalError("use 'sp close %s' to close an issue", args[0])
			}
			issue.Status = status
			issue.ClosedAt = nil
			issue.CloseReason = ""
			changed = true
		}
		if cmd.Flags().Changed("priority") {
			issue.Priority, _ = cmd.Flags().GetInt("priority")
			changed = true
		}
		if cmd.Flags().Changed("assignee") {
			issue.Assignee, _ = cmd.Flags().GetString("assignee")
			changed = true
		}
		if cmd.Flags().Changed("notes") {
			issue.Notes, _ = cmd.Flags().GetString("notes")
			changed = true
		}
		if cmd.Flags().Changed("label") {
			labels, _ := cmd.Flags().GetStringArray("label")
			issue.Labels = applyLabelEdits(issue.Labels, labels)
			changed = true
		}

		if !changed {
			FatalError("nothing to update (see 'sp update --help' for flags)")
		}

		issue.UpdatedAt = time.Now().UTC()
		if err := issue.Validate(); err != nil {
			FatalError("%v", err)
		}
		if err := env.issues.Save(issue); err != nil {
			FatalError("%v", err)
		}
		if err := env.commit(ctx, fmt.Sprintf("sp update: %s", issue.DisplayID)); err != nil {
			FatalError("failed to commit update: %v", err)
		}

		fmt.Printf("%s Updated %s\n", color.GreenString("✓"), issue.DisplayID)
	},
}

// applyLabelEdits applies +label / -label edits to a label set. A bare name
// adds. The result is sorted and deduplicated.
func applyLabelEdits(labels, edits []string) []string {
	set := make(map[string]bool, len(labels))
	for _, l := range labels {
		set[l] = true
	}
	for _, edit := range edits {
		edit = strings.TrimSpace(edit)
		switch {
		case strings.HasPrefix(edit, "-"):
			delete(set, edit[1:])
		case strings.HasPrefix(edit, "+"):
			if edit[1:] != "" {
				set[edit[1:]] = true
			}
		case edit != "":
			set[edit] = true
		}
	}
	out := make([]string, 0, len(set))
	for l := range set {
		out = append(out, l)
	}
	slices.Sort(out)
	return out
}

func init() {
	updateCmd.Flags().String("title", "", "New title")
	updateCmd.Flags().StringP("description", "d", "", "New description")
	updateCmd.Flags().StringP("status", "s", "", "New status (open, in_progress, blocked)")
	updateCmd.Flags().IntP("priority", "p", 2, "New priority 0-4")
	updateCmd.Flags().String("assignee", "", "New assignee (empty to clear)")
	updateCmd.Flags().String("notes", "", "Replace working notes")
	updateCmd.Flags().StringArrayP("label", "l", nil, "Label edit: +name adds, -name removes (repeatable)")
	rootCmd.AddCommand(updateCmd)
}
