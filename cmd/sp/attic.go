package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/spoolhq/spool/internal/attic"
	"github.com/spoolhq/spool/internal/project"
	"github.com/spoolhq/spool/internal/syncer"
	"github.com/spoolhq/spool/internal/ui"
)

var atticCmd = &cobra.Command{
	Use:   "attic",
	Short: "Review preserved losing versions of merge conflicts",
	Long: `The attic holds the losing side of every irreconcilable merge conflict.

Nothing is ever silently discarded during a sync: when field rules cannot
reconcile two edits, one version stays canonical and the other lands here,
tracked on the sync branch so every clone can review it.`,
}

var atticListCmd = &cobra.Command{
	Use:   "list [id]",
	Short: "List attic entries",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		env, err := openEnv(cmd.Context())
		if err != nil {
			Fail(err)
		}
		a := attic.New(project.AtticDirIn(env.worktree))

		var refs []attic.Ref
		if len(args) == 1 {
			refs, err = a.ListIssue(env.resolve(args[0]))
		} else {
			refs, err = a.List()
		}
		if err != nil {
			FatalError("%v", err)
		}
		if len(refs) == 0 {
			fmt.Println("The attic is empty.")
			return
		}
		for _, ref := range refs {
			display := env.table.Display(ref.IssueID)
			if display == "" {
				display = ref.IssueID
			}
			fmt.Printf("%-14s %s  saved %s\n", display, ref.Name, ref.SavedAt.Format(time.RFC3339))
		}
	},
}

var atticShowCmd = &cobra.Command{
	Use:   "show <id> [entry]",
	Short: "Show a preserved version",
	Long: `Show a preserved losing version. With no entry name, shows the most
recent one for the issue.`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		env, err := openEnv(cmd.Context())
		if err != nil {
			Fail(err)
		}
		a := attic.New(project.AtticDirIn(env.worktree))
		entry := loadAtticEntry(env, a, args)

		fmt.Println(ui.RenderCategory(fmt.Sprintf("Attic entry for %s", env.table.DebugID(entry.IssueID))))
		fmt.Printf("Saved:  %s\n", entry.SavedAt.Format(time.RFC3339))
		fmt.Printf("Reason: %s\n", entry.Reason)
		for _, fc := range entry.Conflicts {
			fmt.Printf("  %s: kept %s\n", fc.Field, fc.Winner)
		}
		fmt.Println()
		if entry.Issue != nil {
			data, err := json.MarshalIndent(entry.Issue, "", "  ")
			if err != nil {
				FatalError("%v", err)
			}
			fmt.Println(string(data))
		} else {
			fmt.Println(entry.Raw)
		}
	},
}

var atticRestoreCmd = &cobra.Command{
	Use:   "restore <id> <entry>",
	Short: "Make a preserved version canonical again",
	Long: `Replace the current issue document with a preserved attic version.

The replaced document goes through the normal update path, so the next sync
publishes the restoration like any other edit. The attic entry itself is
kept; the attic only ever grows.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		env, err := openEnv(ctx)
		if err != nil {
			Fail(err)
		}
		a := attic.New(project.AtticDirIn(env.worktree))
		internalID := env.resolve(args[0])

		entry, err := a.Load(internalID, args[1])
		if err != nil {
			FatalError("%v", err)
		}
		if entry.Issue == nil {
			FatalErrorWithHint(
				fmt.Sprintf("attic entry %s did not parse as an issue document", args[1]),
				"inspect it with 'sp attic show' and restore the content manually")
		}

		restored := entry.Issue.Clone()
		restored.UpdatedAt = time.Now().UTC()
		if err := env.issues.Save(restored); err != nil {
			FatalError("%v", err)
		}
		if err := env.commit(ctx, fmt.Sprintf("sp attic restore: %s", env.table.Display(internalID))); err != nil {
			FatalError("failed to commit restore: %v", err)
		}
		fmt.Printf("%s Restored %s from the attic\n", color.GreenString("✓"), env.table.DebugID(internalID))
	},
}

var atticResolveCmd = &cobra.Command{
	Use:   "resolve <id>",
	Short: "Clear the pending conflict records for an issue",
	Long: `Mark an issue's conflicts as reviewed by clearing its records from
.spool/conflicts.json. The attic entries themselves are kept.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		env, err := openEnv(cmd.Context())
		if err != nil {
			Fail(err)
		}
		internalID := env.resolve(args[0])
		n, err := syncer.RemoveConflicts(env.proj.ConflictsPath(), internalID)
		if err != nil {
			FatalError("%v", err)
		}
		if n == 0 {
			fmt.Printf("No pending conflict records for %s.\n", env.table.Display(internalID))
			return
		}
		fmt.Printf("%s Cleared %d conflict record(s) for %s\n", color.GreenString("✓"), n, env.table.Display(internalID))
	},
}

var atticExplainCmd = &cobra.Command{
	Use:   "explain <id> [entry]",
	Short: "Summarize what a preserved version contains that the canonical one does not",
	Long: `Use Claude to compare a preserved attic version against the current
canonical issue and summarize what would be lost by discarding it.

Requires ANTHROPIC_API_KEY.`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		env, err := openEnv(ctx)
		if err != nil {
			Fail(err)
		}
		a := attic.New(project.AtticDirIn(env.worktree))
		entry := loadAtticEntry(env, a, args)

		current, err := env.issues.Load(entry.IssueID)
		if err != nil {
			Fail(err)
		}

		explainer, err := attic.NewExplainer(os.Getenv("ANTHROPIC_API_KEY"))
		if err != nil {
			if errors.Is(err, attic.ErrNoAPIKey) {
				FatalErrorWithHint("no API key configured", "set ANTHROPIC_API_KEY to use 'sp attic explain'")
			}
			FatalError("%v", err)
		}

		summary, err := explainer.Explain(ctx, entry, current)
		if err != nil {
			FatalError("explain failed: %v", err)
		}
		fmt.Print(ui.RenderMarkdown(summary))
	},
}

// loadAtticEntry resolves args ([id] or [id, entry]) to one attic entry,
// defaulting to the newest entry for the issue.
func loadAtticEntry(env *cmdEnv, a *attic.Attic, args []string) *attic.Entry {
	internalID := env.resolve(args[0])
	name := ""
	if len(args) == 2 {
		name = args[1]
	} else {
		refs, err := a.ListIssue(internalID)
		if err != nil {
			FatalError("%v", err)
		}
		if len(refs) == 0 {
			FatalError("no attic entries for %s", env.table.Display(internalID))
		}
		name = refs[len(refs)-1].Name
	}
	entry, err := a.Load(internalID, name)
	if err != nil {
		FatalError("%v", err)
	}
	return entry
}

func init() {
	atticCmd.AddCommand(atticListCmd, atticShowCmd, atticRestoreCmd, atticResolveCmd, atticExplainCmd)
	rootCmd.AddCommand(atticCmd)
}
