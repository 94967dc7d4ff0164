package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/spoolhq/spool/internal/syncer"
	"github.com/spoolhq/spool/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize issues with the git remote",
	Long: `Synchronize the sync branch with the remote in a single operation:

1. Commit staged local changes in the sync worktree
2. Fetch the remote sync branch
3. Merge, resolving issue files field by field; irreconcilable edits are
   preserved in the attic, never discarded
4. Push the merged branch

Failures are classified: permanent ones keep your work committed locally,
transient ones suggest retrying (--retry retries with backoff), and unknown
ones report both options. A repository with no remote completes locally.

Use --status to show the last sync outcome and pending conflicts.`,
	Run: func(cmd *cobra.Command, _ []string) {
		message, _ := cmd.Flags().GetString("message")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		noPush, _ := cmd.Flags().GetBool("no-push")
		retry, _ := cmd.Flags().GetBool("retry")
		status, _ := cmd.Flags().GetBool("status")
		ctx := cmd.Context()

		env, err := openEnv(ctx)
		if err != nil {
			Fail(err)
		}
		s := syncer.New(env.proj, env.git, env.manager)

		if status {
			showSyncStatus(s)
			return
		}

		opts := syncer.Options{
			Message:  message,
			DryRun:   dryRun,
			NoPush:   noPush,
			Progress: consoleProgress{},
		}

		var res *syncer.Result
		if retry {
			res, err = s.SyncWithRetry(ctx, opts)
		} else {
			res, err = s.Sync(ctx, opts)
		}
		if err != nil {
			Fail(err)
		}

		reportSyncResult(res)
	},
}

// consoleProgress prints protocol stages as they run.
type consoleProgress struct{}

func (consoleProgress) Step(msg string) { fmt.Printf("→ %s\n", msg) }
func (consoleProgress) Done(msg string) { fmt.Printf("%s %s\n", color.GreenString("✓"), msg) }

func reportSyncResult(res *syncer.Result) {
	if res.Phase != syncer.PhaseDone {
		return // dry run already narrated itself
	}
	switch {
	case res.LocalOnly:
		// the progress line already said so
	case res.Pushed:
		fmt.Printf("%s Sync complete; local and remote are aligned.\n", color.GreenString("✓"))
	default:
		fmt.Printf("%s Sync complete (push skipped).\n", color.GreenString("✓"))
	}
	if len(res.Conflicts) > 0 {
		fmt.Println()
		fmt.Printf("%s %d issue(s) had divergent edits:\n", ui.RenderWarnIcon(), len(res.Conflicts))
		for _, c := range res.Conflicts {
			name := c.DisplayID
			if name == "" {
				name = c.IssueID
			}
			fmt.Printf("  %s %s (%s)\n", ui.RenderWarn(name), c.Reason, c.Outcome)
		}
		fmt.Println("The losing versions are preserved in the attic; review with 'sp attic list'.")
	}
}

// showSyncStatus reports the durable record of the last sync and any pending
// conflicts without touching the network.
func showSyncStatus(s *syncer.Syncer) {
	state, conflicts, err := s.Status()
	if err != nil {
		FatalError("%v", err)
	}

	if state.LastSyncAt != nil {
		fmt.Printf("Last successful sync: %s\n", state.LastSyncAt.Format(time.RFC3339))
	} else {
		fmt.Println("Never synced.")
	}
	if f := state.Failure; f != nil {
		fmt.Println()
		fmt.Printf("%s Last attempt failed at %s during %s\n", ui.RenderFailIcon(), f.At.Format(time.RFC3339), f.Phase)
		fmt.Printf("  Class:   %s\n", f.Class)
		fmt.Printf("  Message: %s\n", f.Message)
		switch f.Class {
		case "permanent":
			fmt.Println("  Fix the underlying problem, then run 'sp sync' again.")
		case "transient":
			fmt.Println("  Try 'sp sync' or 'sp sync --retry'.")
		default:
			fmt.Println("  Try 'sp sync' again; your changes remain committed locally either way.")
		}
	}
	if len(conflicts) > 0 {
		fmt.Println()
		fmt.Printf("%s %d unresolved conflict record(s):\n", ui.RenderWarnIcon(), len(conflicts))
		for _, c := range conflicts {
			name := c.DisplayID
			if name == "" {
				name = c.IssueID
			}
			fmt.Printf("  %s %s at %s\n", name, c.Outcome, c.At.Format(time.RFC3339))
		}
		fmt.Println("Review with 'sp attic list', then clear records with 'sp attic resolve'.")
	}
	if state.Failure == nil && len(conflicts) == 0 && state.LastSyncAt != nil {
		fmt.Fprintln(os.Stdout, "No failures, no pending conflicts.")
	}
}

func init() {
	syncCmd.Flags().StringP("message", "m", "", "Commit message for staged changes (default: auto-generated)")
	syncCmd.Flags().Bool("dry-run", false, "Preview the stages a sync would run")
	syncCmd.Flags().Bool("no-push", false, "Stop after merging; publish nothing")
	syncCmd.Flags().Bool("retry", false, "Retry automatically while failures classify as transient")
	syncCmd.Flags().Bool("status", false, "Show the last sync outcome and pending conflicts")
	rootCmd.AddCommand(syncCmd)
}
