// Command sp is the spool CLI: a git-native identity and synchronization
// layer for a distributed issue tracker. Issues live one-per-file on a
// dedicated sync branch, staged in an isolated worktree and reconciled with
// the remote by an explicit fetch/merge/push protocol.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spoolhq/spool/internal/telemetry"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

var (
	// authorFlag overrides actor detection for attribution.
	authorFlag string

	// Signal-aware context for graceful cancellation.
	rootCtx    context.Context
	rootCancel context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:   "sp",
	Short: "Git-native distributed issue tracking",
	Long: `sp tracks issues as files on a dedicated git sync branch.

Every issue has a stable internal ID and a short display ID you can type.
Local changes are staged in an isolated sync worktree and published with
'sp sync', which merges divergent edits field by field and preserves the
losing side of any irreconcilable conflict in the attic.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		if err := telemetry.Init(rootCtx, "sp", Version); err != nil {
			WarnError("telemetry init failed: %v", err)
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, _ []string) {
		telemetry.Shutdown(rootCtx)
	},
}

// getActor returns the identity recorded on created issues and comments.
// Priority: --author flag > config (which already layers SPOOL_AUTHOR) >
// git config user.name > $USER > "unknown".
func getActor(env *cmdEnv) string {
	if authorFlag != "" {
		return authorFlag
	}
	if env != nil && env.proj.Config.Author != "" {
		return env.proj.Config.Author
	}
	if env != nil {
		if name, err := env.git.ConfigGet(rootCtx, env.proj.Root, "user.name"); err == nil && name != "" {
			return name
		}
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "unknown"
}

func init() {
	rootCmd.PersistentFlags().StringVar(&authorFlag, "author", "", "Attribution for created issues and comments (default: git identity)")
}

func main() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer rootCancel()

	if err := rootCmd.ExecuteContext(rootCtx); err != nil {
		telemetry.Shutdown(rootCtx)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
