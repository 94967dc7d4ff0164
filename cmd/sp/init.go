package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/spoolhq/spool/internal/project"
	"github.com/spoolhq/spool/internal/syncbranch"
	"github.com/spoolhq/spool/internal/telemetry"
	"github.com/spoolhq/spool/internal/vcs"
	"github.com/spoolhq/spool/internal/worktree"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize spool in the current repository",
	Long: `Initialize spool in the current repository.

Creates .spool/config.yaml on the current branch, a dedicated sync branch
for issue data, and the isolated sync worktree that stages local changes.
The issue prefix defaults to the repository directory name.`,
	Run: func(cmd *cobra.Command, _ []string) {
		prefix, _ := cmd.Flags().GetString("prefix")
		branch, _ := cmd.Flags().GetString("branch")
		force, _ := cmd.Flags().GetBool("force")
		quiet, _ := cmd.Flags().GetBool("quiet")

		root, err := project.FindRepoRoot(".")
		if err != nil {
			if errors.Is(err, project.ErrNoRepo) {
				FatalErrorWithHint("not inside a git repository", "run 'git init' first, then 'sp init'")
			}
			FatalError("%v", err)
		}

		if project.Initialized(root) && !force {
			FatalErrorWithHint("spool is already initialized in this repository", "use 'sp init --force' to reinitialize")
		}

		ctx := cmd.Context()
		g := telemetry.WrapVCS(vcs.NewGit())

		// The sync branch needs a commit to start from.
		if _, err := g.RevParse(ctx, root, "HEAD"); err != nil {
			FatalErrorWithHint("repository has no commits yet", "create an initial commit, then run 'sp init'")
		}

		// Prefix precedence: flag > existing config > directory name.
		if prefix == "" {
			if cfg, err := project.LoadConfig(root); err == nil {
				prefix = cfg.IssuePrefix
			}
		}
		if prefix == "" {
			prefix = project.DerivePrefix(filepath.Base(root))
		}
		if err := project.ValidatePrefix(prefix); err != nil {
			FatalError("invalid issue prefix: %v", err)
		}

		if branch == "" {
			branch = syncbranch.DefaultBranch
		}
		if err := syncbranch.ValidateBranchName(branch); err != nil {
			FatalError("invalid sync branch: %v", err)
		}

		spoolDir := project.SpoolDirIn(root)
		cfg := project.DefaultConfig(prefix)
		cfg.SyncBranch = branch
		if err := cfg.Save(spoolDir); err != nil {
			FatalError("%v", err)
		}
		if err := project.WriteGitignore(spoolDir); err != nil {
			FatalError("%v", err)
		}

		manager := worktree.NewManager(g, root, branch)
		wt, err := manager.Repair(ctx)
		if err != nil {
			WarnError("failed to create sync worktree: %v", err)
			fmt.Fprintf(os.Stderr, "You can try again with: %s\n", color.New(color.FgCyan).Sprint("sp doctor --fix"))
			os.Exit(1)
		}

		if quiet {
			return
		}

		green := color.New(color.FgGreen).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()
		fmt.Printf("%s Initialized spool in %s\n", green("✓"), root)
		fmt.Printf("  Issue prefix: %s\n", cyan(prefix))
		fmt.Printf("  Sync branch:  %s\n", cyan(branch))
		fmt.Printf("  Worktree:     %s\n", wt)
		fmt.Println()
		fmt.Printf("Create your first issue with: %s\n", cyan("sp create \"My first issue\""))
		fmt.Printf("Commit %s so other clones share this configuration.\n", filepath.Join(project.DirName, project.ConfigFileName))
	},
}

func init() {
	initCmd.Flags().String("prefix", "", "Issue prefix for display IDs (default: directory name)")
	initCmd.Flags().String("branch", "", fmt.Sprintf("Sync branch name (default: %s)", syncbranch.DefaultBranch))
	initCmd.Flags().Bool("force", false, "Reinitialize even if spool is already set up")
	initCmd.Flags().BoolP("quiet", "q", false, "Suppress output")
	rootCmd.AddCommand(initCmd)
}
