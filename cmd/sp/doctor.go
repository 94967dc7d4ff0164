package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/spoolhq/spool/internal/identity"
	"github.com/spoolhq/spool/internal/lockfile"
	"github.com/spoolhq/spool/internal/project"
	"github.com/spoolhq/spool/internal/syncbranch"
	"github.com/spoolhq/spool/internal/syncer"
	"github.com/spoolhq/spool/internal/telemetry"
	"github.com/spoolhq/spool/internal/ui"
	"github.com/spoolhq/spool/internal/vcs"
	"github.com/spoolhq/spool/internal/worktree"
)

// checkStatus is the outcome of one doctor check.
type checkStatus string

const (
	checkPass checkStatus = "pass"
	checkWarn checkStatus = "warn"
	checkFail checkStatus = "fail"
	checkSkip checkStatus = "skip"
)

// checkResult is one row of doctor output.
type checkResult struct {
	Name   string      `json:"name"`
	Status checkStatus `json:"status"`
	Detail string      `json:"detail,omitempty"`
	// Fixable names the repair this result points at, when one exists.
	Fixable string `json:"fixable,omitempty"`
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the health of the spool setup",
	Long: `Run read-only health checks: repository and configuration presence,
sync branch validity, worktree state, mapping table integrity, pending
conflicts, and remote configuration.

Ordinary commands fail fast on a broken worktree instead of repairing it,
because silent repair can mask deeper git corruption. --fix is the explicit
repair path: it recreates the sync worktree and prunes stale registrations.`,
	Run: func(cmd *cobra.Command, _ []string) {
		fix, _ := cmd.Flags().GetBool("fix")
		jsonOut, _ := cmd.Flags().GetBool("json")
		ctx := cmd.Context()

		// Repair runs before the health checks so the checks report the
		// repaired state, not the one --fix was invoked to fix.
		results, env := doctorPreconditions(ctx)
		if fix {
			results = append(results, runDoctorFix(ctx, env))
		}
		if env.manager != nil {
			results = append(results, runParallelChecks(ctx, env)...)
		}

		if jsonOut {
			data, err := json.MarshalIndent(results, "", "  ")
			if err != nil {
				FatalError("%v", err)
			}
			fmt.Println(string(data))
		} else {
			printDoctorResults(results)
		}

		for _, r := range results {
			if r.Status == checkFail {
				os.Exit(1)
			}
		}
	},
}

// doctorEnv carries whatever doctor managed to discover. Unlike openEnv it
// degrades per field instead of failing, so later checks can still report.
type doctorEnv struct {
	root    string
	git     vcs.VCS
	proj    *project.Project
	branch  string
	manager *worktree.Manager
}

// doctorPreconditions discovers the repository, configuration, and sync
// branch. Everything else depends on these, so they run sequentially and a
// failure cuts the report short.
func doctorPreconditions(ctx context.Context) ([]checkResult, *doctorEnv) {
	env := &doctorEnv{git: telemetry.WrapVCS(vcs.NewGit())}

	repoCheck := checkResult{Name: "git repository", Status: checkPass}
	root, err := project.FindRepoRoot(".")
	if err != nil {
		repoCheck.Status = checkFail
		repoCheck.Detail = "not inside a git repository"
		return []checkResult{repoCheck}, env
	}
	env.root = root
	repoCheck.Detail = root

	configCheck := checkResult{Name: "configuration", Status: checkPass}
	proj, err := project.Open(root)
	if err != nil {
		configCheck.Status = checkFail
		configCheck.Detail = err.Error() + " (" + hintInit + ")"
		return []checkResult{repoCheck, configCheck}, env
	}
	env.proj = proj
	configCheck.Detail = proj.ConfigPath()

	branchCheck := checkResult{Name: "sync branch", Status: checkPass}
	branch, err := syncbranch.Resolve(ctx, env.git, root, proj.Config.SyncBranch)
	if err != nil {
		branchCheck.Status = checkFail
		branchCheck.Detail = err.Error()
		return []checkResult{repoCheck, configCheck, branchCheck}, env
	}
	env.branch = branch
	env.manager = worktree.NewManager(env.git, root, branch)
	branchCheck.Detail = branch

	return []checkResult{repoCheck, configCheck, branchCheck}, env
}

// runParallelChecks runs the independent health checks concurrently and
// returns them in a stable order.
func runParallelChecks(ctx context.Context, env *doctorEnv) []checkResult {
	var (
		worktreeCheck = checkResult{Name: "sync worktree"}
		mappingCheck  = checkResult{Name: "mapping table"}
		conflictCheck = checkResult{Name: "pending conflicts"}
		remoteCheck   = checkResult{Name: "remote"}
		lockCheck     = checkResult{Name: "stale locks"}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		worktreeCheck = checkWorktree(gctx, env)
		return nil
	})
	g.Go(func() error {
		mappingCheck = checkMapping(gctx, env)
		return nil
	})
	g.Go(func() error {
		conflictCheck = checkConflicts(env)
		return nil
	})
	g.Go(func() error {
		remoteCheck = checkRemote(gctx, env)
		return nil
	})
	g.Go(func() error {
		lockCheck = checkLocks(env)
		return nil
	})
	_ = g.Wait() // checks report through their results, never through errors

	return []checkResult{worktreeCheck, mappingCheck, conflictCheck, remoteCheck, lockCheck}
}

func checkWorktree(ctx context.Context, env *doctorEnv) checkResult {
	r := checkResult{Name: "sync worktree"}
	path, err := env.manager.Resolve(ctx)
	if err != nil {
		r.Status = checkFail
		r.Detail = err.Error()
		return r
	}
	state, detail := env.manager.Validate(ctx, path)
	switch state {
	case worktree.StateHealthy:
		r.Status = checkPass
		r.Detail = path
	case worktree.StateMissing:
		r.Status = checkFail
		r.Detail = fmt.Sprintf("sync worktree missing: %s", path)
		r.Fixable = "sp doctor --fix"
	default:
		r.Status = checkFail
		r.Detail = fmt.Sprintf("sync worktree corrupted: %s", detail)
		r.Fixable = "sp doctor --fix"
	}
	return r
}

func checkMapping(ctx context.Context, env *doctorEnv) checkResult {
	r := checkResult{Name: "mapping table"}
	path, err := env.manager.Resolve(ctx)
	if err != nil {
		r.Status = checkSkip
		r.Detail = "worktree unavailable"
		return r
	}
	table, err := identity.LoadTable(project.IDMapPathIn(path), env.proj.Config.IssuePrefix)
	if err != nil {
		r.Status = checkFail
		r.Detail = err.Error()
		return r
	}
	if dupes := table.DuplicateDisplays(); len(dupes) > 0 {
		keys := make([]string, 0, len(dupes))
		for d := range dupes {
			keys = append(keys, d)
		}
		r.Status = checkFail
		r.Detail = fmt.Sprintf("display IDs mapped to multiple issues: %s (sync to fold the table)", strings.Join(keys, ", "))
		return r
	}
	r.Status = checkPass
	r.Detail = fmt.Sprintf("%d entries", table.Len())
	return r
}

func checkConflicts(env *doctorEnv) checkResult {
	r := checkResult{Name: "pending conflicts"}
	records, err := syncer.LoadConflicts(env.proj.ConflictsPath())
	if err != nil {
		r.Status = checkFail
		r.Detail = err.Error()
		return r
	}
	if len(records) > 0 {
		r.Status = checkWarn
		r.Detail = fmt.Sprintf("%d unresolved record(s); review with 'sp attic list'", len(records))
		return r
	}
	r.Status = checkPass
	r.Detail = "none"
	return r
}

func checkRemote(ctx context.Context, env *doctorEnv) checkResult {
	r := checkResult{Name: "remote"}
	has, err := env.git.HasRemote(ctx, env.root, env.proj.Config.Remote)
	if err != nil {
		r.Status = checkFail
		r.Detail = err.Error()
		return r
	}
	if !has {
		r.Status = checkWarn
		r.Detail = fmt.Sprintf("remote %q not configured; sync will be local-only", env.proj.Config.Remote)
		return r
	}
	r.Status = checkPass
	r.Detail = env.proj.Config.Remote
	return r
}

func checkLocks(env *doctorEnv) checkResult {
	r := checkResult{Name: "stale locks", Status: checkPass, Detail: "none"}
	for _, name := range []string{"sync", "idmap"} {
		info, err := lockfile.ReadInfo(env.proj.LockPath(name))
		if err != nil || info == nil {
			continue
		}
		if info.Running() {
			r.Status = checkWarn
			r.Detail = fmt.Sprintf("%s lock held by pid %d (%s)", name, info.PID, info.Operation)
		} else {
			r.Status = checkWarn
			r.Detail = fmt.Sprintf("%s lock left by dead pid %d; it will be reclaimed automatically", name, info.PID)
		}
	}
	return r
}

// runDoctorFix is the explicit repair path: recreate or re-link the sync
// worktree. Idempotent; a healthy worktree passes through unchanged.
func runDoctorFix(ctx context.Context, env *doctorEnv) checkResult {
	r := checkResult{Name: "repair"}
	if env.manager == nil {
		r.Status = checkSkip
		r.Detail = "nothing to repair before configuration exists"
		return r
	}
	path, err := env.manager.Repair(ctx)
	if err != nil {
		r.Status = checkFail
		r.Detail = err.Error()
		return r
	}
	r.Status = checkPass
	r.Detail = fmt.Sprintf("sync worktree ready at %s", path)
	return r
}

func printDoctorResults(results []checkResult) {
	for _, r := range results {
		var icon string
		switch r.Status {
		case checkPass:
			icon = ui.RenderPassIcon()
		case checkWarn:
			icon = ui.RenderWarnIcon()
		case checkFail:
			icon = ui.RenderFailIcon()
		default:
			icon = ui.RenderSkipIcon()
		}
		fmt.Printf("%s %-18s %s\n", icon, r.Name, r.Detail)
		if r.Fixable != "" {
			fmt.Printf("  %s\n", ui.RenderMuted("fix with: "+r.Fixable))
		}
	}
}

func init() {
	doctorCmd.Flags().Bool("fix", false, "Repair the sync worktree")
	doctorCmd.Flags().Bool("json", false, "Output JSON")
	rootCmd.AddCommand(doctorCmd)
}
