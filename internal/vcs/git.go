package vcs

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// CommandError carries the structured result of a failed git invocation.
// The sync error classifier prefers these structured fields over re-parsing
// wrapped message strings.
type CommandError struct {
	Args     []string
	ExitCode int
	Output   string
	Err      error
}

func (e *CommandError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	}
	return fmt.Sprintf("git %s: %v\n%s", strings.Join(e.Args, " "), e.Err, e.Output)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Git runs the git binary as a subprocess. The zero value is usable.
type Git struct {
	// Program overrides the binary name, for tests. Defaults to "git".
	Program string
}

// NewGit returns a subprocess-backed VCS.
func NewGit() *Git { return &Git{} }

var _ VCS = (*Git)(nil)

func (g *Git) program() string {
	if g.Program != "" {
		return g.Program
	}
	return "git"
}

// run executes git with combined output capture. Mutating operations use
// this so error text includes everything git printed (the classifier works
// on that text).
func (g *Git) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, g.program(), args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", g.wrap(args, out, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// output executes git capturing stdout only. Queries use this so stderr
// chatter (advice, hints) never leaks into parsed values.
func (g *Git) output(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, g.program(), args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		var stderr []byte
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			stderr = exitErr.Stderr
		}
		return "", g.wrap(args, stderr, err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (g *Git) wrap(args []string, out []byte, err error) error {
	code := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}
	return &CommandError{
		Args:     args,
		ExitCode: code,
		Output:   strings.TrimSpace(string(out)),
		Err:      err,
	}
}

func (g *Git) RepoRoot(ctx context.Context, dir string) (string, error) {
	root, err := g.output(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotARepository, err)
	}
	return root, nil
}

func (g *Git) GitDir(ctx context.Context, dir string) (string, error) {
	out, err := g.output(ctx, dir, "rev-parse", "--git-dir")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotARepository, err)
	}
	// rev-parse may answer with a path relative to dir (typically ".git").
	if !filepath.IsAbs(out) {
		out = filepath.Join(dir, out)
	}
	return filepath.Clean(out), nil
}

func (g *Git) CommonDir(ctx context.Context, dir string) (string, error) {
	out, err := g.output(ctx, dir, "rev-parse", "--git-common-dir")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotARepository, err)
	}
	if !filepath.IsAbs(out) {
		out = filepath.Join(dir, out)
	}
	return filepath.Clean(out), nil
}

func (g *Git) CurrentBranch(ctx context.Context, dir string) (string, error) {
	branch, err := g.output(ctx, dir, "symbolic-ref", "--short", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to get current branch: %w", err)
	}
	return branch, nil
}

func (g *Git) BranchExists(ctx context.Context, dir, branch string) (bool, error) {
	_, err := g.output(ctx, dir, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch)
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) && cmdErr.ExitCode == 1 {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (g *Git) RemoteBranchExists(ctx context.Context, dir, remote, branch string) (bool, error) {
	ref := "refs/remotes/" + remote + "/" + branch
	_, err := g.output(ctx, dir, "rev-parse", "--verify", "--quiet", ref)
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) && cmdErr.ExitCode == 1 {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (g *Git) CreateBranch(ctx context.Context, dir, branch, startPoint string) error {
	args := []string{"branch", branch}
	if startPoint != "" {
		args = append(args, startPoint)
	}
	if _, err := g.run(ctx, dir, args...); err != nil {
		return fmt.Errorf("failed to create branch %s: %w", branch, err)
	}
	return nil
}

func (g *Git) HasRemote(ctx context.Context, dir, remote string) (bool, error) {
	_, err := g.output(ctx, dir, "remote", "get-url", remote)
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) && cmdErr.ExitCode > 0 {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (g *Git) RevParse(ctx context.Context, dir, rev string) (string, error) {
	return g.output(ctx, dir, "rev-parse", rev)
}

func (g *Git) WorktreeAdd(ctx context.Context, dir, path, branch string) error {
	if _, err := g.run(ctx, dir, "worktree", "add", path, branch); err != nil {
		return fmt.Errorf("failed to add worktree at %s: %w", path, err)
	}
	return nil
}

func (g *Git) WorktreeRemove(ctx context.Context, dir, path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	if _, err := g.run(ctx, dir, args...); err != nil {
		return fmt.Errorf("failed to remove worktree at %s: %w", path, err)
	}
	return nil
}

func (g *Git) WorktreePrune(ctx context.Context, dir string) error {
	if _, err := g.run(ctx, dir, "worktree", "prune"); err != nil {
		return fmt.Errorf("failed to prune worktrees: %w", err)
	}
	return nil
}

func (g *Git) WorktreeList(ctx context.Context, dir string) ([]Worktree, error) {
	out, err := g.output(ctx, dir, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("failed to list worktrees: %w", err)
	}
	return parseWorktreeList(out), nil
}

// parseWorktreeList reads the --porcelain format: stanzas separated by blank
// lines, each starting with a "worktree <path>" line.
func parseWorktreeList(out string) []Worktree {
	var worktrees []Worktree
	var cur *Worktree
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case strings.HasPrefix(line, "worktree "):
			if cur != nil {
				worktrees = append(worktrees, *cur)
			}
			cur = &Worktree{Path: strings.TrimPrefix(line, "worktree ")}
		case strings.HasPrefix(line, "HEAD "):
			if cur != nil {
				cur.Head = strings.TrimPrefix(line, "HEAD ")
			}
		case strings.HasPrefix(line, "branch "):
			if cur != nil {
				ref := strings.TrimPrefix(line, "branch ")
				cur.Branch = strings.TrimPrefix(ref, "refs/heads/")
			}
		}
	}
	if cur != nil {
		worktrees = append(worktrees, *cur)
	}
	return worktrees
}

func (g *Git) SparseCheckoutSet(ctx context.Context, dir string, dirs ...string) error {
	args := append([]string{"sparse-checkout", "set", "--cone"}, dirs...)
	if _, err := g.run(ctx, dir, args...); err != nil {
		return fmt.Errorf("failed to set sparse checkout: %w", err)
	}
	return nil
}

func (g *Git) SparseCheckoutList(ctx context.Context, dir string) ([]string, error) {
	out, err := g.output(ctx, dir, "sparse-checkout", "list")
	if err != nil {
		return nil, fmt.Errorf("failed to list sparse checkout: %w", err)
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

func (g *Git) Add(ctx context.Context, dir string, paths ...string) error {
	args := append([]string{"add", "--"}, paths...)
	if _, err := g.run(ctx, dir, args...); err != nil {
		return fmt.Errorf("failed to stage changes: %w", err)
	}
	return nil
}

func (g *Git) Commit(ctx context.Context, dir, message string) error {
	if _, err := g.run(ctx, dir, "commit", "-m", message); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (g *Git) HasChanges(ctx context.Context, dir, pathspec string) (bool, error) {
	args := []string{"status", "--porcelain"}
	if pathspec != "" {
		args = append(args, "--", pathspec)
	}
	out, err := g.output(ctx, dir, args...)
	if err != nil {
		return false, fmt.Errorf("failed to check status: %w", err)
	}
	return out != "", nil
}

func (g *Git) ShowFile(ctx context.Context, dir, rev, path string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, g.program(), "show", rev+":"+path)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		var stderr []byte
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			stderr = exitErr.Stderr
		}
		return nil, g.wrap([]string{"show", rev + ":" + path}, stderr, err)
	}
	return out, nil
}

func (g *Git) StageFile(ctx context.Context, dir string, stage int, path string) ([]byte, error) {
	spec := ":" + strconv.Itoa(stage) + ":" + path
	cmd := exec.CommandContext(ctx, g.program(), "show", spec)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		var stderr []byte
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			stderr = exitErr.Stderr
		}
		return nil, g.wrap([]string{"show", spec}, stderr, err)
	}
	return out, nil
}

func (g *Git) Fetch(ctx context.Context, dir, remote, branch string) error {
	if _, err := g.run(ctx, dir, "fetch", remote, branch); err != nil {
		return fmt.Errorf("failed to fetch %s from %s: %w", branch, remote, err)
	}
	return nil
}

func (g *Git) Merge(ctx context.Context, dir, ref string) error {
	if _, err := g.run(ctx, dir, "merge", "--no-edit", ref); err != nil {
		return fmt.Errorf("failed to merge %s: %w", ref, err)
	}
	return nil
}

func (g *Git) AbortMerge(ctx context.Context, dir string) error {
	if _, err := g.run(ctx, dir, "merge", "--abort"); err != nil {
		return fmt.Errorf("failed to abort merge: %w", err)
	}
	return nil
}

func (g *Git) ConflictedFiles(ctx context.Context, dir string) ([]string, error) {
	out, err := g.output(ctx, dir, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicted files: %w", err)
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

func (g *Git) Push(ctx context.Context, dir, remote, branch string) error {
	if _, err := g.run(ctx, dir, "push", remote, branch); err != nil {
		return fmt.Errorf("failed to push %s to %s: %w", branch, remote, err)
	}
	return nil
}

func (g *Git) Divergence(ctx context.Context, dir, branch, remote string) (int, int, error) {
	spec := branch + "..." + remote + "/" + branch
	out, err := g.output(ctx, dir, "rev-list", "--left-right", "--count", spec)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to compute divergence for %s: %w", spec, err)
	}
	fields := strings.Fields(out)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("unexpected rev-list output %q", out)
	}
	localAhead, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, fmt.Errorf("unexpected rev-list output %q", out)
	}
	remoteAhead, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, fmt.Errorf("unexpected rev-list output %q", out)
	}
	return localAhead, remoteAhead, nil
}

func (g *Git) ConfigGet(ctx context.Context, dir, key string) (string, error) {
	out, err := g.output(ctx, dir, "config", "--get", key)
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) && cmdErr.ExitCode == 1 {
			return "", nil // unset
		}
		return "", err
	}
	return out, nil
}

func (g *Git) ConfigSet(ctx context.Context, dir, key, value string) error {
	if _, err := g.run(ctx, dir, "config", key, value); err != nil {
		return fmt.Errorf("failed to set config %s: %w", key, err)
	}
	return nil
}

// IsMissingObject reports whether err came from asking for a revision or
// index stage that does not exist (e.g. no base stage during an add/add
// conflict). Git has no dedicated exit code for this, so the check is
// textual.
func IsMissingObject(err error) bool {
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		return false
	}
	out := strings.ToLower(cmdErr.Output)
	return strings.Contains(out, "does not exist") ||
		strings.Contains(out, "but not at stage") ||
		strings.Contains(out, "exists on disk, but not in") ||
		strings.Contains(out, "invalid object name") ||
		strings.Contains(out, "unknown revision")
}

// IsNoSuchRemoteRef reports whether a fetch failed because the remote does
// not have the requested branch yet. The first sync after a branch is
// created locally hits this; there is nothing to merge, but the push still
// proceeds.
func IsNoSuchRemoteRef(err error) bool {
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		return false
	}
	return strings.Contains(strings.ToLower(cmdErr.Output), "couldn't find remote ref")
}

// IsNonFastForward reports whether a push was rejected because the remote
// ref moved. The sync protocol reacts by re-entering the fetch phase rather
// than classifying the failure.
func IsNonFastForward(err error) bool {
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		return false
	}
	out := strings.ToLower(cmdErr.Output)
	return strings.Contains(out, "non-fast-forward") ||
		strings.Contains(out, "fetch first") ||
		strings.Contains(out, "[rejected]")
}
