package vcs

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// setupTestRepo creates a git repository with an initial commit and returns
// its path.
func setupTestRepo(t *testing.T) string {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	tmpDir := t.TempDir()

	cmds := [][]string{
		{"git", "init"},
		{"git", "config", "user.email", "test@example.com"},
		{"git", "config", "user.name", "Test User"},
		{"git", "config", "commit.gpgsign", "false"},
	}
	for _, args := range cmds {
		cmd := exec.Command(args[0], args[1:]...)
		cmd.Dir = tmpDir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("%v failed: %v\n%s", args, err, out)
		}
	}

	if err := os.WriteFile(filepath.Join(tmpDir, "README.md"), []byte("# test\n"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	for _, args := range [][]string{
		{"git", "add", "."},
		{"git", "commit", "-m", "initial commit"},
	} {
		cmd := exec.Command(args[0], args[1:]...)
		cmd.Dir = tmpDir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("%v failed: %v\n%s", args, err, out)
		}
	}

	return tmpDir
}

func TestRepoRootAndGitDir(t *testing.T) {
	repo := setupTestRepo(t)
	g := NewGit()
	ctx := context.Background()

	root, err := g.RepoRoot(ctx, repo)
	if err != nil {
		t.Fatalf("RepoRoot failed: %v", err)
	}
	// Resolve symlinks so macOS /private/var temp paths compare equal.
	wantRoot, _ := filepath.EvalSymlinks(repo)
	gotRoot, _ := filepath.EvalSymlinks(root)
	if gotRoot != wantRoot {
		t.Errorf("RepoRoot = %s, want %s", gotRoot, wantRoot)
	}

	gitDir, err := g.GitDir(ctx, repo)
	if err != nil {
		t.Fatalf("GitDir failed: %v", err)
	}
	if filepath.Base(gitDir) != ".git" {
		t.Errorf("GitDir = %s, want a .git path", gitDir)
	}

	t.Run("not a repository", func(t *testing.T) {
		_, err := g.RepoRoot(ctx, t.TempDir())
		if !errors.Is(err, ErrNotARepository) {
			t.Errorf("expected ErrNotARepository, got %v", err)
		}
	})
}

func TestBranchLifecycle(t *testing.T) {
	repo := setupTestRepo(t)
	g := NewGit()
	ctx := context.Background()

	exists, err := g.BranchExists(ctx, repo, "spool-sync")
	if err != nil {
		t.Fatalf("BranchExists failed: %v", err)
	}
	if exists {
		t.Error("branch should not exist yet")
	}

	if err := g.CreateBranch(ctx, repo, "spool-sync", "HEAD"); err != nil {
		t.Fatalf("CreateBranch failed: %v", err)
	}

	exists, err = g.BranchExists(ctx, repo, "spool-sync")
	if err != nil {
		t.Fatalf("BranchExists failed: %v", err)
	}
	if !exists {
		t.Error("branch should exist after creation")
	}

	// Creating it again must fail with a CommandError carrying output.
	err = g.CreateBranch(ctx, repo, "spool-sync", "HEAD")
	if err == nil {
		t.Fatal("expected error creating duplicate branch")
	}
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected *CommandError, got %T", err)
	}
	if cmdErr.ExitCode <= 0 {
		t.Errorf("expected positive exit code, got %d", cmdErr.ExitCode)
	}
}

func TestCommitFlow(t *testing.T) {
	repo := setupTestRepo(t)
	g := NewGit()
	ctx := context.Background()

	dirty, err := g.HasChanges(ctx, repo, "")
	if err != nil {
		t.Fatalf("HasChanges failed: %v", err)
	}
	if dirty {
		t.Error("fresh repo should be clean")
	}

	if err := os.WriteFile(filepath.Join(repo, "note.txt"), []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	dirty, err = g.HasChanges(ctx, repo, "")
	if err != nil {
		t.Fatalf("HasChanges failed: %v", err)
	}
	if !dirty {
		t.Error("expected uncommitted changes")
	}

	if err := g.Add(ctx, repo, "note.txt"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := g.Commit(ctx, repo, "add note"); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	dirty, err = g.HasChanges(ctx, repo, "")
	if err != nil {
		t.Fatalf("HasChanges failed: %v", err)
	}
	if dirty {
		t.Error("repo should be clean after commit")
	}

	content, err := g.ShowFile(ctx, repo, "HEAD", "note.txt")
	if err != nil {
		t.Fatalf("ShowFile failed: %v", err)
	}
	if string(content) != "hello\n" {
		t.Errorf("ShowFile = %q, want %q", content, "hello\n")
	}
}

func TestConfigGetUnsetKey(t *testing.T) {
	repo := setupTestRepo(t)
	g := NewGit()
	ctx := context.Background()

	val, err := g.ConfigGet(ctx, repo, "spool.nonexistent")
	if err != nil {
		t.Fatalf("ConfigGet failed: %v", err)
	}
	if val != "" {
		t.Errorf("expected empty value for unset key, got %q", val)
	}

	if err := g.ConfigSet(ctx, repo, "spool.syncbranch", "spool-sync"); err != nil {
		t.Fatalf("ConfigSet failed: %v", err)
	}
	val, err = g.ConfigGet(ctx, repo, "spool.syncbranch")
	if err != nil {
		t.Fatalf("ConfigGet failed: %v", err)
	}
	if val != "spool-sync" {
		t.Errorf("ConfigGet = %q, want spool-sync", val)
	}
}

func TestDivergence(t *testing.T) {
	repo := setupTestRepo(t)
	g := NewGit()
	ctx := context.Background()

	runGit := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = repo
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v failed: %v\n%s", args, err, out)
		}
	}

	if err := g.CreateBranch(ctx, repo, "spool-sync", "HEAD"); err != nil {
		t.Fatalf("CreateBranch failed: %v", err)
	}
	// Simulate a remote-tracking ref without a real remote.
	runGit("update-ref", "refs/remotes/origin/spool-sync", "HEAD")

	local, remote, err := g.Divergence(ctx, repo, "spool-sync", "origin")
	if err != nil {
		t.Fatalf("Divergence failed: %v", err)
	}
	if local != 0 || remote != 0 {
		t.Errorf("Divergence = (%d, %d), want (0, 0)", local, remote)
	}

	exists, err := g.RemoteBranchExists(ctx, repo, "origin", "spool-sync")
	if err != nil {
		t.Fatalf("RemoteBranchExists failed: %v", err)
	}
	if !exists {
		t.Error("expected remote-tracking ref to be reported")
	}
	exists, err = g.RemoteBranchExists(ctx, repo, "origin", "absent")
	if err != nil {
		t.Fatalf("RemoteBranchExists failed: %v", err)
	}
	if exists {
		t.Error("unexpected remote-tracking ref for absent branch")
	}

	// Advance local by one commit; remote ref stays behind.
	if err := os.WriteFile(filepath.Join(repo, "more.txt"), []byte("x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	runGit("add", ".")
	runGit("commit", "-m", "second commit")
	runGit("update-ref", "refs/heads/spool-sync", "HEAD")

	local, remote, err = g.Divergence(ctx, repo, "spool-sync", "origin")
	if err != nil {
		t.Fatalf("Divergence failed: %v", err)
	}
	if local != 1 || remote != 0 {
		t.Errorf("Divergence = (%d, %d), want (1, 0)", local, remote)
	}
}

func TestCommonDirMatchesGitDir(t *testing.T) {
	repo := setupTestRepo(t)
	g := NewGit()
	ctx := context.Background()

	gitDir, err := g.GitDir(ctx, repo)
	if err != nil {
		t.Fatalf("GitDir failed: %v", err)
	}
	commonDir, err := g.CommonDir(ctx, repo)
	if err != nil {
		t.Fatalf("CommonDir failed: %v", err)
	}
	// In a regular checkout the two are the same directory.
	if gitDir != commonDir {
		t.Errorf("CommonDir = %s, want %s", commonDir, gitDir)
	}
}

func TestHasRemote(t *testing.T) {
	repo := setupTestRepo(t)
	g := NewGit()
	ctx := context.Background()

	has, err := g.HasRemote(ctx, repo, "origin")
	if err != nil {
		t.Fatalf("HasRemote failed: %v", err)
	}
	if has {
		t.Error("fresh repo should have no origin")
	}

	cmd := exec.Command("git", "remote", "add", "origin", "https://example.invalid/repo.git")
	cmd.Dir = repo
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("remote add failed: %v\n%s", err, out)
	}

	has, err = g.HasRemote(ctx, repo, "origin")
	if err != nil {
		t.Fatalf("HasRemote failed: %v", err)
	}
	if !has {
		t.Error("expected origin to exist")
	}
}

func TestParseWorktreeList(t *testing.T) {
	out := "worktree /repo\n" +
		"HEAD abc123\n" +
		"branch refs/heads/main\n" +
		"\n" +
		"worktree /repo/.git/spool-worktrees/spool-sync\n" +
		"HEAD def456\n" +
		"branch refs/heads/spool-sync\n"

	worktrees := parseWorktreeList(out)
	if len(worktrees) != 2 {
		t.Fatalf("expected 2 worktrees, got %d", len(worktrees))
	}
	if worktrees[0].Path != "/repo" || worktrees[0].Branch != "main" {
		t.Errorf("unexpected first worktree: %+v", worktrees[0])
	}
	if worktrees[1].Branch != "spool-sync" {
		t.Errorf("unexpected second worktree: %+v", worktrees[1])
	}
	if worktrees[1].Head != "def456" {
		t.Errorf("unexpected HEAD: %+v", worktrees[1])
	}
}

func TestIsNonFastForward(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "rejected push",
			err: &CommandError{
				Args:     []string{"push"},
				ExitCode: 1,
				Output:   "! [rejected]        spool-sync -> spool-sync (non-fast-forward)",
			},
			want: true,
		},
		{
			name: "fetch first",
			err: &CommandError{
				Args:     []string{"push"},
				ExitCode: 1,
				Output:   "hint: Updates were rejected because the remote contains work... fetch first",
			},
			want: true,
		},
		{
			name: "permission denied",
			err: &CommandError{
				Args:     []string{"push"},
				ExitCode: 128,
				Output:   "remote: Permission denied",
			},
			want: false,
		},
		{
			name: "not a command error",
			err:  errors.New("non-fast-forward"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNonFastForward(tt.err); got != tt.want {
				t.Errorf("IsNonFastForward() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsMissingObject(t *testing.T) {
	err := &CommandError{
		Args:     []string{"show", ":1:.spool/issues/x.json"},
		ExitCode: 128,
		Output:   "fatal: path '.spool/issues/x.json' is in the index, but not at stage 1",
	}
	if !IsMissingObject(err) {
		t.Error("expected missing-stage error to be recognized")
	}
	if IsMissingObject(errors.New("does not exist")) {
		t.Error("plain errors should not match")
	}
}
