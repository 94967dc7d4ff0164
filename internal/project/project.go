// Package project locates the enclosing repository, loads spool
// configuration, and names the on-disk layout under .spool/.
//
// The main working tree carries config.yaml (tracked) plus local-only state
// files (ignored via .spool/.gitignore). Issue documents, the mapping table,
// and the attic live in the sync worktree's checkout of .spool/, so path
// helpers come in two flavors: Project methods for the main tree and In*
// functions that take whichever tree the caller is working against.
package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DirName is the spool state directory at the repository root.
	DirName = ".spool"

	// ConfigFileName is the tracked project configuration file.
	ConfigFileName = "config.yaml"

	// EnvDir overrides discovery and points directly at a .spool directory.
	EnvDir = "SPOOL_DIR"
)

// ErrNoRepo means discovery walked to the filesystem root without finding a
// git repository.
var ErrNoRepo = errors.New("not inside a git repository")

// ErrNotInitialized means the repository has no .spool/config.yaml yet. The
// CLI pairs it with guidance naming the init command.
var ErrNotInitialized = errors.New("spool is not initialized in this repository")

// Project is a discovered repository with its loaded configuration.
type Project struct {
	// Root is the main working tree root (the directory holding .git).
	Root   string
	Config *Config
}

// FindRepoRoot walks up from startDir to the nearest directory containing a
// .git entry. Worktrees and submodules keep .git as a file; any entry counts.
func FindRepoRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", startDir, err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNoRepo
		}
		dir = parent
	}
}

// Initialized reports whether root carries a spool configuration.
func Initialized(root string) bool {
	_, err := os.Stat(filepath.Join(root, DirName, ConfigFileName))
	return err == nil
}

// Open discovers the repository enclosing startDir and loads its
// configuration. SPOOL_DIR short-circuits discovery for tooling that runs
// outside the tree it operates on.
func Open(startDir string) (*Project, error) {
	if dir := os.Getenv(EnvDir); dir != "" {
		root := filepath.Dir(dir)
		cfg, err := LoadConfig(root)
		if err != nil {
			return nil, err
		}
		return &Project{Root: root, Config: cfg}, nil
	}

	root, err := FindRepoRoot(startDir)
	if err != nil {
		return nil, err
	}
	if !Initialized(root) {
		return nil, ErrNotInitialized
	}
	cfg, err := LoadConfig(root)
	if err != nil {
		return nil, err
	}
	return &Project{Root: root, Config: cfg}, nil
}

// SpoolDir returns the main tree's .spool directory.
func (p *Project) SpoolDir() string { return filepath.Join(p.Root, DirName) }

// ConfigPath returns the tracked configuration file path.
func (p *Project) ConfigPath() string { return filepath.Join(p.SpoolDir(), ConfigFileName) }

// StatePath returns the local-only durable record of the last sync failure.
func (p *Project) StatePath() string { return filepath.Join(p.SpoolDir(), "sync_state.json") }

// ConflictsPath returns the local-only pending conflict records file.
func (p *Project) ConflictsPath() string { return filepath.Join(p.SpoolDir(), "conflicts.json") }

// LockPath returns the flock file for a named operation. Locks are
// clone-local and never tracked.
func (p *Project) LockPath(name string) string {
	return filepath.Join(p.SpoolDir(), "locks", name+".lock")
}

// SpoolDirIn returns the .spool directory inside tree, which may be the main
// working tree or the sync worktree.
func SpoolDirIn(tree string) string { return filepath.Join(tree, DirName) }

// IDMapPathIn returns the append-only mapping table inside tree.
func IDMapPathIn(tree string) string { return filepath.Join(tree, DirName, "idmap.jsonl") }

// AtticDirIn returns the directory of preserved losing versions inside tree.
func AtticDirIn(tree string) string { return filepath.Join(tree, DirName, "attic") }

// gitignoreBody ignores the clone-local files that must never ride the sync
// branch or the main branch.
const gitignoreBody = `# spool local state
sync_state.json
conflicts.json
locks/
`

// WriteGitignore seeds .spool/.gitignore. An existing file is left alone so
// user additions survive re-init.
func WriteGitignore(spoolDir string) error {
	path := filepath.Join(spoolDir, ".gitignore")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(spoolDir, 0o750); err != nil {
		return fmt.Errorf("failed to create %s: %w", spoolDir, err)
	}
	if err := os.WriteFile(path, []byte(gitignoreBody), 0o644); err != nil {
		return fmt.Errorf("failed to write .gitignore: %w", err)
	}
	return nil
}
