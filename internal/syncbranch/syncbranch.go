// Package syncbranch resolves which branch carries the shared issue state
// for a repository.
package syncbranch

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/spoolhq/spool/internal/vcs"
)

const (
	// DefaultBranch is used when no sync branch is configured anywhere.
	DefaultBranch = "spool-sync"

	// ConfigYAMLKey is the config.yaml key for the sync branch.
	ConfigYAMLKey = "sync-branch"

	// GitConfigKey is the local git config key consulted as a per-clone
	// fallback when config.yaml does not name a branch.
	GitConfigKey = "spool.syncbranch"

	// EnvVar is the environment variable for the sync branch.
	EnvVar = "SPOOL_SYNC_BRANCH"
)

// branchNamePattern validates git branch names
// Based on git-check-ref-format rules
var branchNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._/-]*[a-zA-Z0-9]$`)

// ValidateBranchName checks if a branch name is valid according to git rules
func ValidateBranchName(name string) error {
	if name == "" {
		return nil // Empty is valid (means use the default)
	}

	if len(name) > 255 {
		return fmt.Errorf("branch name too long (max 255 characters)")
	}

	if !branchNamePattern.MatchString(name) {
		return fmt.Errorf("invalid branch name: must start and end with alphanumeric, can contain .-_/ in middle")
	}

	if name == "HEAD" {
		return fmt.Errorf("invalid branch name: %s is reserved", name)
	}

	if strings.Contains(name, "..") {
		return fmt.Errorf("invalid branch name: cannot contain '..'")
	}

	return nil
}

// Resolve determines the sync branch for the repository rooted at repoRoot
// with the following precedence:
//  1. SPOOL_SYNC_BRANCH environment variable
//  2. configured, the sync-branch value from .spool/config.yaml
//     (version controlled, shared across clones)
//  3. spool.syncbranch from local git config (per-clone override)
//  4. DefaultBranch
func Resolve(ctx context.Context, g vcs.VCS, repoRoot, configured string) (string, error) {
	if envBranch := os.Getenv(EnvVar); envBranch != "" {
		if err := ValidateBranchName(envBranch); err != nil {
			return "", fmt.Errorf("invalid %s: %w", EnvVar, err)
		}
		return envBranch, nil
	}

	if configured != "" {
		if err := ValidateBranchName(configured); err != nil {
			return "", fmt.Errorf("invalid %s in config.yaml: %w", ConfigYAMLKey, err)
		}
		return configured, nil
	}

	gitBranch, err := g.ConfigGet(ctx, repoRoot, GitConfigKey)
	if err != nil {
		return "", fmt.Errorf("failed to get %s from git config: %w", GitConfigKey, err)
	}
	if gitBranch != "" {
		if err := ValidateBranchName(gitBranch); err != nil {
			return "", fmt.Errorf("invalid %s in git config: %w", GitConfigKey, err)
		}
		return gitBranch, nil
	}

	return DefaultBranch, nil
}

// Set records a per-clone sync branch override in local git config.
func Set(ctx context.Context, g vcs.VCS, repoRoot, branch string) error {
	if err := ValidateBranchName(branch); err != nil {
		return err
	}
	return g.ConfigSet(ctx, repoRoot, GitConfigKey, branch)
}
