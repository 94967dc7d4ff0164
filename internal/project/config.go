package project

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/spoolhq/spool/internal/syncbranch"
)

// Configuration keys. Each binds to an SPOOL_* environment variable with
// dashes mapped to underscores (sync-branch → SPOOL_SYNC_BRANCH).
const (
	KeyIssuePrefix = "issue-prefix"
	KeySyncBranch  = syncbranch.ConfigYAMLKey
	KeyRemote      = "remote"
	KeyAuthor      = "author"
)

// DefaultRemote is the remote synced against when none is configured.
const DefaultRemote = "origin"

// envPrefix is the prefix for environment overrides.
const envPrefix = "SPOOL"

// Config is the tracked project configuration from .spool/config.yaml with
// environment overrides applied. It is loaded once per invocation and passed
// explicitly; nothing in this package caches it.
type Config struct {
	// IssuePrefix is the display-ID prefix ("web" in "web-k7m2").
	IssuePrefix string `yaml:"issue-prefix"`
	// SyncBranch carries the shared issue state.
	SyncBranch string `yaml:"sync-branch"`
	// Remote is the git remote synced against.
	Remote string `yaml:"remote"`
	// Author overrides actor detection for attribution, when set.
	Author string `yaml:"author,omitempty"`
}

// DefaultConfig returns the configuration sp init writes before any
// customization.
func DefaultConfig(prefix string) *Config {
	return &Config{
		IssuePrefix: prefix,
		SyncBranch:  syncbranch.DefaultBranch,
		Remote:      DefaultRemote,
	}
}

// LoadConfig reads root's .spool/config.yaml layered under SPOOL_*
// environment overrides. A missing file is ErrNotInitialized.
func LoadConfig(root string) (*Config, error) {
	path := filepath.Join(root, DirName, ConfigFileName)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotInitialized
		}
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault(KeyIssuePrefix, "")
	v.SetDefault(KeySyncBranch, syncbranch.DefaultBranch)
	v.SetDefault(KeyRemote, DefaultRemote)
	v.SetDefault(KeyAuthor, "")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	cfg := &Config{
		IssuePrefix: v.GetString(KeyIssuePrefix),
		SyncBranch:  v.GetString(KeySyncBranch),
		Remote:      v.GetString(KeyRemote),
		Author:      v.GetString(KeyAuthor),
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field values. Loading rejects a config that would mint
// broken display IDs or name an impossible branch.
func (c *Config) Validate() error {
	if c.IssuePrefix == "" {
		return fmt.Errorf("%s is not set", KeyIssuePrefix)
	}
	if err := ValidatePrefix(c.IssuePrefix); err != nil {
		return err
	}
	if c.SyncBranch == "" {
		return fmt.Errorf("%s is not set", KeySyncBranch)
	}
	if err := syncbranch.ValidateBranchName(c.SyncBranch); err != nil {
		return err
	}
	if c.Remote == "" {
		return fmt.Errorf("%s is not set", KeyRemote)
	}
	return nil
}

const configHeader = `# spool project configuration. Tracked on the main branch and shared
# across clones. Environment variables override: SPOOL_ISSUE_PREFIX,
# SPOOL_SYNC_BRANCH, SPOOL_REMOTE, SPOOL_AUTHOR.
`

// Save writes the full configuration to spoolDir/config.yaml. Used by init;
// SetKey edits single keys in place without disturbing user comments.
func (c *Config) Save(spoolDir string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(spoolDir, 0o750); err != nil {
		return fmt.Errorf("failed to create %s: %w", spoolDir, err)
	}
	path := filepath.Join(spoolDir, ConfigFileName)
	if err := os.WriteFile(path, append([]byte(configHeader), data...), 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Keys returns the recognized configuration keys in display order.
func Keys() []string {
	return []string{KeyIssuePrefix, KeySyncBranch, KeyRemote, KeyAuthor}
}

// Get returns the value for a recognized key.
func (c *Config) Get(key string) (string, error) {
	switch key {
	case KeyIssuePrefix:
		return c.IssuePrefix, nil
	case KeySyncBranch:
		return c.SyncBranch, nil
	case KeyRemote:
		return c.Remote, nil
	case KeyAuthor:
		return c.Author, nil
	}
	return "", fmt.Errorf("unknown config key %q (known keys: %s)", key, strings.Join(Keys(), ", "))
}

// validateValue rejects values a key cannot carry before anything is written.
func validateValue(key, value string) error {
	switch key {
	case KeyIssuePrefix:
		return ValidatePrefix(value)
	case KeySyncBranch:
		if value == "" {
			return fmt.Errorf("%s cannot be empty", KeySyncBranch)
		}
		return syncbranch.ValidateBranchName(value)
	case KeyRemote:
		if value == "" {
			return fmt.Errorf("%s cannot be empty", KeyRemote)
		}
		return nil
	case KeyAuthor:
		return nil
	}
	return fmt.Errorf("unknown config key %q (known keys: %s)", key, strings.Join(Keys(), ", "))
}

// SetKey updates one key in configPath, in place. Existing lines (commented
// ones included) are rewritten where they stand; a new key is appended. User
// comments elsewhere in the file survive.
func SetKey(configPath, key, value string) error {
	if err := validateValue(key, value); err != nil {
		return err
	}
	content, err := os.ReadFile(configPath) // #nosec G304 - path from project discovery
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	updated := updateYamlKey(string(content), key, value)
	if err := os.WriteFile(configPath, []byte(updated), 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// updateYamlKey replaces the line carrying key (commented or not) with the
// new value, preserving indentation, or appends the key when absent.
func updateYamlKey(content, key, value string) string {
	newLine := fmt.Sprintf("%s: %s", key, formatYamlValue(value))
	keyPattern := regexp.MustCompile(`^(\s*)(#\s*)?` + regexp.QuoteMeta(key) + `\s*:`)

	found := false
	var result []string
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if !found && keyPattern.MatchString(line) {
			indent := keyPattern.FindStringSubmatch(line)[1]
			result = append(result, indent+newLine)
			found = true
			continue
		}
		result = append(result, line)
	}

	if !found {
		if len(result) > 0 && result[len(result)-1] != "" {
			result = append(result, "")
		}
		result = append(result, newLine)
	}
	return strings.Join(result, "\n") + "\n"
}

// formatYamlValue quotes values that YAML would otherwise reinterpret.
func formatYamlValue(value string) string {
	if value == "" {
		return `""`
	}
	if strings.TrimSpace(value) != value || strings.ContainsAny(value, ":#{}[],&*!|>'\"%@`") {
		return fmt.Sprintf("%q", value)
	}
	switch strings.ToLower(value) {
	case "true", "false", "yes", "no", "null", "~":
		return fmt.Sprintf("%q", value)
	}
	return value
}

// prefixPattern constrains display-ID prefixes: lowercase alphanumerics with
// interior hyphens. The prefix joins the code with a hyphen, so the shape
// must stay unambiguous when resolution splits on it.
var prefixPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// ValidatePrefix checks a display-ID prefix.
func ValidatePrefix(prefix string) error {
	if prefix == "" {
		return fmt.Errorf("%s cannot be empty", KeyIssuePrefix)
	}
	if len(prefix) > 32 {
		return fmt.Errorf("%s too long (max 32 characters)", KeyIssuePrefix)
	}
	if !prefixPattern.MatchString(prefix) {
		return fmt.Errorf("invalid %s %q: use lowercase letters, digits, and interior hyphens", KeyIssuePrefix, prefix)
	}
	return nil
}

// DerivePrefix turns a directory name into a usable display-ID prefix:
// lowercased, punctuation collapsed to hyphens, leading and trailing hyphens
// stripped. Falls back to "spool" when nothing survives.
func DerivePrefix(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case r == '_' || r == ' ' || r == '.':
			b.WriteRune('-')
		}
	}
	p := b.String()
	for strings.Contains(p, "--") {
		p = strings.ReplaceAll(p, "--", "-")
	}
	p = strings.Trim(p, "-")
	if p == "" {
		return "spool"
	}
	if len(p) > 32 {
		p = strings.Trim(p[:32], "-")
	}
	return p
}
