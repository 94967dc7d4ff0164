// Package store reads and writes issue documents on the sync branch.
//
// Every issue lives in its own pretty-printed JSON file named by internal ID
// under .spool/issues/. One file per issue keeps the merge blast radius of a
// concurrent edit to a single document; the syncer resolves conflicts
// per-file, never across files. Deletion is a tombstone inside the document,
// so files are written and rewritten but never removed here.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spoolhq/spool/internal/types"
)

// IssuesDirName is the directory under .spool holding issue documents.
const IssuesDirName = "issues"

// Store is bound to one .spool directory, normally the copy checked out in
// the sync worktree. It performs no locking; callers serialize mutations with
// the sync lock before writing.
type Store struct {
	dir string
}

// New returns a store over spoolDir's issues directory.
func New(spoolDir string) *Store {
	return &Store{dir: filepath.Join(spoolDir, IssuesDirName)}
}

// Dir returns the issues directory this store reads and writes.
func (s *Store) Dir() string { return s.dir }

// Path returns the document path for an internal ID.
func (s *Store) Path(internalID string) string {
	return filepath.Join(s.dir, internalID+".json")
}

// Encode renders an issue in its on-disk form: two-space indented JSON with a
// trailing newline. The syncer writes merge results through this same encoder
// so resolved documents are byte-identical across clones.
func Encode(issue *types.Issue) ([]byte, error) {
	data, err := json.MarshalIndent(issue, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode issue: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses an issue document and applies defaults for omitted fields.
func Decode(data []byte) (*types.Issue, error) {
	var issue types.Issue
	if err := json.Unmarshal(data, &issue); err != nil {
		return nil, fmt.Errorf("failed to parse issue document: %w", err)
	}
	issue.SetDefaults()
	return &issue, nil
}

// Load reads the document for internalID. A missing file surfaces as an
// error matching os.ErrNotExist; resolution normally guarantees existence,
// so a miss here means the mapping table and the issue files disagree.
func (s *Store) Load(internalID string) (*types.Issue, error) {
	data, err := os.ReadFile(s.Path(internalID)) // #nosec G304 - path derived from resolved internal ID
	if err != nil {
		return nil, fmt.Errorf("failed to read issue %s: %w", internalID, err)
	}
	issue, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("issue file %s: %w", s.Path(internalID), err)
	}
	return issue, nil
}

// Save writes the document for issue.ID, creating the issues directory on
// first use.
func (s *Store) Save(issue *types.Issue) error {
	if issue.ID == "" {
		return fmt.Errorf("cannot save issue without internal ID")
	}
	data, err := Encode(issue)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return fmt.Errorf("failed to create issues directory: %w", err)
	}
	if err := os.WriteFile(s.Path(issue.ID), data, 0o644); err != nil { // #nosec G306 - tracked on the sync branch, not a secret
		return fmt.Errorf("failed to write issue %s: %w", issue.ID, err)
	}
	return nil
}

// IDs returns the internal IDs with a document on disk, sorted ascending.
// UUIDv7 IDs sort in creation order. A missing directory is an empty store.
func (s *Store) IDs() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read issues directory: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	slices.Sort(ids)
	return ids, nil
}

// List loads every document in the store, tombstones included, in ID order.
// It fails on the first unreadable or unparseable file; doctor walks files
// individually when it wants to report them all.
func (s *Store) List() ([]*types.Issue, error) {
	ids, err := s.IDs()
	if err != nil {
		return nil, err
	}
	issues := make([]*types.Issue, 0, len(ids))
	for _, id := range ids {
		issue, err := s.Load(id)
		if err != nil {
			return nil, err
		}
		issues = append(issues, issue)
	}
	return issues, nil
}

// Exists reports whether a document for internalID is on disk.
func (s *Store) Exists(internalID string) bool {
	_, err := os.Stat(s.Path(internalID))
	return err == nil
}
