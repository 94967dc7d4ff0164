// Package attic preserves the losing side of issue merges.
//
// When the syncer resolves a conflict, the version that did not win is
// written under .spool/attic/<issueID>/<unixnano>.json wrapped with the
// reason and conflict details. The attic rides the sync branch, so every
// clone can review what a merge decided and restore a lost edit. Entries are
// only ever added; review tooling reads them in place.
package attic

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spoolhq/spool/internal/merge"
	"github.com/spoolhq/spool/internal/types"
)

// Entry wraps one preserved losing version with the context a reviewer needs.
type Entry struct {
	IssueID   string `json:"issue_id"`
	DisplayID string `json:"display_id,omitempty"`
	// Reason says why this version lost: the merge reason for canonical
	// picks, or a summary of the field rules applied.
	Reason  string    `json:"reason"`
	SavedAt time.Time `json:"saved_at"`
	// ContentHash identifies the losing content. For parseable versions it
	// is the issue content hash; for raw versions, a sha256 of the bytes.
	ContentHash string `json:"content_hash,omitempty"`
	// Conflicts are the field-level decisions from the merge, when any.
	Conflicts []merge.FieldConflict `json:"conflicts,omitempty"`
	// Issue is the full losing version when it parsed as an issue document.
	Issue *types.Issue `json:"issue,omitempty"`
	// Raw carries the losing bytes verbatim when they did not parse.
	Raw string `json:"raw,omitempty"`
}

// Ref names one stored entry without loading it.
type Ref struct {
	IssueID string
	// Name is the entry identifier within the issue: the save timestamp in
	// nanoseconds, as written in the filename.
	Name    string
	Path    string
	SavedAt time.Time
}

// Attic is bound to one attic directory, normally inside the sync worktree.
type Attic struct {
	dir string
}

// New returns an attic over dir.
func New(dir string) *Attic { return &Attic{dir: dir} }

// Dir returns the attic root directory.
func (a *Attic) Dir() string { return a.dir }

// Save writes an entry and returns its path. SavedAt defaults to now; the
// filename is derived from it and nudged forward on collision so entries for
// one issue never overwrite each other.
func (a *Attic) Save(e *Entry) (string, error) {
	if e.IssueID == "" {
		return "", fmt.Errorf("cannot save attic entry without issue ID")
	}
	if e.SavedAt.IsZero() {
		e.SavedAt = time.Now().UTC()
	}
	if e.ContentHash == "" {
		switch {
		case e.Issue != nil:
			e.ContentHash = e.Issue.ComputeContentHash()
		case e.Raw != "":
			e.ContentHash = fmt.Sprintf("%x", sha256.Sum256([]byte(e.Raw)))
		}
	}

	issueDir := filepath.Join(a.dir, e.IssueID)
	if err := os.MkdirAll(issueDir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create attic directory: %w", err)
	}

	nano := e.SavedAt.UnixNano()
	var path string
	for {
		path = filepath.Join(issueDir, fmt.Sprintf("%d.json", nano))
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		nano++
	}
	e.SavedAt = time.Unix(0, nano).UTC()

	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode attic entry: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("failed to write attic entry: %w", err)
	}
	return path, nil
}

// List returns references to every stored entry, ordered by issue ID then
// save time. A missing attic directory is an empty attic.
func (a *Attic) List() ([]Ref, error) {
	issueDirs, err := os.ReadDir(a.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read attic directory: %w", err)
	}

	var refs []Ref
	for _, d := range issueDirs {
		if !d.IsDir() {
			continue
		}
		issueRefs, err := a.ListIssue(d.Name())
		if err != nil {
			return nil, err
		}
		refs = append(refs, issueRefs...)
	}
	return refs, nil
}

// ListIssue returns references to the entries stored for one issue, oldest
// first.
func (a *Attic) ListIssue(issueID string) ([]Ref, error) {
	issueDir := filepath.Join(a.dir, issueID)
	files, err := os.ReadDir(issueDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read attic entries for %s: %w", issueID, err)
	}

	refs := make([]Ref, 0, len(files))
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(f.Name(), ".json")
		nano, err := strconv.ParseInt(name, 10, 64)
		if err != nil {
			continue
		}
		refs = append(refs, Ref{
			IssueID: issueID,
			Name:    name,
			Path:    filepath.Join(issueDir, f.Name()),
			SavedAt: time.Unix(0, nano).UTC(),
		})
	}
	slices.SortFunc(refs, func(x, y Ref) int { return x.SavedAt.Compare(y.SavedAt) })
	return refs, nil
}

// Load reads one entry by issue ID and entry name. The name may carry the
// .json suffix or not.
func (a *Attic) Load(issueID, name string) (*Entry, error) {
	name = strings.TrimSuffix(name, ".json")
	path := filepath.Join(a.dir, issueID, name+".json")
	data, err := os.ReadFile(path) // #nosec G304 - path derived from resolved issue ID and entry name
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no attic entry %s for issue %s", name, issueID)
		}
		return nil, fmt.Errorf("failed to read attic entry: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("attic entry %s is not valid JSON: %w", path, err)
	}
	return &e, nil
}
