package syncer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spoolhq/spool/internal/merge"
)

// Phase names one stage of the sync protocol. A sync walks
// idle → fetching → merging → pushing → done; a conflicted merge passes
// through conflict, and a failure in any stage ends in failed.
type Phase string

// Protocol phases.
const (
	PhaseIdle     Phase = "idle"
	PhaseFetching Phase = "fetching"
	PhaseMerging  Phase = "merging"
	PhaseConflict Phase = "conflict"
	PhasePushing  Phase = "pushing"
	PhaseDone     Phase = "done"
	PhaseFailed   Phase = "failed"
)

// State is the durable record of the last sync, persisted to
// .spool/sync_state.json in the main working tree. The file is local and
// untracked; it never rides the sync branch. A successful sync stamps
// LastSyncAt and clears Failure, a failed one stores the classified failure
// so `sp sync --status` can report it after the process is gone.
type State struct {
	LastSyncAt *time.Time     `json:"last_sync_at,omitempty"`
	Failure    *FailureRecord `json:"failure,omitempty"`
}

// FailureRecord describes one failed sync attempt.
type FailureRecord struct {
	At      time.Time `json:"at"`
	Phase   Phase     `json:"phase"`
	Class   string    `json:"class"`
	Message string    `json:"message"`
	Remote  string    `json:"remote,omitempty"`
	Branch  string    `json:"branch,omitempty"`
}

// LoadState reads the sync state at path. A missing file is an empty state:
// the project has never synced.
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from the project layout
	if err != nil {
		if os.IsNotExist(err) {
			return &State{}, nil
		}
		return nil, fmt.Errorf("failed to read sync state: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("sync state %s is not valid JSON: %w", path, err)
	}
	return &st, nil
}

// Save writes the state to path, creating parent directories as needed.
func (s *State) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode sync state: %w", err)
	}
	data = append(data, '\n')
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { // #nosec G306 - local diagnostic state
		return fmt.Errorf("failed to write sync state: %w", err)
	}
	return nil
}

// ConflictRecord describes one issue whose divergent edits did not merge
// cleanly. Records accumulate in .spool/conflicts.json until reviewed; the
// losing version itself lives in the attic under AtticPath.
type ConflictRecord struct {
	IssueID   string `json:"issue_id"`
	DisplayID string `json:"display_id,omitempty"`
	// Outcome is the merge outcome name: "resolved" when field rules picked
	// winners, "canonical" when no rule applied and the smaller content
	// hash won whole.
	Outcome string `json:"outcome"`
	// Reason is set for canonical picks and says what made the versions
	// irreconcilable.
	Reason string `json:"reason,omitempty"`
	// Fields lists the per-field decisions, when any.
	Fields []merge.FieldConflict `json:"fields,omitempty"`
	// AtticPath locates the preserved losing version, relative to the sync
	// worktree root.
	AtticPath string    `json:"attic_path,omitempty"`
	At        time.Time `json:"at"`
}

// LoadConflicts reads the pending conflict records at path. A missing file
// means no pending conflicts.
func LoadConflicts(path string) ([]ConflictRecord, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from the project layout
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read conflict records: %w", err)
	}
	var records []ConflictRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("conflict records %s are not valid JSON: %w", path, err)
	}
	return records, nil
}

// SaveConflicts writes records to path, replacing whatever was there. An
// empty slice removes the file.
func SaveConflicts(path string, records []ConflictRecord) error {
	if len(records) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove conflict records: %w", err)
		}
		return nil
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode conflict records: %w", err)
	}
	data = append(data, '\n')
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { // #nosec G306 - local diagnostic state
		return fmt.Errorf("failed to write conflict records: %w", err)
	}
	return nil
}

// AppendConflicts adds records to the pending set at path.
func AppendConflicts(path string, records ...ConflictRecord) error {
	if len(records) == 0 {
		return nil
	}
	existing, err := LoadConflicts(path)
	if err != nil {
		return err
	}
	return SaveConflicts(path, append(existing, records...))
}

// RemoveConflicts drops every pending record for issueID and reports how
// many were removed. Review tooling calls this once a conflict is settled.
func RemoveConflicts(path, issueID string) (int, error) {
	records, err := LoadConflicts(path)
	if err != nil {
		return 0, err
	}
	kept := records[:0]
	removed := 0
	for _, r := range records {
		if r.IssueID == issueID {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, SaveConflicts(path, kept)
}
