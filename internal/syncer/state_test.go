package syncer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadStateMissingFile(t *testing.T) {
	st, err := LoadState(filepath.Join(t.TempDir(), "sync_state.json"))
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	if st.LastSyncAt != nil {
		t.Errorf("LastSyncAt = %v, want nil", st.LastSyncAt)
	}
	if st.Failure != nil {
		t.Errorf("Failure = %+v, want nil", st.Failure)
	}
}

func TestStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync_state.json")
	at := time.Date(2025, 7, 12, 9, 30, 0, 0, time.UTC)
	st := &State{
		Failure: &FailureRecord{
			At:      at,
			Phase:   PhasePushing,
			Class:   "permanent",
			Message: "pushing spool-sync to origin: remote: protected branch",
			Remote:  "origin",
			Branch:  "spool-sync",
		},
	}
	if err := st.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := LoadState(path)
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	if got.Failure == nil {
		t.Fatal("Failure = nil after round trip")
	}
	if got.Failure.Phase != PhasePushing {
		t.Errorf("Phase = %q, want %q", got.Failure.Phase, PhasePushing)
	}
	if got.Failure.Class != "permanent" {
		t.Errorf("Class = %q, want %q", got.Failure.Class, "permanent")
	}
	if !got.Failure.At.Equal(at) {
		t.Errorf("At = %v, want %v", got.Failure.At, at)
	}
	if got.Failure.Branch != "spool-sync" {
		t.Errorf("Branch = %q, want %q", got.Failure.Branch, "spool-sync")
	}
}

func TestStateSaveCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".spool", "sync_state.json")
	if err := (&State{}).Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("state file not written: %v", err)
	}
}

func TestLoadStateRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync_state.json")
	if err := os.WriteFile(path, []byte("{half a record"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadState(path)
	if err == nil {
		t.Fatal("LoadState() succeeded on corrupt file")
	}
	if !strings.Contains(err.Error(), path) {
		t.Errorf("error %q does not name the file", err)
	}
}

func TestConflictRecordsAppendAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conflicts.json")

	records, err := LoadConflicts(path)
	if err != nil {
		t.Fatalf("LoadConflicts() on missing file error = %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("LoadConflicts() on missing file = %d records, want 0", len(records))
	}

	first := ConflictRecord{IssueID: "aaa", Outcome: "resolved", At: time.Now().UTC()}
	if err := AppendConflicts(path, first); err != nil {
		t.Fatalf("AppendConflicts() error = %v", err)
	}
	if err := AppendConflicts(path,
		ConflictRecord{IssueID: "bbb", Outcome: "canonical", Reason: "immutable field created_by differs between versions", At: time.Now().UTC()},
		ConflictRecord{IssueID: "ccc", Outcome: "resolved", At: time.Now().UTC()},
	); err != nil {
		t.Fatalf("AppendConflicts() error = %v", err)
	}

	records, err = LoadConflicts(path)
	if err != nil {
		t.Fatalf("LoadConflicts() error = %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	if records[0].IssueID != "aaa" || records[1].IssueID != "bbb" {
		t.Errorf("records out of order: %q, %q", records[0].IssueID, records[1].IssueID)
	}
	if records[1].Reason == "" {
		t.Error("canonical record lost its reason")
	}
}

func TestSaveConflictsEmptyRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conflicts.json")
	if err := AppendConflicts(path, ConflictRecord{IssueID: "aaa", Outcome: "resolved"}); err != nil {
		t.Fatal(err)
	}
	if err := SaveConflicts(path, nil); err != nil {
		t.Fatalf("SaveConflicts(nil) error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("conflicts file still present after clearing")
	}

	// Clearing an already-missing file is fine.
	if err := SaveConflicts(path, nil); err != nil {
		t.Errorf("SaveConflicts(nil) on missing file error = %v", err)
	}
}

func TestRemoveConflicts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conflicts.json")
	if err := AppendConflicts(path,
		ConflictRecord{IssueID: "aaa", Outcome: "resolved"},
		ConflictRecord{IssueID: "bbb", Outcome: "canonical"},
		ConflictRecord{IssueID: "aaa", Outcome: "canonical"},
	); err != nil {
		t.Fatal(err)
	}

	removed, err := RemoveConflicts(path, "aaa")
	if err != nil {
		t.Fatalf("RemoveConflicts() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	records, err := LoadConflicts(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].IssueID != "bbb" {
		t.Errorf("remaining records = %+v, want only bbb", records)
	}

	removed, err = RemoveConflicts(path, "zzz")
	if err != nil {
		t.Fatalf("RemoveConflicts() error = %v", err)
	}
	if removed != 0 {
		t.Errorf("removed = %d for unknown issue, want 0", removed)
	}
}
