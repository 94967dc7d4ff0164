package attic

import (
	"context"
	"errors"
	"strings"
	"testing"
	"text/template"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/spoolhq/spool/internal/merge"
	"github.com/spoolhq/spool/internal/types"
)

func testIssue() *types.Issue {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	return &types.Issue{
		ID:        "0198c2f4-5a3b-7c1d-8e2f-3a4b5c6d7e8f",
		DisplayID: "web-k7m2",
		Title:     "login flake on retry",
		Status:    types.StatusOpen,
		Priority:  2,
		CreatedAt: now,
		CreatedBy: "alice",
		UpdatedAt: now,
	}
}

func TestSaveAndLoadRoundtrip(t *testing.T) {
	a := New(t.TempDir())
	issue := testIssue()
	entry := &Entry{
		IssueID:   issue.ID,
		DisplayID: issue.DisplayID,
		Reason:    "simultaneous divergent edits to title",
		SavedAt:   time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC),
		Conflicts: []merge.FieldConflict{
			{Field: "title", Ours: "login flake on retry", Theirs: "login flake", Winner: merge.SideOurs},
		},
		Issue: issue,
	}

	path, err := a.Save(entry)
	if err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if !strings.Contains(path, issue.ID) {
		t.Errorf("Save() path %q does not contain the issue ID", path)
	}
	if entry.ContentHash == "" {
		t.Error("Save() did not fill the content hash")
	}

	refs, err := a.ListIssue(issue.ID)
	if err != nil {
		t.Fatalf("ListIssue() failed: %v", err)
	}
	if len(refs) != 1 {
		t.Fatalf("ListIssue() returned %d refs, want 1", len(refs))
	}

	loaded, err := a.Load(issue.ID, refs[0].Name)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if loaded.Reason != entry.Reason {
		t.Errorf("Reason = %q, want %q", loaded.Reason, entry.Reason)
	}
	if loaded.Issue == nil || loaded.Issue.Title != issue.Title {
		t.Errorf("Issue did not survive the roundtrip: %+v", loaded.Issue)
	}
	if len(loaded.Conflicts) != 1 || loaded.Conflicts[0].Field != "title" {
		t.Errorf("Conflicts = %+v, want the title decision", loaded.Conflicts)
	}

	// Name with the .json suffix loads the same entry.
	again, err := a.Load(issue.ID, refs[0].Name+".json")
	if err != nil {
		t.Fatalf("Load() with suffix failed: %v", err)
	}
	if again.ContentHash != loaded.ContentHash {
		t.Error("suffix and bare names loaded different entries")
	}
}

func TestSaveRawEntry(t *testing.T) {
	a := New(t.TempDir())
	entry := &Entry{
		IssueID: "0198c2f4-5a3b-7c1d-8e2f-3a4b5c6d7e8f",
		Reason:  "version did not parse as an issue document",
		Raw:     "{truncated garbage",
	}

	if _, err := a.Save(entry); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if entry.ContentHash == "" {
		t.Error("Save() did not hash the raw content")
	}
	if entry.SavedAt.IsZero() {
		t.Error("Save() did not stamp SavedAt")
	}
}

func TestSaveCollisionKeepsBothEntries(t *testing.T) {
	a := New(t.TempDir())
	at := time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)
	issue := testIssue()

	first := &Entry{IssueID: issue.ID, Reason: "first", SavedAt: at, Issue: issue}
	second := &Entry{IssueID: issue.ID, Reason: "second", SavedAt: at, Issue: issue}

	p1, err := a.Save(first)
	if err != nil {
		t.Fatalf("first Save() failed: %v", err)
	}
	p2, err := a.Save(second)
	if err != nil {
		t.Fatalf("second Save() failed: %v", err)
	}
	if p1 == p2 {
		t.Fatalf("colliding saves share path %q", p1)
	}

	refs, err := a.ListIssue(issue.ID)
	if err != nil {
		t.Fatalf("ListIssue() failed: %v", err)
	}
	if len(refs) != 2 {
		t.Errorf("ListIssue() returned %d refs, want 2", len(refs))
	}
}

func TestListAcrossIssues(t *testing.T) {
	a := New(t.TempDir())
	t1 := time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	entries := []*Entry{
		{IssueID: "0198c2f4-bbbb-7c1d-8e2f-3a4b5c6d7e8f", Reason: "later issue", SavedAt: t1, Raw: "x"},
		{IssueID: "0198c2f4-aaaa-7c1d-8e2f-3a4b5c6d7e8f", Reason: "older entry", SavedAt: t1, Raw: "y"},
		{IssueID: "0198c2f4-aaaa-7c1d-8e2f-3a4b5c6d7e8f", Reason: "newer entry", SavedAt: t2, Raw: "z"},
	}
	for _, e := range entries {
		if _, err := a.Save(e); err != nil {
			t.Fatalf("Save() failed: %v", err)
		}
	}

	refs, err := a.List()
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(refs) != 3 {
		t.Fatalf("List() returned %d refs, want 3", len(refs))
	}
	if refs[0].IssueID != "0198c2f4-aaaa-7c1d-8e2f-3a4b5c6d7e8f" {
		t.Errorf("List() not ordered by issue ID: first is %s", refs[0].IssueID)
	}
	if !refs[0].SavedAt.Equal(t1) || !refs[1].SavedAt.Equal(t2) {
		t.Error("List() entries for one issue not ordered by save time")
	}
}

func TestListEmptyAttic(t *testing.T) {
	a := New(t.TempDir() + "/attic")
	refs, err := a.List()
	if err != nil {
		t.Fatalf("List() failed on missing directory: %v", err)
	}
	if len(refs) != 0 {
		t.Errorf("List() = %d refs, want 0", len(refs))
	}
}

func TestLoadMissingEntry(t *testing.T) {
	a := New(t.TempDir())
	_, err := a.Load("0198c2f4-aaaa-7c1d-8e2f-3a4b5c6d7e8f", "1748952000000000000")
	if err == nil {
		t.Fatal("Load() succeeded for a missing entry")
	}
	if !strings.Contains(err.Error(), "1748952000000000000") {
		t.Errorf("error %q does not name the entry", err)
	}
}

func TestNewExplainerWithoutKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := NewExplainer("")
	if !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("NewExplainer() error = %v, want ErrNoAPIKey", err)
	}
}

func TestRenderExplainPrompt(t *testing.T) {
	tmpl := template.Must(template.New("explain").Parse(explainPromptTemplate))
	issue := testIssue()
	loser := issue.Clone()
	loser.Title = "login flake"

	entry := &Entry{
		IssueID:   issue.ID,
		DisplayID: issue.DisplayID,
		Reason:    "simultaneous divergent edits to title",
		SavedAt:   time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC),
		Conflicts: []merge.FieldConflict{
			{Field: "title", Ours: issue.Title, Theirs: loser.Title, Winner: merge.SideOurs},
		},
		Issue: loser,
	}

	prompt, err := renderExplainPrompt(tmpl, entry, issue)
	if err != nil {
		t.Fatalf("renderExplainPrompt() failed: %v", err)
	}
	for _, want := range []string{
		"web-k7m2",
		"simultaneous divergent edits to title",
		`"login flake on retry"`,
		`"title": "login flake"`,
		"winner=ours",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"rate limited", &anthropic.Error{StatusCode: 429}, true},
		{"server error", &anthropic.Error{StatusCode: 503}, true},
		{"bad request", &anthropic.Error{StatusCode: 400}, false},
		{"unauthorized", &anthropic.Error{StatusCode: 401}, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isRetryable(tc.err); got != tc.want {
				t.Errorf("isRetryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
