package merge_test

import (
	"testing"
	"time"

	"github.com/spoolhq/spool/internal/merge"
	"github.com/spoolhq/spool/internal/types"
	"github.com/stretchr/testify/assert"
)

// Every clone merges the two sides in whatever order its git history hands
// them over, so Issue must produce the same document either way. These cases
// cover each outcome class; the field-rule specifics live in merge_test.go.
func TestIssueIsSymmetric(t *testing.T) {
	at := func(s string) time.Time {
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			t.Fatalf("bad timestamp %q: %v", s, err)
		}
		return ts
	}
	newIssue := func(mutate func(*types.Issue)) *types.Issue {
		is := &types.Issue{
			ID:        "0197a7f2-0000-7000-8000-000000000001",
			DisplayID: "demo-k4x9",
			Title:     "Fix login redirect",
			Status:    types.StatusOpen,
			Priority:  2,
			CreatedAt: at("2025-06-01T09:00:00Z"),
			CreatedBy: "alice",
			UpdatedAt: at("2025-06-01T09:00:00Z"),
		}
		if mutate != nil {
			mutate(is)
		}
		return is
	}

	base := newIssue(nil)
	deleted := at("2025-06-03T08:00:00Z")

	tests := []struct {
		name        string
		ours        *types.Issue
		theirs      *types.Issue
		wantOutcome merge.Outcome
	}{
		{
			name: "disjoint edits",
			ours: newIssue(func(is *types.Issue) {
				is.Title = "Fix login redirect loop"
				is.UpdatedAt = at("2025-06-02T10:00:00Z")
			}),
			theirs: newIssue(func(is *types.Issue) {
				is.Assignee = "bob"
				is.UpdatedAt = at("2025-06-02T11:00:00Z")
			}),
			wantOutcome: merge.OutcomeClean,
		},
		{
			name: "same field, last write wins",
			ours: newIssue(func(is *types.Issue) {
				is.Priority = 0
				is.UpdatedAt = at("2025-06-02T10:00:00Z")
			}),
			theirs: newIssue(func(is *types.Issue) {
				is.Priority = 3
				is.UpdatedAt = at("2025-06-02T11:00:00Z")
			}),
			wantOutcome: merge.OutcomeResolved,
		},
		{
			name: "exact tie falls to canonical pick",
			ours: newIssue(func(is *types.Issue) {
				is.Title = "Fix login redirect loop"
				is.UpdatedAt = at("2025-06-02T10:00:00Z")
			}),
			theirs: newIssue(func(is *types.Issue) {
				is.Title = "Fix broken login redirect"
				is.UpdatedAt = at("2025-06-02T10:00:00Z")
			}),
			wantOutcome: merge.OutcomeCanonical,
		},
		{
			name: "deletion races an edit",
			ours: newIssue(func(is *types.Issue) {
				is.DeletedAt = &deleted
				is.DeletedBy = "alice"
				is.UpdatedAt = deleted
			}),
			theirs: newIssue(func(is *types.Issue) {
				is.Notes = "still reproducible on main"
				is.UpdatedAt = at("2025-06-02T11:00:00Z")
			}),
			wantOutcome: merge.OutcomeResolved,
		},
		{
			name: "notes diverge and concatenate",
			ours: newIssue(func(is *types.Issue) {
				is.Notes = "repro: log in twice"
				is.UpdatedAt = at("2025-06-02T10:00:00Z")
			}),
			theirs: newIssue(func(is *types.Issue) {
				is.Notes = "only affects safari"
				is.UpdatedAt = at("2025-06-02T11:00:00Z")
			}),
			wantOutcome: merge.OutcomeClean,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fwd := merge.Issue(base, tt.ours, tt.theirs)
			rev := merge.Issue(base, tt.theirs, tt.ours)

			assert.Equal(t, tt.wantOutcome, fwd.Outcome)
			assert.Equal(t, fwd.Outcome, rev.Outcome, "outcome depends on merge direction")
			assert.Equal(t, fwd.Merged, rev.Merged, "merged document depends on merge direction")
			if fwd.Loser != nil {
				assert.Equal(t, fwd.Loser, rev.Loser, "attic version depends on merge direction")
			}
		})
	}
}

// The canonical pick between unparseable versions must also come out the
// same on every clone.
func TestCanonicalBytesIsSymmetric(t *testing.T) {
	a := []byte(`{"title":"from clone a"}`)
	b := []byte(`{"title":"from clone b"}`)

	w1, l1 := merge.CanonicalBytes(a, b)
	w2, l2 := merge.CanonicalBytes(b, a)

	assert.Equal(t, w1, w2)
	assert.Equal(t, l1, l2)
	assert.NotEqual(t, string(w1), string(l1))
}
