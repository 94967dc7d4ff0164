// Package merge reconciles divergent versions of a single issue during
// synchronization.
//
// Each issue lives in its own file on the sync branch, so concurrent edits
// usually land on disjoint files and never reach this package. When two
// clones do edit the same issue, Issue applies field-level rules: genesis
// fields are immutable, scalar fields resolve last-write-wins by updated_at,
// labels and comments union, notes concatenate, and deletion beats a
// concurrent edit. When no rule applies, the version with the smaller
// content hash wins on every clone and the loser is handed back to the
// caller for preservation in the attic, so no edit is silently discarded.
package merge

import (
	"bytes"
	"cmp"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spoolhq/spool/internal/types"
)

// Side identifies which version of an issue won or lost a conflict, using
// git's vocabulary: ours is the local sync branch, theirs the remote.
type Side string

// Conflict sides.
const (
	SideOurs   Side = "ours"
	SideTheirs Side = "theirs"
)

// Outcome classifies how a three-way merge resolved.
type Outcome int

const (
	// OutcomeClean means the edits were disjoint or identical. Nothing was
	// dropped and no conflict record is needed.
	OutcomeClean Outcome = iota

	// OutcomeResolved means both sides edited the same field and a rule
	// (last-write-wins, closed-wins-tie, deletion-beats-edit) picked the
	// winner. The losing version must be preserved in the attic.
	OutcomeResolved

	// OutcomeCanonical means no rule could reconcile the versions: an
	// immutable field diverged, or both sides carry the same updated_at
	// with different values. The version with the smaller content hash is
	// kept whole; the other must be preserved in the attic and flagged for
	// review.
	OutcomeCanonical
)

func (o Outcome) String() string {
	switch o {
	case OutcomeClean:
		return "clean"
	case OutcomeResolved:
		return "resolved"
	case OutcomeCanonical:
		return "canonical"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// FieldConflict records one same-field divergence and which side's value
// survived into the merged document.
type FieldConflict struct {
	Field  string `json:"field"`
	Ours   string `json:"ours"`
	Theirs string `json:"theirs"`
	Winner Side   `json:"winner"`
}

// Result is the product of merging one issue document three ways.
type Result struct {
	// Merged is the document to stage. Nil means the file stays deleted.
	Merged *types.Issue

	Outcome Outcome

	// Conflicts lists every same-field divergence and how it resolved.
	// Empty for a clean merge and for canonical picks, which are
	// whole-document decisions described by Reason instead.
	Conflicts []FieldConflict

	// Loser is the full version whose edits did not all survive into
	// Merged. The caller writes it to the attic. Nil for a clean merge.
	Loser *types.Issue

	// Reason explains why no field rule applied. Set only when Outcome is
	// OutcomeCanonical.
	Reason string
}

// Issue merges two divergent versions of one issue against their common
// ancestor. base is nil when the issue appeared on both sides since the
// merge base; ours or theirs is nil when that side removed the file outright
// (deletions normally tombstone in place, so a missing side means the file
// was removed by hand).
func Issue(base, ours, theirs *types.Issue) *Result {
	switch {
	case ours == nil && theirs == nil:
		// Gone from both sides; the deletion stands.
		return &Result{Outcome: OutcomeClean}
	case ours == nil:
		return mergeAgainstMissing(base, theirs, SideOurs)
	case theirs == nil:
		return mergeAgainstMissing(base, ours, SideTheirs)
	}

	if field := genesisDivergence(ours, theirs); field != "" {
		return canonical(ours, theirs, fmt.Sprintf("immutable field %s differs between versions", field))
	}

	if base == nil {
		// Created on both sides with the same identity: merge as if from
		// an empty document carrying only the genesis fields.
		base = &types.Issue{
			ID:        ours.ID,
			DisplayID: ours.DisplayID,
			CreatedAt: ours.CreatedAt,
			CreatedBy: ours.CreatedBy,
		}
	}

	oursDead, theirsDead := ours.IsTombstone(), theirs.IsTombstone()
	switch {
	case oursDead && theirsDead:
		return &Result{Merged: mergeTombstones(ours, theirs), Outcome: OutcomeClean}
	case oursDead:
		return deletionWins(base, ours, theirs, SideOurs)
	case theirsDead:
		return deletionWins(base, theirs, ours, SideTheirs)
	}

	return mergeFields(base, ours, theirs)
}

// genesisDivergence reports the first immutable field on which the two
// versions disagree, or "" when their identities match.
func genesisDivergence(ours, theirs *types.Issue) string {
	switch {
	case ours.ID != theirs.ID:
		return "id"
	case ours.DisplayID != theirs.DisplayID:
		return "display_id"
	case !ours.CreatedAt.Equal(theirs.CreatedAt):
		return "created_at"
	case ours.CreatedBy != theirs.CreatedBy:
		return "created_by"
	}
	return ""
}

// mergeAgainstMissing resolves a file removed outright on one side. A
// surviving tombstone is kept as the fuller record of the same intent. An
// unchanged survivor lets the removal stand. A modified survivor loses to
// the removal but is preserved in the attic.
func mergeAgainstMissing(base, survivor *types.Issue, removed Side) *Result {
	if base == nil {
		// Created on one side only: nothing was removed, keep it.
		return &Result{Merged: survivor.Clone(), Outcome: OutcomeClean}
	}
	if survivor.IsTombstone() {
		return &Result{Merged: survivor.Clone(), Outcome: OutcomeClean}
	}
	if survivor.ComputeContentHash() == base.ComputeContentHash() {
		return &Result{Outcome: OutcomeClean}
	}
	return &Result{
		Outcome:   OutcomeResolved,
		Conflicts: []FieldConflict{deletionConflict(removed)},
		Loser:     survivor.Clone(),
	}
}

// deletionWins resolves a tombstone racing a live version. The deletion is
// kept; if the live side also changed the issue, its version goes to the
// attic so the edits stay recoverable.
func deletionWins(base, dead, live *types.Issue, deadSide Side) *Result {
	merged := dead.Clone()
	merged.UpdatedAt = maxTime(dead.UpdatedAt, live.UpdatedAt)
	if live.ComputeContentHash() == base.ComputeContentHash() {
		// The live side never touched the issue; this is an ordinary delete.
		return &Result{Merged: merged, Outcome: OutcomeClean}
	}
	return &Result{
		Merged:    merged,
		Outcome:   OutcomeResolved,
		Conflicts: []FieldConflict{deletionConflict(deadSide)},
		Loser:     live.Clone(),
	}
}

func deletionConflict(deletedSide Side) FieldConflict {
	c := FieldConflict{Field: "deletion", Winner: deletedSide}
	if deletedSide == SideOurs {
		c.Ours, c.Theirs = "deleted", "edited"
	} else {
		c.Ours, c.Theirs = "edited", "deleted"
	}
	return c
}

// mergeTombstones combines two tombstones for the same issue. The later
// deletion is authoritative for who deleted it and why.
func mergeTombstones(ours, theirs *types.Issue) *types.Issue {
	winner := ours
	switch {
	case timePtrAfter(ours.DeletedAt, theirs.DeletedAt):
	case timePtrAfter(theirs.DeletedAt, ours.DeletedAt):
		winner = theirs
	case canonicalLess(theirs, ours):
		winner = theirs
	}
	merged := winner.Clone()
	merged.UpdatedAt = maxTime(ours.UpdatedAt, theirs.UpdatedAt)
	return merged
}

// fieldMerger applies last-write-wins across the scalar fields of one
// merge, collecting a record of every same-field conflict it resolves.
// Exact updated_at ties have no order to win by; the first tied field with
// divergent values is remembered so the caller can fall back to a canonical
// whole-document pick.
type fieldMerger struct {
	tie       bool
	oursNewer bool
	conflicts []FieldConflict
	loser     Side
	noRule    string
}

func (m *fieldMerger) record(field, oursVal, theirsVal string, winner Side) {
	m.conflicts = append(m.conflicts, FieldConflict{Field: field, Ours: oursVal, Theirs: theirsVal, Winner: winner})
	if winner == SideOurs {
		m.loser = SideTheirs
	} else {
		m.loser = SideOurs
	}
}

// text merges one scalar field three ways, falling to last-write-wins when
// both sides rewrote it.
func (m *fieldMerger) text(field, base, ours, theirs string) string {
	if base == ours && base != theirs {
		return theirs
	}
	if base == theirs && base != ours {
		return ours
	}
	if ours == theirs {
		return ours
	}
	if m.tie {
		if m.noRule == "" {
			m.noRule = field
		}
		return ours // unused: the caller switches to a canonical pick
	}
	if m.oursNewer {
		m.record(field, ours, theirs, SideOurs)
		return ours
	}
	m.record(field, ours, theirs, SideTheirs)
	return theirs
}

func (m *fieldMerger) number(field string, base, ours, theirs int) int {
	if base == ours && base != theirs {
		return theirs
	}
	if base == theirs && base != ours {
		return ours
	}
	if ours == theirs {
		return ours
	}
	if m.tie {
		if m.noRule == "" {
			m.noRule = field
		}
		return ours
	}
	if m.oursNewer {
		m.record(field, strconv.Itoa(ours), strconv.Itoa(theirs), SideOurs)
		return ours
	}
	m.record(field, strconv.Itoa(ours), strconv.Itoa(theirs), SideTheirs)
	return theirs
}

// status is last-write-wins like any scalar, except that closed wins an
// exact tie.
func (m *fieldMerger) status(base, ours, theirs types.Status) types.Status {
	if base == ours && base != theirs {
		return theirs
	}
	if base == theirs && base != ours {
		return ours
	}
	if ours == theirs {
		return ours
	}
	if m.tie {
		switch {
		case ours == types.StatusClosed:
			m.record("status", string(ours), string(theirs), SideOurs)
			return ours
		case theirs == types.StatusClosed:
			m.record("status", string(ours), string(theirs), SideTheirs)
			return theirs
		}
		if m.noRule == "" {
			m.noRule = "status"
		}
		return ours
	}
	if m.oursNewer {
		m.record("status", string(ours), string(theirs), SideOurs)
		return ours
	}
	m.record("status", string(ours), string(theirs), SideTheirs)
	return theirs
}

func mergeFields(base, ours, theirs *types.Issue) *Result {
	m := &fieldMerger{
		tie:       ours.UpdatedAt.Equal(theirs.UpdatedAt),
		oursNewer: ours.UpdatedAt.After(theirs.UpdatedAt),
	}

	merged := &types.Issue{
		ID:        ours.ID,
		DisplayID: ours.DisplayID,
		CreatedAt: ours.CreatedAt,
		CreatedBy: ours.CreatedBy,
	}

	merged.Title = m.text("title", base.Title, ours.Title, theirs.Title)
	merged.Description = m.text("description", base.Description, ours.Description, theirs.Description)
	merged.Status = m.status(base.Status, ours.Status, theirs.Status)
	merged.Priority = m.number("priority", base.Priority, ours.Priority, theirs.Priority)
	merged.Assignee = m.text("assignee", base.Assignee, ours.Assignee, theirs.Assignee)

	if m.noRule != "" {
		return canonical(ours, theirs, fmt.Sprintf("simultaneous divergent edits to %s", m.noRule))
	}

	merged.Labels = mergeLabels(base.Labels, ours.Labels, theirs.Labels)
	merged.Comments = mergeComments(ours.Comments, theirs.Comments)
	merged.Notes = mergeNotes(base.Notes, ours.Notes, theirs.Notes)
	merged.UpdatedAt = maxTime(ours.UpdatedAt, theirs.UpdatedAt)

	// closed_at travels with a closed status and only then, so a reopened
	// winner drops the loser's closure timestamp.
	if merged.Status == types.StatusClosed {
		merged.ClosedAt = maxTimePtr(ours.ClosedAt, theirs.ClosedAt)
		merged.CloseReason = closeReason(ours, theirs)
	}

	res := &Result{Merged: merged, Outcome: OutcomeClean, Conflicts: m.conflicts}
	if len(m.conflicts) > 0 {
		res.Outcome = OutcomeResolved
		if m.loser == SideOurs {
			res.Loser = ours.Clone()
		} else {
			res.Loser = theirs.Clone()
		}
	}
	return res
}

// canonical keeps one whole version when no field rule can reconcile them.
// The pick is symmetric, so every clone chooses the same winner no matter
// which side it merged from.
func canonical(ours, theirs *types.Issue, reason string) *Result {
	winner, loser := ours, theirs
	if canonicalLess(theirs, ours) {
		winner, loser = theirs, ours
	}
	return &Result{
		Merged:  winner.Clone(),
		Outcome: OutcomeCanonical,
		Loser:   loser.Clone(),
		Reason:  reason,
	}
}

// canonicalLess orders two versions of an issue: content hash first, then
// the serialized form for versions whose hashed fields agree.
func canonicalLess(a, b *types.Issue) bool {
	ha, hb := a.ComputeContentHash(), b.ComputeContentHash()
	if ha != hb {
		return ha < hb
	}
	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	return bytes.Compare(ja, jb) < 0
}

// CanonicalBytes picks a winner between two raw versions that could not be
// parsed as issues. The ordering is symmetric across clones: smaller
// content digest first.
func CanonicalBytes(a, b []byte) (winner, loser []byte) {
	ha := sha256.Sum256(a)
	hb := sha256.Sum256(b)
	if bytes.Compare(ha[:], hb[:]) <= 0 {
		return a, b
	}
	return b, a
}

// closeReason picks the reason attached to the most recent closure. An
// exact tie falls back to string order so every clone agrees.
func closeReason(ours, theirs *types.Issue) string {
	switch {
	case timePtrAfter(ours.ClosedAt, theirs.ClosedAt):
		return ours.CloseReason
	case timePtrAfter(theirs.ClosedAt, ours.ClosedAt):
		return theirs.CloseReason
	}
	return min(ours.CloseReason, theirs.CloseReason)
}

// mergeLabels merges label sets three ways: additions from either side
// survive, removals against the base are honored, output is sorted.
func mergeLabels(base, ours, theirs []string) []string {
	toSet := func(labels []string) map[string]bool {
		set := make(map[string]bool, len(labels))
		for _, l := range labels {
			set[l] = true
		}
		return set
	}
	baseSet, oursSet, theirsSet := toSet(base), toSet(ours), toSet(theirs)

	keep := make(map[string]bool)
	for l := range baseSet {
		if oursSet[l] && theirsSet[l] {
			keep[l] = true
		}
	}
	for l := range oursSet {
		if !baseSet[l] {
			keep[l] = true
		}
	}
	for l := range theirsSet {
		if !baseSet[l] {
			keep[l] = true
		}
	}

	if len(keep) == 0 {
		return nil
	}
	merged := make([]string, 0, len(keep))
	for l := range keep {
		merged = append(merged, l)
	}
	slices.Sort(merged)
	return merged
}

// mergeComments unions the comment threads. Comments are append-only, so
// anything present on either side survives, deduplicated by identity and
// ordered by time.
func mergeComments(ours, theirs []types.Comment) []types.Comment {
	seen := make(map[string]bool, len(ours)+len(theirs))
	var merged []types.Comment
	for _, c := range ours {
		if !seen[c.Key()] {
			seen[c.Key()] = true
			merged = append(merged, c)
		}
	}
	for _, c := range theirs {
		if !seen[c.Key()] {
			seen[c.Key()] = true
			merged = append(merged, c)
		}
	}
	slices.SortFunc(merged, func(a, b types.Comment) int {
		return cmp.Or(
			a.CreatedAt.Compare(b.CreatedAt),
			cmp.Compare(a.Author, b.Author),
			cmp.Compare(a.Text, b.Text),
		)
	})
	return merged
}

// mergeNotes keeps both sides when they diverge: notes are a running log,
// so a concatenation loses nothing.
func mergeNotes(base, ours, theirs string) string {
	if base == ours && base != theirs {
		return theirs
	}
	if base == theirs && base != ours {
		return ours
	}
	if ours == theirs {
		return ours
	}
	if ours == "" {
		return theirs
	}
	if theirs == "" {
		return ours
	}
	// A side that already contains the other's text is the concatenation
	// from an earlier merge; keep it rather than duplicating.
	if strings.Contains(ours, theirs) {
		return ours
	}
	if strings.Contains(theirs, ours) {
		return theirs
	}
	first, second := ours, theirs
	if second < first {
		first, second = second, first
	}
	return first + "\n\n---\n\n" + second
}

// timePtrAfter reports whether t1 is strictly after t2, treating nil or
// zero times as unset. A set time beats an unset one; two unset times are
// not ordered.
func timePtrAfter(t1, t2 *time.Time) bool {
	t1Set := t1 != nil && !t1.IsZero()
	t2Set := t2 != nil && !t2.IsZero()
	if !t1Set {
		return false
	}
	if !t2Set {
		return true
	}
	return t1.After(*t2)
}

// maxTime returns the later of two times, treating zero as unset.
func maxTime(t1, t2 time.Time) time.Time {
	if t1.IsZero() {
		return t2
	}
	if t2.IsZero() {
		return t1
	}
	if t1.After(t2) {
		return t1
	}
	return t2
}

// maxTimePtr returns the later of two pointer times, nil when both are unset.
func maxTimePtr(t1, t2 *time.Time) *time.Time {
	t1Set := t1 != nil && !t1.IsZero()
	t2Set := t2 != nil && !t2.IsZero()
	switch {
	case !t1Set && !t2Set:
		return nil
	case !t1Set:
		return t2
	case !t2Set:
		return t1
	}
	if t1.After(*t2) {
		return t1
	}
	return t2
}
