package identity

import (
	"bufio"
	"bytes"
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"
)

// ErrNotFound is the sentinel for failed ID resolution. The concrete error
// carries the input; match with errors.Is.
var ErrNotFound = errors.New("issue not found")

// NotFoundError reports that no mapping entry matched the input.
type NotFoundError struct {
	Input string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no issue found matching %q", e.Input)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// AmbiguousError reports that a display-ID prefix matched more than one
// issue. Resolution never picks a candidate arbitrarily.
type AmbiguousError struct {
	Input   string
	Matches []string // matching display IDs, sorted
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous ID %q matches %d issues: %v\nUse more characters to disambiguate", e.Input, len(e.Matches), e.Matches)
}

// Entry is one line of the append-only mapping table. A mint line has
// MintedAt set; a later line for the same internal ID with DeletedAt set
// marks the mapping deleted. Nothing is ever rewritten or removed.
type Entry struct {
	Internal  string     `json:"internal"`
	Display   string     `json:"display"`
	MintedAt  time.Time  `json:"minted_at,omitempty"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

func (e Entry) isDeletion() bool { return e.DeletedAt != nil && !e.DeletedAt.IsZero() }

// mapping is the folded state of one internal ID.
type mapping struct {
	display   string
	mintedAt  time.Time
	deletedAt *time.Time
}

// Table is the in-memory mapping table for one command invocation. It is
// loaded once, mutated only by appending, and flushed before the command
// reports success.
type Table struct {
	prefix string

	entries []Entry // full log in file order
	pending []Entry // appended this invocation, not yet flushed

	byInternal map[string]*mapping
	byDisplay  map[string]string // display → internal, includes deleted (never reassigned)
}

// NewTable returns an empty table for the given project prefix.
func NewTable(prefix string) *Table {
	return &Table{
		prefix:     prefix,
		byInternal: make(map[string]*mapping),
		byDisplay:  make(map[string]string),
	}
}

// LoadTable reads the mapping file at path. A missing file yields an empty
// table: a freshly initialized project has no mappings yet.
func LoadTable(path, prefix string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewTable(prefix), nil
		}
		return nil, fmt.Errorf("failed to read mapping table: %w", err)
	}
	return ParseTable(data, prefix)
}

// ParseTable folds raw JSONL content into a table.
func ParseTable(data []byte, prefix string) (*Table, error) {
	t := NewTable(prefix)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("mapping table line %d is not valid JSON: %w", lineNum, err)
		}
		if e.Internal == "" || e.Display == "" {
			return nil, fmt.Errorf("mapping table line %d is missing internal or display ID", lineNum)
		}
		t.fold(e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan mapping table: %w", err)
	}
	return t, nil
}

// fold applies one log line to the in-memory state, in log order.
func (t *Table) fold(e Entry) {
	t.entries = append(t.entries, e)
	m := t.byInternal[e.Internal]
	if m == nil {
		m = &mapping{}
		t.byInternal[e.Internal] = m
	}
	if e.Display != "" {
		m.display = e.Display
		t.byDisplay[strings.ToLower(e.Display)] = e.Internal
	}
	if !e.MintedAt.IsZero() && m.mintedAt.IsZero() {
		m.mintedAt = e.MintedAt
	}
	if e.isDeletion() {
		m.deletedAt = e.DeletedAt
	}
}

// Prefix returns the project prefix this table formats display IDs with.
func (t *Table) Prefix() string { return t.prefix }

// Len returns the number of mapped internal IDs, deleted included.
func (t *Table) Len() int { return len(t.byInternal) }

// Mint derives a display ID for internalID, records the mapping, and returns
// the display form. Candidate codes collide against every display ever
// recorded; a collision extends the code by one character rather than
// reusing or truncating. Minting an already-mapped internal ID is an error.
func (t *Table) Mint(internalID string, now time.Time) (string, error) {
	if internalID == "" {
		return "", errors.New("cannot mint display ID for empty internal ID")
	}
	if m, ok := t.byInternal[internalID]; ok {
		return "", fmt.Errorf("internal ID %s is already mapped to %s", internalID, m.display)
	}

	for length := DefaultCodeLength; length <= MaxCodeLength; length++ {
		display := FormatDisplayID(t.prefix, DeriveCode(internalID, length))
		if _, taken := t.byDisplay[strings.ToLower(display)]; taken {
			continue
		}
		e := Entry{Internal: internalID, Display: display, MintedAt: now.UTC()}
		t.fold(e)
		t.pending = append(t.pending, e)
		return display, nil
	}
	return "", fmt.Errorf("exhausted display code lengths minting ID for %s", internalID)
}

// MarkDeleted appends a deletion marker for internalID. The display ID stays
// in the table forever and is never handed out again.
func (t *Table) MarkDeleted(internalID string, now time.Time) error {
	m, ok := t.byInternal[internalID]
	if !ok {
		return &NotFoundError{Input: internalID}
	}
	if m.deletedAt != nil {
		return nil // already marked
	}
	at := now.UTC()
	e := Entry{Internal: internalID, Display: m.display, DeletedAt: &at}
	t.fold(e)
	t.pending = append(t.pending, e)
	return nil
}

// Dirty reports whether the table has appended entries not yet flushed.
func (t *Table) Dirty() bool { return len(t.pending) > 0 }

// Flush appends pending entries to the mapping file. The write is
// append-only; existing lines are never touched. Callers serialize
// concurrent appends with the mapping lock before calling.
func (t *Table) Flush(path string) error {
	if len(t.pending) == 0 {
		return nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open mapping table for append: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	for _, e := range t.pending {
		line, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to encode mapping entry: %w", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to append to mapping table: %w", err)
	}
	t.pending = nil
	return nil
}

// Display returns the display ID for an internal ID, or "" when unmapped.
func (t *Table) Display(internalID string) string {
	if m, ok := t.byInternal[internalID]; ok {
		return m.display
	}
	return ""
}

// DebugID renders both identity forms for diagnostics, e.g.
// "spool-a3f8 (0192aaaa-…)". Never parse this format; it is for humans.
func (t *Table) DebugID(internalID string) string {
	display := t.Display(internalID)
	if display == "" {
		return internalID
	}
	return fmt.Sprintf("%s (%s)", display, internalID)
}

// IsDeleted reports whether internalID carries a deletion marker.
func (t *Table) IsDeleted(internalID string) bool {
	m, ok := t.byInternal[internalID]
	return ok && m.deletedAt != nil
}

// minResolveCode is the shortest display-code prefix Resolve accepts against
// a table with more than one live issue.
const minResolveCode = 2

// Resolve maps user input to an internal ID. Accepted forms, tried in order:
// a full internal ID, a full display ID (with or without the project
// prefix), and an unambiguous display-ID prefix. Exact matches win over
// prefix matches. Returns *NotFoundError when nothing matches and
// *AmbiguousError when a prefix matches several issues, or when the code
// part of the prefix is shorter than minResolveCode against a table with
// more than one live issue.
func (t *Table) Resolve(input string) (string, error) {
	in := strings.TrimSpace(input)
	if in == "" {
		return "", &NotFoundError{Input: input}
	}

	// Full internal ID.
	if IsInternalID(in) {
		if _, ok := t.byInternal[in]; ok {
			return in, nil
		}
		return "", &NotFoundError{Input: input}
	}

	norm := strings.ToLower(in)

	// Exact display ID, as typed or with the project prefix added for bare
	// shortcodes ("a3f8" → "spool-a3f8").
	if internal, ok := t.byDisplay[norm]; ok {
		return internal, nil
	}
	prefixed := norm
	if !strings.HasPrefix(norm, strings.ToLower(t.prefix)+"-") {
		prefixed = strings.ToLower(t.prefix) + "-" + norm
		if internal, ok := t.byDisplay[prefixed]; ok {
			return internal, nil
		}
	}

	// Display prefix over live mappings only; deleted issues still resolve
	// by their exact ID above, but do not compete for short prefixes.
	var matches []string
	live := 0
	seen := make(map[string]bool)
	for internal, m := range t.byInternal {
		if m.deletedAt != nil || m.display == "" {
			continue
		}
		live++
		d := strings.ToLower(m.display)
		if strings.HasPrefix(d, norm) || strings.HasPrefix(d, prefixed) {
			if !seen[internal] {
				seen[internal] = true
				matches = append(matches, m.display)
			}
		}
	}

	if len(matches) == 0 {
		return "", &NotFoundError{Input: input}
	}
	// A single code character is ambiguous whenever the table has more than
	// one live issue, even if only one happens to match today: tomorrow's
	// mint can silently change what it addresses.
	code := strings.TrimPrefix(prefixed, strings.ToLower(t.prefix)+"-")
	if len(code) < minResolveCode && live > 1 {
		slices.Sort(matches)
		return "", &AmbiguousError{Input: input, Matches: matches}
	}
	if len(matches) > 1 {
		slices.Sort(matches)
		return "", &AmbiguousError{Input: input, Matches: matches}
	}
	return t.byDisplay[strings.ToLower(matches[0])], nil
}

// Internals returns all mapped internal IDs in deterministic order.
func (t *Table) Internals() []string {
	ids := make([]string, 0, len(t.byInternal))
	for id := range t.byInternal {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// DuplicateDisplays returns displays claimed by more than one internal ID.
// A healthy table has none; doctor reports any it finds.
func (t *Table) DuplicateDisplays() map[string][]string {
	claims := make(map[string][]string)
	for internal, m := range t.byInternal {
		if m.display == "" {
			continue
		}
		key := strings.ToLower(m.display)
		claims[key] = append(claims[key], internal)
	}
	dups := make(map[string][]string)
	for display, internals := range claims {
		if len(internals) > 1 {
			slices.Sort(internals)
			dups[display] = internals
		}
	}
	return dups
}

// MergeEntries folds two divergent append-only logs into one canonical log.
// Lines are unioned, then display codes claimed by more than one internal ID
// are resolved: the earlier mint keeps the code (ties break on internal ID
// order) and every later claimant is re-minted at a longer length. The
// result is deterministic, so independently merging clones converge on the
// same table.
func MergeEntries(prefix string, ours, theirs []Entry) []Entry {
	type state struct {
		internal  string
		display   string
		mintedAt  time.Time
		deletedAt *time.Time
	}

	states := make(map[string]*state)
	apply := func(e Entry) {
		s := states[e.Internal]
		if s == nil {
			s = &state{internal: e.Internal}
			states[e.Internal] = s
		}
		if s.display == "" && e.Display != "" {
			s.display = e.Display
		}
		if s.mintedAt.IsZero() || (!e.MintedAt.IsZero() && e.MintedAt.Before(s.mintedAt)) {
			if !e.MintedAt.IsZero() {
				s.mintedAt = e.MintedAt
			}
		}
		if e.isDeletion() && (s.deletedAt == nil || e.DeletedAt.After(*s.deletedAt)) {
			s.deletedAt = e.DeletedAt
		}
	}
	for _, e := range ours {
		apply(e)
	}
	for _, e := range theirs {
		apply(e)
	}

	ordered := make([]*state, 0, len(states))
	for _, s := range states {
		ordered = append(ordered, s)
	}
	slices.SortFunc(ordered, func(a, b *state) int {
		if c := a.mintedAt.Compare(b.mintedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.internal, b.internal)
	})

	// Resolve display collisions: first claimant in mint order keeps the
	// code, later ones extend until free.
	taken := make(map[string]string) // display (lower) → internal
	for _, s := range ordered {
		key := strings.ToLower(s.display)
		if holder, clash := taken[key]; !clash || holder == s.internal {
			taken[key] = s.internal
			continue
		}
		for length := DefaultCodeLength; length <= MaxCodeLength; length++ {
			candidate := FormatDisplayID(prefix, DeriveCode(s.internal, length))
			if _, clash := taken[strings.ToLower(candidate)]; clash {
				continue
			}
			s.display = candidate
			taken[strings.ToLower(candidate)] = s.internal
			break
		}
	}

	// Rebuild the canonical log: mint lines in mint order, then deletion
	// markers in deletion order.
	merged := make([]Entry, 0, len(ordered)+4)
	for _, s := range ordered {
		merged = append(merged, Entry{Internal: s.internal, Display: s.display, MintedAt: s.mintedAt})
	}
	deletions := make([]*state, 0)
	for _, s := range ordered {
		if s.deletedAt != nil {
			deletions = append(deletions, s)
		}
	}
	slices.SortFunc(deletions, func(a, b *state) int {
		if c := a.deletedAt.Compare(*b.deletedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.internal, b.internal)
	})
	for _, s := range deletions {
		merged = append(merged, Entry{Internal: s.internal, Display: s.display, DeletedAt: s.deletedAt})
	}
	return merged
}

// EncodeEntries renders entries as JSONL, one line per entry, for writing a
// merged table back to disk.
func EncodeEntries(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	for _, e := range entries {
		line, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("failed to encode mapping entry: %w", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// Entries returns a copy of the raw log lines in file order.
func (t *Table) Entries() []Entry {
	return slices.Clone(t.entries)
}
