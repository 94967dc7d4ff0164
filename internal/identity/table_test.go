package identity

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var tableNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func mustMint(t *testing.T, tbl *Table, internal string) string {
	t.Helper()
	display, err := tbl.Mint(internal, tableNow)
	if err != nil {
		t.Fatalf("Mint(%s) failed: %v", internal, err)
	}
	return display
}

func TestMintRoundTrip(t *testing.T) {
	tbl := NewTable("spool")

	internal, err := NewInternalID()
	if err != nil {
		t.Fatal(err)
	}
	display := mustMint(t, tbl, internal)

	if !strings.HasPrefix(display, "spool-") {
		t.Errorf("display ID %q missing project prefix", display)
	}
	if len(display) != len("spool-")+DefaultCodeLength {
		t.Errorf("fresh mint should use the default code length, got %q", display)
	}

	// The round-trip property: resolving the formatted display ID returns
	// the internal ID it was derived from.
	got, err := tbl.Resolve(display)
	if err != nil {
		t.Fatalf("Resolve(%s) failed: %v", display, err)
	}
	if got != internal {
		t.Errorf("Resolve(%s) = %s, want %s", display, got, internal)
	}
}

func TestMintUniqueness(t *testing.T) {
	tbl := NewTable("spool")
	displays := make(map[string]string)

	for i := 0; i < 500; i++ {
		internal, err := NewInternalID()
		if err != nil {
			t.Fatal(err)
		}
		display := mustMint(t, tbl, internal)
		if prev, taken := displays[display]; taken {
			t.Fatalf("display %s assigned to both %s and %s", display, prev, internal)
		}
		displays[display] = internal
	}
}

func TestMintCollisionExtendsCode(t *testing.T) {
	tbl := NewTable("spool")

	const internal = "0192bbbb-0000-7000-8000-000000000002"
	candidate := FormatDisplayID("spool", DeriveCode(internal, DefaultCodeLength))

	// Occupy the candidate's short code with another mapping, then mint.
	tbl.fold(Entry{Internal: "squatter", Display: candidate, MintedAt: tableNow})

	display := mustMint(t, tbl, internal)
	if display == candidate {
		t.Fatalf("mint reused an occupied display ID %q", display)
	}
	want := FormatDisplayID("spool", DeriveCode(internal, DefaultCodeLength+1))
	if display != want {
		t.Errorf("collision should extend code by one character: got %q, want %q", display, want)
	}

	// Both mappings resolve to distinct internal IDs.
	a, err := tbl.Resolve(candidate)
	if err != nil {
		t.Fatal(err)
	}
	b, err := tbl.Resolve(display)
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("colliding mints resolved to the same internal ID")
	}
}

func TestMintAlreadyMapped(t *testing.T) {
	tbl := NewTable("spool")
	internal := "0192cccc-0000-7000-8000-000000000003"
	mustMint(t, tbl, internal)

	if _, err := tbl.Mint(internal, tableNow); err == nil {
		t.Error("second mint of the same internal ID should fail")
	}
}

func TestResolveForms(t *testing.T) {
	tbl := NewTable("spool")
	internal := "0192dddd-0000-7000-8000-000000000004"
	display := mustMint(t, tbl, internal)
	code := strings.TrimPrefix(display, "spool-")

	tests := []struct {
		name  string
		input string
	}{
		{"full internal ID", internal},
		{"full display ID", display},
		{"bare shortcode", code},
		{"uppercase display", strings.ToUpper(display)},
		{"display prefix", display[:len(display)-1]},
		{"bare code prefix", code[:3]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tbl.Resolve(tt.input)
			if err != nil {
				t.Fatalf("Resolve(%q) failed: %v", tt.input, err)
			}
			if got != internal {
				t.Errorf("Resolve(%q) = %s, want %s", tt.input, got, internal)
			}
		})
	}
}

func TestResolveNotFound(t *testing.T) {
	tbl := NewTable("spool")
	mustMint(t, tbl, "0192eeee-0000-7000-8000-000000000005")

	for _, input := range []string{"spool-zzzz", "zzzz", "", "0192ffff-0000-7000-8000-00000000000f"} {
		_, err := tbl.Resolve(input)
		if err == nil {
			t.Fatalf("Resolve(%q) should fail", input)
		}
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Resolve(%q) error = %v, want ErrNotFound", input, err)
		}
	}
}

func TestResolveAmbiguous(t *testing.T) {
	tbl := NewTable("spool")
	// Two fabricated mappings sharing a code prefix.
	tbl.fold(Entry{Internal: "internal-a", Display: "spool-ab12", MintedAt: tableNow})
	tbl.fold(Entry{Internal: "internal-b", Display: "spool-ab34", MintedAt: tableNow})

	_, err := tbl.Resolve("ab")
	if err == nil {
		t.Fatal("ambiguous prefix should fail")
	}
	var ambiguous *AmbiguousError
	if !errors.As(err, &ambiguous) {
		t.Fatalf("expected *AmbiguousError, got %T: %v", err, err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("ambiguous must be distinct from not-found")
	}
	if len(ambiguous.Matches) != 2 {
		t.Errorf("expected 2 matches, got %v", ambiguous.Matches)
	}
	if !strings.Contains(err.Error(), "Use more characters to disambiguate") {
		t.Errorf("error text missing guidance: %v", err)
	}

	// A longer prefix disambiguates.
	got, err := tbl.Resolve("ab1")
	if err != nil {
		t.Fatalf("Resolve(ab1) failed: %v", err)
	}
	if got != "internal-a" {
		t.Errorf("Resolve(ab1) = %s, want internal-a", got)
	}
}

func TestResolveSingleCharPrefixFloor(t *testing.T) {
	tbl := NewTable("spool")
	tbl.fold(Entry{Internal: "internal-a", Display: "spool-ab12", MintedAt: tableNow})
	tbl.fold(Entry{Internal: "internal-b", Display: "spool-cd34", MintedAt: tableNow})

	// "a" matches only spool-ab12, but against a table with several live
	// issues one character is too short to express intent.
	for _, input := range []string{"a", "spool-a"} {
		_, err := tbl.Resolve(input)
		if err == nil {
			t.Fatalf("Resolve(%q) should fail", input)
		}
		var ambiguous *AmbiguousError
		if !errors.As(err, &ambiguous) {
			t.Fatalf("Resolve(%q) error = %T (%v), want *AmbiguousError", input, err, err)
		}
	}

	// Two code characters are enough.
	if got, err := tbl.Resolve("ab"); err != nil || got != "internal-a" {
		t.Errorf("Resolve(ab) = %s, %v, want internal-a", got, err)
	}

	// With a single live issue, one character resolves.
	single := NewTable("spool")
	single.fold(Entry{Internal: "internal-x", Display: "spool-xy99", MintedAt: tableNow})
	if got, err := single.Resolve("x"); err != nil || got != "internal-x" {
		t.Errorf("Resolve(x) = %s, %v, want internal-x", got, err)
	}
}

func TestMarkDeleted(t *testing.T) {
	tbl := NewTable("spool")
	internal := "01930000-0000-7000-8000-000000000006"
	display := mustMint(t, tbl, internal)

	if err := tbl.MarkDeleted(internal, tableNow.Add(time.Hour)); err != nil {
		t.Fatalf("MarkDeleted failed: %v", err)
	}
	if !tbl.IsDeleted(internal) {
		t.Error("IsDeleted should be true after marking")
	}

	// Exact forms still resolve; the mapping is never removed.
	if _, err := tbl.Resolve(display); err != nil {
		t.Errorf("deleted issue no longer resolvable by exact display: %v", err)
	}
	if _, err := tbl.Resolve(internal); err != nil {
		t.Errorf("deleted issue no longer resolvable by internal ID: %v", err)
	}

	// Deleted displays do not compete for prefix resolution.
	code := strings.TrimPrefix(display, "spool-")
	if _, err := tbl.Resolve(code[:3]); !errors.Is(err, ErrNotFound) {
		t.Errorf("prefix of deleted display should not resolve, got %v", err)
	}

	// Marking twice is a no-op.
	if err := tbl.MarkDeleted(internal, tableNow.Add(2*time.Hour)); err != nil {
		t.Errorf("second MarkDeleted failed: %v", err)
	}

	if err := tbl.MarkDeleted("unknown-internal", tableNow); !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkDeleted of unknown ID = %v, want ErrNotFound", err)
	}
}

func TestFlushAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "idmap.jsonl")

	tbl := NewTable("spool")
	internalA := "01931111-0000-7000-8000-000000000007"
	internalB := "01932222-0000-7000-8000-000000000008"
	displayA := mustMint(t, tbl, internalA)
	mustMint(t, tbl, internalB)
	if err := tbl.MarkDeleted(internalB, tableNow.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}

	if !tbl.Dirty() {
		t.Fatal("table should be dirty before flush")
	}
	if err := tbl.Flush(path); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if tbl.Dirty() {
		t.Error("table should be clean after flush")
	}

	// Flush is append-only: a second flush with new entries must not clobber.
	internalC := "01933333-0000-7000-8000-000000000009"
	mustMint(t, tbl, internalC)
	if err := tbl.Flush(path); err != nil {
		t.Fatalf("second Flush failed: %v", err)
	}

	reloaded, err := LoadTable(path, "spool")
	if err != nil {
		t.Fatalf("LoadTable failed: %v", err)
	}
	if reloaded.Len() != 3 {
		t.Fatalf("reloaded table has %d mappings, want 3", reloaded.Len())
	}
	got, err := reloaded.Resolve(displayA)
	if err != nil || got != internalA {
		t.Errorf("Resolve(%s) = %s, %v; want %s", displayA, got, err, internalA)
	}
	if !reloaded.IsDeleted(internalB) {
		t.Error("deletion marker lost across flush/reload")
	}

	// File is valid JSONL with one object per line.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 4 { // 3 mints + 1 deletion marker
		t.Errorf("expected 4 log lines, got %d:\n%s", len(lines), data)
	}
}

func TestLoadTableMissingFile(t *testing.T) {
	tbl, err := LoadTable(filepath.Join(t.TempDir(), "absent.jsonl"), "spool")
	if err != nil {
		t.Fatalf("LoadTable on missing file failed: %v", err)
	}
	if tbl.Len() != 0 {
		t.Errorf("expected empty table, got %d entries", tbl.Len())
	}
}

func TestParseTableRejectsGarbage(t *testing.T) {
	if _, err := ParseTable([]byte("{not json\n"), "spool"); err == nil {
		t.Error("expected parse error for invalid JSON line")
	}
	if _, err := ParseTable([]byte("{\"internal\":\"\",\"display\":\"x\"}\n"), "spool"); err == nil {
		t.Error("expected parse error for missing internal ID")
	}
}

func TestMergeEntriesCrossCloneCollision(t *testing.T) {
	mintA := tableNow
	mintB := tableNow.Add(time.Minute)

	ours := []Entry{{Internal: "internal-a", Display: "spool-aaaa", MintedAt: mintA}}
	theirs := []Entry{{Internal: "internal-b", Display: "spool-aaaa", MintedAt: mintB}}

	merged := MergeEntries("spool", ours, theirs)
	if len(merged) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(merged))
	}

	tbl := NewTable("spool")
	for _, e := range merged {
		tbl.fold(e)
	}
	if dups := tbl.DuplicateDisplays(); len(dups) != 0 {
		t.Fatalf("merge left duplicate displays: %v", dups)
	}
	// Earlier mint keeps the contested code.
	if got := tbl.Display("internal-a"); got != "spool-aaaa" {
		t.Errorf("earlier mint lost its code: %s", got)
	}
	if got := tbl.Display("internal-b"); got == "spool-aaaa" || got == "" {
		t.Errorf("later mint not re-minted: %q", got)
	}

	// Merging in the opposite order converges on the same log.
	flipped := MergeEntries("spool", theirs, ours)
	if len(flipped) != len(merged) {
		t.Fatalf("merge not symmetric: %d vs %d entries", len(flipped), len(merged))
	}
	for i := range merged {
		if merged[i].Internal != flipped[i].Internal || merged[i].Display != flipped[i].Display {
			t.Errorf("entry %d differs across merge order: %+v vs %+v", i, merged[i], flipped[i])
		}
	}
}

func TestMergeEntriesPreservesDeletions(t *testing.T) {
	deletedAt := tableNow.Add(time.Hour)
	ours := []Entry{
		{Internal: "internal-a", Display: "spool-aaaa", MintedAt: tableNow},
	}
	theirs := []Entry{
		{Internal: "internal-a", Display: "spool-aaaa", MintedAt: tableNow},
		{Internal: "internal-a", Display: "spool-aaaa", DeletedAt: &deletedAt},
	}

	merged := MergeEntries("spool", ours, theirs)
	tbl := NewTable("spool")
	for _, e := range merged {
		tbl.fold(e)
	}
	if !tbl.IsDeleted("internal-a") {
		t.Error("deletion marker dropped during merge")
	}
}

func TestDebugID(t *testing.T) {
	tbl := NewTable("spool")
	internal := "01934444-0000-7000-8000-00000000000a"
	display := mustMint(t, tbl, internal)

	debug := tbl.DebugID(internal)
	if !strings.Contains(debug, display) || !strings.Contains(debug, internal) {
		t.Errorf("DebugID %q should contain both forms", debug)
	}
	if got := tbl.DebugID("unmapped"); got != "unmapped" {
		t.Errorf("DebugID of unmapped ID = %q", got)
	}
}
