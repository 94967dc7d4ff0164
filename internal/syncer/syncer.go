// Package syncer runs the sync branch protocol: commit local spool state in
// the sync worktree, fetch the shared branch, merge divergent issue files
// field by field, and push the result. A sync either aligns local and remote
// or leaves local state unchanged except for a durable failure record; the
// losing side of every conflict is preserved in the attic before anything is
// committed.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/spoolhq/spool/internal/attic"
	"github.com/spoolhq/spool/internal/classify"
	"github.com/spoolhq/spool/internal/identity"
	"github.com/spoolhq/spool/internal/lockfile"
	"github.com/spoolhq/spool/internal/merge"
	"github.com/spoolhq/spool/internal/project"
	"github.com/spoolhq/spool/internal/store"
	"github.com/spoolhq/spool/internal/telemetry"
	"github.com/spoolhq/spool/internal/types"
	"github.com/spoolhq/spool/internal/vcs"
	"github.com/spoolhq/spool/internal/worktree"
)

const scopeName = "github.com/spoolhq/spool/sync"

// Paths inside the sync worktree, in git's slash-separated form.
const (
	spoolPathspec = ".spool"
	mappingFile   = ".spool/idmap.jsonl"
	issuesPrefix  = ".spool/issues/"
)

// defaultMaxPushAttempts bounds the fetch-merge-push loop when the remote
// moves between our fetch and our push.
const defaultMaxPushAttempts = 3

// retryMaxElapsed caps how long SyncWithRetry keeps backing off.
const retryMaxElapsed = 2 * time.Minute

// TransportError wraps a fetch or push failure with its recovery class. The
// cmd layer turns the class into guidance; SyncWithRetry turns it into a
// retry decision.
type TransportError struct {
	Class classify.Class
	Err   error
}

func (e *TransportError) Error() string { return e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// Progress receives human-readable updates while a sync runs. Step fires
// when a stage starts or is skipped, Done when one completes.
type Progress interface {
	Step(msg string)
	Done(msg string)
}

type nopProgress struct{}

func (nopProgress) Step(string) {}
func (nopProgress) Done(string) {}

// Options control one sync invocation.
type Options struct {
	// Message overrides the commit message for local changes. Empty means
	// "sp sync: <timestamp>".
	Message string

	// DryRun reports the stages a sync would run without locking, touching
	// the repository, or going to the network.
	DryRun bool

	// NoPush stops after the merge phase; nothing is published.
	NoPush bool

	// Progress receives stage updates. Nil is silent.
	Progress Progress
}

// Result summarizes one sync invocation.
type Result struct {
	// Phase is the final protocol phase: PhaseDone on success, PhaseFailed
	// otherwise.
	Phase Phase

	// LocalOnly is set when no remote is configured and the sync completed
	// without fetching or pushing.
	LocalOnly bool

	Committed bool // local changes were committed
	Merged    bool // remote changes were integrated
	Pushed    bool

	// Conflicts lists the records written during this run.
	Conflicts []ConflictRecord
}

// Syncer drives the sync branch protocol for one repository. All git
// operations run inside the sync worktree, never in the user's working tree.
type Syncer struct {
	project *project.Project
	git     vcs.VCS
	trees   *worktree.Manager
	remote  string
	branch  string

	maxPushAttempts int
}

// New returns a Syncer for the project. The remote and branch come from the
// project configuration.
func New(p *project.Project, g vcs.VCS, m *worktree.Manager) *Syncer {
	return &Syncer{
		project:         p,
		git:             g,
		trees:           m,
		remote:          p.Config.Remote,
		branch:          m.Branch(),
		maxPushAttempts: defaultMaxPushAttempts,
	}
}

// Sync runs one pass of the protocol. The returned Result is valid even when
// err is non-nil. Transport failures come back as *TransportError and leave
// a failure record in sync_state.json; structural failures (unusable
// worktree, busy lock) abort before anything is recorded.
func (s *Syncer) Sync(ctx context.Context, opts Options) (*Result, error) {
	prog := opts.Progress
	if prog == nil {
		prog = nopProgress{}
	}

	ctx, span := telemetry.Tracer(scopeName).Start(ctx, "sync", trace.WithAttributes(
		attribute.String("sp.remote", s.remote),
		attribute.String("sp.branch", s.branch),
	))
	defer span.End()

	res := &Result{Phase: PhaseIdle}

	wt, err := s.trees.Check(ctx)
	if err != nil {
		return res, err
	}

	if opts.DryRun {
		return s.dryRun(ctx, res, wt, opts, prog)
	}

	lock, err := lockfile.Acquire(s.project.LockPath("sync"), "sync")
	if err != nil {
		if errors.Is(err, lockfile.ErrLockBusy) {
			return res, fmt.Errorf("another sync is already running: %w", err)
		}
		return res, err
	}
	defer lock.Release()

	if err := s.commitLocal(ctx, wt, opts.Message, res, prog); err != nil {
		return res, s.fail(ctx, span, res, err)
	}

	hasRemote, err := s.git.HasRemote(ctx, wt, s.remote)
	if err != nil {
		return res, s.fail(ctx, span, res, fmt.Errorf("checking remote %s: %w", s.remote, err))
	}
	if !hasRemote {
		prog.Done(fmt.Sprintf("No remote %q configured, issues synced locally", s.remote))
		res.LocalOnly = true
		res.Phase = PhaseDone
		return res, s.recordSuccess(res)
	}

	for attempt := 1; ; attempt++ {
		if err := s.fetch(ctx, wt, res, prog); err != nil {
			return res, s.fail(ctx, span, res, &TransportError{Class: classify.Classify(err), Err: err})
		}
		if err := s.merge(ctx, wt, res, prog); err != nil {
			return res, s.fail(ctx, span, res, err)
		}

		if opts.NoPush {
			prog.Step("Skipping push (--no-push)")
			res.Phase = PhaseDone
			return res, s.recordSuccess(res)
		}

		pushErr := s.push(ctx, wt, res, prog)
		if pushErr == nil {
			res.Phase = PhaseDone
			return res, s.recordSuccess(res)
		}
		if vcs.IsNonFastForward(pushErr) && attempt < s.maxPushAttempts {
			prog.Step(fmt.Sprintf("Remote %s moved, refetching (attempt %d of %d)", s.branch, attempt+1, s.maxPushAttempts))
			continue
		}
		return res, s.fail(ctx, span, res, &TransportError{Class: classify.Classify(pushErr), Err: pushErr})
	}
}

// SyncWithRetry runs Sync, retrying with exponential backoff while failures
// classify as transient. Permanent and unknown classifications fail on the
// first attempt.
func (s *Syncer) SyncWithRetry(ctx context.Context, opts Options) (*Result, error) {
	var res *Result
	op := func() error {
		r, err := s.Sync(ctx, opts)
		res = r
		if err == nil {
			return nil
		}
		var te *TransportError
		if errors.As(err, &te) && te.Class == classify.ClassTransient {
			if prog := opts.Progress; prog != nil {
				prog.Step("Transient failure, retrying")
			}
			return err
		}
		return backoff.Permanent(err)
	}
	err := backoff.Retry(op, backoff.WithContext(newRetryBackoff(), ctx))
	return res, err
}

func newRetryBackoff() backoff.BackOff {
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = retryMaxElapsed
	return bo
}

// Status reports the persisted outcome of the last sync along with any
// pending conflict records. It reads only local state.
func (s *Syncer) Status() (*State, []ConflictRecord, error) {
	st, err := LoadState(s.project.StatePath())
	if err != nil {
		return nil, nil, err
	}
	records, err := LoadConflicts(s.project.ConflictsPath())
	if err != nil {
		return nil, nil, err
	}
	return st, records, nil
}

func (s *Syncer) dryRun(ctx context.Context, res *Result, wt string, opts Options, prog Progress) (*Result, error) {
	dirty, err := s.git.HasChanges(ctx, wt, spoolPathspec)
	if err != nil {
		return res, fmt.Errorf("checking for local changes: %w", err)
	}
	if dirty {
		prog.Step("[DRY RUN] Would commit local changes")
	} else {
		prog.Step("[DRY RUN] No local changes to commit")
	}

	hasRemote, err := s.git.HasRemote(ctx, wt, s.remote)
	if err != nil {
		return res, fmt.Errorf("checking remote %s: %w", s.remote, err)
	}
	if !hasRemote {
		prog.Step(fmt.Sprintf("[DRY RUN] No remote %q configured, sync would stop here", s.remote))
		res.LocalOnly = true
		res.Phase = PhaseDone
		return res, nil
	}

	prog.Step(fmt.Sprintf("[DRY RUN] Would fetch and merge %s/%s", s.remote, s.branch))
	if opts.NoPush {
		prog.Step("[DRY RUN] Would skip push (--no-push)")
	} else {
		prog.Step(fmt.Sprintf("[DRY RUN] Would push %s to %s", s.branch, s.remote))
	}
	res.Phase = PhaseDone
	return res, nil
}

// commitLocal commits any uncommitted .spool state in the worktree so the
// merge starts from a clean tree.
func (s *Syncer) commitLocal(ctx context.Context, wt, message string, res *Result, prog Progress) error {
	dirty, err := s.git.HasChanges(ctx, wt, spoolPathspec)
	if err != nil {
		return fmt.Errorf("checking for local changes: %w", err)
	}
	if !dirty {
		prog.Step("No local changes to commit")
		return nil
	}

	if message == "" {
		message = fmt.Sprintf("sp sync: %s", time.Now().Format("2006-01-02 15:04:05"))
	}
	prog.Step("Committing local changes")
	if err := s.git.Add(ctx, wt, spoolPathspec); err != nil {
		return fmt.Errorf("staging local changes: %w", err)
	}
	if err := s.git.Commit(ctx, wt, message); err != nil {
		return fmt.Errorf("committing local changes: %w", err)
	}
	res.Committed = true
	prog.Done(fmt.Sprintf("Committed local changes to %s", s.branch))
	return nil
}

func (s *Syncer) fetch(ctx context.Context, wt string, res *Result, prog Progress) error {
	res.Phase = PhaseFetching
	ctx, span := telemetry.Tracer(scopeName).Start(ctx, "sync.fetch")
	defer span.End()

	prog.Step(fmt.Sprintf("Fetching %s from %s", s.branch, s.remote))
	if err := s.git.Fetch(ctx, wt, s.remote, s.branch); err != nil {
		if vcs.IsNoSuchRemoteRef(err) {
			prog.Done(fmt.Sprintf("Remote has no %s branch yet", s.branch))
			return nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return fmt.Errorf("fetching %s from %s: %w", s.branch, s.remote, err)
	}
	prog.Done(fmt.Sprintf("Fetched %s", s.branch))
	return nil
}

// merge integrates the remote tracking ref into the sync branch. Disjoint
// changes merge through git; conflicted issue files are resolved field by
// field, the mapping table is folded, and anything else aborts the merge so
// the branch is left exactly as it was.
func (s *Syncer) merge(ctx context.Context, wt string, res *Result, prog Progress) error {
	res.Phase = PhaseMerging
	ctx, span := telemetry.Tracer(scopeName).Start(ctx, "sync.merge")
	defer span.End()

	exists, err := s.git.RemoteBranchExists(ctx, wt, s.remote, s.branch)
	if err != nil {
		return fmt.Errorf("checking remote branch: %w", err)
	}
	if !exists {
		return nil
	}

	ref := s.remote + "/" + s.branch
	prog.Step(fmt.Sprintf("Merging %s", ref))
	mergeErr := s.git.Merge(ctx, wt, ref)
	if mergeErr == nil {
		res.Merged = true
		prog.Done(fmt.Sprintf("Merged %s", ref))
		return nil
	}

	files, err := s.git.ConflictedFiles(ctx, wt)
	if err != nil || len(files) == 0 {
		span.RecordError(mergeErr)
		span.SetStatus(codes.Error, "merge failed")
		return fmt.Errorf("merging %s: %w", ref, mergeErr)
	}

	res.Phase = PhaseConflict
	prog.Step(fmt.Sprintf("Resolving %d conflicted file(s)", len(files)))
	records, err := s.resolveConflicts(ctx, wt, files)
	if err != nil {
		if abortErr := s.git.AbortMerge(ctx, wt); abortErr != nil {
			return fmt.Errorf("%w (merge not aborted: %v)", err, abortErr)
		}
		return err
	}
	if err := s.git.Commit(ctx, wt, fmt.Sprintf("sp sync: merge %s", ref)); err != nil {
		if abortErr := s.git.AbortMerge(ctx, wt); abortErr != nil {
			return fmt.Errorf("committing merge: %w (merge not aborted: %v)", err, abortErr)
		}
		return fmt.Errorf("committing merge: %w", err)
	}

	res.Merged = true
	res.Conflicts = append(res.Conflicts, records...)
	if len(records) > 0 {
		if err := AppendConflicts(s.project.ConflictsPath(), records...); err != nil {
			return fmt.Errorf("recording conflicts: %w", err)
		}
		counter := conflictCounter()
		for _, rec := range records {
			counter.Add(ctx, 1, metric.WithAttributes(attribute.String("sp.sync.outcome", rec.Outcome)))
		}
	}
	prog.Done(fmt.Sprintf("Merged %s, %d conflict(s) resolved", ref, len(records)))
	return nil
}

func (s *Syncer) push(ctx context.Context, wt string, res *Result, prog Progress) error {
	res.Phase = PhasePushing
	ctx, span := telemetry.Tracer(scopeName).Start(ctx, "sync.push")
	defer span.End()

	prog.Step(fmt.Sprintf("Pushing %s to %s", s.branch, s.remote))
	if err := s.git.Push(ctx, wt, s.remote, s.branch); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "push failed")
		return fmt.Errorf("pushing %s to %s: %w", s.branch, s.remote, err)
	}
	res.Pushed = true
	prog.Done(fmt.Sprintf("Pushed %s to %s", s.branch, s.remote))
	return nil
}

// resolveConflicts walks the conflicted paths from a merge and stages a
// resolution for each. Issue files merge field by field, the mapping table
// merges by folding both sides' lines. Any other path is a protocol
// violation and fails the whole merge.
func (s *Syncer) resolveConflicts(ctx context.Context, wt string, files []string) ([]ConflictRecord, error) {
	att := attic.New(project.AtticDirIn(wt))

	var records []ConflictRecord
	for _, file := range files {
		switch {
		case file == mappingFile:
			if err := s.resolveMappingConflict(ctx, wt); err != nil {
				return nil, err
			}
		case strings.HasPrefix(file, issuesPrefix) && strings.HasSuffix(file, ".json"):
			rec, err := s.resolveIssueConflict(ctx, wt, att, file)
			if err != nil {
				return nil, err
			}
			if rec != nil {
				records = append(records, *rec)
			}
		default:
			return nil, fmt.Errorf("merge conflict in %s: the sync branch only carries %s state", file, spoolPathspec)
		}
	}
	return records, nil
}

// resolveMappingConflict folds both sides of the append-only mapping table
// into one canonical log. Display collisions minted independently on two
// clones are re-minted deterministically, so every clone converges on the
// same table.
func (s *Syncer) resolveMappingConflict(ctx context.Context, wt string) error {
	prefix := s.project.Config.IssuePrefix

	oursRaw, _ := s.stageContent(ctx, wt, 2, mappingFile)
	theirsRaw, _ := s.stageContent(ctx, wt, 3, mappingFile)

	ours, err := identity.ParseTable(oursRaw, prefix)
	if err != nil {
		return fmt.Errorf("local mapping table: %w", err)
	}
	theirs, err := identity.ParseTable(theirsRaw, prefix)
	if err != nil {
		return fmt.Errorf("remote mapping table: %w", err)
	}

	merged := identity.MergeEntries(prefix, ours.Entries(), theirs.Entries())
	data, err := identity.EncodeEntries(merged)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(wt, filepath.FromSlash(mappingFile)), data, 0o644); err != nil { // #nosec G306 - tracked data file
		return fmt.Errorf("writing merged mapping table: %w", err)
	}
	if err := s.git.Add(ctx, wt, mappingFile); err != nil {
		return fmt.Errorf("staging merged mapping table: %w", err)
	}
	return nil
}

// resolveIssueConflict merges one conflicted issue file three ways and
// stages the winner. The losing version, when there is one, is saved to the
// attic before the resolution is staged. Returns nil when the merge was
// clean after all (disjoint field edits).
func (s *Syncer) resolveIssueConflict(ctx context.Context, wt string, att *attic.Attic, file string) (*ConflictRecord, error) {
	internalID := strings.TrimSuffix(strings.TrimPrefix(file, issuesPrefix), ".json")

	baseRaw, baseOK := s.stageContent(ctx, wt, 1, file)
	oursRaw, oursOK := s.stageContent(ctx, wt, 2, file)
	theirsRaw, theirsOK := s.stageContent(ctx, wt, 3, file)

	if !oursOK && !theirsOK {
		return nil, s.removeAndStage(ctx, wt, file)
	}

	var base, ours, theirs *types.Issue
	var parseFailed bool
	if baseOK {
		// An unreadable ancestor degrades to a two-way merge.
		base, _ = store.Decode(baseRaw)
	}
	if oursOK {
		var err error
		if ours, err = store.Decode(oursRaw); err != nil {
			parseFailed = true
		}
	}
	if theirsOK {
		var err error
		if theirs, err = store.Decode(theirsRaw); err != nil {
			parseFailed = true
		}
	}
	if parseFailed {
		return s.resolveRawConflict(ctx, wt, att, file, internalID, oursRaw, theirsRaw, oursOK, theirsOK)
	}

	result := merge.Issue(base, ours, theirs)
	if result.Merged == nil {
		if err := s.removeAndStage(ctx, wt, file); err != nil {
			return nil, err
		}
	} else {
		data, err := store.Encode(result.Merged)
		if err != nil {
			return nil, fmt.Errorf("encoding merged issue %s: %w", internalID, err)
		}
		if err := s.writeAndStage(ctx, wt, file, data); err != nil {
			return nil, err
		}
	}
	if result.Outcome == merge.OutcomeClean {
		return nil, nil
	}

	rec := &ConflictRecord{
		IssueID:   internalID,
		DisplayID: displayID(result.Merged, result.Loser),
		Outcome:   result.Outcome.String(),
		Reason:    result.Reason,
		Fields:    result.Conflicts,
		At:        time.Now().UTC(),
	}
	if result.Loser != nil {
		reason := result.Reason
		if reason == "" {
			reason = "superseded by field-level merge"
		}
		atticPath, err := s.saveToAttic(ctx, wt, att, &attic.Entry{
			IssueID:   internalID,
			DisplayID: rec.DisplayID,
			Reason:    reason,
			Conflicts: result.Conflicts,
			Issue:     result.Loser,
		})
		if err != nil {
			return nil, err
		}
		rec.AtticPath = atticPath
	}
	return rec, nil
}

// resolveRawConflict handles issue files that no longer parse on at least
// one side. No field rule can apply, so the side with the smaller content
// hash wins whole and the other is preserved verbatim.
func (s *Syncer) resolveRawConflict(ctx context.Context, wt string, att *attic.Attic, file, internalID string, oursRaw, theirsRaw []byte, oursOK, theirsOK bool) (*ConflictRecord, error) {
	var winner, loser []byte
	switch {
	case oursOK && theirsOK:
		winner, loser = merge.CanonicalBytes(oursRaw, theirsRaw)
	case oursOK:
		winner = oursRaw
	default:
		winner = theirsRaw
	}

	if err := s.writeAndStage(ctx, wt, file, winner); err != nil {
		return nil, err
	}

	rec := &ConflictRecord{
		IssueID: internalID,
		Outcome: merge.OutcomeCanonical.String(),
		Reason:  "issue file is not valid JSON",
		At:      time.Now().UTC(),
	}
	if loser != nil {
		atticPath, err := s.saveToAttic(ctx, wt, att, &attic.Entry{
			IssueID: internalID,
			Reason:  rec.Reason,
			Raw:     string(loser),
		})
		if err != nil {
			return nil, err
		}
		rec.AtticPath = atticPath
	}
	return rec, nil
}

// saveToAttic writes the losing version and stages it so it rides the merge
// commit. Returns the entry path relative to the worktree root.
func (s *Syncer) saveToAttic(ctx context.Context, wt string, att *attic.Attic, entry *attic.Entry) (string, error) {
	path, err := att.Save(entry)
	if err != nil {
		return "", fmt.Errorf("preserving losing version of %s: %w", entry.IssueID, err)
	}
	rel, err := filepath.Rel(wt, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)
	if err := s.git.Add(ctx, wt, rel); err != nil {
		return "", fmt.Errorf("staging attic entry for %s: %w", entry.IssueID, err)
	}
	return rel, nil
}

// stageContent reads one side of a conflicted file from the index. A
// missing stage means that side does not have the file.
func (s *Syncer) stageContent(ctx context.Context, wt string, stage int, file string) ([]byte, bool) {
	data, err := s.git.StageFile(ctx, wt, stage, file)
	if err != nil {
		return nil, false
	}
	return data, true
}

func (s *Syncer) writeAndStage(ctx context.Context, wt, file string, data []byte) error {
	if err := os.WriteFile(filepath.Join(wt, filepath.FromSlash(file)), data, 0o644); err != nil { // #nosec G306 - tracked data file
		return fmt.Errorf("writing %s: %w", file, err)
	}
	if err := s.git.Add(ctx, wt, file); err != nil {
		return fmt.Errorf("staging %s: %w", file, err)
	}
	return nil
}

func (s *Syncer) removeAndStage(ctx context.Context, wt, file string) error {
	if err := os.Remove(filepath.Join(wt, filepath.FromSlash(file))); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", file, err)
	}
	if err := s.git.Add(ctx, wt, file); err != nil {
		return fmt.Errorf("staging removal of %s: %w", file, err)
	}
	return nil
}

// fail persists a failure record before the error is surfaced, so the
// outcome survives the process. The record is what `sp sync --status`
// reports.
func (s *Syncer) fail(ctx context.Context, span trace.Span, res *Result, err error) error {
	class := classify.Classify(err)
	var te *TransportError
	if errors.As(err, &te) {
		class = te.Class
	}

	rec := &FailureRecord{
		At:      time.Now().UTC(),
		Phase:   res.Phase,
		Class:   class.String(),
		Message: err.Error(),
		Remote:  s.remote,
		Branch:  s.branch,
	}
	st, loadErr := LoadState(s.project.StatePath())
	if loadErr != nil {
		st = &State{}
	}
	st.Failure = rec
	if saveErr := st.Save(s.project.StatePath()); saveErr != nil {
		err = fmt.Errorf("%w (failure record not written: %v)", err, saveErr)
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, string(res.Phase))
	res.Phase = PhaseFailed
	return err
}

// recordSuccess stamps the completion time and clears any failure left by a
// previous run.
func (s *Syncer) recordSuccess(res *Result) error {
	st, err := LoadState(s.project.StatePath())
	if err != nil {
		st = &State{}
	}
	now := time.Now().UTC()
	st.LastSyncAt = &now
	st.Failure = nil
	if err := st.Save(s.project.StatePath()); err != nil {
		return fmt.Errorf("sync completed but state not recorded: %w", err)
	}
	return nil
}

func displayID(versions ...*types.Issue) string {
	for _, v := range versions {
		if v != nil && v.DisplayID != "" {
			return v.DisplayID
		}
	}
	return ""
}

var (
	syncMetricsOnce sync.Once
	conflictCount   metric.Int64Counter
)

func conflictCounter() metric.Int64Counter {
	syncMetricsOnce.Do(func() {
		meter := telemetry.Meter(scopeName)
		conflictCount, _ = meter.Int64Counter("sp.sync.conflicts",
			metric.WithDescription("Issue conflicts resolved during sync merges"))
	})
	return conflictCount
}
