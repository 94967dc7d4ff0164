package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/spoolhq/spool/internal/vcs"
)

const vcsScopeName = "github.com/spoolhq/spool/vcs"

// InstrumentedVCS wraps a vcs.VCS with OTel tracing and metrics. Every
// operation gets a span and is counted in sp.vcs.* metrics. Use WrapVCS to
// create one; it returns the original backend unchanged when telemetry is
// disabled.
type InstrumentedVCS struct {
	inner vcs.VCS

	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
}

// WrapVCS returns g decorated with OTel instrumentation.
// When telemetry is disabled, g is returned as-is with zero overhead.
func WrapVCS(g vcs.VCS) vcs.VCS {
	if !Enabled() {
		return g
	}
	m := Meter(vcsScopeName)
	ops, _ := m.Int64Counter("sp.vcs.operations",
		metric.WithDescription("Total VCS operations executed"),
	)
	dur, _ := m.Float64Histogram("sp.vcs.operation.duration",
		metric.WithDescription("VCS operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("sp.vcs.errors",
		metric.WithDescription("Total VCS operation errors"),
	)
	return &InstrumentedVCS{
		inner:  g,
		tracer: Tracer(vcsScopeName),
		ops:    ops,
		dur:    dur,
		errs:   errs,
	}
}

var _ vcs.VCS = (*InstrumentedVCS)(nil)

// op starts a span and records a metric for the named VCS operation.
func (v *InstrumentedVCS) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("sp.vcs.operation", name)}, attrs...)
	ctx, span := v.tracer.Start(ctx, "vcs."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	v.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

// done ends the span, records duration and optional error.
func (v *InstrumentedVCS) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	ms := float64(time.Since(start).Milliseconds())
	v.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		v.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

func (v *InstrumentedVCS) RepoRoot(ctx context.Context, dir string) (string, error) {
	ctx, span, t := v.op(ctx, "RepoRoot")
	out, err := v.inner.RepoRoot(ctx, dir)
	v.done(ctx, span, t, err)
	return out, err
}

func (v *InstrumentedVCS) GitDir(ctx context.Context, dir string) (string, error) {
	ctx, span, t := v.op(ctx, "GitDir")
	out, err := v.inner.GitDir(ctx, dir)
	v.done(ctx, span, t, err)
	return out, err
}

func (v *InstrumentedVCS) CommonDir(ctx context.Context, dir string) (string, error) {
	ctx, span, t := v.op(ctx, "CommonDir")
	out, err := v.inner.CommonDir(ctx, dir)
	v.done(ctx, span, t, err)
	return out, err
}

func (v *InstrumentedVCS) CurrentBranch(ctx context.Context, dir string) (string, error) {
	ctx, span, t := v.op(ctx, "CurrentBranch")
	out, err := v.inner.CurrentBranch(ctx, dir)
	v.done(ctx, span, t, err)
	return out, err
}

func (v *InstrumentedVCS) BranchExists(ctx context.Context, dir, branch string) (bool, error) {
	attrs := []attribute.KeyValue{attribute.String("sp.branch", branch)}
	ctx, span, t := v.op(ctx, "BranchExists", attrs...)
	ok, err := v.inner.BranchExists(ctx, dir, branch)
	v.done(ctx, span, t, err, attrs...)
	return ok, err
}

func (v *InstrumentedVCS) RemoteBranchExists(ctx context.Context, dir, remote, branch string) (bool, error) {
	attrs := []attribute.KeyValue{
		attribute.String("sp.remote", remote),
		attribute.String("sp.branch", branch),
	}
	ctx, span, t := v.op(ctx, "RemoteBranchExists", attrs...)
	ok, err := v.inner.RemoteBranchExists(ctx, dir, remote, branch)
	v.done(ctx, span, t, err, attrs...)
	return ok, err
}

func (v *InstrumentedVCS) CreateBranch(ctx context.Context, dir, branch, startPoint string) error {
	attrs := []attribute.KeyValue{attribute.String("sp.branch", branch)}
	ctx, span, t := v.op(ctx, "CreateBranch", attrs...)
	err := v.inner.CreateBranch(ctx, dir, branch, startPoint)
	v.done(ctx, span, t, err, attrs...)
	return err
}

func (v *InstrumentedVCS) HasRemote(ctx context.Context, dir, remote string) (bool, error) {
	attrs := []attribute.KeyValue{attribute.String("sp.remote", remote)}
	ctx, span, t := v.op(ctx, "HasRemote", attrs...)
	ok, err := v.inner.HasRemote(ctx, dir, remote)
	v.done(ctx, span, t, err, attrs...)
	return ok, err
}

func (v *InstrumentedVCS) RevParse(ctx context.Context, dir, rev string) (string, error) {
	ctx, span, t := v.op(ctx, "RevParse")
	out, err := v.inner.RevParse(ctx, dir, rev)
	v.done(ctx, span, t, err)
	return out, err
}

func (v *InstrumentedVCS) WorktreeAdd(ctx context.Context, dir, path, branch string) error {
	attrs := []attribute.KeyValue{attribute.String("sp.branch", branch)}
	ctx, span, t := v.op(ctx, "WorktreeAdd", attrs...)
	err := v.inner.WorktreeAdd(ctx, dir, path, branch)
	v.done(ctx, span, t, err, attrs...)
	return err
}

func (v *InstrumentedVCS) WorktreeRemove(ctx context.Context, dir, path string, force bool) error {
	ctx, span, t := v.op(ctx, "WorktreeRemove")
	err := v.inner.WorktreeRemove(ctx, dir, path, force)
	v.done(ctx, span, t, err)
	return err
}

func (v *InstrumentedVCS) WorktreePrune(ctx context.Context, dir string) error {
	ctx, span, t := v.op(ctx, "WorktreePrune")
	err := v.inner.WorktreePrune(ctx, dir)
	v.done(ctx, span, t, err)
	return err
}

func (v *InstrumentedVCS) WorktreeList(ctx context.Context, dir string) ([]vcs.Worktree, error) {
	ctx, span, t := v.op(ctx, "WorktreeList")
	out, err := v.inner.WorktreeList(ctx, dir)
	v.done(ctx, span, t, err)
	return out, err
}

func (v *InstrumentedVCS) SparseCheckoutSet(ctx context.Context, dir string, dirs ...string) error {
	ctx, span, t := v.op(ctx, "SparseCheckoutSet")
	err := v.inner.SparseCheckoutSet(ctx, dir, dirs...)
	v.done(ctx, span, t, err)
	return err
}

func (v *InstrumentedVCS) SparseCheckoutList(ctx context.Context, dir string) ([]string, error) {
	ctx, span, t := v.op(ctx, "SparseCheckoutList")
	out, err := v.inner.SparseCheckoutList(ctx, dir)
	v.done(ctx, span, t, err)
	return out, err
}

func (v *InstrumentedVCS) Add(ctx context.Context, dir string, paths ...string) error {
	attrs := []attribute.KeyValue{attribute.Int("sp.path.count", len(paths))}
	ctx, span, t := v.op(ctx, "Add", attrs...)
	err := v.inner.Add(ctx, dir, paths...)
	v.done(ctx, span, t, err, attrs...)
	return err
}

func (v *InstrumentedVCS) Commit(ctx context.Context, dir, message string) error {
	ctx, span, t := v.op(ctx, "Commit")
	err := v.inner.Commit(ctx, dir, message)
	v.done(ctx, span, t, err)
	return err
}

func (v *InstrumentedVCS) HasChanges(ctx context.Context, dir, pathspec string) (bool, error) {
	ctx, span, t := v.op(ctx, "HasChanges")
	ok, err := v.inner.HasChanges(ctx, dir, pathspec)
	v.done(ctx, span, t, err)
	return ok, err
}

func (v *InstrumentedVCS) ShowFile(ctx context.Context, dir, rev, path string) ([]byte, error) {
	ctx, span, t := v.op(ctx, "ShowFile")
	out, err := v.inner.ShowFile(ctx, dir, rev, path)
	v.done(ctx, span, t, err)
	return out, err
}

func (v *InstrumentedVCS) StageFile(ctx context.Context, dir string, stage int, path string) ([]byte, error) {
	attrs := []attribute.KeyValue{attribute.Int("sp.merge.stage", stage)}
	ctx, span, t := v.op(ctx, "StageFile", attrs...)
	out, err := v.inner.StageFile(ctx, dir, stage, path)
	v.done(ctx, span, t, err, attrs...)
	return out, err
}

func (v *InstrumentedVCS) Fetch(ctx context.Context, dir, remote, branch string) error {
	attrs := []attribute.KeyValue{
		attribute.String("sp.remote", remote),
		attribute.String("sp.branch", branch),
	}
	ctx, span, t := v.op(ctx, "Fetch", attrs...)
	err := v.inner.Fetch(ctx, dir, remote, branch)
	v.done(ctx, span, t, err, attrs...)
	return err
}

func (v *InstrumentedVCS) Merge(ctx context.Context, dir, ref string) error {
	attrs := []attribute.KeyValue{attribute.String("sp.merge.ref", ref)}
	ctx, span, t := v.op(ctx, "Merge", attrs...)
	err := v.inner.Merge(ctx, dir, ref)
	v.done(ctx, span, t, err, attrs...)
	return err
}

func (v *InstrumentedVCS) AbortMerge(ctx context.Context, dir string) error {
	ctx, span, t := v.op(ctx, "AbortMerge")
	err := v.inner.AbortMerge(ctx, dir)
	v.done(ctx, span, t, err)
	return err
}

func (v *InstrumentedVCS) ConflictedFiles(ctx context.Context, dir string) ([]string, error) {
	ctx, span, t := v.op(ctx, "ConflictedFiles")
	out, err := v.inner.ConflictedFiles(ctx, dir)
	v.done(ctx, span, t, err)
	return out, err
}

func (v *InstrumentedVCS) Push(ctx context.Context, dir, remote, branch string) error {
	attrs := []attribute.KeyValue{
		attribute.String("sp.remote", remote),
		attribute.String("sp.branch", branch),
	}
	ctx, span, t := v.op(ctx, "Push", attrs...)
	err := v.inner.Push(ctx, dir, remote, branch)
	v.done(ctx, span, t, err, attrs...)
	return err
}

func (v *InstrumentedVCS) Divergence(ctx context.Context, dir, branch, remote string) (int, int, error) {
	ctx, span, t := v.op(ctx, "Divergence")
	ahead, behind, err := v.inner.Divergence(ctx, dir, branch, remote)
	v.done(ctx, span, t, err)
	return ahead, behind, err
}

func (v *InstrumentedVCS) ConfigGet(ctx context.Context, dir, key string) (string, error) {
	ctx, span, t := v.op(ctx, "ConfigGet")
	out, err := v.inner.ConfigGet(ctx, dir, key)
	v.done(ctx, span, t, err)
	return out, err
}

func (v *InstrumentedVCS) ConfigSet(ctx context.Context, dir, key, value string) error {
	ctx, span, t := v.op(ctx, "ConfigSet")
	err := v.inner.ConfigSet(ctx, dir, key, value)
	v.done(ctx, span, t, err)
	return err
}
