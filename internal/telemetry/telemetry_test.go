package telemetry

import (
	"context"
	"testing"

	"github.com/spoolhq/spool/internal/vcs/vcstest"
)

func TestEnabledDefaultsOff(t *testing.T) {
	t.Setenv("SPOOL_OTEL_ENABLED", "")
	if Enabled() {
		t.Error("Enabled() = true with no environment set")
	}
	t.Setenv("SPOOL_OTEL_ENABLED", "true")
	if !Enabled() {
		t.Error("Enabled() = false with SPOOL_OTEL_ENABLED=true")
	}
	t.Setenv("SPOOL_OTEL_ENABLED", "1")
	if Enabled() {
		t.Error("Enabled() accepted a value other than \"true\"")
	}
}

func TestWrapVCSPassthroughWhenDisabled(t *testing.T) {
	t.Setenv("SPOOL_OTEL_ENABLED", "")
	fake := vcstest.New(t.TempDir())
	if got := WrapVCS(fake); got != fake {
		t.Errorf("WrapVCS() = %T, want the inner backend unchanged", got)
	}
}

func TestInitDisabledInstallsNoops(t *testing.T) {
	t.Setenv("SPOOL_OTEL_ENABLED", "")
	if err := Init(context.Background(), "sp", "test"); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	defer Shutdown(context.Background())

	// No-op providers still hand out usable instruments.
	tr := Tracer("")
	_, span := tr.Start(context.Background(), "noop")
	span.End()
	if _, err := Meter("").Int64Counter("sp.test.counter"); err != nil {
		t.Errorf("Meter counter failed under no-op provider: %v", err)
	}
}

func TestInstrumentedVCSDelegates(t *testing.T) {
	t.Setenv("SPOOL_OTEL_ENABLED", "true")
	t.Setenv("SPOOL_OTEL_STDOUT", "")
	fake := vcstest.New("/repo")
	wrapped := WrapVCS(fake)
	if _, ok := wrapped.(*InstrumentedVCS); !ok {
		t.Fatalf("WrapVCS() = %T, want *InstrumentedVCS when enabled", wrapped)
	}

	root, err := wrapped.RepoRoot(context.Background(), "/repo")
	if err != nil {
		t.Fatalf("RepoRoot() failed: %v", err)
	}
	if root != "/repo" {
		t.Errorf("RepoRoot() = %q, want /repo", root)
	}
}
