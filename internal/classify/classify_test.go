package classify

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/spoolhq/spool/internal/vcs"
)

func TestClassifyText(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{
			name: "http 403 is permanent",
			err:  errors.New("remote: HTTP Basic: Access denied. The provided password or token is incorrect (403)"),
			want: ClassPermanent,
		},
		{
			name: "protected branch is permanent",
			err:  errors.New("remote: GitLab: You are not allowed to push to a protected branch on this project"),
			want: ClassPermanent,
		},
		{
			name: "permission denied is permanent regardless of case",
			err:  errors.New("git@github.com: Permission DENIED (publickey)"),
			want: ClassPermanent,
		},
		{
			name: "hook declined is permanent",
			err:  errors.New("remote: hook declined to update refs/heads/spool-sync"),
			want: ClassPermanent,
		},
		{
			name: "authentication failure is permanent",
			err:  errors.New("fatal: Authentication failed for 'https://example.com/repo.git/'"),
			want: ClassPermanent,
		},
		{
			name: "timed out is transient",
			err:  errors.New("fatal: unable to connect: Connection timed out"),
			want: ClassTransient,
		},
		{
			name: "connection reset is transient",
			err:  errors.New("error: RPC failed; curl 56 Recv failure: Connection reset by peer"),
			want: ClassTransient,
		},
		{
			name: "dns failure is transient",
			err:  errors.New("fatal: Could not resolve host: github.com"),
			want: ClassTransient,
		},
		{
			name: "server error is transient",
			err:  errors.New("error: RPC failed; HTTP 503 curl 22 The requested URL returned error: 503"),
			want: ClassTransient,
		},
		{
			name: "remote hang up is transient",
			err:  errors.New("fatal: the remote end hung up unexpectedly"),
			want: ClassTransient,
		},
		{
			name: "permanent patterns beat transient ones",
			err:  errors.New("remote: 403 returned after the request timed out"),
			want: ClassPermanent,
		},
		{
			name: "unrecognized text is unknown",
			err:  errors.New("something improbable happened"),
			want: ClassUnknown,
		},
		{
			name: "ambiguous unable-to-access stays unknown",
			err:  errors.New("fatal: unable to access 'https://example.com/repo.git/'"),
			want: ClassUnknown,
		},
		{
			name: "user cancellation is unknown",
			err:  context.Canceled,
			want: ClassUnknown,
		},
		{
			name: "nil is unknown",
			err:  nil,
			want: ClassUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
			// Pure function: the same error must classify the same way twice.
			if again := Classify(tt.err); again != Classify(tt.err) {
				t.Errorf("Classify(%v) is not deterministic: %v then %v", tt.err, Classify(tt.err), again)
			}
		})
	}
}

// timeoutError satisfies net.Error with a message that matches no pattern.
type timeoutError struct{ timeout bool }

func (e *timeoutError) Error() string   { return "beep boop" }
func (e *timeoutError) Timeout() bool   { return e.timeout }
func (e *timeoutError) Temporary() bool { return false }

func TestClassifyStructuredSignals(t *testing.T) {
	t.Run("context deadline is transient", func(t *testing.T) {
		err := fmt.Errorf("failed to fetch origin: %w", context.DeadlineExceeded)
		if got := Classify(err); got != ClassTransient {
			t.Errorf("Classify(deadline) = %v, want transient", got)
		}
	})

	t.Run("net timeout is transient without text match", func(t *testing.T) {
		err := fmt.Errorf("failed to push: %w", &timeoutError{timeout: true})
		if got := Classify(err); got != ClassTransient {
			t.Errorf("Classify(net timeout) = %v, want transient", got)
		}
	})

	t.Run("non-timeout net error falls through to text", func(t *testing.T) {
		err := fmt.Errorf("failed to push: %w", &timeoutError{timeout: false})
		if got := Classify(err); got != ClassUnknown {
			t.Errorf("Classify(net error) = %v, want unknown", got)
		}
	})

	t.Run("structured timeout beats a permanent pattern", func(t *testing.T) {
		// A wrapped timeout whose message happens to mention an auth
		// failure still reads as transient: the structured signal is
		// authoritative.
		err := fmt.Errorf("permission denied while dialing: %w", &timeoutError{timeout: true})
		if got := Classify(err); got != ClassTransient {
			t.Errorf("Classify = %v, want transient", got)
		}
	})
}

func TestClassifyCommandError(t *testing.T) {
	// The syncer hands over *vcs.CommandError values whose Error() carries
	// git's combined output; classification works on that text.
	err := &vcs.CommandError{
		Args:     []string{"push", "origin", "spool-sync"},
		ExitCode: 128,
		Output:   "remote: error: GH006: Protected branch update failed",
		Err:      errors.New("exit status 128"),
	}
	if got := Classify(err); got != ClassPermanent {
		t.Errorf("Classify(protected branch push) = %v, want permanent", got)
	}
}

func TestRulesTable(t *testing.T) {
	if Rules.Version < 1 {
		t.Errorf("Rules.Version = %d, want >= 1", Rules.Version)
	}
	if len(Rules.Permanent) == 0 || len(Rules.Transient) == 0 {
		t.Fatalf("pattern tables must not be empty: %d permanent, %d transient",
			len(Rules.Permanent), len(Rules.Transient))
	}
	for _, list := range [][]string{Rules.Permanent, Rules.Transient} {
		for _, pat := range list {
			if pat == "" {
				t.Error("empty pattern would match every error")
			}
		}
	}
}

func TestClassString(t *testing.T) {
	tests := []struct {
		class Class
		want  string
	}{
		{ClassPermanent, "permanent"},
		{ClassTransient, "transient"},
		{ClassUnknown, "unknown"},
	}
	for _, tt := range tests {
		if got := tt.class.String(); got != tt.want {
			t.Errorf("Class(%d).String() = %q, want %q", int(tt.class), got, tt.want)
		}
	}
}
