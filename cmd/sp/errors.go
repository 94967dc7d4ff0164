package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spoolhq/spool/internal/classify"
	"github.com/spoolhq/spool/internal/identity"
	"github.com/spoolhq/spool/internal/project"
	"github.com/spoolhq/spool/internal/syncer"
	"github.com/spoolhq/spool/internal/worktree"
)

// User-facing guidance strings. These are part of the CLI contract; error
// paths must reproduce them verbatim.
const (
	hintInit   = "run 'sp init' to set up spool in this repository"
	hintRepair = "run 'sp doctor --fix' to recreate the sync worktree"
)

// FatalError writes an error message to stderr and exits with code 1.
// Use this for fatal errors that prevent the command from completing.
func FatalError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// FatalErrorWithHint writes an error message with an actionable hint to
// stderr and exits with code 1.
func FatalErrorWithHint(message, hint string) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", message)
	fmt.Fprintf(os.Stderr, "Hint: %s\n", hint)
	os.Exit(1)
}

// WarnError writes a warning to stderr and returns. Use for optional
// operations that enhance a command but are not required for it.
func WarnError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Warning: "+format+"\n", args...)
}

// Fail maps a typed error from the core packages to its contract guidance
// and exits. Structural and identity errors abort at the point of detection;
// this is that point for the command layer.
func Fail(err error) {
	var stateErr *worktree.StateError
	var ambiguous *identity.AmbiguousError
	var transport *syncer.TransportError

	switch {
	case errors.Is(err, project.ErrNotInitialized):
		FatalErrorWithHint(err.Error(), hintInit)
	case errors.Is(err, project.ErrNoRepo):
		FatalError("%v", err)
	case errors.As(err, &stateErr):
		FatalErrorWithHint(stateErr.Error(), hintRepair)
	case errors.Is(err, identity.ErrNotFound):
		FatalError("%v", err)
	case errors.As(err, &ambiguous):
		FatalErrorWithHint(ambiguous.Error(), "give more characters of the ID, or use the full internal ID")
	case errors.As(err, &transport):
		failTransport(transport)
	default:
		FatalError("%v", err)
	}
}

// failTransport reports a classified sync failure with the recovery guidance
// for its class. The change itself is already committed in the sync worktree;
// nothing is lost regardless of class.
func failTransport(err *syncer.TransportError) {
	fmt.Fprintf(os.Stderr, "Error: sync failed: %v\n", err.Err)
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Your changes are committed locally on the sync branch and will not be lost.")
	switch err.Class {
	case classify.ClassPermanent:
		fmt.Fprintln(os.Stderr, "This failure will not resolve on its own (access or branch policy).")
		fmt.Fprintln(os.Stderr, "Fix the underlying problem, then run 'sp sync' again.")
	case classify.ClassTransient:
		fmt.Fprintln(os.Stderr, "This looks like a temporary network problem.")
		fmt.Fprintln(os.Stderr, "Try again with 'sp sync', or 'sp sync --retry' to retry automatically.")
	default:
		fmt.Fprintln(os.Stderr, "The failure could not be classified.")
		fmt.Fprintln(os.Stderr, "Try 'sp sync' again; if it keeps failing, your changes remain safe locally.")
	}
	os.Exit(1)
}
