// Package classify assigns recovery classes to sync transport failures.
//
// The classification is the sole input to recovery policy: permanent
// failures are reported and never retried automatically, transient ones may
// be retried, unknown ones surface both options to the operator. Free-text
// matching over another tool's error output is inherently brittle, so the
// pattern lists live in a versioned table embedded at build time rather
// than in conditionals, and structured error values are consulted before
// any text is read.
package classify

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/BurntSushi/toml"
)

// Class is the recovery category of a sync transport failure.
type Class int

const (
	// ClassUnknown matches neither pattern table. Callers report both
	// recovery options and never guess.
	ClassUnknown Class = iota

	// ClassPermanent cannot succeed by retrying: authorization failures,
	// protected branches, declined hooks. A human has to act first.
	ClassPermanent

	// ClassTransient may succeed if retried later: network, DNS, and
	// server-side outage signatures.
	ClassTransient
)

func (c Class) String() string {
	switch c {
	case ClassPermanent:
		return "permanent"
	case ClassTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Table is a versioned set of lowercase substring patterns.
type Table struct {
	Version   int      `toml:"version"`
	Permanent []string `toml:"permanent"`
	Transient []string `toml:"transient"`
}

//go:embed rules.toml
var rulesTOML []byte

// Rules is the pattern table compiled into the binary.
var Rules = mustLoadTable(rulesTOML)

func mustLoadTable(data []byte) Table {
	var t Table
	if err := toml.Unmarshal(data, &t); err != nil {
		panic(fmt.Sprintf("classify: embedded rules.toml is invalid: %v", err))
	}
	for i, p := range t.Permanent {
		t.Permanent[i] = strings.ToLower(p)
	}
	for i, p := range t.Transient {
		t.Transient[i] = strings.ToLower(p)
	}
	return t
}

// Classify assigns a recovery class to a transport failure. It is a pure
// function of the error: identical errors classify identically, with no
// network or filesystem access.
//
// Structured signals win over text: a context deadline or a net.Error
// timeout is transient no matter what the message says. Text matching is
// case-insensitive substring over the embedded table, permanent rules
// before transient ones.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}

	msg := strings.ToLower(err.Error())
	for _, pat := range Rules.Permanent {
		if strings.Contains(msg, pat) {
			return ClassPermanent
		}
	}
	for _, pat := range Rules.Transient {
		if strings.Contains(msg, pat) {
			return ClassTransient
		}
	}
	return ClassUnknown
}
