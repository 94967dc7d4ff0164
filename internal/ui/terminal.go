// Package ui provides terminal styling for spool CLI output.
package ui

import (
	"os"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// IsTerminal reports whether stdout is attached to a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// IsAgentMode reports whether output should stay plain for machine parsing.
// Agents set SPOOL_AGENT_MODE to opt out of colors, glamour, and pagers.
func IsAgentMode() bool {
	return os.Getenv("SPOOL_AGENT_MODE") != ""
}

// ShouldUseColor determines whether output should be colored.
//
// Precedence, highest first:
//   - NO_COLOR set (any value): no color (https://no-color.org)
//   - CLICOLOR_FORCE set and not "0": color, even when not a TTY
//   - CLICOLOR=0: no color
//   - agent mode: no color
//   - otherwise: color iff stdout is a terminal with a color profile
func ShouldUseColor() bool {
	if _, set := os.LookupEnv("NO_COLOR"); set {
		return false
	}
	if force := os.Getenv("CLICOLOR_FORCE"); force != "" && force != "0" {
		return true
	}
	if os.Getenv("CLICOLOR") == "0" {
		return false
	}
	if IsAgentMode() {
		return false
	}
	return IsTerminal() && termenv.ColorProfile() != termenv.Ascii
}

// ShouldUseEmoji determines whether status icons may use emoji/unicode.
// SPOOL_NO_EMOJI forces plain ASCII; otherwise emoji follows the TTY check.
func ShouldUseEmoji() bool {
	if os.Getenv("SPOOL_NO_EMOJI") != "" {
		return false
	}
	return IsTerminal()
}
