// Package ui provides terminal styling for spool CLI output.
package ui

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// Display limits for long free-text fields. Commands use these unless the
// user asked for --full output.
const (
	DefaultMaxLines     = 15
	DefaultContextLines = 5
	DefaultMaxChars     = 500
	DefaultContextChars = 200
)

// rule is the horizontal line drawn around a hidden-content marker.
const rule = 40

// TruncateLines elides the middle of text that exceeds maxLines, keeping
// contextLines from each end around a marker that reports how much was cut.
// Text at or under the limit comes back unchanged.
func TruncateLines(text string, maxLines, contextLines int) string {
	if text == "" {
		return text
	}
	lines := strings.Split(text, "\n")
	if len(lines) <= maxLines {
		return text
	}
	if contextLines < 1 {
		contextLines = DefaultContextLines
	}
	// Not enough room for head, marker, and tail: keep the head only.
	if maxLines < contextLines*2+3 {
		return strings.Join(lines[:maxLines], "\n") + "\n..."
	}

	hidden := len(lines) - contextLines*2
	var b strings.Builder
	b.WriteString(strings.Join(lines[:contextLines], "\n"))
	b.WriteString("\n")
	b.WriteString(RenderMuted(strings.Repeat("─", rule)))
	b.WriteString("\n")
	b.WriteString(RenderMuted("... (" + strconv.Itoa(hidden) + " lines hidden)"))
	b.WriteString("\n")
	b.WriteString(RenderMuted(strings.Repeat("─", rule)))
	b.WriteString("\n")
	b.WriteString(strings.Join(lines[len(lines)-contextLines:], "\n"))
	return b.String()
}

// TruncateChars elides the middle of text that exceeds maxChars, keeping
// roughly contextChars from each end and breaking at word boundaries where
// one is close enough.
func TruncateChars(text string, maxChars, contextChars int) string {
	if text == "" {
		return text
	}
	total := utf8.RuneCountInString(text)
	if total <= maxChars {
		return text
	}
	if contextChars < 50 {
		contextChars = DefaultContextChars
	}
	// Too tight for head and tail plus a marker: plain end truncation.
	if maxChars < contextChars*2+40 {
		return clipEnd(text, maxChars-3) + "..."
	}

	runes := []rune(text)
	head := clipEnd(string(runes[:contextChars]), contextChars)
	tail := clipStart(string(runes[total-contextChars:]), contextChars)
	hidden := total - utf8.RuneCountInString(head) - utf8.RuneCountInString(tail)

	return head + "\n" + RenderMuted("... ("+strconv.Itoa(hidden)+" chars hidden) ...") + "\n" + tail
}

// TruncateSimple cuts text to maxLen runes, replacing the tail with "...".
func TruncateSimple(text string, maxLen int) string {
	if utf8.RuneCountInString(text) <= maxLen {
		return text
	}
	if maxLen <= 3 {
		return "..."
	}
	return string([]rune(text)[:maxLen-3]) + "..."
}

// ShouldTruncate reports whether text exceeds either threshold. A zero
// threshold disables that check.
func ShouldTruncate(text string, maxLines, maxChars int) bool {
	if maxChars > 0 && utf8.RuneCountInString(text) > maxChars {
		return true
	}
	if maxLines > 0 && strings.Count(text, "\n")+1 > maxLines {
		return true
	}
	return false
}

// WrapText greedily wraps each line of text at word boundaries so no line
// exceeds maxWidth. Existing newlines are preserved.
func WrapText(text string, maxWidth int) string {
	if maxWidth <= 0 {
		maxWidth = 80
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = wrapLine(line, maxWidth)
	}
	return strings.Join(lines, "\n")
}

func wrapLine(line string, maxWidth int) string {
	if utf8.RuneCountInString(line) <= maxWidth {
		return line
	}
	var b strings.Builder
	width := 0
	for _, word := range strings.Fields(line) {
		n := utf8.RuneCountInString(word)
		switch {
		case width == 0:
			// A word longer than maxWidth still gets its own line whole.
			b.WriteString(word)
			width = n
		case width+1+n <= maxWidth:
			b.WriteString(" ")
			b.WriteString(word)
			width += 1 + n
		default:
			b.WriteString("\n")
			b.WriteString(word)
			width = n
		}
	}
	return b.String()
}

// clipEnd trims text to at most maxLen runes, backing up to the nearest
// whitespace within 50 runes of the cut when one exists.
func clipEnd(text string, maxLen int) string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	for i := maxLen - 1; i >= maxLen-50 && i > 0; i-- {
		if runes[i] == ' ' || runes[i] == '\n' || runes[i] == '\t' {
			return strings.TrimRight(string(runes[:i]), " \t")
		}
	}
	return string(runes[:maxLen])
}

// clipStart drops runes from the front of text until at most maxLen remain,
// advancing to the nearest whitespace within 50 runes of the cut.
func clipStart(text string, maxLen int) string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	start := len(runes) - maxLen
	for i := start; i < start+50 && i < len(runes); i++ {
		if runes[i] == ' ' || runes[i] == '\n' || runes[i] == '\t' {
			return strings.TrimLeft(string(runes[i+1:]), " \t")
		}
	}
	return string(runes[start:])
}
