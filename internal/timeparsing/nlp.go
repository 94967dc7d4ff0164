package timeparsing

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// nlpParser is built once; rule registration is not cheap and the parser is
// safe for concurrent use.
var (
	nlpParser     *when.Parser
	nlpParserOnce sync.Once
)

func getNLPParser() *when.Parser {
	nlpParserOnce.Do(func() {
		w := when.New(nil)
		w.Add(en.All...)
		w.Add(common.All...)
		nlpParser = w
	})
	return nlpParser
}

// ParseNaturalLanguage parses natural language time expressions relative to now.
//
// Supported expressions include:
//   - "tomorrow", "yesterday", "today"
//   - "next monday", "next friday"
//   - "tomorrow at 9am", "next monday at 2pm"
//   - "in 3 days", "in 1 week"
//   - "3 days ago"
//
// Returns an error if the input contains no recognizable time expression, or
// if the match covers only a fragment of the input (a partial match on
// arbitrary text is more likely a misparse than an intent).
func ParseNaturalLanguage(s string, now time.Time) (time.Time, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("empty time expression")
	}

	result, err := getNLPParser().Parse(trimmed, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse %q: %w", s, err)
	}
	if result == nil {
		return time.Time{}, fmt.Errorf("not a recognizable time expression: %q", s)
	}

	// Require the match to cover most of the input. "not a date at all"
	// must not silently parse because "date" happened to match something.
	matched := len(result.Text)
	if matched*2 < len(trimmed) {
		return time.Time{}, fmt.Errorf("ambiguous time expression: %q (only matched %q)", s, result.Text)
	}

	return result.Time, nil
}
