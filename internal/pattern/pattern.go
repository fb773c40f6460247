// Package pattern compiles the user-supplied event pattern into a log line
// matcher for the logs2eca watcher.
//
// A pattern whose first character is one of the delimiters '/', '|', or '%'
// is a regular expression: the text between the opening delimiter and the
// matching closing delimiter is handed to regexp.Compile, and the delimiter
// character may appear unescaped inside the expression. Every other pattern
// is a literal, matched either as a whole word (the default) or as an
// arbitrary substring of the line.
package pattern

import (
	"fmt"
	"regexp"
	"strings"
)

// Delimiters are the characters that mark a pattern as a regular expression
// when one of them is the pattern's first character.
const Delimiters = "/|%"

// Pattern is a compiled log line matcher. It is immutable after Compile and
// safe for concurrent use.
type Pattern struct {
	spec      string
	re        *regexp.Regexp
	wholeWord bool
}

// Compile classifies and compiles spec. Surrounding whitespace is trimmed
// before classification. A spec opening with a delimiter character must close
// with the same character; a missing or mismatched closing delimiter is an
// error rather than a silent fallback to literal matching, because a pattern
// that looks like a regex but matches as a literal fires on the wrong lines.
//
// wholeWord applies to literal patterns only: when true, the pattern matches
// only when bounded by literal spaces or the start/end of the line. Word
// boundaries are spaces exactly; tabs and punctuation do not delimit words.
func Compile(spec string, wholeWord bool) (*Pattern, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("pattern: pattern is empty")
	}

	if strings.IndexByte(Delimiters, spec[0]) >= 0 {
		delim := spec[0]
		if len(spec) < 2 || spec[len(spec)-1] != delim {
			return nil, fmt.Errorf("pattern: unterminated regular expression %q: expected closing %q", spec, string(delim))
		}
		re, err := regexp.Compile(spec[1 : len(spec)-1])
		if err != nil {
			return nil, fmt.Errorf("pattern: invalid regular expression %q: %w", spec, err)
		}
		return &Pattern{spec: spec, re: re}, nil
	}

	return &Pattern{spec: spec, wholeWord: wholeWord}, nil
}

// Match reports whether line contains the pattern. Regular expressions use
// search semantics: a match anywhere in the line counts.
func (p *Pattern) Match(line string) bool {
	if p.re != nil {
		return p.re.MatchString(line)
	}
	if p.wholeWord {
		// Pad both the line and the pattern with one space so the pattern can
		// match at the very start and end of the line.
		return strings.Contains(" "+line+" ", " "+p.spec+" ")
	}
	return strings.Contains(line, p.spec)
}

// IsRegex reports whether the pattern compiled as a regular expression.
func (p *Pattern) IsRegex() bool {
	return p.re != nil
}

// String returns the pattern text as supplied by the user, delimiters
// included. It is intended for log output and the status endpoint.
func (p *Pattern) String() string {
	return p.spec
}
