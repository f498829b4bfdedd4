//go:build !noregex

package matcher

import "regexp"

// Regex matches when the test string matches the compiled pattern. Regex
// support is a build-time option (spec.md §4.5): build with -tags noregex
// to drop it, in which case NewRegex returns an error instead of a usable
// matcher (see regex_noregex.go).
type Regex struct{ re *regexp.Regexp }

func (m Regex) Match(s string) bool { return m.re.MatchString(s) }
func (m Regex) String() string      { return "regex[" + m.re.String() + "]" }

// NewRegex compiles pattern into a Regex matcher.
func NewRegex(pattern string) (Matcher, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return Regex{re: re}, nil
}
