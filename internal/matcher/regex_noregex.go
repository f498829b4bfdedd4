//go:build noregex

package matcher

import "fmt"

// NewRegex is unavailable in a noregex build; it always returns an error,
// so the regex variant is not constructable (spec.md §4.5).
func NewRegex(pattern string) (Matcher, error) {
	return nil, fmt.Errorf("matcher: regex support built out (noregex build tag)")
}
