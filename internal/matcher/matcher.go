// Package matcher implements the string-matching variants used by relation
// and member filter predicates, grounded on osmium::StringMatcher
// (original_source/include/osmium/util/string_matcher.hpp). Go has no
// algebraic tagged union, so this is modeled as a small interface with one
// concrete type per variant. Each variant implements Match itself and calls
// go through the interface method; there is no central type switch over
// the variants.
package matcher

import "strings"

// Matcher decides whether a test string matches.
type Matcher interface {
	Match(s string) bool
	String() string
}

// AlwaysFalse never matches.
type AlwaysFalse struct{}

func (AlwaysFalse) Match(string) bool { return false }
func (AlwaysFalse) String() string    { return "always_false" }

// AlwaysTrue always matches.
type AlwaysTrue struct{}

func (AlwaysTrue) Match(string) bool { return true }
func (AlwaysTrue) String() string    { return "always_true" }

// Equal matches when the test string equals Value exactly.
type Equal struct{ Value string }

func (m Equal) Match(s string) bool { return s == m.Value }
func (m Equal) String() string      { return "equal[" + m.Value + "]" }

// Prefix matches when the test string starts with Value.
type Prefix struct{ Value string }

func (m Prefix) Match(s string) bool { return strings.HasPrefix(s, m.Value) }
func (m Prefix) String() string      { return "prefix[" + m.Value + "]" }

// Substring matches when the test string contains Value.
type Substring struct{ Value string }

func (m Substring) Match(s string) bool { return strings.Contains(s, m.Value) }
func (m Substring) String() string      { return "substring[" + m.Value + "]" }

// List matches when the test string equals any of Values.
type List struct{ Values []string }

func (m List) Match(s string) bool {
	for _, v := range m.Values {
		if v == s {
			return true
		}
	}
	return false
}

func (m List) String() string {
	var b strings.Builder
	b.WriteString("list[")
	for _, v := range m.Values {
		b.WriteByte('[')
		b.WriteString(v)
		b.WriteByte(']')
	}
	b.WriteByte(']')
	return b.String()
}

// Bool returns AlwaysTrue{} or AlwaysFalse{} depending on result, the
// shortcut constructor spec.md's StringMatcher(bool) provides.
func Bool(result bool) Matcher {
	if result {
		return AlwaysTrue{}
	}
	return AlwaysFalse{}
}
