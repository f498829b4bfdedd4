package style

import (
	"github.com/paulmach/osm"

	"github.com/wegman-software/osmrelate/internal/matcher"
)

type compiledTag struct {
	key string
	m   matcher.Matcher
}

type compiledRule []compiledTag

// Filter is a compiled Config, ready to back relations.Hooks.
// KeepRelation and KeepMember without re-parsing YAML or re-building
// matchers on every call.
type Filter struct {
	rules       []compiledRule
	keepRoles   matcher.Matcher // nil means "no restriction"
	excludeRole matcher.Matcher // nil means "nothing excluded"
}

// Compile builds a Filter from cfg. A nil cfg compiles to a Filter that
// keeps everything, equivalent to Compile(DefaultConfig()).
func Compile(cfg *Config) (*Filter, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	f := &Filter{}

	for _, rule := range cfg.Relations {
		var compiled compiledRule
		for _, tm := range rule.Tags {
			m, err := tm.compile()
			if err != nil {
				return nil, err
			}
			compiled = append(compiled, compiledTag{key: tm.Key, m: m})
		}
		f.rules = append(f.rules, compiled)
	}

	if len(cfg.Members.Roles) > 0 {
		f.keepRoles = matcher.List{Values: cfg.Members.Roles}
	}
	if len(cfg.Members.ExcludeRoles) > 0 {
		f.excludeRole = matcher.List{Values: cfg.Members.ExcludeRoles}
	}

	return f, nil
}

// KeepRelation reports whether a relation with these tags should be
// tracked at all. With no rules configured, every relation is kept.
func (f *Filter) KeepRelation(tags osm.Tags) bool {
	if len(f.rules) == 0 {
		return true
	}
	m := tags.Map()
	for _, rule := range f.rules {
		if ruleMatches(rule, m) {
			return true
		}
	}
	return false
}

func ruleMatches(rule compiledRule, tags map[string]string) bool {
	for _, ct := range rule {
		if !ct.m.Match(tags[ct.key]) {
			return false
		}
	}
	return true
}

// KeepMember reports whether a member with this role should be tracked,
// given a relation that has already passed KeepRelation.
func (f *Filter) KeepMember(role string) bool {
	if f.excludeRole != nil && f.excludeRole.Match(role) {
		return false
	}
	if f.keepRoles != nil && !f.keepRoles.Match(role) {
		return false
	}
	return true
}
