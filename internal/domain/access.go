package domain

import (
	"strings"

	"github.com/gobwas/glob"
)

// AccessPolicy decides which entities may be listed and queried.
//
// A non-empty whitelist is authoritative and the blacklist is ignored. With an
// empty whitelist, an entity matching any blacklist pattern is denied. With
// both lists empty every entity is allowed.
type AccessPolicy struct {
	whitelist []matcher
	blacklist []matcher
}

type matcher interface {
	Match(string) bool
}

type literal string

func (l literal) Match(s string) bool { return string(l) == s }

func NewAccessPolicy(whitelist, blacklist []string) *AccessPolicy {
	return &AccessPolicy{
		whitelist: compilePatterns(whitelist),
		blacklist: compilePatterns(blacklist),
	}
}

func (p *AccessPolicy) IsAllowed(entityID string) bool {
	if p == nil {
		return true
	}
	if len(p.whitelist) > 0 {
		return matchesAny(p.whitelist, entityID)
	}
	if len(p.blacklist) > 0 {
		return !matchesAny(p.blacklist, entityID)
	}
	return true
}

// Filter keeps the summaries whose entity is allowed, preserving order.
func (p *AccessPolicy) Filter(items []EntitySummary) []EntitySummary {
	out := make([]EntitySummary, 0, len(items))
	for _, item := range items {
		if p.IsAllowed(item.EntityID) {
			out = append(out, item)
		}
	}
	return out
}

// shellEscaper keeps braces and backslashes literal, as in shell globs. Only
// '*', '?' and '[...]' are wildcards.
var shellEscaper = strings.NewReplacer(`\`, `\\`, "{", `\{`, "}", `\}`)

func compilePatterns(patterns []string) []matcher {
	out := make([]matcher, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(shellEscaper.Replace(pattern))
		if err != nil {
			out = append(out, literal(pattern))
			continue
		}
		out = append(out, g)
	}
	return out
}

func matchesAny(matchers []matcher, entityID string) bool {
	for _, m := range matchers {
		if m.Match(entityID) {
			return true
		}
	}
	return false
}
