package world

import (
	"path"
	"path/filepath"
	"strings"
)

// DefaultIgnorePatterns are always part of an Ignore built by NewIgnore.
var DefaultIgnorePatterns = []string{
	".git",
	".ctxpilot",
	"node_modules",
	"vendor",
	"dist",
	"build",
	".next",
	"target",
	".terraform",
	".venv",
	".cache",
}

var defaultIgnore = ParseIgnore(DefaultIgnorePatterns)

// Ignore decides which workspace-relative paths Tree, Glob, Grep and
// recursive watches skip. It is immutable once built and safe to share
// between workers.
//
// Pattern forms:
//
//	node_modules    any path segment with this name
//	docs/generated  this path and everything below it
//	*.min.js        glob against the base name, or the whole path when it has a slash
//	!vendor         keep segments with this name even if another pattern drops them
type Ignore struct {
	names    map[string]bool
	keep     map[string]bool
	prefixes []string
	globs    []string
	patterns []string
}

// NewIgnore returns the defaults extended with extra patterns.
func NewIgnore(extra ...string) *Ignore {
	return ParseIgnore(append(append([]string(nil), DefaultIgnorePatterns...), extra...))
}

// ParseIgnore builds an Ignore from exactly the given patterns.
func ParseIgnore(patterns []string) *Ignore {
	ig := &Ignore{names: map[string]bool{}, keep: map[string]bool{}}
	for _, raw := range patterns {
		p := filepath.ToSlash(strings.TrimSpace(raw))
		p = strings.TrimSuffix(strings.TrimPrefix(p, "./"), "/")
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		ig.patterns = append(ig.patterns, p)
		switch {
		case strings.HasPrefix(p, "!"):
			ig.keep[strings.TrimPrefix(p, "!")] = true
		case strings.ContainsAny(p, "*?["):
			ig.globs = append(ig.globs, p)
		case strings.Contains(p, "/"):
			ig.prefixes = append(ig.prefixes, p)
		default:
			ig.names[p] = true
		}
	}
	return ig
}

// Patterns returns the normalized patterns in input order.
func (ig *Ignore) Patterns() []string {
	if ig == nil {
		return defaultIgnore.Patterns()
	}
	return append([]string(nil), ig.patterns...)
}

// Match reports whether rel is ignored. A nil Ignore uses the defaults.
func (ig *Ignore) Match(rel string) bool {
	if ig == nil {
		ig = defaultIgnore
	}
	rel = strings.TrimPrefix(filepath.ToSlash(rel), "./")
	if rel == "" || rel == "." {
		return false
	}
	for _, seg := range strings.Split(rel, "/") {
		if ig.names[seg] && !ig.keep[seg] {
			return true
		}
	}
	for _, p := range ig.prefixes {
		if rel == p || strings.HasPrefix(rel, p+"/") {
			return true
		}
	}
	base := path.Base(rel)
	for _, g := range ig.globs {
		if strings.HasSuffix(g, "/*") && strings.HasPrefix(rel, strings.TrimSuffix(g, "*")) {
			return true
		}
		target := base
		if strings.Contains(g, "/") {
			target = rel
		}
		if ok, _ := path.Match(g, target); ok {
			return true
		}
	}
	return false
}
