// Package exclude decides which local paths a mirror skips.
package exclude

import (
	"path"
	"path/filepath"
	"strings"
)

// Matcher holds gitignore-flavoured patterns:
//
//	name/    a directory called name at any depth
//	*.log    a glob tried against the whole relative path and the base name
//	a/b      a literal relative path and everything below it
//	name     a file called name at any depth
type Matcher struct {
	patterns []string
}

func DefaultPatterns() []string {
	return []string{
		".git/",
		".DS_Store",
		"._*",
		"node_modules/",
		"__pycache__/",
		"*.tmp",
		"*.swp",
	}
}

// New builds a matcher from patterns, optionally prefixed by DefaultPatterns.
// A nil *Matcher excludes nothing.
func New(patterns []string, withDefaults bool) *Matcher {
	var merged []string
	if withDefaults {
		merged = append(merged, DefaultPatterns()...)
	}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		merged = append(merged, filepath.ToSlash(p))
	}
	return &Matcher{patterns: merged}
}

func (m *Matcher) Patterns() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.patterns...)
}

// IsExcluded reports whether relPath, relative to the mirror root, is skipped
func (m *Matcher) IsExcluded(relPath string, isDir bool) bool {
	if m == nil {
		return false
	}
	relPath = strings.TrimPrefix(filepath.ToSlash(relPath), "./")
	base := path.Base(relPath)

	for _, p := range m.patterns {
		if strings.HasSuffix(p, "/") {
			dirPattern := strings.TrimSuffix(p, "/")
			if isDir && matchName(dirPattern, base) {
				return true
			}
			if strings.Contains(dirPattern, "/") && (relPath == dirPattern || strings.HasPrefix(relPath, dirPattern+"/")) {
				return true
			}
			continue
		}
		if strings.ContainsAny(p, "*?[") {
			if ok, _ := path.Match(p, relPath); ok {
				return true
			}
			if ok, _ := path.Match(p, base); ok {
				return true
			}
			continue
		}
		if relPath == p || strings.HasPrefix(relPath, p+"/") {
			return true
		}
		if !isDir && base == p {
			return true
		}
	}
	return false
}

func matchName(pattern, name string) bool {
	if strings.ContainsAny(pattern, "*?[") {
		ok, _ := path.Match(pattern, name)
		return ok
	}
	return pattern == name
}
