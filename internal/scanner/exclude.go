package scanner

import (
	"path/filepath"
	"strings"
)

// matchesExclude reports whether path (absolute, under base) should be
// skipped according to patterns. Ported in semantics from the original
// source's matches_exclude_pattern: a pattern matches if it equals the
// full relative path, equals any path component, or (when it contains a
// '*') glob-matches the relative path or any component.
func matchesExclude(path, base string, patterns []string) bool {
	if len(patterns) == 0 {
		return false
	}

	rel, err := filepath.Rel(base, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}

	parts := strings.Split(rel, string(filepath.Separator))

	for _, pattern := range patterns {
		if rel == pattern {
			return true
		}
		for _, part := range parts {
			if part == pattern {
				return true
			}
		}
		if strings.Contains(pattern, "*") {
			if ok, _ := filepath.Match(pattern, rel); ok {
				return true
			}
			for _, part := range parts {
				if ok, _ := filepath.Match(pattern, part); ok {
					return true
				}
			}
		}
	}

	return false
}
