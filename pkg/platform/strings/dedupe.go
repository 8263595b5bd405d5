// Package strings normalizes operator-typed text before it reaches validation.
package strings

import (
	"strings"
)

// DedupeAndTrim trims each value and drops blanks and repeats, keeping the
// first occurrence order. A nil or empty input is returned unchanged.
func DedupeAndTrim(values []string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// CollapseSpace trims s and folds every internal whitespace run to a single
// space, so "  Thandi   Mokoena " and "Thandi Mokoena" compare equal.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
