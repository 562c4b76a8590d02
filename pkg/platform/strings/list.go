// Package strings holds small helpers for list-valued settings.
package strings

import "strings"

// CleanList trims each element and drops blanks and repeats, keeping the
// first occurrence. Comma-separated environment values such as
// "b1:9092, b2:9092,," come out as []string{"b1:9092", "b2:9092"}.
func CleanList(values []string) []string {
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
