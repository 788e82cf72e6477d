// Package utils provides small helpers with no domain knowledge, shared by
// the HTTP handlers for query-parameter parsing and range clamping.
package utils

import "strconv"

// AtoiDefault parses s as a base-10 int, returning def when s is empty or
// unparseable. No trimming is applied; a query value with stray whitespace
// falls back to the default rather than being silently repaired.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// ClampInt bounds n to the inclusive range [lo, hi].
func ClampInt(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
