package classify

// DefaultCap is the truncation length for callers without a specific limit.
const DefaultCap = 40

// Truncate shortens s to at most n runes, replacing the tail with "..." when cut.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
