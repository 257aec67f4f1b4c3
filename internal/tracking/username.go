package tracking

// MaxUsernameLen is GitHub's username length limit.
const MaxUsernameLen = 39

// ValidUsername reports whether s is a syntactically valid GitHub username:
// 1-39 ASCII letters, digits or single hyphens, not starting or ending with a hyphen.
func ValidUsername(s string) bool {
	if len(s) == 0 || len(s) > MaxUsernameLen {
		return false
	}
	if s[0] == '-' || s[len(s)-1] == '-' {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-':
			if s[i-1] == '-' {
				return false
			}
		default:
			return false
		}
	}
	return true
}
