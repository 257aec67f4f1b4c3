package command

import "strings"

// Command is one admin instruction. Name is lower-cased; an empty Name is the
// empty command.
type Command struct {
	Name string
	Args []string

	// Origin, used for auditing only.
	FromID       int64
	FromUsername string
	ChatID       int64
}

// Parse extracts a command from chat text. It reports false when text does not
// start with prefix. The prefix alone yields the empty command.
//
//	!add octocat
//	!add "octocat"
//	!add@ghwatch_bot octocat
func Parse(text, prefix string) (Command, bool) {
	text = strings.TrimSpace(text)
	if prefix == "" || !strings.HasPrefix(text, prefix) {
		return Command{}, false
	}
	parts := tokenize(strings.TrimPrefix(text, prefix))
	if len(parts) == 0 {
		return Command{}, true
	}
	name := parts[0]
	if i := strings.IndexByte(name, '@'); i > 0 {
		name = name[:i]
	}
	c := Command{Name: strings.ToLower(name)}
	if len(parts) > 1 {
		c.Args = parts[1:]
	}
	return c, true
}

// tokenize splits on whitespace. Single or double quotes group words and a
// backslash escapes the next byte.
func tokenize(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out   []string
		buf   strings.Builder
		quote byte
		esc   bool
		// quoted "" is still a token
		open bool
	)
	flush := func() {
		if buf.Len() > 0 || open {
			out = append(out, buf.String())
			buf.Reset()
		}
		open = false
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case esc:
			buf.WriteByte(ch)
			esc = false
		case ch == '\\':
			esc = true
		case quote != 0:
			if ch == quote {
				quote = 0
				continue
			}
			buf.WriteByte(ch)
		case ch == '"' || ch == '\'':
			quote = ch
			open = true
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			flush()
		default:
			buf.WriteByte(ch)
		}
	}
	flush()
	return out
}
