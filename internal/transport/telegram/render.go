package telegram

import (
	"html"
	"strings"

	"ghwatch/internal/notification"
)

const textLimit = 4000

// Render formats a payload as Telegram HTML:
//
//	🟢 <b><a href="url">title</a></b>
//	<i>author</i>
//	description
//	<b>Field:</b> value
func Render(p notification.Payload) string {
	var b strings.Builder
	b.WriteString(marker(p.Color))
	b.WriteString(" <b>")
	title := html.EscapeString(p.Title)
	if p.URL != "" {
		b.WriteString(`<a href="` + html.EscapeString(p.URL) + `">` + title + `</a>`)
	} else {
		b.WriteString(title)
	}
	b.WriteString("</b>")

	if p.AuthorName != "" {
		b.WriteString("\n<i>")
		if p.AuthorURL != "" {
			b.WriteString(`<a href="` + html.EscapeString(p.AuthorURL) + `">` + html.EscapeString(p.AuthorName) + `</a>`)
		} else {
			b.WriteString(html.EscapeString(p.AuthorName))
		}
		b.WriteString("</i>")
	}
	if p.Description != "" {
		b.WriteString("\n")
		b.WriteString(html.EscapeString(p.Description))
	}
	for _, f := range p.Fields {
		b.WriteString("\n<b>")
		b.WriteString(html.EscapeString(f.Name))
		b.WriteString(":</b> ")
		b.WriteString(html.EscapeString(f.Value))
	}
	return b.String()
}

// marker picks a colored circle closest to c, since Telegram messages carry no accent color.
func marker(c uint32) string {
	r := float64(c>>16&0xff) / 255
	g := float64(c>>8&0xff) / 255
	bl := float64(c&0xff) / 255
	hi := max(r, g, bl)
	lo := min(r, g, bl)

	switch {
	case hi < 0.2:
		return "⚫"
	case hi-lo < 0.15:
		return "⚪"
	}

	var h float64
	d := hi - lo
	switch hi {
	case r:
		h = 60 * (g - bl) / d
	case g:
		h = 60 * ((bl-r)/d + 2)
	default:
		h = 60 * ((r-g)/d + 4)
	}
	if h < 0 {
		h += 360
	}

	switch {
	case h < 15 || h >= 330:
		return "🔴"
	case h < 45:
		if hi < 0.6 {
			return "🟤"
		}
		return "🟠"
	case h < 70:
		return "🟡"
	case h < 170:
		return "🟢"
	case h < 260:
		return "🔵"
	default:
		return "🟣"
	}
}

// splitText splits s into chunks of at most limit runes. It prefers newline
// boundaries and, for HTML, avoids cutting inside a tag.
func splitText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				// skip tiny chunks
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		if strings.EqualFold(parseMode, "HTML") && end < len(rs) {
			open, closed := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					open = i
				case '>':
					closed = i
				}
			}
			if open > closed && open > start+1 {
				end = open
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
