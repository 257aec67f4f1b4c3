// Package notification defines the payload shape produced by the event
// classifier and consumed by the dispatch sink and chat transports.
package notification

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Field is a labeled extra value rendered below the description.
type Field struct {
	Name  string
	Value string
}

// Payload is a single rich notification.
type Payload struct {
	Title       string
	Description string
	URL         string
	// Color is 0xRRGGBB.
	Color      uint32
	AuthorName string
	AuthorURL  string
	AuthorIcon string
	Timestamp  time.Time
	Fields     []Field
}

// ParseColor parses "#rrggbb" or "rrggbb".
func ParseColor(s string) (uint32, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return 0, fmt.Errorf("invalid color %q", s)
	}
	c, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid color %q", s)
	}
	return uint32(c), nil
}

// MustColor is ParseColor for package-level constants.
func MustColor(s string) uint32 {
	c, err := ParseColor(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Hex formats c as "#rrggbb".
func Hex(c uint32) string { return fmt.Sprintf("#%06x", c&0xffffff) }
