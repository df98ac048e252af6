package sxssf

import (
	"strings"
	"unicode/utf8"
)

// escapeString appends s to b as XML character data or attribute text.
// Characters that are illegal in XML 1.0 become '?' and invalid UTF-8
// becomes U+FFFD.
func escapeString(b *strings.Builder, s string) {
	last := 0
	for i := 0; i < len(s); {
		r, width := utf8.DecodeRuneInString(s[i:])
		var esc string
		switch {
		case r == '&':
			esc = "&amp;"
		case r == '<':
			esc = "&lt;"
		case r == '>':
			esc = "&gt;"
		case r == '"':
			esc = "&quot;"
		case r == '\t' || r == '\n' || r == '\r':
		case r < 0x20 || r == 0xFFFE || r == 0xFFFF:
			esc = "?"
		case r == utf8.RuneError && width == 1:
			esc = "\uFFFD"
		}
		if esc != "" {
			b.WriteString(s[last:i])
			b.WriteString(esc)
			last = i + width
		}
		i += width
	}
	b.WriteString(s[last:])
}

// EscapeString returns s escaped the way cell text is written.
func EscapeString(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	escapeString(&b, s)
	return b.String()
}
