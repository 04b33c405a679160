package handler

import (
	"strings"
	"unicode"
)

const maxInputLen = 10000

// sanitizeInput trims whitespace, drops control characters other than line
// breaks and tabs, and caps the length. Values end up in PDFs and e-mail, not
// HTML, so nothing is escaped here.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || !unicode.IsControl(r) {
			return r
		}
		return -1
	}, s)
	// Limit length to prevent abuse
	if len(s) > maxInputLen {
		s = truncateUTF8(s, maxInputLen)
	}
	return s
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	for n > 0 && n < len(s) && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n]
}
