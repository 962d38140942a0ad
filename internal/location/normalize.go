package location

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	parentheticalRe = regexp.MustCompile(`\(.*?\)`)
	footnoteRe      = regexp.MustCompile(`[\s\p{Zs}]*\[\d+\]`)
	whitespaceRe    = regexp.MustCompile(`[\s\p{Zs}]+`)
)

// Normalize strips parenthetical spans and footnote markers from a free-text
// place name, collapses whitespace, and trims surrounding spaces, commas and
// periods. The boolean is false when nothing usable remains.
//
// Normalize is idempotent: feeding its output back in returns the same string.
func Normalize(raw string) (string, bool) {
	s := parentheticalRe.ReplaceAllString(raw, " ")
	// Removing "[1]" from "[[1]2]" exposes "[2]", so repeat until stable.
	for {
		next := footnoteRe.ReplaceAllString(s, "")
		if next == s {
			break
		}
		s = next
	}
	s = whitespaceRe.ReplaceAllString(s, " ")
	s = strings.TrimFunc(s, func(r rune) bool {
		return r == ',' || r == '.' || unicode.IsSpace(r)
	})
	if s == "" {
		return "", false
	}
	return s, true
}

// StripFootnotes removes "[n]" reference markers without touching anything else.
func StripFootnotes(s string) string {
	for {
		next := footnoteRe.ReplaceAllString(s, "")
		if next == s {
			return strings.TrimSpace(s)
		}
		s = next
	}
}
