package util

import (
	"regexp"
	"strings"
)

// MaxPostRunes is the platform's post length ceiling.
const MaxPostRunes = 280

var whitespace = regexp.MustCompile(`\s+`)

// NormalizeWhitespace trims and collapses whitespace to single spaces.
func NormalizeWhitespace(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// FirstLine returns the text before the first line break, trimmed.
func FirstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// TruncateRunes shortens s to at most max runes, replacing the tail
// with an ellipsis when something was cut.
func TruncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

// StripQuotes drops double quotes wrapped around the whole text.
// Models tend to quote a short draft as if citing themselves.
func StripQuotes(s string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), `"`))
}

// ShapeReply applies the posting rules for generated reply text:
// first line only, collapsed whitespace, at most MaxPostRunes runes.
func ShapeReply(s string) string {
	return TruncateRunes(NormalizeWhitespace(FirstLine(s)), MaxPostRunes)
}

// IsRepost reports whether raw post text is a legacy-style repost.
func IsRepost(text string) bool {
	return strings.HasPrefix(text, "RT ")
}
