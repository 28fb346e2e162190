package stringutils

import (
	"regexp"
	"strings"
)

var (
	reThink  = regexp.MustCompile(`(?s)<think>.*?</think>`)
	reUnsafe = regexp.MustCompile(`[^a-zA-Z0-9_-]`)
)

const maxNameLen = 64

// Truncate shortens a string to at most n characters, adding "..." if it was truncated.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// StripThink removes <think>…</think> blocks that some models embed.
func StripThink(s string) string {
	return reThink.ReplaceAllString(s, "")
}

// SanitizeName reduces an author name to a safe identifier subset
// (alphanumerics, underscore, hyphen) capped at 64 characters.
func SanitizeName(s string) string {
	s = strings.TrimSpace(s)
	s = reUnsafe.ReplaceAllString(s, "_")
	if len(s) > maxNameLen {
		s = s[:maxNameLen]
	}
	return s
}
