// Package privacy sanitizes error messages and denial reasons into
// display-safe strings before they are persisted or shown to users.
package privacy

import (
	"regexp"
	"strings"
)

// MaxMessageLen caps sanitized messages. Anything longer is truncated.
const MaxMessageLen = 256

var (
	// bearerRegex matches Authorization-style bearer credentials
	bearerRegex = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/=-]+`)

	// apiKeyRegex matches common API key shapes (sk-..., key_..., token-...)
	apiKeyRegex = regexp.MustCompile(`(?i)\b(?:sk|pk|api|key|token|secret)[-_][A-Za-z0-9_-]{16,}\b`)

	// goroutineRegex marks the start of a Go runtime stack dump
	goroutineRegex = regexp.MustCompile(`(?m)^goroutine \d+ \[`)

	// frameRegex matches source frames (pkg/file.go:123) inside messages
	frameRegex = regexp.MustCompile(`\S+\.go:\d+`)
)

// RedactSecrets replaces credential-shaped substrings with a placeholder.
func RedactSecrets(text string) string {
	text = bearerRegex.ReplaceAllString(text, "[redacted]")
	return apiKeyRegex.ReplaceAllString(text, "[redacted]")
}

// StripStackTrace cuts a message at the first goroutine dump and removes
// source frame references.
func StripStackTrace(text string) string {
	if loc := goroutineRegex.FindStringIndex(text); loc != nil {
		text = text[:loc[0]]
	}
	return frameRegex.ReplaceAllString(text, "")
}

// DisplaySafe produces a single-line, bounded, credential-free version
// of a message. This is the form stored on failed steps, telemetry
// events and handoff denial reasons.
func DisplaySafe(text string) string {
	text = RedactSecrets(text)
	text = StripStackTrace(text)
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > MaxMessageLen {
		text = text[:MaxMessageLen-3] + "..."
	}
	return text
}
