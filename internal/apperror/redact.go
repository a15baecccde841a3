package apperror

import (
	"regexp"
	"strings"
)

// RedactedMarker replaces anything that looks like a credential.
const RedactedMarker = "[REDACTED]"

// tokenPattern matches the shapes GitHub uses for tokens: prefixed tokens
// (gho_, ghp_, ghu_, ghs_, ghr_), fine-grained PATs and legacy 40-char hex tokens.
var tokenPattern = regexp.MustCompile(`\b(?:gh[opusr]_[A-Za-z0-9]{16,}|github_pat_[A-Za-z0-9_]{22,}|[0-9a-f]{40})\b`)

// bearerPattern catches "Bearer <anything>" in echoed request headers.
var bearerPattern = regexp.MustCompile(`(?i)(bearer\s+)[^\s"']+`)

// Redact scrubs a message before it is logged or returned to a client.
// Known secrets are replaced verbatim first, then any token-shaped substring.
func Redact(msg string, secrets ...string) string {
	for _, s := range secrets {
		if s == "" {
			continue
		}
		msg = strings.ReplaceAll(msg, s, RedactedMarker)
	}
	msg = bearerPattern.ReplaceAllString(msg, "${1}"+RedactedMarker)
	return tokenPattern.ReplaceAllString(msg, RedactedMarker)
}
