// Package privacy removes content the user marked private, and credentials
// that commonly leak through tool output, before anything is stored or
// embedded.
package privacy

import (
	"regexp"
	"strings"
)

// Redacted replaces a matched credential.
const Redacted = "[REDACTED]"

// privateTagRegex matches <private>...</private> blocks (non-greedy, dotall).
var privateTagRegex = regexp.MustCompile(`(?s)<private>.*?</private>`)

type secretPattern struct {
	re   *regexp.Regexp
	repl string
}

var secretPatterns = []secretPattern{
	// Authorization: Bearer <token>
	{regexp.MustCompile(`(?i)\b(bearer)\s+[a-z0-9._~+/=-]{16,}`), "${1} " + Redacted},
	// AWS access key ids
	{regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`), Redacted},
	// OpenAI / Anthropic style keys
	{regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{20,}`), Redacted},
	// GitHub tokens
	{regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`), Redacted},
	// FOO_API_KEY=..., password: ..., token=...
	{regexp.MustCompile(`(?i)\b([a-z0-9_]*(?:api[_-]?key|secret|token|password))(\s*[=:]\s*)"?[^\s"']{8,}"?`), "${1}${2}" + Redacted},
}

// StripPrivateTags removes all <private>...</private> blocks from content.
func StripPrivateTags(content string) string {
	return strings.TrimSpace(privateTagRegex.ReplaceAllString(content, ""))
}

// HasOnlyPrivateContent reports whether nothing remains after stripping.
func HasOnlyPrivateContent(content string) bool {
	return StripPrivateTags(content) == ""
}

// RedactSecrets masks credential-shaped substrings.
func RedactSecrets(content string) string {
	for _, p := range secretPatterns {
		content = p.re.ReplaceAllString(content, p.repl)
	}
	return content
}

// Clean strips private blocks, then redacts secrets. Tool input and output
// go through Clean.
func Clean(content string) string {
	return RedactSecrets(StripPrivateTags(content))
}
