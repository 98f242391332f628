package security

import "regexp"

const redacted = "[REDACTED]"

type redactPattern struct {
	regex       *regexp.Regexp
	replacement string
}

// Applied in order; Bearer runs first so the whole token is replaced.
var secretPatterns = []redactPattern{
	{
		regex:       regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9\-._~+/]+=*`),
		replacement: "Bearer " + redacted,
	},
	{
		regex:       regexp.MustCompile(`\bsk-[A-Za-z0-9_\-]{4,}`),
		replacement: "sk-" + redacted,
	},
	{
		regex:       regexp.MustCompile(`\bAIza[0-9A-Za-z_\-]{10,}`),
		replacement: "AIza" + redacted,
	},
	{
		regex:       regexp.MustCompile(`(?i)\b(api[_-]?key|access[_-]?token|token|secret|password|key)(["']?\s*[:=]\s*["']?)[^\s"'&,;}]+`),
		replacement: "${1}${2}" + redacted,
	},
}

// SanitizeError redacts credential-shaped substrings from text before it is
// logged, stored or returned to a caller.
func SanitizeError(text string) string {
	if text == "" {
		return text
	}
	for _, p := range secretPatterns {
		text = p.regex.ReplaceAllString(text, p.replacement)
	}
	return text
}
