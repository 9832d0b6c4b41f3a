package session

import "regexp"

// Redactor strips secret-shaped substrings out of session digests and
// checkpoint fields before they're persisted (spec.md §4.6 "redaction").
// No example repo in the corpus carries a secret-scanning library (the
// teacher's own `internal/connections` handles API keys by keeping them
// out of logs entirely, never by scrubbing arbitrary text) — this is a
// fixed, small set of regex substitutions with no framework concern behind
// it, so stdlib regexp is the right tool rather than a gap.
type Redactor struct {
	patterns []*regexp.Regexp
}

const redactedPlaceholder = "[REDACTED]"

// NewRedactor compiles the patterns spec.md §4.6 lists: bearer tokens,
// key/secret/token/password assignments, well-known provider env var
// names, UPPER_SNAKE_CASE env-style assignments, and long base64 blobs.
func NewRedactor() *Redactor {
	patterns := []string{
		`(?i)bearer\s+[a-z0-9._\-]{10,}`,
		`(?i)(api[_-]?key|secret|token|password)\s*[:=]\s*["']?[^\s"']{6,}["']?`,
		`(?i)(MEMENTO_API_TOKEN|OPENAI_API_KEY|ANTHROPIC_API_KEY|AWS_SECRET_ACCESS_KEY|AWS_ACCESS_KEY_ID|GITHUB_TOKEN)\s*=\s*\S+`,
		`\b[A-Z][A-Z0-9]*(?:_[A-Z0-9]+)+=\S+`,
		`[a-zA-Z0-9+/]{32,}={0,2}`,
	}
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return &Redactor{patterns: compiled}
}

// Redact returns s with every matched pattern replaced by a fixed
// placeholder. Patterns run in the fixed order they were compiled so a
// longer, more specific match (a named env var assignment) is consumed
// before the generic base64-blob pattern would otherwise eat part of it.
func (r *Redactor) Redact(s string) string {
	for _, p := range r.patterns {
		s = p.ReplaceAllString(s, redactedPlaceholder)
	}
	return s
}
