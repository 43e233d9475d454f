// Package redact scrubs secret-shaped substrings out of tool results and
// memory write-back content before it leaves the process: API keys,
// bearer tokens, and similar credential patterns that a provider response
// or a packed file might otherwise echo back verbatim.
package redact

import "regexp"

// Finding records one redaction applied to a piece of content, mirroring
// the teacher's severity-tagged audit-finding shape so redaction events
// can be logged the same way a security audit finding is.
type Finding struct {
	Pattern string
	Count   int
}

type rule struct {
	name string
	re   *regexp.Regexp
}

// defaultRules covers the common credential shapes seen in tool output:
// cloud provider keys, generic bearer tokens, and private key blocks.
var defaultRules = []rule{
	{"openai_api_key", regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`)},
	{"aws_access_key_id", regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{"bearer_token", regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]{10,}=*`)},
	{"generic_secret_assignment", regexp.MustCompile(`(?i)(api[_-]?key|secret|token|password)\s*[:=]\s*['"]?[A-Za-z0-9\-._~+/]{12,}['"]?`)},
	{"private_key_block", regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`)},
}

// Filter redacts secret-shaped substrings from text.
type Filter struct {
	rules       []rule
	replacement string
}

// Option configures a Filter.
type Option func(*Filter)

// WithReplacement overrides the default "[REDACTED]" placeholder.
func WithReplacement(s string) Option {
	return func(f *Filter) { f.replacement = s }
}

// WithAdditionalPattern adds a caller-supplied named pattern on top of the
// built-in rule set, e.g. a project-specific internal token format.
func WithAdditionalPattern(name, pattern string) Option {
	return func(f *Filter) {
		f.rules = append(f.rules, rule{name, regexp.MustCompile(pattern)})
	}
}

// New creates a redaction filter with the built-in credential rules plus
// any options.
func New(opts ...Option) *Filter {
	f := &Filter{
		rules:       append([]rule(nil), defaultRules...),
		replacement: "[REDACTED]",
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Redact returns text with every rule match replaced, plus one Finding per
// rule that matched (with its match count), so callers can log what was
// scrubbed without exposing the scrubbed value itself.
func (f *Filter) Redact(text string) (string, []Finding) {
	var findings []Finding
	out := text
	for _, r := range f.rules {
		matches := r.re.FindAllStringIndex(out, -1)
		if len(matches) == 0 {
			continue
		}
		out = r.re.ReplaceAllString(out, f.replacement)
		findings = append(findings, Finding{Pattern: r.name, Count: len(matches)})
	}
	return out, findings
}

// HasSecret reports whether text matches any rule without performing a
// replacement, useful for a fast pre-check before a more expensive
// redact-and-log path.
func (f *Filter) HasSecret(text string) bool {
	for _, r := range f.rules {
		if r.re.MatchString(text) {
			return true
		}
	}
	return false
}
