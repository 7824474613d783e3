package secrets

import (
	"regexp"
	"sync"
)

// Redacted replaces every secret found in text.
const Redacted = "***REDACTED***"

// credentialPatterns match credentials whose values were never registered,
// such as tokens echoed back in upstream error bodies.
var credentialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(token|bearer)\s+[A-Za-z0-9._~+/=-]{8,}`),
	regexp.MustCompile(`(?i)\b(api[_-]?key|access[_-]?token|password|secret)(["']?\s*[=:]\s*["']?)[^\s"'&,}]+`),
	regexp.MustCompile(`\bsk-(ant-)?[A-Za-z0-9_-]{16,}`),
}

// Sanitizer strips registered secret values and credential-looking
// substrings. It is safe for concurrent use.
type Sanitizer struct {
	mu     sync.RWMutex
	values map[string]struct{}
}

// NewSanitizer creates a sanitizer seeded with values. Empty values are ignored.
func NewSanitizer(values ...string) *Sanitizer {
	s := &Sanitizer{values: make(map[string]struct{})}
	s.Add(values...)
	return s
}

// Add registers more secret values.
func (s *Sanitizer) Add(values ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range values {
		if v != "" {
			s.values[v] = struct{}{}
		}
	}
}

// Sanitize returns text with secrets replaced by Redacted.
func (s *Sanitizer) Sanitize(text string) string {
	if text == "" {
		return text
	}
	text = s.redactValues(text)

	text = credentialPatterns[0].ReplaceAllString(text, "${1} "+Redacted)
	text = credentialPatterns[1].ReplaceAllString(text, "${1}${2}"+Redacted)
	return credentialPatterns[2].ReplaceAllString(text, Redacted)
}

func (s *Sanitizer) redactValues(text string) string {
	if s == nil {
		return text
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for v := range s.values {
		text = replaceAll(text, v)
	}
	return text
}
