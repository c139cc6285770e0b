package logger

import (
	"io"
	"regexp"
)

type redactionRule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Redactor redacts sensitive information from logs
type Redactor struct {
	rules []redactionRule
}

// NewRedactor creates a new redactor with default patterns
func NewRedactor() *Redactor {
	return &Redactor{
		rules: []redactionRule{
			// Bearer tokens, e.g. in HTTP transport headers
			{regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]+`), "[REDACTED]"},

			// Bridge and API credentials; the key name is kept
			{regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password)(["\s:=]+)[^\s",}]+`), "${1}${2}[REDACTED]"},

			// Credentials embedded in a URL
			{regexp.MustCompile(`://[^/\s:@]+:[^/\s@]+@`), "://[REDACTED]@"},
		},
	}
}

// AddPattern adds a custom redaction pattern
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.rules = append(r.rules, redactionRule{re, "[REDACTED]"})
	return nil
}

// Redact redacts sensitive information from a string
func (r *Redactor) Redact(s string) string {
	result := s
	for _, rule := range r.rules {
		result = rule.pattern.ReplaceAllString(result, rule.replacement)
	}
	return result
}

// Wrap wraps an io.Writer to redact sensitive information
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{
		writer:   w,
		redactor: r,
	}
}

// redactingWriter is an io.Writer that redacts sensitive information
type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

func (w *redactingWriter) Write(p []byte) (n int, err error) {
	redacted := w.redactor.Redact(string(p))
	if _, err := w.writer.Write([]byte(redacted)); err != nil {
		return 0, err
	}
	// report the caller's length so zerolog doesn't treat redaction as a short write
	return len(p), nil
}
