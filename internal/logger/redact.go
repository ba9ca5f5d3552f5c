package logger

import (
	"bytes"
	"io"
	"regexp"
)

// RedactWriter wraps an io.Writer and masks sensitive values before writing.
// It redacts API keys, session tokens, and Authorization header values from
// log lines.
type RedactWriter struct {
	w          io.Writer
	patterns   []*regexp.Regexp
	redactWith string
}

var defaultPatterns = []*regexp.Regexp{
	// API keys in key=value or "key":"value" form
	regexp.MustCompile(`(?i)(fishfish_api_key["'\s:=]+)\S+`),
	regexp.MustCompile(`(?i)(api[_-]?key["'\s:=]+)[A-Za-z0-9\-_]{16,}`),
	// Session tokens
	regexp.MustCompile(`(?i)(session[_-]?token["'\s:=]+)\S+`),
	regexp.MustCompile(`(?i)(token["'\s:=]+)[A-Za-z0-9\-_\.]{16,}`),
	// Authorization headers, bare or Bearer-prefixed
	regexp.MustCompile(`(?i)(Authorization["'\s:=]+)(?:Bearer\s+)?[A-Za-z0-9\-_\.]+`),
	regexp.MustCompile(`(?i)(Bearer\s+)[A-Za-z0-9\-_\.]+`),
}

// NewRedactWriter returns a RedactWriter that applies all default sensitive patterns.
func NewRedactWriter(w io.Writer) *RedactWriter {
	return &RedactWriter{
		w:          w,
		patterns:   defaultPatterns,
		redactWith: "[REDACTED]",
	}
}

// Write applies all redaction patterns before forwarding to the underlying writer.
func (r *RedactWriter) Write(p []byte) (int, error) {
	sanitized := p
	for _, re := range r.patterns {
		sanitized = re.ReplaceAll(sanitized, appendRedacted(re, r.redactWith))
	}
	n, err := r.w.Write(sanitized)
	// Return original length so callers don't get short-write errors
	// even if redaction changed the byte count.
	if n > len(sanitized) {
		n = len(sanitized)
	}
	if err != nil {
		return n, err
	}
	return len(p), nil
}

// appendRedacted builds a replacement []byte that keeps capture group $1 + redactWith.
func appendRedacted(re *regexp.Regexp, redact string) []byte {
	// All our patterns have exactly one capture group for the key/prefix.
	var buf bytes.Buffer
	buf.WriteString("${1}")
	buf.WriteString(redact)
	return buf.Bytes()
}
