package logger

import (
	"fmt"
	"regexp"
	"strings"
)

// Sanitizer masks parameter values before they reach the log stream so
// credentials and other secrets never end up in log files. Detection is
// driven by field names appearing in the statement text.
type Sanitizer struct {
	maskValue string
	patterns  []*regexp.Regexp
}

// defaultSensitiveFields are the column and parameter names treated as
// secret when no explicit list is configured.
var defaultSensitiveFields = []string{
	"password", "passwd", "pwd",
	"token", "api_key", "apikey", "api_token",
	"secret", "auth", "authorization",
	"credit_card", "card_number", "cvv", "cvc",
	"ssn", "social_security",
	"private_key", "priv_key",
}

// NewSanitizer creates a sanitizer for the given sensitive field names.
// With an empty list the default set is used.
func NewSanitizer(sensitiveFields []string) *Sanitizer {
	if len(sensitiveFields) == 0 {
		sensitiveFields = defaultSensitiveFields
	}
	patterns := make([]*regexp.Regexp, 0, len(sensitiveFields))
	for _, field := range sensitiveFields {
		patterns = append(patterns, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(field)+`\b`))
	}
	return &Sanitizer{
		maskValue: "***REDACTED***",
		patterns:  patterns,
	}
}

// MaskParams returns a copy of params with values masked when the statement
// references a sensitive field. The original slice is never modified.
// Parameter positions cannot be matched to columns without parsing the
// statement, so all values are masked once a sensitive field is present.
func (s *Sanitizer) MaskParams(sql string, params []any) []any {
	if len(params) == 0 || !s.mentionsSensitiveField(sql) {
		return params
	}
	masked := make([]any, len(params))
	for i := range params {
		masked[i] = s.maskValue
	}
	return masked
}

func (s *Sanitizer) mentionsSensitiveField(sql string) bool {
	lowered := strings.ToLower(sql)
	for _, pattern := range s.patterns {
		if pattern.MatchString(lowered) {
			return true
		}
	}
	return false
}

// FormatParams converts parameters to a compact string for logging.
// Call MaskParams first so secrets are already gone.
func (s *Sanitizer) FormatParams(params []any) string {
	if len(params) == 0 {
		return "[]"
	}
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = formatValue(p)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// formatValue renders one value, truncating anything unreasonably long.
func formatValue(v any) string {
	if v == nil {
		return "NULL"
	}
	str := fmt.Sprintf("%v", v)
	const maxLen = 100
	if len(str) > maxLen {
		return str[:maxLen] + "..."
	}
	return str
}
