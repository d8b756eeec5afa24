// Package logging provides helpers to scrub sensitive data (credentials,
// API keys, phone-number PII) from anything that reaches a log line.
package logging

import (
	"regexp"
)

const (
	// MaxMessageLogLength is the maximum length of user text to log
	MaxMessageLogLength = 120
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
	// MaskedPhone is the replacement text for phone numbers
	MaskedPhone = "***-***-****"
)

var (
	// Pattern to match potential passwords in connection strings
	// Matches: password=xxx, pwd=xxx, pass=xxx (until next delimiter)
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// Pattern to match potential API keys
	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|key)=[A-Za-z0-9-_]{20,}`)

	// Pattern to match connection string credentials (user:pass@host format)
	connStringPattern = regexp.MustCompile(`://[^:]+:[^@]+@[^/\s]+`)

	// Pattern to match US-style phone numbers (ddd[sep]ddd[sep]dddd)
	phonePattern = regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`)
)

// SanitizeConnectionString removes sensitive data from connection strings.
// Use this before logging any connection string.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}

	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)

	return sanitized
}

// SanitizeError sanitizes error messages that might contain sensitive data.
// Use this before logging any error from database or provider operations.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	errStr := err.Error()

	sanitized := passwordPattern.ReplaceAllString(errStr, "${1}="+RedactedText)
	sanitized = apiKeyPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
	sanitized = phonePattern.ReplaceAllString(sanitized, MaskedPhone)

	return sanitized
}

// SanitizeText masks phone-number PII in free text. Use this before logging
// any user-supplied message content.
func SanitizeText(text string) string {
	if text == "" {
		return ""
	}
	return phonePattern.ReplaceAllString(text, MaskedPhone)
}

// TruncateString truncates a string to maxLen and adds ellipsis if needed
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
