package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// thinkTagPattern matches a leading <think>...</think> block that reasoning
// models emit before the payload.
var thinkTagPattern = regexp.MustCompile(`(?s)^[\s]*<think>.*?</think>[\s]*`)

// ExtractJSON pulls the first JSON document out of a model response that may
// be wrapped in think tags or surrounded by prose. Whichever of '{' or '['
// appears first decides whether an object or array is extracted.
func ExtractJSON(response string) (string, error) {
	cleaned := thinkTagPattern.ReplaceAllString(response, "")

	objStart := strings.IndexByte(cleaned, '{')
	arrStart := strings.IndexByte(cleaned, '[')

	if objStart >= 0 && (arrStart < 0 || objStart < arrStart) {
		if doc, ok := balancedSlice(cleaned, '{', '}'); ok && json.Valid([]byte(doc)) {
			return doc, nil
		}
	}
	if arrStart >= 0 {
		if doc, ok := balancedSlice(cleaned, '[', ']'); ok && json.Valid([]byte(doc)) {
			return doc, nil
		}
	}

	// Last resort: the whole cleaned response may itself be the document.
	trimmed := strings.TrimSpace(cleaned)
	if json.Valid([]byte(trimmed)) {
		return trimmed, nil
	}

	return "", fmt.Errorf("no valid JSON found in response")
}

// balancedSlice returns the first balanced bracket structure opened by openChar.
// String literals and escape sequences are skipped so brackets inside values
// do not affect the depth count.
func balancedSlice(s string, openChar, closeChar byte) (string, bool) {
	start := strings.IndexByte(s, openChar)
	if start == -1 {
		return "", false
	}

	var (
		depth    int
		inString bool
		escaped  bool
	)
	for i := start; i < len(s); i++ {
		c := s[i]

		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == openChar:
			depth++
		case c == closeChar:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// ParseJSONResponse extracts a JSON document from a model response and
// unmarshals it into T.
func ParseJSONResponse[T any](response string) (T, error) {
	var result T

	doc, err := ExtractJSON(response)
	if err != nil {
		return result, err
	}
	if err := json.Unmarshal([]byte(doc), &result); err != nil {
		return result, fmt.Errorf("unmarshal JSON: %w", err)
	}
	return result, nil
}
