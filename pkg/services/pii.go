package services

import (
	"regexp"
	"strings"
)

// PIIMatch records one detected identifier and its replacement.
type PIIMatch struct {
	Original string `json:"original"`
	Masked   string `json:"masked"`
	Kind     string `json:"kind"`
	Purpose  string `json:"purpose,omitempty"`
}

// PIIResult is the outcome of a detection pass.
type PIIResult struct {
	MaskedText string
	Matches    []PIIMatch
}

// HasPII reports whether any identifiers were found.
func (r *PIIResult) HasPII() bool {
	return len(r.Matches) > 0
}

// Purpose returns the purpose tag of the first match, if any.
func (r *PIIResult) Purpose() string {
	for _, m := range r.Matches {
		if m.Purpose != "" {
			return m.Purpose
		}
	}
	return ""
}

// phonePattern matches ddd[sep]ddd[sep]dddd phone numbers.
var phonePattern = regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`)

// MaskedPhoneText replaces every detected phone number.
const MaskedPhoneText = "***-***-****"

// purposeKeywords tags why a phone number appears in the message. Checked in
// order; first hit wins.
var purposeKeywords = []struct {
	purpose  string
	keywords []string
}{
	{"urgent", []string{"urgent", "emergency", "alert", "critical"}},
	{"contact", []string{"contact", "call", "reach", "notify"}},
	{"reminder", []string{"reminder", "remind"}},
}

// PIIDetector finds and masks personal identifiers in user text.
// The current policy covers phone numbers.
type PIIDetector struct{}

// NewPIIDetector creates a new PIIDetector.
func NewPIIDetector() *PIIDetector {
	return &PIIDetector{}
}

// Detect masks identifiers in text and tags a purpose from nearby keywords.
func (d *PIIDetector) Detect(text string) *PIIResult {
	found := phonePattern.FindAllString(text, -1)
	if len(found) == 0 {
		return &PIIResult{MaskedText: text}
	}

	purpose := detectPurpose(text)

	matches := make([]PIIMatch, 0, len(found))
	for _, original := range found {
		matches = append(matches, PIIMatch{
			Original: original,
			Masked:   MaskedPhoneText,
			Kind:     "phone",
			Purpose:  purpose,
		})
	}

	return &PIIResult{
		MaskedText: phonePattern.ReplaceAllString(text, MaskedPhoneText),
		Matches:    matches,
	}
}

// AnnotateForMemory appends the purpose tag to masked text destined for a
// memory row, e.g. "... (for urgent)".
func (d *PIIDetector) AnnotateForMemory(maskedText, purpose string) string {
	if purpose == "" {
		return maskedText
	}
	return maskedText + " (for " + purpose + ")"
}

func detectPurpose(text string) string {
	lower := strings.ToLower(text)
	for _, p := range purposeKeywords {
		for _, kw := range p.keywords {
			if strings.Contains(lower, kw) {
				return p.purpose
			}
		}
	}
	return ""
}

// ContainsUnmaskedPhone reports whether text still carries a raw phone
// number. Used to verify replies never leak PII.
func ContainsUnmaskedPhone(text string) bool {
	return phonePattern.MatchString(text)
}
