package storage

import (
	"regexp"

	"github.com/capitalize-ai/agentwatch/internal/model"
)

// Redacted replaces sensitive content.
const Redacted = "[REDACTED]"

// Card numbers, email addresses, phone numbers. Order matters: card numbers
// must be redacted before the phone pattern can match a fragment of them.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`),
	regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
	regexp.MustCompile(`\b\d{3}[\s-]?\d{3}[\s-]?\d{4}\b`),
}

var sensitiveKeys = []string{"apiKey", "password", "token", "secret"}

// SanitizeContent redacts card numbers, email addresses and phone numbers.
func SanitizeContent(content string) string {
	for _, p := range sensitivePatterns {
		content = p.ReplaceAllString(content, Redacted)
	}
	return content
}

// sanitizeMetadata redacts sensitive keys of the extra bag in place.
func sanitizeMetadata(md *model.EventMetadata) {
	if md == nil || md.Extra == nil {
		return
	}
	for _, key := range sensitiveKeys {
		if v, ok := md.Extra[key]; ok && v != nil {
			md.Extra[key] = Redacted
		}
	}
}

// Prepare validates event and returns a sanitized deep copy ready to persist.
func Prepare(event *model.Event) (*model.Event, error) {
	if event == nil {
		return nil, &model.ValidationError{Field: "id"}
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	clean := event.Clone()
	clean.Content = SanitizeContent(clean.Content)
	sanitizeMetadata(clean.Metadata)
	return clean, nil
}
