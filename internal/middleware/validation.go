package middleware

import (
	"errors"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/capitalize-ai/agentwatch/internal/model"
)

const (
	maxContentLength = 100000
	maxIDLength      = 128
	maxNameLength    = 256
)

// ValidateMessageContent validates message content.
func ValidateMessageContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return errors.New("message is required")
	}
	if len(content) > maxContentLength {
		return errors.New("message exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("message must be valid UTF-8")
	}
	return nil
}

// ValidateSessionID validates a caller-supplied session id. Empty is allowed
// and means a new session.
func ValidateSessionID(id string) error {
	return validateOpaqueID("session ID", id)
}

// ValidateUserID validates a caller-supplied user id. Empty is allowed.
func ValidateUserID(id string) error {
	return validateOpaqueID("user ID", id)
}

func validateOpaqueID(what, id string) error {
	if len(id) > maxIDLength {
		return errors.New(what + " exceeds maximum length")
	}
	for _, r := range id {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return errors.New("invalid " + what + " format")
		}
	}
	return nil
}

// ValidateChatbotID validates a chatbot configuration id.
func ValidateChatbotID(id string) error {
	if id == model.DefaultChatbotID {
		return nil
	}
	rest, ok := strings.CutPrefix(id, "chatbot_")
	if !ok {
		return errors.New("invalid chatbot ID format")
	}
	if _, err := uuid.Parse(rest); err != nil {
		return errors.New("invalid chatbot ID format")
	}
	return nil
}

// ValidateChatbotName validates a chatbot display name. Empty is left to the
// caller, which knows whether the name is required.
func ValidateChatbotName(name string) error {
	if len(name) > maxNameLength {
		return errors.New("name exceeds maximum length")
	}
	if !utf8.ValidString(name) {
		return errors.New("name must be valid UTF-8")
	}
	return nil
}

// ValidateBackendURL validates an LM Studio base URL. Empty is allowed.
func ValidateBackendURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("lmStudioUrl must be an absolute http(s) URL")
	}
	return nil
}
