package storage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/agentwatch/internal/model"
)

func TestSanitizeContent(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"card", "pay with 4111 1111 1111 1111 today", "pay with [REDACTED] today"},
		{"card dashes", "4111-1111-1111-1111", "[REDACTED]"},
		{"email", "mail me at jane.doe@example.com", "mail me at [REDACTED]"},
		{"phone", "call 555-123-4567 now", "call [REDACTED] now"},
		{"clean", "what is the capital of France?", "what is the capital of France?"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeContent(tt.in))
		})
	}
}

func TestPrepare_RedactsCopyOnly(t *testing.T) {
	e := ev("1", "s1", model.EventTypeUserMessage, 0)
	e.Content = "my email is a@b.io"
	e.Metadata = &model.EventMetadata{Extra: map[string]any{
		"apiKey": "sk-123",
		"region": "eu",
	}}

	clean, err := Prepare(e)
	require.NoError(t, err)

	assert.Equal(t, "my email is [REDACTED]", clean.Content)
	assert.Equal(t, Redacted, clean.Metadata.Extra["apiKey"])
	assert.Equal(t, "eu", clean.Metadata.Extra["region"])

	assert.Equal(t, "my email is a@b.io", e.Content)
	assert.Equal(t, "sk-123", e.Metadata.Extra["apiKey"])
}

func TestPrepare_RejectsInvalid(t *testing.T) {
	e := ev("1", "", model.EventTypeUserMessage, 0)
	_, err := Prepare(e)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrValidation))

	var verr *model.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "session_id", verr.Field)

	_, err = Prepare(nil)
	assert.True(t, errors.Is(err, model.ErrValidation))
}
