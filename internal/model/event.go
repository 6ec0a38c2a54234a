package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventType represents the kind of tracked interaction.
type EventType string

const (
	EventTypeUserMessage       EventType = "user_message"
	EventTypeLLMResponse       EventType = "llm_response"
	EventTypeSystemInstruction EventType = "system_instruction"
	EventTypeError             EventType = "error"
	EventTypeSessionStart      EventType = "session_start"
	EventTypeSessionEnd        EventType = "session_end"
	EventTypeModelChange       EventType = "model_change"
	EventTypeProviderChange    EventType = "provider_change"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventTypeUserMessage, EventTypeLLMResponse, EventTypeSystemInstruction, EventTypeError,
		EventTypeSessionStart, EventTypeSessionEnd, EventTypeModelChange, EventTypeProviderChange:
		return true
	}
	return false
}

// IsMessage reports whether the event counts towards a session's message total.
func (t EventType) IsMessage() bool {
	return t == EventTypeUserMessage || t == EventTypeLLMResponse
}

// Role returns the role implied by the event type.
func (t EventType) Role() Role {
	switch t {
	case EventTypeUserMessage:
		return RoleUser
	case EventTypeLLMResponse:
		return RoleAssistant
	default:
		return RoleSystem
	}
}

// EventContext is the conversation snapshot captured when the event was created.
type EventContext struct {
	ConversationHistory []string `json:"conversation_history"`
	SystemPrompt        string   `json:"system_prompt,omitempty"`
	Temperature         *float64 `json:"temperature,omitempty"`
	MaxTokens           *int     `json:"max_tokens,omitempty"`
}

// EventMetadata carries technical details about the interaction.
// Extra is an open bag for forward compatibility; metric computation never reads it.
type EventMetadata struct {
	APIEndpoint  string         `json:"api_endpoint,omitempty"`
	RequestID    string         `json:"request_id,omitempty"`
	Error        string         `json:"error,omitempty"`
	Cost         *float64       `json:"cost,omitempty"`
	Latency      *int64         `json:"latency,omitempty"`
	FinishReason string         `json:"finish_reason,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// Event is an immutable record of one tracked interaction.
type Event struct {
	// Identity
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`

	Type    EventType `json:"event_type"`
	Content string    `json:"content"`

	// LLM response fields
	Model          string `json:"model,omitempty"`
	Provider       string `json:"provider,omitempty"`
	TokensUsed     *int   `json:"tokens_used,omitempty"`
	ResponseTimeMs *int64 `json:"response_time,omitempty"`

	Context  *EventContext  `json:"context,omitempty"`
	Metadata *EventMetadata `json:"metadata,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Role returns the role of the event, which is fixed by its type.
func (e *Event) Role() Role {
	return e.Type.Role()
}

// Tokens returns the tokens consumed, or 0 if absent.
func (e *Event) Tokens() int {
	if e.TokensUsed == nil {
		return 0
	}
	return *e.TokensUsed
}

// Cost returns the computed cost from metadata, or 0 if absent.
func (e *Event) Cost() float64 {
	if e.Metadata == nil || e.Metadata.Cost == nil {
		return 0
	}
	return *e.Metadata.Cost
}

// MarshalJSON includes the derived role.
func (e Event) MarshalJSON() ([]byte, error) {
	type alias Event
	return json.Marshal(struct {
		alias
		Role Role `json:"role"`
	}{alias: alias(e), Role: e.Role()})
}

// Clone returns a deep copy of the event.
func (e *Event) Clone() *Event {
	c := *e
	if e.TokensUsed != nil {
		v := *e.TokensUsed
		c.TokensUsed = &v
	}
	if e.ResponseTimeMs != nil {
		v := *e.ResponseTimeMs
		c.ResponseTimeMs = &v
	}
	if e.Context != nil {
		ctx := *e.Context
		ctx.ConversationHistory = append([]string(nil), e.Context.ConversationHistory...)
		if e.Context.Temperature != nil {
			v := *e.Context.Temperature
			ctx.Temperature = &v
		}
		if e.Context.MaxTokens != nil {
			v := *e.Context.MaxTokens
			ctx.MaxTokens = &v
		}
		c.Context = &ctx
	}
	if e.Metadata != nil {
		md := *e.Metadata
		if e.Metadata.Cost != nil {
			v := *e.Metadata.Cost
			md.Cost = &v
		}
		if e.Metadata.Latency != nil {
			v := *e.Metadata.Latency
			md.Latency = &v
		}
		if e.Metadata.Extra != nil {
			md.Extra = make(map[string]any, len(e.Metadata.Extra))
			for k, v := range e.Metadata.Extra {
				md.Extra[k] = v
			}
		}
		c.Metadata = &md
	}
	return &c
}

// ErrValidation is matched by every ValidationError.
var ErrValidation = errors.New("validation failed")

// ValidationError reports an event missing a required field.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("event %s is required", e.Field)
}

// Is lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Validate checks the fields every stored event must carry.
func (e *Event) Validate() error {
	switch {
	case e.ID == "":
		return &ValidationError{Field: "id"}
	case e.SessionID == "":
		return &ValidationError{Field: "session_id"}
	case e.Content == "":
		return &ValidationError{Field: "content"}
	case e.Timestamp.IsZero():
		return &ValidationError{Field: "timestamp"}
	}
	return nil
}
