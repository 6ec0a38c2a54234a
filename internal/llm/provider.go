// Package llm provides the provider adapter that sends messages to an LLM
// backend and normalizes its replies.
package llm

import (
	"context"
	"fmt"

	"github.com/capitalize-ai/agentwatch/internal/model"
)

// SendOptions carries the conversation context of a single call.
type SendOptions struct {
	Model string
	// ConversationHistory alternates user and assistant turns.
	ConversationHistory []string
	SystemPrompt        string
	Temperature         *float64
	MaxTokens           *int
}

// Response is a normalized provider reply.
type Response struct {
	Content        string  `json:"content"`
	Model          string  `json:"model"`
	Provider       string  `json:"provider"`
	TokensUsed     int     `json:"tokensUsed"`
	ResponseTimeMs int64   `json:"responseTime"`
	Cost           float64 `json:"cost"`
	FinishReason   string  `json:"finishReason,omitempty"`
	RequestID      string  `json:"requestId,omitempty"`
}

// Capabilities describes what a provider supports.
type Capabilities struct {
	Streaming       bool            `json:"streaming"`
	FunctionCalling bool            `json:"functionCalling"`
	Vision          bool            `json:"vision"`
	MaxTokens       int             `json:"maxTokens"`
	Models          []string        `json:"models"`
	CostTable       model.CostTable `json:"costTable"`
}

// Provider is the interface for LLM backends.
type Provider interface {
	// SendMessage sends text with its context and returns the normalized reply.
	SendMessage(ctx context.Context, text string, opts SendOptions) (*Response, error)

	// Models returns available models. It never fails; a static list is
	// returned when the backend cannot be reached.
	Models(ctx context.Context) []string

	Capabilities(ctx context.Context) Capabilities

	// TestConnection reports whether the backend is reachable.
	TestConnection(ctx context.Context) bool

	// Name returns the provider name.
	Name() string

	// Endpoint returns the backend base URL.
	Endpoint() string
}

// ProviderError wraps a failed backend call with the operation and endpoint.
type ProviderError struct {
	Op         string
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Op, e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Endpoint, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// HistoryMessages converts alternating history entries into user/assistant
// pairs. An unpaired trailing entry is dropped.
func HistoryMessages(history []string) []model.ChatMessage {
	messages := make([]model.ChatMessage, 0, len(history))
	for i := 0; i+1 < len(history); i += 2 {
		messages = append(messages,
			model.ChatMessage{Role: string(model.RoleUser), Content: history[i]},
			model.ChatMessage{Role: string(model.RoleAssistant), Content: history[i+1]},
		)
	}
	return messages
}
