// Package model defines data structures for the tracking core.
package model

import (
	"time"
)

// Interaction is one event as presented in a conversation log.
type Interaction struct {
	ID             string         `json:"id"`
	Timestamp      time.Time      `json:"timestamp"`
	Type           EventType      `json:"type"`
	Role           Role           `json:"role"`
	Content        string         `json:"content"`
	Metadata       *EventMetadata `json:"metadata,omitempty"`
	Context        *EventContext  `json:"context,omitempty"`
	ResponseTimeMs *int64         `json:"responseTime,omitempty"`
	TokensUsed     *int           `json:"tokensUsed,omitempty"`
	Model          string         `json:"model,omitempty"`
	Provider       string         `json:"provider,omitempty"`
	Cost           *float64       `json:"cost,omitempty"`
}

// ConversationLog is the chronological reconstruction of a session.
type ConversationLog struct {
	SessionID         string         `json:"sessionId"`
	UserID            string         `json:"userId,omitempty"`
	StartTime         time.Time      `json:"startTime"`
	EndTime           time.Time      `json:"endTime"`
	TotalInteractions int            `json:"totalInteractions"`
	Interactions      []Interaction  `json:"interactions"`
	Metrics           SessionMetrics `json:"metrics"`
}

// ConversationSummary is a list entry for a session.
type ConversationSummary struct {
	SessionID         string    `json:"sessionId"`
	UserID            string    `json:"userId,omitempty"`
	StartTime         time.Time `json:"startTime"`
	EndTime           time.Time `json:"endTime"`
	TotalInteractions int       `json:"totalInteractions"`
	LastInteraction   time.Time `json:"lastInteraction"`
	Preview           string    `json:"preview"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []ConversationSummary `json:"conversations"`
	Pagination    Pagination            `json:"pagination"`
}

// Pagination echoes the paging parameters of a list response.
type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Total  int `json:"total"`
}

// PreviewLength is the number of characters kept in a conversation preview.
const PreviewLength = 100

// NoUserMessagesPreview is the preview of a session without user messages.
const NoUserMessagesPreview = "No user messages"

// Preview truncates content to PreviewLength characters, appending "..." when cut.
func Preview(content string) string {
	runes := []rune(content)
	if len(runes) <= PreviewLength {
		return content
	}
	return string(runes[:PreviewLength]) + "..."
}
