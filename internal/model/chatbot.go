package model

import (
	"time"
)

// DefaultChatbotID identifies the chatbot configuration created at startup.
const DefaultChatbotID = "default"

// ChatbotConfig describes one monitored chatbot backend.
type ChatbotConfig struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	LMStudioURL string     `json:"lmStudioUrl"`
	IsActive    bool       `json:"isActive"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastSeen    *time.Time `json:"lastSeen,omitempty"`
}

// ChatbotStatus is a ChatbotConfig plus its tracker state.
type ChatbotStatus struct {
	ChatbotConfig
	HasTracker bool `json:"hasTracker"`
}

// CreateChatbotRequest is the request to register a chatbot.
type CreateChatbotRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	LMStudioURL string `json:"lmStudioUrl"`
	IsActive    *bool  `json:"isActive,omitempty"`
}

// UpdateChatbotRequest is the request to update a chatbot.
type UpdateChatbotRequest struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	LMStudioURL string `json:"lmStudioUrl,omitempty"`
	IsActive    *bool  `json:"isActive,omitempty"`
}
