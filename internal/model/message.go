package model

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ChatMessage is one turn in an OpenAI-compatible messages array.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ProxyChatRequest is the body of POST /api/proxy/chat.
type ProxyChatRequest struct {
	Message   string            `json:"message"`
	SessionID string            `json:"sessionId,omitempty"`
	UserID    string            `json:"userId,omitempty"`
	Context   *ProxyChatContext `json:"context,omitempty"`
}

// ProxyChatContext carries optional generation settings for a proxied chat.
type ProxyChatContext struct {
	SystemPrompt        string   `json:"system_prompt,omitempty"`
	Temperature         *float64 `json:"temperature,omitempty"`
	MaxTokens           *int     `json:"max_tokens,omitempty"`
	Model               string   `json:"model,omitempty"`
	ConversationHistory []string `json:"conversation_history,omitempty"`
}

// ProxyChatResponse is the reply of POST /api/proxy/chat.
type ProxyChatResponse struct {
	Response  string        `json:"response"`
	Status    string        `json:"status"`
	SessionID string        `json:"sessionId"`
	Tracking  ProxyTracking `json:"tracking"`
}

// ProxyTracking reports how a proxied chat was measured.
type ProxyTracking struct {
	ResponseTime int64  `json:"responseTime"`
	TokensUsed   int    `json:"tokensUsed"`
	Model        string `json:"model,omitempty"`
}

// ChatCompletionRequest is the subset of the OpenAI chat completion body the proxy reads.
type ChatCompletionRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []ChatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
	User        string        `json:"user,omitempty"`
}

// ChatCompletionChoice is one choice in a chat completion response.
type ChatCompletionChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// ChatCompletionUsage reports token usage in a chat completion response.
type ChatCompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionResponse is the OpenAI-shaped reply of the /v1/chat/completions proxy.
type ChatCompletionResponse struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Model   string                 `json:"model"`
	Choices []ChatCompletionChoice `json:"choices"`
	Usage   ChatCompletionUsage    `json:"usage"`
}

// ModelObject is one entry of the /v1/models listing.
type ModelObject struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

// ModelList is the OpenAI-shaped reply of /v1/models.
type ModelList struct {
	Object string        `json:"object"`
	Data   []ModelObject `json:"data"`
}

// TestMessageRequest is the body of POST /api/test-message.
type TestMessageRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId,omitempty"`
	UserID    string `json:"userId,omitempty"`
}

// ErrorEvent is sent on the SSE feed when the server fails to read events.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HeartbeatEvent represents a heartbeat event.
type HeartbeatEvent struct {
	Timestamp int64 `json:"timestamp"`
}
