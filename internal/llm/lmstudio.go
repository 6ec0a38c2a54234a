package llm

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agentwatch/internal/model"
	"github.com/capitalize-ai/agentwatch/pkg/logger"
	"github.com/capitalize-ai/agentwatch/pkg/metrics"
)

const (
	// LMStudioName is the provider name recorded on events.
	LMStudioName = "lm-studio"

	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1000

	lmStudioMaxTokens = 4096
)

// FallbackModels is returned by Models when the backend cannot list models.
var FallbackModels = []string{
	"llama-2-7b",
	"llama-2-13b",
	"llama-2-70b",
	"codellama-7b",
	"codellama-13b",
}

// LMStudioCostTable returns the per-1K-token cost of local models.
func LMStudioCostTable() model.CostTable {
	return model.CostTable{
		Models: map[string]float64{
			"llama-2-7b":    0.0001,
			"llama-2-13b":   0.0002,
			"llama-2-70b":   0.0007,
			"codellama-7b":  0.0001,
			"codellama-13b": 0.0002,
		},
		Default: 0.0001,
	}
}

// LMStudioProvider talks to the OpenAI-compatible API of a local LM Studio server.
type LMStudioProvider struct {
	client     *openai.Client
	httpClient *http.Client
	endpoint   string
	costs      model.CostTable
	logger     *logger.Logger
}

var _ Provider = (*LMStudioProvider)(nil)

// NewLMStudioProvider creates a provider for endpoint, e.g. http://localhost:1234.
// apiKey may be empty; LM Studio ignores it.
func NewLMStudioProvider(endpoint, apiKey string, log *logger.Logger) *LMStudioProvider {
	if log == nil {
		log = logger.NewNop()
	}
	endpoint = strings.TrimRight(endpoint, "/")

	httpClient := &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}

	config := openai.DefaultConfig(apiKey)
	config.BaseURL = endpoint + "/v1"
	config.HTTPClient = httpClient

	return &LMStudioProvider{
		client:     openai.NewClientWithConfig(config),
		httpClient: httpClient,
		endpoint:   endpoint,
		costs:      LMStudioCostTable(),
		logger:     log.Named("lmstudio"),
	}
}

// Name returns the provider name.
func (p *LMStudioProvider) Name() string {
	return LMStudioName
}

// Endpoint returns the base URL of the server.
func (p *LMStudioProvider) Endpoint() string {
	return p.endpoint
}

func (p *LMStudioProvider) messages(text string, opts SendOptions) []openai.ChatCompletionMessage {
	var out []openai.ChatCompletionMessage
	if opts.SystemPrompt != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: opts.SystemPrompt,
		})
	}
	for _, msg := range HistoryMessages(opts.ConversationHistory) {
		out = append(out, openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content})
	}
	return append(out, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: text,
	})
}

// SendMessage sends a non-streaming chat completion request.
func (p *LMStudioProvider) SendMessage(ctx context.Context, text string, opts SendOptions) (*Response, error) {
	ctx, span := otel.Tracer("agentwatch/llm").Start(ctx, "lmstudio.SendMessage")
	defer span.End()

	temperature := DefaultTemperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	maxTokens := DefaultMaxTokens
	if opts.MaxTokens != nil {
		maxTokens = *opts.MaxTokens
	}

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       opts.Model,
		Messages:    p.messages(text, opts),
		MaxTokens:   maxTokens,
		Temperature: float32(temperature),
		Stream:      false,
	})
	elapsed := time.Since(start)

	if err != nil {
		perr := p.wrap("chat completion", err)
		metrics.RecordProviderCall(LMStudioName, opts.Model, statusLabel(perr.StatusCode), elapsed.Seconds(), 0)
		span.RecordError(perr)
		span.SetStatus(codes.Error, perr.Error())
		p.logger.Warn("chat completion failed",
			zap.Int("status", perr.StatusCode),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return nil, perr
	}

	var content, finishReason string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
		finishReason = string(resp.Choices[0].FinishReason)
	}

	modelName := resp.Model
	if modelName == "" {
		modelName = opts.Model
	}

	tokens := resp.Usage.TotalTokens
	if tokens == 0 {
		tokens = model.EstimateTokens(text + content)
	}

	metrics.RecordProviderCall(LMStudioName, modelName, "200", elapsed.Seconds(), tokens)
	span.SetAttributes(
		attribute.String("llm.model", modelName),
		attribute.Int("llm.tokens", tokens),
	)

	return &Response{
		Content:        content,
		Model:          modelName,
		Provider:       LMStudioName,
		TokensUsed:     tokens,
		ResponseTimeMs: elapsed.Milliseconds(),
		Cost:           p.costs.Cost(tokens, modelName),
		FinishReason:   finishReason,
		RequestID:      resp.ID,
	}, nil
}

// listModels returns the model ids reported by the server.
func (p *LMStudioProvider) listModels(ctx context.Context) ([]string, error) {
	list, err := p.client.ListModels(ctx)
	if err != nil {
		return nil, p.wrap("list models", err)
	}
	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// Models returns the server's models, or FallbackModels if listing fails.
func (p *LMStudioProvider) Models(ctx context.Context) []string {
	ids, err := p.listModels(ctx)
	if err != nil {
		p.logger.Warn("using fallback model list", zap.Error(err))
		return append([]string(nil), FallbackModels...)
	}
	return ids
}

// Capabilities returns what LM Studio supports.
func (p *LMStudioProvider) Capabilities(ctx context.Context) Capabilities {
	return Capabilities{
		Streaming:       true,
		FunctionCalling: false,
		Vision:          false,
		MaxTokens:       lmStudioMaxTokens,
		Models:          p.Models(ctx),
		CostTable:       LMStudioCostTable(),
	}
}

// TestConnection reports whether the model listing endpoint answers.
func (p *LMStudioProvider) TestConnection(ctx context.Context) bool {
	_, err := p.listModels(ctx)
	if err != nil {
		p.logger.Debug("connection test failed", zap.Error(err))
	}
	return err == nil
}

// Close releases idle connections.
func (p *LMStudioProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

func (p *LMStudioProvider) wrap(op string, err error) *ProviderError {
	perr := &ProviderError{Op: op, Endpoint: p.endpoint, Err: err}

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		perr.StatusCode = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		perr.StatusCode = reqErr.HTTPStatusCode
	}
	return perr
}

func statusLabel(code int) string {
	if code == 0 {
		return "unreachable"
	}
	return strconv.Itoa(code)
}
