package model

import "math"

// DefaultCostPer1K is the cost bucket for models missing from a cost table.
const DefaultCostPer1K = 0.001

// CharsPerToken is the heuristic used when a backend does not report usage.
const CharsPerToken = 4

// CostPer1KTokens maps model names to their approximate cost per 1K tokens.
var CostPer1KTokens = map[string]float64{
	"gpt-4":           0.03,
	"gpt-4-turbo":     0.01,
	"gpt-3.5-turbo":   0.002,
	"claude-3-opus":   0.015,
	"claude-3-sonnet": 0.003,
	"claude-3-haiku":  0.00025,
	"llama-2-7b":      0.0001,
	"llama-2-13b":     0.0002,
	"llama-2-70b":     0.0007,
}

// CostTable is a model to cost-per-1K-tokens lookup with a default bucket.
type CostTable struct {
	Models  map[string]float64 `json:"models"`
	Default float64            `json:"default"`
}

// DefaultCostTable returns the generic cost table.
func DefaultCostTable() CostTable {
	models := make(map[string]float64, len(CostPer1KTokens))
	for k, v := range CostPer1KTokens {
		models[k] = v
	}
	return CostTable{Models: models, Default: DefaultCostPer1K}
}

// CostPer1K returns the cost per 1K tokens for model, falling back to the default bucket.
func (t CostTable) CostPer1K(model string) float64 {
	if cost, ok := t.Models[model]; ok {
		return cost
	}
	return t.Default
}

// Cost returns (tokens/1000) * CostPer1K(model).
func (t CostTable) Cost(tokens int, model string) float64 {
	return float64(tokens) / 1000 * t.CostPer1K(model)
}

// EstimateTokens approximates a token count as ceil(chars / CharsPerToken).
func EstimateTokens(text string) int {
	n := len([]rune(text))
	return int(math.Ceil(float64(n) / CharsPerToken))
}
