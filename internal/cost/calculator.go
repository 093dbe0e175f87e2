package cost

import "github.com/sells-group/zotero-metadata/internal/model"

// Provider names as used in configuration.
const (
	ProviderAnthropic  = "anthropic"
	ProviderOpenRouter = "openrouter"
	ProviderLocal      = "local"
)

// Rates holds per-provider, per-model pricing.
type Rates map[string]map[string]ModelRate

// ModelRate holds per-model token pricing (USD per million tokens).
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// Tokens is the token count of a single completion call.
type Tokens struct {
	Input      int64
	Output     int64
	CacheWrite int64
	CacheRead  int64
}

// Calculator computes costs for LLM usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Rate returns the pricing for a provider/model pair.
func (c *Calculator) Rate(provider, modelName string) (ModelRate, bool) {
	byModel, ok := c.rates[provider]
	if !ok {
		return ModelRate{}, false
	}
	rate, ok := byModel[modelName]
	return rate, ok
}

// Cost computes the USD cost of one call. Unknown models cost 0.
func (c *Calculator) Cost(provider, modelName string, t Tokens) float64 {
	rate, ok := c.Rate(provider, modelName)
	if !ok {
		return 0
	}

	inCost := (float64(t.Input) / 1e6) * rate.Input
	outCost := (float64(t.Output) / 1e6) * rate.Output
	cwCost := (float64(t.CacheWrite) / 1e6) * rate.Input * rate.CacheWriteMul
	crCost := (float64(t.CacheRead) / 1e6) * rate.Input * rate.CacheReadMul

	return inCost + outCost + cwCost + crCost
}

// Usage converts one call's tokens into a model.Usage with its cost.
func (c *Calculator) Usage(provider, modelName string, t Tokens) model.Usage {
	return model.Usage{
		Calls:        1,
		InputTokens:  t.Input + t.CacheWrite + t.CacheRead,
		OutputTokens: t.Output,
		CostUSD:      c.Cost(provider, modelName, t),
	}
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		ProviderAnthropic: {
			"claude-haiku-4-5-20251001": {
				Input: 0.80, Output: 4.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-3-5-haiku-latest": {
				Input: 1.00, Output: 5.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-sonnet-4-5-20250929": {
				Input: 3.00, Output: 15.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
		},
		ProviderOpenRouter: {
			"deepseek/deepseek-chat": {Input: 0.14, Output: 0.28},
		},
		ProviderLocal: {},
	}
}
