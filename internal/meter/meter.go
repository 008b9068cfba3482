// Package meter converts token counts into provider cost and customer
// price, and keeps the append-only usage event log plus the running
// per-project aggregate in sync.
package meter

import (
	"math"

	"agentworks/internal/catalog"
)

// charsPerToken is a deliberate approximation (not an exact tokenizer).
// Real provider tokenizers will diverge from it, which is a known source
// of billing drift; replacing it with provider-side counts is a product
// decision, not a code fix.
const charsPerToken = 4

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type Cost struct {
	ProviderCost  float64 `json:"provider_cost"`
	CustomerPrice float64 `json:"customer_price"`
	Margin        float64 `json:"margin"`
}

// Pricing is the markup rule converting provider cost to customer price.
type Pricing struct {
	Markup    float64 `json:"markup" yaml:"markup"`
	Increment float64 `json:"increment" yaml:"increment"`
}

// DefaultPricing is a 5x markup rounded up to the nearest $0.25.
func DefaultPricing() Pricing {
	return Pricing{Markup: 5, Increment: 0.25}
}

// EstimateTokens approximates the token count of text at 4 characters
// per token, rounded up.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}

func ComputeUsage(prompt, response string) Usage {
	in := EstimateTokens(prompt)
	out := EstimateTokens(response)
	return Usage{InputTokens: in, OutputTokens: out, TotalTokens: in + out}
}

// ProviderCost is the vendor-side USD cost of a call.
func ProviderCost(u Usage, p catalog.Provider) float64 {
	return float64(u.InputTokens)/1000*p.CostPer1K.Input +
		float64(u.OutputTokens)/1000*p.CostPer1K.Output
}

// Price applies the markup and rounds UP to the nearest increment. Very
// cheap calls are over-charged to the increment floor on purpose; the
// platform never bills below one increment for a non-free call.
func (p Pricing) Price(providerCost float64) float64 {
	if providerCost <= 0 {
		return 0
	}
	markup := p.Markup
	if markup < 1 {
		markup = 1
	}
	increment := p.Increment
	if increment <= 0 {
		return providerCost * markup
	}
	return math.Ceil(providerCost*markup/increment) * increment
}

// Cost computes the full cost breakdown for a call.
func (p Pricing) Cost(u Usage, provider catalog.Provider) Cost {
	pc := ProviderCost(u, provider)
	price := p.Price(pc)
	return Cost{ProviderCost: pc, CustomerPrice: price, Margin: price - pc}
}
