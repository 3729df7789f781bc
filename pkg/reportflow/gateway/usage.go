package gateway

import (
	"sort"
	"strings"
)

// Usage tracks token consumption and spend for one or more model calls.
type Usage struct {
	InputTokens      int     `json:"input_tokens"`
	OutputTokens     int     `json:"output_tokens"`
	CacheReadTokens  int     `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens int     `json:"cache_write_tokens,omitempty"`
	CostUSD          float64 `json:"cost_usd"`
	Calls            int     `json:"calls"`
}

// Add accumulates other into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheReadTokens += other.CacheReadTokens
	u.CacheWriteTokens += other.CacheWriteTokens
	u.CostUSD += other.CostUSD
	u.Calls += other.Calls
}

// TotalTokens returns every token counted, cached or not.
func (u Usage) TotalTokens() int {
	return u.InputTokens + u.OutputTokens + u.CacheReadTokens + u.CacheWriteTokens
}

// IsZero reports whether no tokens or calls were recorded.
func (u Usage) IsZero() bool {
	return u == Usage{}
}

// Pricing is a model's price in US dollars per million tokens.
type Pricing struct {
	InputPerMTok      float64 `json:"input_per_mtok" yaml:"input_per_mtok"`
	OutputPerMTok     float64 `json:"output_per_mtok" yaml:"output_per_mtok"`
	CacheReadPerMTok  float64 `json:"cache_read_per_mtok" yaml:"cache_read_per_mtok"`
	CacheWritePerMTok float64 `json:"cache_write_per_mtok" yaml:"cache_write_per_mtok"`
}

// Cost returns the spend for u at these prices.
func (p Pricing) Cost(u Usage) float64 {
	const mtok = 1_000_000.0
	return (float64(u.InputTokens)*p.InputPerMTok +
		float64(u.OutputTokens)*p.OutputPerMTok +
		float64(u.CacheReadTokens)*p.CacheReadPerMTok +
		float64(u.CacheWriteTokens)*p.CacheWritePerMTok) / mtok
}

// PriceTable maps model name prefixes to prices.
type PriceTable map[string]Pricing

// For returns the pricing whose key is the longest prefix of model.
func (t PriceTable) For(model string) (Pricing, bool) {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })

	for _, k := range keys {
		if strings.HasPrefix(model, k) {
			return t[k], true
		}
	}
	return Pricing{}, false
}

// DefaultPricing holds list prices for the models the transports support.
// Unknown models are priced at zero.
var DefaultPricing = PriceTable{
	"claude-opus-4":     {InputPerMTok: 15, OutputPerMTok: 75, CacheReadPerMTok: 1.5, CacheWritePerMTok: 18.75},
	"claude-sonnet-4":   {InputPerMTok: 3, OutputPerMTok: 15, CacheReadPerMTok: 0.3, CacheWritePerMTok: 3.75},
	"claude-haiku-4":    {InputPerMTok: 1, OutputPerMTok: 5, CacheReadPerMTok: 0.1, CacheWritePerMTok: 1.25},
	"claude-3-5-haiku":  {InputPerMTok: 0.8, OutputPerMTok: 4, CacheReadPerMTok: 0.08, CacheWritePerMTok: 1},
	"claude-3-7-sonnet": {InputPerMTok: 3, OutputPerMTok: 15, CacheReadPerMTok: 0.3, CacheWritePerMTok: 3.75},
	"gpt-4o":            {InputPerMTok: 2.5, OutputPerMTok: 10, CacheReadPerMTok: 1.25},
	"gpt-4o-mini":       {InputPerMTok: 0.15, OutputPerMTok: 0.6, CacheReadPerMTok: 0.075},
}
