package llm

// ModelPrice is per-million-token pricing for one model.
type ModelPrice struct {
	InputPer1M  float64 `mapstructure:"input_per_1m" json:"input_per_1m"`
	OutputPer1M float64 `mapstructure:"output_per_1m" json:"output_per_1m"`
	// CachedPer1M prices cache-read input tokens when the vendor discounts
	// them; zero means cached tokens bill at the normal input rate.
	CachedPer1M float64 `mapstructure:"cached_per_1m" json:"cached_per_1m"`
}

// Pricing maps model IDs to their token prices.
type Pricing map[string]ModelPrice

// Cost computes the USD cost of a completion. Unknown models cost zero; the
// budget tracker still counts their tokens.
func (p Pricing) Cost(model string, inputTokens, outputTokens, cachedTokens int) float64 {
	price, ok := p[model]
	if !ok {
		return 0
	}
	fresh := inputTokens - cachedTokens
	if fresh < 0 {
		fresh = 0
	}
	cost := float64(fresh) / 1e6 * price.InputPer1M
	if cachedTokens > 0 {
		cachedRate := price.CachedPer1M
		if cachedRate == 0 {
			cachedRate = price.InputPer1M
		}
		cost += float64(cachedTokens) / 1e6 * cachedRate
	}
	cost += float64(outputTokens) / 1e6 * price.OutputPer1M
	return cost
}
