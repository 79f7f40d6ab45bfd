package orchestrator

import "github.com/soft-beds-inc/good-night/pkg/model"

// CostRates are USD-per-million-token prices for one pricing tier. It
// mirrors config.ModelCostRates field-for-field so a config-supplied
// pricing table can be adopted directly, without the cost formula itself
// depending on the config package.
type CostRates struct {
	Input      float64
	Output     float64
	CacheWrite float64
	CacheRead  float64
}

// defaultCostRates is used when a cycle has no configured pricing table at
// all (e.g. a Statistics built outside of Orchestrator.Run in a test).
var defaultCostRates = CostRates{Input: 3.00, Output: 15.00, CacheWrite: 3.75, CacheRead: 0.30}

// Statistics accumulates token usage across every stage of a dreaming
// cycle for a single model, for cost reporting in the cycle result. The
// pricing table is supplied by the caller (config.Config.Pricing, recast
// to map[string]CostRates) rather than hardcoded, so a price change or a
// new model never requires a code change.
//
// CacheCreationTokens and CacheReadTokens are carried for parity with the
// cost formula below but stay at zero in practice: internal/agentrt's
// Usage type does not currently surface cache token counts from the
// provider response, so there is nothing to accumulate into them yet.
type Statistics struct {
	Model               string
	Pricing             map[string]CostRates
	InputTokens         int
	OutputTokens        int
	CacheCreationTokens int
	CacheReadTokens     int
}

// Add accumulates a stage's TokenUsage into the statistics.
func (s *Statistics) Add(u model.TokenUsage) {
	s.InputTokens += u.InputTokens
	s.OutputTokens += u.OutputTokens
	s.CacheCreationTokens += u.CacheCreationTokens
	s.CacheReadTokens += u.CacheReadTokens
}

// TotalTokens is every token counted against this cycle, cached or not.
func (s *Statistics) TotalTokens() int {
	return s.InputTokens + s.OutputTokens + s.CacheCreationTokens + s.CacheReadTokens
}

func (s *Statistics) rates() CostRates {
	if rates, ok := s.Pricing[s.Model]; ok {
		return rates
	}
	if rates, ok := s.Pricing["default"]; ok {
		return rates
	}
	return defaultCostRates
}

// CostUSD prices the accumulated usage against the configured model's
// rates, crediting cache reads at their discounted rate rather than the
// full input rate.
func (s *Statistics) CostUSD() float64 {
	rates := s.rates()
	nonCachedInput := s.InputTokens - s.CacheReadTokens
	if nonCachedInput < 0 {
		nonCachedInput = 0
	}
	return float64(nonCachedInput)/1e6*rates.Input +
		float64(s.OutputTokens)/1e6*rates.Output +
		float64(s.CacheCreationTokens)/1e6*rates.CacheWrite +
		float64(s.CacheReadTokens)/1e6*rates.CacheRead
}

// ToMap renders the statistics for an event payload or result summary,
// rounding cost to four decimal places as the original does.
func (s *Statistics) ToMap() map[string]any {
	cost := float64(int(s.CostUSD()*10000+0.5)) / 10000
	return map[string]any{
		"model":                 s.Model,
		"input_tokens":          s.InputTokens,
		"output_tokens":         s.OutputTokens,
		"cache_creation_tokens": s.CacheCreationTokens,
		"cache_read_tokens":     s.CacheReadTokens,
		"total_tokens":          s.TotalTokens(),
		"cost_usd":              cost,
	}
}
