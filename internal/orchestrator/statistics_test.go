package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/soft-beds-inc/good-night/pkg/model"
)

func TestStatistics_AddAccumulatesAcrossStages(t *testing.T) {
	s := &Statistics{Model: "claude-sonnet-4-20250514"}
	s.Add(model.TokenUsage{InputTokens: 100, OutputTokens: 50})
	s.Add(model.TokenUsage{InputTokens: 25, OutputTokens: 10, CacheCreationTokens: 5, CacheReadTokens: 2})

	assert.Equal(t, 125, s.InputTokens)
	assert.Equal(t, 60, s.OutputTokens)
	assert.Equal(t, 5, s.CacheCreationTokens)
	assert.Equal(t, 2, s.CacheReadTokens)
	assert.Equal(t, 192, s.TotalTokens())
}

func TestStatistics_CostUSD_UsesModelSpecificRateWhenPresent(t *testing.T) {
	s := &Statistics{
		Model: "cheap-model",
		Pricing: map[string]CostRates{
			"cheap-model": {Input: 1, Output: 2},
			"default":     {Input: 100, Output: 200},
		},
		InputTokens:  1_000_000,
		OutputTokens: 1_000_000,
	}
	assert.InDelta(t, 3.0, s.CostUSD(), 1e-9)
}

func TestStatistics_CostUSD_FallsBackToDefaultTierForUnknownModel(t *testing.T) {
	s := &Statistics{
		Model: "some-unlisted-model",
		Pricing: map[string]CostRates{
			"default": {Input: 1, Output: 1},
		},
		InputTokens: 2_000_000,
	}
	assert.InDelta(t, 2.0, s.CostUSD(), 1e-9)
}

func TestStatistics_CostUSD_FallsBackToBuiltinRatesWithNoPricingTableAtAll(t *testing.T) {
	s := &Statistics{Model: "anything", InputTokens: 1_000_000}
	assert.InDelta(t, defaultCostRates.Input, s.CostUSD(), 1e-9)
}

func TestStatistics_CostUSD_CreditsCacheReadsAtDiscountedRate(t *testing.T) {
	s := &Statistics{
		Model: "m",
		Pricing: map[string]CostRates{
			"m": {Input: 10, Output: 0, CacheRead: 1},
		},
		InputTokens:     1_000_000,
		CacheReadTokens: 1_000_000,
	}
	// All of the input volume was served from cache, so only the cache
	// rate applies, not the full input rate on top of it.
	assert.InDelta(t, 1.0, s.CostUSD(), 1e-9)
}

func TestStatistics_ToMap_RoundsCostToFourDecimalPlaces(t *testing.T) {
	s := &Statistics{
		Model:       "m",
		Pricing:     map[string]CostRates{"m": {Input: 3}},
		InputTokens: 1234,
	}
	out := s.ToMap()
	assert.Equal(t, "m", out["model"])
	assert.Equal(t, 1234, out["input_tokens"])
	assert.Equal(t, 0.0037, out["cost_usd"])
}
