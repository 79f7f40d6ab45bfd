package judges

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/soft-beds-inc/good-night/internal/agentrt"
)

type scriptedProvider struct {
	text string
	err  error
}

func (p *scriptedProvider) Name() string         { return "fake" }
func (p *scriptedProvider) DefaultModel() string { return "fake-model" }
func (p *scriptedProvider) Query(ctx context.Context, req *agentrt.Request) (*agentrt.Response, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &agentrt.Response{Content: p.text, StopReason: agentrt.StopEndTurn}, nil
}

func TestDetectPII_EmptyContentShortCircuits(t *testing.T) {
	result := DetectPII(context.Background(), &scriptedProvider{err: errors.New("should not be called")}, "   ")
	assert.False(t, result.HasPII)
	assert.Equal(t, "Empty content", result.Explanation)
}

func TestDetectPII_ParsesJSON(t *testing.T) {
	provider := &scriptedProvider{text: `{"has_pii": true, "pii_types": ["email"], "severity": "medium", "explanation": "found an email"}`}
	result := DetectPII(context.Background(), provider, "contact me at a@b.com")
	assert.True(t, result.HasPII)
	assert.Equal(t, []string{"email"}, result.PIITypes)
	assert.Equal(t, "medium", result.Severity)
}

func TestDetectPII_StripsMarkdownCodeFence(t *testing.T) {
	provider := &scriptedProvider{text: "```json\n{\"has_pii\": false, \"pii_types\": [], \"severity\": \"low\", \"explanation\": \"clean\"}\n```"}
	result := DetectPII(context.Background(), provider, "hello")
	assert.False(t, result.HasPII)
	assert.Equal(t, "clean", result.Explanation)
}

func TestDetectPII_ProviderErrorDegradesGracefully(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("network down")}
	result := DetectPII(context.Background(), provider, "some content")
	assert.False(t, result.HasPII)
	assert.Equal(t, "network down", result.Explanation)
}

func TestJudgeSignificance_EmptyResolutionShortCircuits(t *testing.T) {
	result := JudgeSignificance(context.Background(), &scriptedProvider{err: errors.New("should not be called")}, "", "an issue", "")
	assert.False(t, result.IsSignificant)
	assert.Equal(t, "No resolution provided", result.Rationale)
}

func TestJudgeSignificance_ClampsAndDerivesBoolean(t *testing.T) {
	provider := &scriptedProvider{text: `{"is_significant": false, "significance_score": 1.5, "rationale": "big fix"}`}
	result := JudgeSignificance(context.Background(), provider, "added caching", "slow requests", "")
	assert.Equal(t, 1.0, result.SignificanceScore)
	assert.True(t, result.IsSignificant)
}

func TestJudgeSignificance_BelowThresholdIsNotSignificant(t *testing.T) {
	provider := &scriptedProvider{text: `{"significance_score": 0.2, "rationale": "minor"}`}
	result := JudgeSignificance(context.Background(), provider, "renamed a variable", "typo", "")
	assert.False(t, result.IsSignificant)
}

func TestJudgeLocalVsGlobal_EmptyInputsShortCircuit(t *testing.T) {
	result := JudgeLocalVsGlobal(context.Background(), &scriptedProvider{err: errors.New("should not be called")}, "", "", "", "")
	assert.Equal(t, "Insufficient info", result.Rationale)
}

func TestJudgeLocalVsGlobal_ParsesAndClampsConfidence(t *testing.T) {
	provider := &scriptedProvider{text: `{"should_be_local": true, "confidence": 2.0, "rationale": "project specific"}`}
	result := JudgeLocalVsGlobal(context.Background(), provider, "uses internal repo conventions", "add CONTRIBUTING.md", "/repo/one", "")
	assert.True(t, result.ShouldBeLocal)
	assert.Equal(t, 1.0, result.Confidence)
}

func TestJudgeApplicability_EmptyIssueShortCircuits(t *testing.T) {
	result := JudgeApplicability(context.Background(), &scriptedProvider{err: errors.New("should not be called")}, "", "", map[string]any{"a": 1}, "skill")
	assert.Equal(t, "No issue provided", result.Rationale)
}

func TestJudgeApplicability_EmptyResolutionShortCircuits(t *testing.T) {
	result := JudgeApplicability(context.Background(), &scriptedProvider{err: errors.New("should not be called")}, "title", "desc", nil, "skill")
	assert.Equal(t, "No resolution provided", result.Rationale)
}

func TestJudgeApplicability_ParsesGapsAndDerivesBoolean(t *testing.T) {
	provider := &scriptedProvider{text: `{"is_applicable": false, "coverage_score": 0.9, "gaps": ["missing edge case"], "rationale": "mostly covers it"}`}
	result := JudgeApplicability(context.Background(), provider, "dark mode", "users want dark mode", map[string]any{"name": "dark-mode-skill"}, "skill")
	assert.True(t, result.IsApplicable)
	assert.Equal(t, []string{"missing edge case"}, result.Gaps)
}

func TestJudgeApplicability_MissingGapsDefaultsToEmptySlice(t *testing.T) {
	provider := &scriptedProvider{text: `{"is_applicable": true, "coverage_score": 0.8, "rationale": "covers it"}`}
	result := JudgeApplicability(context.Background(), provider, "dark mode", "users want dark mode", map[string]any{"name": "dark-mode-skill"}, "skill")
	assert.NotNil(t, result.Gaps)
	assert.Empty(t, result.Gaps)
}

func TestJudgeApplicability_ProviderErrorDegradesGracefully(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("timeout")}
	result := JudgeApplicability(context.Background(), provider, "dark mode", "users want dark mode", map[string]any{"name": "dark-mode-skill"}, "skill")
	assert.False(t, result.IsApplicable)
	assert.Equal(t, "timeout", result.Rationale)
}
