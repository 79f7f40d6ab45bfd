// Package judges runs small, single-shot LLM calls that score a piece of
// dreaming output against one narrow question — does this content contain
// PII, is this resolution significant, does it belong in the project or in
// global preferences, does it actually cover the issue it claims to fix.
// Each judge is a plain function: no shared base type, no scorer hierarchy.
package judges

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/soft-beds-inc/good-night/internal/agentrt"
)

// maxInputLength is the truncation point applied to any judge input that
// could plausibly carry full conversation content.
const maxInputLength = 8000

// PIIResult is the outcome of a PII/secret scan over a piece of content.
type PIIResult struct {
	HasPII      bool     `json:"has_pii"`
	PIITypes    []string `json:"pii_types"`
	Severity    string   `json:"severity"`
	Explanation string   `json:"explanation"`
}

// SignificanceResult is the outcome of judging whether a resolution is
// significant enough to matter.
type SignificanceResult struct {
	IsSignificant     bool    `json:"is_significant"`
	SignificanceScore float64 `json:"significance_score"`
	Rationale         string  `json:"rationale"`
}

// LocalVsGlobalResult is the outcome of judging whether a resolution
// belongs to a specific project or to universal preferences.
type LocalVsGlobalResult struct {
	ShouldBeLocal bool    `json:"should_be_local"`
	Confidence    float64 `json:"confidence"`
	Rationale     string  `json:"rationale"`
}

// ApplicabilityResult is the outcome of judging whether a resolution
// actually addresses the issue it was generated for.
type ApplicabilityResult struct {
	IsApplicable  bool     `json:"is_applicable"`
	CoverageScore float64  `json:"coverage_score"`
	Gaps          []string `json:"gaps"`
	Rationale     string   `json:"rationale"`
}

func truncate(content string, maxLen int) string {
	r := []rune(content)
	if len(r) > maxLen {
		return string(r[:maxLen]) + "..."
	}
	return content
}

// callJudgeLLM makes a single non-tool-calling completion call. Judges never
// need multi-turn tool use, so this bypasses agentrt.Run entirely.
func callJudgeLLM(ctx context.Context, provider agentrt.Provider, prompt string, maxTokens int) (string, error) {
	resp, err := provider.Query(ctx, &agentrt.Request{
		Model:     provider.DefaultModel(),
		Messages:  []agentrt.Message{{Role: "user", Content: prompt}},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// parseJudgeJSON strips a markdown JSON code fence if present and unmarshals
// into out. Any failure leaves out untouched — callers pre-populate out with
// their default before calling this, mirroring _parse_json's default-on-error
// behavior.
func parseJudgeJSON(text string, out any) error {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return json.Unmarshal([]byte(strings.TrimSpace(text)), out)
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// DetectPII scans content for PII or secrets. Empty content short-circuits
// without a provider call.
func DetectPII(ctx context.Context, provider agentrt.Provider, content string) PIIResult {
	result := PIIResult{Severity: "low", PIITypes: []string{}, Explanation: "Error"}
	if strings.TrimSpace(content) == "" {
		result.Explanation = "Empty content"
		return result
	}

	prompt := fmt.Sprintf(`Analyze for PII/secrets:
---
%s
---
Check for: API keys, passwords, emails, phones, addresses, SSN, credit cards, connection strings.
Severity: high (secrets, SSN), medium (contact info), low (uncertain).
Respond ONLY with JSON: {"has_pii": bool, "pii_types": [], "severity": "low|medium|high", "explanation": "..."}`,
		truncate(content, maxInputLength))

	text, err := callJudgeLLM(ctx, provider, prompt, 500)
	if err != nil {
		result.Explanation = err.Error()
		return result
	}
	if err := parseJudgeJSON(text, &result); err != nil {
		result.Explanation = err.Error()
	}
	return result
}

// JudgeSignificance scores how significant a resolution is relative to the
// issue it addresses. An empty resolution description short-circuits
// without a provider call.
func JudgeSignificance(ctx context.Context, provider agentrt.Provider, resolutionDescription, issueDescription, evidence string) SignificanceResult {
	result := SignificanceResult{Rationale: "Error"}
	if resolutionDescription == "" {
		result.Rationale = "No resolution provided"
		return result
	}

	evidenceText := "None"
	if evidence != "" {
		evidenceText = truncate(evidence, 2000)
	}
	prompt := fmt.Sprintf(`Evaluate resolution significance:
ISSUE: %s
RESOLUTION: %s
EVIDENCE: %s
Score 0-1: 0-0.3 trivial, 0.4-0.6 moderate, 0.7-0.85 significant, 0.86-1.0 highly significant.
Respond ONLY with JSON: {"is_significant": bool, "significance_score": 0.0-1.0, "rationale": "..."}`,
		truncate(issueDescription, 3000), truncate(resolutionDescription, 3000), evidenceText)

	text, err := callJudgeLLM(ctx, provider, prompt, 500)
	if err != nil {
		result.Rationale = err.Error()
		return result
	}
	if err := parseJudgeJSON(text, &result); err != nil {
		result.Rationale = err.Error()
		return result
	}
	result.SignificanceScore = clamp01(result.SignificanceScore)
	result.IsSignificant = result.SignificanceScore >= 0.5
	return result
}

// JudgeLocalVsGlobal determines whether a resolution should live in a
// project-local artifact or a global preference. Both descriptions empty
// short-circuits without a provider call.
func JudgeLocalVsGlobal(ctx context.Context, provider agentrt.Provider, issueDescription, resolutionDescription, workingDirectory, projectContext string) LocalVsGlobalResult {
	result := LocalVsGlobalResult{Confidence: 0.5, Rationale: "Error"}
	if issueDescription == "" && resolutionDescription == "" {
		result.Rationale = "Insufficient info"
		return result
	}

	path := workingDirectory
	if path == "" {
		path = "Not specified"
	}
	prompt := fmt.Sprintf(`Determine if LOCAL (project-specific) or GLOBAL (universal):
ISSUE: %s
RESOLUTION: %s
PATH: %s
LOCAL: project tech stack, specific files, project conventions.
GLOBAL: universal preferences, general best practices, AI behavior.
Respond ONLY with JSON: {"should_be_local": bool, "confidence": 0.0-1.0, "rationale": "..."}`,
		truncate(issueDescription, 2500), truncate(resolutionDescription, 2500), path)

	text, err := callJudgeLLM(ctx, provider, prompt, 400)
	if err != nil {
		result.Rationale = err.Error()
		return result
	}
	if err := parseJudgeJSON(text, &result); err != nil {
		result.Rationale = err.Error()
		return result
	}
	result.Confidence = clamp01(result.Confidence)
	return result
}

// JudgeApplicability scores whether a resolution's content actually
// addresses the issue it was generated for. Empty title+description or an
// empty resolutionContent short-circuits without a provider call.
func JudgeApplicability(ctx context.Context, provider agentrt.Provider, issueTitle, issueDescription string, resolutionContent map[string]any, resolutionType string) ApplicabilityResult {
	result := ApplicabilityResult{Gaps: []string{}, Rationale: "Error"}
	if issueTitle == "" && issueDescription == "" {
		result.Rationale = "No issue provided"
		return result
	}
	if len(resolutionContent) == 0 {
		result.Rationale = "No resolution provided"
		return result
	}

	resBytes, err := json.Marshal(resolutionContent)
	resStr := ""
	if err == nil {
		resStr = truncate(string(resBytes), 4000)
	}
	resType := resolutionType
	if resType == "" {
		resType = "unspecified"
	}
	prompt := fmt.Sprintf(`Evaluate if resolution addresses the issue:
ISSUE: %s - %s
TYPE: %s
RESOLUTION: %s
Score 0-1 coverage, list gaps.
Respond ONLY with JSON: {"is_applicable": bool, "coverage_score": 0.0-1.0, "gaps": [], "rationale": "..."}`,
		issueTitle, truncate(issueDescription, 2000), resType, resStr)

	text, callErr := callJudgeLLM(ctx, provider, prompt, 600)
	if callErr != nil {
		result.Rationale = callErr.Error()
		return result
	}
	if err := parseJudgeJSON(text, &result); err != nil {
		result.Rationale = err.Error()
		result.Gaps = []string{}
		return result
	}
	result.CoverageScore = clamp01(result.CoverageScore)
	result.IsApplicable = result.CoverageScore >= 0.5
	if result.Gaps == nil {
		result.Gaps = []string{}
	}
	return result
}
