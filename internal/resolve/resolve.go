// Package resolve implements Stage C of the dreaming pipeline: turning the
// issues Stage B decided were worth acting on into concrete artifact
// changes — skills, preference updates, or other registered artifact
// types — and applying them to the runtime directory.
package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/soft-beds-inc/good-night/internal/agentrt"
	"github.com/soft-beds-inc/good-night/internal/events"
	"github.com/soft-beds-inc/good-night/internal/judges"
	"github.com/soft-beds-inc/good-night/internal/remstore"
	"github.com/soft-beds-inc/good-night/internal/resolve/artifacts"
	"github.com/soft-beds-inc/good-night/internal/toolapi"
	"github.com/soft-beds-inc/good-night/pkg/model"
)

// resolutionBasePrompt is Stage C's fixed system prompt, extended per run
// with one "## Artifact Type: <id>" section per enabled artifact.
const resolutionBasePrompt = `You create resolutions for AI assistant issues.

Resolutions are concrete actions like creating skills or guidelines that will improve the AI's behavior.

Your task:
1. Review issues that need resolution (use get_issues_to_resolve)
2. Understand available artifact types (use get_artifact_types)
3. Create resolution actions for each issue
4. Finalize when all issues are addressed

For each issue, consider:
- What artifact type is most appropriate (skill, guideline, etc.)
- Should this be global or project-specific?
- For recurring issues: should we update existing artifacts?

CRITICAL: When calling create_resolution_action, you MUST provide a 'content' object with required fields:

For skills (artifact_type: "claude-skills" or "skill"):
` + "```json" + `
{
  "artifact_type": "claude-skills",
  "name": "skill-name-here",
  "content": {
    "name": "Human Readable Name",
    "description": "Brief description of what this skill does",
    "instructions": "Detailed step-by-step instructions for the AI to follow",
    "when_to_use": "Conditions when this skill should be applied"
  },
  "issue_refs": ["issue-id-1", "issue-id-2"],
  "rationale": "Why this skill addresses the issue"
}
` + "```" + `

Required content fields for skills:
- name: Display name (e.g., "Confirm Destructive Actions")
- description: What the skill accomplishes
- instructions: Detailed guidance text for the AI

Optional content fields:
- when_to_use: When to apply this skill
- examples: Example scenarios

Guidelines:
- Address high-severity issues first
- Group related issues into single resolutions when appropriate
- Include clear rationale for each action
- Prefer updating existing artifacts for recurring issues`

var severityOrder = map[model.Severity]int{
	model.SeverityCritical: 0,
	model.SeverityHigh:     1,
	model.SeverityMedium:   2,
	model.SeverityLow:      3,
}

// Generate runs Stage C over a Stage B report: it drafts resolution
// actions with a tool-calling agent, finalizes and saves whatever the
// agent locked in, and — unless dryRun — applies each action to create or
// update the corresponding artifacts.
//
// Unlike Stage B, there is no non-agentic fallback: a failed or
// nil-provider resolution run produces nothing this cycle, matching the
// original, which has no equivalent to Stage B's lexical/vector
// comparison path for drafting artifacts.
func Generate(
	ctx context.Context,
	provider agentrt.Provider,
	report *model.EnrichedReport,
	store *remstore.FileStore,
	registry *artifacts.Registry,
	runtimeDir string,
	enabledArtifacts []string,
	dryRun bool,
	evaluate bool,
	dreamingRunID string,
	stream *events.Stream,
) (*model.Resolution, error) {
	issues := append(append([]*model.EnrichedIssue{}, report.NewIssues()...), report.RecurringIssues()...)
	if len(issues) == 0 {
		return nil, nil
	}
	if provider == nil {
		return nil, nil
	}

	agentID := fmt.Sprintf("step3-%s", report.ConnectorID)
	if stream != nil {
		stream.Emit(model.AgentEvent{
			Type:    model.EventStageStarted,
			AgentID: agentID,
			Stage:   "resolution",
			Summary: fmt.Sprintf("Creating resolutions for %d issues", len(issues)),
		})
	}

	handlers := map[string]toolapi.ArtifactHandler{}
	for _, artifactID := range enabledArtifacts {
		h, err := registry.Create(artifactID, runtimeDir)
		if err != nil {
			continue
		}
		handlers[artifactID] = h
	}

	stepCtx := toolapi.NewStep3Context(report, handlers, enabledArtifacts, dryRun)
	toolRegistry := toolapi.WithEvents(toolapi.NewRegistry(toolapi.BuildStep3Tools(stepCtx)), stream, agentID, "resolution")

	cfg := agentrt.LoopConfig{
		System:      buildSystemPrompt(registry, runtimeDir, enabledArtifacts),
		Tools:       toolRegistry.ToolDefs(),
		MaxTurns:    20,
		Temperature: 0.7,
		MaxTokens:   4096,
	}

	result, runErr := agentrt.Run(ctx, provider, toolRegistry, cfg, buildInitialPrompt(issues), stream, agentID, "resolution")
	if runErr != nil {
		// agentrt.Run has already emitted a run_error event. There is no
		// fallback here: a failed resolution run simply produces nothing
		// this cycle.
		return nil, nil
	}

	resolution := stepCtx.Resolution()
	if resolution == nil {
		if stream != nil {
			stream.Emit(model.AgentEvent{
				Type:     model.EventStageFinished,
				AgentID:  agentID,
				Stage:    "resolution",
				Summary:  "No actions finalized",
				Terminal: true,
			})
		}
		return nil, nil
	}

	resolution.DreamingRunID = dreamingRunID
	resolution.Metadata["token_usage"] = map[string]int{
		"input_tokens":  result.Usage.InputTokens,
		"output_tokens": result.Usage.OutputTokens,
	}

	actionCount := 0
	for _, cr := range resolution.Resolutions {
		actionCount += len(cr.Actions)
	}

	if validationErrors := ValidateResolution(resolution); len(validationErrors) > 0 {
		resolution.Metadata["validation_errors"] = validationErrors
	}

	if evaluate {
		resolution.Metadata["evaluations"] = evaluateActions(ctx, provider, resolution, report)
	}

	if stream != nil {
		stream.Emit(model.AgentEvent{
			Type:    model.EventStageFinished,
			AgentID: agentID,
			Stage:   "resolution",
			Summary: fmt.Sprintf("Created %d resolution actions", actionCount),
			Data: map[string]any{
				"action_count": actionCount,
				"dry_run":      dryRun,
			},
			Terminal: true,
		})
	}

	// Always save the resolution JSON, dry run or not — the FileStore the
	// caller constructed already knows whether this is a dry run (it
	// routes to a dry-runs/ subdirectory).
	if store != nil {
		if err := store.Save(resolution); err != nil {
			return resolution, err
		}
	}

	if !dryRun {
		applyResolutions(resolution, registry, runtimeDir)
	}

	return resolution, nil
}

// buildSystemPrompt extends resolutionBasePrompt with one section per
// enabled artifact type, rendering each handler's AgentContext() map into
// markdown text. A handler that fails to construct is skipped with no
// section — matching the original's try/continue-with-warning.
func buildSystemPrompt(registry *artifacts.Registry, runtimeDir string, enabledArtifacts []string) string {
	prompt := resolutionBasePrompt
	for _, artifactID := range enabledArtifacts {
		h, err := registry.Create(artifactID, runtimeDir)
		if err != nil {
			continue
		}
		prompt += fmt.Sprintf("\n\n## Artifact Type: %s\n%s", artifactID, renderAgentContext(h.AgentContext()))
	}
	return prompt
}

// renderAgentContext turns a handler's structured AgentContext() map into
// the markdown text the original's get_agent_context() returned directly.
func renderAgentContext(ctx map[string]any) string {
	var b strings.Builder
	if desc, ok := ctx["description"].(string); ok && desc != "" {
		b.WriteString(desc)
		b.WriteString("\n")
	}
	if format, ok := ctx["file_format"].(string); ok && format != "" {
		fmt.Fprintf(&b, "\nFile Format:\n%s\n", format)
	}
	if rules, ok := ctx["validation_rules"].([]string); ok && len(rules) > 0 {
		b.WriteString("\nValidation Rules:\n")
		for _, rule := range rules {
			fmt.Fprintf(&b, "- %s\n", rule)
		}
	}
	return b.String()
}

// buildInitialPrompt renders the top-10 highest-severity issues and the
// agent's workflow, exactly as the original's _build_initial_prompt does.
func buildInitialPrompt(issues []*model.EnrichedIssue) string {
	sorted := append([]*model.EnrichedIssue{}, issues...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return severityRank(sorted[i].Severity) < severityRank(sorted[j].Severity)
	})
	if len(sorted) > 10 {
		sorted = sorted[:10]
	}

	var lines []string
	for _, issue := range sorted {
		desc := issue.Description
		if len(desc) > 100 {
			desc = desc[:100]
		}
		lines = append(lines, fmt.Sprintf("- [%s] %s\n  Type: %s, Status: %s\n  Description: %s...",
			strings.ToUpper(string(issue.Severity)), issue.Title, issue.Type, issue.Status, desc))
	}

	return fmt.Sprintf(`Create resolutions for these %d issues:

%s

Steps:
1. Get full issue details with get_issues_to_resolve
2. Check available artifact types with get_artifact_types
3. Create resolution actions using create_resolution_action
4. Review pending actions with list_pending_actions
5. Call finalize_resolution when complete

For each issue, create appropriate artifacts (skills, guidelines).
Consider grouping related issues if applicable.`, len(issues), strings.Join(lines, "\n"))
}

func severityRank(s model.Severity) int {
	if r, ok := severityOrder[s]; ok {
		return r
	}
	return severityOrder[model.SeverityMedium]
}

// evaluateActions runs the four independent judges over every action in a
// finalized resolution, keyed by the action's target path. A judge never
// returns a Go error (internal/judges degrades each one to a filled-in,
// still-typed result on provider failure), so every target always gets a
// complete evaluation record rather than a bare {"error": "..."} stand-in
// — a richer shape than the original's plain try/except around the call.
func evaluateActions(ctx context.Context, provider agentrt.Provider, resolution *model.Resolution, report *model.EnrichedReport) map[string]any {
	issuesByID := map[string]*model.EnrichedIssue{}
	for _, issue := range report.Issues {
		issuesByID[issue.ID] = issue
	}

	out := map[string]any{}
	for _, cr := range resolution.Resolutions {
		for _, action := range cr.Actions {
			issue := referencedIssue(action, issuesByID)
			out[action.Target] = evaluateAction(ctx, provider, action, issue)
		}
	}
	return out
}

func referencedIssue(action *model.RemediationAction, issuesByID map[string]*model.EnrichedIssue) *model.EnrichedIssue {
	for _, id := range action.IssueRefs {
		if issue, ok := issuesByID[id]; ok {
			return issue
		}
	}
	return nil
}

func evaluateAction(ctx context.Context, provider agentrt.Provider, action *model.RemediationAction, issue *model.EnrichedIssue) map[string]any {
	var issueTitle, issueDescription, workingDirectory, evidence string
	if issue != nil {
		issueTitle = issue.Title
		issueDescription = issue.Description
		if len(issue.Evidence) > 0 {
			workingDirectory = issue.Evidence[0].WorkingDirectory
			evidence = issue.Evidence[0].Quote
		}
	}

	contentJSON, _ := json.Marshal(action.Content)

	pii := judges.DetectPII(ctx, provider, string(contentJSON))
	significance := judges.JudgeSignificance(ctx, provider, action.Rationale, issueDescription, evidence)
	localVsGlobal := judges.JudgeLocalVsGlobal(ctx, provider, issueDescription, action.Rationale, workingDirectory, "")
	applicability := judges.JudgeApplicability(ctx, provider, issueTitle, issueDescription, action.Content, action.Type)

	return map[string]any{
		"pii":             pii,
		"significance":    significance,
		"local_vs_global": localVsGlobal,
		"applicability":   applicability,
	}
}

// applyResolutions creates or updates the artifact for every action in the
// resolution, with per-action error isolation: a single failing action
// never aborts the rest of the pass.
func applyResolutions(resolution *model.Resolution, registry *artifacts.Registry, runtimeDir string) {
	for _, cr := range resolution.Resolutions {
		for _, action := range cr.Actions {
			handler, err := registry.Create(action.Type, runtimeDir)
			if err != nil {
				continue
			}
			if _, err := artifacts.ApplyAction(handler, action); err != nil {
				continue
			}
		}
	}
}
