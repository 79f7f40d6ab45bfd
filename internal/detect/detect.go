// Package detect implements Stage A of the dreaming pipeline: agentic
// exploration of a connector's conversations to surface candidate issues
// (repeated requests, frustration signals, style mismatches, capability
// and knowledge gaps), partitioned one detection agent per working
// directory and run concurrently.
package detect

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/soft-beds-inc/good-night/internal/agentrt"
	"github.com/soft-beds-inc/good-night/internal/events"
	"github.com/soft-beds-inc/good-night/internal/promptmod"
	"github.com/soft-beds-inc/good-night/internal/toolapi"
	"github.com/soft-beds-inc/good-night/pkg/model"
)

// NoProjectGroup is the working-directory group key for conversations that
// carry no working_directory metadata at all.
const NoProjectGroup = "(no project)"

// analysisBasePrompt is Stage A's fixed system-prompt preamble, shared by
// every group's agent before prompt modules are layered on top.
const analysisBasePrompt = `You are analyzing AI assistant conversations to find issues and patterns.

You have tools to explore conversations - use them to navigate and search efficiently.
Report each issue you find using the report_issue tool.

Your task:
1. Start by listing conversations to see what's available
2. Explore messages systematically, looking for patterns
3. Use search to find specific issues (errors, frustration signals, repeated requests)
4. Report issues you find with evidence (session_id, message_index, quotes)
5. Be thorough but efficient - use search to find relevant sections

Issue types to look for:
- repeated_request: User asks for the same thing multiple times
- frustration_signal: User shows frustration or dissatisfaction
- style_mismatch: AI response style doesn't match user expectations
- capability_gap: AI couldn't do something the user expected
- knowledge_gap: AI lacked knowledge the user expected
- other: Any other significant issue

When reporting issues:
- Include specific evidence with session_id and message_index
- Quote relevant text to support your findings
- Suggest potential resolutions when possible
- Prioritize by severity (critical > high > medium > low)

Be concise but thorough. Don't miss patterns that span multiple conversations.
`

// GroupByWorkingDirectory partitions conversations by their
// working_directory metadata, collapsing an empty/missing value into the
// single NoProjectGroup bucket.
func GroupByWorkingDirectory(conversations []model.Conversation) map[string][]model.Conversation {
	groups := map[string][]model.Conversation{}
	for _, conv := range conversations {
		key := conv.WorkingDirectory()
		if key == "" {
			key = NoProjectGroup
		}
		groups[key] = append(groups[key], conv)
	}
	return groups
}

// Analyze runs Stage A over a connector's conversations: one agent per
// working_directory group, run concurrently, merged into a single
// AnalysisReport. enabledPrompts selects which prompt modules are folded
// into the base system prompt (nil means every loaded module).
//
// If any group's agent fails with an authentication error, Analyze
// returns that error immediately and cancels the other in-flight groups —
// an expired credential is an operator problem, not a per-group one.
// Any other per-group failure is absorbed: that group's report degrades to
// whatever issues it reported before failing, with an error summary, and
// the cycle continues.
func Analyze(
	ctx context.Context,
	provider agentrt.Provider,
	prompts *promptmod.Loader,
	connectorID string,
	conversations []model.Conversation,
	enabledPrompts []string,
	stream *events.Stream,
) (*model.AnalysisReport, error) {
	if len(conversations) == 0 {
		return &model.AnalysisReport{
			ConnectorID:           connectorID,
			ConversationsAnalyzed: 0,
			Summary:               "No conversations to analyze",
			CreatedAt:             time.Now().UTC(),
		}, nil
	}

	groups := GroupByWorkingDirectory(conversations)
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	systemPrompt := analysisBasePrompt
	if prompts != nil {
		systemPrompt = prompts.BuildUnifiedSystemPrompt(analysisBasePrompt, enabledPrompts)
	}

	reports := make([]*model.AnalysisReport, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	for i, key := range keys {
		i, key := i, key
		convs := groups[key]
		g.Go(func() error {
			groupPrompt := systemPrompt + "\n\n" + localChangeAnnotation(key)
			report, err := runGroupAgent(gctx, provider, key, convs, groupPrompt, stream)
			if err != nil {
				return err
			}
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := mergeReports(reports)
	merged.ConnectorID = connectorID
	return merged, nil
}

func runGroupAgent(
	ctx context.Context,
	provider agentrt.Provider,
	workingDirectory string,
	conversations []model.Conversation,
	systemPrompt string,
	stream *events.Stream,
) (*model.AnalysisReport, error) {
	agentID := "step1-" + slugify(workingDirectory)

	if stream != nil {
		stream.Emit(model.AgentEvent{
			Type:    model.EventStageStarted,
			AgentID: agentID,
			Stage:   "analysis",
			Summary: fmt.Sprintf("Starting analysis of %d conversations", len(conversations)),
		})
	}

	stepCtx := toolapi.NewStep1Context(conversations)
	registry := toolapi.WithEvents(toolapi.NewRegistry(toolapi.BuildStep1Tools(stepCtx)), stream, agentID, "analysis")

	cfg := agentrt.LoopConfig{
		System:      systemPrompt,
		Tools:       registry.ToolDefs(),
		MaxTurns:    30,
		Temperature: 0.7,
		MaxTokens:   4096,
	}

	result, runErr := agentrt.Run(ctx, provider, registry, cfg, buildInitialPrompt(conversations), stream, agentID, "analysis")

	if runErr != nil && agentrt.IsAuthenticationError(runErr) {
		return nil, runErr
	}

	report := &model.AnalysisReport{
		Issues:                stepCtx.ReportedIssues,
		ConversationsAnalyzed: len(conversations),
		CreatedAt:             time.Now().UTC(),
	}

	if runErr != nil {
		// agentrt.Run has already emitted a run_error event; this report
		// carries forward whatever issues were reported before the failure.
		report.Summary = fmt.Sprintf("Analysis failed: %s", truncate(runErr.Error(), 80))
		if result != nil {
			report.TokenUsage = model.TokenUsage{
				InputTokens:  result.Usage.InputTokens,
				OutputTokens: result.Usage.OutputTokens,
			}
		}
		return report, nil
	}

	report.Summary = extractSummary(result.FinalText)
	report.TokenUsage = model.TokenUsage{
		InputTokens:  result.Usage.InputTokens,
		OutputTokens: result.Usage.OutputTokens,
	}

	if stream != nil {
		stream.Emit(model.AgentEvent{
			Type:    model.EventStageFinished,
			AgentID: agentID,
			Stage:   "analysis",
			Summary: fmt.Sprintf("Found %d issues", len(stepCtx.ReportedIssues)),
			Data: map[string]any{
				"issues_found": len(stepCtx.ReportedIssues),
				"tokens":       result.Usage.InputTokens + result.Usage.OutputTokens,
			},
			Terminal: true,
		})
	}

	return report, nil
}

// localChangeAnnotation tells a group's agent what to default report_issue's
// local_change argument to: conversations with a real project path are
// probably about that project's own conventions, while NoProjectGroup has no
// project to be local to.
func localChangeAnnotation(workingDirectory string) string {
	if workingDirectory == NoProjectGroup {
		return "These conversations have no associated project directory. When reporting issues, set local_change=false: there is no project for the change to be local to."
	}
	return fmt.Sprintf(
		"These conversations all come from the project at %q. When reporting issues, default local_change=true unless the issue reflects a preference the user would want applied globally across every project.",
		workingDirectory,
	)
}

func buildInitialPrompt(conversations []model.Conversation) string {
	totalMessages := 0
	humanMessages := 0
	for _, conv := range conversations {
		totalMessages += len(conv.Messages)
		for _, m := range conv.Messages {
			if m.Role == model.RoleHuman {
				humanMessages++
			}
		}
	}

	return fmt.Sprintf(`Analyze %d conversations for issues.

Conversation Summary:
- Total conversations: %d
- Total messages: %d
- Human messages: %d

Your task:
1. List conversations to see what's available
2. Explore messages, looking for patterns (use search and pagination)
3. Report issues you find using the report_issue tool
4. Be thorough but efficient - use search to find relevant sections

Focus on: repeated requests, user frustration, style mismatches, capability gaps.

Start by listing the conversations, then systematically analyze them.`,
		len(conversations), len(conversations), totalMessages, humanMessages)
}

// extractSummary mirrors _extract_summary: the agent's final response text,
// truncated to 200 characters, or a fixed fallback when there is none.
func extractSummary(finalText string) string {
	content := strings.TrimSpace(finalText)
	if content == "" {
		return "Analysis completed"
	}
	if len(content) > 200 {
		return content[:197] + "..."
	}
	return content
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var nonSlugRe = regexp.MustCompile(`[^a-z0-9]+`)

// slugify turns a working directory path (or NoProjectGroup) into an
// agent-id-safe token.
func slugify(s string) string {
	s = strings.ToLower(s)
	s = nonSlugRe.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "group"
	}
	if len(s) > 48 {
		s = s[len(s)-48:]
		s = strings.TrimLeft(s, "-")
	}
	return s
}
