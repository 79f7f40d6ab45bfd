// Package filter implements Stage B of the dreaming pipeline: filtering
// the issues Stage A detected down to the ones worth resolving, and
// comparing each surviving issue against remediation history so Stage C
// knows whether it is new, recurring, or already addressed.
package filter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/soft-beds-inc/good-night/internal/agentrt"
	"github.com/soft-beds-inc/good-night/internal/events"
	"github.com/soft-beds-inc/good-night/internal/remstore"
	"github.com/soft-beds-inc/good-night/internal/remstore/vecstore"
	"github.com/soft-beds-inc/good-night/internal/similarity"
	"github.com/soft-beds-inc/good-night/internal/toolapi"
	"github.com/soft-beds-inc/good-night/pkg/model"
)

// comparisonBasePrompt is Stage B's fixed system prompt: filtering and
// historical comparison in one pass. Unlike Stage A, it is never layered
// with prompt modules — the original never instantiates a PromptHandler
// for this step.
const comparisonBasePrompt = `You are the FILTERING and COMPARISON agent for a dreaming pipeline that improves how an AI assistant works with a user over time.

You have two jobs:
1. FILTER: decide which detected issues are worth acting on
2. COMPARE: check each surviving issue against remediation history to see if it's new, recurring, or already resolved

INCLUDE an issue when it is:
- A cross-conversation pattern (the same problem across 2+ sessions)
- A significant single-session issue with clear, strong evidence
- Recurring despite a prior resolution attempt
- A clear, concrete opportunity to improve the assistant's behavior

EXCLUDE an issue when it is:
- A one-time occurrence with no pattern
- Something that is already working as intended
- Backed by weak or ambiguous evidence
- A minor cosmetic complaint
- Part of a normal, healthy interaction

When comparing against history, use this guidance:
- already_resolved (score > 0.85): a near-identical issue was already fixed — EXCLUDE
- recurring (score 0.6-0.85): a similar issue exists but keeps coming back — INCLUDE
- new (score < 0.6): no meaningful precedent — INCLUDE if significant

Workflow:
1. Call get_current_issues() to see everything Step 1 found
2. For each issue: call get_issue_details(), assess it, call compare_issue_to_resolutions()
   (or search_similar_resolutions_vector() for semantic matches), mark its status with
   mark_issue_status(), then call include_issue() or exclude_issue()
3. Call get_filtering_summary() to check your progress

Every issue must be either included or excluded. Don't leave anything pending.`

// historicalLinkFloor is the minimum relevance score a match against a past
// resolution must clear to be recorded as a HistoricalLink at all, in the
// non-agentic fallback path. This is a separate concept from the
// already_resolved/recurring status thresholds below: it only gates
// whether a weak match is worth surfacing, not how a strong one is
// classified.
const historicalLinkFloor = 0.5

// Compare runs Stage B over a Stage A report: it wraps every issue as an
// EnrichedIssue, then either runs the filtering/comparison agent (when
// provider is non-nil) or falls straight to the non-agentic lexical/vector
// comparison (when provider is nil, matching the original's explicit
// "no provider configured" branch — this is distinct from falling back
// after an agent failure, handled below).
//
// Any error from the agentic path — including an authentication error —
// degrades to the same non-agentic fallback rather than aborting the
// cycle: unlike Stage A, a failed comparison agent is never fatal to the
// run, since the non-agentic path can always produce a usable (if less
// nuanced) classification.
func Compare(
	ctx context.Context,
	provider agentrt.Provider,
	report *model.AnalysisReport,
	store *remstore.FileStore,
	vec *vecstore.Store,
	lookbackDays int,
	stream *events.Stream,
) (*model.EnrichedReport, error) {
	enriched := model.EnrichedReportFromAnalysisReport(report)

	if provider == nil {
		return compareNonAgentic(ctx, enriched, store, vec, lookbackDays)
	}
	if len(enriched.Issues) == 0 {
		enriched.Summary = "No issues to compare"
		return enriched, nil
	}

	agentID := fmt.Sprintf("step2-%s", report.ConnectorID)
	if stream != nil {
		stream.Emit(model.AgentEvent{
			Type:    model.EventStageStarted,
			AgentID: agentID,
			Stage:   "comparison",
			Summary: fmt.Sprintf("Filtering and comparing %d issues", len(enriched.Issues)),
		})
	}

	stepCtx := toolapi.NewStep2Context(enriched.Issues, store, vec)
	if lookbackDays > 0 {
		stepCtx.LookbackDays = lookbackDays
	}
	registry := toolapi.WithEvents(toolapi.NewRegistry(toolapi.BuildStep2Tools(stepCtx)), stream, agentID, "comparison")

	cfg := agentrt.LoopConfig{
		System:      comparisonBasePrompt,
		Tools:       registry.ToolDefs(),
		MaxTurns:    40,
		Temperature: 0.5,
		MaxTokens:   4096,
	}

	result, runErr := agentrt.Run(ctx, provider, registry, cfg, buildInitialPrompt(enriched.Issues), stream, agentID, "comparison")
	if runErr != nil {
		// agentrt.Run has already emitted a run_error event. Unlike Stage A,
		// any failure here — auth errors included — degrades to the
		// non-agentic path rather than propagating: a filtering miss is
		// recoverable in a way an expired credential blocking Stage A is not.
		return compareNonAgentic(ctx, enriched, store, vec, lookbackDays)
	}

	applyFilterDecisions(enriched, stepCtx)

	// The configured lookback, not an actual count — the agentic path never
	// learns how many resolutions the agent actually looked at, only how
	// far back it was told it could look. The non-agentic path below
	// records the real count instead.
	enriched.HistoricalResolutionsChecked = stepCtx.LookbackDays
	enriched.TokenUsage.Add(model.TokenUsage{InputTokens: result.Usage.InputTokens, OutputTokens: result.Usage.OutputTokens})
	enriched.Summary = summarizeEnriched(enriched, len(report.Issues)-len(enriched.Issues))

	if stream != nil {
		stream.Emit(model.AgentEvent{
			Type:    model.EventStageFinished,
			AgentID: agentID,
			Stage:   "comparison",
			Summary: fmt.Sprintf("%d included, %d excluded", len(stepCtx.IncludedIssues), len(stepCtx.ExcludedIssues)),
			Data: map[string]any{
				"included": len(stepCtx.IncludedIssues),
				"excluded": len(stepCtx.ExcludedIssues),
			},
			Terminal: true,
		})
	}

	return enriched, nil
}

// applyFilterDecisions keeps only the issues the agent explicitly included,
// unless it never called include_issue at all — in which case everything
// not explicitly excluded survives. An explicit include list always takes
// full precedence over the exclude list.
func applyFilterDecisions(enriched *model.EnrichedReport, stepCtx *toolapi.Step2Context) {
	if len(stepCtx.IncludedIssues) > 0 {
		var kept []*model.EnrichedIssue
		for _, issue := range enriched.Issues {
			if stepCtx.IncludedIssues[issue.ID] {
				kept = append(kept, issue)
			}
		}
		enriched.Issues = kept
		return
	}

	var kept []*model.EnrichedIssue
	for _, issue := range enriched.Issues {
		if stepCtx.ExcludedIssues[issue.ID] == "" {
			kept = append(kept, issue)
		}
	}
	enriched.Issues = kept
}

func buildInitialPrompt(issues []*model.EnrichedIssue) string {
	var lines []string
	for _, i := range issues {
		id := i.ID
		if len(id) > 8 {
			id = id[:8]
		}
		lines = append(lines, fmt.Sprintf("- %s: %s (%s, %s)", id, i.Title, i.Type, i.Severity))
	}

	return fmt.Sprintf(`Filter and compare %d issues against remediation history.

Issues:
%s

For each issue:
1. Get its full details
2. Compare it against historical resolutions (file-based and/or vector search)
3. Mark its status (new/recurring/already_resolved)
4. Include it if it's worth resolving, or exclude it with a reason

Remember: already_resolved issues should usually be excluded, recurring and new
significant issues should usually be included.

Start by getting the full issue list, then process each one.`, len(issues), strings.Join(lines, "\n"))
}

func summarizeEnriched(enriched *model.EnrichedReport, excludedCount int) string {
	return fmt.Sprintf("%d new, %d recurring, %d excluded",
		len(enriched.NewIssues()), len(enriched.RecurringIssues()), excludedCount)
}

// compareNonAgentic classifies every issue against remembered resolutions
// using lexical comparison (internal/similarity) plus a best-effort
// semantic lookup (vecstore), with no agent involved at all. This is the
// path used when no provider is configured, and the fallback used when the
// agentic path errors.
func compareNonAgentic(
	ctx context.Context,
	enriched *model.EnrichedReport,
	store *remstore.FileStore,
	vec *vecstore.Store,
	lookbackDays int,
) (*model.EnrichedReport, error) {
	if lookbackDays <= 0 {
		lookbackDays = 7
	}

	var resolutions []*model.Resolution
	if store != nil {
		r, err := store.ListRecent(lookbackDays)
		if err == nil {
			resolutions = r
		}
	}
	enriched.HistoricalResolutionsChecked = len(resolutions)

	resolvedCount := 0
	for _, issue := range enriched.Issues {
		links, status := findHistoricalMatches(issue, resolutions)

		if vec != nil {
			if vecMatches := searchVector(ctx, vec, issue); len(vecMatches) > 0 {
				links = append(links, vecMatches...)
				sortLinksDescending(links)
				if len(links) > 5 {
					links = links[:5]
				}
				status = model.IssueStatus(similarity.StatusLabel(float64(links[0].RelevanceScore)))
			}
		}

		issue.HistoricalLinks = links
		issue.Status = status
		issue.IsRecurring = status == model.IssueStatusRecurring
		if status == model.IssueStatusAlreadyResolved {
			resolvedCount++
		}
	}

	enriched.Summary = fmt.Sprintf("%d new, %d recurring, %d already resolved",
		len(enriched.NewIssues()), len(enriched.RecurringIssues()), resolvedCount)
	return enriched, nil
}

// findHistoricalMatches walks every action of every recent resolution,
// scoring each against the issue with internal/similarity.Compare, keeping
// matches above historicalLinkFloor, and deriving a status from the best
// score via the same canonical thresholds the filtering agent's own
// compare_issue_to_resolutions tool uses.
func findHistoricalMatches(issue *model.EnrichedIssue, resolutions []*model.Resolution) ([]model.HistoricalLink, model.IssueStatus) {
	var links []model.HistoricalLink
	var best float64

	for _, res := range resolutions {
		for _, cr := range res.Resolutions {
			for _, action := range cr.Actions {
				score := similarity.Compare(issue, action, sameKindIssueRefs(issue, action))
				if score <= historicalLinkFloor {
					continue
				}
				links = append(links, model.HistoricalLink{
					ResolutionID:   res.ID,
					SkillPath:      action.Target,
					Description:    action.Rationale,
					RelevanceScore: score,
				})
				if score > best {
					best = score
				}
			}
		}
	}

	status := model.IssueStatusNew
	if len(links) > 0 {
		status = model.IssueStatus(similarity.StatusLabel(best))
	}

	sortLinksDescending(links)
	if len(links) > 5 {
		links = links[:5]
	}
	return links, status
}

// sameKindIssueRefs reports whether any of the action's issue_refs mention
// this issue's type, the bonus signal similarity.Compare uses to boost a
// match beyond pure text overlap.
func sameKindIssueRefs(issue *model.EnrichedIssue, action *model.RemediationAction) bool {
	t := string(issue.Type)
	for _, ref := range action.IssueRefs {
		if strings.Contains(strings.ToLower(ref), t) {
			return true
		}
	}
	return false
}

func sortLinksDescending(links []model.HistoricalLink) {
	for i := 1; i < len(links); i++ {
		for j := i; j > 0 && links[j].RelevanceScore > links[j-1].RelevanceScore; j-- {
			links[j], links[j-1] = links[j-1], links[j]
		}
	}
}

// searchVector runs a best-effort semantic lookup against the vector
// store; any failure (including "not configured") degrades to no extra
// matches rather than aborting the comparison, matching the original's
// broad try/except around its Redis-specific equivalent.
func searchVector(ctx context.Context, vec *vecstore.Store, issue *model.EnrichedIssue) []model.HistoricalLink {
	queryText := issue.Title + "\n" + issue.Description
	matches, err := vec.Search(ctx, queryText, 5, 7*24*time.Hour, "")
	if err != nil {
		return nil
	}
	out := make([]model.HistoricalLink, 0, len(matches))
	for _, m := range matches {
		out = append(out, model.HistoricalLink{
			ResolutionID:   m.ResolutionID,
			SkillPath:      m.Target,
			Description:    m.Description,
			RelevanceScore: float64(m.Score),
		})
	}
	return out
}
