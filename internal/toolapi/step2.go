package toolapi

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/soft-beds-inc/good-night/internal/remstore"
	"github.com/soft-beds-inc/good-night/internal/remstore/vecstore"
	"github.com/soft-beds-inc/good-night/internal/similarity"
	"github.com/soft-beds-inc/good-night/pkg/model"
)

// Step2Context holds Stage B's working state: the issues Stage A found
// (now wrapped as EnrichedIssue so status/links can be attached), the
// remediation history to compare against, and the include/exclude
// decisions the filtering agent records as it works.
type Step2Context struct {
	Issues             []*model.EnrichedIssue
	ResolutionStore    *remstore.FileStore
	VectorStore        *vecstore.Store // optional; nil disables semantic search
	LookbackDays       int

	issueIndex        map[string]*model.EnrichedIssue
	resolutions       []*model.Resolution
	resolutionsLoaded bool

	IncludedIssues map[string]bool
	ExcludedIssues map[string]string // id -> reason
}

// NewStep2Context indexes issues by id (for exact and prefix lookup) and
// defaults LookbackDays to 7, matching the original's default.
func NewStep2Context(issues []*model.EnrichedIssue, store *remstore.FileStore, vec *vecstore.Store) *Step2Context {
	c := &Step2Context{
		Issues:          issues,
		ResolutionStore: store,
		VectorStore:     vec,
		LookbackDays:    7,
		issueIndex:      make(map[string]*model.EnrichedIssue, len(issues)),
		IncludedIssues:  make(map[string]bool),
		ExcludedIssues:  make(map[string]string),
	}
	for _, i := range issues {
		c.issueIndex[i.ID] = i
	}
	return c
}

// findIssue resolves an exact id first, then falls back to a prefix match
// so truncated (8-char) ids from a tool summary still resolve.
func (c *Step2Context) findIssue(issueID string) *model.EnrichedIssue {
	if i, ok := c.issueIndex[issueID]; ok {
		return i
	}
	for id, issue := range c.issueIndex {
		if strings.HasPrefix(id, issueID) {
			return issue
		}
	}
	return nil
}

func (c *Step2Context) loadResolutions() []*model.Resolution {
	if c.resolutionsLoaded {
		return c.resolutions
	}
	c.resolutionsLoaded = true
	if c.ResolutionStore == nil {
		return nil
	}
	resolutions, err := c.ResolutionStore.ListRecent(c.LookbackDays)
	if err != nil {
		return nil
	}
	c.resolutions = resolutions
	return c.resolutions
}

func (c *Step2Context) getCurrentIssues() string {
	result := make([]map[string]any, 0, len(c.Issues))
	for _, issue := range c.Issues {
		description := issue.Description
		if len(description) > 200 {
			description = description[:200] + "..."
		}
		result = append(result, map[string]any{
			"id":             issue.ID,
			"type":           string(issue.Type),
			"severity":       string(issue.Severity),
			"title":          issue.Title,
			"description":    description,
			"evidence_count": len(issue.Evidence),
			"status":         string(issue.Status),
			"is_recurring":   issue.IsRecurring,
		})
	}
	return jsonOf(map[string]any{"issues": result, "total": len(result)})
}

func (c *Step2Context) getHistoricalResolutions(limit int) string {
	if limit <= 0 {
		limit = 7
	}
	resolutions := c.loadResolutions()
	if limit < len(resolutions) {
		resolutions = resolutions[:limit]
	}

	result := make([]map[string]any, 0, len(resolutions))
	for _, res := range resolutions {
		var actions []map[string]any
		for _, cr := range res.Resolutions {
			for _, a := range cr.Actions {
				rationale := a.Rationale
				if len(rationale) > 100 {
					rationale = rationale[:100] + "..."
				}
				actions = append(actions, map[string]any{
					"type":       a.Type,
					"target":     a.Target,
					"rationale":  rationale,
					"issue_refs": a.IssueRefs,
				})
			}
		}
		result = append(result, map[string]any{
			"id":               res.ID,
			"created_at":       formatTimeOrNil(res.CreatedAt),
			"dreaming_run_id":  res.DreamingRunID,
			"actions":          actions,
		})
	}
	return jsonOf(map[string]any{"resolutions": result, "total": len(result)})
}

func (c *Step2Context) getResolutionDetails(resolutionID string) string {
	if c.ResolutionStore == nil {
		return jsonError("Resolution %s not found", resolutionID)
	}
	res, err := c.ResolutionStore.LoadByID(resolutionID)
	if err != nil || res == nil {
		return jsonError("Resolution %s not found", resolutionID)
	}

	var actions []map[string]any
	for _, cr := range res.Resolutions {
		for _, a := range cr.Actions {
			actions = append(actions, map[string]any{
				"connector_id": cr.ConnectorID,
				"type":         a.Type,
				"target":       a.Target,
				"operation":    string(a.Operation),
				"content":      a.Content,
				"issue_refs":   a.IssueRefs,
				"priority":     string(a.Priority),
				"rationale":    a.Rationale,
			})
		}
	}
	return jsonOf(map[string]any{
		"id":              res.ID,
		"created_at":      formatTimeOrNil(res.CreatedAt),
		"dreaming_run_id": res.DreamingRunID,
		"actions":         actions,
		"metadata":        res.Metadata,
	})
}

func (c *Step2Context) linkIssueToResolution(issueID, resolutionID, skillPath, description string, relevanceScore float64) string {
	issue := c.findIssue(issueID)
	if issue == nil {
		return jsonError("Issue %s not found", issueID)
	}
	if c.ResolutionStore != nil {
		res, err := c.ResolutionStore.LoadByID(resolutionID)
		if err != nil || res == nil {
			return jsonError("Resolution %s not found", resolutionID)
		}
	}

	link := model.HistoricalLink{
		ResolutionID:   resolutionID,
		SkillPath:      skillPath,
		Description:    description,
		RelevanceScore: relevanceScore,
	}
	issue.HistoricalLinks = append(issue.HistoricalLinks, link)

	return jsonOf(map[string]any{
		"success": true,
		"message": "Linked issue '" + issue.Title + "' to resolution " + shortID(resolutionID),
		"link": map[string]any{
			"resolution_id":   link.ResolutionID,
			"skill_path":      link.SkillPath,
			"description":     link.Description,
			"relevance_score": link.RelevanceScore,
		},
	})
}

func (c *Step2Context) markIssueStatus(issueID, status string) string {
	issue := c.findIssue(issueID)
	if issue == nil {
		return jsonError("Issue %s not found", issueID)
	}
	switch model.IssueStatus(status) {
	case model.IssueStatusNew, model.IssueStatusRecurring, model.IssueStatusAlreadyResolved:
	default:
		return jsonError("Invalid status: %s", status)
	}
	issue.Status = model.IssueStatus(status)
	issue.IsRecurring = status == string(model.IssueStatusRecurring)

	return jsonOf(map[string]any{
		"success":    true,
		"issue_id":   issueID,
		"new_status": status,
		"message":    "Issue '" + issue.Title + "' marked as " + status,
	})
}

func (c *Step2Context) getIssueDetails(issueID string) string {
	issue := c.findIssue(issueID)
	if issue == nil {
		return jsonError("Issue %s not found", issueID)
	}

	evidence := make([]map[string]any, 0, len(issue.Evidence))
	for _, e := range issue.Evidence {
		evidence = append(evidence, map[string]any{
			"session_id":        e.SessionID,
			"message_index":     e.MessageIndex,
			"quote":             e.Quote,
			"context":           e.Context,
			"working_directory": e.WorkingDirectory,
		})
	}
	links := make([]map[string]any, 0, len(issue.HistoricalLinks))
	for _, l := range issue.HistoricalLinks {
		links = append(links, map[string]any{
			"resolution_id":   l.ResolutionID,
			"skill_path":      l.SkillPath,
			"description":     l.Description,
			"relevance_score": l.RelevanceScore,
		})
	}

	return jsonOf(map[string]any{
		"id":                   issue.ID,
		"type":                 string(issue.Type),
		"severity":             string(issue.Severity),
		"title":                issue.Title,
		"description":          issue.Description,
		"evidence":             evidence,
		"suggested_resolution": issue.SuggestedResolution,
		"local_change":         issue.LocalChange,
		"status":               string(issue.Status),
		"is_recurring":         issue.IsRecurring,
		"historical_links":     links,
	})
}

func (c *Step2Context) includeIssue(issueID, rationale string) string {
	issue := c.findIssue(issueID)
	if issue == nil {
		return jsonError("Issue %s not found", issueID)
	}
	delete(c.ExcludedIssues, issue.ID)
	c.IncludedIssues[issue.ID] = true

	if rationale == "" {
		rationale = "Issue deemed worth resolving"
	}
	return jsonOf(map[string]any{
		"success":        true,
		"issue_id":       issue.ID,
		"message":        "Issue '" + issue.Title + "' INCLUDED for resolution",
		"rationale":      rationale,
		"total_included": len(c.IncludedIssues),
	})
}

func (c *Step2Context) excludeIssue(issueID, reason string) string {
	issue := c.findIssue(issueID)
	if issue == nil {
		return jsonError("Issue %s not found", issueID)
	}
	delete(c.IncludedIssues, issue.ID)
	c.ExcludedIssues[issue.ID] = reason

	return jsonOf(map[string]any{
		"success":        true,
		"issue_id":       issue.ID,
		"message":        "Issue '" + issue.Title + "' EXCLUDED from resolution",
		"reason":         reason,
		"total_excluded": len(c.ExcludedIssues),
	})
}

func (c *Step2Context) getFilteringSummary() string {
	var included, excluded, pending []map[string]any
	for _, issue := range c.Issues {
		switch {
		case c.IncludedIssues[issue.ID]:
			included = append(included, map[string]any{"id": shortID(issue.ID), "title": issue.Title, "severity": string(issue.Severity)})
		case c.ExcludedIssues[issue.ID] != "":
			excluded = append(excluded, map[string]any{"id": shortID(issue.ID), "title": issue.Title, "reason": c.ExcludedIssues[issue.ID]})
		default:
			pending = append(pending, map[string]any{"id": shortID(issue.ID), "title": issue.Title, "severity": string(issue.Severity)})
		}
	}
	return jsonOf(map[string]any{
		"included": included,
		"excluded": excluded,
		"pending":  pending,
		"summary":  summaryLine(len(included), len(excluded), len(pending)),
	})
}

func summaryLine(included, excluded, pending int) string {
	return fmt.Sprintf("%d included, %d excluded, %d pending", included, excluded, pending)
}

func (c *Step2Context) compareIssueToResolutions(issueID string) string {
	issue := c.findIssue(issueID)
	if issue == nil {
		return jsonError("Issue %s not found", issueID)
	}

	resolutions := c.loadResolutions()
	type match struct {
		m     map[string]any
		score float64
	}
	var matches []match
	for _, res := range resolutions {
		for _, cr := range res.Resolutions {
			for _, a := range cr.Actions {
				score := similarity.Compare(issue, a, false)
				if score <= 0.3 {
					continue
				}
				matches = append(matches, match{
					m: map[string]any{
						"resolution_id":    res.ID,
						"action_target":    a.Target,
						"action_type":      a.Type,
						"rationale":        a.Rationale,
						"similarity_score": round2(score),
						"issue_refs":       a.IssueRefs,
					},
					score: score,
				})
			}
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].score > matches[j].score })

	top := matches
	if len(top) > 10 {
		top = top[:10]
	}
	out := make([]map[string]any, 0, len(top))
	var best float64
	for i, mm := range top {
		out = append(out, mm.m)
		if i == 0 {
			best = mm.score
		}
	}

	return jsonOf(map[string]any{
		"issue_id":       issueID,
		"issue_title":    issue.Title,
		"matches":        out,
		"recommendation": recommendation(len(matches) > 0, best),
	})
}

func recommendation(hasMatches bool, best float64) string {
	if !hasMatches {
		return "new - No similar historical resolutions found"
	}
	switch {
	case best > similarity.ThresholdAlreadyResolved:
		return "already_resolved - Very similar issue was previously resolved"
	case best > similarity.ThresholdRecurring:
		return "recurring - Similar issue exists but may need updated resolution"
	default:
		return "new - Only weak matches found, consider this a new issue"
	}
}

func (c *Step2Context) searchSimilarResolutionsVector(ctx context.Context, issueID string, minAgeDays, limit int) string {
	issue := c.findIssue(issueID)
	if issue == nil {
		return jsonError("Issue %s not found", issueID)
	}
	if minAgeDays <= 0 {
		minAgeDays = 7
	}
	if limit <= 0 {
		limit = 5
	}
	if c.VectorStore == nil {
		return jsonOf(map[string]any{
			"error":    "Vector search failed: vector store not configured",
			"fallback": "Use compare_issue_to_resolutions for file-based comparison",
		})
	}

	queryText := issue.Title + "\n" + issue.Description
	matches, err := c.VectorStore.Search(ctx, queryText, limit, time.Duration(minAgeDays)*24*time.Hour, "")
	if err != nil {
		return jsonOf(map[string]any{
			"error":    "Vector search failed: " + err.Error(),
			"fallback": "Use compare_issue_to_resolutions for file-based comparison",
		})
	}
	if len(matches) == 0 {
		return jsonOf(map[string]any{
			"issue_id": issueID,
			"matches":  []any{},
			"message":  "No similar resolutions found in vector store",
		})
	}

	out := make([]map[string]any, 0, len(matches))
	for _, mm := range matches {
		out = append(out, map[string]any{
			"resolution_id": mm.ResolutionID,
			"connector_id":  mm.ConnectorID,
			"target":        mm.Target,
			"title":         mm.Title,
			"description":   mm.Description,
			"score":         mm.Score,
		})
	}
	return jsonOf(map[string]any{
		"issue_id":       issueID,
		"issue_title":    issue.Title,
		"matches":        out,
		"recommendation": recommendation(true, float64(matches[0].Score)),
	})
}

// BuildStep2Tools registers Stage B's eleven comparison/filtering tools.
func BuildStep2Tools(c *Step2Context) []Def {
	return []Def{
		{
			Name:        "get_current_issues",
			Description: "Get all issues detected in Step 1 that need filtering and comparison.",
			Handler:     func(ctx context.Context, args map[string]any) string { return c.getCurrentIssues() },
		},
		{
			Name:        "get_issue_details",
			Description: "Get full details of an issue including all evidence. Use to assess issue quality.",
			Properties: map[string]any{
				"issue_id": map[string]any{"type": "string", "description": "ID of the issue to retrieve"},
			},
			Required: []string{"issue_id"},
			Handler: func(ctx context.Context, args map[string]any) string {
				return c.getIssueDetails(strArg(args, "issue_id"))
			},
		},
		{
			Name:        "get_historical_resolutions",
			Description: "Get recent historical resolutions for comparison.",
			Properties: map[string]any{
				"limit": map[string]any{"type": "integer", "description": "Maximum resolutions to return (default: 7)", "default": 7},
			},
			Handler: func(ctx context.Context, args map[string]any) string {
				return c.getHistoricalResolutions(intArg(args, "limit", 7))
			},
		},
		{
			Name:        "get_resolution_details",
			Description: "Get full details of a specific resolution including all actions and content.",
			Properties: map[string]any{
				"resolution_id": map[string]any{"type": "string", "description": "ID of the resolution to retrieve"},
			},
			Required: []string{"resolution_id"},
			Handler: func(ctx context.Context, args map[string]any) string {
				return c.getResolutionDetails(strArg(args, "resolution_id"))
			},
		},
		{
			Name:        "compare_issue_to_resolutions",
			Description: "Automatically compare an issue to all historical resolutions and get similarity scores.",
			Properties: map[string]any{
				"issue_id": map[string]any{"type": "string", "description": "ID of the issue to compare"},
			},
			Required: []string{"issue_id"},
			Handler: func(ctx context.Context, args map[string]any) string {
				return c.compareIssueToResolutions(strArg(args, "issue_id"))
			},
		},
		{
			Name:        "link_issue_to_resolution",
			Description: "Link a current issue to a past resolution. Use when you find a relevant historical resolution.",
			Properties: map[string]any{
				"issue_id":        map[string]any{"type": "string", "description": "ID of the current issue"},
				"resolution_id":   map[string]any{"type": "string", "description": "ID of the historical resolution"},
				"skill_path":      map[string]any{"type": "string", "description": "Path to the skill/artifact from the resolution"},
				"description":     map[string]any{"type": "string", "description": "Description of how they relate"},
				"relevance_score": map[string]any{"type": "number", "description": "How relevant is this match (0.0-1.0)", "default": 0.8},
			},
			Required: []string{"issue_id", "resolution_id"},
			Handler: func(ctx context.Context, args map[string]any) string {
				return c.linkIssueToResolution(strArg(args, "issue_id"), strArg(args, "resolution_id"),
					strArg(args, "skill_path"), strArg(args, "description"), floatArg(args, "relevance_score", 0.8))
			},
		},
		{
			Name:        "mark_issue_status",
			Description: "Mark an issue's historical status (new/recurring/already_resolved).",
			Properties: map[string]any{
				"issue_id": map[string]any{"type": "string", "description": "ID of the issue"},
				"status": map[string]any{
					"type":        "string",
					"enum":        []string{"new", "recurring", "already_resolved"},
					"description": "new=no prior resolution, recurring=similar issue keeps happening, already_resolved=exact match exists",
				},
			},
			Required: []string{"issue_id", "status"},
			Handler: func(ctx context.Context, args map[string]any) string {
				return c.markIssueStatus(strArg(args, "issue_id"), strArg(args, "status"))
			},
		},
		{
			Name:        "include_issue",
			Description: "INCLUDE an issue for resolution generation (Step 3). Use when the issue is worth acting on.",
			Properties: map[string]any{
				"issue_id":  map[string]any{"type": "string", "description": "ID of the issue to include"},
				"rationale": map[string]any{"type": "string", "description": "Why this issue should be resolved"},
			},
			Required: []string{"issue_id"},
			Handler: func(ctx context.Context, args map[string]any) string {
				return c.includeIssue(strArg(args, "issue_id"), strArg(args, "rationale"))
			},
		},
		{
			Name:        "exclude_issue",
			Description: "EXCLUDE an issue from resolution generation. Use for noise, one-time issues, or already-resolved problems.",
			Properties: map[string]any{
				"issue_id": map[string]any{"type": "string", "description": "ID of the issue to exclude"},
				"reason":   map[string]any{"type": "string", "description": "Why this issue should NOT be resolved (e.g., 'one-time occurrence', 'already resolved', 'normal interaction')"},
			},
			Required: []string{"issue_id", "reason"},
			Handler: func(ctx context.Context, args map[string]any) string {
				return c.excludeIssue(strArg(args, "issue_id"), strArg(args, "reason"))
			},
		},
		{
			Name:        "get_filtering_summary",
			Description: "Get summary of which issues are included/excluded/pending. Use to check progress.",
			Handler:     func(ctx context.Context, args map[string]any) string { return c.getFilteringSummary() },
		},
		{
			Name: "search_similar_resolutions_vector",
			Description: "Search for similar historical resolutions using semantic vector similarity. " +
				"Finds resolutions that are conceptually similar even with different wording. " +
				"Searches resolutions older than 7 days by default.",
			Properties: map[string]any{
				"issue_id":     map[string]any{"type": "string", "description": "ID of the issue to find similar resolutions for"},
				"min_age_days": map[string]any{"type": "integer", "description": "Only search resolutions older than this many days (default: 7)", "default": 7},
				"limit":        map[string]any{"type": "integer", "description": "Maximum number of similar resolutions to return (default: 5)", "default": 5},
			},
			Required: []string{"issue_id"},
			Handler: func(ctx context.Context, args map[string]any) string {
				return c.searchSimilarResolutionsVector(ctx, strArg(args, "issue_id"), intArg(args, "min_age_days", 7), intArg(args, "limit", 5))
			},
		},
	}
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}
