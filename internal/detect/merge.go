package detect

import (
	"fmt"
	"time"

	"github.com/soft-beds-inc/good-night/internal/similarity"
	"github.com/soft-beds-inc/good-night/pkg/model"
)

// mergeSimilarityThreshold is the title/description similarity bar above
// which two issues from different groups are treated as duplicates.
const mergeSimilarityThreshold = 0.7

// mergeReports combines one AnalysisReport per working_directory group
// into a single report: issues are deduplicated across groups, token usage
// and conversation counts are summed, and the connector id is taken
// verbatim since every group shares the same connector.
//
// A single-report input is returned unchanged — both because there is
// nothing to deduplicate and to match the case where Stage A finds exactly
// one working_directory group.
func mergeReports(reports []*model.AnalysisReport) *model.AnalysisReport {
	if len(reports) == 0 {
		return &model.AnalysisReport{ConnectorID: "merged", CreatedAt: time.Now().UTC()}
	}
	if len(reports) == 1 {
		return reports[0]
	}

	var allIssues []*model.Issue
	var usage model.TokenUsage
	totalConversations := 0
	for _, r := range reports {
		allIssues = append(allIssues, r.Issues...)
		totalConversations += r.ConversationsAnalyzed
		usage.Add(r.TokenUsage)
	}

	merged := dedupeIssues(allIssues)

	return &model.AnalysisReport{
		Issues:                merged,
		ConversationsAnalyzed: totalConversations,
		Summary:               fmt.Sprintf("Merged %d reports with %d unique issues", len(reports), len(merged)),
		CreatedAt:             time.Now().UTC(),
		TokenUsage:            usage,
	}
}

// dedupeIssues groups issues by (same type) and (title or description
// similarity >= mergeSimilarityThreshold), greedily matching each issue
// against the first existing group it resembles, then collapses each
// group into one representative issue.
func dedupeIssues(issues []*model.Issue) []*model.Issue {
	if len(issues) == 0 {
		return nil
	}

	var groups [][]*model.Issue
	for _, issue := range issues {
		placed := false
		for gi, group := range groups {
			if areSimilar(issue, group[0]) {
				groups[gi] = append(group, issue)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, []*model.Issue{issue})
		}
	}

	out := make([]*model.Issue, 0, len(groups))
	for _, group := range groups {
		out = append(out, mergeIssueGroup(group))
	}
	return out
}

func areSimilar(a, b *model.Issue) bool {
	if a.Type != b.Type {
		return false
	}
	if similarity.Ratio(a.Title, b.Title) >= mergeSimilarityThreshold {
		return true
	}
	if similarity.Ratio(a.Description, b.Description) >= mergeSimilarityThreshold {
		return true
	}
	return false
}

// mergeIssueGroup collapses a group of similar issues into the first
// member, inheriting deduplicated evidence (by session id, first occurrence
// wins), the most severe severity observed, averaged confidence, and
// metadata recording how many issues were merged and their ids.
func mergeIssueGroup(group []*model.Issue) *model.Issue {
	if len(group) == 1 {
		return group[0]
	}

	base := group[0]

	var evidence []model.Evidence
	seenSessions := map[string]bool{}
	for _, issue := range group {
		for _, ev := range issue.Evidence {
			if seenSessions[ev.SessionID] {
				continue
			}
			evidence = append(evidence, ev)
			seenSessions[ev.SessionID] = true
		}
	}
	base.Evidence = evidence

	highest := base.Severity
	for _, issue := range group {
		if model.SeverityRank(issue.Severity) > model.SeverityRank(highest) {
			highest = issue.Severity
		}
	}
	base.Severity = highest

	var confidenceSum float64
	for _, issue := range group {
		confidenceSum += issue.Confidence
	}
	base.Confidence = confidenceSum / float64(len(group))

	ids := make([]string, 0, len(group))
	for _, issue := range group {
		ids = append(ids, issue.ID)
	}
	if base.Metadata == nil {
		base.Metadata = map[string]any{}
	}
	base.Metadata["merged_count"] = len(group)
	base.Metadata["merged_from"] = ids

	return base
}
