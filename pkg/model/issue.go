package model

import (
	"time"

	"github.com/google/uuid"
)

// IssueType classifies the kind of recurring behavior Stage A detected.
type IssueType string

const (
	IssueRepeatedRequest   IssueType = "repeated_request"
	IssueFrustrationSignal IssueType = "frustration_signal"
	IssueStyleMismatch     IssueType = "style_mismatch"
	IssueCapabilityGap     IssueType = "capability_gap"
	IssueKnowledgeGap      IssueType = "knowledge_gap"
	IssueOther             IssueType = "other"
)

// Severity ranks how disruptive an Issue is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityOrder ranks severities from least to most serious; used when
// merging duplicate issues to keep the worse of the two.
var severityOrder = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// SeverityRank returns a comparable rank, higher meaning more serious.
func SeverityRank(s Severity) int {
	if r, ok := severityOrder[s]; ok {
		return r
	}
	return severityOrder[SeverityMedium]
}

// Evidence anchors an Issue to a concrete conversation excerpt.
type Evidence struct {
	SessionID        string `json:"session_id"`
	MessageIndex     *int   `json:"message_index,omitempty"`
	Quote            string `json:"quote,omitempty"`
	Context          string `json:"context,omitempty"`
	WorkingDirectory string `json:"working_directory,omitempty"`
}

// Title and Description satisfy Scorable for lexical comparison even though
// Evidence itself is never scored directly; Issue embeds these fields.

// Issue is a single detected behavioral pattern, produced by Stage A.
type Issue struct {
	ID                 string         `json:"id"`
	Type               IssueType      `json:"type"`
	Severity           Severity       `json:"severity"`
	Title              string         `json:"title"`
	Description        string         `json:"description"`
	Evidence           []Evidence     `json:"evidence"`
	Confidence         float64        `json:"confidence"`
	SuggestedResolution string        `json:"suggested_resolution,omitempty"`
	Metadata           map[string]any `json:"metadata"`
	LocalChange        bool           `json:"local_change"`
}

// NewIssue builds an Issue with a fresh id and the package defaults.
func NewIssue(issueType IssueType, title, description string) *Issue {
	return &Issue{
		ID:          uuid.NewString(),
		Type:        issueType,
		Severity:    SeverityMedium,
		Title:       title,
		Description: description,
		Confidence:  0.5,
		Metadata:    map[string]any{},
	}
}

// GetTitle, GetDescription and GetRationale implement Scorable.
func (i *Issue) GetTitle() string       { return i.Title }
func (i *Issue) GetDescription() string { return i.Description }
func (i *Issue) GetRationale() string   { return i.SuggestedResolution }

// ToMap renders the Issue for JSON tool responses.
func (i *Issue) ToMap() map[string]any {
	evidence := make([]map[string]any, 0, len(i.Evidence))
	for _, e := range i.Evidence {
		em := map[string]any{
			"session_id": e.SessionID,
			"quote":      e.Quote,
			"context":    e.Context,
		}
		if e.MessageIndex != nil {
			em["message_index"] = *e.MessageIndex
		}
		if e.WorkingDirectory != "" {
			em["working_directory"] = e.WorkingDirectory
		}
		evidence = append(evidence, em)
	}
	return map[string]any{
		"id":                   i.ID,
		"type":                 string(i.Type),
		"severity":             string(i.Severity),
		"title":                i.Title,
		"description":          i.Description,
		"evidence":             evidence,
		"confidence":           i.Confidence,
		"suggested_resolution": i.SuggestedResolution,
		"metadata":             i.Metadata,
		"local_change":         i.LocalChange,
	}
}

// IssueFromMap reconstructs an Issue from a decoded JSON map, applying the
// same defaults as the Python original: missing id gets a fresh uuid,
// missing type defaults to "other", missing severity to "medium", missing
// confidence to 0.5.
func IssueFromMap(m map[string]any) *Issue {
	issue := &Issue{Metadata: map[string]any{}}

	issue.ID, _ = m["id"].(string)
	if issue.ID == "" {
		issue.ID = uuid.NewString()
	}

	issue.Type = IssueOther
	if t, ok := m["type"].(string); ok && t != "" {
		issue.Type = IssueType(t)
	}

	issue.Severity = SeverityMedium
	if s, ok := m["severity"].(string); ok && s != "" {
		issue.Severity = Severity(s)
	}

	issue.Title, _ = m["title"].(string)
	issue.Description, _ = m["description"].(string)
	issue.SuggestedResolution, _ = m["suggested_resolution"].(string)

	issue.Confidence = 0.5
	if c, ok := m["confidence"].(float64); ok {
		issue.Confidence = c
	}

	if local, ok := m["local_change"].(bool); ok {
		issue.LocalChange = local
	}

	if evRaw, ok := m["evidence"].([]any); ok {
		for _, raw := range evRaw {
			em, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			e := Evidence{}
			e.SessionID, _ = em["session_id"].(string)
			e.Quote, _ = em["quote"].(string)
			e.Context, _ = em["context"].(string)
			e.WorkingDirectory, _ = em["working_directory"].(string)
			if idx, ok := em["message_index"].(float64); ok {
				i := int(idx)
				e.MessageIndex = &i
			}
			issue.Evidence = append(issue.Evidence, e)
		}
	}

	if md, ok := m["metadata"].(map[string]any); ok {
		issue.Metadata = md
	}

	return issue
}

// TokenUsage tracks cost-relevant model consumption for a single run or
// stage, aggregated additively across agent turns.
type TokenUsage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheCreationTokens int `json:"cache_creation_tokens"`
	CacheReadTokens     int `json:"cache_read_tokens"`
}

// Add accumulates another TokenUsage into the receiver.
func (t *TokenUsage) Add(other TokenUsage) {
	t.InputTokens += other.InputTokens
	t.OutputTokens += other.OutputTokens
	t.CacheCreationTokens += other.CacheCreationTokens
	t.CacheReadTokens += other.CacheReadTokens
}

// AnalysisReport is Stage A's raw output for one connector/project group,
// before Stage B enrichment.
type AnalysisReport struct {
	ConnectorID          string     `json:"connector_id"`
	Issues               []*Issue   `json:"issues"`
	ConversationsAnalyzed int       `json:"conversations_analyzed"`
	Summary              string     `json:"summary"`
	CreatedAt            time.Time  `json:"created_at"`
	TokenUsage           TokenUsage `json:"token_usage"`
}

// IssueStatus tracks Stage B's resolution of an issue against history.
type IssueStatus string

const (
	IssueStatusNew            IssueStatus = "new"
	IssueStatusRecurring      IssueStatus = "recurring"
	IssueStatusAlreadyResolved IssueStatus = "already_resolved"
)

// HistoricalLink ties an issue to a prior resolution that may already
// address it.
type HistoricalLink struct {
	ResolutionID   string  `json:"resolution_id"`
	SkillPath      string  `json:"skill_path,omitempty"`
	Description    string  `json:"description,omitempty"`
	RelevanceScore float64 `json:"relevance_score"`
}

// EnrichedIssue adds Stage B bookkeeping on top of a detected Issue.
type EnrichedIssue struct {
	Issue
	HistoricalLinks []HistoricalLink `json:"historical_links"`
	IsRecurring     bool             `json:"is_recurring"`
	Status          IssueStatus      `json:"status"`
}

// EnrichedIssueFromIssue copies an Issue's fields into a fresh EnrichedIssue
// with Stage B defaults.
func EnrichedIssueFromIssue(i *Issue) *EnrichedIssue {
	return &EnrichedIssue{
		Issue:           *i,
		HistoricalLinks: nil,
		IsRecurring:     false,
		Status:          IssueStatusNew,
	}
}

// ToMap renders the EnrichedIssue including its Stage B fields.
func (e *EnrichedIssue) ToMap() map[string]any {
	m := e.Issue.ToMap()
	links := make([]map[string]any, 0, len(e.HistoricalLinks))
	for _, l := range e.HistoricalLinks {
		links = append(links, map[string]any{
			"resolution_id":   l.ResolutionID,
			"skill_path":      l.SkillPath,
			"description":     l.Description,
			"relevance_score": l.RelevanceScore,
		})
	}
	m["historical_links"] = links
	m["is_recurring"] = e.IsRecurring
	m["status"] = string(e.Status)
	return m
}

// EnrichedReport is Stage B's output: an AnalysisReport whose issues have
// each been classified against remediation history.
type EnrichedReport struct {
	ConnectorID                 string           `json:"connector_id"`
	Issues                      []*EnrichedIssue `json:"issues"`
	ConversationsAnalyzed       int              `json:"conversations_analyzed"`
	Summary                     string           `json:"summary"`
	CreatedAt                   time.Time        `json:"created_at"`
	HistoricalResolutionsChecked int             `json:"historical_resolutions_checked"`
	TokenUsage                  TokenUsage       `json:"token_usage"`
}

// EnrichedReportFromAnalysisReport wraps every issue of an AnalysisReport.
func EnrichedReportFromAnalysisReport(r *AnalysisReport) *EnrichedReport {
	issues := make([]*EnrichedIssue, 0, len(r.Issues))
	for _, i := range r.Issues {
		issues = append(issues, EnrichedIssueFromIssue(i))
	}
	return &EnrichedReport{
		ConnectorID:           r.ConnectorID,
		Issues:                issues,
		ConversationsAnalyzed: r.ConversationsAnalyzed,
		Summary:               r.Summary,
		CreatedAt:             r.CreatedAt,
		TokenUsage:            r.TokenUsage,
	}
}

// NewIssues returns the issues Stage B classified as brand new.
func (r *EnrichedReport) NewIssues() []*EnrichedIssue {
	return r.filterByStatus(IssueStatusNew)
}

// RecurringIssues returns the issues Stage B classified as recurring.
func (r *EnrichedReport) RecurringIssues() []*EnrichedIssue {
	return r.filterByStatus(IssueStatusRecurring)
}

// ResolvedIssues returns the issues Stage B classified as already resolved.
func (r *EnrichedReport) ResolvedIssues() []*EnrichedIssue {
	return r.filterByStatus(IssueStatusAlreadyResolved)
}

func (r *EnrichedReport) filterByStatus(status IssueStatus) []*EnrichedIssue {
	var out []*EnrichedIssue
	for _, i := range r.Issues {
		if i.Status == status {
			out = append(out, i)
		}
	}
	return out
}
