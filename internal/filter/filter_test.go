package filter

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soft-beds-inc/good-night/internal/agentrt"
	"github.com/soft-beds-inc/good-night/internal/remstore"
	"github.com/soft-beds-inc/good-night/pkg/model"
)

func issue(issueType model.IssueType, title, desc string) *model.Issue {
	i := model.NewIssue(issueType, title, desc)
	return i
}

func reportWith(issues ...*model.Issue) *model.AnalysisReport {
	return &model.AnalysisReport{ConnectorID: "conn-1", Issues: issues, ConversationsAnalyzed: 1}
}

// scriptedProvider replays a fixed sequence of responses, one per call.
type scriptedProvider struct {
	responses []*agentrt.Response
	err       error
	n         int
}

func (p *scriptedProvider) Name() string         { return "fake" }
func (p *scriptedProvider) DefaultModel() string { return "fake-model" }
func (p *scriptedProvider) Query(ctx context.Context, req *agentrt.Request) (*agentrt.Response, error) {
	if p.err != nil {
		return nil, p.err
	}
	resp := p.responses[p.n]
	p.n++
	return resp, nil
}

func TestCompare_NoProviderFallsBackImmediately(t *testing.T) {
	report := reportWith(issue(model.IssueRepeatedRequest, "dark mode", "user keeps asking for dark mode"))
	enriched, err := Compare(context.Background(), nil, report, nil, nil, 7, nil)
	require.NoError(t, err)
	assert.Equal(t, model.IssueStatusNew, enriched.Issues[0].Status)
}

func TestCompare_NoIssuesShortCircuits(t *testing.T) {
	report := reportWith()
	provider := &scriptedProvider{}
	enriched, err := Compare(context.Background(), provider, report, nil, nil, 7, nil)
	require.NoError(t, err)
	assert.Equal(t, "No issues to compare", enriched.Summary)
	assert.Equal(t, 0, provider.n)
}

func TestCompare_AgentIncludesOneExcludesOther(t *testing.T) {
	i1 := issue(model.IssueRepeatedRequest, "dark mode", "asked repeatedly")
	i2 := issue(model.IssueOther, "typo", "one-off typo complaint")
	report := reportWith(i1, i2)

	provider := &scriptedProvider{
		responses: []*agentrt.Response{
			{
				StopReason: agentrt.StopToolUse,
				ToolCalls: []agentrt.ToolCall{
					{ID: "1", Name: "include_issue", Input: map[string]any{"issue_id": i1.ID, "rationale": "recurring pattern"}},
				},
			},
			{
				StopReason: agentrt.StopToolUse,
				ToolCalls: []agentrt.ToolCall{
					{ID: "2", Name: "exclude_issue", Input: map[string]any{"issue_id": i2.ID, "reason": "one-time occurrence"}},
				},
			},
			{StopReason: agentrt.StopEndTurn, Content: "done filtering"},
		},
	}

	enriched, err := Compare(context.Background(), provider, report, nil, nil, 7, nil)
	require.NoError(t, err)
	require.Len(t, enriched.Issues, 1)
	assert.Equal(t, i1.ID, enriched.Issues[0].ID)
	assert.Equal(t, 7, enriched.HistoricalResolutionsChecked)
}

func TestCompare_AgentErrorFallsBackNonAgentic(t *testing.T) {
	i1 := issue(model.IssueRepeatedRequest, "dark mode", "asked repeatedly")
	report := reportWith(i1)
	provider := &scriptedProvider{err: context.DeadlineExceeded}

	enriched, err := Compare(context.Background(), provider, report, nil, nil, 7, nil)
	require.NoError(t, err)
	require.Len(t, enriched.Issues, 1)
	assert.Equal(t, model.IssueStatusNew, enriched.Issues[0].Status)
}

func TestCompareNonAgentic_ClassifiesAgainstHistory(t *testing.T) {
	dir := t.TempDir()
	store := remstore.NewFileStore(dir, false)

	i1 := issue(model.IssueRepeatedRequest, "Dark mode preference", "user wants dark mode by default")
	i1.SuggestedResolution = "add a dark mode skill"

	res := &model.Resolution{
		CreatedAt: time.Now().UTC(),
		Resolutions: []model.ConnectorResolution{
			{
				ConnectorID: "conn-1",
				Actions: []*model.RemediationAction{
					{
						Type:      "skill",
						Target:    i1.Title,
						Operation: model.OperationCreate,
						Content:   map[string]any{"description": i1.Description},
						Rationale: i1.SuggestedResolution,
					},
				},
			},
		},
	}
	require.NoError(t, store.Save(res))

	report := reportWith(i1)

	enriched, err := Compare(context.Background(), nil, report, store, nil, 7, nil)
	require.NoError(t, err)
	require.Len(t, enriched.Issues, 1)
	assert.NotEqual(t, model.IssueStatusNew, enriched.Issues[0].Status)
	require.NotEmpty(t, enriched.Issues[0].HistoricalLinks)
	assert.Equal(t, 1, enriched.HistoricalResolutionsChecked)
}

func TestCompareNonAgentic_NoHistoryIsNew(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	store := remstore.NewFileStore(dir, false)

	i1 := issue(model.IssueKnowledgeGap, "unrelated", "totally unrelated issue never seen before")
	report := reportWith(i1)

	enriched, err := Compare(context.Background(), nil, report, store, nil, 7, nil)
	require.NoError(t, err)
	assert.Equal(t, model.IssueStatusNew, enriched.Issues[0].Status)
	assert.Empty(t, enriched.Issues[0].HistoricalLinks)
}

func TestFindHistoricalMatches_FloorExcludesWeakMatches(t *testing.T) {
	i1 := issue(model.IssueOther, "zzz", "zzz")
	res := &model.Resolution{
		ID: "r1",
		Resolutions: []model.ConnectorResolution{
			{Actions: []*model.RemediationAction{
				model.NewRemediationAction("skill", "completely/different/path.md", model.OperationCreate,
					map[string]any{"title": "something else entirely", "description": "nothing alike"}),
			}},
		},
	}
	links, status := findHistoricalMatches(i1, []*model.Resolution{res})
	assert.Empty(t, links)
	assert.Equal(t, model.IssueStatusNew, status)
}
