package resolve

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soft-beds-inc/good-night/internal/agentrt"
	"github.com/soft-beds-inc/good-night/internal/judges"
	"github.com/soft-beds-inc/good-night/internal/remstore"
	"github.com/soft-beds-inc/good-night/internal/resolve/artifacts"
	"github.com/soft-beds-inc/good-night/pkg/model"
)

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

func reportWith(issues ...*model.EnrichedIssue) *model.EnrichedReport {
	return &model.EnrichedReport{ConnectorID: "conn-1", Issues: issues}
}

func newIssue(status model.IssueStatus, title string) *model.EnrichedIssue {
	i := model.NewIssue(model.IssueRepeatedRequest, title, "description of "+title)
	return &model.EnrichedIssue{Issue: *i, Status: status}
}

// noteRegistry builds a registry with a single "note" artifact type backed
// by GenericHandler, routed to write under dir instead of the cwd.
func noteRegistry(dir string) *artifacts.Registry {
	r := artifacts.NewRegistry()
	r.Register("note", func(runtimeDir string) artifacts.Handler {
		h := artifacts.NewGenericHandler("note", runtimeDir).(*artifacts.GenericHandler)
		h.Settings.OutputPath = dir
		return h
	})
	return r
}

func TestGenerate_NoIssuesReturnsNilWithoutProviderCall(t *testing.T) {
	report := reportWith(newIssue(model.IssueStatusAlreadyResolved, "already fixed"))
	provider := &scriptedProvider{}

	resolution, err := Generate(context.Background(), provider, report, nil, artifacts.NewRegistry(), t.TempDir(), []string{"note"}, false, false, "run-1", nil)
	require.NoError(t, err)
	assert.Nil(t, resolution)
	assert.Equal(t, 0, provider.n)
}

func TestGenerate_NilProviderReturnsNil(t *testing.T) {
	report := reportWith(newIssue(model.IssueStatusNew, "dark mode"))
	resolution, err := Generate(context.Background(), nil, report, nil, artifacts.NewRegistry(), t.TempDir(), []string{"note"}, false, false, "run-1", nil)
	require.NoError(t, err)
	assert.Nil(t, resolution)
}

func TestGenerate_AgentErrorReturnsNilNoFallback(t *testing.T) {
	report := reportWith(newIssue(model.IssueStatusNew, "dark mode"))
	provider := &scriptedProvider{err: errors.New("boom")}

	resolution, err := Generate(context.Background(), provider, report, nil, artifacts.NewRegistry(), t.TempDir(), []string{"note"}, false, false, "run-1", nil)
	require.NoError(t, err)
	assert.Nil(t, resolution)
}

func TestGenerate_AgentFinalizesSavesAndApplies(t *testing.T) {
	runtimeDir := t.TempDir()
	artifactsOutDir := t.TempDir()
	resolutionsDir := t.TempDir()

	issue := newIssue(model.IssueStatusNew, "dark mode")
	report := reportWith(issue)
	store := remstore.NewFileStore(resolutionsDir, false)
	registry := noteRegistry(artifactsOutDir)

	provider := &scriptedProvider{
		responses: []*agentrt.Response{
			{
				StopReason: agentrt.StopToolUse,
				ToolCalls: []agentrt.ToolCall{
					{ID: "1", Name: "create_resolution_action", Input: map[string]any{
						"artifact_type": "note",
						"name":          "dark-mode-note",
						"content":       map[string]any{"content": "remember dark mode preference"},
						"issue_refs":    []any{issue.ID},
						"rationale":     "user keeps asking",
					}},
				},
			},
			{
				StopReason: agentrt.StopToolUse,
				ToolCalls: []agentrt.ToolCall{
					{ID: "2", Name: "finalize_resolution", Input: map[string]any{}},
				},
			},
			{StopReason: agentrt.StopEndTurn, Content: "done"},
		},
	}

	resolution, err := Generate(context.Background(), provider, report, store, registry, runtimeDir, []string{"note"}, false, false, "run-1", nil)
	require.NoError(t, err)
	require.NotNil(t, resolution)
	assert.Equal(t, "run-1", resolution.DreamingRunID)
	require.Len(t, resolution.Resolutions, 1)
	require.Len(t, resolution.Resolutions[0].Actions, 1)

	saved, err := store.ListRecent(1)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, resolution.ID, saved[0].ID)

	entries, err := os.ReadDir(artifactsOutDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "dark-mode-note.md", entries[0].Name())
}

func TestGenerate_DryRunSavesButDoesNotApply(t *testing.T) {
	runtimeDir := t.TempDir()
	artifactsOutDir := t.TempDir()
	resolutionsDir := t.TempDir()

	issue := newIssue(model.IssueStatusNew, "dark mode")
	report := reportWith(issue)
	store := remstore.NewFileStore(resolutionsDir, true)
	registry := noteRegistry(artifactsOutDir)

	provider := &scriptedProvider{
		responses: []*agentrt.Response{
			{
				StopReason: agentrt.StopToolUse,
				ToolCalls: []agentrt.ToolCall{
					{ID: "1", Name: "create_resolution_action", Input: map[string]any{
						"artifact_type": "note",
						"name":          "dark-mode-note",
						"content":       map[string]any{"content": "remember dark mode preference"},
						"issue_refs":    []any{issue.ID},
					}},
				},
			},
			{
				StopReason: agentrt.StopToolUse,
				ToolCalls: []agentrt.ToolCall{
					{ID: "2", Name: "finalize_resolution", Input: map[string]any{}},
				},
			},
			{StopReason: agentrt.StopEndTurn, Content: "done"},
		},
	}

	resolution, err := Generate(context.Background(), provider, report, store, registry, runtimeDir, []string{"note"}, true, false, "run-1", nil)
	require.NoError(t, err)
	require.NotNil(t, resolution)

	saved, err := store.ListRecent(1)
	require.NoError(t, err)
	require.Len(t, saved, 1)

	entries, err := os.ReadDir(artifactsOutDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGenerate_NoActionsFinalizedReturnsNil(t *testing.T) {
	issue := newIssue(model.IssueStatusNew, "dark mode")
	report := reportWith(issue)

	provider := &scriptedProvider{
		responses: []*agentrt.Response{
			{StopReason: agentrt.StopEndTurn, Content: "I decided nothing needs fixing"},
		},
	}

	resolution, err := Generate(context.Background(), provider, report, nil, artifacts.NewRegistry(), t.TempDir(), []string{"note"}, false, false, "run-1", nil)
	require.NoError(t, err)
	assert.Nil(t, resolution)
}

func TestGenerate_EvaluateTruePopulatesMetadataEvaluations(t *testing.T) {
	runtimeDir := t.TempDir()
	artifactsOutDir := t.TempDir()
	resolutionsDir := t.TempDir()

	issue := newIssue(model.IssueStatusNew, "dark mode")
	report := reportWith(issue)
	store := remstore.NewFileStore(resolutionsDir, false)
	registry := noteRegistry(artifactsOutDir)

	provider := &scriptedProvider{
		responses: []*agentrt.Response{
			{
				StopReason: agentrt.StopToolUse,
				ToolCalls: []agentrt.ToolCall{
					{ID: "1", Name: "create_resolution_action", Input: map[string]any{
						"artifact_type": "note",
						"name":          "dark-mode-note",
						"content":       map[string]any{"content": "remember dark mode preference"},
						"issue_refs":    []any{issue.ID},
						"rationale":     "user keeps asking",
					}},
				},
			},
			{
				StopReason: agentrt.StopToolUse,
				ToolCalls: []agentrt.ToolCall{
					{ID: "2", Name: "finalize_resolution", Input: map[string]any{}},
				},
			},
			{StopReason: agentrt.StopEndTurn, Content: "done"},
			// The four judge calls evaluateActions makes per action, in order.
			{Content: `{"has_pii": false, "pii_types": [], "severity": "low", "explanation": "clean"}`},
			{Content: `{"is_significant": true, "significance_score": 0.8, "rationale": "matters"}`},
			{Content: `{"should_be_local": true, "confidence": 0.9, "rationale": "project scoped"}`},
			{Content: `{"is_applicable": true, "coverage_score": 0.7, "gaps": [], "rationale": "covers it"}`},
		},
	}

	resolution, err := Generate(context.Background(), provider, report, store, registry, runtimeDir, []string{"note"}, false, true, "run-1", nil)
	require.NoError(t, err)
	require.NotNil(t, resolution)

	evaluations, ok := resolution.Metadata["evaluations"].(map[string]any)
	require.True(t, ok)
	require.Len(t, evaluations, 1)

	action := resolution.Resolutions[0].Actions[0]
	entry, ok := evaluations[action.Target].(map[string]any)
	require.True(t, ok)

	pii, ok := entry["pii"].(judges.PIIResult)
	require.True(t, ok)
	assert.False(t, pii.HasPII)

	significance, ok := entry["significance"].(judges.SignificanceResult)
	require.True(t, ok)
	assert.True(t, significance.IsSignificant)
}

func TestValidateResolution_PathTraversalRejected(t *testing.T) {
	r := &model.Resolution{
		Resolutions: []model.ConnectorResolution{
			{Actions: []*model.RemediationAction{
				{Type: "note", Target: "../../etc/passwd", Operation: model.OperationCreate},
			}},
		},
	}
	errs := ValidateResolution(r)
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0], "path traversal not allowed")
}

func TestValidateResolution_SkillCreateRequiresNameAndInstructions(t *testing.T) {
	r := &model.Resolution{
		Resolutions: []model.ConnectorResolution{
			{Actions: []*model.RemediationAction{
				{Type: "skill", Target: "skills/foo/SKILL.md", Operation: model.OperationCreate, Content: map[string]any{}},
			}},
		},
	}
	errs := ValidateResolution(r)
	assert.Contains(t, errs, "resolutions[0].actions[0].content: skill 'create' requires 'name'")
	assert.Contains(t, errs, "resolutions[0].actions[0].content: skill 'create' requires 'instructions' or 'description'")
}

func TestValidateResolution_ClaudeSkillsAliasBypassesContentCheck(t *testing.T) {
	r := &model.Resolution{
		Resolutions: []model.ConnectorResolution{
			{Actions: []*model.RemediationAction{
				{Type: "claude-skills", Target: "skills/foo/SKILL.md", Operation: model.OperationCreate, Content: map[string]any{}},
			}},
		},
	}
	assert.Empty(t, ValidateResolution(r))
}

func TestValidateResolution_ValidActionPasses(t *testing.T) {
	r := &model.Resolution{
		Resolutions: []model.ConnectorResolution{
			{Actions: []*model.RemediationAction{
				{Type: "note", Target: filepath.Join("notes", "a.md"), Operation: model.OperationUpdate, Priority: model.PriorityHigh},
			}},
		},
	}
	assert.Empty(t, ValidateResolution(r))
}
