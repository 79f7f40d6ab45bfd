package toolapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soft-beds-inc/good-night/pkg/model"
)

func enrichedIssue(id string, localChange bool) *model.EnrichedIssue {
	issue := model.EnrichedIssue{
		Issue: model.Issue{ID: id, Title: "issue " + id, LocalChange: localChange},
	}
	return &issue
}

func newStep3ContextWithIssues(issues ...*model.EnrichedIssue) *Step3Context {
	return NewStep3Context(&model.EnrichedReport{ConnectorID: "conn", Issues: issues}, map[string]ArtifactHandler{}, nil, false)
}

func TestCreateResolutionAction_LocalChangeTrueWhenAnyIssueIsLocal(t *testing.T) {
	local := enrichedIssue("i1", true)
	global := enrichedIssue("i2", false)
	local.Status = model.IssueStatusNew
	global.Status = model.IssueStatusNew
	c := newStep3ContextWithIssues(local, global)
	c.EnabledArtifacts = []string{"skill"}
	c.Handlers = map[string]ArtifactHandler{}

	result := c.createResolutionAction(map[string]any{
		"artifact_type": "skill",
		"name":          "Run Tests",
		"content":       map[string]any{"name": "Run Tests", "description": "d"},
		"issue_refs":    []any{"i1", "i2"},
	})
	assert.NotContains(t, result, `"error"`)
	require.Len(t, c.Actions, 1)
	assert.True(t, c.Actions[0].LocalChange)
}

func TestCreateResolutionAction_LocalChangeFalseWhenNoIssueIsLocal(t *testing.T) {
	global := enrichedIssue("i1", false)
	global.Status = model.IssueStatusNew
	c := newStep3ContextWithIssues(global)
	c.EnabledArtifacts = []string{"skill"}

	result := c.createResolutionAction(map[string]any{
		"artifact_type": "skill",
		"name":          "Run Tests",
		"content":       map[string]any{"name": "Run Tests", "description": "d"},
		"issue_refs":    []any{"i1"},
	})
	assert.NotContains(t, result, `"error"`)
	require.Len(t, c.Actions, 1)
	assert.False(t, c.Actions[0].LocalChange)
}

func TestResolution_CarriesLocalChangeIntoRemediationAction(t *testing.T) {
	local := enrichedIssue("i1", true)
	local.Status = model.IssueStatusNew
	c := newStep3ContextWithIssues(local)
	c.EnabledArtifacts = []string{"skill"}

	c.createResolutionAction(map[string]any{
		"artifact_type": "skill",
		"name":          "Run Tests",
		"content":       map[string]any{"name": "Run Tests", "description": "d"},
		"issue_refs":    []any{"i1"},
	})
	out := c.finalizeResolution()
	assert.Contains(t, out, `"success": true`)

	res := c.Resolution()
	require.NotNil(t, res)
	require.Len(t, res.Resolutions, 1)
	require.Len(t, res.Resolutions[0].Actions, 1)
	assert.True(t, res.Resolutions[0].Actions[0].LocalChange)
}
