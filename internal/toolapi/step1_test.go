package toolapi

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soft-beds-inc/good-night/pkg/model"
)

func humanMsg(content string, ts time.Time) model.Message {
	return model.Message{Role: model.RoleHuman, Content: content, Timestamp: ts}
}

func TestScanRecentHumanMessages_GroupsByWorkingDirectory(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	convs := []model.Conversation{
		{
			SessionID: "s1",
			Messages:  []model.Message{humanMsg("please run tests", base)},
			Metadata:  map[string]any{"working_directory": "/repo/one"},
		},
		{
			SessionID: "s2",
			Messages:  []model.Message{humanMsg("please run tests again", base.Add(time.Hour))},
			Metadata:  map[string]any{"working_directory": "/repo/one"},
		},
		{
			SessionID: "s3",
			Messages:  []model.Message{humanMsg("unrelated project question", base)},
			Metadata:  map[string]any{},
		},
	}
	c := NewStep1Context(convs)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(c.scanRecentHumanMessages("", 100)), &out))

	groups := out["groups"].([]any)
	require.Len(t, groups, 2)

	var projectGroup, noProjectGroup map[string]any
	for _, g := range groups {
		gm := g.(map[string]any)
		switch gm["working_directory"] {
		case "/repo/one":
			projectGroup = gm
		case "(no project)":
			noProjectGroup = gm
		}
	}
	require.NotNil(t, projectGroup)
	require.NotNil(t, noProjectGroup)

	msgs := projectGroup["messages"].([]any)
	require.Len(t, msgs, 2)
	// sorted by timestamp desc: the later message (s2) comes first.
	first := msgs[0].(map[string]any)
	assert.Equal(t, "s2", first["session_id"])
}

func TestScanRecentHumanMessages_FiltersToOneProject(t *testing.T) {
	base := time.Now()
	convs := []model.Conversation{
		{SessionID: "s1", Messages: []model.Message{humanMsg("a", base)}, Metadata: map[string]any{"working_directory": "/repo/one"}},
		{SessionID: "s2", Messages: []model.Message{humanMsg("b", base)}, Metadata: map[string]any{"working_directory": "/repo/two"}},
	}
	c := NewStep1Context(convs)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(c.scanRecentHumanMessages("/repo/one", 100)), &out))
	groups := out["groups"].([]any)
	require.Len(t, groups, 1)
	assert.Equal(t, "/repo/one", groups[0].(map[string]any)["working_directory"])
}

func TestScanRecentHumanMessages_TruncatesLongContentAndRespectsLimit(t *testing.T) {
	long := make([]byte, 400)
	for i := range long {
		long[i] = 'x'
	}
	base := time.Now()
	convs := []model.Conversation{{
		SessionID: "s1",
		Messages: []model.Message{
			humanMsg(string(long), base),
			humanMsg("short one", base.Add(time.Minute)),
			humanMsg("short two", base.Add(2*time.Minute)),
		},
		Metadata: map[string]any{"working_directory": "/repo/one"},
	}}
	c := NewStep1Context(convs)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(c.scanRecentHumanMessages("/repo/one", 2)), &out))
	group := out["groups"].([]any)[0].(map[string]any)
	msgs := group["messages"].([]any)
	require.Len(t, msgs, 2) // limit applied per group

	// the oldest (the 400-char one) isn't in the top 2 by timestamp.
	for _, m := range msgs {
		mm := m.(map[string]any)
		assert.False(t, mm["truncated"].(bool))
	}

	// with room for all three, the oldest (400-char) message is cut to 300.
	var all map[string]any
	require.NoError(t, json.Unmarshal([]byte(c.scanRecentHumanMessages("/repo/one", 3)), &all))
	allMsgs := all["groups"].([]any)[0].(map[string]any)["messages"].([]any)
	require.Len(t, allMsgs, 3)
	oldest := allMsgs[2].(map[string]any)
	assert.True(t, oldest["truncated"].(bool))
	assert.Len(t, oldest["content"].(string), 300)
}

func TestScanRecentHumanMessages_IgnoresNonHumanMessages(t *testing.T) {
	convs := []model.Conversation{{
		SessionID: "s1",
		Messages: []model.Message{
			{Role: model.RoleAssistant, Content: "a reply"},
			humanMsg("a question", time.Now()),
		},
		Metadata: map[string]any{"working_directory": "/repo/one"},
	}}
	c := NewStep1Context(convs)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(c.scanRecentHumanMessages("", 100)), &out))
	group := out["groups"].([]any)[0].(map[string]any)
	assert.EqualValues(t, 1, group["total"])
}

func TestReportIssue_DefaultsLocalChangeToFalse(t *testing.T) {
	c := NewStep1Context(nil)
	c.reportIssue(map[string]any{
		"type": "other", "severity": "low", "title": "t", "description": "d",
	})
	require.Len(t, c.ReportedIssues, 1)
	assert.False(t, c.ReportedIssues[0].LocalChange)
}

func TestReportIssue_ReadsLocalChangeTrue(t *testing.T) {
	c := NewStep1Context(nil)
	c.reportIssue(map[string]any{
		"type": "other", "severity": "low", "title": "t", "description": "d", "local_change": true,
	})
	require.Len(t, c.ReportedIssues, 1)
	assert.True(t, c.ReportedIssues[0].LocalChange)
}

func TestBuildStep1Tools_RegistersSixTools(t *testing.T) {
	c := NewStep1Context(nil)
	defs := BuildStep1Tools(c)

	names := make(map[string]bool, len(defs))
	for _, d := range defs {
		names[d.Name] = true
	}
	assert.Len(t, defs, 6)
	for _, want := range []string{
		"scan_recent_human_messages", "list_conversations", "get_messages",
		"get_full_message", "search_messages", "report_issue",
	} {
		assert.True(t, names[want], "missing tool %s", want)
	}
}
