package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soft-beds-inc/good-night/internal/agentrt"
	"github.com/soft-beds-inc/good-night/internal/config"
	"github.com/soft-beds-inc/good-night/internal/connector"
	"github.com/soft-beds-inc/good-night/pkg/model"
)

// fakeConnector is a scripted connector.Source: its LastProcessed and
// Extract results are set directly rather than derived from disk, so Run
// can be exercised without touching a real Claude Code projects directory.
type fakeConnector struct {
	name             string
	lastProcessed    time.Time
	lastProcessedErr error
	conversations    []model.Conversation
	extractErr       error

	extractCalls          int
	setLastProcessedCalls int
}

func (f *fakeConnector) Name() string { return f.name }

func (f *fakeConnector) LastProcessed(ctx context.Context) (time.Time, error) {
	return f.lastProcessed, f.lastProcessedErr
}

func (f *fakeConnector) Extract(ctx context.Context, since time.Time, cursor string, limit int) (*model.Batch, error) {
	f.extractCalls++
	if f.extractErr != nil {
		return nil, f.extractErr
	}
	return &model.Batch{Conversations: f.conversations}, nil
}

func (f *fakeConnector) SetLastProcessed(ctx context.Context, t time.Time) error {
	f.setLastProcessedCalls++
	return nil
}

// noCallProvider fails the test if Query is ever invoked, for paths that
// should never reach Stage A (no conversations extracted).
type noCallProvider struct{ t *testing.T }

func (p *noCallProvider) Name() string         { return "no-call" }
func (p *noCallProvider) DefaultModel() string { return "no-call-model" }
func (p *noCallProvider) Query(ctx context.Context, req *agentrt.Request) (*agentrt.Response, error) {
	p.t.Fatal("provider should not be queried on this path")
	return nil, nil
}

func testOrchestrator(t *testing.T) (*Orchestrator, *config.Config) {
	t.Helper()
	runtimeDir := t.TempDir()
	cfg, err := config.Load(runtimeDir)
	require.NoError(t, err)
	orch := New(runtimeDir, cfg, false, nil)
	return orch, cfg
}

func TestRun_UnknownProviderFailsWithoutPanickingAndStillComputesDuration(t *testing.T) {
	orch, cfg := testOrchestrator(t)
	cfg.Provider.Default = "openai"

	result, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "unknown provider")
	assert.GreaterOrEqual(t, result.DurationSeconds, 0.0)
}

func TestRun_NoConnectorsAvailable(t *testing.T) {
	orch, _ := testOrchestrator(t)
	orch.providerOverride = &noCallProvider{t: t}
	orch.connectorsOverride = nil
	orch.connectorFilter = []string{"does-not-exist"}

	result, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "No connectors available", result.Error)
	assert.GreaterOrEqual(t, result.DurationSeconds, 0.0)
}

func TestRun_NoNewConversationsWhenAllSourcesEmpty(t *testing.T) {
	orch, _ := testOrchestrator(t)
	orch.providerOverride = &noCallProvider{t: t}
	source := &fakeConnector{name: "claude-code"}
	orch.connectorsOverride = []connector.Source{source}

	result, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.NoNewConversations)
	assert.Equal(t, 1, source.extractCalls)
}

func TestRun_ContinuesPastNonAuthConnectorError(t *testing.T) {
	orch, _ := testOrchestrator(t)
	orch.providerOverride = &noCallProvider{t: t}

	failing := &fakeConnector{name: "broken", lastProcessedErr: assertError("disk unreadable")}
	healthy := &fakeConnector{name: "claude-code"}
	orch.connectorsOverride = []connector.Source{failing, healthy}

	result, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.NoNewConversations)
	assert.Equal(t, 1, healthy.extractCalls, "the loop must still reach the second connector after the first one's error")
}

func TestRun_AbortsOnAuthConnectorError(t *testing.T) {
	orch, _ := testOrchestrator(t)
	orch.providerOverride = &noCallProvider{t: t}

	failing := &fakeConnector{name: "broken", lastProcessedErr: &agentrt.AuthenticationError{Message: "token expired", Hint: "re-authenticate"}}
	healthy := &fakeConnector{name: "claude-code"}
	orch.connectorsOverride = []connector.Source{failing, healthy}

	result, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "token expired")
	assert.Equal(t, 0, healthy.extractCalls, "an authentication failure must abort the cycle instead of trying the next connector")
}

func TestCostRatesFromConfig_ConvertsEveryField(t *testing.T) {
	in := map[string]config.ModelCostRates{
		"model-a": {InputPerMillion: 1, OutputPerMillion: 2, CacheWritePerMillion: 3, CacheReadPerMillion: 4},
	}
	out := costRatesFromConfig(in)
	assert.Equal(t, CostRates{Input: 1, Output: 2, CacheWrite: 3, CacheRead: 4}, out["model-a"])
}

func TestCurrentModel_PicksAnthropicOrBedrockByDefault(t *testing.T) {
	orch, cfg := testOrchestrator(t)
	cfg.Provider.Default = "anthropic"
	cfg.Provider.Anthropic.Model = "claude-sonnet-4-20250514"
	assert.Equal(t, "claude-sonnet-4-20250514", orch.currentModel())

	cfg.Provider.Default = "bedrock"
	cfg.Provider.Bedrock.Model = "us.anthropic.claude-sonnet-4-5-20250929-v1:0"
	assert.Equal(t, "us.anthropic.claude-sonnet-4-5-20250929-v1:0", orch.currentModel())
}

func TestDiscoverEnabledArtifacts_AlwaysIncludesBuiltins(t *testing.T) {
	ids := discoverEnabledArtifacts(t.TempDir())
	assert.Contains(t, ids, "claude-skills")
	assert.Contains(t, ids, "claude-md")
}

func TestResolutionTokenUsage_MissingMetadataReturnsZero(t *testing.T) {
	r := &model.Resolution{Metadata: map[string]any{}}
	usage := resolutionTokenUsage(r)
	assert.Equal(t, model.TokenUsage{}, usage)
}

func TestResolutionTokenUsage_ReadsStoredCounts(t *testing.T) {
	r := &model.Resolution{Metadata: map[string]any{
		"token_usage": map[string]int{"input_tokens": 10, "output_tokens": 20},
	}}
	usage := resolutionTokenUsage(r)
	assert.Equal(t, model.TokenUsage{InputTokens: 10, OutputTokens: 20}, usage)
}

func TestLatestConversationTimestamp_PrefersEndedAtFallsBackToStartedAt(t *testing.T) {
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	convs := []model.Conversation{
		{StartedAt: t1, EndedAt: t1},
		{StartedAt: t2},
	}
	assert.Equal(t, t2, latestConversationTimestamp(convs))
}

func TestAuthErrorMessage_IncludesHint(t *testing.T) {
	err := &agentrt.AuthenticationError{Message: "token expired", Hint: "re-authenticate"}
	assert.Contains(t, authErrorMessage(err), "re-authenticate")
}

// assertError is a trivial error for tests that need a plain, non-auth
// failure without pulling in errors.New at every call site.
type assertError string

func (e assertError) Error() string { return string(e) }
