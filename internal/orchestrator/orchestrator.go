// Package orchestrator runs one full dreaming cycle: for every enabled
// connector, pull new conversations, run Stage A analysis, Stage B
// filtering/comparison, and Stage C resolution, then persist connector and
// dreaming-level progress. It is the thing cmd/good-night's "run"
// subcommand and a future scheduled daemon both call into.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/soft-beds-inc/good-night/internal/agentrt"
	"github.com/soft-beds-inc/good-night/internal/agentrt/providers"
	"github.com/soft-beds-inc/good-night/internal/config"
	"github.com/soft-beds-inc/good-night/internal/connector"
	"github.com/soft-beds-inc/good-night/internal/detect"
	"github.com/soft-beds-inc/good-night/internal/embedtext"
	"github.com/soft-beds-inc/good-night/internal/events"
	"github.com/soft-beds-inc/good-night/internal/filter"
	"github.com/soft-beds-inc/good-night/internal/promptmod"
	"github.com/soft-beds-inc/good-night/internal/remstore"
	"github.com/soft-beds-inc/good-night/internal/remstore/vecstore"
	"github.com/soft-beds-inc/good-night/internal/resolve"
	"github.com/soft-beds-inc/good-night/internal/resolve/artifacts"
	"github.com/soft-beds-inc/good-night/internal/statestore"
	"github.com/soft-beds-inc/good-night/pkg/model"
)

// Result is the outcome of one dreaming cycle, returned to the caller and
// mirrored into the "complete"/"error" lifecycle events.
type Result struct {
	Success               bool
	Error                 string
	NoNewConversations    bool
	RunID                 string
	ConversationsAnalyzed int
	IssuesFound           int
	ResolutionsGenerated  int
	DurationSeconds       float64
	ResolutionFiles       []string
	Statistics            Statistics
}

// Orchestrator wires every dreaming-pipeline package together for one
// runtime directory. Build one per process; Run executes a single cycle
// and is safe to call repeatedly (e.g. from a scheduled loop), since all
// per-cycle state lives in local variables rather than on the receiver.
type Orchestrator struct {
	runtimeDir string
	config     *config.Config
	dryRun     bool
	stateStore *statestore.Store
	remStore   *remstore.FileStore
	vecStore   *vecstore.Store
	registry   *artifacts.Registry
	stream     *events.Stream
	metrics    *Metrics

	// prompts is built once and kept for the orchestrator's whole
	// lifetime rather than rebuilt per cycle, so promptWatcher's
	// background rescans are visible at the next cycle boundary without
	// this orchestrator needing to re-stat the directory itself.
	prompts       *promptmod.Loader
	promptWatcher *promptmod.Watcher

	connectorFilter   []string
	promptFilter      []string
	conversationLimit int

	// providerOverride and connectorsOverride let package-internal tests
	// substitute a fake Agent Runtime provider and fake connector sources
	// without touching environment variables or the home directory.
	// Neither is ever set outside _test.go files.
	providerOverride   agentrt.Provider
	connectorsOverride []connector.Source
}

// New builds an Orchestrator rooted at runtimeDir. A nil stream is
// replaced with a fresh one: every stage already tolerates a nil stream by
// skipping event emission, but giving Run its own stream lets a caller
// (e.g. a CLI progress view) Subscribe before calling Run.
func New(runtimeDir string, cfg *config.Config, dryRun bool, stream *events.Stream) *Orchestrator {
	if stream == nil {
		stream = events.NewStream(events.DefaultCapacity)
	}
	var embedder vecstore.Embedder
	if cfg.Embedding.Enabled {
		embedder = embedtext.NewOllamaEmbedder(embedtext.OllamaConfig{
			BaseURL: cfg.Embedding.BaseURL,
			Model:   cfg.Embedding.Model,
		})
	}

	prompts := promptmod.NewLoader(filepath.Join(runtimeDir, "prompts"))
	promptWatcher := promptmod.NewWatcher(prompts, promptmod.DefaultWatchDebounce)
	if err := promptWatcher.Start(context.Background()); err != nil {
		slog.Warn("prompt module watcher failed to start; hot-reload disabled for this run", "error", err)
	}

	return &Orchestrator{
		runtimeDir:    runtimeDir,
		config:        cfg,
		dryRun:        dryRun,
		stateStore:    statestore.New(runtimeDir),
		remStore:      remstore.NewFileStore(runtimeDir, dryRun),
		vecStore:      vecstore.New(filepath.Join(runtimeDir, "vectors.db"), embedder),
		registry:      artifacts.NewRegistry(),
		stream:        stream,
		metrics:       NewMetrics(),
		prompts:       prompts,
		promptWatcher: promptWatcher,
	}
}

// Close stops the orchestrator's background prompt-module watcher. Safe
// to call on an Orchestrator that was never run.
func (o *Orchestrator) Close() error {
	return o.promptWatcher.Close()
}

// SetConnectorFilter restricts the cycle to the given connector ids
// instead of config.Enabled.Connectors.
func (o *Orchestrator) SetConnectorFilter(ids []string) { o.connectorFilter = ids }

// SetPromptFilter restricts Stage A to the given prompt module names
// instead of config.Enabled.Prompts.
func (o *Orchestrator) SetPromptFilter(names []string) { o.promptFilter = names }

// SetConversationLimit caps how many conversations a single Extract call
// returns, for tests and manual debugging runs. Zero means unlimited.
func (o *Orchestrator) SetConversationLimit(n int) { o.conversationLimit = n }

// Stream returns the event stream this orchestrator's cycles publish to.
func (o *Orchestrator) Stream() *events.Stream { return o.stream }

// Run executes one dreaming cycle across every enabled connector.
//
// DurationSeconds and Statistics.CostUSD are computed on every return
// path, including the no-connectors-available and error branches — unlike
// the reference implementation, whose equivalent early returns skip that
// bookkeeping entirely.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	runID := uuid.NewString()
	result := &Result{Success: true, RunID: runID}
	stats := &Statistics{Model: o.currentModel(), Pricing: costRatesFromConfig(o.config.Pricing)}

	finish := func() *Result {
		result.DurationSeconds = time.Since(start).Seconds()
		result.Statistics = *stats
		outcome := "success"
		if !result.Success {
			outcome = "error"
		} else if result.NoNewConversations {
			outcome = "no_conversations"
		}
		o.metrics.RecordCycle(outcome, result.DurationSeconds, *stats)
		return result
	}

	o.stream.Emit(model.AgentEvent{
		Type:    model.EventRunStarted,
		AgentID: "orchestrator",
		Summary: "Starting dreaming cycle",
		Data:    map[string]any{"run_id": runID, "dry_run": o.dryRun},
	})

	// Any failure to stand up a provider — a missing API key, an AWS
	// credential problem, an unknown provider id — degrades to a failed
	// Result rather than a returned Go error, matching the original's
	// single broad try/except around the whole cycle body.
	provider := o.providerOverride
	var err error
	if provider == nil {
		provider, err = o.buildProvider(ctx)
	}
	if err != nil {
		result.Success = false
		result.Error = authErrorMessage(err)
		o.stream.Emit(model.AgentEvent{Type: model.EventRunError, AgentID: "orchestrator", Summary: result.Error, Terminal: true})
		return finish(), nil
	}

	connectorIDs := o.connectorFilter
	if len(connectorIDs) == 0 {
		connectorIDs = o.config.Enabled.Connectors
	}
	sources := o.connectorsOverride
	if sources == nil {
		sources = o.buildConnectors(connectorIDs)
	}
	if len(sources) == 0 {
		result.Success = false
		result.Error = "No connectors available"
		o.stream.Emit(model.AgentEvent{Type: model.EventRunError, AgentID: "orchestrator", Summary: result.Error, Terminal: true})
		return finish(), nil
	}

	prompts := o.prompts
	enabledPrompts := o.promptFilter
	if len(enabledPrompts) == 0 {
		enabledPrompts = o.config.Enabled.Prompts
	}
	enabledArtifacts := discoverEnabledArtifacts(o.runtimeDir)

	totalConversations := 0
	for _, source := range sources {
		conversations, err := o.extractConversations(ctx, source)
		if err != nil {
			if agentrt.IsAuthenticationError(err) {
				result.Success = false
				result.Error = authErrorMessage(err)
				o.stream.Emit(model.AgentEvent{Type: model.EventRunError, AgentID: "orchestrator", Summary: result.Error, Terminal: true})
				return finish(), nil
			}
			continue
		}
		totalConversations += len(conversations)
		if len(conversations) == 0 {
			continue
		}

		report, err := detect.Analyze(ctx, provider, prompts, source.Name(), conversations, enabledPrompts, o.stream)
		if err != nil {
			if agentrt.IsAuthenticationError(err) {
				result.Success = false
				result.Error = authErrorMessage(err)
				o.stream.Emit(model.AgentEvent{Type: model.EventRunError, AgentID: "orchestrator", Summary: result.Error, Terminal: true})
				return finish(), nil
			}
			continue
		}
		stats.Add(report.TokenUsage)
		if len(report.Issues) == 0 {
			continue
		}

		enriched, err := filter.Compare(ctx, provider, report, o.remStore, o.vecStore, o.config.Dreaming.HistoricalLookbackDays, o.stream)
		if err != nil {
			continue
		}
		// enriched.TokenUsage already accumulates from report.TokenUsage
		// (EnrichedReportFromAnalysisReport copies it in), so only the
		// Stage B delta on top of what was already counted above is new.
		stats.Add(model.TokenUsage{
			InputTokens:  enriched.TokenUsage.InputTokens - report.TokenUsage.InputTokens,
			OutputTokens: enriched.TokenUsage.OutputTokens - report.TokenUsage.OutputTokens,
		})
		result.IssuesFound += len(enriched.Issues)

		resolution, err := resolve.Generate(ctx, provider, enriched, o.remStore, o.registry, o.runtimeDir, enabledArtifacts, o.dryRun, true, runID, o.stream)
		if err == nil && resolution != nil {
			result.ResolutionsGenerated++
			result.ResolutionFiles = append(result.ResolutionFiles, resolution.ID)
			stats.Add(resolutionTokenUsage(resolution))
			o.indexResolution(ctx, resolution, source.Name())
		}

		if !o.dryRun {
			latest := latestConversationTimestamp(conversations)
			if !latest.IsZero() {
				_ = source.SetLastProcessed(ctx, latest)
				_ = o.stateStore.UpdateConnector(source.Name(), latest, "", len(conversations))
			}
		}
	}

	if totalConversations == 0 {
		result.NoNewConversations = true
		o.stream.Emit(model.AgentEvent{
			Type:    model.EventRunFinished,
			AgentID: "orchestrator",
			Summary: "No new conversations to analyze",
			Terminal: true,
		})
		return finish(), nil
	}

	result.ConversationsAnalyzed = totalConversations
	if !o.dryRun {
		_ = o.stateStore.RecordRun(result.IssuesFound, result.ResolutionsGenerated)
	}

	o.stream.Emit(model.AgentEvent{
		Type:    model.EventRunFinished,
		AgentID: "orchestrator",
		Summary: fmt.Sprintf("Analyzed %d conversations, found %d issues, generated %d resolutions", totalConversations, result.IssuesFound, result.ResolutionsGenerated),
		Data:    stats.ToMap(),
		Terminal: true,
	})

	return finish(), nil
}

// costRatesFromConfig recasts the document's pricing table into the shape
// Statistics.CostUSD works with, keeping the cost formula itself free of a
// dependency on the config package.
func costRatesFromConfig(pricing map[string]config.ModelCostRates) map[string]CostRates {
	out := make(map[string]CostRates, len(pricing))
	for id, rates := range pricing {
		out[id] = CostRates{
			Input:      rates.InputPerMillion,
			Output:     rates.OutputPerMillion,
			CacheWrite: rates.CacheWritePerMillion,
			CacheRead:  rates.CacheReadPerMillion,
		}
	}
	return out
}

// currentModel picks the model id the active provider setting will use,
// purely for cost-table lookup — it does not itself construct a provider.
func (o *Orchestrator) currentModel() string {
	switch o.config.Provider.Default {
	case "anthropic":
		return o.config.Provider.Anthropic.Model
	default:
		return o.config.Provider.Bedrock.Model
	}
}

// buildProvider constructs the configured Agent Runtime backend. There is
// no separate provider-factory package: Orchestrator is the only caller
// that needs to turn config into a live provider, so the switch lives
// here rather than behind an extra layer of indirection.
func (o *Orchestrator) buildProvider(ctx context.Context) (agentrt.Provider, error) {
	switch o.config.Provider.Default {
	case "anthropic":
		apiKey := os.Getenv(o.config.Provider.Anthropic.APIKeyEnv)
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       apiKey,
			DefaultModel: o.config.Provider.Anthropic.Model,
		})
	case "bedrock":
		return providers.NewBedrockProvider(ctx, providers.BedrockConfig{
			Region:       o.config.Provider.Bedrock.Region,
			DefaultModel: o.config.Provider.Bedrock.Model,
		})
	default:
		return nil, fmt.Errorf("orchestrator: unknown provider %q", o.config.Provider.Default)
	}
}

// buildConnectors constructs a Source for every known, requested
// connector id. An id with no matching connector implementation is
// skipped rather than treated as an error — exactly one connector type
// exists today (claude-code), matching the original's initial scope.
func (o *Orchestrator) buildConnectors(ids []string) []connector.Source {
	var sources []connector.Source
	for _, id := range ids {
		switch id {
		case "claude-code":
			sources = append(sources, connector.NewClaudeCode("", o.runtimeDir))
		}
	}
	return sources
}

// extractConversations implements the three lookback strategies: an
// explicit test/debug limit, first-run initial lookback, and the normal
// since-last-processed case.
func (o *Orchestrator) extractConversations(ctx context.Context, source connector.Source) ([]model.Conversation, error) {
	if o.conversationLimit > 0 {
		batch, err := source.Extract(ctx, time.Time{}, "", o.conversationLimit)
		if err != nil {
			return nil, err
		}
		return batch.Conversations, nil
	}

	last, err := source.LastProcessed(ctx)
	if err != nil {
		return nil, err
	}

	since := last
	if since.IsZero() {
		days := o.config.Dreaming.InitialLookbackDays
		if days <= 0 {
			days = 7
		}
		since = time.Now().UTC().AddDate(0, 0, -days)
	}

	batch, err := source.Extract(ctx, since, "", 0)
	if err != nil {
		return nil, err
	}
	return batch.Conversations, nil
}

// latestConversationTimestamp returns the newest EndedAt (falling back to
// StartedAt) across a batch, for advancing a connector's cursor.
func latestConversationTimestamp(conversations []model.Conversation) time.Time {
	var latest time.Time
	for _, c := range conversations {
		ts := c.EndedAt
		if ts.IsZero() {
			ts = c.StartedAt
		}
		if ts.After(latest) {
			latest = ts
		}
	}
	return latest
}

// discoverEnabledArtifacts lists the artifact types Stage C should offer
// the resolution agent: the two built-in handlers, which work with no
// on-disk definition, plus any custom type with a runtimeDir/artifacts/*.md
// definition file. This replaces the reference implementation's
// config-driven artifact list per internal/config's EnabledComponents
// documentation: artifact enablement is derived from disk, not config.
func discoverEnabledArtifacts(runtimeDir string) []string {
	ids := map[string]bool{"claude-skills": true, "claude-md": true}
	matches, _ := filepath.Glob(filepath.Join(runtimeDir, "artifacts", "*.md"))
	for _, m := range matches {
		id := filepath.Base(m)
		id = id[:len(id)-len(filepath.Ext(id))]
		ids[id] = true
	}
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// resolutionTokenUsage reads back the token usage internal/resolve.Generate
// stashed in the resolution's metadata.
func resolutionTokenUsage(r *model.Resolution) model.TokenUsage {
	raw, ok := r.Metadata["token_usage"].(map[string]int)
	if !ok {
		return model.TokenUsage{}
	}
	return model.TokenUsage{InputTokens: raw["input_tokens"], OutputTokens: raw["output_tokens"]}
}

// indexResolution best-effort indexes every action of a finalized
// resolution into the vector store, so a future cycle's Stage B semantic
// search can find it. Indexing failure (including "not configured") is
// never fatal, matching searchVector's own tolerance for a broken or
// absent vector store.
func (o *Orchestrator) indexResolution(ctx context.Context, r *model.Resolution, connectorID string) {
	for _, cr := range r.Resolutions {
		for _, action := range cr.Actions {
			title, _ := action.Content["name"].(string)
			description, _ := action.Content["description"].(string)
			_ = o.vecStore.Index(ctx, r.ID, connectorID, action.Target, title, description, action.Rationale, r.CreatedAt)
		}
	}
}

// authErrorMessage surfaces an authentication failure's message: since
// *agentrt.AuthenticationError already formats its hint into Error(), the
// error string itself is exactly what the operator needs to see.
func authErrorMessage(err error) string {
	return err.Error()
}
