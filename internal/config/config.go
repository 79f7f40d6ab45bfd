// Package config loads good-night's single YAML configuration document:
// daemon timing, the local control-surface API, the LLM provider choice,
// which connectors/prompt modules are enabled, and dreaming-cycle tuning.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DaemonSettings controls the (out-of-scope) supervising daemon loop.
// Intervals are plain seconds in the on-disk document, matching the
// original's dataclass fields, with duration accessors for callers that
// want a time.Duration.
type DaemonSettings struct {
	PollIntervalSeconds  int    `yaml:"poll_interval"`
	DreamIntervalSeconds int    `yaml:"dream_interval"`
	LogLevel             string `yaml:"log_level"`
}

// APISettings controls the (out-of-scope) local control-surface HTTP/WS
// listener. good-night's core never starts this listener itself; the
// settings exist so a future `serve` implementation has somewhere to read
// them from.
type APISettings struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// AnthropicSettings configures the direct Anthropic provider backend.
type AnthropicSettings struct {
	APIKeyEnv string `yaml:"api_key_env"`
	Model     string `yaml:"model"`
}

// BedrockSettings configures the AWS Bedrock cloud-gateway provider backend.
type BedrockSettings struct {
	Region string `yaml:"region"`
	Model  string `yaml:"model"`
}

// ProviderSettings picks which Agent Runtime backend is active by default
// and holds both backends' settings regardless of which is selected, so
// switching providers never requires restructuring the document.
type ProviderSettings struct {
	Default   string            `yaml:"default"`
	Anthropic AnthropicSettings `yaml:"anthropic"`
	Bedrock   BedrockSettings   `yaml:"bedrock"`
}

// DreamingSettings tunes the three-stage pipeline itself.
//
// ExplorationAgents is carried over from the original document shape for
// config-file compatibility, but internal/detect does not read it: Stage A
// fans out one agent per working_directory group unconditionally, per the
// partitioning redesign, rather than splitting conversations round-robin
// across a configured agent count.
type DreamingSettings struct {
	ExplorationAgents      int `yaml:"exploration_agents"`
	HistoricalLookbackDays int `yaml:"historical_lookback"`
	InitialLookbackDays    int `yaml:"initial_lookback_days"`
}

// EmbeddingSettings configures the local embedding backend Stage B's
// vector search calls out to. Disabled by default: a fresh runtime
// directory has no Ollama server to reach, and vecstore degrades to the
// lexical-only comparison path when Stage B never indexes anything.
type EmbeddingSettings struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// ModelCostRates is the USD-per-million-token price for one model tier,
// overridable per model id from the config document so a cost change or a
// new model never requires a code change.
type ModelCostRates struct {
	InputPerMillion      float64 `yaml:"input_per_million"`
	OutputPerMillion     float64 `yaml:"output_per_million"`
	CacheWritePerMillion float64 `yaml:"cache_write_per_million"`
	CacheReadPerMillion  float64 `yaml:"cache_read_per_million"`
}

// EnabledComponents lists which connectors and prompt modules are active.
//
// There is deliberately no "artifacts" field here. The Python original
// removed one from its equivalent dataclass (artifact enablement is
// derived by which `artifacts/<type>.md` definition files exist on disk,
// not by a config list) but left a stale reference to the removed field in
// its resolution-step prompt builder. This port follows the intended,
// post-removal design: internal/resolve derives enabled artifact types by
// listing runtimeDir/artifacts/*.md directly.
type EnabledComponents struct {
	Connectors []string `yaml:"connectors"`
	Prompts    []string `yaml:"prompts"`
}

// Config is the single parsed configuration document.
type Config struct {
	Daemon   DaemonSettings    `yaml:"daemon"`
	API      APISettings       `yaml:"api"`
	Provider ProviderSettings  `yaml:"provider"`
	Enabled   EnabledComponents `yaml:"enabled"`
	Dreaming  DreamingSettings  `yaml:"dreaming"`
	Embedding EmbeddingSettings `yaml:"embedding"`
	Pricing   map[string]ModelCostRates `yaml:"pricing"`
}

// PollInterval is DaemonSettings.PollIntervalSeconds as a time.Duration.
func (d DaemonSettings) PollInterval() time.Duration {
	return time.Duration(d.PollIntervalSeconds) * time.Second
}

// DreamInterval is DaemonSettings.DreamIntervalSeconds as a time.Duration.
func (d DaemonSettings) DreamInterval() time.Duration {
	return time.Duration(d.DreamIntervalSeconds) * time.Second
}

func defaultConfig() *Config {
	return &Config{
		Daemon: DaemonSettings{PollIntervalSeconds: 60, DreamIntervalSeconds: 3600, LogLevel: "INFO"},
		API:    APISettings{Enabled: true, Host: "127.0.0.1", Port: 7777},
		Provider: ProviderSettings{
			Default:   "bedrock",
			Anthropic: AnthropicSettings{APIKeyEnv: "ANTHROPIC_API_KEY", Model: "claude-sonnet-4-20250514"},
			Bedrock:   BedrockSettings{Region: "us-east-1", Model: "us.anthropic.claude-sonnet-4-5-20250929-v1:0"},
		},
		Enabled: EnabledComponents{
			Connectors: []string{"claude-code"},
			Prompts:    []string{"pattern-detection", "frustration-signals"},
		},
		Dreaming: DreamingSettings{
			ExplorationAgents:      1,
			HistoricalLookbackDays: 7,
			InitialLookbackDays:    7,
		},
		Embedding: EmbeddingSettings{
			Enabled: false,
			BaseURL: "http://localhost:11434",
			Model:   "all-minilm",
		},
		Pricing: defaultPricing(),
	}
}

// defaultPricing is the published Claude Sonnet 4 rate card, used for any
// model id the config document doesn't override.
func defaultPricing() map[string]ModelCostRates {
	sonnet := ModelCostRates{InputPerMillion: 3.00, OutputPerMillion: 15.00, CacheWritePerMillion: 3.75, CacheReadPerMillion: 0.30}
	return map[string]ModelCostRates{
		"claude-sonnet-4-20250514":                      sonnet,
		"us.anthropic.claude-sonnet-4-5-20250929-v1:0": sonnet,
		"default":                                       sonnet,
	}
}

// Load reads runtimeDir/config.yaml, applying environment overrides and
// defaults for anything unset, and validating the result. A missing file
// is not an error: it starts from defaultConfig() and still applies the
// environment overrides, matching the original's "no config file yet"
// behavior on a fresh runtime directory.
func Load(runtimeDir string) (*Config, error) {
	return LoadFile(filepath.Join(runtimeDir, "config.yaml"))
}

// LoadFile loads a config document from an explicit path instead of the
// runtime directory's conventional config.yaml location.
func LoadFile(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := defaultConfig()
		applyEnvOverrides(cfg)
		if err := validateConfig(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	raw, err := loadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	cfg := &Config{}
	if err := reencode(raw, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills in any zero-valued field left unset by the document,
// one helper function per section.
func applyDefaults(cfg *Config) {
	applyDaemonDefaults(&cfg.Daemon)
	applyAPIDefaults(&cfg.API)
	applyProviderDefaults(&cfg.Provider)
	applyEnabledDefaults(&cfg.Enabled)
	applyDreamingDefaults(&cfg.Dreaming)
	applyEmbeddingDefaults(&cfg.Embedding)
	applyPricingDefaults(cfg)
}

func applyDaemonDefaults(d *DaemonSettings) {
	if d.PollIntervalSeconds == 0 {
		d.PollIntervalSeconds = 60
	}
	if d.DreamIntervalSeconds == 0 {
		d.DreamIntervalSeconds = 3600
	}
	if d.LogLevel == "" {
		d.LogLevel = "INFO"
	}
}

func applyAPIDefaults(a *APISettings) {
	if a.Host == "" {
		a.Host = "127.0.0.1"
	}
	if a.Port == 0 {
		a.Port = 7777
	}
}

func applyProviderDefaults(p *ProviderSettings) {
	if p.Default == "" {
		p.Default = "bedrock"
	}
	if p.Anthropic.APIKeyEnv == "" {
		p.Anthropic.APIKeyEnv = "ANTHROPIC_API_KEY"
	}
	if p.Anthropic.Model == "" {
		p.Anthropic.Model = "claude-sonnet-4-20250514"
	}
	if p.Bedrock.Region == "" {
		p.Bedrock.Region = "us-east-1"
	}
	if p.Bedrock.Model == "" {
		p.Bedrock.Model = "us.anthropic.claude-sonnet-4-5-20250929-v1:0"
	}
}

func applyEnabledDefaults(e *EnabledComponents) {
	if len(e.Connectors) == 0 {
		e.Connectors = []string{"claude-code"}
	}
	if len(e.Prompts) == 0 {
		e.Prompts = []string{"pattern-detection", "frustration-signals"}
	}
}

func applyDreamingDefaults(d *DreamingSettings) {
	if d.ExplorationAgents == 0 {
		d.ExplorationAgents = 1
	}
	if d.HistoricalLookbackDays == 0 {
		d.HistoricalLookbackDays = 7
	}
	if d.InitialLookbackDays == 0 {
		d.InitialLookbackDays = 7
	}
}

func applyEmbeddingDefaults(e *EmbeddingSettings) {
	if e.BaseURL == "" {
		e.BaseURL = "http://localhost:11434"
	}
	if e.Model == "" {
		e.Model = "all-minilm"
	}
}

// applyPricingDefaults fills in the published rate card for any model id
// the document left unset, and guarantees a "default" fallback tier always
// exists for an unrecognized model id.
func applyPricingDefaults(cfg *Config) {
	if cfg.Pricing == nil {
		cfg.Pricing = map[string]ModelCostRates{}
	}
	for id, rates := range defaultPricing() {
		if _, ok := cfg.Pricing[id]; !ok {
			cfg.Pricing[id] = rates
		}
	}
}

// applyEnvOverrides lets a handful of deployment-time values be supplied
// without editing the checked-in config file. An explicit named list
// rather than a generic reflection walk, so the override surface stays
// deliberate and easy to audit.
func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("GOOD_NIGHT_PROVIDER")); v != "" {
		cfg.Provider.Default = v
	}
	if v := strings.TrimSpace(os.Getenv("GOOD_NIGHT_API_HOST")); v != "" {
		cfg.API.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("GOOD_NIGHT_LOG_LEVEL")); v != "" {
		cfg.Daemon.LogLevel = v
	}
}

// ConfigValidationError collects every field-level problem found during
// validation, rather than failing on the first one, so a misconfigured
// runtime directory can be fixed in a single pass.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "invalid config:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	var issues []string

	switch cfg.Provider.Default {
	case "anthropic", "bedrock":
	default:
		issues = append(issues, fmt.Sprintf("provider.default must be 'anthropic' or 'bedrock', got %q", cfg.Provider.Default))
	}

	if cfg.API.Port <= 0 || cfg.API.Port > 65535 {
		issues = append(issues, fmt.Sprintf("api.port must be between 1 and 65535, got %d", cfg.API.Port))
	}

	if cfg.Daemon.PollIntervalSeconds <= 0 {
		issues = append(issues, "daemon.poll_interval must be positive")
	}
	if cfg.Daemon.DreamIntervalSeconds <= 0 {
		issues = append(issues, "daemon.dream_interval must be positive")
	}

	if cfg.Dreaming.InitialLookbackDays <= 0 {
		issues = append(issues, "dreaming.initial_lookback_days must be positive")
	}
	if cfg.Dreaming.HistoricalLookbackDays <= 0 {
		issues = append(issues, "dreaming.historical_lookback must be positive")
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}
