// Package providers implements the two Agent Runtime backends: a direct
// Anthropic provider and an AWS Bedrock gateway provider, behind the shared
// agentrt.Provider interface.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/soft-beds-inc/good-night/internal/agentrt"
)

// AnthropicProvider talks directly to the Anthropic Messages API. It is the
// "direct model provider" backend: simplest to configure, requires only an
// API key, and is selected when provider.default is "anthropic" (the config
// default is the Bedrock gateway).
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// NewAnthropicProvider validates config and builds a ready-to-use provider.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
	}, nil
}

func (p *AnthropicProvider) Name() string         { return "anthropic" }
func (p *AnthropicProvider) DefaultModel() string { return p.defaultModel }

// Query sends one completion request and waits for the full (non-streamed)
// response; the turn loop only needs the finished message, not incremental
// tokens, since tool-calling agents never surface partial text to a user.
func (p *AnthropicProvider) Query(ctx context.Context, req *agentrt.Request) (*agentrt.Response, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokensOrDefault(req.MaxTokens)),
		Messages:  toAnthropicMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = toAnthropicTools(req.Tools)
	}

	var lastErr error
	delay := p.retryDelay
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		msg, err := p.client.Messages.New(ctx, params)
		if err == nil {
			return convertAnthropicResponse(msg), nil
		}
		lastErr = classifyAnthropicErr(err)
		if !isRetryableAnthropicErr(err) {
			break
		}
	}
	return nil, lastErr
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return 4096
	}
	return n
}

func toAnthropicMessages(msgs []agentrt.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "user":
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case "assistant":
			blocks := []anthropic.ContentBlockParamUnion{}
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				input, _ := json.Marshal(tc.Input)
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case "tool":
			out = append(out, anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		}
	}
	return out
}

func toAnthropicTools(tools []agentrt.ToolDef) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: t.InputSchema["properties"],
				},
			},
		})
	}
	return out
}

func convertAnthropicResponse(msg *anthropic.Message) *agentrt.Response {
	resp := &agentrt.Response{
		StopReason:   agentrt.StopEndTurn,
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}

	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Content += b.Text
		case anthropic.ToolUseBlock:
			var input map[string]any
			_ = json.Unmarshal(b.Input, &input)
			resp.ToolCalls = append(resp.ToolCalls, agentrt.ToolCall{
				ID: b.ID, Name: b.Name, Input: input,
			})
		}
	}

	if len(resp.ToolCalls) > 0 {
		resp.StopReason = agentrt.StopToolUse
	} else if string(msg.StopReason) == "max_tokens" {
		resp.StopReason = agentrt.StopMaxTokens
	}

	return resp
}

func isRetryableAnthropicErr(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

func classifyAnthropicErr(err error) error {
	msg := err.Error()
	lower := strings.ToLower(msg)
	if strings.Contains(msg, "401") || strings.Contains(lower, "invalid x-api-key") || strings.Contains(lower, "authentication_error") {
		return &agentrt.AuthenticationError{
			Message: "Anthropic API key is missing or invalid",
			Hint:    "Set ANTHROPIC_API_KEY to a valid key",
		}
	}
	return err
}
