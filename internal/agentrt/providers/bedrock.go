package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/soft-beds-inc/good-night/internal/agentrt"
)

// BedrockProvider is the cloud-gateway Agent Runtime backend: it runs the
// same Anthropic models through AWS Bedrock's Converse API, authenticating
// via the standard AWS credential chain (environment, shared config, SSO,
// or an IAM role) rather than a bare API key.
type BedrockProvider struct {
	client       *bedrockruntime.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

// BedrockConfig configures a BedrockProvider.
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	DefaultModel    string
	MaxRetries      int
	RetryDelay      time.Duration
}

// NewBedrockProvider builds a provider using explicit credentials when given,
// falling back to the default AWS credential chain otherwise.
func NewBedrockProvider(ctx context.Context, cfg BedrockConfig) (*BedrockProvider, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: load aws config: %w", classifyBedrockErr(err))
	}

	return &BedrockProvider{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
	}, nil
}

func (p *BedrockProvider) Name() string         { return "bedrock" }
func (p *BedrockProvider) DefaultModel() string { return p.defaultModel }

// Query issues one Converse call, retrying transient failures with
// exponential backoff (the delay doubles after each attempt) and reclassifying any authentication-shaped failure into an
// *agentrt.AuthenticationError so the orchestrator can surface its hint
// without a state update.
func (p *BedrockProvider) Query(ctx context.Context, req *agentrt.Request) (*agentrt.Response, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(model),
		Messages: toBedrockMessages(req.Messages),
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens: aws.Int32(int32(maxTokensOrDefault(req.MaxTokens))),
		},
	}
	if req.System != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: req.System}}
	}
	if len(req.Tools) > 0 {
		input.ToolConfig = toBedrockToolConfig(req.Tools)
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

		out, err := p.client.Converse(ctx, input)
		if err == nil {
			return convertBedrockResponse(out), nil
		}
		lastErr = classifyBedrockErr(err)
		if agentrt.IsAuthenticationError(lastErr) || !isRetryableBedrockErr(err) {
			break
		}
	}
	return nil, lastErr
}

func toBedrockMessages(msgs []agentrt.Message) []types.Message {
	out := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "user":
			out = append(out, types.Message{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
			})
		case "assistant":
			var blocks []types.ContentBlock
			if m.Content != "" {
				blocks = append(blocks, &types.ContentBlockMemberText{Value: m.Content})
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, &types.ContentBlockMemberToolUse{
					Value: types.ToolUseBlock{
						ToolUseId: aws.String(tc.ID),
						Name:      aws.String(tc.Name),
						Input:     document.NewLazyDocument(tc.Input),
					},
				})
			}
			out = append(out, types.Message{Role: types.ConversationRoleAssistant, Content: blocks})
		case "tool":
			out = append(out, types.Message{
				Role: types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberToolResult{
					Value: types.ToolResultBlock{
						ToolUseId: aws.String(m.ToolCallID),
						Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: m.Content}},
					},
				}},
			})
		}
	}
	return out
}

func toBedrockToolConfig(tools []agentrt.ToolDef) *types.ToolConfiguration {
	specs := make([]types.Tool, 0, len(tools))
	for _, t := range tools {
		specs = append(specs, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(t.InputSchema)},
			},
		})
	}
	return &types.ToolConfiguration{Tools: specs}
}

func convertBedrockResponse(out *bedrockruntime.ConverseOutput) *agentrt.Response {
	resp := &agentrt.Response{StopReason: agentrt.StopEndTurn}
	if out.Usage != nil {
		resp.InputTokens = int(aws.ToInt32(out.Usage.InputTokens))
		resp.OutputTokens = int(aws.ToInt32(out.Usage.OutputTokens))
	}

	msgOutput, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return resp
	}
	for _, block := range msgOutput.Value.Content {
		switch b := block.(type) {
		case *types.ContentBlockMemberText:
			resp.Content += b.Value
		case *types.ContentBlockMemberToolUse:
			var input map[string]any
			if b.Value.Input != nil {
				raw, _ := b.Value.Input.MarshalSmithyDocument()
				_ = json.Unmarshal(raw, &input)
			}
			resp.ToolCalls = append(resp.ToolCalls, agentrt.ToolCall{
				ID:    aws.ToString(b.Value.ToolUseId),
				Name:  aws.ToString(b.Value.Name),
				Input: input,
			})
		}
	}

	if len(resp.ToolCalls) > 0 {
		resp.StopReason = agentrt.StopToolUse
	} else if out.StopReason == types.StopReasonMaxTokens {
		resp.StopReason = agentrt.StopMaxTokens
	}
	return resp
}

func isRetryableBedrockErr(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "throttl") || strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "internal server")
}

// classifyBedrockErr reproduces the original provider's exact
// substring-matched authentication diagnostics: an expired SSO token, a
// missing credential chain, and an expired session token each get a
// distinct message and remediation hint, because "retry the request" never
// fixes any of them.
func classifyBedrockErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()

	switch {
	case strings.Contains(msg, "Token has expired") || strings.Contains(msg, "TokenRetrievalError"):
		return &agentrt.AuthenticationError{
			Message: "AWS SSO token has expired",
			Hint:    "Run 'aws sso login' to refresh your credentials",
		}
	case strings.Contains(msg, "NoCredentialsError") || strings.Contains(msg, "Unable to locate credentials"):
		return &agentrt.AuthenticationError{
			Message: "AWS credentials not found",
			Hint:    "Configure AWS credentials with 'aws configure' or 'aws sso login'",
		}
	case strings.Contains(msg, "ExpiredTokenException"):
		return &agentrt.AuthenticationError{
			Message: "AWS session token has expired",
			Hint:    "Run 'aws sso login' or refresh your session credentials",
		}
	default:
		return err
	}
}
