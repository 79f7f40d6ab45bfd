package agentrt

import (
	"context"
	"fmt"

	"github.com/soft-beds-inc/good-night/internal/events"
)

// ToolExecutor dispatches a single tool call by name and returns its
// result already encoded as the JSON string the model should see —
// including the {"error": "..."} shape on failure. Implementations never
// return a Go error for a tool-level failure; Go errors are reserved for
// runtime faults (a cancelled context, a provider outage).
type ToolExecutor interface {
	Execute(ctx context.Context, call ToolCall) (string, error)
}

// LoopConfig bounds one agentic turn loop.
type LoopConfig struct {
	MaxTurns    int
	Model       string
	System      string
	Tools       []ToolDef
	Temperature float64
	MaxTokens   int
}

// DefaultLoopConfig mirrors the defaults used across all three stages
// unless a stage overrides MaxTurns or Temperature for its own workload.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{MaxTurns: 40, Temperature: 1.0}
}

// Result is the terminal outcome of a Run call.
type Result struct {
	FinalText  string
	StopReason StopReason
	Turns      int
	Usage      Usage
}

// Usage accumulates token counts across every provider call in one Run.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

func (u *Usage) add(r *Response) {
	u.InputTokens += r.InputTokens
	u.OutputTokens += r.OutputTokens
}

// Run drives the turn loop for one agent: it calls the provider, executes
// any requested tools, feeds their results back, and repeats until the
// model ends its turn or MaxTurns is exhausted. agentID and stage are used
// only to label emitted events.
func Run(ctx context.Context, provider Provider, exec ToolExecutor, cfg LoopConfig, userPrompt string, stream *events.Stream, agentID, stage string) (*Result, error) {
	if provider == nil {
		return nil, ErrNoProvider
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 40
	}

	messages := []Message{{Role: "user", Content: userPrompt}}
	usage := Usage{}

	if stream != nil {
		stream.EmitRunStarted(agentID, stage)
	}

	for turn := 0; turn < cfg.MaxTurns; turn++ {
		select {
		case <-ctx.Done():
			if stream != nil {
				stream.EmitRunError(agentID, stage, ctx.Err())
			}
			return nil, ctx.Err()
		default:
		}

		resp, err := provider.Query(ctx, &Request{
			Model:       firstNonEmpty(cfg.Model, provider.DefaultModel()),
			System:      cfg.System,
			Messages:    messages,
			Tools:       cfg.Tools,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		})
		if err != nil {
			if stream != nil {
				stream.EmitRunError(agentID, stage, err)
			}
			return nil, err
		}
		usage.add(resp)

		if resp.StopReason != StopToolUse || len(resp.ToolCalls) == 0 {
			if stream != nil {
				stream.EmitRunFinished(agentID, stage, resp.Content)
			}
			return &Result{
				FinalText:  resp.Content,
				StopReason: resp.StopReason,
				Turns:      turn + 1,
				Usage:      usage,
			}, nil
		}

		messages = append(messages, Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})

		for _, call := range resp.ToolCalls {
			if stream != nil {
				stream.EmitToolCall(agentID, stage, call.Name, call.Input)
			}
			result, err := exec.Execute(ctx, call)
			if err != nil {
				result = fmt.Sprintf(`{"error": %q}`, err.Error())
			}
			if stream != nil {
				stream.EmitToolResult(agentID, stage, call.Name, result, err != nil)
			}
			messages = append(messages, Message{Role: "tool", Content: result, ToolCallID: call.ID})
		}
	}

	if stream != nil {
		stream.EmitRunError(agentID, stage, ErrMaxTurns)
	}
	return &Result{StopReason: StopMaxTokens, Turns: cfg.MaxTurns, Usage: usage}, ErrMaxTurns
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
