// Package toolapi builds the per-stage tool surfaces the Agent Runtime
// drives: each dreaming stage (detection, filtering, resolution) gets its
// own Context holding the data that stage operates on, plus a set of tool
// handlers registered against it. Every handler returns a JSON string, never
// a Go error — tool-level failures are encoded inline as {"error": "..."}
// so a misbehaving tool call never aborts the agent's turn loop.
package toolapi

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/soft-beds-inc/good-night/internal/agentrt"
	"github.com/soft-beds-inc/good-night/internal/events"
)

// Handler is one tool's implementation: decode args, do the work, encode
// the JSON response. Handlers never return a Go error for domain failures
// (missing id, invalid enum, ...); those are JSON {"error": "..."} strings.
type Handler func(ctx context.Context, args map[string]any) string

// Def pairs a tool's schema with its handler.
type Def struct {
	Name        string
	Description string
	Properties  map[string]any
	Required    []string
	Handler     Handler
}

// schema renders a Def's JSON schema the way ToolBuilder.create does:
// properties defaulting to an empty object, required omitted when empty.
func (d Def) schema() map[string]any {
	props := d.Properties
	if props == nil {
		props = map[string]any{}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(d.Required) > 0 {
		schema["required"] = d.Required
	}
	return schema
}

// Registry adapts a list of Defs into an agentrt.ToolExecutor and the
// agentrt.ToolDef list the provider needs, and optionally wraps every call
// with tool_call/tool_result event emission.
type Registry struct {
	defs    map[string]Def
	ordered []Def
}

// NewRegistry builds a Registry from a stage's tool Defs.
func NewRegistry(defs []Def) *Registry {
	r := &Registry{defs: make(map[string]Def, len(defs)), ordered: defs}
	for _, d := range defs {
		r.defs[d.Name] = d
	}
	return r
}

// ToolDefs renders the registry as the agentrt.ToolDef list for a Request.
func (r *Registry) ToolDefs() []agentrt.ToolDef {
	out := make([]agentrt.ToolDef, 0, len(r.ordered))
	for _, d := range r.ordered {
		out = append(out, agentrt.ToolDef{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.schema(),
		})
	}
	return out
}

// Execute implements agentrt.ToolExecutor, dispatching by tool name.
func (r *Registry) Execute(ctx context.Context, call agentrt.ToolCall) (string, error) {
	d, ok := r.defs[call.Name]
	if !ok {
		return fmt.Sprintf(`{"error": "unknown tool: %s"}`, call.Name), nil
	}
	return d.Handler(ctx, call.Input), nil
}

// EventedRegistry wraps a Registry so every tool call and result also
// emits an events.Stream entry, mirroring wrap_tool_with_events: the
// argument summary and result summary are both truncated to
// events.Summarize's length, with result summaries pattern-matched on
// common JSON response shapes.
type EventedRegistry struct {
	inner   *Registry
	stream  *events.Stream
	agentID string
	stage   string
}

// WithEvents wraps a Registry for event emission under the given agent id
// and stage name. A nil stream makes this a no-op passthrough.
func WithEvents(r *Registry, stream *events.Stream, agentID, stage string) *EventedRegistry {
	return &EventedRegistry{inner: r, stream: stream, agentID: agentID, stage: stage}
}

func (e *EventedRegistry) ToolDefs() []agentrt.ToolDef { return e.inner.ToolDefs() }

func (e *EventedRegistry) Execute(ctx context.Context, call agentrt.ToolCall) (string, error) {
	if e.stream == nil {
		return e.inner.Execute(ctx, call)
	}
	e.stream.EmitToolCall(e.agentID, e.stage, call.Name, call.Input)
	result, err := e.inner.Execute(ctx, call)
	isError := err != nil || looksLikeError(result)
	e.stream.EmitToolResult(e.agentID, e.stage, call.Name, summarizeResult(call.Name, result), isError)
	return result, err
}

func looksLikeError(result string) bool {
	var probe struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(result), &probe); err != nil {
		return false
	}
	return probe.Error != ""
}

// summarizeResult extracts a short human-readable summary from a JSON tool
// result, matching the original's pattern-by-common-keys fallback chain.
func summarizeResult(toolName, result string) string {
	var data map[string]any
	if err := json.Unmarshal([]byte(result), &data); err != nil {
		return events.Summarize(fmt.Sprintf("%s: %s", toolName, result))
	}

	if errMsg, ok := data["error"].(string); ok {
		return events.Summarize(fmt.Sprintf("%s: ERROR - %s", toolName, errMsg))
	}
	if success, ok := data["success"]; ok {
		if msg, ok := data["message"].(string); ok && msg != "" {
			return events.Summarize(fmt.Sprintf("%s: %s", toolName, msg))
		}
		return events.Summarize(fmt.Sprintf("%s: success=%v", toolName, success))
	}
	if total, ok := data["total"]; ok {
		switch {
		case hasKey(data, "conversations"):
			return events.Summarize(fmt.Sprintf("%s: %v conversations", toolName, total))
		case hasKey(data, "issues"):
			return events.Summarize(fmt.Sprintf("%s: %v issues", toolName, total))
		case hasKey(data, "results"):
			if results, ok := data["results"].([]any); ok {
				return events.Summarize(fmt.Sprintf("%s: %d results (of %v)", toolName, len(results), total))
			}
			return events.Summarize(fmt.Sprintf("%s: total=%v", toolName, total))
		case hasKey(data, "resolutions"):
			return events.Summarize(fmt.Sprintf("%s: %v resolutions", toolName, total))
		case hasKey(data, "pending_actions"):
			return events.Summarize(fmt.Sprintf("%s: %v pending actions", toolName, total))
		default:
			return events.Summarize(fmt.Sprintf("%s: total=%v", toolName, total))
		}
	}
	if msgs, ok := data["messages"].([]any); ok {
		hasMore := ""
		if more, _ := data["has_more"].(bool); more {
			hasMore = " (more available)"
		}
		return events.Summarize(fmt.Sprintf("%s: %d messages%s", toolName, len(msgs), hasMore))
	}
	if rec, ok := data["recommendation"].(string); ok {
		return events.Summarize(fmt.Sprintf("%s: %s", toolName, rec))
	}
	if id, ok := data["issue_id"].(string); ok {
		return events.Summarize(fmt.Sprintf("%s: issue %s", toolName, shortID(id)))
	}
	if id, ok := data["action_id"].(string); ok {
		return events.Summarize(fmt.Sprintf("%s: action %s", toolName, id))
	}

	keys := make([]string, 0, 3)
	for k := range data {
		if len(keys) == 3 {
			break
		}
		keys = append(keys, k)
	}
	return events.Summarize(fmt.Sprintf("%s: keys=%v", toolName, keys))
}

func hasKey(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// jsonError renders a Go error or message as the inline {"error": "..."}
// shape every tool handler uses for domain-level failure.
func jsonError(format string, args ...any) string {
	msg := fmt.Sprintf(format, args...)
	b, _ := json.Marshal(map[string]string{"error": msg})
	return string(b)
}

// jsonOf marshals any value to an indented JSON string, falling back to an
// error shape if marshaling itself somehow fails (e.g. a NaN float).
func jsonOf(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return jsonError("encode response: %s", err.Error())
	}
	return string(b)
}
