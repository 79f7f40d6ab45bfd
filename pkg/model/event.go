package model

import "time"

// EventType enumerates the kinds of events the dreaming pipeline emits.
type EventType string

const (
	EventRunStarted   EventType = "run_started"
	EventRunFinished  EventType = "run_finished"
	EventRunError     EventType = "run_error"
	EventStageStarted EventType = "stage_started"
	EventStageFinished EventType = "stage_finished"
	EventToolCall     EventType = "tool_call"
	EventToolResult   EventType = "tool_result"
	EventIssueFound   EventType = "issue_found"
	EventActionTaken  EventType = "action_taken"
)

// AgentEvent is one entry in the bounded event stream, covering both
// whole-cycle lifecycle events and individual per-agent tool activity.
type AgentEvent struct {
	Sequence  uint64         `json:"sequence"`
	Type      EventType      `json:"type"`
	Time      time.Time      `json:"time"`
	AgentID   string         `json:"agent_id"`
	Stage     string         `json:"stage,omitempty"`
	Summary   string         `json:"summary,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Terminal  bool           `json:"terminal"`
}

// IsTerminal reports whether this event closes out its agent's lifecycle
// (used when deriving the set of currently active agents).
func (e AgentEvent) IsTerminal() bool { return e.Terminal }
