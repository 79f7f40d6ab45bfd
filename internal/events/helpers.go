package events

import (
	"github.com/soft-beds-inc/good-night/pkg/model"
)

const summaryMaxLen = 100

// Summarize truncates text to a fixed length for compact event display,
// appending an ellipsis when content was cut.
func Summarize(text string) string {
	if len(text) <= summaryMaxLen {
		return text
	}
	return text[:summaryMaxLen-1] + "…"
}

// EmitToolCall records a tool invocation about to run.
func (s *Stream) EmitToolCall(agentID, stage, toolName string, args map[string]any) model.AgentEvent {
	return s.Emit(model.AgentEvent{
		Type:    model.EventToolCall,
		AgentID: agentID,
		Stage:   stage,
		Summary: Summarize(toolName),
		Data:    map[string]any{"tool": toolName, "args": args},
	})
}

// EmitToolResult records a tool invocation's outcome.
func (s *Stream) EmitToolResult(agentID, stage, toolName, result string, isError bool) model.AgentEvent {
	evtType := model.EventToolResult
	if isError {
		evtType = model.EventRunError
	}
	return s.Emit(model.AgentEvent{
		Type:    evtType,
		AgentID: agentID,
		Stage:   stage,
		Summary: Summarize(result),
		Data:    map[string]any{"tool": toolName, "is_error": isError},
	})
}

// EmitRunStarted records the start of an agent's lifecycle.
func (s *Stream) EmitRunStarted(agentID, stage string) model.AgentEvent {
	return s.Emit(model.AgentEvent{Type: model.EventRunStarted, AgentID: agentID, Stage: stage})
}

// EmitRunFinished records the terminal, successful end of an agent's
// lifecycle.
func (s *Stream) EmitRunFinished(agentID, stage, summary string) model.AgentEvent {
	return s.Emit(model.AgentEvent{
		Type: model.EventRunFinished, AgentID: agentID, Stage: stage,
		Summary: Summarize(summary), Terminal: true,
	})
}

// EmitRunError records the terminal, failed end of an agent's lifecycle.
func (s *Stream) EmitRunError(agentID, stage string, err error) model.AgentEvent {
	return s.Emit(model.AgentEvent{
		Type: model.EventRunError, AgentID: agentID, Stage: stage,
		Summary: Summarize(err.Error()), Terminal: true,
	})
}
