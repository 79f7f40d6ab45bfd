// Package model defines the core data types shared across the dreaming
// pipeline: conversations, issues, remediations, and their serialization.
package model

import "time"

// Role identifies who or what produced a Message.
type Role string

const (
	RoleHuman      Role = "human"
	RoleAssistant  Role = "assistant"
	RoleToolCall   Role = "tool_call"
	RoleToolResult Role = "tool_result"
	RoleSystem     Role = "system"
)

// Message is a single turn within a Conversation.
type Message struct {
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp,omitempty"`
	ToolName   string    `json:"tool_name,omitempty"`
	ToolInput  any       `json:"tool_input,omitempty"`
	ToolResult string    `json:"tool_result,omitempty"`
}

// Conversation is one parsed session log, immutable after ingest.
type Conversation struct {
	SessionID  string         `json:"session_id"`
	Messages   []Message      `json:"messages"`
	StartedAt  time.Time      `json:"started_at"`
	EndedAt    time.Time      `json:"ended_at"`
	Source     string         `json:"source"`
	Metadata   map[string]any `json:"metadata"`
}

// WorkingDirectory returns the metadata "working_directory" value, or "".
func (c *Conversation) WorkingDirectory() string {
	if c.Metadata == nil {
		return ""
	}
	if v, ok := c.Metadata["working_directory"].(string); ok {
		return v
	}
	return ""
}

// Batch is a page of conversations returned by the connector's extractor.
type Batch struct {
	Conversations []Conversation `json:"conversations"`
	Cursor        string         `json:"cursor,omitempty"`
	HasMore       bool           `json:"has_more"`
}

// ToMap renders a Conversation into a plain map for JSON tool responses.
func (c *Conversation) ToMap() map[string]any {
	msgs := make([]map[string]any, 0, len(c.Messages))
	for i, m := range c.Messages {
		msgs = append(msgs, map[string]any{
			"index":   i,
			"role":    string(m.Role),
			"content": m.Content,
		})
	}
	return map[string]any{
		"session_id":        c.SessionID,
		"messages":          msgs,
		"started_at":        c.StartedAt,
		"ended_at":          c.EndedAt,
		"source":            c.Source,
		"working_directory": c.WorkingDirectory(),
	}
}
