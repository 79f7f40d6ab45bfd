package model

import "time"

// ConnectorState tracks per-connector ingest progress so each dreaming
// cycle only looks at conversations it hasn't seen.
type ConnectorState struct {
	LastProcessed         time.Time `json:"last_processed"`
	Cursor                string    `json:"cursor,omitempty"`
	ConversationsProcessed int      `json:"conversations_processed"`
	LastRun               time.Time `json:"last_run"`
}

// ProcessingState is the single JSON document the State Store persists:
// per-connector progress plus global dreaming counters.
type ProcessingState struct {
	Connectors       map[string]*ConnectorState `json:"connectors"`
	TotalRuns        int                        `json:"total_runs"`
	TotalIssuesFound int                        `json:"total_issues_found"`
	TotalActionsTaken int                       `json:"total_actions_taken"`
}

// NewProcessingState returns an empty, ready-to-use ProcessingState.
func NewProcessingState() *ProcessingState {
	return &ProcessingState{Connectors: map[string]*ConnectorState{}}
}

// ConnectorFor returns the state for a connector, creating it if absent.
func (s *ProcessingState) ConnectorFor(connectorID string) *ConnectorState {
	if s.Connectors == nil {
		s.Connectors = map[string]*ConnectorState{}
	}
	cs, ok := s.Connectors[connectorID]
	if !ok {
		cs = &ConnectorState{}
		s.Connectors[connectorID] = cs
	}
	return cs
}
