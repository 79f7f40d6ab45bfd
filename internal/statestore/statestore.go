// Package statestore implements the State Store: a single JSON document on
// disk recording how far each connector's ingest has progressed, plus
// global dreaming-cycle counters. A Store instance is the sole writer for
// its state file; callers must not share one across processes.
package statestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/soft-beds-inc/good-night/pkg/model"
)

// Store loads, mutates and persists the single processing-state document.
type Store struct {
	mu    sync.Mutex
	path  string
	state *model.ProcessingState
}

// New builds a Store rooted at runtimeDir/state.json, loading any existing
// document lazily on first access.
func New(runtimeDir string) *Store {
	return &Store{path: filepath.Join(runtimeDir, "state.json")}
}

func (s *Store) load() (*model.ProcessingState, error) {
	if s.state != nil {
		return s.state, nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.state = model.NewProcessingState()
			return s.state, nil
		}
		return nil, fmt.Errorf("statestore: read %s: %w", s.path, err)
	}

	var doc struct {
		Connectors map[string]struct {
			LastProcessed          string `json:"last_processed"`
			Cursor                 string `json:"cursor"`
			ConversationsProcessed int    `json:"conversations_processed"`
			LastRun                string `json:"last_run"`
		} `json:"connectors"`
		Dreaming struct {
			LastRun                    string `json:"last_run"`
			TotalRuns                  int    `json:"total_runs"`
			LastRunID                  string `json:"last_run_id"`
			IssuesFoundTotal           int    `json:"issues_found_total"`
			ResolutionsGeneratedTotal  int    `json:"resolutions_generated_total"`
		} `json:"dreaming"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		// A corrupt state file is treated the same as a missing one: the
		// original falls back to a fresh ProcessingState rather than
		// failing the run.
		s.state = model.NewProcessingState()
		return s.state, nil
	}

	state := model.NewProcessingState()
	for id, cs := range doc.Connectors {
		state.Connectors[id] = &model.ConnectorState{
			LastProcessed:          parseTime(cs.LastProcessed),
			Cursor:                 cs.Cursor,
			ConversationsProcessed: cs.ConversationsProcessed,
			LastRun:                parseTime(cs.LastRun),
		}
	}
	state.TotalRuns = doc.Dreaming.TotalRuns
	state.TotalIssuesFound = doc.Dreaming.IssuesFoundTotal
	state.TotalActionsTaken = doc.Dreaming.ResolutionsGeneratedTotal

	s.state = state
	return s.state, nil
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Snapshot returns the current in-memory state, loading the document if
// needed. The caller gets the live ProcessingState, not a deep copy: it's
// meant for read-only reporting (e.g. a CLI status command), not mutation.
func (s *Store) Snapshot() (*model.ProcessingState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// ConnectorState returns the persisted state for a connector, loading the
// document if needed.
func (s *Store) ConnectorState(connectorID string) (*model.ConnectorState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.load()
	if err != nil {
		return nil, err
	}
	return state.ConnectorFor(connectorID), nil
}

// UpdateConnector merges the given fields into a connector's state,
// bumps its last_run to now, and rewrites the whole document.
func (s *Store) UpdateConnector(connectorID string, lastProcessed time.Time, cursor string, conversationsProcessed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return err
	}
	cs := state.ConnectorFor(connectorID)
	if !lastProcessed.IsZero() {
		cs.LastProcessed = lastProcessed
	}
	if cursor != "" {
		cs.Cursor = cursor
	}
	cs.ConversationsProcessed += conversationsProcessed
	cs.LastRun = time.Now().UTC()

	return s.saveLocked(state)
}

// RecordRun increments the global dreaming counters after a cycle
// completes and rewrites the whole document.
func (s *Store) RecordRun(issuesFound, actionsTaken int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return err
	}
	state.TotalRuns++
	state.TotalIssuesFound += issuesFound
	state.TotalActionsTaken += actionsTaken

	return s.saveLocked(state)
}

// saveLocked rewrites the entire state document; callers must hold s.mu.
func (s *Store) saveLocked(state *model.ProcessingState) error {
	doc := map[string]any{
		"version":    1,
		"connectors": map[string]any{},
		"dreaming": map[string]any{
			"total_runs":                  state.TotalRuns,
			"issues_found_total":          state.TotalIssuesFound,
			"resolutions_generated_total": state.TotalActionsTaken,
		},
	}
	connectors := doc["connectors"].(map[string]any)
	for id, cs := range state.Connectors {
		entry := map[string]any{
			"conversations_processed": cs.ConversationsProcessed,
		}
		if !cs.LastProcessed.IsZero() {
			entry["last_processed"] = cs.LastProcessed.UTC().Format(time.RFC3339)
		}
		if cs.Cursor != "" {
			entry["cursor"] = cs.Cursor
		}
		if !cs.LastRun.IsZero() {
			entry["last_run"] = cs.LastRun.UTC().Format(time.RFC3339)
		}
		connectors[id] = entry
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("statestore: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("statestore: mkdir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("statestore: write %s: %w", s.path, err)
	}
	s.state = state
	return nil
}
