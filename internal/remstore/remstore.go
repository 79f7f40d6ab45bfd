// Package remstore implements the Remediation Store: the on-disk record of
// every Resolution a dreaming cycle has produced, plus an optional vector
// index (see vecstore) for semantic lookup of past resolutions.
package remstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/soft-beds-inc/good-night/pkg/model"
)

// FileStore persists Resolutions as one JSON file per resolution, named
// YYYY-MM-DD-<8 hex chars of id>.json so a lexicographic sort orders files
// by date; ListRecent reverses that order to list the newest first.
type FileStore struct {
	dir    string
	dryRun bool
}

// NewFileStore builds a store rooted at runtimeDir/resolutions. When
// dryRun is true, writes go to a sibling "dry-runs" directory instead, so
// a trial cycle never touches the real history.
func NewFileStore(runtimeDir string, dryRun bool) *FileStore {
	name := "resolutions"
	if dryRun {
		name = "dry-runs"
	}
	return &FileStore{dir: filepath.Join(runtimeDir, name), dryRun: dryRun}
}

func (s *FileStore) filename(r *model.Resolution) string {
	idPrefix := r.ID
	if len(idPrefix) > 8 {
		idPrefix = idPrefix[:8]
	}
	return fmt.Sprintf("%s-%s.json", r.CreatedAt.Format("2006-01-02"), idPrefix)
}

// Save writes a Resolution to disk, assigning it a fresh id if it has
// none, atomically (write to a temp file in the same directory, then
// rename) so a crash mid-write never leaves a half-written record.
func (s *FileStore) Save(r *model.Resolution) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("remstore: mkdir: %w", err)
	}

	data, err := json.MarshalIndent(r.ToMap(), "", "  ")
	if err != nil {
		return fmt.Errorf("remstore: marshal resolution %s: %w", r.ID, err)
	}

	finalPath := filepath.Join(s.dir, s.filename(r))
	tmp, err := os.CreateTemp(s.dir, ".resolution-*.tmp")
	if err != nil {
		return fmt.Errorf("remstore: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("remstore: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("remstore: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("remstore: rename into place: %w", err)
	}
	return nil
}

// Load reads and decodes a single resolution file.
func (s *FileStore) Load(path string) (*model.Resolution, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("remstore: decode %s: %w", path, err)
	}
	return model.ResolutionFromMap(m), nil
}

// LoadByID finds a resolution by its full id, matching against the 8-char
// filename prefix first and then verifying the full id inside the file
// (the prefix alone cannot be trusted to be unique).
func (s *FileStore) LoadByID(id string) (*model.Resolution, error) {
	if len(id) < 8 {
		return nil, fmt.Errorf("remstore: id %q too short to look up", id)
	}
	prefix := id[:8]
	matches, err := filepath.Glob(filepath.Join(s.dir, fmt.Sprintf("*-%s.json", prefix)))
	if err != nil {
		return nil, err
	}
	for _, path := range matches {
		r, err := s.Load(path)
		if err != nil {
			continue
		}
		if r.ID == id {
			return r, nil
		}
	}
	return nil, nil
}

// ListRecent returns up to limit resolutions, most recent first, skipping
// any file that fails to parse rather than aborting the whole listing.
func (s *FileStore) ListRecent(limit int) ([]*model.Resolution, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	var out []*model.Resolution
	for _, name := range names {
		if limit > 0 && len(out) >= limit {
			break
		}
		r, err := s.Load(filepath.Join(s.dir, name))
		if err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// ActionsForTarget scans recent resolutions (capped at 100, matching the
// original's lookback window) for every action whose target matches.
func (s *FileStore) ActionsForTarget(target string) ([]*model.RemediationAction, error) {
	resolutions, err := s.ListRecent(100)
	if err != nil {
		return nil, err
	}
	var actions []*model.RemediationAction
	for _, r := range resolutions {
		for _, cr := range r.Resolutions {
			for _, a := range cr.Actions {
				if a.Target == target {
					actions = append(actions, a)
				}
			}
		}
	}
	return actions, nil
}
