package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/soft-beds-inc/good-night/internal/toolapi"
	"github.com/soft-beds-inc/good-night/pkg/model"
)

// Handler is what a concrete artifact type implements: enough to describe
// itself to the resolution agent (toolapi.ArtifactHandler) plus the
// create/update/append/validate operations the resolver dispatches a
// finalized RemediationAction through.
type Handler interface {
	toolapi.ArtifactHandler
	LoadDefinition(path string) error
	Create(name string, content map[string]any) (*Artifact, error)
	Update(path string, content map[string]any) (*Artifact, error)
	Append(path string, content map[string]any) (*Artifact, error)
	Validate(a *Artifact) []string
}

// Registry is a type-indexed constructor registry for artifact handlers:
// artifact id -> constructor, with Register letting callers add their own
// types without touching this package's source.
type Registry struct {
	constructors map[string]func(runtimeDir string) Handler
}

// NewRegistry builds a registry pre-seeded with the built-in artifact
// types: Claude Skills and CLAUDE.md preferences. Any artifact id with no
// registered constructor falls back to GenericHandler, which derives its
// behavior from the runtime's markdown definition file instead of Go code.
func NewRegistry() *Registry {
	r := &Registry{constructors: map[string]func(string) Handler{}}
	r.Register("claude-skills", NewSkillHandler)
	r.Register("skill", NewSkillHandler)
	r.Register("claude-md", NewPreferencesHandler)
	r.Register("preferences", NewPreferencesHandler)
	return r
}

// Register adds or replaces the constructor for an artifact id.
func (r *Registry) Register(id string, ctor func(runtimeDir string) Handler) {
	r.constructors[id] = ctor
}

// Create builds a handler for artifactID, loading its markdown definition
// from runtimeDir/artifacts/<id>.md if one exists.
func (r *Registry) Create(artifactID, runtimeDir string) (Handler, error) {
	ctor, ok := r.constructors[artifactID]
	if !ok {
		ctor = func(rd string) Handler { return NewGenericHandler(artifactID, rd) }
	}
	h := ctor(runtimeDir)

	path := filepath.Join(runtimeDir, "artifacts", artifactID+".md")
	if _, err := os.Stat(path); err == nil {
		if err := h.LoadDefinition(path); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// AvailableHandlers lists the artifact ids with a dedicated constructor,
// sorted for stable output.
func (r *Registry) AvailableHandlers() []string {
	ids := make([]string, 0, len(r.constructors))
	for id := range r.constructors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ApplyAction dispatches a finalized RemediationAction to the handler's
// create/update/append method by action.Operation.
func ApplyAction(h Handler, action *model.RemediationAction) (*Artifact, error) {
	target := expandHome(action.Target)
	switch action.Operation {
	case model.OperationCreate:
		name := stemOf(target)
		if strings.TrimSpace(name) == "" {
			name = filepath.Base(filepath.Dir(target))
		}
		return h.Create(name, action.Content)
	case model.OperationUpdate:
		return h.Update(target, action.Content)
	case model.OperationAppend:
		return h.Append(target, action.Content)
	default:
		return nil, fmt.Errorf("unknown operation: %s", action.Operation)
	}
}
