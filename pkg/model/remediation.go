package model

import "time"

// ConversationReference points a remediation action back at the
// conversation(s) that motivated it.
type ConversationReference struct {
	SessionID        string `json:"session_id"`
	WorkingDirectory string `json:"working_directory,omitempty"`
}

func (c ConversationReference) ToMap() map[string]any {
	return map[string]any{
		"session_id":        c.SessionID,
		"working_directory": c.WorkingDirectory,
	}
}

// ConversationReferenceFromMap rebuilds a reference from decoded JSON.
func ConversationReferenceFromMap(m map[string]any) ConversationReference {
	ref := ConversationReference{}
	ref.SessionID, _ = m["session_id"].(string)
	ref.WorkingDirectory, _ = m["working_directory"].(string)
	return ref
}

// ActionPriority ranks how urgently a RemediationAction should be applied.
type ActionPriority string

const (
	PriorityLow    ActionPriority = "low"
	PriorityMedium ActionPriority = "medium"
	PriorityHigh   ActionPriority = "high"
)

// ActionOperation is the artifact-handler verb a RemediationAction invokes.
type ActionOperation string

const (
	OperationCreate ActionOperation = "create"
	OperationUpdate ActionOperation = "update"
	OperationAppend ActionOperation = "append"
)

// RemediationAction is one artifact mutation Stage C decided to apply:
// e.g. create a Skill, or append a preference to CLAUDE.md.
type RemediationAction struct {
	Type        string                  `json:"type"`
	Target      string                  `json:"target"`
	Operation   ActionOperation         `json:"operation"`
	Content     map[string]any          `json:"content"`
	IssueRefs   []string                `json:"issue_refs"`
	References  []ConversationReference `json:"references"`
	Priority    ActionPriority          `json:"priority"`
	Rationale   string                  `json:"rationale"`
	LocalChange bool                    `json:"local_change"`
}

// GetTitle, GetDescription and GetRationale implement similarity.Scorable,
// letting an action be compared directly against an Issue. Actions have no
// dedicated title field, so the target path stands in for one.
func (a *RemediationAction) GetTitle() string       { return a.Target }
func (a *RemediationAction) GetDescription() string {
	if desc, ok := a.Content["description"].(string); ok {
		return desc
	}
	return ""
}
func (a *RemediationAction) GetRationale() string { return a.Rationale }

// NewRemediationAction builds a RemediationAction with the package defaults.
func NewRemediationAction(artifactType, target string, op ActionOperation, content map[string]any) *RemediationAction {
	return &RemediationAction{
		Type:      artifactType,
		Target:    target,
		Operation: op,
		Content:   content,
		Priority:  PriorityMedium,
	}
}

func (a *RemediationAction) ToMap() map[string]any {
	refs := make([]map[string]any, 0, len(a.References))
	for _, r := range a.References {
		refs = append(refs, r.ToMap())
	}
	return map[string]any{
		"type":         a.Type,
		"target":       a.Target,
		"operation":    string(a.Operation),
		"content":      a.Content,
		"issue_refs":   a.IssueRefs,
		"references":   refs,
		"priority":     string(a.Priority),
		"rationale":    a.Rationale,
		"local_change": a.LocalChange,
	}
}

// RemediationActionFromMap reconstructs a RemediationAction from decoded JSON.
func RemediationActionFromMap(m map[string]any) *RemediationAction {
	a := &RemediationAction{Priority: PriorityMedium}
	a.Type, _ = m["type"].(string)
	a.Target, _ = m["target"].(string)
	if op, ok := m["operation"].(string); ok {
		a.Operation = ActionOperation(op)
	}
	if content, ok := m["content"].(map[string]any); ok {
		a.Content = content
	}
	if refs, ok := m["issue_refs"].([]any); ok {
		for _, r := range refs {
			if s, ok := r.(string); ok {
				a.IssueRefs = append(a.IssueRefs, s)
			}
		}
	}
	if refs, ok := m["references"].([]any); ok {
		for _, r := range refs {
			if rm, ok := r.(map[string]any); ok {
				a.References = append(a.References, ConversationReferenceFromMap(rm))
			}
		}
	}
	if p, ok := m["priority"].(string); ok && p != "" {
		a.Priority = ActionPriority(p)
	}
	a.Rationale, _ = m["rationale"].(string)
	if lc, ok := m["local_change"].(bool); ok {
		a.LocalChange = lc
	}
	return a
}

// ConnectorResolution groups the actions Stage C decided on for a single
// connector's issues.
type ConnectorResolution struct {
	ConnectorID string                `json:"connector_id"`
	Actions     []*RemediationAction  `json:"actions"`
}

// Resolution is the whole Stage C output for one dreaming cycle: a
// self-contained, date-stamped record of every applied or pending action.
type Resolution struct {
	ID             string                 `json:"id"`
	CreatedAt      time.Time              `json:"created_at"`
	DreamingRunID  string                 `json:"dreaming_run_id"`
	Resolutions    []ConnectorResolution  `json:"resolutions"`
	Metadata       map[string]any         `json:"metadata"`
}

// ToMap renders a Resolution in the on-disk shape: a flat "metadata" object
// (id, created_at, dreaming_run_id plus any extra keys) alongside the
// "resolutions" list, matching the historical file format exactly so older
// records stay loadable.
func (r *Resolution) ToMap() map[string]any {
	metadata := map[string]any{
		"id":              r.ID,
		"created_at":      r.CreatedAt.Format(time.RFC3339),
		"dreaming_run_id": r.DreamingRunID,
	}
	for k, v := range r.Metadata {
		metadata[k] = v
	}

	resolutions := make([]map[string]any, 0, len(r.Resolutions))
	for _, cr := range r.Resolutions {
		actions := make([]map[string]any, 0, len(cr.Actions))
		for _, a := range cr.Actions {
			actions = append(actions, a.ToMap())
		}
		resolutions = append(resolutions, map[string]any{
			"connector_id": cr.ConnectorID,
			"actions":      actions,
		})
	}

	return map[string]any{
		"metadata":    metadata,
		"resolutions": resolutions,
	}
}

// ResolutionFromMap reconstructs a Resolution from its on-disk map shape.
func ResolutionFromMap(m map[string]any) *Resolution {
	r := &Resolution{Metadata: map[string]any{}}

	metadata, _ := m["metadata"].(map[string]any)
	if metadata == nil {
		metadata = map[string]any{}
	}
	r.ID, _ = metadata["id"].(string)
	if createdRaw, ok := metadata["created_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, createdRaw); err == nil {
			r.CreatedAt = t
		}
	}
	r.DreamingRunID, _ = metadata["dreaming_run_id"].(string)
	for k, v := range metadata {
		if k == "id" || k == "created_at" || k == "dreaming_run_id" {
			continue
		}
		r.Metadata[k] = v
	}

	if resolutionsRaw, ok := m["resolutions"].([]any); ok {
		for _, raw := range resolutionsRaw {
			rm, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			cr := ConnectorResolution{}
			cr.ConnectorID, _ = rm["connector_id"].(string)
			if actionsRaw, ok := rm["actions"].([]any); ok {
				for _, ar := range actionsRaw {
					if am, ok := ar.(map[string]any); ok {
						cr.Actions = append(cr.Actions, RemediationActionFromMap(am))
					}
				}
			}
			r.Resolutions = append(r.Resolutions, cr)
		}
	}

	return r
}
