package toolapi

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/soft-beds-inc/good-night/pkg/model"
)

// ContentSchema describes one artifact type's expected "content" object:
// which fields are required vs optional, plus a human-readable hint shown
// to the agent when it gets content validation wrong.
type ContentSchema struct {
	Hint           string
	RequiredFields map[string]string // field name -> description
	OptionalFields map[string]string
}

// ArtifactHandler is the interface internal/resolve/artifacts implements
// for each artifact type (Skill, CLAUDE.md preference, generic file). The
// Stage C tool façade only needs enough of a handler to describe itself to
// the agent and generate a default target path; applying the action is the
// resolver's job, not the tool façade's.
type ArtifactHandler interface {
	ArtifactName() string
	AgentContext() map[string]any
	ContentSchema() ContentSchema
	OutputPath() string // empty means "use the handler's built-in default"
}

// ResolutionActionDraft is one action proposed via create_resolution_action,
// before finalize_resolution locks the set in.
type ResolutionActionDraft struct {
	ID           string
	ArtifactType string
	Name         string
	TargetPath   string
	Operation    string
	Content      map[string]any
	IssueRefs    []string
	References   []model.ConversationReference
	Rationale    string
	Priority     string
	LocalChange  bool
}

// Step3Context holds Stage C's working state: the issues carried forward
// from Stage B, the enabled artifact handlers, and the draft actions built
// up across the agent's tool calls until finalize_resolution locks them.
type Step3Context struct {
	Report          *model.EnrichedReport
	Handlers        map[string]ArtifactHandler
	EnabledArtifacts []string
	DryRun          bool

	Actions   []ResolutionActionDraft
	finalized bool
}

// NewStep3Context builds a Stage C context over the issues Stage B decided
// need resolving, plus the handlers for the artifact types this run allows.
func NewStep3Context(report *model.EnrichedReport, handlers map[string]ArtifactHandler, enabled []string, dryRun bool) *Step3Context {
	return &Step3Context{Report: report, Handlers: handlers, EnabledArtifacts: enabled, DryRun: dryRun}
}

func (c *Step3Context) issuesToResolve() []*model.EnrichedIssue {
	out := append([]*model.EnrichedIssue{}, c.Report.NewIssues()...)
	out = append(out, c.Report.RecurringIssues()...)
	return out
}

func (c *Step3Context) getIssuesToResolve() string {
	issues := c.issuesToResolve()
	result := make([]map[string]any, 0, len(issues))
	for _, issue := range issues {
		historical := make([]map[string]any, 0, 3)
		for _, link := range firstN(issue.HistoricalLinks, 3) {
			historical = append(historical, map[string]any{
				"resolution_id":   link.ResolutionID,
				"skill_path":      link.SkillPath,
				"relevance_score": link.RelevanceScore,
			})
		}

		var convRefs []map[string]any
		seen := map[string]bool{}
		for _, ev := range issue.Evidence {
			if ev.SessionID != "" && !seen[ev.SessionID] {
				seen[ev.SessionID] = true
				convRefs = append(convRefs, map[string]any{
					"session_id":        ev.SessionID,
					"working_directory": ev.WorkingDirectory,
				})
			}
		}

		result = append(result, map[string]any{
			"id":                   issue.ID,
			"type":                 string(issue.Type),
			"severity":             string(issue.Severity),
			"title":                issue.Title,
			"description":          issue.Description,
			"status":               string(issue.Status),
			"is_recurring":         issue.IsRecurring,
			"suggested_resolution": issue.SuggestedResolution,
			"evidence_count":       len(issue.Evidence),
			"conversation_refs":    convRefs,
			"historical_context":   historical,
		})
	}

	return jsonOf(map[string]any{
		"issues":          result,
		"total":           len(result),
		"new_count":       len(c.Report.NewIssues()),
		"recurring_count": len(c.Report.RecurringIssues()),
	})
}

func (c *Step3Context) getArtifactTypes() string {
	result := make([]map[string]any, 0, len(c.EnabledArtifacts))
	for _, artifactID := range c.EnabledArtifacts {
		handler, ok := c.Handlers[artifactID]
		if !ok {
			result = append(result, map[string]any{"id": artifactID, "name": artifactID, "error": "handler not available"})
			continue
		}
		result = append(result, map[string]any{
			"id":      artifactID,
			"name":    handler.ArtifactName(),
			"context": handler.AgentContext(),
		})
	}
	return jsonOf(map[string]any{"artifact_types": result, "total": len(result)})
}

func (c *Step3Context) contentHint(artifactType string) string {
	if handler, ok := c.Handlers[artifactType]; ok {
		return handler.ContentSchema().Hint
	}
	return "content must be an object with the artifact's required fields"
}

func (c *Step3Context) generateTargetPath(artifactType, name string) string {
	normalized := strings.ReplaceAll(strings.ReplaceAll(strings.ToLower(name), " ", "-"), "_", "-")
	if handler, ok := c.Handlers[artifactType]; ok {
		if base := handler.OutputPath(); base != "" {
			return base + "/" + normalized
		}
	}
	return "~/.good-night/artifacts/" + artifactType + "/" + normalized
}

func (c *Step3Context) createResolutionAction(args map[string]any) string {
	artifactType := strArg(args, "artifact_type")
	name := strArg(args, "name")
	content := mapArg(args, "content")
	issueRefs := strSliceArg(args, "issue_refs")
	targetPath := strArg(args, "target_path")
	operation := orDefault(strArg(args, "operation"), "create")
	rationale := strArg(args, "rationale")
	priority := orDefault(strArg(args, "priority"), "medium")

	if artifactType == "" {
		return jsonError("artifact_type is required")
	}
	if name == "" {
		return jsonError("name is required")
	}
	if len(content) == 0 {
		return jsonOf(map[string]any{
			"error": "content is required",
			"hint":  c.contentHint(artifactType),
		})
	}
	if len(issueRefs) == 0 {
		return jsonError("issue_refs is required (list of issue IDs)")
	}
	if c.finalized {
		return jsonError("Resolution already finalized, cannot add more actions")
	}
	if !contains(c.EnabledArtifacts, artifactType) {
		return jsonOf(map[string]any{
			"error":         fmt.Sprintf("Artifact type '%s' not enabled", artifactType),
			"enabled_types": c.EnabledArtifacts,
		})
	}
	if targetPath == "" {
		targetPath = c.generateTargetPath(artifactType, name)
	}
	switch operation {
	case "create", "update", "append":
	default:
		return jsonError("Invalid operation: %s", operation)
	}

	var references []model.ConversationReference
	seen := map[string]bool{}
	var localChange bool
	for _, issue := range c.issuesToResolve() {
		if !contains(issueRefs, issue.ID) {
			continue
		}
		if issue.LocalChange {
			localChange = true
		}
		for _, ev := range issue.Evidence {
			if ev.SessionID != "" && !seen[ev.SessionID] {
				seen[ev.SessionID] = true
				references = append(references, model.ConversationReference{SessionID: ev.SessionID, WorkingDirectory: ev.WorkingDirectory})
			}
		}
	}

	action := ResolutionActionDraft{
		ID:           shortID(uuid.NewString()),
		ArtifactType: artifactType,
		Name:         name,
		TargetPath:   targetPath,
		Operation:    operation,
		Content:      content,
		IssueRefs:    issueRefs,
		References:   references,
		Rationale:    rationale,
		Priority:     priority,
		LocalChange:  localChange,
	}
	c.Actions = append(c.Actions, action)

	return jsonOf(map[string]any{
		"success":       true,
		"action_id":     action.ID,
		"message":       fmt.Sprintf("Created %s action for %s: %s", operation, artifactType, name),
		"target_path":   targetPath,
		"total_actions": len(c.Actions),
	})
}

func (c *Step3Context) listPendingActions() string {
	result := make([]map[string]any, 0, len(c.Actions))
	for _, a := range c.Actions {
		refs := make([]map[string]any, 0, len(a.References))
		for _, r := range a.References {
			refs = append(refs, r.ToMap())
		}
		rationale := a.Rationale
		if len(rationale) > 100 {
			rationale = rationale[:100] + "..."
		}
		result = append(result, map[string]any{
			"id":            a.ID,
			"artifact_type": a.ArtifactType,
			"name":          a.Name,
			"target_path":   a.TargetPath,
			"operation":     a.Operation,
			"issue_refs":    a.IssueRefs,
			"references":    refs,
			"priority":      a.Priority,
			"rationale":     rationale,
			"local_change":  a.LocalChange,
		})
	}
	return jsonOf(map[string]any{"pending_actions": result, "total": len(result), "finalized": c.finalized})
}

func (c *Step3Context) removeAction(actionID string) string {
	if c.finalized {
		return jsonError("Resolution already finalized")
	}
	for i, a := range c.Actions {
		if a.ID == actionID {
			c.Actions = append(c.Actions[:i], c.Actions[i+1:]...)
			return jsonOf(map[string]any{
				"success":           true,
				"message":           "Removed action: " + a.Name,
				"remaining_actions": len(c.Actions),
			})
		}
	}
	return jsonError("Action %s not found", actionID)
}

func (c *Step3Context) validateAction(a ResolutionActionDraft) []string {
	var errs []string
	if a.Name == "" {
		errs = append(errs, fmt.Sprintf("Action %s: name is required", a.ID))
	}
	if len(a.Content) == 0 {
		errs = append(errs, fmt.Sprintf("Action %s: content is required - %s", a.ID, c.contentHint(a.ArtifactType)))
	}
	if len(a.IssueRefs) == 0 {
		errs = append(errs, fmt.Sprintf("Action %s: at least one issue_ref is required", a.ID))
	}
	if handler, ok := c.Handlers[a.ArtifactType]; ok && len(a.Content) > 0 {
		schema := handler.ContentSchema()
		for field := range schema.RequiredFields {
			if _, ok := a.Content[field]; !ok {
				errs = append(errs, fmt.Sprintf("Action %s: %s content missing '%s'", a.ID, a.ArtifactType, field))
			}
		}
	}
	return errs
}

func (c *Step3Context) finalizeResolution() string {
	if c.finalized {
		return jsonError("Resolution already finalized")
	}
	if len(c.Actions) == 0 {
		return jsonOf(map[string]any{"success": false, "message": "No actions to finalize"})
	}

	var errs []string
	for _, a := range c.Actions {
		errs = append(errs, c.validateAction(a)...)
	}
	if len(errs) > 0 {
		return jsonOf(map[string]any{"success": false, "message": "Validation failed", "errors": errs})
	}

	c.finalized = true

	summary := make([]map[string]any, 0, len(c.Actions))
	for _, a := range c.Actions {
		summary = append(summary, map[string]any{
			"type":      a.ArtifactType,
			"name":      a.Name,
			"operation": a.Operation,
			"target":    a.TargetPath,
		})
	}
	return jsonOf(map[string]any{
		"success":         true,
		"message":         fmt.Sprintf("Resolution finalized with %d actions", len(c.Actions)),
		"dry_run":         c.DryRun,
		"actions_summary": summary,
	})
}

// Finalized reports whether finalize_resolution has locked the action set,
// for the orchestrator to check before reading Resolution().
func (c *Step3Context) Finalized() bool { return c.finalized }

// Resolution converts the finalized drafts into a model.Resolution, or nil
// if nothing was finalized. The caller (Stage C's resolver) is responsible
// for assigning DreamingRunID.
func (c *Step3Context) Resolution() *model.Resolution {
	if !c.finalized || len(c.Actions) == 0 {
		return nil
	}
	actions := make([]*model.RemediationAction, 0, len(c.Actions))
	for _, a := range c.Actions {
		actions = append(actions, &model.RemediationAction{
			Type:       a.ArtifactType,
			Target:     a.TargetPath,
			Operation:  model.ActionOperation(a.Operation),
			Content:    a.Content,
			IssueRefs:  a.IssueRefs,
			References: a.References,
			Priority:    model.ActionPriority(a.Priority),
			Rationale:   a.Rationale,
			LocalChange: a.LocalChange,
		})
	}
	return &model.Resolution{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Resolutions: []model.ConnectorResolution{
			{ConnectorID: c.Report.ConnectorID, Actions: actions},
		},
		Metadata: map[string]any{},
	}
}

// BuildStep3Tools registers Stage C's six resolution-drafting tools. The
// create_resolution_action description and its content schema are built
// dynamically from the enabled handlers, mirroring the original's
// per-run-configuration tool description.
func BuildStep3Tools(c *Step3Context) []Def {
	description, contentSchema := buildResolutionActionSchema(c)
	artifactTypeDescription := fmt.Sprintf("Type of artifact. Available: %v", c.EnabledArtifacts)

	return []Def{
		{
			Name:        "get_issues_to_resolve",
			Description: "Get new and recurring issues that need resolution. Returns issues with their context and any historical links.",
			Handler:     func(ctx context.Context, args map[string]any) string { return c.getIssuesToResolve() },
		},
		{
			Name:        "get_artifact_types",
			Description: "Get available artifact types and their schemas/formats. Use this to understand what artifacts you can create.",
			Handler:     func(ctx context.Context, args map[string]any) string { return c.getArtifactTypes() },
		},
		{
			Name:        "create_resolution_action",
			Description: description,
			Properties: map[string]any{
				"artifact_type": map[string]any{"type": "string", "description": artifactTypeDescription},
				"name":          map[string]any{"type": "string", "description": "Name/identifier of the artifact"},
				"content":       contentSchema,
				"issue_refs":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "REQUIRED: List of issue IDs this action addresses"},
				"target_path":   map[string]any{"type": "string", "description": "Optional: specific path for the artifact (auto-generated if not provided)"},
				"operation":     map[string]any{"type": "string", "enum": []string{"create", "update", "append"}, "description": "Operation type (default: create)", "default": "create"},
				"rationale":     map[string]any{"type": "string", "description": "Why this resolution helps address the issue"},
				"priority":      map[string]any{"type": "string", "enum": []string{"low", "medium", "high"}, "description": "Priority level (default: medium)", "default": "medium"},
			},
			Required: []string{"artifact_type", "name", "content", "issue_refs"},
			Handler: func(ctx context.Context, args map[string]any) string {
				return c.createResolutionAction(args)
			},
		},
		{
			Name:        "list_pending_actions",
			Description: "List all pending resolution actions before finalization.",
			Handler:     func(ctx context.Context, args map[string]any) string { return c.listPendingActions() },
		},
		{
			Name:        "remove_action",
			Description: "Remove a pending action by ID.",
			Properties: map[string]any{
				"action_id": map[string]any{"type": "string", "description": "ID of the action to remove"},
			},
			Required: []string{"action_id"},
			Handler: func(ctx context.Context, args map[string]any) string {
				return c.removeAction(strArg(args, "action_id"))
			},
		},
		{
			Name:        "finalize_resolution",
			Description: "Finalize and validate the resolution. Call this when all actions are ready.",
			Handler:     func(ctx context.Context, args map[string]any) string { return c.finalizeResolution() },
		},
	}
}

func buildResolutionActionSchema(c *Step3Context) (string, map[string]any) {
	var lines []string
	lines = append(lines, "Create a resolution action for an artifact.", "")
	lines = append(lines, "IMPORTANT: The 'content' parameter is REQUIRED and must be an object with specific fields based on artifact type:", "")

	properties := map[string]any{}
	var typeDescriptions []string
	for _, artifactID := range c.EnabledArtifacts {
		handler, ok := c.Handlers[artifactID]
		if !ok {
			continue
		}
		schema := handler.ContentSchema()
		lines = append(lines, fmt.Sprintf("For '%s': %s", artifactID, schema.Hint))

		var required, optional []string
		for field, desc := range schema.RequiredFields {
			required = append(required, field)
			if _, exists := properties[field]; !exists {
				properties[field] = map[string]any{"type": "string", "description": desc}
			}
		}
		for field, desc := range schema.OptionalFields {
			optional = append(optional, field)
			if _, exists := properties[field]; !exists {
				properties[field] = map[string]any{"type": "string", "description": desc}
			}
		}
		typeDescriptions = append(typeDescriptions, fmt.Sprintf("%s: required=%v, optional=%v", artifactID, required, optional))
	}

	lines = append(lines, "", fmt.Sprintf("Available artifact types: %v", c.EnabledArtifacts))

	contentDescription := "REQUIRED object with artifact-specific fields. " + strings.Join(typeDescriptions, "; ")
	return strings.Join(lines, "\n"), map[string]any{
		"type":        "object",
		"description": contentDescription,
		"properties":  properties,
	}
}

func firstN[T any](s []T, n int) []T {
	if len(s) < n {
		return s
	}
	return s[:n]
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

