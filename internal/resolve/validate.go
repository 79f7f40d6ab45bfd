package resolve

import (
	"fmt"
	"strings"

	"github.com/soft-beds-inc/good-night/pkg/model"
)

// ValidateResolution re-checks a finalized resolution's actions before it
// leaves the process, independent of whatever validation the drafting
// agent already passed through create_resolution_action. Go's static
// typing already covers the original's schema-shape checks (every action
// in a model.RemediationAction has a string type/target, a typed
// Operation, a bool LocalChange, a []string IssueRefs) — what remains are
// the value-level checks: a non-empty target without "..", an operation and
// priority from their known sets, and the skill content requirements.
func ValidateResolution(r *model.Resolution) []string {
	var errs []string
	for i, cr := range r.Resolutions {
		for j, action := range cr.Actions {
			prefix := fmt.Sprintf("resolutions[%d].actions[%d]", i, j)
			errs = append(errs, checkActionTarget(prefix, action)...)
			errs = append(errs, checkOperation(prefix, action)...)
			errs = append(errs, checkPriority(prefix, action)...)
			errs = append(errs, checkContentRequirements(prefix, action)...)
		}
	}
	return errs
}

func checkActionTarget(prefix string, a *model.RemediationAction) []string {
	if a.Target == "" {
		return []string{prefix + ".target: cannot be empty"}
	}
	if strings.Contains(a.Target, "..") {
		return []string{prefix + ".target: path traversal not allowed"}
	}
	return nil
}

func checkOperation(prefix string, a *model.RemediationAction) []string {
	switch a.Operation {
	case model.OperationCreate, model.OperationUpdate, model.OperationAppend:
		return nil
	default:
		return []string{fmt.Sprintf("%s.operation: must be one of [create update append]", prefix)}
	}
}

func checkPriority(prefix string, a *model.RemediationAction) []string {
	if a.Priority == "" {
		return nil
	}
	switch a.Priority {
	case model.PriorityLow, model.PriorityMedium, model.PriorityHigh:
		return nil
	default:
		return []string{fmt.Sprintf("%s.priority: must be one of [low medium high]", prefix)}
	}
}

// checkContentRequirements requires a skill 'create' action to have a
// content.name plus either instructions or description. This matches the
// original literally: it checks action.type == "skill" only, not the
// "claude-skills" alias the artifact registry treats as equivalent. That
// asymmetry looks like an oversight rather than a deliberate choice in the
// original, but this is a direct port rather than a bugfix — a
// "claude-skills"-typed action is validated the same way the original
// validates it, i.e. not by this rule at all.
func checkContentRequirements(prefix string, a *model.RemediationAction) []string {
	if a.Type != "skill" || a.Operation != model.OperationCreate {
		return nil
	}

	var errs []string
	name, _ := a.Content["name"].(string)
	if name == "" {
		errs = append(errs, prefix+".content: skill 'create' requires 'name'")
	}
	instructions, _ := a.Content["instructions"].(string)
	description, _ := a.Content["description"].(string)
	if instructions == "" && description == "" {
		errs = append(errs, prefix+".content: skill 'create' requires 'instructions' or 'description'")
	}
	return errs
}
