package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/soft-beds-inc/good-night/internal/toolapi"
)

// SkillHandler generates Claude Code SKILL.md files: reusable, named,
// procedural instructions the agent loads on demand, as opposed to
// PreferencesHandler's always-on style rules. It always targets the
// "claude-skills" definition regardless of the id it was constructed
// under, matching the original's hardcoded artifact id.
type SkillHandler struct {
	Base
}

// NewSkillHandler builds a SkillHandler. The runtimeDir argument is kept
// (rather than hardcoding the id at call sites) so it satisfies the same
// constructor signature every Registry entry uses.
func NewSkillHandler(runtimeDir string) Handler {
	return &SkillHandler{Base: NewBase("claude-skills", runtimeDir)}
}

func (h *SkillHandler) ArtifactName() string { return "Claude Skill" }

func (h *SkillHandler) ContentSchema() toolapi.ContentSchema {
	return toolapi.ContentSchema{
		Hint: "Skills are reusable, procedural instructions for specific tasks. Provide name, description, and step-by-step instructions.",
		RequiredFields: map[string]string{
			"name":         "Skill name (kebab-case, e.g. 'deploy-service')",
			"description":  "One-line description of what the skill does and when to use it",
			"instructions": "Step-by-step instructions the agent should follow",
		},
		OptionalFields: map[string]string{
			"when_to_use": "Additional guidance on when this skill applies",
			"examples":    "Example usage scenarios",
		},
	}
}

func (h *SkillHandler) outputDir() string {
	if h.Settings.OutputPath != "" {
		return expandHome(h.Settings.OutputPath)
	}
	if h.Settings.Scope == "global" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		return filepath.Join(home, ".claude", "skills")
	}
	return filepath.Join(".claude", "skills")
}

// contentOr returns content[key] as a string, falling back to fallback
// (matching the original's content.get(key, fallback) pattern).
func contentOr(content map[string]any, key, fallback string) string {
	if v, ok := content[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func (h *SkillHandler) generateContent(name string, content map[string]any) string {
	skillName := contentOr(content, "name", name)
	description, _ := content["description"].(string)
	instructions, _ := content["instructions"].(string)
	whenToUse, _ := content["when_to_use"].(string)
	examples, _ := content["examples"].(string)

	frontmatter := []string{
		"---",
		"name: " + skillName,
		"description: " + description,
		"version: 1.0.0",
		"generated_by: good-night",
		"---",
	}

	body := []string{"# " + skillName}
	if description != "" {
		body = append(body, "\n"+description)
	}
	if whenToUse != "" {
		body = append(body, "\n## When to Use", whenToUse)
	}
	if instructions != "" {
		body = append(body, "\n## Instructions", instructions)
	}
	if examples != "" {
		body = append(body, "\n## Examples", examples)
	}

	return strings.Join(frontmatter, "\n") + "\n\n" + strings.Join(body, "\n")
}

func (h *SkillHandler) Create(name string, content map[string]any) (*Artifact, error) {
	dir := filepath.Join(h.outputDir(), name)
	path := filepath.Join(dir, "SKILL.md")
	md := h.generateContent(name, content)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create skill dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(md), 0o644); err != nil {
		return nil, fmt.Errorf("write skill: %w", err)
	}

	a := &Artifact{Name: name, Path: path, Content: md, Metadata: map[string]any{"operation": "create"}}
	if errs := h.Validate(a); len(errs) > 0 {
		a.Metadata["validation_errors"] = errs
	}
	return a, nil
}

func (h *SkillHandler) Update(path string, content map[string]any) (*Artifact, error) {
	parentName := filepath.Base(filepath.Dir(path))
	existing, err := os.ReadFile(path)
	if err != nil {
		name := parentName
		if filepath.Base(path) != "SKILL.md" {
			name = stemOf(path)
		}
		return h.Create(name, content)
	}

	name := parentName
	if n, ok := content["name"].(string); ok && n != "" {
		name = n
	}
	md := h.generateContent(name, content)
	if err := os.WriteFile(path, []byte(md), 0o644); err != nil {
		return nil, err
	}
	return &Artifact{
		Name: name, Path: path, Content: md,
		Metadata: map[string]any{"operation": "update", "previous_content": string(existing)},
	}, nil
}

// Append only recognizes content["additional_instructions"]/
// content["additional_examples"]; anything else leaves the file untouched.
func (h *SkillHandler) Append(path string, content map[string]any) (*Artifact, error) {
	parentName := filepath.Base(filepath.Dir(path))
	existing, err := os.ReadFile(path)
	if err != nil {
		return h.Create(parentName, content)
	}

	text := string(existing)
	var added []string
	if extra, _ := content["additional_instructions"].(string); extra != "" {
		added = append(added, "\n## Additional Instructions", extra)
	}
	if extra, _ := content["additional_examples"].(string); extra != "" {
		added = append(added, "\n## More Examples", extra)
	}
	if len(added) > 0 {
		text = text + "\n" + strings.Join(added, "\n")
		if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
			return nil, err
		}
	}

	return &Artifact{
		Name: parentName, Path: path, Content: text,
		Metadata: map[string]any{"operation": "append"},
	}, nil
}

func (h *SkillHandler) Validate(a *Artifact) []string {
	var errs []string
	content := a.Content
	if !strings.HasPrefix(content, "---") {
		errs = append(errs, "SKILL.md must start with YAML frontmatter")
	}
	if !strings.Contains(content, "name:") {
		errs = append(errs, "Frontmatter missing 'name' field")
	}
	if !strings.Contains(content, "description:") {
		errs = append(errs, "Frontmatter missing 'description' field")
	}
	if !strings.Contains(content, "## When to Use") && !strings.Contains(content, "## Instructions") {
		errs = append(errs, "Missing '## When to Use' or '## Instructions' section")
	}
	if lines := strings.Count(content, "\n") + 1; lines > 500 {
		errs = append(errs, fmt.Sprintf("Content too long (%d lines, max 500)", lines))
	}
	return errs
}
