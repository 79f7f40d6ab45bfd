package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/soft-beds-inc/good-night/internal/toolapi"
)

// PreferencesHandler manages a project's CLAUDE.md preferences file: style
// and behavior rules the agent should always follow, as opposed to Skills'
// step-by-step procedures.
type PreferencesHandler struct {
	Base
}

func NewPreferencesHandler(runtimeDir string) Handler {
	return &PreferencesHandler{Base: NewBase("claude-md", runtimeDir)}
}

func (h *PreferencesHandler) ArtifactName() string { return "CLAUDE.md Preferences" }

func (h *PreferencesHandler) ContentSchema() toolapi.ContentSchema {
	return toolapi.ContentSchema{
		Hint:           "Provide a 'preferences' list (each a string, or {section, items}) or section keys mapping to lists/strings.",
		RequiredFields: map[string]string{},
		OptionalFields: map[string]string{
			"preferences": "List of preference strings or {section, items} objects",
		},
	}
}

func (h *PreferencesHandler) outputPath() string {
	if h.Settings.OutputPath != "" {
		return expandHome(h.Settings.OutputPath)
	}
	return "CLAUDE.md"
}

func (h *PreferencesHandler) generateContent(content map[string]any) string {
	lines := []string{"# Project Preferences", ""}

	if prefs, ok := content["preferences"].([]any); ok {
		for _, p := range prefs {
			switch v := p.(type) {
			case map[string]any:
				section, _ := v["section"].(string)
				if section == "" {
					section = "General"
				}
				items := toStringSlice(v["items"])
				if len(items) > 0 {
					lines = append(lines, "## "+section)
					for _, item := range items {
						lines = append(lines, "- "+item)
					}
					lines = append(lines, "")
				}
			case string:
				lines = append(lines, "- "+v)
			}
		}
	}

	for key, value := range content {
		if key == "preferences" || key == "name" || key == "description" {
			continue
		}
		lines = append(lines, "## "+titleizeKey(key))
		switch v := value.(type) {
		case []any:
			for _, item := range v {
				lines = append(lines, fmt.Sprintf("- %v", item))
			}
		case string:
			lines = append(lines, v)
		}
		lines = append(lines, "")
	}

	return strings.TrimSpace(strings.Join(lines, "\n")) + "\n"
}

// parseExistingSections splits an existing CLAUDE.md into ordered
// section-name -> line-list pairs, preserving the order sections first
// appear so a rebuilt document reads the same way.
func parseExistingSections(content string) (map[string][]string, []string) {
	sections := map[string][]string{}
	var order []string
	seen := map[string]bool{}
	current := "General"
	var items []string

	flush := func() {
		if len(items) == 0 {
			return
		}
		if !seen[current] {
			seen[current] = true
			order = append(order, current)
		}
		sections[current] = items
	}

	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "## ") {
			flush()
			current = strings.TrimSpace(line[3:])
			items = nil
		} else if strings.TrimSpace(line) != "" {
			items = append(items, line)
		}
	}
	flush()

	return sections, order
}

func (h *PreferencesHandler) newSectionsFromContent(content map[string]any) (map[string][]string, []string) {
	sections := map[string][]string{}
	var order []string
	add := func(name, item string) {
		if _, ok := sections[name]; !ok {
			order = append(order, name)
		}
		sections[name] = append(sections[name], item)
	}

	if prefs, ok := content["preferences"].([]any); ok {
		for _, p := range prefs {
			switch v := p.(type) {
			case map[string]any:
				section, _ := v["section"].(string)
				if section == "" {
					section = "General"
				}
				for _, item := range toStringSlice(v["items"]) {
					add(section, "- "+item)
				}
			case string:
				add("General", "- "+v)
			}
		}
	}

	for key, value := range content {
		if key == "preferences" || key == "name" || key == "description" {
			continue
		}
		section := titleizeKey(key)
		switch v := value.(type) {
		case []any:
			for _, item := range v {
				add(section, fmt.Sprintf("- %v", item))
			}
		case string:
			add(section, v)
		}
	}

	return sections, order
}

// mergeSections merges new content into existing sections, appending only
// non-duplicate lines to sections that already exist and creating new ones
// as needed, mirroring the original's additive update semantics.
func (h *PreferencesHandler) mergeSections(existing map[string][]string, order []string, newContent map[string]any) string {
	newSections, newOrder := h.newSectionsFromContent(newContent)

	merged := map[string][]string{}
	var mergedOrder []string
	for _, name := range order {
		merged[name] = append([]string{}, existing[name]...)
		mergedOrder = append(mergedOrder, name)
	}
	for _, name := range newOrder {
		items := newSections[name]
		if cur, ok := merged[name]; ok {
			existingSet := map[string]bool{}
			for _, e := range cur {
				existingSet[e] = true
			}
			for _, item := range items {
				if !existingSet[item] {
					merged[name] = append(merged[name], item)
				}
			}
		} else {
			merged[name] = items
			mergedOrder = append(mergedOrder, name)
		}
	}

	lines := []string{"# Project Preferences", ""}
	for _, name := range mergedOrder {
		items := merged[name]
		if name != "General" || len(items) > 0 {
			lines = append(lines, "## "+name)
			lines = append(lines, items...)
			lines = append(lines, "")
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n")) + "\n"
}

func (h *PreferencesHandler) Create(name string, content map[string]any) (*Artifact, error) {
	path := h.outputPath()
	md := h.generateContent(content)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	if err := os.WriteFile(path, []byte(md), 0o644); err != nil {
		return nil, err
	}
	if name == "" {
		name = "CLAUDE.md"
	}
	a := &Artifact{Name: name, Path: path, Content: md, Metadata: map[string]any{"operation": "create"}}
	if errs := h.Validate(a); len(errs) > 0 {
		a.Metadata["validation_errors"] = errs
	}
	return a, nil
}

func (h *PreferencesHandler) Update(path string, content map[string]any) (*Artifact, error) {
	existing, err := os.ReadFile(path)
	if err != nil {
		return h.Create("CLAUDE.md", content)
	}
	sections, order := parseExistingSections(string(existing))
	md := h.mergeSections(sections, order, content)
	if err := os.WriteFile(path, []byte(md), 0o644); err != nil {
		return nil, err
	}
	return &Artifact{
		Name: "CLAUDE.md", Path: path, Content: md,
		Metadata: map[string]any{"operation": "update", "previous_content": string(existing)},
	}, nil
}

func (h *PreferencesHandler) Append(path string, content map[string]any) (*Artifact, error) {
	a, err := h.Update(path, content)
	if err != nil {
		return nil, err
	}
	a.Metadata["operation"] = "append"
	return a, nil
}

var actionablePreferenceSentence = regexp.MustCompile(`(?m)^[A-Z][^.!?]*[.!?]$`)

func (h *PreferencesHandler) Validate(a *Artifact) []string {
	var errs []string
	content := a.Content

	if strings.TrimSpace(content) == "" {
		errs = append(errs, "CLAUDE.md is empty")
	}
	if !strings.Contains(content, "## ") && !strings.Contains(content, "# ") {
		errs = append(errs, "Missing section headers - preferences should be organized")
	}
	if lines := strings.Count(content, "\n") + 1; lines > 1000 {
		errs = append(errs, fmt.Sprintf("Content too long (%d lines, max 1000)", lines))
	}
	if !strings.Contains(content, "- ") && !actionablePreferenceSentence.MatchString(content) {
		errs = append(errs, "Preferences should be specific and actionable (use list items)")
	}
	return errs
}

// AgentContext adds the disambiguation guidance the resolution agent needs
// to decide CLAUDE.md vs. a Skill for a given piece of feedback.
func (h *PreferencesHandler) AgentContext() map[string]any {
	ctx := h.Base.AgentContext()
	ctx["usage_guidance"] = map[string]any{
		"use_for":             "preferences and style: how Claude should generally behave in this project",
		"defer_to_skills_for": "procedures and tasks: step-by-step instructions for specific work",
		"examples": []string{
			`"Always use type hints" -> CLAUDE.md`,
			`"Prefer early returns" -> CLAUDE.md`,
			`"Use pytest not unittest" -> CLAUDE.md`,
			`"Follow PEP 8" -> CLAUDE.md`,
			`"When deploying, do X then Y then Z" -> Skill`,
			`"To debug, first collect logs, then analyze" -> Skill`,
			`"For code review, check A, B, C in order" -> Skill`,
			`"Don't do X" or "Always do Y" -> CLAUDE.md preference`,
			`"When doing X, follow these steps..." -> Skill`,
		},
	}
	return ctx
}
