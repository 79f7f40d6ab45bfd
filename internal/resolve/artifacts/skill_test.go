package artifacts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSkillHandlerCreate(t *testing.T) {
	t.Run("writes SKILL.md under the output dir", func(t *testing.T) {
		dir := t.TempDir()
		h := &SkillHandler{Base: NewBase("claude-skills", dir)}
		h.Settings.OutputPath = filepath.Join(dir, "skills")

		content := map[string]any{
			"description":  "Deploys the service",
			"instructions": "1. Build\n2. Push\n3. Restart",
			"when_to_use":  "When deploying a new release",
		}
		artifact, err := h.Create("deploy-service", content)
		if err != nil {
			t.Fatalf("Create error: %v", err)
		}

		wantPath := filepath.Join(dir, "skills", "deploy-service", "SKILL.md")
		if artifact.Path != wantPath {
			t.Errorf("Path = %q, want %q", artifact.Path, wantPath)
		}
		data, err := os.ReadFile(wantPath)
		if err != nil {
			t.Fatalf("read written skill: %v", err)
		}
		if !strings.Contains(string(data), "name: deploy-service") {
			t.Errorf("content missing frontmatter name: %s", data)
		}
		if !strings.Contains(string(data), "## When to Use") {
			t.Errorf("content missing When to Use section: %s", data)
		}
		if errs, _ := artifact.Metadata["validation_errors"].([]string); len(errs) != 0 {
			t.Errorf("unexpected validation errors: %v", errs)
		}
	})

	t.Run("falls back to scope default when no output_path set", func(t *testing.T) {
		h := &SkillHandler{Base: NewBase("claude-skills", t.TempDir())}
		h.Settings.Scope = "project"
		if got := h.outputDir(); got != ".claude/skills" {
			t.Errorf("outputDir() = %q, want %q", got, ".claude/skills")
		}
	})
}

func TestSkillHandlerUpdateFallsBackToCreate(t *testing.T) {
	dir := t.TempDir()
	h := &SkillHandler{Base: NewBase("claude-skills", dir)}
	h.Settings.OutputPath = dir

	missing := filepath.Join(dir, "ghost", "SKILL.md")
	artifact, err := h.Update(missing, map[string]any{"description": "x", "instructions": "y"})
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if artifact.Metadata["operation"] != "create" {
		t.Errorf("expected fallback create, got operation=%v", artifact.Metadata["operation"])
	}
}

func TestSkillHandlerValidate(t *testing.T) {
	h := &SkillHandler{Base: NewBase("claude-skills", t.TempDir())}

	valid := &Artifact{Content: "---\nname: x\ndescription: y\n---\n\n## Instructions\n\ndo it\n"}
	if errs := h.Validate(valid); len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}

	invalid := &Artifact{Content: "no frontmatter here"}
	errs := h.Validate(invalid)
	if len(errs) == 0 {
		t.Fatal("expected validation errors for malformed content")
	}
}
