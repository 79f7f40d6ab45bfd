package artifacts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGenericHandlerLoadDefinitionParsesContentSchema(t *testing.T) {
	dir := t.TempDir()
	defPath := filepath.Join(dir, "artifacts", "runbook.md")
	if err := os.MkdirAll(filepath.Dir(defPath), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	definition := "## Description\n\nIncident runbooks\n\n" +
		"## Content Schema\n\n```yaml\n" +
		"required_fields:\n  title: Runbook title\n" +
		"optional_fields:\n  severity: Severity level\n" +
		"hint: Describe the incident response steps\n" +
		"```\n"
	if err := os.WriteFile(defPath, []byte(definition), 0o644); err != nil {
		t.Fatalf("write definition: %v", err)
	}

	h := &GenericHandler{Base: NewBase("runbook", dir)}
	if err := h.LoadDefinition(defPath); err != nil {
		t.Fatalf("LoadDefinition error: %v", err)
	}

	if h.ArtifactName() != "Incident runbooks" {
		t.Errorf("ArtifactName() = %q", h.ArtifactName())
	}
	schema := h.ContentSchema()
	if schema.RequiredFields["title"] != "Runbook title" {
		t.Errorf("RequiredFields[title] = %q", schema.RequiredFields["title"])
	}
	if schema.Hint != "Describe the incident response steps" {
		t.Errorf("Hint = %q", schema.Hint)
	}
}

func TestGenericHandlerContentSchemaDefaultsWithoutDefinition(t *testing.T) {
	h := &GenericHandler{Base: NewBase("scratch", t.TempDir())}
	schema := h.ContentSchema()
	if schema.RequiredFields["content"] == "" {
		t.Error("expected a default 'content' required field")
	}
}

func TestGenericHandlerCreateAndAppend(t *testing.T) {
	dir := t.TempDir()
	h := &GenericHandler{Base: NewBase("runbook", dir)}
	h.Settings.OutputPath = dir

	artifact, err := h.Create("db-failover", map[string]any{"steps": []any{"drain traffic", "promote replica"}})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if !strings.Contains(artifact.Content, "## Steps") {
		t.Errorf("missing Steps section: %s", artifact.Content)
	}

	appended, err := h.Append(artifact.Path, map[string]any{"notes": "tested in staging"})
	if err != nil {
		t.Fatalf("Append error: %v", err)
	}
	if !strings.Contains(appended.Content, "drain traffic") {
		t.Error("append should preserve prior content")
	}
	if !strings.Contains(appended.Content, "tested in staging") {
		t.Error("append should include new content")
	}
}

func TestGenericHandlerValidateRejectsEmpty(t *testing.T) {
	h := &GenericHandler{Base: NewBase("runbook", t.TempDir())}
	if errs := h.Validate(&Artifact{Content: ""}); len(errs) == 0 {
		t.Fatal("expected error for empty content")
	}
}
