package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/soft-beds-inc/good-night/internal/toolapi"
)

// GenericHandler derives its behavior entirely from a runtime's
// artifacts/<id>.md definition: an optional "## Description" first line
// for its display name, and a "## Content Schema" YAML code block
// describing the fields it accepts. It is the registry's default for any
// artifact id with no dedicated Go handler.
type GenericHandler struct {
	Base
	description   string
	contentSchema *toolapi.ContentSchema
}

func NewGenericHandler(id, runtimeDir string) Handler {
	return &GenericHandler{Base: NewBase(id, runtimeDir)}
}

func (h *GenericHandler) ArtifactName() string {
	if h.description != "" {
		return h.description
	}
	return titleizeKey(strings.ReplaceAll(h.ID, "-", "_"))
}

// LoadDefinition extends Base's parsing with the two sections specific to
// generic definitions: Description and Content Schema.
func (h *GenericHandler) LoadDefinition(path string) error {
	if err := h.Base.LoadDefinition(path); err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	sections := splitSections(string(data))
	if body, ok := sections["Description"]; ok {
		if first, _, _ := strings.Cut(strings.TrimSpace(body), "\n"); first != "" {
			h.description = first
		}
	}
	if body, ok := sections["Content Schema"]; ok {
		schema := parseContentSchemaYAML(body)
		h.contentSchema = &schema
	}
	return nil
}

var yamlBlockPattern = regexp.MustCompile("(?s)```ya?ml?\\s*\\n(.+?)```")

func parseContentSchemaYAML(body string) toolapi.ContentSchema {
	m := yamlBlockPattern.FindStringSubmatch(body)
	if m == nil {
		return toolapi.ContentSchema{}
	}
	var raw struct {
		RequiredFields map[string]string `yaml:"required_fields"`
		OptionalFields map[string]string `yaml:"optional_fields"`
		Hint           string            `yaml:"hint"`
	}
	if err := yaml.Unmarshal([]byte(m[1]), &raw); err != nil {
		return toolapi.ContentSchema{}
	}
	return toolapi.ContentSchema{
		Hint:           raw.Hint,
		RequiredFields: raw.RequiredFields,
		OptionalFields: raw.OptionalFields,
	}
}

func (h *GenericHandler) ContentSchema() toolapi.ContentSchema {
	if h.contentSchema != nil {
		return *h.contentSchema
	}
	return toolapi.ContentSchema{
		Hint:           fmt.Sprintf("Provide content for %s", h.ID),
		RequiredFields: map[string]string{"content": "The content to write"},
	}
}

func (h *GenericHandler) outputPath(name string) string {
	if h.Settings.OutputPath != "" {
		path := expandHome(h.Settings.OutputPath)
		if strings.HasSuffix(path, ".md") {
			return path
		}
		if name != "" {
			return filepath.Join(path, name+".md")
		}
		return path
	}
	if name != "" {
		return name + ".md"
	}
	return h.ID + ".md"
}

func (h *GenericHandler) generateContent(name string, content map[string]any) string {
	title := name
	if title == "" {
		title = h.ArtifactName()
	}
	lines := []string{"# " + title, ""}

	for key, value := range content {
		if key == "name" {
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
		default:
			lines = append(lines, fmt.Sprintf("%v", v))
		}
		lines = append(lines, "")
	}

	return strings.TrimSpace(strings.Join(lines, "\n")) + "\n"
}

func (h *GenericHandler) Create(name string, content map[string]any) (*Artifact, error) {
	path := h.outputPath(name)
	md := h.generateContent(name, content)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	if err := os.WriteFile(path, []byte(md), 0o644); err != nil {
		return nil, err
	}
	if name == "" {
		name = h.ID
	}
	a := &Artifact{Name: name, Path: path, Content: md, Metadata: map[string]any{"operation": "create"}}
	if errs := h.Validate(a); len(errs) > 0 {
		a.Metadata["validation_errors"] = errs
	}
	return a, nil
}

func (h *GenericHandler) Update(path string, content map[string]any) (*Artifact, error) {
	existing, err := os.ReadFile(path)
	if err != nil {
		return h.Create(stemOf(path), content)
	}
	md := h.generateContent(stemOf(path), content)
	if err := os.WriteFile(path, []byte(md), 0o644); err != nil {
		return nil, err
	}
	return &Artifact{
		Name: stemOf(path), Path: path, Content: md,
		Metadata: map[string]any{"operation": "update", "previous_content": string(existing)},
	}, nil
}

func (h *GenericHandler) Append(path string, content map[string]any) (*Artifact, error) {
	existing, err := os.ReadFile(path)
	if err != nil {
		return h.Create(stemOf(path), content)
	}
	appended := h.generateContent("", content)
	md := strings.TrimRight(string(existing), "\n") + "\n\n" + appended
	if err := os.WriteFile(path, []byte(md), 0o644); err != nil {
		return nil, err
	}
	return &Artifact{
		Name: stemOf(path), Path: path, Content: md,
		Metadata: map[string]any{"operation": "append", "previous_content": string(existing)},
	}, nil
}

func (h *GenericHandler) Validate(a *Artifact) []string {
	var errs []string
	content := a.Content
	if strings.TrimSpace(content) == "" {
		errs = append(errs, fmt.Sprintf("%s is empty", h.ID))
		return errs
	}
	if lines := strings.Count(content, "\n") + 1; lines > 500 {
		errs = append(errs, fmt.Sprintf("Content too long (%d lines, max 500)", lines))
	}
	return errs
}
