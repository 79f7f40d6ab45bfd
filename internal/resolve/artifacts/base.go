// Package artifacts implements the concrete toolapi.ArtifactHandler types
// Stage C's resolver applies finalized resolution actions through: a Skill
// (SKILL.md), a CLAUDE.md preferences file, and a markdown-definition-driven
// generic fallback for any other artifact type.
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Settings are the per-artifact-type knobs parsed out of a runtime's
// artifacts/<id>.md definition file's "## Settings" section.
type Settings struct {
	Enabled    bool
	OutputPath string
	Scope      string
	Extra      map[string]any
}

func defaultSettings() Settings {
	return Settings{Enabled: true, Scope: "global", Extra: map[string]any{}}
}

var settingsLinePattern = regexp.MustCompile(`^-\s+(\w+):\s*(.+)$`)

func parseSettings(body string) Settings {
	s := defaultSettings()
	for _, line := range strings.Split(body, "\n") {
		m := settingsLinePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		key, value := m[1], strings.TrimSpace(m[2])
		switch key {
		case "enabled":
			s.Enabled = strings.EqualFold(value, "true")
		case "output_path":
			s.OutputPath = value
		case "scope":
			s.Scope = value
		default:
			s.Extra[key] = parseScalar(value)
		}
	}
	return s
}

func parseScalar(value string) any {
	switch strings.ToLower(value) {
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.Atoi(value); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return value
}

func parseBulletList(body string) []string {
	var items []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "- ") {
			items = append(items, line[2:])
		}
	}
	return items
}

// splitSections splits a markdown definition on "## " headers into a
// section-name -> body map.
func splitSections(content string) map[string]string {
	sections := map[string]string{}
	current := ""
	var buf []string
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "## ") {
			if current != "" {
				sections[current] = strings.Join(buf, "\n")
			}
			current = strings.TrimSpace(line[3:])
			buf = nil
		} else {
			buf = append(buf, line)
		}
	}
	if current != "" {
		sections[current] = strings.Join(buf, "\n")
	}
	return sections
}

// Artifact is the file a handler produced or modified.
type Artifact struct {
	Name     string
	Path     string
	Content  string
	Metadata map[string]any
}

// Base implements the markdown-definition parsing and agent-context
// composition shared by every concrete handler. Concrete handlers embed
// Base and only need to supply ArtifactName/ContentSchema/Create/Update/
// Append/Validate.
type Base struct {
	ID         string
	RuntimeDir string

	Settings Settings

	loaded          bool
	agentContext    string
	validationRules []string
	fileFormat      string
}

// NewBase builds a Base handler state for the given artifact id, rooted at
// a runtime directory whose artifacts/<id>.md definition file, if present,
// is loaded lazily on first AgentContext() call.
func NewBase(id, runtimeDir string) Base {
	return Base{ID: id, RuntimeDir: runtimeDir, Settings: defaultSettings()}
}

// LoadDefinition parses a markdown definition file eagerly.
func (b *Base) LoadDefinition(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("artifact definition not found: %s: %w", path, err)
	}
	b.parseDefinition(string(data))
	b.loaded = true
	return nil
}

func (b *Base) parseDefinition(content string) {
	sections := splitSections(content)
	if body, ok := sections["Settings"]; ok {
		b.Settings = parseSettings(body)
	}
	if body, ok := sections["Validation Rules"]; ok {
		b.validationRules = parseBulletList(body)
	}
	if body, ok := sections["File Format"]; ok {
		b.fileFormat = strings.TrimSpace(body)
	}
	if body, ok := sections["For Resolution Agent"]; ok {
		b.agentContext = strings.TrimSpace(body)
	}
}

func (b *Base) definitionPath() string {
	return filepath.Join(b.RuntimeDir, "artifacts", b.ID+".md")
}

// ensureLoaded lazily loads the definition file on first use.
func (b *Base) ensureLoaded() {
	if b.loaded {
		return
	}
	if _, err := os.Stat(b.definitionPath()); err == nil {
		_ = b.LoadDefinition(b.definitionPath())
	}
}

// AgentContext composes the parsed definition into the structured context
// the create_resolution_action tool surfaces to the resolution agent.
func (b *Base) AgentContext() map[string]any {
	b.ensureLoaded()
	ctx := map[string]any{"artifact_type": b.ID}
	if b.agentContext != "" {
		ctx["description"] = b.agentContext
	}
	if b.fileFormat != "" {
		ctx["file_format"] = b.fileFormat
	}
	if len(b.validationRules) > 0 {
		ctx["validation_rules"] = b.validationRules
	}
	return ctx
}

// OutputPath reports the handler's configured output override, or "" to
// mean "use the handler's built-in default".
func (b *Base) OutputPath() string { return b.Settings.OutputPath }

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func titleizeKey(key string) string {
	words := strings.Split(strings.ReplaceAll(key, "_", " "), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func toStringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, x := range raw {
		out = append(out, fmt.Sprintf("%v", x))
	}
	return out
}

func stemOf(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
