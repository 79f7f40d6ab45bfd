package connector

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/soft-beds-inc/good-night/pkg/model"
)

// ClaudeCode reads session transcripts from a Claude Code projects
// directory (by default ~/.claude/projects) and turns each *.jsonl file
// into a model.Conversation.
type ClaudeCode struct {
	ProjectsDir string
	RuntimeDir  string
}

// NewClaudeCode builds a connector rooted at projectsDir (falling back to
// ~/.claude/projects when empty) that persists its cursor under runtimeDir.
func NewClaudeCode(projectsDir, runtimeDir string) *ClaudeCode {
	if projectsDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			projectsDir = filepath.Join(home, ".claude", "projects")
		}
	}
	return &ClaudeCode{ProjectsDir: projectsDir, RuntimeDir: runtimeDir}
}

func (c *ClaudeCode) Name() string { return "claude-code" }

func (c *ClaudeCode) cursorFile() string {
	return filepath.Join(c.RuntimeDir, "state", "claude_code_cursor.json")
}

// Extract walks every project subdirectory for *.jsonl session files newer
// than since, newest-first, applying cursor (an absolute file path: only
// files strictly after it in the sort order are returned) and limit.
func (c *ClaudeCode) Extract(ctx context.Context, since time.Time, cursor string, limit int) (*model.Batch, error) {
	entries, err := os.ReadDir(c.ProjectsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return &model.Batch{}, nil
		}
		return nil, fmt.Errorf("read projects dir: %w", err)
	}

	type sessionFile struct {
		path  string
		mtime time.Time
	}
	var files []sessionFile

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		projectDir := filepath.Join(c.ProjectsDir, entry.Name())
		matches, err := filepath.Glob(filepath.Join(projectDir, "*.jsonl"))
		if err != nil {
			continue
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil {
				continue
			}
			if !since.IsZero() && info.ModTime().Before(since) {
				continue
			}
			files = append(files, sessionFile{path: m, mtime: info.ModTime()})
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].mtime.After(files[j].mtime) })

	if cursor != "" {
		idx := -1
		for i, f := range files {
			if f.path == cursor {
				idx = i
				break
			}
		}
		if idx >= 0 {
			files = files[idx+1:]
		}
	}

	hasMore := false
	if limit > 0 && len(files) > limit {
		files = files[:limit]
		hasMore = true
	}

	var conversations []model.Conversation
	for _, f := range files {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		conv, err := parseSessionFile(f.path)
		if err != nil || conv == nil {
			continue
		}
		conversations = append(conversations, *conv)
	}

	var nextCursor string
	if hasMore && len(files) > 0 {
		nextCursor = files[len(files)-1].path
	}

	return &model.Batch{Conversations: conversations, Cursor: nextCursor, HasMore: hasMore}, nil
}

// parseSessionFile reads one line-delimited JSON session file, tolerating
// malformed lines, and returns nil if the file yields no messages.
func parseSessionFile(path string) (*model.Conversation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var messages []model.Message
	var startedAt, endedAt time.Time

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var raw map[string]any
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			continue
		}
		msg, ok := parseMessage(raw)
		if !ok {
			continue
		}
		messages = append(messages, msg)
		if !msg.Timestamp.IsZero() {
			if startedAt.IsZero() || msg.Timestamp.Before(startedAt) {
				startedAt = msg.Timestamp
			}
			if endedAt.IsZero() || msg.Timestamp.After(endedAt) {
				endedAt = msg.Timestamp
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, nil
	}

	if startedAt.IsZero() || endedAt.IsZero() {
		if info, err := os.Stat(path); err == nil {
			startedAt, endedAt = info.ModTime(), info.ModTime()
		}
	}

	projectDir := filepath.Base(filepath.Dir(path))
	workingDirectory := strings.ReplaceAll(projectDir, "-", "/")
	sessionID := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	return &model.Conversation{
		SessionID: sessionID,
		Messages:  messages,
		StartedAt: startedAt.UTC(),
		EndedAt:   endedAt.UTC(),
		Source:    "claude_code",
		Metadata: map[string]any{
			"file_path":         path,
			"working_directory": workingDirectory,
			"project_dir":       projectDir,
		},
	}, nil
}

var roleMap = map[string]model.Role{
	"user":        model.RoleHuman,
	"human":       model.RoleHuman,
	"assistant":   model.RoleAssistant,
	"tool_use":    model.RoleToolCall,
	"tool_result": model.RoleToolResult,
}

func parseRole(role string) model.Role {
	if r, ok := roleMap[strings.ToLower(role)]; ok {
		return r
	}
	return model.RoleHuman
}

// parseTimestamp accepts an ISO-8601 string or a numeric epoch value,
// treating anything above 1e12 as milliseconds rather than seconds.
func parseTimestamp(v any) time.Time {
	switch ts := v.(type) {
	case string:
		normalized := strings.ReplaceAll(ts, "Z", "+00:00")
		if t, err := time.Parse(time.RFC3339, normalized); err == nil {
			return t
		}
		if t, err := time.Parse("2006-01-02T15:04:05.999999", normalized); err == nil {
			return t
		}
		return time.Time{}
	case float64:
		if ts > 1e12 {
			return time.UnixMilli(int64(ts))
		}
		return time.Unix(int64(ts), 0)
	default:
		return time.Time{}
	}
}

// extractTextContent recursively flattens the various shapes a Claude Code
// "content" field can take: a bare string, a list of blocks, a text block,
// a tool_result block (recurses into its content), a nested message
// ("content" key), a bare "text" field, or a tool_use block (summarized as
// "[Tool call: name]").
func extractTextContent(data any) string {
	switch v := data.(type) {
	case nil:
		return ""
	case string:
		return v
	case []any:
		var parts []string
		for _, item := range v {
			if extracted := extractTextContent(item); extracted != "" {
				parts = append(parts, extracted)
			}
		}
		return strings.Join(parts, "\n")
	case map[string]any:
		if t, _ := v["type"].(string); t == "text" {
			s, _ := v["text"].(string)
			return s
		}
		if t, _ := v["type"].(string); t == "tool_result" {
			return extractTextContent(v["content"])
		}
		if content, ok := v["content"]; ok {
			return extractTextContent(content)
		}
		if text, ok := v["text"].(string); ok {
			return text
		}
		if t, _ := v["type"].(string); t == "tool_use" {
			name, _ := v["name"].(string)
			if name == "" {
				name = "unknown"
			}
			return fmt.Sprintf("[Tool call: %s]", name)
		}
	}
	return ""
}

func parseMessage(raw map[string]any) (model.Message, bool) {
	roleStr, _ := raw["role"].(string)
	if roleStr == "" {
		roleStr, _ = raw["type"].(string)
	}
	if roleStr == "" {
		return model.Message{}, false
	}

	role := parseRole(roleStr)

	var content string
	if c, ok := raw["content"]; ok {
		content = extractTextContent(c)
	} else if m, ok := raw["message"]; ok {
		content = extractTextContent(m)
	}

	tsVal := raw["timestamp"]
	if tsVal == nil {
		tsVal = raw["ts"]
	}
	timestamp := parseTimestamp(tsVal)

	msg := model.Message{Role: role, Content: content, Timestamp: timestamp}

	switch role {
	case model.RoleToolCall:
		if name, ok := raw["name"].(string); ok {
			msg.ToolName = name
		} else if name, ok := raw["tool_name"].(string); ok {
			msg.ToolName = name
		}
		if input, ok := raw["input"]; ok {
			msg.ToolInput = input
		} else if input, ok := raw["tool_input"]; ok {
			msg.ToolInput = input
		}
	case model.RoleToolResult:
		if result, ok := raw["result"].(string); ok {
			msg.ToolResult = result
		} else if result, ok := raw["output"].(string); ok {
			msg.ToolResult = result
		} else {
			msg.ToolResult = content
		}
	}

	return msg, true
}

// LastProcessed reads the connector's own cursor file, independent of the
// shared orchestrator state document, matching the legacy on-disk layout.
func (c *ClaudeCode) LastProcessed(ctx context.Context) (time.Time, error) {
	data, err := os.ReadFile(c.cursorFile())
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	var doc struct {
		LastProcessed string `json:"last_processed"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return time.Time{}, nil
	}
	if doc.LastProcessed == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, doc.LastProcessed)
	if err != nil {
		return time.Time{}, nil
	}
	return t, nil
}

func (c *ClaudeCode) SetLastProcessed(ctx context.Context, t time.Time) error {
	path := c.cursorFile()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(map[string]string{"last_processed": t.UTC().Format(time.RFC3339)})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
