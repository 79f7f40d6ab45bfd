package toolapi

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/soft-beds-inc/good-night/pkg/model"
)

// Step1Context holds the conversations one Stage A detection agent
// explores, plus the issues it has reported so far via report_issue.
type Step1Context struct {
	Conversations  []model.Conversation
	ReportedIssues []*model.Issue

	index map[string]*model.Conversation
}

// NewStep1Context indexes conversations by session id for O(1) lookup.
func NewStep1Context(conversations []model.Conversation) *Step1Context {
	c := &Step1Context{Conversations: conversations, index: make(map[string]*model.Conversation, len(conversations))}
	for i := range c.Conversations {
		c.index[c.Conversations[i].SessionID] = &c.Conversations[i]
	}
	return c
}

func (c *Step1Context) listConversations(limit, offset int) string {
	if limit <= 0 {
		limit = 50
	}
	end := offset + limit
	if end > len(c.Conversations) {
		end = len(c.Conversations)
	}
	var result []map[string]any
	if offset < len(c.Conversations) {
		for _, conv := range c.Conversations[offset:end] {
			human, assistant := 0, 0
			for _, m := range conv.Messages {
				switch m.Role {
				case model.RoleHuman:
					human++
				case model.RoleAssistant:
					assistant++
				}
			}
			result = append(result, map[string]any{
				"id":                 conv.SessionID,
				"started_at":         formatTimeOrNil(conv.StartedAt),
				"ended_at":           formatTimeOrNil(conv.EndedAt),
				"message_count":      len(conv.Messages),
				"human_messages":     human,
				"assistant_messages": assistant,
			})
		}
	}
	return jsonOf(map[string]any{
		"conversations": result,
		"total":         len(c.Conversations),
		"offset":        offset,
		"limit":         limit,
		"has_more":      offset+limit < len(c.Conversations),
	})
}

func (c *Step1Context) getMessages(conversationID string, offset, limit int) string {
	conv, ok := c.index[conversationID]
	if !ok {
		return jsonError("Conversation %s not found", conversationID)
	}
	if limit <= 0 {
		limit = 50
	}
	end := offset + limit
	if end > len(conv.Messages) {
		end = len(conv.Messages)
	}
	var result []map[string]any
	if offset < len(conv.Messages) {
		for i, msg := range conv.Messages[offset:end] {
			content := msg.Content
			truncated := len(content) > 500
			if truncated {
				content = content[:500]
			}
			result = append(result, map[string]any{
				"index":     offset + i,
				"role":      string(msg.Role),
				"content":   content,
				"truncated": truncated,
				"timestamp": formatTimeOrNil(msg.Timestamp),
			})
		}
	}
	return jsonOf(map[string]any{
		"conversation_id": conversationID,
		"offset":          offset,
		"limit":           limit,
		"total_messages":  len(conv.Messages),
		"messages":        result,
		"has_more":        offset+limit < len(conv.Messages),
	})
}

func (c *Step1Context) getFullMessage(conversationID string, messageIndex int) string {
	conv, ok := c.index[conversationID]
	if !ok {
		return jsonError("Conversation %s not found", conversationID)
	}
	if messageIndex < 0 || messageIndex >= len(conv.Messages) {
		return jsonError("Message index %d out of range", messageIndex)
	}
	msg := conv.Messages[messageIndex]
	return jsonOf(map[string]any{
		"conversation_id": conversationID,
		"message_index":   messageIndex,
		"role":            string(msg.Role),
		"content":         msg.Content,
		"timestamp":       formatTimeOrNil(msg.Timestamp),
	})
}

func (c *Step1Context) searchMessages(query, role, conversationID string, limit int) string {
	if limit <= 0 {
		limit = 50
	}
	queryLower := strings.ToLower(query)
	var results []map[string]any

outer:
	for _, conv := range c.Conversations {
		if conversationID != "" && conv.SessionID != conversationID {
			continue
		}
		for i, msg := range conv.Messages {
			if role != "" && role != "any" && string(msg.Role) != role {
				continue
			}
			contentLower := strings.ToLower(msg.Content)
			matchPos := strings.Index(contentLower, queryLower)
			if matchPos < 0 {
				continue
			}
			start := matchPos - 50
			if start < 0 {
				start = 0
			}
			end := matchPos + len(query) + 50
			if end > len(msg.Content) {
				end = len(msg.Content)
			}
			snippet := msg.Content[start:end]
			if start > 0 {
				snippet = "..." + snippet
			}
			if end < len(msg.Content) {
				snippet = snippet + "..."
			}
			results = append(results, map[string]any{
				"conversation_id": conv.SessionID,
				"message_index":   i,
				"role":            string(msg.Role),
				"snippet":         snippet,
				"match_count":     strings.Count(contentLower, queryLower),
			})
			if len(results) >= limit {
				break outer
			}
		}
	}

	return jsonOf(map[string]any{
		"query":         query,
		"role_filter":   orDefault(role, "any"),
		"results":       results,
		"total_matches": len(results),
		"truncated":     len(results) >= limit,
	})
}

// scanRecentHumanMessages is the first tool a Stage A agent reaches for: a
// wide, cheap sweep of what users have actually been asking for, grouped by
// project so the agent can decide where to dig with get_messages/
// search_messages next. workingDirectory narrows the sweep to one project;
// "" scans every group, with "(no project)" a valid group of its own.
func (c *Step1Context) scanRecentHumanMessages(workingDirectory string, limit int) string {
	if limit <= 0 {
		limit = 100
	}

	type humanMsg struct {
		sessionID string
		index     int
		msg       model.Message
	}
	groups := map[string][]humanMsg{}
	for i := range c.Conversations {
		conv := &c.Conversations[i]
		wd := conv.WorkingDirectory()
		if workingDirectory != "" && wd != workingDirectory {
			continue
		}
		for idx, m := range conv.Messages {
			if m.Role != model.RoleHuman {
				continue
			}
			groups[wd] = append(groups[wd], humanMsg{sessionID: conv.SessionID, index: idx, msg: m})
		}
	}

	groupNames := make([]string, 0, len(groups))
	for g := range groups {
		groupNames = append(groupNames, g)
	}
	sort.Strings(groupNames)

	result := make([]map[string]any, 0, len(groupNames))
	for _, g := range groupNames {
		msgs := groups[g]
		sort.Slice(msgs, func(i, j int) bool {
			ti, tj := msgs[i].msg.Timestamp, msgs[j].msg.Timestamp
			if !ti.Equal(tj) {
				return ti.After(tj)
			}
			return msgs[i].index < msgs[j].index
		})
		if len(msgs) > limit {
			msgs = msgs[:limit]
		}

		items := make([]map[string]any, 0, len(msgs))
		for _, hm := range msgs {
			content := hm.msg.Content
			truncated := len(content) > 300
			if truncated {
				content = content[:300]
			}
			items = append(items, map[string]any{
				"session_id":    hm.sessionID,
				"message_index": hm.index,
				"content":       content,
				"truncated":     truncated,
				"timestamp":     formatTimeOrNil(hm.msg.Timestamp),
			})
		}

		label := g
		if label == "" {
			label = "(no project)"
		}
		result = append(result, map[string]any{
			"working_directory": label,
			"messages":          items,
			"total":             len(items),
			"discovery_hint":    "Use get_messages or search_messages against this group's session_ids to read full exchanges, including assistant replies.",
		})
	}

	return jsonOf(map[string]any{
		"groups":       result,
		"total_groups": len(result),
		"limit":        limit,
	})
}

func (c *Step1Context) reportIssue(args map[string]any) string {
	issueType := model.IssueOther
	if t, ok := args["type"].(string); ok && isValidIssueType(t) {
		issueType = model.IssueType(t)
	}
	severity := model.SeverityMedium
	if s, ok := args["severity"].(string); ok && isValidSeverity(s) {
		severity = model.Severity(s)
	}
	title, _ := args["title"].(string)
	description, _ := args["description"].(string)
	suggestedResolution, _ := args["suggested_resolution"].(string)
	localChange := boolArg(args, "local_change")

	var evidence []model.Evidence
	if raw, ok := args["evidence"].([]any); ok {
		for _, item := range raw {
			em, ok := item.(map[string]any)
			if !ok {
				continue
			}
			sessionID, _ := em["session_id"].(string)
			workingDirectory, _ := em["working_directory"].(string)
			if workingDirectory == "" && sessionID != "" {
				if conv, ok := c.index[sessionID]; ok {
					workingDirectory = conv.WorkingDirectory()
				}
			}
			e := model.Evidence{
				SessionID:        sessionID,
				WorkingDirectory: workingDirectory,
			}
			e.Quote, _ = em["quote"].(string)
			e.Context, _ = em["context"].(string)
			if idx, ok := em["message_index"].(float64); ok {
				i := int(idx)
				e.MessageIndex = &i
			}
			evidence = append(evidence, e)
		}
	}

	issue := &model.Issue{
		ID:                  uuid.NewString(),
		Type:                issueType,
		Severity:            severity,
		Title:               title,
		Description:         description,
		Evidence:            evidence,
		Confidence:          0.8,
		SuggestedResolution: suggestedResolution,
		LocalChange:         localChange,
		Metadata:            map[string]any{},
	}
	c.ReportedIssues = append(c.ReportedIssues, issue)

	return jsonOf(map[string]any{
		"success":               true,
		"issue_id":              issue.ID,
		"message":               "Issue reported: " + title,
		"total_issues_reported": len(c.ReportedIssues),
	})
}

func isValidIssueType(t string) bool {
	switch model.IssueType(t) {
	case model.IssueRepeatedRequest, model.IssueFrustrationSignal, model.IssueStyleMismatch,
		model.IssueCapabilityGap, model.IssueKnowledgeGap, model.IssueOther:
		return true
	}
	return false
}

func isValidSeverity(s string) bool {
	switch model.Severity(s) {
	case model.SeverityLow, model.SeverityMedium, model.SeverityHigh, model.SeverityCritical:
		return true
	}
	return false
}

// BuildStep1Tools registers Stage A's six conversation-exploration tools.
func BuildStep1Tools(c *Step1Context) []Def {
	return []Def{
		{
			Name:        "scan_recent_human_messages",
			Description: "Scan recent human messages across conversations, grouped by project (working_directory). Use this first for a cheap, wide sweep before drilling into specific conversations.",
			Properties: map[string]any{
				"working_directory": map[string]any{"type": "string", "description": "Optional: limit the scan to one project's conversations"},
				"limit":             map[string]any{"type": "integer", "description": "Maximum messages to return per project (default: 100)", "default": 100},
			},
			Handler: func(ctx context.Context, args map[string]any) string {
				return c.scanRecentHumanMessages(strArg(args, "working_directory"), intArg(args, "limit", 100))
			},
		},
		{
			Name:        "list_conversations",
			Description: "List all available conversations with metadata (id, date, message counts). Use pagination for large sets.",
			Properties: map[string]any{
				"limit":  map[string]any{"type": "integer", "description": "Maximum conversations to return (default: 50)", "default": 50},
				"offset": map[string]any{"type": "integer", "description": "Offset for pagination (default: 0)", "default": 0},
			},
			Handler: func(ctx context.Context, args map[string]any) string {
				return c.listConversations(intArg(args, "limit", 50), intArg(args, "offset", 0))
			},
		},
		{
			Name:        "get_messages",
			Description: "Get messages from a conversation with pagination. Messages over 500 chars are truncated.",
			Properties: map[string]any{
				"conversation_id": map[string]any{"type": "string", "description": "ID of the conversation"},
				"offset":          map[string]any{"type": "integer", "description": "Start from this message index (default: 0)", "default": 0},
				"limit":           map[string]any{"type": "integer", "description": "Maximum messages to return (default: 50)", "default": 50},
			},
			Required: []string{"conversation_id"},
			Handler: func(ctx context.Context, args map[string]any) string {
				return c.getMessages(strArg(args, "conversation_id"), intArg(args, "offset", 0), intArg(args, "limit", 50))
			},
		},
		{
			Name:        "get_full_message",
			Description: "Get the full, untruncated content of a specific message.",
			Properties: map[string]any{
				"conversation_id": map[string]any{"type": "string", "description": "ID of the conversation"},
				"message_index":   map[string]any{"type": "integer", "description": "Index of the message to retrieve"},
			},
			Required: []string{"conversation_id", "message_index"},
			Handler: func(ctx context.Context, args map[string]any) string {
				return c.getFullMessage(strArg(args, "conversation_id"), intArg(args, "message_index", 0))
			},
		},
		{
			Name:        "search_messages",
			Description: "Search for patterns across conversations. Returns matching messages with context snippets.",
			Properties: map[string]any{
				"query":           map[string]any{"type": "string", "description": "Text to search for (case-insensitive)"},
				"role":            map[string]any{"type": "string", "enum": []string{"human", "assistant", "any"}, "description": "Filter by message role (default: any)", "default": "any"},
				"conversation_id": map[string]any{"type": "string", "description": "Optional: limit search to specific conversation"},
				"limit":           map[string]any{"type": "integer", "description": "Maximum results to return (default: 50)", "default": 50},
			},
			Required: []string{"query"},
			Handler: func(ctx context.Context, args map[string]any) string {
				return c.searchMessages(strArg(args, "query"), strArg(args, "role"), strArg(args, "conversation_id"), intArg(args, "limit", 50))
			},
		},
		{
			Name:        "report_issue",
			Description: "Report an issue found in conversations. Include evidence with session_id and message_index.",
			Properties: map[string]any{
				"type":     map[string]any{"type": "string", "enum": []string{"repeated_request", "frustration_signal", "style_mismatch", "capability_gap", "knowledge_gap", "other"}, "description": "Type of issue"},
				"severity": map[string]any{"type": "string", "enum": []string{"low", "medium", "high", "critical"}, "description": "Severity level"},
				"title":    map[string]any{"type": "string", "description": "Short title for the issue"},
				"description": map[string]any{"type": "string", "description": "Detailed description of the issue"},
				"evidence": map[string]any{
					"type":        "array",
					"description": "Evidence from conversations. working_directory will be auto-populated from conversation metadata if not provided.",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"session_id":        map[string]any{"type": "string", "description": "Conversation session ID"},
							"message_index":     map[string]any{"type": "integer", "description": "Index of the message in the conversation"},
							"quote":             map[string]any{"type": "string", "description": "Relevant quote from the message"},
							"context":           map[string]any{"type": "string", "description": "Additional context about the evidence"},
							"working_directory": map[string]any{"type": "string", "description": "Working directory of the conversation (optional, auto-populated)"},
						},
					},
				},
				"suggested_resolution": map[string]any{"type": "string", "description": "Optional suggestion for how to resolve this issue"},
				"local_change":         map[string]any{"type": "boolean", "description": "True if this issue is specific to the current project's conventions, false if it reflects a global preference (default: false)", "default": false},
			},
			Required: []string{"type", "severity", "title", "description"},
			Handler: func(ctx context.Context, args map[string]any) string {
				return c.reportIssue(args)
			},
		},
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
