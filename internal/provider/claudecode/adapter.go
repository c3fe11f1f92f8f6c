// Package claudecode adapts the Claude Code CLI's stream-json output to the
// provider.Adapter contract, grounded on the reference executor's
// ParseStreamMessage/StreamMessage handling but reworked onto a one-shot
// subprocess call rather than a long-lived interactive session with a
// permission-prompt MCP server — the Phase Runner always knows the full
// prompt up front and never needs to relay a mid-run approval.
package claudecode

import (
	"encoding/json"
	"strings"

	"ember/internal/provider"
)

const Name = "claude_code"

type Adapter struct {
	BinaryPath string
	Model      string
}

func New(binaryPath, model string) *Adapter {
	if strings.TrimSpace(binaryPath) == "" {
		binaryPath = "claude"
	}
	return &Adapter{BinaryPath: binaryPath, Model: model}
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) BuildCommand(req provider.Request) (provider.Command, error) {
	args := []string{"-p", "--output-format", "stream-json", "--verbose", "--dangerously-skip-permissions"}
	if a.Model != "" {
		args = append(args, "--model", a.Model)
	}
	if len(req.OutputSchema) > 0 {
		args = append(args, "--output-schema", string(req.OutputSchema))
	}
	args = append(args, "--", req.Prompt)
	return provider.Command{Path: a.BinaryPath, Args: args}, nil
}

// IsTerminalStream reports whether line is the Claude Code CLI's closing
// {"type":"result",...} line, after which no further output is expected.
func (a *Adapter) IsTerminalStream(line string) bool {
	msg, ok := parseLine(line)
	if !ok {
		return false
	}
	return msg.typ == "result"
}

func (a *Adapter) HandleOutputLine(line string) (provider.ModelEvent, bool) {
	msg, ok := parseLine(line)
	if !ok {
		return provider.ModelEvent{}, false
	}

	switch msg.typ {
	case "result":
		return provider.ModelEvent{
			Level:         provider.LevelInfo,
			Kind:          provider.KindResult,
			Type:          msg.typ,
			ResultMessage: msg.extractText(),
			Data:          msg.rawJSON(),
		}, true
	case "error":
		return provider.ModelEvent{
			Level:   provider.LevelError,
			Kind:    provider.KindStatus,
			Type:    msg.typ,
			Message: msg.extractText(),
			Data:    msg.rawJSON(),
		}, true
	default:
		if toolName, toolArgs := msg.extractToolEvent(); toolName != "" {
			return provider.ModelEvent{
				Level:   provider.LevelInfo,
				Kind:    provider.KindToolCall,
				Type:    msg.typ,
				Message: toolName,
				Summary: truncate(toolArgs, 200),
				Data:    msg.rawJSON(),
			}, true
		}
		if text := msg.extractText(); text != "" {
			return provider.ModelEvent{
				Level:   provider.LevelInfo,
				Kind:    provider.KindToken,
				Type:    msg.typ,
				Message: text,
				Data:    msg.rawJSON(),
			}, true
		}
		return provider.ModelEvent{}, false
	}
}

func (a *Adapter) GetTerminalResultText(lines []string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		msg, ok := parseLine(lines[i])
		if !ok {
			continue
		}
		if msg.typ == "result" {
			if text := msg.extractText(); text != "" {
				return text
			}
		}
	}
	return ""
}

type streamMessage struct {
	typ string
	raw map[string]any
}

func parseLine(line string) (streamMessage, bool) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return streamMessage{}, false
	}
	typ, _ := raw["type"].(string)
	return streamMessage{typ: strings.TrimSpace(typ), raw: raw}, true
}

func (m streamMessage) rawJSON() json.RawMessage {
	encoded, err := json.Marshal(m.raw)
	if err != nil {
		return nil
	}
	return encoded
}

func (m streamMessage) extractText() string {
	if v, ok := m.raw["result"].(string); ok {
		return v
	}
	if v, ok := m.raw["output"].(string); ok {
		return v
	}
	if msg, ok := m.raw["message"].(map[string]any); ok {
		return extractContentText(msg["content"])
	}
	if content, ok := m.raw["content"]; ok {
		return extractContentText(content)
	}
	return ""
}

func (m streamMessage) extractToolEvent() (name, args string) {
	if n, ok := m.raw["tool_name"].(string); ok {
		return n, stringifyArgs(m.raw["tool_args"])
	}
	if msg, ok := m.raw["message"].(map[string]any); ok {
		if tool, ok := msg["tool_use"].(map[string]any); ok {
			if n, ok := tool["name"].(string); ok {
				return n, stringifyArgs(tool["input"])
			}
		}
	}
	return "", ""
}

func extractContentText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var sb strings.Builder
		for _, item := range v {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if entryType, _ := entry["type"].(string); entryType == "text" {
				if text, ok := entry["text"].(string); ok {
					sb.WriteString(text)
				}
			}
		}
		return sb.String()
	default:
		return ""
	}
}

func stringifyArgs(val any) string {
	if val == nil {
		return ""
	}
	if s, ok := val.(string); ok {
		return s
	}
	encoded, err := json.Marshal(val)
	if err != nil {
		return ""
	}
	return string(encoded)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
