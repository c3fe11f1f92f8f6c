// Package codex adapts the Codex CLI to the provider.Adapter contract.
// The reference executor drove Codex over MCP (a persistent stdio JSON-RPC
// server reached via mcp.NewProcessManager/mcp.NewClient); that transport
// doesn't fit here because every phase invocation here is a single
// fire-and-forget call with a prompt known up front, so this adapter
// targets the CLI's non-interactive `codex exec --json` mode instead,
// which emits one JSON event object per line on stdout and needs no
// running server to talk to. The event vocabulary (token_count,
// agent_message_delta, agent_message, task_started, task_complete) is
// carried over unchanged from the reference executor's handleCodexEvent.
package codex

import (
	"encoding/json"
	"strings"

	"ember/internal/provider"
)

const Name = "codex"

type Adapter struct {
	BinaryPath string
	Model      string
}

func New(binaryPath, model string) *Adapter {
	if strings.TrimSpace(binaryPath) == "" {
		binaryPath = "codex"
	}
	return &Adapter{BinaryPath: binaryPath, Model: model}
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) BuildCommand(req provider.Request) (provider.Command, error) {
	args := []string{"exec", "--json", "--full-auto"}
	if a.Model != "" {
		args = append(args, "--model", a.Model)
	}
	args = append(args, req.Prompt)
	return provider.Command{Path: a.BinaryPath, Args: args}, nil
}

func (a *Adapter) IsTerminalStream(line string) bool {
	ev, ok := parseEvent(line)
	return ok && ev.msgType == "task_complete"
}

func (a *Adapter) HandleOutputLine(line string) (provider.ModelEvent, bool) {
	ev, ok := parseEvent(line)
	if !ok {
		return provider.ModelEvent{}, false
	}

	switch ev.msgType {
	case "task_started":
		return provider.ModelEvent{Level: provider.LevelInfo, Kind: provider.KindStatus, Type: ev.msgType, Message: "task_started", Data: ev.rawJSON()}, true
	case "token_count":
		return provider.ModelEvent{Level: provider.LevelInfo, Kind: provider.KindProviderNote, Type: ev.msgType, Message: "token_count", Data: ev.rawJSON()}, true
	case "agent_message_delta":
		if delta := ev.extractDelta(); delta != "" {
			return provider.ModelEvent{Level: provider.LevelInfo, Kind: provider.KindToken, Type: ev.msgType, Message: delta, Data: ev.rawJSON()}, true
		}
		return provider.ModelEvent{}, false
	case "agent_message":
		return provider.ModelEvent{Level: provider.LevelInfo, Kind: provider.KindToken, Type: ev.msgType, Message: ev.extractContent(), Data: ev.rawJSON()}, true
	case "task_complete":
		return provider.ModelEvent{
			Level:         provider.LevelInfo,
			Kind:          provider.KindResult,
			Type:          ev.msgType,
			ResultMessage: ev.extractContent(),
			Data:          ev.rawJSON(),
		}, true
	case "error":
		return provider.ModelEvent{Level: provider.LevelError, Kind: provider.KindStatus, Type: ev.msgType, Message: ev.extractContent(), Data: ev.rawJSON()}, true
	default:
		return provider.ModelEvent{}, false
	}
}

func (a *Adapter) GetTerminalResultText(lines []string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		ev, ok := parseEvent(lines[i])
		if !ok {
			continue
		}
		if ev.msgType == "task_complete" {
			if text := ev.extractContent(); text != "" {
				return text
			}
		}
	}
	return ""
}

type codexEvent struct {
	msgType string
	raw     map[string]any
}

func parseEvent(line string) (codexEvent, bool) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return codexEvent{}, false
	}
	typ, _ := raw["type"].(string)
	if typ == "" {
		typ, _ = raw["msg"].(string)
	}
	return codexEvent{msgType: strings.TrimSpace(typ), raw: raw}, true
}

func (e codexEvent) rawJSON() json.RawMessage {
	encoded, err := json.Marshal(e.raw)
	if err != nil {
		return nil
	}
	return encoded
}

func (e codexEvent) extractContent() string {
	if v, ok := e.raw["content"].(string); ok {
		return v
	}
	if v, ok := e.raw["message"].(string); ok {
		return v
	}
	return ""
}

func (e codexEvent) extractDelta() string {
	if v, ok := e.raw["delta"].(string); ok {
		return v
	}
	return ""
}
