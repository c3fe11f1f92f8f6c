package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ember/internal/logging"
	"ember/internal/provider"
	"ember/internal/subprocess"
)

// PhaseOutcome is the result of driving one provider call through a phase.
type PhaseOutcome struct {
	Output   map[string]any
	RawLines []string
	ExitCode int
	TimedOut bool
}

// PhaseExecutor spawns the provider subprocess for one phase, streams its
// output as envelopes through the Gateway's event-append route, and
// extracts the phase's structured JSON result.
type PhaseExecutor struct {
	Adapter     provider.Adapter
	Client      *GatewayClient
	Logger      *logging.Logger
	PhaseTimeout time.Duration
}

// Run executes one phase call. When streamToEvents is true, every
// normalized model event the adapter recognizes is appended to the task's
// event timeline as a producer:"model" envelope, best-effort (a failed
// append never aborts the phase).
func (p *PhaseExecutor) Run(ctx context.Context, runID, runDir, taskID string, attemptID *int64, seq *SequenceCounter, phase, prompt string, schema json.RawMessage, streamToEvents bool) (*PhaseOutcome, error) {
	cmd, err := p.Adapter.BuildCommand(provider.Request{
		Provider:     p.Adapter.Name(),
		Phase:        phase,
		Prompt:       prompt,
		OutputSchema: schema,
		WorkingDir:   runDir,
	})
	if err != nil {
		return nil, fmt.Errorf("runner: build command for phase %s: %w", phase, err)
	}

	var lines []string
	onLine := func(line string) {
		lines = append(lines, line)
		if !streamToEvents {
			return
		}
		ev, ok := p.Adapter.HandleOutputLine(line)
		if !ok {
			return
		}
		envelope := ModelEventEnvelope(runID, seq, phase, map[string]any{
			"level":          ev.Level,
			"model_event_kind": modelEventKind(ev),
			"type":           ev.Type,
			"message":        ev.Message,
			"summary":        ev.Summary,
			"result_message": ev.ResultMessage,
		})
		msg := ev.Message
		if msg == "" {
			msg = string(ev.Kind)
		}
		if err := p.Client.AppendEvent(ctx, taskID, attemptID, phase, string(ev.Level), msg, map[string]any{"envelope": envelope}); err != nil {
			p.Logger.Warn("failed to append model event", "phase", phase, "error", err)
		}
	}

	res, err := subprocess.Run(ctx, p.Logger, subprocess.Spec{
		Path:    cmd.Path,
		Args:    cmd.Args,
		Dir:     runDir,
		Stdin:   cmd.Stdin,
		Env:     cmd.Env,
		Timeout: p.PhaseTimeout,
	}, onLine)
	if err != nil {
		return nil, fmt.Errorf("runner: spawn_error in phase %s: %w", phase, err)
	}

	text := strings.Join(lines, "\n")
	if len(lines) > 0 && terminalMode(p.Adapter, lines) {
		text = p.Adapter.GetTerminalResultText(lines)
	}

	outcome := &PhaseOutcome{RawLines: lines, ExitCode: res.ExitCode, TimedOut: res.TimedOut}

	obj, parseErr := ExtractJSON(text)
	if parseErr != nil {
		return outcome, fmt.Errorf("runner: parse_error in phase %s: %w", phase, parseErr)
	}
	outcome.Output = obj
	return outcome, nil
}

func terminalMode(a provider.Adapter, lines []string) bool {
	for _, l := range lines {
		if a.IsTerminalStream(l) {
			return true
		}
	}
	return false
}

func modelEventKind(ev provider.ModelEvent) string {
	switch ev.Kind {
	case provider.KindToolCall:
		return "assistant_tool_result"
	case provider.KindResult:
		return "result_success"
	case provider.KindStatus:
		return "system"
	case provider.KindToken:
		return "assistant_message"
	default:
		return "unknown"
	}
}
