package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ember/internal/domain/task"
	"ember/internal/runner"
)

const (
	streamPollInterval = time.Second
	streamPollCap      = 50
	streamDrainCap     = 500
	streamDeadline     = 30 * time.Minute
)

// handleRunTask is POST /tasks/run (spec.md §4.3): creates a task, then
// streams its event timeline as NDJSON envelopes until the task reaches a
// terminal status or the wall-clock deadline elapses.
func (h *Handler) handleRunTask(c *gin.Context) {
	var req queueTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return
	}
	in, err := toCreateTaskInput(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	ctx := c.Request.Context()
	t, err := h.repo.CreateTask(ctx, in)
	if err != nil {
		status, msg := defaultStatusMessage(err, http.StatusInternalServerError, "failed to create task")
		c.JSON(status, errorBody{Error: msg})
		return
	}
	h.metrics.tasksQueued.Inc()

	w := c.Writer
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	seq := &runner.SequenceCounter{}
	runID := t.ID

	writeLine(w, runner.SystemEventEnvelope(runID, seq, "intake", "info", "task accepted", map[string]any{"task_id": t.ID}))

	h.streamRun(ctx, w, t.ID, runID, seq)
}

func (h *Handler) streamRun(ctx context.Context, w http.ResponseWriter, taskID, runID string, seq *runner.SequenceCounter) {
	deadline := time.Now().Add(streamDeadline)
	var afterID int64

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		afterID = h.drainEvents(ctx, w, taskID, runID, seq, afterID, streamPollCap)

		current, err := h.repo.GetTask(ctx, taskID)
		if err != nil {
			writeLine(w, runner.ErrorEnvelope(runID, seq, "", "TASK_NOT_FOUND", "task disappeared while streaming"))
			h.metrics.streamErrors.Inc()
			return
		}

		if current.Status.IsTerminal() {
			afterID = h.drainEvents(ctx, w, taskID, runID, seq, afterID, streamDrainCap)
			h.emitTerminalArtifact(ctx, w, taskID, runID, seq, current)
			return
		}

		if time.Now().After(deadline) {
			writeLine(w, runner.ErrorEnvelope(runID, seq, "", "RUN_WAIT_TIMEOUT", "run exceeded the streaming deadline"))
			h.metrics.streamErrors.Inc()
			return
		}

		if !sleepOrCanceled(ctx, streamPollInterval) {
			return
		}
	}
}

// drainEvents forwards every event after afterID (up to limit) as a
// replayed or synthesized envelope, flushing after each line, and returns
// the new high-water event id.
func (h *Handler) drainEvents(ctx context.Context, w http.ResponseWriter, taskID, runID string, seq *runner.SequenceCounter, afterID int64, limit int) int64 {
	events, err := h.repo.ListEventsAscending(ctx, taskID, afterID, limit)
	if err != nil {
		return afterID
	}
	for _, ev := range events {
		afterID = ev.ID
		forwardEvent(w, runID, seq, ev)
	}
	return afterID
}

// forwardEvent implements spec.md §4.3's replay rule: if the event's
// data already carries a stream envelope (from the Phase Runner), replay
// it with a freshly assigned sequence, preserving the original under
// payload.source_sequence; otherwise synthesize a system event envelope.
func forwardEvent(w http.ResponseWriter, runID string, seq *runner.SequenceCounter, ev *task.Event) {
	if len(ev.DataJSON) > 0 {
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal(ev.DataJSON, &wrapper); err == nil {
			if raw, ok := wrapper["envelope"]; ok {
				var upstream map[string]any
				if err := json.Unmarshal(raw, &upstream); err == nil {
					replayEnvelope(w, runID, seq, upstream)
					return
				}
			}
		}
	}

	var data any
	if len(ev.DataJSON) > 0 {
		_ = json.Unmarshal(ev.DataJSON, &data)
	}
	writeLine(w, runner.SystemEventEnvelope(runID, seq, ev.Phase, string(ev.Level), ev.Message, data))
}

func replayEnvelope(w http.ResponseWriter, runID string, seq *runner.SequenceCounter, upstream map[string]any) {
	sourceSeq := upstream["sequence"]
	upstream["sequence"] = seq.Next()
	upstream["run_id"] = runID
	if payload, ok := upstream["payload"].(map[string]any); ok {
		payload["source_sequence"] = sourceSeq
	}
	encoded, err := json.Marshal(upstream)
	if err != nil {
		return
	}
	_, _ = w.Write(append(encoded, '\n'))
	flush(w)
}

func (h *Handler) emitTerminalArtifact(ctx context.Context, w http.ResponseWriter, taskID, runID string, seq *runner.SequenceCounter, current *task.Task) {
	attempts, err := h.repo.ListAttempts(ctx, taskID)
	if err != nil || len(attempts) == 0 {
		writeLine(w, runner.ErrorEnvelope(runID, seq, string(current.Status), "NO_ATTEMPT_RECORD", "task reached a terminal status with no attempt record"))
		h.metrics.streamErrors.Inc()
		return
	}
	last := attempts[len(attempts)-1]
	content := extractUserOutput(last.OutputJSON)
	writeLine(w, runner.ArtifactEnvelope(runID, seq, last.Phase, "result", "json", content))
}

func writeLine(w http.ResponseWriter, env runner.Envelope) {
	line, err := env.MarshalLine()
	if err != nil {
		return
	}
	_, _ = w.Write(append(line, '\n'))
	flush(w)
}

func flush(w http.ResponseWriter) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func sleepOrCanceled(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// extractUserOutput implements the user-output extractor from spec.md §4.5:
// prefer phase_outputs.report.message_markdown, then phase_outputs.execute.summary,
// then top-level output, then top-level error; otherwise serialize the whole thing.
func extractUserOutput(outputJSON json.RawMessage) any {
	if len(outputJSON) == 0 {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(outputJSON, &out); err != nil {
		return string(outputJSON)
	}

	if phaseOutputs, ok := out["phase_outputs"].(map[string]any); ok {
		if report, ok := phaseOutputs["report"].(map[string]any); ok {
			if msg, ok := report["message_markdown"].(string); ok && msg != "" {
				return msg
			}
		}
		if execute, ok := phaseOutputs["execute"].(map[string]any); ok {
			if summary, ok := execute["summary"].(string); ok && summary != "" {
				return summary
			}
		}
	}
	if v, ok := out["output"].(string); ok && v != "" {
		return v
	}
	if v, ok := out["error"].(string); ok && v != "" {
		return v
	}
	return out
}
