package runner

import (
	"encoding/json"
	"sync/atomic"
	"time"
)

// EnvelopeType enumerates the wire record types a run emits.
type EnvelopeType string

const (
	TypeStateChange EnvelopeType = "state_change"
	TypeEvent       EnvelopeType = "event"
	TypeAction      EnvelopeType = "action"
	TypeToolResult  EnvelopeType = "tool_result"
	TypeArtifact    EnvelopeType = "artifact"
	TypeError       EnvelopeType = "error"
)

// Producer identifies who generated an envelope.
type Producer string

const (
	ProducerSystem Producer = "system"
	ProducerModel  Producer = "model"
)

// Envelope is the streaming wire record defined by the run protocol: every
// phase of the execute pipeline emits these, and the Gateway's streaming
// endpoint forwards them (re-sequenced) verbatim.
type Envelope struct {
	RunID     string         `json:"run_id"`
	Sequence  int64          `json:"sequence"`
	Timestamp string         `json:"timestamp"`
	Type      EnvelopeType   `json:"type"`
	Phase     string         `json:"phase"`
	Producer  Producer       `json:"producer"`
	Payload   map[string]any `json:"payload"`
}

// SequenceCounter produces a strictly monotonic sequence starting at 0,
// scoped to one run.
type SequenceCounter struct {
	n atomic.Int64
}

// Next returns 0 on the first call and increments by 1 thereafter.
func (c *SequenceCounter) Next() int64 {
	return c.n.Add(1) - 1
}

func nowStamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000000000Z")
}

func newEnvelope(runID string, seq *SequenceCounter, typ EnvelopeType, phase string, producer Producer, payload map[string]any) Envelope {
	return Envelope{
		RunID:     runID,
		Sequence:  seq.Next(),
		Timestamp: nowStamp(),
		Type:      typ,
		Phase:     phase,
		Producer:  producer,
		Payload:   payload,
	}
}

func StateChangeEnvelope(runID string, seq *SequenceCounter, phase, from, to string) Envelope {
	return newEnvelope(runID, seq, TypeStateChange, phase, ProducerSystem, map[string]any{"from": from, "to": to})
}

func SystemEventEnvelope(runID string, seq *SequenceCounter, phase, level, message string, data any) Envelope {
	payload := map[string]any{"level": level, "message": message}
	if data != nil {
		payload["data"] = data
	}
	return newEnvelope(runID, seq, TypeEvent, phase, ProducerSystem, payload)
}

func ModelEventEnvelope(runID string, seq *SequenceCounter, phase string, payload map[string]any) Envelope {
	return newEnvelope(runID, seq, TypeEvent, phase, ProducerModel, payload)
}

func ActionEnvelope(runID string, seq *SequenceCounter, phase, actionID, stepID, tool string, arguments any) Envelope {
	payload := map[string]any{
		"action_id":       actionID,
		"step_id":         stepID,
		"tool":            tool,
		"arguments":       arguments,
		"idempotency_key": ActionIdempotencyKey(stepID, tool, actionID),
	}
	return newEnvelope(runID, seq, TypeAction, phase, ProducerSystem, payload)
}

func ToolResultEnvelope(runID string, seq *SequenceCounter, phase, actionID string, ok bool, result any) Envelope {
	payload := map[string]any{"action_id": actionID, "ok": ok}
	if result != nil {
		payload["result"] = result
	}
	return newEnvelope(runID, seq, TypeToolResult, phase, ProducerSystem, payload)
}

func ArtifactEnvelope(runID string, seq *SequenceCounter, phase, name, format string, content any) Envelope {
	return newEnvelope(runID, seq, TypeArtifact, phase, ProducerSystem, map[string]any{
		"name": name, "format": format, "content": content,
	})
}

func ErrorEnvelope(runID string, seq *SequenceCounter, phase, code, message string) Envelope {
	return newEnvelope(runID, seq, TypeError, phase, ProducerSystem, map[string]any{
		"code": code, "message": message,
	})
}

// ActionIdempotencyKey derives the deterministic action idempotency string
// from the (step_id, tool, action_id) triple per the streaming contract.
func ActionIdempotencyKey(stepID, tool, actionID string) string {
	return stepID + ":" + tool + ":" + actionID
}

// MarshalLine renders an envelope as one NDJSON line (no trailing newline).
func (e Envelope) MarshalLine() ([]byte, error) {
	return json.Marshal(e)
}
