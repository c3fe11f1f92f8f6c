package http

import (
	"encoding/json"
	"time"

	"ember/internal/domain/task"
)

// queueTaskRequest is the shared body shape for POST /tasks/queue and
// POST /tasks/run (spec.md §6).
type queueTaskRequest struct {
	Prompt          string          `json:"prompt"`
	SuccessCriteria string          `json:"success_criteria,omitempty"`
	Type            string          `json:"type,omitempty"`
	Title           string          `json:"title,omitempty"`
	Priority        int             `json:"priority,omitempty"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
	Mode            string          `json:"mode,omitempty"`
}

type queueTaskResponse struct {
	TaskID string `json:"task_id"`
}

type taskResponse struct {
	ID              string          `json:"id"`
	Type            string          `json:"type"`
	Title           string          `json:"title"`
	Prompt          string          `json:"prompt"`
	SuccessCriteria string          `json:"success_criteria,omitempty"`
	TaskRequest     json.RawMessage `json:"task_request,omitempty"`
	Mode            string          `json:"mode"`
	Priority        int             `json:"priority"`
	AttemptCount    int             `json:"attempt_count"`
	MaxAttempts     int             `json:"max_attempts"`
	Status          string          `json:"status"`
	LeaseOwner      string          `json:"lease_owner,omitempty"`
	LeaseExpiresAt  *string         `json:"lease_expires_at,omitempty"`
	LastError       string          `json:"last_error,omitempty"`
	CreatedAt       string          `json:"created_at"`
	UpdatedAt       string          `json:"updated_at"`
}

func toTaskResponse(t *task.Task) taskResponse {
	resp := taskResponse{
		ID:              t.ID,
		Type:            t.Type,
		Title:           t.Title,
		Prompt:          t.Prompt,
		SuccessCriteria: t.SuccessCriteria,
		TaskRequest:     t.TaskRequest,
		Mode:            string(t.Mode),
		Priority:        t.Priority,
		AttemptCount:    t.AttemptCount,
		MaxAttempts:     t.MaxAttempts,
		Status:          string(t.Status),
		LeaseOwner:      t.LeaseOwner,
		LastError:       t.LastError,
		CreatedAt:       t.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:       t.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if t.LeaseExpiresAt != nil {
		v := t.LeaseExpiresAt.UTC().Format(time.RFC3339Nano)
		resp.LeaseExpiresAt = &v
	}
	return resp
}

type listTasksResponse struct {
	Tasks []taskResponse `json:"tasks"`
}

type attemptResponse struct {
	ID         int64           `json:"id"`
	TaskID     string          `json:"task_id"`
	AttemptNo  int             `json:"attempt_no"`
	Status     string          `json:"status"`
	LeaseOwner string          `json:"lease_owner,omitempty"`
	Phase      string          `json:"phase,omitempty"`
	OutputJSON json.RawMessage `json:"output_json,omitempty"`
	StartedAt  string          `json:"started_at"`
	FinishedAt *string         `json:"finished_at,omitempty"`
}

func toAttemptResponse(a *task.Attempt) attemptResponse {
	resp := attemptResponse{
		ID:         a.ID,
		TaskID:     a.TaskID,
		AttemptNo:  a.AttemptNo,
		Status:     string(a.Status),
		LeaseOwner: a.LeaseOwner,
		Phase:      a.Phase,
		OutputJSON: a.OutputJSON,
		StartedAt:  a.StartedAt.UTC().Format(time.RFC3339Nano),
	}
	if a.FinishedAt != nil {
		v := a.FinishedAt.UTC().Format(time.RFC3339Nano)
		resp.FinishedAt = &v
	}
	return resp
}

type listAttemptsResponse struct {
	Attempts []attemptResponse `json:"attempts"`
}

type eventResponse struct {
	ID        int64           `json:"id"`
	TaskID    *string         `json:"task_id,omitempty"`
	AttemptID *int64          `json:"attempt_id,omitempty"`
	Phase     string          `json:"phase,omitempty"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	DataJSON  json.RawMessage `json:"data,omitempty"`
	CreatedAt string          `json:"created_at"`
}

func toEventResponse(e *task.Event) eventResponse {
	return eventResponse{
		ID:        e.ID,
		TaskID:    e.TaskID,
		AttemptID: e.AttemptID,
		Phase:     e.Phase,
		Level:     string(e.Level),
		Message:   e.Message,
		DataJSON:  e.DataJSON,
		CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

type listEventsResponse struct {
	Events []eventResponse `json:"events"`
}

type leaseRequest struct {
	WorkerID   string `json:"worker_id"`
	LeaseTTLMs int64  `json:"lease_ttl_ms,omitempty"`
}

type leaseResponse struct {
	Task      *taskResponse `json:"task"`
	AttemptNo int           `json:"attempt_no,omitempty"`
	AttemptID int64         `json:"attempt_id,omitempty"`
}

type heartbeatRequest struct {
	WorkerID   string `json:"worker_id"`
	LeaseTTLMs int64  `json:"lease_ttl_ms,omitempty"`
}

type appendEventRequest struct {
	WorkerID  string          `json:"worker_id,omitempty"`
	AttemptID *int64          `json:"attempt_id,omitempty"`
	Phase     string          `json:"phase"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type completeRequest struct {
	WorkerID     string          `json:"worker_id"`
	WorkerExit   *int            `json:"worker_exit_code,omitempty"`
	OutputJSON   json.RawMessage `json:"output_json"`
	FinalPhase   string          `json:"final_phase"`
	Succeeded    bool            `json:"succeeded"`
	Blocked      bool            `json:"blocked"`
	ErrorMessage string          `json:"error_message,omitempty"`
	FinishedAt   *string         `json:"finished_at,omitempty"`
}

type completeResponse struct {
	OK     bool   `json:"ok"`
	Status string `json:"status"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

type stateResponse struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt string          `json:"updated_at"`
}

type setStateRequest struct {
	Value json.RawMessage `json:"value"`
}

type setStateResponse struct {
	OK        bool            `json:"ok"`
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt string          `json:"updated_at"`
}
