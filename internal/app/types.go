package app

import (
	"encoding/json"

	"ember/internal/domain/task"
)

// CreateTaskInput is the validated payload for createTask.
type CreateTaskInput struct {
	Type            string
	Title           string
	Prompt          string
	SuccessCriteria string
	TaskRequest     json.RawMessage
	Mode            task.Mode
	Priority        int
	MaxAttempts     int
	Metadata        map[string]any
}

// AttemptHandle is returned by startAttempt.
type AttemptHandle struct {
	AttemptNo      int
	AttemptID      int64
	LeaseExpiresAt string
}
