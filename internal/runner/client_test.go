package runner

import (
	"encoding/json"
	"testing"
)

// TestLeaseResultDecodesSnakeCaseTaskFields guards against task.Task losing
// its JSON tags: the Gateway's /tasks/lease response is snake_case, and Go's
// default field matching folds case but not underscores, so a tag-less Task
// would silently leave fields like SuccessCriteria empty.
func TestLeaseResultDecodesSnakeCaseTaskFields(t *testing.T) {
	body := `{
		"task": {
			"id": "task-1",
			"type": "generic",
			"title": "t",
			"prompt": "say hi",
			"success_criteria": "response contains hi",
			"mode": "lean",
			"priority": 2,
			"attempt_count": 1,
			"max_attempts": 3,
			"status": "leased",
			"created_at": "2026-01-01T00:00:00Z",
			"updated_at": "2026-01-01T00:00:00Z"
		},
		"attempt_no": 1,
		"attempt_id": 42
	}`

	var out LeaseResult
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		t.Fatalf("decode lease result: %v", err)
	}
	if out.Task == nil {
		t.Fatal("expected task to decode")
	}
	if out.Task.SuccessCriteria != "response contains hi" {
		t.Fatalf("expected success_criteria to round-trip, got %q", out.Task.SuccessCriteria)
	}
	if out.Task.AttemptCount != 1 || out.Task.MaxAttempts != 3 {
		t.Fatalf("expected attempt_count/max_attempts to round-trip, got %+v", out.Task)
	}
	if out.AttemptID != 42 {
		t.Fatalf("expected attempt_id=42, got %d", out.AttemptID)
	}
}
