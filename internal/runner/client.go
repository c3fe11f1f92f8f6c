package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ember/internal/domain/task"
)

// GatewayClient is the Phase Runner's view of the Gateway: a thin HTTP
// client over the lease/heartbeat/events/complete routes in spec.md §6.
type GatewayClient struct {
	baseURL string
	http    *http.Client
}

func NewGatewayClient(baseURL string) *GatewayClient {
	return &GatewayClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// LeaseResult mirrors the POST /tasks/lease response body.
type LeaseResult struct {
	Task       *task.Task `json:"task"`
	AttemptNo  int        `json:"attempt_no"`
	AttemptID  int64      `json:"attempt_id"`
}

func (c *GatewayClient) Lease(ctx context.Context, workerID string, leaseTTL time.Duration) (*LeaseResult, error) {
	body := map[string]any{"worker_id": workerID}
	if leaseTTL > 0 {
		body["lease_ttl_ms"] = leaseTTL.Milliseconds()
	}
	var out LeaseResult
	if err := c.post(ctx, "/tasks/lease", body, &out); err != nil {
		return nil, err
	}
	if out.Task == nil {
		return nil, nil
	}
	return &out, nil
}

func (c *GatewayClient) Heartbeat(ctx context.Context, taskID, workerID string, leaseTTL time.Duration) error {
	body := map[string]any{"worker_id": workerID}
	if leaseTTL > 0 {
		body["lease_ttl_ms"] = leaseTTL.Milliseconds()
	}
	return c.post(ctx, fmt.Sprintf("/tasks/%s/heartbeat", taskID), body, nil)
}

func (c *GatewayClient) AppendEvent(ctx context.Context, taskID string, attemptID *int64, phase, level, message string, data any) error {
	body := map[string]any{"phase": phase, "level": level, "message": message}
	if attemptID != nil {
		body["attempt_id"] = *attemptID
	}
	if data != nil {
		body["data"] = data
	}
	return c.post(ctx, fmt.Sprintf("/tasks/%s/events", taskID), body, nil)
}

// CompleteRequest mirrors the POST /tasks/:id/complete request body.
type CompleteRequest struct {
	WorkerID     string          `json:"worker_id"`
	WorkerExit   *int            `json:"worker_exit_code,omitempty"`
	OutputJSON   json.RawMessage `json:"output_json"`
	FinalPhase   string          `json:"final_phase"`
	Succeeded    bool            `json:"succeeded"`
	Blocked      bool            `json:"blocked"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

func (c *GatewayClient) Complete(ctx context.Context, taskID string, req CompleteRequest) error {
	return c.post(ctx, fmt.Sprintf("/tasks/%s/complete", taskID), req, nil)
}

// stateResponse mirrors GET /state/:key's success body.
type stateResponse struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt string          `json:"updated_at"`
}

// GetState returns (value, true, nil) if key exists, (nil, false, nil) on a
// 404, or a non-nil error for any other failure.
func (c *GatewayClient) GetState(ctx context.Context, key string) (json.RawMessage, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/state/"+key, nil)
	if err != nil {
		return nil, false, fmt.Errorf("runner: build request: %w", err)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, false, fmt.Errorf("runner: call /state/%s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if resp.StatusCode >= 300 {
		return nil, false, fmt.Errorf("runner: /state/%s returned status %d", key, resp.StatusCode)
	}
	var out stateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, false, fmt.Errorf("runner: decode state response: %w", err)
	}
	return out.Value, true, nil
}

func (c *GatewayClient) SetState(ctx context.Context, key string, value json.RawMessage) error {
	return c.post(ctx, "/state/"+key, map[string]any{"value": value}, nil)
}

func (c *GatewayClient) post(ctx context.Context, path string, body any, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("runner: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("runner: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("runner: call %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("runner: %s returned status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
