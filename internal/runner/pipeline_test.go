package runner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ember/internal/domain/task"
	"ember/internal/logging"
	"ember/internal/provider"
)

// scriptedAdapter is a test double that returns one canned JSON blob per
// phase, ignoring the prompt entirely. BuildCommand shells out to `echo` so
// the real subprocess machinery still runs end to end.
type scriptedAdapter struct {
	byPhase map[string]string
}

func (a *scriptedAdapter) Name() string { return "scripted" }

func (a *scriptedAdapter) BuildCommand(req provider.Request) (provider.Command, error) {
	payload := a.byPhase[req.Phase]
	return provider.Command{Path: "/bin/sh", Args: []string{"-c", "echo " + shellQuote(payload)}}, nil
}

func (a *scriptedAdapter) HandleOutputLine(line string) (provider.ModelEvent, bool) {
	return provider.ModelEvent{Level: provider.LevelInfo, Kind: provider.KindToken, Message: line}, true
}

func (a *scriptedAdapter) IsTerminalStream(line string) bool { return true }

func (a *scriptedAdapter) GetTerminalResultText(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func newTestGatewayServer(t *testing.T) *httptest.Server {
	t.Helper()
	return newTestGatewayServerWithState(t, false)
}

// newTestGatewayServerWithState lets GET /state/ report an already-present
// idempotency marker, so tests can exercise the dedupe short-circuit.
func newTestGatewayServerWithState(t *testing.T, stateFound bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/state/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			if !stateFound {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"value":{"completed_at":"2026-01-01T00:00:00Z"}}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("/tasks/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	return httptest.NewServer(mux)
}

func newTestRunnerWithAdapter(t *testing.T, byPhase map[string]string) (*Runner, *httptest.Server) {
	t.Helper()
	return newTestRunnerWithAdapterAndState(t, byPhase, false)
}

func newTestRunnerWithAdapterAndState(t *testing.T, byPhase map[string]string, stateFound bool) (*Runner, *httptest.Server) {
	t.Helper()
	srv := newTestGatewayServerWithState(t, stateFound)
	client := NewGatewayClient(srv.URL)
	logger := logging.NewComponentLogger("test")
	r := New(Config{WorkerID: "w1"}, client, &scriptedAdapter{byPhase: byPhase}, logger)
	return r, srv
}

func TestRunPipelineLeanSuccess(t *testing.T) {
	byPhase := map[string]string{
		"execute": `{"status":"succeeded","summary":"did it"}`,
		"report":  `{"message_markdown":"done"}`,
	}
	r, srv := newTestRunnerWithAdapter(t, byPhase)
	defer srv.Close()

	tk := &task.Task{ID: "task-1", Mode: task.ModeLean, Prompt: "say hi"}
	result := r.RunPipeline(context.Background(), tk, "run-1", t.TempDir(), 1, &SequenceCounter{})

	if !result.Succeeded {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.FinalPhase != "report" {
		t.Fatalf("expected final phase report, got %s", result.FinalPhase)
	}

	var out map[string]any
	if err := json.Unmarshal(result.OutputJSON, &out); err != nil {
		t.Fatalf("invalid output json: %v", err)
	}
	phaseOutputs, _ := out["phase_outputs"].(map[string]any)
	report, _ := phaseOutputs["report"].(map[string]any)
	if report["message_markdown"] != "done" {
		t.Fatalf("expected report message_markdown=done, got %+v", report)
	}
}

func TestRunPipelineLeanFailureWithoutSuccessCriteria(t *testing.T) {
	byPhase := map[string]string{
		"execute": `{"status":"failed","errors":["boom"]}`,
		"report":  `{"message_markdown":"failed"}`,
	}
	r, srv := newTestRunnerWithAdapter(t, byPhase)
	defer srv.Close()

	tk := &task.Task{ID: "task-2", Mode: task.ModeLean, Prompt: "say hi"}
	result := r.RunPipeline(context.Background(), tk, "run-2", t.TempDir(), 1, &SequenceCounter{})

	if result.Succeeded {
		t.Fatalf("expected failure, got %+v", result)
	}
}

func TestRunPipelineFullCriticalBlocker(t *testing.T) {
	byPhase := map[string]string{
		"interpret": `{"route":"blocked_for_clarification","critical_blocker":true,"clarifications_needed":["need account id"]}`,
	}
	r, srv := newTestRunnerWithAdapter(t, byPhase)
	defer srv.Close()

	tk := &task.Task{ID: "task-3", Mode: task.ModeFull, Prompt: "do the thing"}
	result := r.RunPipeline(context.Background(), tk, "run-3", t.TempDir(), 1, &SequenceCounter{})

	if !result.Blocked {
		t.Fatalf("expected blocked result, got %+v", result)
	}
	if result.FinalPhase != "interpret" {
		t.Fatalf("expected final phase interpret, got %s", result.FinalPhase)
	}
}

func TestRunPipelineFullDedupeIsTopLevel(t *testing.T) {
	byPhase := map[string]string{
		"interpret": `{"objective":"do the thing"}`,
		"plan":      `{"steps":["step one"]}`,
		"policy":    `{"idempotency":{"key_fields":["task.prompt"]}}`,
	}
	r, srv := newTestRunnerWithAdapterAndState(t, byPhase, true)
	defer srv.Close()

	tk := &task.Task{ID: "task-4", Mode: task.ModeFull, Prompt: "do the thing"}
	result := r.RunPipeline(context.Background(), tk, "run-4", t.TempDir(), 1, &SequenceCounter{})

	if !result.Succeeded {
		t.Fatalf("expected dedupe short-circuit to report success, got %+v", result)
	}
	if result.FinalPhase != "policy" {
		t.Fatalf("expected final phase policy, got %s", result.FinalPhase)
	}

	var out map[string]any
	if err := json.Unmarshal(result.OutputJSON, &out); err != nil {
		t.Fatalf("invalid output json: %v", err)
	}
	dedupe, ok := out["dedupe"].(map[string]any)
	if !ok {
		t.Fatalf("expected top-level dedupe key, got %+v", out)
	}
	if dedupe["reused"] != true {
		t.Fatalf("expected dedupe.reused=true, got %+v", dedupe)
	}
	if phaseOutputs, ok := out["phase_outputs"].(map[string]any); ok {
		if _, nested := phaseOutputs["dedupe"]; nested {
			t.Fatalf("dedupe must not be nested under phase_outputs, got %+v", phaseOutputs)
		}
	}
}

func TestRunPipelineFullPersistsExecuteSchemaToRunDir(t *testing.T) {
	byPhase := map[string]string{
		"interpret": `{"objective":"do the thing"}`,
		"plan": `{"steps":["step one"],"execute_output_strict":true,"execute_output_format":"json",` +
			`"execute_output_schema":{"type":"object","properties":{"ok":{"type":"boolean"}}}}`,
		"policy":  `{"idempotency":{"key_fields":["task.prompt"]}}`,
		"execute": `{"status":"succeeded"}`,
		"report":  `{"message_markdown":"done"}`,
	}
	r, srv := newTestRunnerWithAdapter(t, byPhase)
	defer srv.Close()

	runDir := t.TempDir()
	tk := &task.Task{ID: "task-5", Mode: task.ModeFull, Prompt: "do the thing"}
	result := r.RunPipeline(context.Background(), tk, "run-5", runDir, 1, &SequenceCounter{})

	if !result.Succeeded {
		t.Fatalf("expected success, got %+v", result)
	}

	schemaPath := filepath.Join(runDir, "execute_schema.json")
	data, err := os.ReadFile(schemaPath)
	if err != nil {
		t.Fatalf("expected execute schema persisted at %s: %v", schemaPath, err)
	}
	var schema map[string]any
	if err := json.Unmarshal(data, &schema); err != nil {
		t.Fatalf("persisted schema is not valid json: %v", err)
	}
	if schema["type"] != "object" {
		t.Fatalf("expected persisted schema type=object, got %+v", schema)
	}
}
