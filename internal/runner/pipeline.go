package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"ember/internal/domain/task"
)

// classifierPrompt is placed before the task prompt when mode=auto to ask
// the provider to declare lean or full.
const classifierPrompt = "Classify this task as requiring either a \"lean\" (single execute/verify/report pass) or \"full\" (interpret/plan/policy-gated) pipeline. Respond with JSON {\"mode\":\"lean\"|\"full\"}.\n\nTask:\n"

const executorBasePrompt = "Execute the following task and report status succeeded or failed as JSON with at least {\"status\":\"succeeded\"|\"failed\"}.\n\nTask:\n"

const verifyBasePrompt = "Verify whether the task's success criteria were met. Respond as JSON {\"pass\":true|false,...}.\n\nSuccess criteria:\n"

const reportBasePrompt = "Produce a user-facing structured summary of this task's outcome as JSON.\n\n"

const interpretBasePrompt = "Interpret this task request. If it cannot proceed without more information from the requester, respond with {\"route\":\"blocked_for_clarification\",\"critical_blocker\":true,\"clarifications_needed\":[...]}. Otherwise describe the objective as JSON {\"objective\":\"...\"}.\n\nTask:\n"

const planBasePrompt = "Produce an ordered list of bounded steps to accomplish the task, and optionally an output contract for the execute phase, as JSON {\"steps\":[...],\"execute_output_format\"?,\"execute_output_strict\"?,\"execute_output_schema\"?}.\n\n"

const policyBasePrompt = "Name which task/interpret fields should form this task's idempotency dedup key, as JSON {\"idempotency\":{\"key_fields\":[...]}}.\n\n"

// PipelineResult is what the outer worker loop hands to /tasks/:id/complete.
type PipelineResult struct {
	Succeeded    bool
	Blocked      bool
	FinalPhase   string
	OutputJSON   json.RawMessage
	ErrorMessage string
}

// RunPipeline drives mode selection and the lean/full pipeline for one
// attempt, emitting phase events as it goes.
func (r *Runner) RunPipeline(ctx context.Context, t *task.Task, runID, runDir string, attemptID int64, seq *SequenceCounter) PipelineResult {
	outputs := map[string]any{}

	mode := string(t.Mode)
	if mode == "" || mode == string(task.ModeAuto) {
		classified, err := r.classifyMode(ctx, t, runID, runDir, attemptID, seq)
		if err != nil {
			return r.failResult("mode_classifier", err)
		}
		outputs["classifier"] = classified
		mode = "lean"
		if classified == "full" {
			mode = "full"
		}
	}
	outputs["configured"] = string(t.Mode)
	outputs["effective"] = mode

	phaseOutputs := map[string]any{}

	if mode == "full" {
		return r.runFull(ctx, t, runID, runDir, attemptID, seq, outputs, phaseOutputs)
	}
	return r.runLean(ctx, t, runID, runDir, attemptID, seq, outputs, phaseOutputs)
}

func (r *Runner) classifyMode(ctx context.Context, t *task.Task, runID, runDir string, attemptID int64, seq *SequenceCounter) (string, error) {
	cacheKey := hashHex(t.Prompt)
	if r.classifierCache != nil {
		if cached, ok := r.classifierCache.Get(cacheKey); ok {
			return cached, nil
		}
	}

	aid := attemptID
	outcome, err := r.phase.Run(ctx, runID, runDir, t.ID, &aid, seq, "mode_classifier", classifierPrompt+t.Prompt, nil, false)
	if err != nil {
		return "", err
	}
	mode, _ := outcome.Output["mode"].(string)
	if mode != "full" {
		mode = "lean"
	}
	if r.classifierCache != nil {
		r.classifierCache.Add(cacheKey, mode)
	}
	return mode, nil
}

func (r *Runner) runLean(ctx context.Context, t *task.Task, runID, runDir string, attemptID int64, seq *SequenceCounter, modeOut, phaseOutputs map[string]any) PipelineResult {
	aid := attemptID

	executeOut, err := r.phase.Run(ctx, runID, runDir, t.ID, &aid, seq, "execute", executorBasePrompt+t.Prompt, nil, true)
	if err != nil {
		return r.failResult("execute", err)
	}
	phaseOutputs["execute"] = executeOut.Output
	r.emitArtifactOnSuccess(ctx, runID, t.ID, &aid, seq, "execute", executeOut.Output)

	verifyOut, err := r.verify(ctx, t, runID, runDir, aid, seq, executeOut.Output, phaseOutputs)
	if err != nil {
		return r.failResult("verify", err)
	}
	phaseOutputs["verify"] = verifyOut

	reportOut := r.report(ctx, t, runID, runDir, aid, seq, phaseOutputs)
	phaseOutputs["report"] = reportOut

	pass, _ := verifyOut["pass"].(bool)
	result := PipelineResult{
		Succeeded:  pass,
		FinalPhase: "report",
	}
	result.OutputJSON = r.finalOutput(modeOut, phaseOutputs, nil, t.ID, runID)
	if !pass {
		if msg, ok := executeOut.Output["errors"]; ok {
			result.ErrorMessage = fmt.Sprintf("%v", msg)
		} else {
			result.ErrorMessage = "verify did not pass"
		}
	}
	return result
}

func (r *Runner) runFull(ctx context.Context, t *task.Task, runID, runDir string, attemptID int64, seq *SequenceCounter, modeOut, phaseOutputs map[string]any) PipelineResult {
	aid := attemptID

	interpretOut, err := r.phase.Run(ctx, runID, runDir, t.ID, &aid, seq, "interpret", interpretBasePrompt+t.Prompt, nil, false)
	if err != nil {
		return r.failResult("interpret", err)
	}
	phaseOutputs["interpret"] = interpretOut.Output

	route, _ := interpretOut.Output["route"].(string)
	criticalBlocker, _ := interpretOut.Output["critical_blocker"].(bool)
	if route == "blocked_for_clarification" && criticalBlocker {
		clarifications := interpretOut.Output["clarifications_needed"]
		phaseOutputs["report"] = map[string]any{
			"message_markdown":      "Task blocked: clarification required.",
			"clarifications_needed": clarifications,
		}
		return PipelineResult{
			Blocked:    true,
			FinalPhase: "interpret",
			OutputJSON: r.finalOutput(modeOut, phaseOutputs, nil, t.ID, runID),
		}
	}
	if route == "blocked_for_clarification" && !criticalBlocker {
		r.appendSystemWarning(ctx, t.ID, &aid, "interpret", "route=blocked_for_clarification without critical_blocker; continuing")
	}

	planOut, err := r.phase.Run(ctx, runID, runDir, t.ID, &aid, seq, "plan", planBasePrompt+t.Prompt, nil, false)
	if err != nil {
		return r.failResult("plan", err)
	}
	phaseOutputs["plan"] = planOut.Output

	var executeSchema json.RawMessage
	if strict, _ := planOut.Output["execute_output_strict"].(bool); strict {
		if format, _ := planOut.Output["execute_output_format"].(string); format == "json" {
			if schema, ok := planOut.Output["execute_output_schema"]; ok {
				if encoded, err := json.Marshal(schema); err == nil {
					executeSchema = encoded
				}
			}
		}
	}
	if len(executeSchema) > 0 && runDir != "" {
		schemaPath := filepath.Join(runDir, "execute_schema.json")
		if err := os.WriteFile(schemaPath, executeSchema, 0o644); err != nil {
			r.logger.Warn("failed to persist execute schema", "task_id", t.ID, "error", err)
		}
	}

	policyOut, err := r.phase.Run(ctx, runID, runDir, t.ID, &aid, seq, "policy", policyBasePrompt+t.Prompt, nil, false)
	if err != nil {
		return r.failResult("policy", err)
	}
	phaseOutputs["policy"] = policyOut.Output

	keyFields := extractKeyFields(policyOut.Output)
	canonical := CanonicalSource{}
	canonical.Task.ID = t.ID
	canonical.Task.Type = t.Type
	canonical.Task.Title = t.Title
	canonical.Task.Prompt = t.Prompt
	if objective, ok := interpretOut.Output["objective"].(string); ok {
		canonical.Interpret.Objective = objective
	}
	_, hash := IdempotencyKey(keyFields, canonical)
	stateKey := "idempotency:" + hash

	if _, found, err := r.client.GetState(ctx, stateKey); err == nil && found {
		dedupe := map[string]any{"reused": true}
		return PipelineResult{
			Succeeded:  true,
			FinalPhase: "policy",
			OutputJSON: r.finalOutput(modeOut, phaseOutputs, dedupe, t.ID, runID),
		}
	}

	executeOut, err := r.phase.Run(ctx, runID, runDir, t.ID, &aid, seq, "execute", executorBasePrompt+t.Prompt, executeSchema, true)
	if err != nil {
		return r.failResult("execute", err)
	}
	phaseOutputs["execute"] = executeOut.Output
	r.emitArtifactOnSuccess(ctx, runID, t.ID, &aid, seq, "execute", executeOut.Output)

	verifyOut, err := r.verify(ctx, t, runID, runDir, aid, seq, executeOut.Output, phaseOutputs)
	if err != nil {
		return r.failResult("verify", err)
	}
	phaseOutputs["verify"] = verifyOut

	reportOut := r.report(ctx, t, runID, runDir, aid, seq, phaseOutputs)
	phaseOutputs["report"] = reportOut

	pass, _ := verifyOut["pass"].(bool)
	if pass {
		marker, _ := json.Marshal(map[string]any{"completed_at": nowStamp()})
		if err := r.client.SetState(ctx, stateKey, marker); err != nil {
			r.logger.Warn("failed to write idempotency marker", "hash", hash, "error", err)
		}
	}

	result := PipelineResult{
		Succeeded:  pass,
		FinalPhase: "report",
		OutputJSON: r.finalOutput(modeOut, phaseOutputs, nil, t.ID, runID),
	}
	if !pass {
		result.ErrorMessage = "verify did not pass"
	}
	return result
}

func (r *Runner) verify(ctx context.Context, t *task.Task, runID, runDir string, attemptID int64, seq *SequenceCounter, executeOut map[string]any, phaseOutputs map[string]any) (map[string]any, error) {
	aid := attemptID
	if t.SuccessCriteria == "" {
		status, _ := executeOut["status"].(string)
		return map[string]any{"pass": status == "succeeded"}, nil
	}
	verifyOut, err := r.phase.Run(ctx, runID, runDir, t.ID, &aid, seq, "verify", verifyBasePrompt+t.SuccessCriteria, nil, false)
	if err != nil {
		return nil, err
	}
	return verifyOut.Output, nil
}

func (r *Runner) report(ctx context.Context, t *task.Task, runID, runDir string, attemptID int64, seq *SequenceCounter, phaseOutputs map[string]any) map[string]any {
	aid := attemptID
	reportPrompt, _ := json.Marshal(phaseOutputs)
	outcome, err := r.phase.Run(ctx, runID, runDir, t.ID, &aid, seq, "report", reportBasePrompt+string(reportPrompt), nil, false)
	if err != nil {
		r.logger.Warn("report phase failed, synthesizing fallback", "task_id", t.ID, "error", err)
		return map[string]any{"message_markdown": "report unavailable"}
	}
	return outcome.Output
}

func (r *Runner) emitArtifactOnSuccess(ctx context.Context, runID, taskID string, attemptID *int64, seq *SequenceCounter, phase string, executeOut map[string]any) {
	status, _ := executeOut["status"].(string)
	if status != "succeeded" {
		return
	}
	envelope := ArtifactEnvelope(runID, seq, phase, "result", "json", executeOut)
	if err := r.client.AppendEvent(ctx, taskID, attemptID, phase, "info", "artifact", map[string]any{"envelope": envelope}); err != nil {
		r.logger.Warn("failed to append artifact event", "phase", phase, "error", err)
	}
}

func (r *Runner) appendSystemWarning(ctx context.Context, taskID string, attemptID *int64, phase, message string) {
	if err := r.client.AppendEvent(ctx, taskID, attemptID, phase, "warn", message, nil); err != nil {
		r.logger.Warn("failed to append warning event", "phase", phase, "error", err)
	}
}

func (r *Runner) finalOutput(modeOut map[string]any, phaseOutputs map[string]any, dedupe map[string]any, taskID, runID string) json.RawMessage {
	payload := map[string]any{
		"mode":          modeOut,
		"phase_outputs": phaseOutputs,
		"run_dir":       "/runs/" + runID,
	}
	if dedupe != nil {
		payload["dedupe"] = dedupe
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error("failed to marshal final output", "task_id", taskID, "error", err)
		return json.RawMessage(`{}`)
	}
	return encoded
}

func (r *Runner) failResult(phase string, err error) PipelineResult {
	return PipelineResult{
		Succeeded:    false,
		FinalPhase:   phase,
		ErrorMessage: err.Error(),
		OutputJSON:   json.RawMessage(`{}`),
	}
}

func extractKeyFields(policyOutput map[string]any) []string {
	idem, ok := policyOutput["idempotency"].(map[string]any)
	if !ok {
		return nil
	}
	rawFields, ok := idem["key_fields"].([]any)
	if !ok {
		return nil
	}
	fields := make([]string, 0, len(rawFields))
	for _, f := range rawFields {
		if s, ok := f.(string); ok {
			fields = append(fields, s)
		}
	}
	return fields
}
