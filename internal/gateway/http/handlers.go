package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"ember/internal/app"
	"ember/internal/domain/task"
)

func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) handleQueueTask(c *gin.Context) {
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

	t, err := h.repo.CreateTask(c.Request.Context(), in)
	if err != nil {
		status, msg := defaultStatusMessage(err, http.StatusInternalServerError, "failed to create task")
		c.JSON(status, errorBody{Error: msg})
		return
	}
	h.metrics.tasksQueued.Inc()
	c.JSON(http.StatusCreated, queueTaskResponse{TaskID: t.ID})
}

func (h *Handler) handleListTasks(c *gin.Context) {
	var filter *task.Status
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		s := task.Status(raw)
		filter = &s
	}
	tasks, err := h.repo.ListTasks(c.Request.Context(), filter)
	if err != nil {
		status, msg := defaultStatusMessage(err, http.StatusInternalServerError, "failed to list tasks")
		c.JSON(status, errorBody{Error: msg})
		return
	}
	out := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toTaskResponse(t))
	}
	c.JSON(http.StatusOK, listTasksResponse{Tasks: out})
}

func (h *Handler) handleGetTask(c *gin.Context) {
	t, err := h.repo.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		status, msg := defaultStatusMessage(err, http.StatusInternalServerError, "failed to load task")
		c.JSON(status, errorBody{Error: msg})
		return
	}
	c.JSON(http.StatusOK, toTaskResponse(t))
}

func (h *Handler) handleListAttempts(c *gin.Context) {
	attempts, err := h.repo.ListAttempts(c.Request.Context(), c.Param("id"))
	if err != nil {
		status, msg := defaultStatusMessage(err, http.StatusInternalServerError, "failed to list attempts")
		c.JSON(status, errorBody{Error: msg})
		return
	}
	out := make([]attemptResponse, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, toAttemptResponse(a))
	}
	c.JSON(http.StatusOK, listAttemptsResponse{Attempts: out})
}

func (h *Handler) handleListTaskEvents(c *gin.Context) {
	taskID := c.Param("id")
	limit := parseLimit(c.Query("limit"), 100)
	events, err := h.repo.ListEvents(c.Request.Context(), limit, &taskID)
	if err != nil {
		status, msg := defaultStatusMessage(err, http.StatusInternalServerError, "failed to list events")
		c.JSON(status, errorBody{Error: msg})
		return
	}
	c.JSON(http.StatusOK, listEventsResponse{Events: toEventResponses(events)})
}

func (h *Handler) handleListAllEvents(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 100)
	var taskID *string
	if raw := strings.TrimSpace(c.Query("task_id")); raw != "" {
		taskID = &raw
	}
	events, err := h.repo.ListEvents(c.Request.Context(), limit, taskID)
	if err != nil {
		status, msg := defaultStatusMessage(err, http.StatusInternalServerError, "failed to list events")
		c.JSON(status, errorBody{Error: msg})
		return
	}
	c.JSON(http.StatusOK, listEventsResponse{Events: toEventResponses(events)})
}

func toEventResponses(events []*task.Event) []eventResponse {
	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, toEventResponse(e))
	}
	return out
}

func parseLimit(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func toCreateTaskInput(req queueTaskRequest) (app.CreateTaskInput, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return app.CreateTaskInput{}, validationErr("prompt is required")
	}
	if req.SuccessCriteria != "" && strings.TrimSpace(req.SuccessCriteria) == "" {
		return app.CreateTaskInput{}, validationErr("success_criteria must be non-empty when present")
	}
	if req.Priority != 0 && (req.Priority < 1 || req.Priority > 5) {
		return app.CreateTaskInput{}, validationErr("priority must be in [1..5]")
	}
	mode := task.Mode(req.Mode)
	switch mode {
	case "", task.ModeAuto, task.ModeLean, task.ModeFull:
	default:
		return app.CreateTaskInput{}, validationErr("mode must be one of auto, lean, full")
	}
	return app.CreateTaskInput{
		Type:            req.Type,
		Title:           req.Title,
		Prompt:          req.Prompt,
		SuccessCriteria: req.SuccessCriteria,
		TaskRequest:     req.Metadata,
		Mode:            mode,
		Priority:        req.Priority,
	}, nil
}

func validationErr(msg string) error {
	return &validationError{msg: msg}
}

type validationError struct{ msg string }

func (e *validationError) Error() string { return e.msg }
