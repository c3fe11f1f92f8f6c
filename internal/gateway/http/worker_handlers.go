package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"ember/internal/domain/task"
)

func (h *Handler) handleLease(c *gin.Context) {
	var req leaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.WorkerID) == "" {
		c.JSON(http.StatusBadRequest, errorBody{Error: "worker_id is required"})
		return
	}
	leaseTTL := h.defaultLeaseTTL
	if req.LeaseTTLMs > 0 {
		leaseTTL = time.Duration(req.LeaseTTLMs) * time.Millisecond
	}

	claimed, err := h.repo.ClaimNextTask(c.Request.Context(), req.WorkerID, leaseTTL)
	if err != nil {
		status, msg := defaultStatusMessage(err, http.StatusInternalServerError, "failed to claim task")
		c.JSON(status, errorBody{Error: msg})
		return
	}
	if claimed == nil {
		c.JSON(http.StatusOK, leaseResponse{})
		return
	}
	h.metrics.tasksLeased.Inc()

	handle, err := h.repo.StartAttempt(c.Request.Context(), claimed.ID, req.WorkerID)
	if err != nil {
		status, msg := defaultStatusMessage(err, http.StatusInternalServerError, "failed to start attempt")
		c.JSON(status, errorBody{Error: msg})
		return
	}
	if handle == nil {
		// Lost the lease between claim and start (shouldn't happen under
		// normal single-claimant ownership, but surfaces as "no task" rather
		// than a 500 so the worker just retries).
		c.JSON(http.StatusOK, leaseResponse{})
		return
	}

	resp := toTaskResponse(claimed)
	c.JSON(http.StatusOK, leaseResponse{
		Task:      &resp,
		AttemptNo: handle.AttemptNo,
		AttemptID: handle.AttemptID,
	})
}

func (h *Handler) handleHeartbeat(c *gin.Context) {
	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.WorkerID) == "" {
		c.JSON(http.StatusBadRequest, errorBody{Error: "worker_id is required"})
		return
	}
	leaseTTL := h.defaultLeaseTTL
	if req.LeaseTTLMs > 0 {
		leaseTTL = time.Duration(req.LeaseTTLMs) * time.Millisecond
	}
	if err := h.repo.Heartbeat(c.Request.Context(), c.Param("id"), req.WorkerID, leaseTTL); err != nil {
		status, msg := defaultStatusMessage(err, http.StatusInternalServerError, "failed to extend lease")
		c.JSON(status, errorBody{Error: msg})
		return
	}
	c.JSON(http.StatusOK, okResponse{OK: true})
}

func (h *Handler) handleAppendEvent(c *gin.Context) {
	taskID := c.Param("id")
	var req appendEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Phase) == "" || strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, errorBody{Error: "phase and message are required"})
		return
	}
	level := task.EventLevel(req.Level)
	if level == "" {
		level = task.LevelInfo
	}
	if _, err := h.repo.AppendEvent(c.Request.Context(), &taskID, req.AttemptID, req.Phase, level, req.Message, req.Data); err != nil {
		status, msg := defaultStatusMessage(err, http.StatusInternalServerError, "failed to append event")
		c.JSON(status, errorBody{Error: msg})
		return
	}
	h.metrics.envelopesForwarded.Inc()
	c.JSON(http.StatusOK, okResponse{OK: true})
}

func (h *Handler) handleComplete(c *gin.Context) {
	taskID := c.Param("id")
	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.WorkerID) == "" {
		c.JSON(http.StatusBadRequest, errorBody{Error: "worker_id is required"})
		return
	}

	result := task.CompleteResult{
		Succeeded:      req.Succeeded,
		Blocked:        req.Blocked,
		FinalPhase:     req.FinalPhase,
		OutputJSON:     req.OutputJSON,
		ErrorMessage:   req.ErrorMessage,
		WorkerExitCode: req.WorkerExit,
	}
	if req.FinishedAt != nil {
		if parsed, err := time.Parse(time.RFC3339Nano, *req.FinishedAt); err == nil {
			result.FinishedAt = &parsed
		}
	}

	taskStatus, err := h.repo.CompleteAttempt(c.Request.Context(), taskID, req.WorkerID, result)
	if err != nil {
		status, msg := defaultStatusMessage(err, http.StatusInternalServerError, "failed to complete attempt")
		c.JSON(status, errorBody{Error: msg})
		return
	}

	switch {
	case req.Succeeded:
		h.metrics.tasksSucceeded.Inc()
	case req.Blocked:
		h.metrics.tasksBlocked.Inc()
	case taskStatus == task.StatusQueued:
		h.metrics.tasksRequeued.Inc()
	default:
		h.metrics.tasksFailed.Inc()
	}
	c.JSON(http.StatusOK, completeResponse{OK: true, Status: string(taskStatus)})
}

func (h *Handler) handleGetState(c *gin.Context) {
	value, updatedAt, err := h.repo.GetState(c.Request.Context(), c.Param("key"))
	if err != nil {
		status, msg := defaultStatusMessage(err, http.StatusInternalServerError, "failed to read state")
		c.JSON(status, errorBody{Error: msg})
		return
	}
	c.JSON(http.StatusOK, stateResponse{
		Key:       c.Param("key"),
		Value:     value,
		UpdatedAt: updatedAt.UTC().Format(time.RFC3339Nano),
	})
}

func (h *Handler) handleSetState(c *gin.Context) {
	var req setStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return
	}
	key := c.Param("key")
	updatedAt, err := h.repo.SetState(c.Request.Context(), key, req.Value)
	if err != nil {
		status, msg := defaultStatusMessage(err, http.StatusInternalServerError, "failed to write state")
		c.JSON(status, errorBody{Error: msg})
		return
	}
	c.JSON(http.StatusOK, setStateResponse{
		OK:        true,
		Key:       key,
		Value:     req.Value,
		UpdatedAt: updatedAt.UTC().Format(time.RFC3339Nano),
	})
}
