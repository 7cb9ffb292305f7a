// Package httpapi exposes the runbook engine's trigger interface: alert
// ingestion that kicks off a run, and listing, inspecting and deciding
// approval entries. It has no route for inspecting a run or its plan.
// Route shape follows the teacher's coordination handlers.
package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/socrunbook/engine/internal/approval"
	"github.com/socrunbook/engine/internal/model"
	"github.com/socrunbook/engine/internal/queueexec"
	"github.com/socrunbook/engine/internal/scheduler"
	"go.uber.org/zap"
)

// RunbookLookup resolves a runbook by ID for the trigger endpoint.
type RunbookLookup interface {
	GetRunbook(ctx context.Context, runbookID string) (*model.Runbook, error)
}

// Handler wires the engine's components to gin routes.
type Handler struct {
	Scheduler *scheduler.Scheduler
	Approvals *approval.Queue
	QueueExec *queueexec.Executor
	Runbooks  RunbookLookup
	Log       *zap.SugaredLogger
}

// NewHandler builds a Handler.
func NewHandler(sched *scheduler.Scheduler, approvals *approval.Queue, queueExec *queueexec.Executor, runbooks RunbookLookup, log *zap.SugaredLogger) *Handler {
	return &Handler{Scheduler: sched, Approvals: approvals, QueueExec: queueExec, Runbooks: runbooks, Log: log}
}

// RegisterRoutes mounts the engine's HTTP surface on r.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	runbooks := r.Group("/runbooks")
	{
		runbooks.POST("/:id/trigger", h.Trigger)
	}

	approvals := r.Group("/approvals")
	{
		approvals.GET("", h.ListPendingApprovals)
		approvals.GET("/:id", h.GetApproval)
		approvals.POST("/:id/approve", h.Approve)
		approvals.POST("/:id/deny", h.Deny)
	}
}

// triggerRequest separates the two independent trigger axes: Mode is
// the run's execution mode (production/simulation/dry-run), while
// AutomationLevelOverride, if set, overrides the runbook's configured
// L0/L1/L2 automation level for this run only.
type triggerRequest struct {
	Alert                   model.Alert    `json:"alert" binding:"required"`
	Mode                    model.RunMode  `json:"mode" binding:"required"`
	AutomationLevelOverride *model.Mode    `json:"automation_level_override,omitempty"`
}

// Trigger starts a new execution of the named runbook against the
// submitted alert.
func (h *Handler) Trigger(c *gin.Context) {
	runbookID := c.Param("id")

	var req triggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rb, err := h.Runbooks.GetRunbook(c.Request.Context(), runbookID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "runbook not found"})
		return
	}

	executionID := uuid.New().String()
	outcome, err := h.Scheduler.Run(c.Request.Context(), executionID, rb, req.Alert, req.Mode, req.AutomationLevelOverride)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	switch {
	case outcome.ApprovalPending != nil:
		c.JSON(http.StatusAccepted, gin.H{
			"execution_id": executionID,
			"status":       "awaiting_approval",
			"approval":     outcome.ApprovalPending,
		})
	case outcome.Result != nil:
		c.JSON(http.StatusOK, outcome.Result)
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "scheduler returned no outcome"})
	}
}

// ListPendingApprovals lists all currently-pending L2 approvals.
func (h *Handler) ListPendingApprovals(c *gin.Context) {
	pending, err := h.Approvals.ListPending(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"approvals": pending, "count": len(pending)})
}

// GetApproval fetches a single approval queue entry.
func (h *Handler) GetApproval(c *gin.Context) {
	entry, ok, err := h.Approvals.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "approval not found"})
		return
	}
	c.JSON(http.StatusOK, entry)
}

type decisionRequest struct {
	DecidedBy string `json:"decided_by" binding:"required"`
}

// Approve approves a pending approval and immediately replays it.
func (h *Handler) Approve(c *gin.Context) {
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry, err := h.Approvals.Decide(c.Request.Context(), c.Param("id"), true, req.DecidedBy)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	go func() {
		if _, err := h.QueueExec.Replay(context.Background(), entry); err != nil && h.Log != nil {
			h.Log.Errorw("approved replay failed", "approval_id", entry.ID, "error", err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"message": "approved, execution started", "approval": entry})
}

// Deny denies a pending approval.
func (h *Handler) Deny(c *gin.Context) {
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry, err := h.Approvals.Decide(c.Request.Context(), c.Param("id"), false, req.DecidedBy)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "denied", "approval": entry})
}
