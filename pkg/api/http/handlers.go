package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/veslabs/chorus/internal/bus"
	"github.com/veslabs/chorus/internal/events"
)

// PlanSubmitRequest wraps a plan with optional request metadata.
type PlanSubmitRequest struct {
	Plan           events.Plan `json:"plan" binding:"required"`
	ConversationID string      `json:"conversation_id"`
}

// PlanSubmitResponse acknowledges an accepted plan.
type PlanSubmitResponse struct {
	PlanID      string `json:"plan_id"`
	Layer       string `json:"layer"`
	Status      string `json:"status"`
	SubmittedAt string `json:"submitted_at"`
}

// ModeRequest asks for a mode transition.
type ModeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

// CommandRequest submits a named command.
type CommandRequest struct {
	Command string   `json:"command" binding:"required"`
	Args    []string `json:"args"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details.
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// handleHealth reports the supervisor's view of every service.
func (s *Server) handleHealth(c *gin.Context) {
	statuses := s.supervisor.Statuses()
	services := make(map[string]string, len(statuses))
	for name, status := range statuses {
		services[name] = string(status)
	}

	status := "healthy"
	code := http.StatusOK
	if !s.supervisor.Healthy() {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":    status,
		"mode":      s.currentMode(),
		"services":  services,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleSubmitPlan validates a plan and hands it to the timeline
// executor over the bus.
func (s *Server) handleSubmitPlan(c *gin.Context) {
	var req PlanSubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_REQUEST",
				Message: err.Error(),
			},
		})
		return
	}

	if err := req.Plan.Validate(); err != nil {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_PLAN",
				Message: err.Error(),
			},
		})
		return
	}

	var opts []bus.PublishOption
	if req.ConversationID != "" {
		opts = append(opts, bus.WithConversationID(req.ConversationID))
	}
	if err := s.Bus().Publish(c.Request.Context(), events.TopicPlanReady, req.Plan, opts...); err != nil {
		s.Logger().Error("failed to publish plan", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: ErrorDetail{
				Code:    "PUBLISH_FAILED",
				Message: err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusAccepted, PlanSubmitResponse{
		PlanID:      req.Plan.PlanID,
		Layer:       string(req.Plan.Layer),
		Status:      "accepted",
		SubmittedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

// handleListPlans returns the retained plan log, oldest first.
func (s *Server) handleListPlans(c *gin.Context) {
	records := s.plans.List()
	c.JSON(http.StatusOK, gin.H{
		"plans": records,
		"total": len(records),
	})
}

// handleGetPlan returns the recorded lifecycle of one plan.
func (s *Server) handleGetPlan(c *gin.Context) {
	planID := c.Param("id")

	record, ok := s.plans.Get(planID)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: ErrorDetail{
				Code:    "NOT_FOUND",
				Message: "Plan not found",
			},
		})
		return
	}

	c.JSON(http.StatusOK, record)
}

// handleGetMode returns the cached operating mode.
func (s *Server) handleGetMode(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"mode": s.currentMode(),
	})
}

// handleSetMode publishes a set-mode request. The mode state machine
// decides asynchronously whether the transition is legal.
func (s *Server) handleSetMode(c *gin.Context) {
	var req ModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_REQUEST",
				Message: err.Error(),
			},
		})
		return
	}

	mode := events.Mode(req.Mode)
	if !mode.Valid() {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_MODE",
				Message: "unknown mode: " + req.Mode,
			},
		})
		return
	}

	err := s.Bus().Publish(c.Request.Context(), events.TopicSetModeRequest, events.SetModeRequest{
		Mode:   mode,
		Source: "http",
	})
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: ErrorDetail{
				Code:    "PUBLISH_FAILED",
				Message: err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"mode":   mode,
		"status": "requested",
	})
}

// handleSubmitCommand publishes a command for the dispatcher to route.
func (s *Server) handleSubmitCommand(c *gin.Context) {
	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_REQUEST",
				Message: err.Error(),
			},
		})
		return
	}

	err := s.Bus().Publish(c.Request.Context(), events.TopicCLICommand, events.Command{
		Command: req.Command,
		Args:    req.Args,
		Source:  "http",
	})
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: ErrorDetail{
				Code:    "PUBLISH_FAILED",
				Message: err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"command": req.Command,
		"status":  "accepted",
	})
}
