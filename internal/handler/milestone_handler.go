package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/clachance14/pipetrak/internal/model"
	"github.com/clachance14/pipetrak/internal/optimistic"
	"github.com/clachance14/pipetrak/internal/service"
)

type MilestoneHandler struct {
	sync   *service.SyncService
	logger *zap.Logger
}

func NewMilestoneHandler(sync *service.SyncService, logger *zap.Logger) *MilestoneHandler {
	return &MilestoneHandler{
		sync:   sync,
		logger: logger,
	}
}

// Update handles POST /api/milestones/:id/update.
func (h *MilestoneHandler) Update(c *gin.Context) {
	milestoneID := c.Param("id")
	userID := c.GetString("user_id")

	var value model.UpdateValue
	if err := c.ShouldBindJSON(&value); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid update payload"})
		return
	}

	speculative, err := h.sync.UpdateMilestone(c.Request.Context(), userID, milestoneID, value)
	if err != nil {
		if errors.Is(err, service.ErrTransitionBlocked) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		h.logger.Warn("Milestone update rejected",
			zap.String("milestone_id", milestoneID),
			zap.Error(err),
		)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"milestone": speculative,
		"status":    model.StatusPending,
	})
}

// ComponentMilestones handles GET /api/components/:id/milestones.
func (h *MilestoneHandler) ComponentMilestones(c *gin.Context) {
	componentID := c.Param("id")

	views, err := h.sync.ComponentMilestones(componentID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"milestones": views})
}

// Conflicts handles GET /api/conflicts.
func (h *MilestoneHandler) Conflicts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"conflicts": h.sync.Conflicts()})
}

type resolveConflictRequest struct {
	Resolution string `json:"resolution"` // accept_remote | retry_local
}

// ResolveConflict handles POST /api/milestones/:id/resolve-conflict.
func (h *MilestoneHandler) ResolveConflict(c *gin.Context) {
	milestoneID := c.Param("id")

	var req resolveConflictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	resolution := optimistic.ResolutionAcceptRemote
	switch req.Resolution {
	case "accept_remote", "":
	case "retry_local":
		resolution = optimistic.ResolutionRetryLocal
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown resolution"})
		return
	}

	if err := h.sync.ResolveConflict(milestoneID, resolution); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resolved"})
}
