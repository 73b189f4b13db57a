package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/clachance14/pipetrak/internal/model"
	"github.com/clachance14/pipetrak/internal/service"
	"github.com/clachance14/pipetrak/internal/transport"
)

type BulkHandler struct {
	sync   *service.SyncService
	logger *zap.Logger
}

func NewBulkHandler(sync *service.SyncService, logger *zap.Logger) *BulkHandler {
	return &BulkHandler{
		sync:   sync,
		logger: logger,
	}
}

// Validate handles POST /api/bulk-updates/validate.
func (h *BulkHandler) Validate(c *gin.Context) {
	var req model.BulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bulk request"})
		return
	}

	result := h.sync.ValidateBulk(req)
	c.JSON(http.StatusOK, result)
}

// Submit handles POST /api/bulk-updates.
func (h *BulkHandler) Submit(c *gin.Context) {
	var req model.BulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bulk request"})
		return
	}
	req.UserID = c.GetString("user_id")

	validation := h.sync.ValidateBulk(req)
	if !validation.Valid {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"validation": validation})
		return
	}

	result, err := h.sync.SubmitBulk(c.Request.Context(), req, func(p model.BulkProgress) {
		h.logger.Debug("Bulk update progress",
			zap.Int("current_chunk", p.CurrentChunk),
			zap.Int("total_chunks", p.TotalChunks),
			zap.Float64("percentage", p.Percentage),
		)
	})
	if err != nil {
		h.logger.Error("Bulk update failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	status := http.StatusOK
	if len(result.Failed) > 0 && len(result.Successful) > 0 {
		partial := &transport.PartialBatchFailure{Failed: len(result.Failed), Total: result.Total}
		h.logger.Warn("Bulk update finished with partial failure", zap.Error(partial))
		status = http.StatusMultiStatus
	} else if len(result.Failed) > 0 {
		status = http.StatusBadGateway
	}
	c.JSON(status, result)
}
