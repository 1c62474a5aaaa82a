package handlers

import (
	"net/http"

	"example.com/smartpos/services/pos/internal/events"
	"example.com/smartpos/services/pos/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// SyncHandler handles sync-related HTTP requests
type SyncHandler struct {
	syncService *services.SyncService
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(syncService *services.SyncService) *SyncHandler {
	return &SyncHandler{syncService: syncService}
}

// HandleGetStatus returns the current sync status snapshot
func (h *SyncHandler) HandleGetStatus(c *gin.Context) {
	status, err := h.syncService.Status(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to assemble sync status")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

// HandleSync triggers a full sync cycle
func (h *SyncHandler) HandleSync(c *gin.Context) {
	result := h.syncService.SyncAll(c.Request.Context())
	c.JSON(resultStatus(result), result)
}

// HandleFullSync clears the last-sync timestamp and triggers a complete
// master-data refresh
func (h *SyncHandler) HandleFullSync(c *gin.Context) {
	result, err := h.syncService.ForceFullSync(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to reset sync timestamp")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(resultStatus(result), result)
}

// HandleRetryFailed resets terminally failed operations back to pending
func (h *SyncHandler) HandleRetryFailed(c *gin.Context) {
	n, err := h.syncService.Queue().RetryFailed(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to reset failed operations")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"retried": n})
}

func resultStatus(result events.SyncResult) int {
	if result.Reason == events.ReasonOfflineOrBusy {
		return http.StatusConflict
	}
	return http.StatusOK
}

// RegisterRoutes registers the handler's routes
func (h *SyncHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/status", h.HandleGetStatus)
	router.POST("/sync", h.HandleSync)
	router.POST("/sync/full", h.HandleFullSync)
	router.POST("/sync/retry-failed", h.HandleRetryFailed)
}
