package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-class-sync/internal/models"
	"github.com/noah-isme/sma-class-sync/internal/service"
	appErrors "github.com/noah-isme/sma-class-sync/pkg/errors"
	"github.com/noah-isme/sma-class-sync/pkg/middleware/requestid"
	"github.com/noah-isme/sma-class-sync/pkg/response"
)

type calendarController interface {
	Available() bool
	Status() models.CalendarSyncStatus
	SetEnabled(ctx context.Context, enabled bool) bool
	RequestPermission(ctx context.Context) (models.CalendarPermission, bool)
}

type calendarSyncTrigger interface {
	SyncNow(ctx context.Context) service.SyncResult
	Disconnect(ctx context.Context) service.SyncResult
}

type setEnabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// CalendarSyncHandler exposes the device calendar sync controls.
type CalendarSyncHandler struct {
	calendar calendarController
	trigger  calendarSyncTrigger
	logger   *zap.Logger
}

// NewCalendarSyncHandler constructs the handler.
func NewCalendarSyncHandler(calendar calendarController, trigger calendarSyncTrigger, logger *zap.Logger) *CalendarSyncHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CalendarSyncHandler{calendar: calendar, trigger: trigger, logger: logger}
}

// Status reports availability, toggle state and the last sync outcome.
func (h *CalendarSyncHandler) Status(c *gin.Context) {
	response.OK(c, h.calendar.Status())
}

// SetEnabled flips the sync toggle. Enabling triggers an immediate reconcile.
func (h *CalendarSyncHandler) SetEnabled(c *gin.Context) {
	var req setEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "enabled is required"))
		return
	}
	persisted := h.calendar.SetEnabled(c.Request.Context(), *req.Enabled)
	meta := map[string]interface{}{"persisted": persisted}
	if *req.Enabled {
		result := h.trigger.SyncNow(c.Request.Context())
		meta["sync"] = result
		if result.Err != nil {
			meta["sync_error"] = appErrors.FromError(result.Err)
		}
	}
	response.OK(c, h.calendar.Status(), meta)
}

// RequestPermission prompts the user for device calendar access.
func (h *CalendarSyncHandler) RequestPermission(c *gin.Context) {
	if !h.calendar.Available() {
		response.Error(c, appErrors.ErrCalendarUnavailable)
		return
	}
	perm, granted := h.calendar.RequestPermission(c.Request.Context())
	response.OK(c, gin.H{"permission": perm, "granted": granted})
}

// Sync reconciles the device calendar now, bypassing change detection.
func (h *CalendarSyncHandler) Sync(c *gin.Context) {
	result := h.trigger.SyncNow(c.Request.Context())
	if result.Err != nil {
		h.logger.Info("manual calendar sync incomplete", zap.String("request_id", requestid.FromContext(c.Request.Context())), zap.Error(result.Err))
		response.Error(c, result.Err, result)
		return
	}
	response.OK(c, result)
}

// Clear turns sync off and removes every entry this agent wrote to the device calendar.
// Sync stays off until it is enabled again.
func (h *CalendarSyncHandler) Clear(c *gin.Context) {
	result := h.trigger.Disconnect(c.Request.Context())
	if result.Err != nil {
		response.Error(c, result.Err, result)
		return
	}
	response.OK(c, result)
}
