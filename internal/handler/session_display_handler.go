package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-class-sync/internal/dto"
	appErrors "github.com/noah-isme/sma-class-sync/pkg/errors"
	"github.com/noah-isme/sma-class-sync/pkg/response"
)

type sessionLister interface {
	List(ctx context.Context, req dto.DisplayRequest) ([]dto.SessionDisplayInfo, error)
}

// SessionDisplayHandler renders display affordances for session grids.
type SessionDisplayHandler struct {
	service sessionLister
}

// NewSessionDisplayHandler constructs the handler.
func NewSessionDisplayHandler(service sessionLister) *SessionDisplayHandler {
	return &SessionDisplayHandler{service: service}
}

// Display returns per-session affordances for the requested mode.
func (h *SessionDisplayHandler) Display(c *gin.Context) {
	var req dto.DisplayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
		return
	}
	items, err := h.service.List(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, items, map[string]interface{}{"mode": req.Mode, "count": len(items)})
}
