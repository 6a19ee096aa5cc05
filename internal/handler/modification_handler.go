package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-class-sync/internal/dto"
	appErrors "github.com/noah-isme/sma-class-sync/pkg/errors"
	"github.com/noah-isme/sma-class-sync/pkg/response"
)

type modificationPreviewer interface {
	Preview(ctx context.Context, req dto.ModificationPreviewRequest) (*dto.ModificationPreview, error)
}

// ModificationHandler serves enrollment modification previews.
type ModificationHandler struct {
	service modificationPreviewer
}

// NewModificationHandler constructs the handler.
func NewModificationHandler(service modificationPreviewer) *ModificationHandler {
	return &ModificationHandler{service: service}
}

// Preview returns the diff and next step for a proposed session selection.
func (h *ModificationHandler) Preview(c *gin.Context) {
	var req dto.ModificationPreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
		return
	}
	if req.SelectedSessionIDs == nil {
		req.SelectedSessionIDs = []string{}
	}
	preview, err := h.service.Preview(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	var meta map[string]interface{}
	if preview.PriceDefault {
		meta = map[string]interface{}{"price_default": true}
	}
	response.OK(c, preview, meta)
}
