package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/multichannel-posting-api/internal/models"
	"github.com/multichannel-posting-api/internal/service"
	"github.com/rs/zerolog"
)

// VariantHandler handles per-channel variant endpoints
type VariantHandler struct {
	services *service.Services
	log      zerolog.Logger
}

// NewVariantHandler creates a new VariantHandler
func NewVariantHandler(services *service.Services, log zerolog.Logger) *VariantHandler {
	return &VariantHandler{
		services: services,
		log:      log.With().Str("handler", "variant").Logger(),
	}
}

// GetVariant handles GET /v1/variants/:variant_id
func (h *VariantHandler) GetVariant(c *gin.Context) {
	v, err := h.services.Variants.GetVariant(c.Request.Context(), c.Param("variant_id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// EditVariant handles PATCH /v1/variants/:variant_id
// A manual edit marks the variant as manually edited
func (h *VariantHandler) EditVariant(c *gin.Context) {
	var req models.EditVariantRequest
	if !bindJSON(c, &req) {
		return
	}

	v, err := h.services.Variants.EditVariant(c.Request.Context(), c.Param("variant_id"), &req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// Publish handles POST /v1/variants/:variant_id/publish
func (h *VariantHandler) Publish(c *gin.Context) {
	task, err := h.services.Variants.QueuePublish(c.Request.Context(), c.Param("variant_id"))
	h.accepted(c, task, err)
}

// RequestTranslation handles POST /v1/variants/:variant_id/translation
func (h *VariantHandler) RequestTranslation(c *gin.Context) {
	task, err := h.services.Posts.RequestVariantTranslation(c.Request.Context(), c.Param("variant_id"))
	h.accepted(c, task, err)
}

// DeleteMessage handles DELETE /v1/variants/:variant_id/message
func (h *VariantHandler) DeleteMessage(c *gin.Context) {
	task, err := h.services.Variants.QueueDelete(c.Request.Context(), c.Param("variant_id"))
	h.accepted(c, task, err)
}

// Convert handles POST /v1/variants/:variant_id/convert
func (h *VariantHandler) Convert(c *gin.Context) {
	v, err := h.services.Variants.ConvertToHTML(c.Request.Context(), c.Param("variant_id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// Retry handles POST /v1/variants/:variant_id/retry
func (h *VariantHandler) Retry(c *gin.Context) {
	v, err := h.services.Variants.Retry(c.Request.Context(), c.Param("variant_id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *VariantHandler) accepted(c *gin.Context, task *models.Task, err error) {
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusAccepted, task)
}
