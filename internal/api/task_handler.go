package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/multichannel-posting-api/internal/service"
	"github.com/rs/zerolog"
)

// TaskHandler exposes queued task state
type TaskHandler struct {
	services *service.Services
	log      zerolog.Logger
}

// NewTaskHandler creates a new TaskHandler
func NewTaskHandler(services *service.Services, log zerolog.Logger) *TaskHandler {
	return &TaskHandler{
		services: services,
		log:      log.With().Str("handler", "task").Logger(),
	}
}

// GetTask handles GET /v1/tasks/:task_id
func (h *TaskHandler) GetTask(c *gin.Context) {
	task, err := h.services.Tasks.GetTask(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, task)
}
