package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/multichannel-posting-api/internal/models"
	"github.com/multichannel-posting-api/internal/service"
	"github.com/rs/zerolog"
)

// PostHandler handles parent post endpoints
type PostHandler struct {
	services *service.Services
	log      zerolog.Logger
}

// NewPostHandler creates a new PostHandler
func NewPostHandler(services *service.Services, log zerolog.Logger) *PostHandler {
	return &PostHandler{
		services: services,
		log:      log.With().Str("handler", "post").Logger(),
	}
}

// CreatePost handles POST /v1/posts
// Validates the post and fans it out to every channel of the group
func (h *PostHandler) CreatePost(c *gin.Context) {
	var req models.CreatePostRequest
	if !bindJSON(c, &req) {
		return
	}

	detail, err := h.services.Posts.CreatePost(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	h.log.Info().
		Str("post_id", detail.ID).
		Int("variants", len(detail.Variants)).
		Msg("Post created")
	c.JSON(http.StatusCreated, detail)
}

// GetPost handles GET /v1/posts/:post_id
func (h *PostHandler) GetPost(c *gin.Context) {
	detail, err := h.services.Posts.GetPost(c.Request.Context(), c.Param("post_id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// EditPost handles PATCH /v1/posts/:post_id
func (h *PostHandler) EditPost(c *gin.Context) {
	var req models.EditPostRequest
	if !bindJSON(c, &req) {
		return
	}

	detail, err := h.services.Posts.EditPost(c.Request.Context(), c.Param("post_id"), &req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// ListVariants handles GET /v1/posts/:post_id/variants
func (h *PostHandler) ListVariants(c *gin.Context) {
	detail, err := h.services.Posts.GetPost(c.Request.Context(), c.Param("post_id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"variants": detail.Variants, "count": len(detail.Variants)})
}

// RequestTranslations handles POST /v1/posts/:post_id/translations
func (h *PostHandler) RequestTranslations(c *gin.Context) {
	h.enqueue(c, models.TaskTypeRequestTranslations)
}

// FanOut handles POST /v1/posts/:post_id/fan-out
func (h *PostHandler) FanOut(c *gin.Context) {
	h.enqueue(c, models.TaskTypeFanOut)
}

// PublishAll handles POST /v1/posts/:post_id/publish-all
func (h *PostHandler) PublishAll(c *gin.Context) {
	h.enqueue(c, models.TaskTypePublishAll)
}

// PublishReady handles POST /v1/posts/:post_id/publish-ready
func (h *PostHandler) PublishReady(c *gin.Context) {
	h.enqueue(c, models.TaskTypePublishReady)
}

// MarkReady handles POST /v1/posts/:post_id/mark-ready
func (h *PostHandler) MarkReady(c *gin.Context) {
	post, err := h.services.Posts.MarkReady(c.Request.Context(), c.Param("post_id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

// RetryFailed handles POST /v1/posts/:post_id/retry-failed
func (h *PostHandler) RetryFailed(c *gin.Context) {
	report, err := h.services.Posts.RetryFailed(c.Request.Context(), c.Param("post_id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// enqueue submits a post-level task and answers 202 with the task record
func (h *PostHandler) enqueue(c *gin.Context, taskType models.TaskType) {
	ctx := c.Request.Context()
	postID := c.Param("post_id")

	if _, err := h.services.Posts.GetPost(ctx, postID); err != nil {
		respondError(c, h.log, err)
		return
	}

	task, err := h.services.Tasks.Enqueue(ctx, taskType, postID, 0)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	h.log.Info().
		Str("post_id", postID).
		Str("task_id", task.ID).
		Str("type", string(taskType)).
		Msg("Task submitted")
	c.JSON(http.StatusAccepted, task)
}
