package activities

import (
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/joinup-app/backend/internal/middleware"
	"github.com/joinup-app/backend/internal/models"
	"github.com/joinup-app/backend/pkg/response"
	"github.com/joinup-app/backend/pkg/storage"
)

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// CreateRequest is the body for POST /activities.
type CreateRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description" binding:"required"`
	StartsAt    string `json:"starts_at" binding:"required"`
	Location    string `json:"location" binding:"required"`
	Address     string `json:"address" binding:"required"`
	Capacity    int    `json:"capacity" binding:"required,min=1"`
	Category    string `json:"category"`
	Tags        string `json:"tags"`
}

// Handler handles activity HTTP endpoints.
type Handler struct {
	repo   *Repository
	s3     *storage.S3
	logger *zap.Logger
}

// NewHandler creates an activity handler.
func NewHandler(repo *Repository, s3 *storage.S3, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, s3: s3, logger: logger}
}

// Create handles POST /activities.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	startsAt, err := parseTime(req.StartsAt)
	if err != nil {
		response.BadRequest(c, "invalid starts_at")
		return
	}

	a := &models.Activity{
		Title:       req.Title,
		Description: req.Description,
		StartsAt:    startsAt,
		Location:    req.Location,
		Address:     req.Address,
		Capacity:    req.Capacity,
		Category:    req.Category,
		Tags:        req.Tags,
		CreatedBy:   userID,
	}
	if err := h.repo.Create(c.Request.Context(), a); err != nil {
		response.Internal(c, "failed to create activity")
		return
	}
	response.Created(c, a)
}

// GetByID handles GET /activities/:id.
func (h *Handler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid activity id")
		return
	}
	a, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			response.NotFound(c, "activity not found")
			return
		}
		response.Internal(c, "failed to load activity")
		return
	}
	response.OK(c, a)
}

// List handles GET /activities. Query ?mine=1 returns only activities created by
// the current user; ?category=... filters by category.
func (h *Handler) List(c *gin.Context) {
	var createdBy *uuid.UUID
	if c.Query("mine") == "1" {
		uid := c.MustGet(middleware.ContextUserID).(uuid.UUID)
		createdBy = &uid
	}
	list, err := h.repo.List(c.Request.Context(), createdBy, c.Query("category"))
	if err != nil {
		response.Internal(c, "failed to list activities")
		return
	}
	response.OK(c, list)
}

// Update handles PATCH /activities/:id (creator only).
func (h *Handler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid activity id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	a, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			response.NotFound(c, "activity not found")
			return
		}
		response.Internal(c, "failed to load activity")
		return
	}
	if a.CreatedBy != userID {
		response.Forbidden(c, "only the organizer can update this activity")
		return
	}
	var req struct {
		Title       *string `json:"title"`
		Description *string `json:"description"`
		StartsAt    *string `json:"starts_at"`
		Location    *string `json:"location"`
		Address     *string `json:"address"`
		Capacity    *int    `json:"capacity"`
		Category    *string `json:"category"`
		Tags        *string `json:"tags"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request")
		return
	}
	if req.Capacity != nil && *req.Capacity < 1 {
		response.BadRequest(c, "capacity must be at least 1")
		return
	}
	p := UpdateParams{
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
		Address:     req.Address,
		Capacity:    req.Capacity,
		Category:    req.Category,
		Tags:        req.Tags,
	}
	if req.StartsAt != nil {
		t, err := parseTime(*req.StartsAt)
		if err != nil {
			response.BadRequest(c, "invalid starts_at")
			return
		}
		p.StartsAt = &t
	}
	if err := h.repo.Update(c.Request.Context(), id, p); err != nil {
		response.Internal(c, "failed to update activity")
		return
	}
	updated, _ := h.repo.GetByID(c.Request.Context(), id)
	response.OK(c, updated)
}

// Delete handles DELETE /activities/:id (creator only).
func (h *Handler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid activity id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	a, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			response.NotFound(c, "activity not found")
			return
		}
		response.Internal(c, "failed to load activity")
		return
	}
	if a.CreatedBy != userID {
		response.Forbidden(c, "only the organizer can delete this activity")
		return
	}
	if err := h.repo.Delete(c.Request.Context(), id); err != nil {
		response.Internal(c, "failed to delete activity")
		return
	}
	// Best effort: the activity row is gone either way.
	if h.s3 != nil && a.ImageURL != "" {
		if key := h.s3.ImageKeyFromURL(a.ImageURL); key != "" {
			if err := h.s3.DeleteImage(c.Request.Context(), key); err != nil {
				h.logger.Warn("failed to delete activity image", zap.Error(err), zap.String("activity_id", id.String()))
			}
		}
	}
	response.NoContent(c)
}

// UploadImage handles POST /activities/:id/image (creator only). Accepts a
// multipart file field "image", uploads it to S3 and stores the public URL.
func (h *Handler) UploadImage(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid activity id")
		return
	}
	if h.s3 == nil {
		response.ServiceUnavailable(c, "image storage not configured")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	a, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			response.NotFound(c, "activity not found")
			return
		}
		response.Internal(c, "failed to load activity")
		return
	}
	if a.CreatedBy != userID {
		response.Forbidden(c, "only the organizer can upload an image")
		return
	}

	fileHeader, err := c.FormFile("image")
	if err != nil {
		response.BadRequest(c, "missing image file")
		return
	}
	if fileHeader.Size > storage.MaxImageFileSize {
		response.BadRequest(c, "image exceeds maximum size")
		return
	}
	contentType := fileHeader.Header.Get("Content-Type")
	if !storage.ValidateImageFileType(contentType, fileHeader.Filename) {
		response.BadRequest(c, "unsupported image type")
		return
	}
	if contentType == "" {
		contentType = storage.ContentTypeForFilename(fileHeader.Filename)
	}

	file, err := fileHeader.Open()
	if err != nil {
		response.Internal(c, "failed to read image")
		return
	}
	defer file.Close()

	key := storage.ActivityImageKey(id.String(), fmt.Sprintf("%s-%s", uuid.New().String(), fileHeader.Filename))
	url, err := h.s3.Upload(c.Request.Context(), h.s3.ImagesBucket(), key, contentType, file, fileHeader.Size, true)
	if err != nil {
		h.logger.Error("image upload failed", zap.Error(err), zap.String("activity_id", id.String()))
		response.Internal(c, "failed to upload image")
		return
	}
	if err := h.repo.SetImageURL(c.Request.Context(), id, url); err != nil {
		response.Internal(c, "failed to save image url")
		return
	}
	response.OK(c, gin.H{"activity_id": id, "image_url": url})
}
