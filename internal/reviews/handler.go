package reviews

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/joinup-app/backend/internal/middleware"
	"github.com/joinup-app/backend/internal/models"
	"github.com/joinup-app/backend/pkg/response"
)

// SubmitRequest is the body for PUT /users/:id/reviews.
type SubmitRequest struct {
	Rating   int    `json:"rating" binding:"required,min=1,max=5"`
	Feedback string `json:"feedback" binding:"required"`
}

// Handler handles user review HTTP endpoints.
type Handler struct {
	repo *Repository
}

// NewHandler creates a review handler.
func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

// Submit handles PUT /users/:id/reviews. Re-submitting replaces the caller's
// previous review of the same user.
func (h *Handler) Submit(c *gin.Context) {
	reviewedID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}
	reviewerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if reviewerID == reviewedID {
		response.BadRequest(c, "cannot review yourself")
		return
	}
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	rev := &models.UserReview{
		ReviewerID:     reviewerID,
		ReviewedUserID: reviewedID,
		Rating:         req.Rating,
		Feedback:       req.Feedback,
	}
	if err := h.repo.Upsert(c.Request.Context(), rev); err != nil {
		response.Internal(c, "failed to save review")
		return
	}
	response.Created(c, rev)
}

// List handles GET /users/:id/reviews.
func (h *Handler) List(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}
	list, err := h.repo.ListForUser(c.Request.Context(), userID)
	if err != nil {
		response.Internal(c, "failed to list reviews")
		return
	}
	response.OK(c, list)
}

// Summary handles GET /users/:id/reviews/summary.
func (h *Handler) Summary(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}
	s, err := h.repo.Summary(c.Request.Context(), userID)
	if err != nil {
		response.Internal(c, "failed to load review summary")
		return
	}
	response.OK(c, s)
}

// Delete handles DELETE /users/:id/reviews (removes the caller's own review).
func (h *Handler) Delete(c *gin.Context) {
	reviewedID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}
	reviewerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if err := h.repo.Delete(c.Request.Context(), reviewerID, reviewedID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			response.NotFound(c, "review not found")
			return
		}
		response.Internal(c, "failed to delete review")
		return
	}
	response.NoContent(c)
}
