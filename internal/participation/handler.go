package participation

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/joinup-app/backend/internal/middleware"
	"github.com/joinup-app/backend/internal/models"
	"github.com/joinup-app/backend/pkg/response"
)

// Handler handles participation HTTP endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a participation handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Request handles POST /activities/:id/participation.
func (h *Handler) Request(c *gin.Context) {
	activityID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid activity id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	p, err := h.svc.Request(c.Request.Context(), activityID, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response.Created(c, p)
}

// Approve handles POST /activities/:id/participation/users/:userId/approve.
func (h *Handler) Approve(c *gin.Context) {
	h.decide(c, h.svc.Approve)
}

// Reject handles POST /activities/:id/participation/users/:userId/reject.
func (h *Handler) Reject(c *gin.Context) {
	h.decide(c, h.svc.Reject)
}

// Exclude handles POST /activities/:id/participation/users/:userId/exclude.
func (h *Handler) Exclude(c *gin.Context) {
	h.decide(c, h.svc.Exclude)
}

func (h *Handler) decide(c *gin.Context, op func(ctx context.Context, activityID, userID, organizerID uuid.UUID) (*models.Participation, error)) {
	activityID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid activity id")
		return
	}
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}
	organizerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	p, err := op(c.Request.Context(), activityID, userID, organizerID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response.OK(c, p)
}

// Status handles GET /activities/:id/participation/status.
func (h *Handler) Status(c *gin.Context) {
	activityID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid activity id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	status, err := h.svc.Status(c.Request.Context(), activityID, userID)
	if errors.Is(err, models.ErrNotFound) {
		response.OK(c, gin.H{"activity_id": activityID, "status": "NONE"})
		return
	}
	if err != nil {
		response.Internal(c, "failed to load status")
		return
	}
	response.OK(c, gin.H{"activity_id": activityID, "status": status})
}

// CanRequest handles GET /activities/:id/participation/can-request.
func (h *Handler) CanRequest(c *gin.Context) {
	activityID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid activity id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	ok, err := h.svc.CanRequest(c.Request.Context(), activityID, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response.OK(c, gin.H{"activity_id": activityID, "can_request": ok})
}

// Pending handles GET /activities/:id/participation/pending.
func (h *Handler) Pending(c *gin.Context) {
	h.list(c, h.svc.PendingRequests)
}

// Approved handles GET /activities/:id/participation/approved.
func (h *Handler) Approved(c *gin.Context) {
	h.list(c, h.svc.ApprovedParticipants)
}

// Participants handles GET /activities/:id/participants. Unlike the
// organizer-only Approved list this is visible to everyone with chat access.
func (h *Handler) Participants(c *gin.Context) {
	h.list(c, h.svc.ApprovedParticipantsForViewer)
}

func (h *Handler) list(c *gin.Context, op func(ctx context.Context, activityID, callerID uuid.UUID) ([]models.ParticipantView, error)) {
	activityID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid activity id")
		return
	}
	callerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	views, err := op(c.Request.Context(), activityID, callerID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response.OK(c, views)
}

// MyActivities handles GET /profile/activities.
func (h *Handler) MyActivities(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	list, err := h.svc.ApprovedActivities(c.Request.Context(), userID)
	if err != nil {
		response.Internal(c, "failed to list activities")
		return
	}
	response.OK(c, list)
}

func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		response.NotFound(c, "not found")
	case errors.Is(err, ErrNotOrganizer):
		response.Forbidden(c, err.Error())
	case errors.Is(err, ErrCreatorCannotRequest):
		response.BadRequest(c, err.Error())
	case errors.Is(err, ErrCannotParticipate):
		response.Forbidden(c, err.Error())
	case errors.Is(err, ErrCapacityExceeded):
		response.Conflict(c, err.Error())
	case errors.Is(err, ErrNotApproved):
		response.BadRequest(c, err.Error())
	default:
		response.Internal(c, "internal error")
	}
}
