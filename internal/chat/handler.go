package chat

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/joinup-app/backend/internal/middleware"
	"github.com/joinup-app/backend/internal/models"
	"github.com/joinup-app/backend/pkg/response"
)

// SendRequest is the body for POST /activities/:id/messages.
type SendRequest struct {
	Content string `json:"content" binding:"required"`
}

// ReactRequest is the body for POST /activities/:id/messages/:messageId/reactions.
type ReactRequest struct {
	Type string `json:"type" binding:"required"`
}

// Handler handles chat HTTP endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a chat handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// History handles GET /activities/:id/messages?limit=N.
func (h *Handler) History(c *gin.Context) {
	activityID, userID, ok := h.ids(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(DefaultHistoryLimit)))

	views, err := h.svc.RecentMessages(c.Request.Context(), activityID, userID, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response.OK(c, views)
}

// Send handles POST /activities/:id/messages.
func (h *Handler) Send(c *gin.Context) {
	activityID, userID, ok := h.ids(c)
	if !ok {
		return
	}
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	view, err := h.svc.SendMessage(c.Request.Context(), activityID, userID, req.Content)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response.Created(c, view)
}

// Delivered handles POST /activities/:id/messages/:messageId/delivered.
func (h *Handler) Delivered(c *gin.Context) {
	h.ackEndpoint(c, h.svc.MarkDelivered)
}

// Seen handles POST /activities/:id/messages/:messageId/seen.
func (h *Handler) Seen(c *gin.Context) {
	h.ackEndpoint(c, h.svc.MarkSeen)
}

// SeenBy handles GET /activities/:id/messages/:messageId/seen.
func (h *Handler) SeenBy(c *gin.Context) {
	activityID, userID, ok := h.ids(c)
	if !ok {
		return
	}
	messageID, err := uuid.Parse(c.Param("messageId"))
	if err != nil {
		response.BadRequest(c, "invalid message id")
		return
	}
	seen, err := h.svc.SeenUsers(c.Request.Context(), activityID, messageID, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response.OK(c, seen)
}

// SeenSummaries handles GET /activities/:id/seen-summaries?message_ids=a,b,c.
func (h *Handler) SeenSummaries(c *gin.Context) {
	activityID, userID, ok := h.ids(c)
	if !ok {
		return
	}
	raw := strings.Split(c.Query("message_ids"), ",")
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		id, err := uuid.Parse(s)
		if err != nil {
			response.BadRequest(c, "invalid message id: "+s)
			return
		}
		ids = append(ids, id)
	}
	summaries, err := h.svc.SeenSummaries(c.Request.Context(), activityID, ids, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response.OK(c, summaries)
}

// React handles POST /activities/:id/messages/:messageId/reactions.
func (h *Handler) React(c *gin.Context) {
	activityID, userID, ok := h.ids(c)
	if !ok {
		return
	}
	messageID, err := uuid.Parse(c.Param("messageId"))
	if err != nil {
		response.BadRequest(c, "invalid message id")
		return
	}
	var req ReactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	upd, err := h.svc.ToggleReaction(c.Request.Context(), activityID, messageID, userID, req.Type)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response.OK(c, upd)
}

func (h *Handler) ackEndpoint(c *gin.Context, op func(ctx context.Context, activityID, messageID, userID uuid.UUID) (*AckView, error)) {
	activityID, userID, ok := h.ids(c)
	if !ok {
		return
	}
	messageID, err := uuid.Parse(c.Param("messageId"))
	if err != nil {
		response.BadRequest(c, "invalid message id")
		return
	}
	ack, err := op(c.Request.Context(), activityID, messageID, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response.OK(c, ack)
}

func (h *Handler) ids(c *gin.Context) (activityID, userID uuid.UUID, ok bool) {
	activityID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid activity id")
		return uuid.Nil, uuid.Nil, false
	}
	userID = c.MustGet(middleware.ContextUserID).(uuid.UUID)
	return activityID, userID, true
}

func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		response.NotFound(c, "not found")
	case errors.Is(err, ErrAccessDenied):
		response.Forbidden(c, err.Error())
	case errors.Is(err, ErrEmptyMessage),
		errors.Is(err, ErrMessageTooLong),
		errors.Is(err, ErrInvalidReaction),
		errors.Is(err, ErrMessageNotInActivity):
		response.BadRequest(c, err.Error())
	default:
		response.Internal(c, "internal error")
	}
}
