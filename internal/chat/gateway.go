package chat

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrBadMessageID is returned for frames carrying an unparseable message ID.
var ErrBadMessageID = errors.New("invalid message id")

// Gateway adapts the chat service for WebSocket clients: frame payloads carry
// string IDs, and fan-out happens through the service's publisher, so handlers
// here only validate and apply.
type Gateway struct {
	svc *Service
}

// NewGateway creates a WebSocket chat gateway.
func NewGateway(svc *Service) *Gateway {
	return &Gateway{svc: svc}
}

// CanAccess reports whether the user may join the activity's chat room.
func (g *Gateway) CanAccess(ctx context.Context, activityID, userID uuid.UUID) (bool, error) {
	return g.svc.CanAccess(ctx, activityID, userID)
}

// HandleChatMessage stores and fans out an incoming chat message.
func (g *Gateway) HandleChatMessage(ctx context.Context, activityID, userID uuid.UUID, content string) error {
	_, err := g.svc.SendMessage(ctx, activityID, userID, content)
	return err
}

// HandleDelivered records a delivery ack.
func (g *Gateway) HandleDelivered(ctx context.Context, activityID, userID uuid.UUID, messageID string) error {
	id, err := uuid.Parse(messageID)
	if err != nil {
		return ErrBadMessageID
	}
	_, err = g.svc.MarkDelivered(ctx, activityID, id, userID)
	return err
}

// HandleSeen records a seen ack and fans out the updated counts.
func (g *Gateway) HandleSeen(ctx context.Context, activityID, userID uuid.UUID, messageID string) error {
	id, err := uuid.Parse(messageID)
	if err != nil {
		return ErrBadMessageID
	}
	_, err = g.svc.MarkSeen(ctx, activityID, id, userID)
	return err
}

// HandleReaction toggles a reaction and fans out the updated state.
func (g *Gateway) HandleReaction(ctx context.Context, activityID, userID uuid.UUID, messageID, reaction string) error {
	id, err := uuid.Parse(messageID)
	if err != nil {
		return ErrBadMessageID
	}
	_, err = g.svc.ToggleReaction(ctx, activityID, id, userID, reaction)
	return err
}
