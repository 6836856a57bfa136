package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/joinup-app/backend/internal/models"
	"github.com/joinup-app/backend/pkg/queue"
)

// Users resolves user records for notification delivery.
type Users interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Notifier writes in-app notifications and enqueues email jobs for
// participation events. Failures are logged, never surfaced: a lost
// notification must not fail the operation that triggered it.
type Notifier struct {
	repo   *Repository
	users  Users
	queue  *queue.Queue
	logger *zap.Logger
}

// NewNotifier creates a participation notifier. queue may be nil to disable emails.
func NewNotifier(repo *Repository, users Users, q *queue.Queue, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{repo: repo, users: users, queue: q, logger: logger}
}

// RequestReceived notifies the organizer about a new participation request.
func (n *Notifier) RequestReceived(ctx context.Context, activity *models.Activity, requesterID uuid.UUID) {
	requester, err := n.users.GetByID(ctx, requesterID)
	name := "Someone"
	if err == nil {
		name = requester.FullName
	}
	n.deliver(ctx, activity, activity.CreatedBy, models.NotificationRequestReceived,
		"New participation request",
		fmt.Sprintf("%s wants to join %q", name, activity.Title))
}

// Decision notifies a user about the organizer's decision on their participation.
func (n *Notifier) Decision(ctx context.Context, activity *models.Activity, userID uuid.UUID, status models.ParticipationStatus) {
	var typ models.NotificationType
	var title, body string
	switch status {
	case models.ParticipationApproved:
		typ = models.NotificationRequestApproved
		title = "Request approved"
		body = fmt.Sprintf("You are in! Your request to join %q was approved", activity.Title)
	case models.ParticipationRejected:
		typ = models.NotificationRequestRejected
		title = "Request declined"
		body = fmt.Sprintf("Your request to join %q was declined", activity.Title)
	case models.ParticipationExcluded:
		typ = models.NotificationExcluded
		title = "Removed from activity"
		body = fmt.Sprintf("You were removed from %q", activity.Title)
	case models.ParticipationBlocked:
		typ = models.NotificationBlocked
		title = "Participation closed"
		body = fmt.Sprintf("You can no longer join %q", activity.Title)
	default:
		return
	}
	n.deliver(ctx, activity, userID, typ, title, body)
}

func (n *Notifier) deliver(ctx context.Context, activity *models.Activity, userID uuid.UUID, typ models.NotificationType, title, body string) {
	data, _ := json.Marshal(map[string]string{"activity_id": activity.ID.String()})
	notification := &models.Notification{
		UserID: userID,
		Type:   typ,
		Title:  title,
		Body:   body,
		Data:   data,
	}
	if err := n.repo.Create(ctx, notification); err != nil {
		n.logger.Error("notification insert failed",
			zap.String("type", string(typ)),
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
	}

	if n.queue == nil {
		return
	}
	user, err := n.users.GetByID(ctx, userID)
	if err != nil {
		n.logger.Warn("notification email skipped, user lookup failed",
			zap.String("user_id", userID.String()), zap.Error(err))
		return
	}
	err = n.queue.EnqueueEmail(ctx, queue.EmailPayload{
		EmailType:      string(typ),
		ActivityID:     activity.ID,
		RecipientEmail: user.Email,
		Subject:        title,
		BodyHTML:       fmt.Sprintf("<p>Hi %s,</p><p>%s.</p>", user.FullName, body),
	})
	if err != nil {
		n.logger.Error("notification email enqueue failed",
			zap.String("type", string(typ)),
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
	}
}
