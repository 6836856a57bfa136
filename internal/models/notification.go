package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// NotificationType identifies the notification kind.
type NotificationType string

const (
	NotificationRequestReceived NotificationType = "request_received"
	NotificationRequestApproved NotificationType = "request_approved"
	NotificationRequestRejected NotificationType = "request_rejected"
	NotificationExcluded        NotificationType = "excluded"
	NotificationBlocked         NotificationType = "blocked"
)

// Notification is an in-app notification for a user.
type Notification struct {
	ID        uuid.UUID        `json:"id"`
	UserID    uuid.UUID        `json:"user_id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	Data      json.RawMessage  `json:"data,omitempty"`
	ReadAt    *time.Time       `json:"read_at,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}
