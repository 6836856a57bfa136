package models

import (
	"time"

	"github.com/google/uuid"
)

// Activity represents a community activity organized by a user.
type Activity struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	StartsAt    time.Time `json:"starts_at"`
	Location    string    `json:"location"`
	Address     string    `json:"address"`
	Capacity    int       `json:"capacity"`
	Category    string    `json:"category,omitempty"`
	Tags        string    `json:"tags,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	CreatedBy   uuid.UUID `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
