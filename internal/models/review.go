package models

import (
	"time"

	"github.com/google/uuid"
)

// UserReview is a rating left by one user on another's profile. One review per
// (reviewer, reviewed) pair.
type UserReview struct {
	ID             uuid.UUID `json:"id"`
	ReviewerID     uuid.UUID `json:"reviewer_id"`
	ReviewerName   string    `json:"reviewer_name,omitempty"`
	ReviewedUserID uuid.UUID `json:"reviewed_user_id"`
	Rating         int       `json:"rating"`
	Feedback       string    `json:"feedback"`
	CreatedAt      time.Time `json:"created_at"`
}

// ReviewSummary aggregates a user's received reviews.
type ReviewSummary struct {
	AverageRating float64 `json:"average_rating"`
	ReviewCount   int     `json:"review_count"`
}
