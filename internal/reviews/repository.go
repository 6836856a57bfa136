package reviews

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joinup-app/backend/internal/models"
)

// Repository handles user review persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a review repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Upsert writes the reviewer's review of a user. A second review by the same
// reviewer replaces the first.
func (r *Repository) Upsert(ctx context.Context, rev *models.UserReview) error {
	const q = `INSERT INTO user_reviews (id, reviewer_id, reviewed_user_id, rating, feedback)
		VALUES (gen_random_uuid(), $1, $2, $3, $4)
		ON CONFLICT (reviewer_id, reviewed_user_id)
		DO UPDATE SET rating = EXCLUDED.rating, feedback = EXCLUDED.feedback, created_at = NOW()
		RETURNING id, created_at`
	return r.pool.QueryRow(ctx, q, rev.ReviewerID, rev.ReviewedUserID, rev.Rating, rev.Feedback).
		Scan(&rev.ID, &rev.CreatedAt)
}

// ListForUser returns reviews received by a user, newest first.
func (r *Repository) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.UserReview, error) {
	const q = `SELECT r.id, r.reviewer_id, u.full_name, r.reviewed_user_id, r.rating, r.feedback, r.created_at
		FROM user_reviews r
		JOIN users u ON u.id = r.reviewer_id
		WHERE r.reviewed_user_id = $1
		ORDER BY r.created_at DESC`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []models.UserReview{}
	for rows.Next() {
		var rev models.UserReview
		if err := rows.Scan(&rev.ID, &rev.ReviewerID, &rev.ReviewerName, &rev.ReviewedUserID, &rev.Rating, &rev.Feedback, &rev.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, rev)
	}
	return list, rows.Err()
}

// Summary returns the average rating and review count for a user.
func (r *Repository) Summary(ctx context.Context, userID uuid.UUID) (*models.ReviewSummary, error) {
	const q = `SELECT COALESCE(AVG(rating), 0), COUNT(*) FROM user_reviews WHERE reviewed_user_id = $1`
	var s models.ReviewSummary
	err := r.pool.QueryRow(ctx, q, userID).Scan(&s.AverageRating, &s.ReviewCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &models.ReviewSummary{}, nil
		}
		return nil, err
	}
	return &s, nil
}

// Delete removes the reviewer's review of a user.
func (r *Repository) Delete(ctx context.Context, reviewerID, reviewedUserID uuid.UUID) error {
	const q = `DELETE FROM user_reviews WHERE reviewer_id = $1 AND reviewed_user_id = $2`
	tag, err := r.pool.Exec(ctx, q, reviewerID, reviewedUserID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
