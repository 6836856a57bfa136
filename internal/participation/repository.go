package participation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joinup-app/backend/internal/models"
)

// Repository handles participation persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a participation repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get returns the participation for (activity, user).
func (r *Repository) Get(ctx context.Context, activityID, userID uuid.UUID) (*models.Participation, error) {
	const q = `SELECT id, activity_id, user_id, status, requested_at, responded_at, denial_count
		FROM participations WHERE activity_id = $1 AND user_id = $2`
	var p models.Participation
	err := r.pool.QueryRow(ctx, q, activityID, userID).
		Scan(&p.ID, &p.ActivityID, &p.UserID, &p.Status, &p.RequestedAt, &p.RespondedAt, &p.DenialCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// Create inserts a new participation row.
func (r *Repository) Create(ctx context.Context, p *models.Participation) error {
	const q = `INSERT INTO participations (id, activity_id, user_id, status, requested_at, responded_at, denial_count)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6)
		RETURNING id`
	return r.pool.QueryRow(ctx, q, p.ActivityID, p.UserID, p.Status, p.RequestedAt, p.RespondedAt, p.DenialCount).
		Scan(&p.ID)
}

// Update writes status, timestamps and denial count for an existing row.
func (r *Repository) Update(ctx context.Context, p *models.Participation) error {
	const q = `UPDATE participations
		SET status = $2, requested_at = $3, responded_at = $4, denial_count = $5
		WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, p.ID, p.Status, p.RequestedAt, p.RespondedAt, p.DenialCount)
	return err
}

// ApproveWithinCapacity approves the participation inside a transaction that
// locks the activity row, so concurrent approvals cannot exceed capacity.
func (r *Repository) ApproveWithinCapacity(ctx context.Context, activityID, userID uuid.UUID, now time.Time) (*models.Participation, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var capacity int
	err = tx.QueryRow(ctx, `SELECT capacity FROM activities WHERE id = $1 FOR UPDATE`, activityID).Scan(&capacity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}

	// Re-read the row under the lock: a duplicate approve that raced past the
	// service-level no-op check must not count against capacity.
	const sel = `SELECT id, activity_id, user_id, status, requested_at, responded_at, denial_count
		FROM participations WHERE activity_id = $1 AND user_id = $2 FOR UPDATE`
	var p models.Participation
	err = tx.QueryRow(ctx, sel, activityID, userID).
		Scan(&p.ID, &p.ActivityID, &p.UserID, &p.Status, &p.RequestedAt, &p.RespondedAt, &p.DenialCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	if p.Status == models.ParticipationApproved {
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		return &p, nil
	}

	var approved int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM participations WHERE activity_id = $1 AND status = $2`,
		activityID, models.ParticipationApproved).Scan(&approved)
	if err != nil {
		return nil, err
	}
	if approved >= capacity {
		return nil, ErrCapacityExceeded
	}

	const q = `UPDATE participations SET status = $3, responded_at = $4
		WHERE activity_id = $1 AND user_id = $2
		RETURNING id, activity_id, user_id, status, requested_at, responded_at, denial_count`
	err = tx.QueryRow(ctx, q, activityID, userID, models.ParticipationApproved, now).
		Scan(&p.ID, &p.ActivityID, &p.UserID, &p.Status, &p.RequestedAt, &p.RespondedAt, &p.DenialCount)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListByStatus returns participations with the given status joined with user
// details, in request order.
func (r *Repository) ListByStatus(ctx context.Context, activityID uuid.UUID, status models.ParticipationStatus) ([]models.ParticipantView, error) {
	const q = `SELECT p.id, p.activity_id, p.user_id, u.full_name, COALESCE(u.avatar_url,''), p.status, p.requested_at
		FROM participations p
		JOIN users u ON u.id = p.user_id
		WHERE p.activity_id = $1 AND p.status = $2
		ORDER BY p.requested_at ASC`
	rows, err := r.pool.Query(ctx, q, activityID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	views := []models.ParticipantView{}
	for rows.Next() {
		var v models.ParticipantView
		if err := rows.Scan(&v.ID, &v.ActivityID, &v.UserID, &v.FullName, &v.AvatarURL, &v.Status, &v.RequestedAt); err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, rows.Err()
}

// ListApprovedActivities returns activities the user was approved for, most
// recent request first.
func (r *Repository) ListApprovedActivities(ctx context.Context, userID uuid.UUID) ([]models.Activity, error) {
	const q = `SELECT a.id, a.title, a.description, a.starts_at, a.location, a.address, a.capacity,
		COALESCE(a.category,''), COALESCE(a.tags,''), COALESCE(a.image_url,''), a.created_by, a.created_at, a.updated_at
		FROM participations p
		JOIN activities a ON a.id = p.activity_id
		WHERE p.user_id = $1 AND p.status = $2
		ORDER BY p.requested_at DESC`
	rows, err := r.pool.Query(ctx, q, userID, models.ParticipationApproved)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Activity
	for rows.Next() {
		var a models.Activity
		if err := rows.Scan(&a.ID, &a.Title, &a.Description, &a.StartsAt, &a.Location, &a.Address,
			&a.Capacity, &a.Category, &a.Tags, &a.ImageURL, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}
