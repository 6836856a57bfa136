package activities

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joinup-app/backend/internal/models"
)

// Repository handles activity persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an activity repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new activity.
func (r *Repository) Create(ctx context.Context, a *models.Activity) error {
	const q = `INSERT INTO activities (id, title, description, starts_at, location, address, capacity, category, tags, image_url, created_by)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, NULLIF($7,''), NULLIF($8,''), NULLIF($9,''), $10)
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, a.Title, a.Description, a.StartsAt, a.Location, a.Address, a.Capacity, a.Category, a.Tags, a.ImageURL, a.CreatedBy).
		Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
}

// GetByID returns an activity by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Activity, error) {
	const q = `SELECT id, title, description, starts_at, location, address, capacity,
		COALESCE(category,''), COALESCE(tags,''), COALESCE(image_url,''), created_by, created_at, updated_at
		FROM activities WHERE id = $1`
	var a models.Activity
	err := r.pool.QueryRow(ctx, q, id).Scan(&a.ID, &a.Title, &a.Description, &a.StartsAt, &a.Location, &a.Address,
		&a.Capacity, &a.Category, &a.Tags, &a.ImageURL, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// List returns activities ordered by start time, optionally filtered by creator or category.
func (r *Repository) List(ctx context.Context, createdBy *uuid.UUID, category string) ([]models.Activity, error) {
	base := `SELECT id, title, description, starts_at, location, address, capacity,
		COALESCE(category,''), COALESCE(tags,''), COALESCE(image_url,''), created_by, created_at, updated_at FROM activities`
	var args []interface{}
	var cond string
	if createdBy != nil {
		cond = " WHERE created_by = $1"
		args = append(args, *createdBy)
	}
	if category != "" {
		if cond == "" {
			cond = " WHERE category = $1"
		} else {
			cond += " AND category = $2"
		}
		args = append(args, category)
	}
	rows, err := r.pool.Query(ctx, base+cond+" ORDER BY starts_at DESC", args...)
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

// UpdateParams holds updatable activity fields. Nil pointers leave the column unchanged.
type UpdateParams struct {
	Title       *string
	Description *string
	StartsAt    *time.Time
	Location    *string
	Address     *string
	Capacity    *int
	Category    *string
	Tags        *string
}

// Update updates activity fields.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, p UpdateParams) error {
	const q = `UPDATE activities SET
		title = COALESCE($1, title),
		description = COALESCE($2, description),
		starts_at = COALESCE($3, starts_at),
		location = COALESCE($4, location),
		address = COALESCE($5, address),
		capacity = COALESCE($6, capacity),
		category = COALESCE($7, category),
		tags = COALESCE($8, tags),
		updated_at = NOW()
		WHERE id = $9`
	_, err := r.pool.Exec(ctx, q, p.Title, p.Description, p.StartsAt, p.Location, p.Address, p.Capacity, p.Category, p.Tags, id)
	return err
}

// SetImageURL stores the uploaded image URL for an activity.
func (r *Repository) SetImageURL(ctx context.Context, id uuid.UUID, url string) error {
	const q = `UPDATE activities SET image_url = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.pool.Exec(ctx, q, url, id)
	return err
}

// Delete removes an activity by ID.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	const q = `DELETE FROM activities WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id)
	return err
}
