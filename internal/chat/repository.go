package chat

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joinup-app/backend/internal/models"
)

// Repository handles chat persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a chat repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertMessage stores the message and fills ID, CreatedAt and SenderName.
func (r *Repository) InsertMessage(ctx context.Context, m *models.Message) error {
	const q = `WITH ins AS (
			INSERT INTO messages (id, activity_id, sender_id, content, created_at)
			VALUES (gen_random_uuid(), $1, $2, $3, $4)
			RETURNING id, sender_id, created_at
		)
		SELECT ins.id, ins.created_at, u.full_name FROM ins JOIN users u ON u.id = ins.sender_id`
	return r.pool.QueryRow(ctx, q, m.ActivityID, m.SenderID, m.Content, m.CreatedAt).
		Scan(&m.ID, &m.CreatedAt, &m.SenderName)
}

// GetMessage returns a message by ID with sender name.
func (r *Repository) GetMessage(ctx context.Context, messageID uuid.UUID) (*models.Message, error) {
	const q = `SELECT m.id, m.activity_id, m.sender_id, u.full_name, m.content, m.created_at
		FROM messages m JOIN users u ON u.id = m.sender_id
		WHERE m.id = $1`
	var m models.Message
	err := r.pool.QueryRow(ctx, q, messageID).
		Scan(&m.ID, &m.ActivityID, &m.SenderID, &m.SenderName, &m.Content, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// ListRecent returns up to limit messages for the activity, newest first.
func (r *Repository) ListRecent(ctx context.Context, activityID uuid.UUID, limit int) ([]models.Message, error) {
	const q = `SELECT m.id, m.activity_id, m.sender_id, u.full_name, m.content, m.created_at
		FROM messages m JOIN users u ON u.id = m.sender_id
		WHERE m.activity_id = $1
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $2`
	rows, err := r.pool.Query(ctx, q, activityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// MessagesByIDs returns messages matching ids that belong to the activity.
func (r *Repository) MessagesByIDs(ctx context.Context, activityID uuid.UUID, ids []uuid.UUID) ([]models.Message, error) {
	const q = `SELECT m.id, m.activity_id, m.sender_id, u.full_name, m.content, m.created_at
		FROM messages m JOIN users u ON u.id = m.sender_id
		WHERE m.activity_id = $1 AND m.id = ANY($2)`
	rows, err := r.pool.Query(ctx, q, activityID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows pgx.Rows) ([]models.Message, error) {
	var list []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ActivityID, &m.SenderID, &m.SenderName, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

// MarkDelivered records a delivery ack if absent.
func (r *Repository) MarkDelivered(ctx context.Context, messageID, userID uuid.UUID, at time.Time) (bool, error) {
	const q = `INSERT INTO message_delivered (message_id, user_id, delivered_at) VALUES ($1, $2, $3)
		ON CONFLICT (message_id, user_id) DO NOTHING`
	tag, err := r.pool.Exec(ctx, q, messageID, userID, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkSeen records delivery and seen acks if absent.
func (r *Repository) MarkSeen(ctx context.Context, messageID, userID uuid.UUID, at time.Time) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `INSERT INTO message_delivered (message_id, user_id, delivered_at) VALUES ($1, $2, $3)
		ON CONFLICT (message_id, user_id) DO NOTHING`, messageID, userID, at)
	if err != nil {
		return false, err
	}
	tag, err := tx.Exec(ctx, `INSERT INTO message_seen (message_id, user_id, seen_at) VALUES ($1, $2, $3)
		ON CONFLICT (message_id, user_id) DO NOTHING`, messageID, userID, at)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// CountAcks returns delivery acknowledgement counts excluding each message's sender.
func (r *Repository) CountAcks(ctx context.Context, messageIDs []uuid.UUID) (map[uuid.UUID]AckCounts, error) {
	const q = `SELECT m.id,
			COUNT(DISTINCT d.user_id) FILTER (WHERE d.user_id <> m.sender_id),
			COUNT(DISTINCT s.user_id) FILTER (WHERE s.user_id <> m.sender_id)
		FROM messages m
		LEFT JOIN message_delivered d ON d.message_id = m.id
		LEFT JOIN message_seen s ON s.message_id = m.id
		WHERE m.id = ANY($1)
		GROUP BY m.id`
	rows, err := r.pool.Query(ctx, q, messageIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID]AckCounts, len(messageIDs))
	for rows.Next() {
		var id uuid.UUID
		var c AckCounts
		if err := rows.Scan(&id, &c.Delivered, &c.Seen); err != nil {
			return nil, err
		}
		out[id] = c
	}
	return out, rows.Err()
}

// ToggleReaction applies the toggle inside a transaction that locks the
// user's reaction row, so concurrent toggles resolve to one reaction at most.
func (r *Repository) ToggleReaction(ctx context.Context, messageID, userID uuid.UUID, reaction models.ReactionType, at time.Time) (*models.ReactionType, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var current models.ReactionType
	err = tx.QueryRow(ctx,
		`SELECT reaction_type FROM message_reactions WHERE message_id = $1 AND user_id = $2 FOR UPDATE`,
		messageID, userID).Scan(&current)

	var result *models.ReactionType
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		_, err = tx.Exec(ctx,
			`INSERT INTO message_reactions (message_id, user_id, reaction_type, reacted_at) VALUES ($1, $2, $3, $4)
			ON CONFLICT (message_id, user_id) DO UPDATE SET reaction_type = EXCLUDED.reaction_type, reacted_at = EXCLUDED.reacted_at`,
			messageID, userID, reaction, at)
		if err != nil {
			return nil, err
		}
		result = &reaction
	case err != nil:
		return nil, err
	case current == reaction:
		_, err = tx.Exec(ctx,
			`DELETE FROM message_reactions WHERE message_id = $1 AND user_id = $2`, messageID, userID)
		if err != nil {
			return nil, err
		}
		result = nil
	default:
		_, err = tx.Exec(ctx,
			`UPDATE message_reactions SET reaction_type = $3, reacted_at = $4 WHERE message_id = $1 AND user_id = $2`,
			messageID, userID, reaction, at)
		if err != nil {
			return nil, err
		}
		result = &reaction
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return result, nil
}

// CountReactions returns reaction counts per type for each message.
func (r *Repository) CountReactions(ctx context.Context, messageIDs []uuid.UUID) (map[uuid.UUID]map[models.ReactionType]int, error) {
	const q = `SELECT message_id, reaction_type, COUNT(*)
		FROM message_reactions
		WHERE message_id = ANY($1)
		GROUP BY message_id, reaction_type`
	rows, err := r.pool.Query(ctx, q, messageIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID]map[models.ReactionType]int)
	for rows.Next() {
		var id uuid.UUID
		var rt models.ReactionType
		var count int
		if err := rows.Scan(&id, &rt, &count); err != nil {
			return nil, err
		}
		if out[id] == nil {
			out[id] = make(map[models.ReactionType]int)
		}
		out[id][rt] = count
	}
	return out, rows.Err()
}

// ViewerReactions returns the viewer's own reaction per message, if any.
func (r *Repository) ViewerReactions(ctx context.Context, messageIDs []uuid.UUID, viewerID uuid.UUID) (map[uuid.UUID]models.ReactionType, error) {
	const q = `SELECT message_id, reaction_type FROM message_reactions
		WHERE message_id = ANY($1) AND user_id = $2`
	rows, err := r.pool.Query(ctx, q, messageIDs, viewerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID]models.ReactionType)
	for rows.Next() {
		var id uuid.UUID
		var rt models.ReactionType
		if err := rows.Scan(&id, &rt); err != nil {
			return nil, err
		}
		out[id] = rt
	}
	return out, rows.Err()
}

// SeenUsers returns non-sender seen acks with user names, earliest first.
func (r *Repository) SeenUsers(ctx context.Context, messageID uuid.UUID) ([]models.SeenUser, error) {
	const q = `SELECT s.user_id, u.full_name, s.seen_at
		FROM message_seen s
		JOIN users u ON u.id = s.user_id
		JOIN messages m ON m.id = s.message_id
		WHERE s.message_id = $1 AND s.user_id <> m.sender_id
		ORDER BY s.seen_at ASC`
	rows, err := r.pool.Query(ctx, q, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seen := []models.SeenUser{}
	for rows.Next() {
		var su models.SeenUser
		if err := rows.Scan(&su.UserID, &su.FullName, &su.SeenAt); err != nil {
			return nil, err
		}
		seen = append(seen, su)
	}
	return seen, rows.Err()
}
