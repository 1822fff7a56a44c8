package wa

import (
	"context"
	"database/sql"
	"errors"
)

type repo struct {
	db *sql.DB
}

func NewRepo(db *sql.DB) SessionRepo {
	return &repo{db: db}
}

func (r *repo) Get(ctx context.Context, userID string) (*SessionRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT user_id, session_id, message_count, last_interaction, last_prune_at
		FROM user_sessions
		WHERE user_id = $1
	`, userID)

	var rec SessionRecord
	var lastPrune sql.NullTime
	if err := row.Scan(
		&rec.UserID,
		&rec.SessionID,
		&rec.MessageCount,
		&rec.LastInteraction,
		&lastPrune,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if lastPrune.Valid {
		rec.LastPruneAt = &lastPrune.Time
	}
	return &rec, nil
}

func (r *repo) Upsert(ctx context.Context, rec *SessionRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_sessions (user_id, session_id, message_count, last_interaction, last_prune_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			session_id = EXCLUDED.session_id,
			message_count = EXCLUDED.message_count,
			last_interaction = EXCLUDED.last_interaction,
			last_prune_at = EXCLUDED.last_prune_at
	`,
		rec.UserID,
		rec.SessionID,
		rec.MessageCount,
		rec.LastInteraction,
		rec.LastPruneAt,
	)
	return err
}

func (r *repo) Delete(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM user_sessions WHERE user_id = $1
	`, userID)
	return err
}
