package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/IlyasAtabaev731/p2p-market/internal/domain/models"
	"github.com/IlyasAtabaev731/p2p-market/internal/storage"
)

func (s *Storage) SaveSession(ctx context.Context, session models.Session) error {
	const op = "storage.postgres.SaveSession"

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4)`,
		session.ID, session.UserID, session.CreatedAt, session.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) SessionByID(ctx context.Context, id string) (models.Session, error) {
	const op = "storage.postgres.SessionByID"

	var (
		session models.Session
		revoked sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, created_at, expires_at, revoked_at
		FROM sessions
		WHERE id = $1`, id,
	).Scan(&session.ID, &session.UserID, &session.CreatedAt, &session.ExpiresAt, &revoked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Session{}, fmt.Errorf("%s: %w", op, storage.ErrSessionNotFound)
		}
		return models.Session{}, fmt.Errorf("%s: %w", op, err)
	}

	if revoked.Valid {
		at := revoked.Time
		session.RevokedAt = &at
	}

	return session, nil
}

func (s *Storage) RevokeSession(ctx context.Context, id string, at time.Time) error {
	const op = "storage.postgres.RevokeSession"

	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET revoked_at = $1
		WHERE id = $2 AND revoked_at IS NULL`, at, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// PurgeSessions deletes sessions that expired or were revoked before cutoff.
func (s *Storage) PurgeSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	const op = "storage.postgres.PurgeSessions"

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM sessions
		WHERE expires_at < $1 OR revoked_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	n, _ := res.RowsAffected()
	return n, nil
}
