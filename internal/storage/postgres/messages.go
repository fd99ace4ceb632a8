package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/IlyasAtabaev731/p2p-market/internal/domain/models"
)

func (s *Storage) SaveMessage(ctx context.Context, msg models.Message) error {
	const op = "storage.postgres.SaveMessage"

	receiver := sql.NullString{String: msg.ReceiverID, Valid: msg.ReceiverID != ""}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, sender_id, receiver_id, content, sent_at)
		VALUES ($1, $2, $3, $4, $5)`,
		msg.ID, msg.SenderID, receiver, msg.Content, msg.SentAt,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
