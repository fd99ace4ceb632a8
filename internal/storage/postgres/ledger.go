package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/IlyasAtabaev731/p2p-market/internal/domain/models"
	"github.com/IlyasAtabaev731/p2p-market/internal/storage"
)

var _ storage.TxRunner = (*Storage)(nil)

// RunInTx runs fn in a READ COMMITTED transaction with a bounded lock wait.
// Row locks taken through the LedgerTx serialize concurrent writers.
func (s *Storage) RunInTx(ctx context.Context, fn func(tx storage.LedgerTx) error) (err error) {
	const op = "storage.postgres.RunInTx"

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, mapError(err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	timeout := strconv.FormatInt(s.lockTimeout.Milliseconds(), 10) + "ms"
	if _, err = tx.ExecContext(ctx, `SELECT set_config('lock_timeout', $1, true)`, timeout); err != nil {
		return fmt.Errorf("%s: lock timeout: %w", op, mapError(err))
	}

	if err = fn(&ledgerTx{tx: tx}); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, mapError(err))
	}

	return nil
}

type ledgerTx struct {
	tx *sql.Tx
}

func (t *ledgerTx) LockUsers(ctx context.Context, ids []string) (map[string]models.User, error) {
	const op = "storage.postgres.LockUsers"

	users := make(map[string]models.User, len(ids))
	for _, id := range ids {
		row := t.tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id)

		user, err := scanUser(row)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, mapError(err))
		}
		users[id] = user
	}

	return users, nil
}

func (t *ledgerTx) AddBalance(ctx context.Context, userID string, delta int64) error {
	const op = "storage.postgres.AddBalance"

	res, err := t.tx.ExecContext(ctx, `UPDATE users SET balance = balance + $1 WHERE id = $2`, delta, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, mapError(err))
	}

	if n, err := res.RowsAffected(); err == nil && n != 1 {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	return nil
}

func (t *ledgerTx) AppendTransaction(ctx context.Context, rec models.Transaction) (models.Transaction, error) {
	const op = "storage.postgres.AppendTransaction"

	from := sql.NullString{String: rec.FromID, Valid: rec.FromID != ""}

	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO transactions (id, from_id, to_id, amount)
		VALUES ($1, $2, $3, $4)
		RETURNING seq, created_at`,
		rec.ID, from, rec.ToID, rec.Amount,
	).Scan(&rec.Seq, &rec.CreatedAt)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("%s: %w", op, mapError(err))
	}

	return rec, nil
}

func (s *Storage) TransactionsForUser(ctx context.Context, userID string, limit int) ([]models.Transaction, error) {
	const op = "storage.postgres.TransactionsForUser"

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, from_id, to_id, amount, created_at
		FROM transactions
		WHERE from_id = $1 OR to_id = $1
		ORDER BY seq DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		var (
			t    models.Transaction
			from sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.Seq, &from, &t.ToID, &t.Amount, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		t.FromID = from.String
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return txs, nil
}

// AuditBalances compares every cached balance with the net of its ledger rows.
func (s *Storage) AuditBalances(ctx context.Context) ([]models.BalanceMismatch, error) {
	const op = "storage.postgres.AuditBalances"

	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.balance, COALESCE(l.net, 0)
		FROM users u
		LEFT JOIN (
			SELECT user_id, SUM(delta) AS net FROM (
				SELECT to_id AS user_id, amount AS delta FROM transactions
				UNION ALL
				SELECT from_id, -amount FROM transactions WHERE from_id IS NOT NULL
			) legs
			GROUP BY user_id
		) l ON l.user_id = u.id
		WHERE u.balance <> COALESCE(l.net, 0)
		ORDER BY u.id`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var mismatches []models.BalanceMismatch
	for rows.Next() {
		var m models.BalanceMismatch
		if err := rows.Scan(&m.UserID, &m.Cached, &m.Derived); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		mismatches = append(mismatches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return mismatches, nil
}
