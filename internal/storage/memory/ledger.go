package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/IlyasAtabaev731/p2p-market/internal/domain/models"
	"github.com/IlyasAtabaev731/p2p-market/internal/storage"
)

// RunInTx serializes ledger transactions behind a single write scope. Changes
// are staged on the transaction and applied only when fn succeeds.
func (s *Storage) RunInTx(ctx context.Context, fn func(tx storage.LedgerTx) error) error {
	const op = "storage.memory.RunInTx"

	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()

	select {
	case s.txLock <- struct{}{}:
	case <-timer.C:
		return fmt.Errorf("%s: %w", op, storage.ErrConflict)
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
	defer func() { <-s.txLock }()

	tx := &ledgerTx{
		s:      s,
		deltas: make(map[string]int64),
	}
	if err := fn(tx); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.commit(tx)
	return nil
}

func (s *Storage) commit(tx *ledgerTx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, delta := range tx.deltas {
		user := s.users[id]
		user.Balance += delta
		s.users[id] = user
	}
	if n := len(tx.appended); n > 0 {
		s.ledger = append(s.ledger, tx.appended...)
		s.seq = tx.appended[n-1].Seq
	}
}

type ledgerTx struct {
	s        *Storage
	deltas   map[string]int64
	appended []models.Transaction
}

func (t *ledgerTx) LockUsers(_ context.Context, ids []string) (map[string]models.User, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	users := make(map[string]models.User, len(ids))
	for _, id := range ids {
		user, ok := t.s.users[id]
		if !ok {
			continue
		}
		user.Balance += t.deltas[id]
		users[id] = user
	}
	return users, nil
}

func (t *ledgerTx) AddBalance(_ context.Context, userID string, delta int64) error {
	const op = "storage.memory.AddBalance"

	t.s.mu.RLock()
	user, ok := t.s.users[userID]
	t.s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}
	if user.Balance+t.deltas[userID]+delta < 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNegativeBalance)
	}

	t.deltas[userID] += delta
	return nil
}

func (t *ledgerTx) AppendTransaction(_ context.Context, rec models.Transaction) (models.Transaction, error) {
	const op = "storage.memory.AppendTransaction"

	t.s.mu.RLock()
	_, toOK := t.s.users[rec.ToID]
	_, fromOK := t.s.users[rec.FromID]
	seq := t.s.seq
	t.s.mu.RUnlock()

	if !toOK || (rec.FromID != "" && !fromOK) {
		return models.Transaction{}, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}
	if rec.Amount <= 0 || rec.FromID == rec.ToID {
		return models.Transaction{}, fmt.Errorf("%s: invalid ledger row", op)
	}

	rec.Seq = seq + int64(len(t.appended)) + 1
	rec.CreatedAt = now()
	t.appended = append(t.appended, rec)

	return rec, nil
}

func (s *Storage) TransactionsForUser(_ context.Context, userID string, limit int) ([]models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var txs []models.Transaction
	for i := len(s.ledger) - 1; i >= 0 && len(txs) < limit; i-- {
		t := s.ledger[i]
		if t.FromID == userID || t.ToID == userID {
			txs = append(txs, t)
		}
	}
	return txs, nil
}

func (s *Storage) AuditBalances(context.Context) ([]models.BalanceMismatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	net := make(map[string]int64, len(s.users))
	for _, t := range s.ledger {
		net[t.ToID] += t.Amount
		if t.FromID != "" {
			net[t.FromID] -= t.Amount
		}
	}

	var mismatches []models.BalanceMismatch
	for _, id := range s.userOrder {
		if u := s.users[id]; u.Balance != net[id] {
			mismatches = append(mismatches, models.BalanceMismatch{UserID: id, Cached: u.Balance, Derived: net[id]})
		}
	}
	return mismatches, nil
}

// Ledger returns a copy of every ledger row in commit order.
func (s *Storage) Ledger() []models.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]models.Transaction(nil), s.ledger...)
}
