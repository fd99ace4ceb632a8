// Package ledger moves balance between users. Every transfer locks both
// balance rows in id order, checks funds, mutates both balances and appends
// one immutable ledger row inside a single storage transaction.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/IlyasAtabaev731/p2p-market/internal/domain/models"
	"github.com/IlyasAtabaev731/p2p-market/internal/metrics"
	"github.com/IlyasAtabaev731/p2p-market/internal/storage"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrSelfTransfer      = errors.New("cannot transfer to yourself")
	ErrNonPositiveAmount = errors.New("amount must be positive")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUserBlocked       = errors.New("user is blocked")
	ErrStorageConflict   = errors.New("ledger is busy, try again")
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 100
)

type Store interface {
	storage.TxRunner
	TransactionsForUser(ctx context.Context, userID string, limit int) ([]models.Transaction, error)
	AuditBalances(ctx context.Context) ([]models.BalanceMismatch, error)
}

type Engine struct {
	log         *slog.Logger
	store       Store
	maxAttempts uint
	retryDelay  time.Duration
}

func New(log *slog.Logger, store Store, maxAttempts uint) *Engine {
	if maxAttempts == 0 {
		maxAttempts = 1
	}
	return &Engine{
		log:         log,
		store:       store,
		maxAttempts: maxAttempts,
		retryDelay:  20 * time.Millisecond,
	}
}

// Transfer moves amount from fromID to toID. fromID must be the identity of
// the authenticated caller. Lock contention is retried a bounded number of
// times before ErrStorageConflict is returned.
func (e *Engine) Transfer(ctx context.Context, fromID, toID string, amount int64) (models.Transaction, error) {
	const op = "ledger.Transfer"

	log := e.log.With(
		slog.String("op", op),
		slog.String("from", fromID),
		slog.String("to", toID),
		slog.Int64("amount", amount),
	)

	if amount <= 0 {
		metrics.RecordTransfer("non_positive")
		return models.Transaction{}, ErrNonPositiveAmount
	}
	if fromID == toID {
		metrics.RecordTransfer("self_transfer")
		return models.Transaction{}, ErrSelfTransfer
	}
	from, fromOK := models.CanonicalID(fromID)
	to, toOK := models.CanonicalID(toID)
	if !fromOK || !toOK {
		metrics.RecordTransfer("not_found")
		return models.Transaction{}, ErrUserNotFound
	}
	if from == to {
		metrics.RecordTransfer("self_transfer")
		return models.Transaction{}, ErrSelfTransfer
	}
	fromID, toID = from, to

	rec, err := e.withRetry(ctx, func() (models.Transaction, error) {
		return e.transfer(ctx, fromID, toID, amount)
	})
	if err != nil {
		metrics.RecordTransfer(resultLabel(err))
		if errors.Is(err, ErrStorageConflict) {
			log.Warn("transfer gave up on lock contention", slog.String("error", err.Error()))
		} else if !isDomainError(err) {
			log.Error("transfer failed", slog.String("error", err.Error()))
		}
		return models.Transaction{}, err
	}

	metrics.RecordTransfer("ok")
	log.Info("transfer committed", slog.String("tx_id", rec.ID), slog.Int64("seq", rec.Seq))

	return rec, nil
}

func (e *Engine) transfer(ctx context.Context, fromID, toID string, amount int64) (models.Transaction, error) {
	ids := []string{fromID, toID}
	sort.Strings(ids)

	var rec models.Transaction
	err := e.store.RunInTx(ctx, func(tx storage.LedgerTx) error {
		users, err := tx.LockUsers(ctx, ids)
		if err != nil {
			return err
		}

		from, ok := users[fromID]
		if !ok {
			return ErrUserNotFound
		}
		to, ok := users[toID]
		if !ok {
			return ErrUserNotFound
		}
		if from.Blocked || to.Blocked {
			return ErrUserBlocked
		}
		if from.Balance < amount {
			return ErrInsufficientFunds
		}

		if err := tx.AddBalance(ctx, fromID, -amount); err != nil {
			return err
		}
		if err := tx.AddBalance(ctx, toID, amount); err != nil {
			return err
		}

		rec, err = tx.AppendTransaction(ctx, models.Transaction{
			ID:     uuid.NewString(),
			FromID: fromID,
			ToID:   toID,
			Amount: amount,
		})
		return err
	})
	if errors.Is(err, storage.ErrNegativeBalance) {
		return models.Transaction{}, ErrInsufficientFunds
	}

	return rec, err
}

// Issue credits amount to toID with a ledger row that has no sender. It is
// the only path through which balance enters the system.
func (e *Engine) Issue(ctx context.Context, toID string, amount int64) (models.Transaction, error) {
	const op = "ledger.Issue"

	if amount <= 0 {
		return models.Transaction{}, ErrNonPositiveAmount
	}
	toID, ok := models.CanonicalID(toID)
	if !ok {
		return models.Transaction{}, ErrUserNotFound
	}

	rec, err := e.withRetry(ctx, func() (models.Transaction, error) {
		var rec models.Transaction
		err := e.store.RunInTx(ctx, func(tx storage.LedgerTx) error {
			users, err := tx.LockUsers(ctx, []string{toID})
			if err != nil {
				return err
			}
			if _, ok := users[toID]; !ok {
				return ErrUserNotFound
			}

			if err := tx.AddBalance(ctx, toID, amount); err != nil {
				return err
			}

			rec, err = tx.AppendTransaction(ctx, models.Transaction{
				ID:     uuid.NewString(),
				ToID:   toID,
				Amount: amount,
			})
			return err
		})
		return rec, err
	})
	if err != nil {
		if !isDomainError(err) {
			e.log.Error("issue failed", slog.String("op", op), slog.String("to", toID), slog.String("error", err.Error()))
		}
		return models.Transaction{}, err
	}

	e.log.Info("balance issued", slog.String("op", op), slog.String("to", toID), slog.Int64("amount", amount))

	return rec, nil
}

// withRetry runs fn until it succeeds, fails permanently, or the attempt
// budget is spent. Only storage conflicts are retried.
func (e *Engine) withRetry(ctx context.Context, fn func() (models.Transaction, error)) (models.Transaction, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.retryDelay
	b.MaxInterval = 10 * e.retryDelay

	rec, err := backoff.Retry(ctx, func() (models.Transaction, error) {
		rec, err := fn()
		if err == nil {
			return rec, nil
		}
		if errors.Is(err, storage.ErrConflict) {
			metrics.RecordTransferRetry()
			return models.Transaction{}, err
		}
		return models.Transaction{}, backoff.Permanent(err)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(e.maxAttempts))
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return models.Transaction{}, fmt.Errorf("%w: %w", ErrStorageConflict, err)
		}
		return models.Transaction{}, err
	}

	return rec, nil
}

// History returns the newest ledger rows where userID is either party.
func (e *Engine) History(ctx context.Context, userID string, limit int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	txs, err := e.store.TransactionsForUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger.History: %w", err)
	}
	return txs, nil
}

// Audit reports users whose cached balance differs from their ledger net.
func (e *Engine) Audit(ctx context.Context) ([]models.BalanceMismatch, error) {
	mismatches, err := e.store.AuditBalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger.Audit: %w", err)
	}

	for _, m := range mismatches {
		e.log.Error("balance diverges from ledger",
			slog.String("user_id", m.UserID),
			slog.Int64("cached", m.Cached),
			slog.Int64("derived", m.Derived),
		)
	}

	return mismatches, nil
}

func isDomainError(err error) bool {
	for _, target := range []error{
		ErrUserNotFound, ErrSelfTransfer, ErrNonPositiveAmount, ErrInsufficientFunds, ErrUserBlocked,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrUserNotFound):
		return "not_found"
	case errors.Is(err, ErrUserBlocked):
		return "blocked"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrStorageConflict):
		return "conflict"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
