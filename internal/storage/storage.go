// Package storage holds the errors and transactional contracts shared by the
// postgres and memory backends.
package storage

import (
	"context"
	"errors"

	"github.com/IlyasAtabaev731/p2p-market/internal/domain/models"
)

var (
	ErrUserExists      = errors.New("user already exists")
	ErrUserNotFound    = errors.New("user not found")
	ErrProductNotFound = errors.New("product not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrNegativeBalance = errors.New("balance would become negative")
	ErrConflict        = errors.New("storage conflict")
)

// LedgerTx is the write scope handed to a ledger transaction. Every call made
// through it commits or rolls back together.
type LedgerTx interface {
	// LockUsers takes exclusive locks on the given users in the order given
	// and returns the rows found. Missing ids are absent from the result.
	LockUsers(ctx context.Context, ids []string) (map[string]models.User, error)
	AddBalance(ctx context.Context, userID string, delta int64) error
	AppendTransaction(ctx context.Context, t models.Transaction) (models.Transaction, error)
}

// TxRunner runs fn inside a single atomic unit. If fn returns an error all
// of its mutations are discarded.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(tx LedgerTx) error) error
}
