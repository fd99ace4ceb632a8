package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/IlyasAtabaev731/p2p-market/internal/storage"
)

// Postgres error codes the store translates into storage errors.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
	codeSerializationFail   = "40001"
	codeDeadlockDetected    = "40P01"
	codeLockNotAvailable    = "55P03"
)

type Storage struct {
	db          *sql.DB
	lockTimeout time.Duration
}

type Options struct {
	MaxOpenConns int
	MaxIdleConns int
	LockTimeout  time.Duration
}

func New(dbUrl string, opts Options) (*Storage, error) {
	db, err := sql.Open("postgres", dbUrl)
	if err != nil {
		return nil, fmt.Errorf("database connection error: %w", err)
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	return NewWithDB(db, opts.LockTimeout), nil
}

// NewWithDB wraps an already opened handle.
func NewWithDB(db *sql.DB, lockTimeout time.Duration) *Storage {
	if lockTimeout <= 0 {
		lockTimeout = 2 * time.Second
	}
	return &Storage{db: db, lockTimeout: lockTimeout}
}

func (s *Storage) Stop() error {
	return s.db.Close()
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// mapError converts driver errors that callers act on into storage errors.
func mapError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}

	switch pqErr.Code {
	case codeSerializationFail, codeDeadlockDetected, codeLockNotAvailable:
		return fmt.Errorf("%w: %s", storage.ErrConflict, pqErr.Code.Name())
	case codeCheckViolation:
		if pqErr.Constraint == "users_balance_check" {
			return storage.ErrNegativeBalance
		}
	}

	return err
}
