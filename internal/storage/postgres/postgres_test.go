package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IlyasAtabaev731/p2p-market/internal/domain/models"
	"github.com/IlyasAtabaev731/p2p-market/internal/storage"
)

const (
	userA = "0b6c1d52-6f0e-4a8e-9d7e-0d8b1b3c6a01"
	userB = "7f3a9e21-2c4d-4b5e-8f6a-1e2d3c4b5a02"
)

var userCols = []string{"id", "username", "password_hash", "balance", "is_admin", "blocked", "bio", "created_at"}

func newMock(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db, 1500*time.Millisecond), mock
}

func userRow(id, name string, balance int64) *sqlmock.Rows {
	return sqlmock.NewRows(userCols).AddRow(id, name, "hash", balance, false, false, "", time.Now())
}

func expectTxStart(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SELECT set_config('lock_timeout', $1, true)`)).
		WithArgs("1500ms").
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestRunInTxCommits(t *testing.T) {
	s, mock := newMock(t)

	expectTxStart(mock)
	mock.ExpectQuery(`FROM users WHERE id = \$1 FOR UPDATE`).WithArgs(userA).WillReturnRows(userRow(userA, "a", 100))
	mock.ExpectQuery(`FROM users WHERE id = \$1 FOR UPDATE`).WithArgs(userB).WillReturnRows(userRow(userB, "b", 10))
	mock.ExpectExec(`UPDATE users SET balance = balance \+ \$1 WHERE id = \$2`).
		WithArgs(int64(-40), userA).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE users SET balance = balance \+ \$1 WHERE id = \$2`).
		WithArgs(int64(40), userB).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO transactions`).
		WithArgs("tx-1", userA, userB, int64(40)).
		WillReturnRows(sqlmock.NewRows([]string{"seq", "created_at"}).AddRow(int64(7), time.Now()))
	mock.ExpectCommit()

	var rec models.Transaction
	err := s.RunInTx(context.Background(), func(tx storage.LedgerTx) error {
		users, err := tx.LockUsers(context.Background(), []string{userA, userB})
		if err != nil {
			return err
		}
		assert.Equal(t, int64(100), users[userA].Balance)

		if err := tx.AddBalance(context.Background(), userA, -40); err != nil {
			return err
		}
		if err := tx.AddBalance(context.Background(), userB, 40); err != nil {
			return err
		}
		rec, err = tx.AppendTransaction(context.Background(), models.Transaction{ID: "tx-1", FromID: userA, ToID: userB, Amount: 40})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), rec.Seq)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	s, mock := newMock(t)

	expectTxStart(mock)
	mock.ExpectExec(`UPDATE users SET balance`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := s.RunInTx(context.Background(), func(tx storage.LedgerTx) error {
		if err := tx.AddBalance(context.Background(), userA, -1); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockUsersSkipsMissing(t *testing.T) {
	s, mock := newMock(t)

	expectTxStart(mock)
	mock.ExpectQuery(`FOR UPDATE`).WithArgs(userA).WillReturnRows(sqlmock.NewRows(userCols))
	mock.ExpectCommit()

	err := s.RunInTx(context.Background(), func(tx storage.LedgerTx) error {
		users, err := tx.LockUsers(context.Background(), []string{userA})
		assert.Empty(t, users)
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockContentionMapsToConflict(t *testing.T) {
	for _, code := range []pq.ErrorCode{codeLockNotAvailable, codeDeadlockDetected, codeSerializationFail} {
		t.Run(string(code), func(t *testing.T) {
			s, mock := newMock(t)

			expectTxStart(mock)
			mock.ExpectQuery(`FOR UPDATE`).WithArgs(userA).WillReturnError(&pq.Error{Code: code})
			mock.ExpectRollback()

			err := s.RunInTx(context.Background(), func(tx storage.LedgerTx) error {
				_, err := tx.LockUsers(context.Background(), []string{userA})
				return err
			})
			assert.ErrorIs(t, err, storage.ErrConflict)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestAddBalanceCheckViolation(t *testing.T) {
	s, mock := newMock(t)

	expectTxStart(mock)
	mock.ExpectExec(`UPDATE users SET balance`).
		WillReturnError(&pq.Error{Code: codeCheckViolation, Constraint: "users_balance_check"})
	mock.ExpectRollback()

	err := s.RunInTx(context.Background(), func(tx storage.LedgerTx) error {
		return tx.AddBalance(context.Background(), userA, -500)
	})
	assert.ErrorIs(t, err, storage.ErrNegativeBalance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddBalanceMissingUser(t *testing.T) {
	s, mock := newMock(t)

	expectTxStart(mock)
	mock.ExpectExec(`UPDATE users SET balance`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.RunInTx(context.Background(), func(tx storage.LedgerTx) error {
		return tx.AddBalance(context.Background(), userA, 5)
	})
	assert.ErrorIs(t, err, storage.ErrUserNotFound)
}

func TestAppendIssueRowHasNullSender(t *testing.T) {
	s, mock := newMock(t)

	expectTxStart(mock)
	mock.ExpectQuery(`INSERT INTO transactions`).
		WithArgs("tx-2", nil, userB, int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"seq", "created_at"}).AddRow(int64(1), time.Now()))
	mock.ExpectCommit()

	err := s.RunInTx(context.Background(), func(tx storage.LedgerTx) error {
		rec, err := tx.AppendTransaction(context.Background(), models.Transaction{ID: "tx-2", ToID: userB, Amount: 5})
		assert.True(t, rec.IsIssue())
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveUserDuplicate(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs(userA, "alice", "hash").
		WillReturnError(&pq.Error{Code: codeUniqueViolation})

	_, err := s.SaveUser(context.Background(), models.User{ID: userA, Username: "alice", PasswordHash: "hash"})
	assert.ErrorIs(t, err, storage.ErrUserExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserByIDNotFound(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(`FROM users WHERE id = \$1`).WithArgs(userA).WillReturnRows(sqlmock.NewRows(userCols))

	_, err := s.UserByID(context.Background(), userA)
	assert.ErrorIs(t, err, storage.ErrUserNotFound)
}

func TestSetUserBlockedMissing(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectExec(`UPDATE users SET blocked = \$1 WHERE id = \$2`).
		WithArgs(true, userA).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.SetUserBlocked(context.Background(), userA, true)
	assert.ErrorIs(t, err, storage.ErrUserNotFound)
}

func TestSearchProductsEscapesPattern(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(`ILIKE`).
		WithArgs(`%50\%\_off%`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "description", "price", "seller_id", "blocked", "created_at"}))

	products, err := s.SearchProducts(context.Background(), "50%_off")
	require.NoError(t, err)
	assert.Empty(t, products)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditBalances(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(`FROM users u`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "balance", "net"}).AddRow(userA, int64(70), int64(50)))

	mismatches, err := s.AuditBalances(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.BalanceMismatch{{UserID: userA, Cached: 70, Derived: 50}}, mismatches)
}

func TestTransactionsForUserScansNullSender(t *testing.T) {
	s, mock := newMock(t)

	now := time.Now()
	mock.ExpectQuery(`FROM transactions`).
		WithArgs(userA, 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "seq", "from_id", "to_id", "amount", "created_at"}).
			AddRow("t2", int64(2), userB, userA, int64(3), now).
			AddRow("t1", int64(1), nil, userA, int64(9), now))

	txs, err := s.TransactionsForUser(context.Background(), userA, 10)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, userB, txs[0].FromID)
	assert.True(t, txs[1].IsIssue())
}
