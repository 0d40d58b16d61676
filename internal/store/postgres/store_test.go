package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruralpay/coinledger/internal/models"
	"github.com/ruralpay/coinledger/internal/store"
)

var (
	accountCols = []string{"account_id", "owner_id", "balance", "version", "status", "created_at", "updated_at"}
	flowCols    = []string{"flow_id", "account_id", "biz_type", "biz_id", "direction", "amount", "balance_after", "version", "created_at"}
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := New(db, nil)
	fixed := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	return s, mock
}

func TestStore_GetAccountByOwner(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	t.Run("found", func(t *testing.T) {
		mock.ExpectQuery("SELECT account_id, owner_id, balance, version, status, created_at, updated_at FROM account WHERE owner_id = \\$1").
			WithArgs("u1").
			WillReturnRows(sqlmock.NewRows(accountCols).AddRow(int64(42), "u1", int64(50), int64(1), "ACTIVE", now, now))

		acc, err := s.GetAccountByOwner(context.Background(), "u1")
		require.NoError(t, err)
		assert.Equal(t, int64(42), acc.AccountID)
		assert.Equal(t, int64(50), acc.Balance)
		assert.Equal(t, models.AccountStatusActive, acc.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery("FROM account WHERE owner_id = \\$1").
			WithArgs("ghost").
			WillReturnError(sql.ErrNoRows)

		_, err := s.GetAccountByOwner(context.Background(), "ghost")
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("driver failure is wrapped", func(t *testing.T) {
		mock.ExpectQuery("FROM account WHERE owner_id = \\$1").
			WithArgs("u1").
			WillReturnError(errors.New("connection reset"))

		_, err := s.GetAccountByOwner(context.Background(), "u1")
		assert.Error(t, err)
		assert.NotErrorIs(t, err, store.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_ExistsFlow(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(int64(42), "INVITE", "biz-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := s.ExistsFlow(context.Background(), 42, models.BizTypeInvite, "biz-1")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetFlow(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery("FROM flow_record WHERE account_id = \\$1 AND biz_type = \\$2 AND biz_id = \\$3").
		WithArgs(int64(42), "INVITE", "biz-1").
		WillReturnRows(sqlmock.NewRows(flowCols).AddRow(int64(7), int64(42), "INVITE", "biz-1", "CREDIT", int64(50), int64(50), int64(1), now))

	f, err := s.GetFlow(context.Background(), 42, models.BizTypeInvite, "biz-1")
	require.NoError(t, err)
	assert.Equal(t, models.DirectionCredit, f.Direction)
	assert.Equal(t, int64(50), f.BalanceAfter)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ListFlows(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	// The second commit came from an instance whose clock runs behind, so
	// created_at disagrees with commit order; version does not.
	mock.ExpectQuery("FROM flow_record WHERE account_id = \\$1 ORDER BY version DESC LIMIT \\$2").
		WithArgs(int64(42), 2).
		WillReturnRows(sqlmock.NewRows(flowCols).
			AddRow(int64(8), int64(42), "OUTFIT", "biz-2", "DEBIT", int64(30), int64(20), int64(2), now.Add(-40*time.Millisecond)).
			AddRow(int64(7), int64(42), "INVITE", "biz-1", "CREDIT", int64(50), int64(50), int64(1), now))

	flows, err := s.ListFlows(context.Background(), 42, 2)
	require.NoError(t, err)
	require.Len(t, flows, 2)
	assert.Equal(t, int64(-30), flows[0].Delta())
	assert.Equal(t, []int64{2, 1}, []int64{flows[0].Version, flows[1].Version})
	assert.Equal(t, flows[1].BalanceAfter+flows[0].Delta(), flows[0].BalanceAfter)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CommitMutation(t *testing.T) {
	s, mock := newMockStore(t)
	account := &models.Account{AccountID: 42, Balance: 80}
	flow := &models.FlowRecord{
		FlowID: 9, AccountID: 42, BizType: models.BizTypeInvite, BizID: "biz-3",
		Direction: models.DirectionCredit, Amount: 30, BalanceAfter: 80, CreatedAt: time.Now(),
	}

	t.Run("successful commit", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE account SET balance = \\$1, version = version \\+ 1, updated_at = \\$2 WHERE account_id = \\$3 AND version = \\$4").
			WithArgs(int64(80), sqlmock.AnyArg(), int64(42), int64(2)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO flow_record").
			WithArgs(int64(9), int64(42), "INVITE", "biz-3", "CREDIT", int64(30), int64(80), int64(3), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := s.CommitMutation(context.Background(), account, 2, flow)
		assert.NoError(t, err)
		assert.Equal(t, int64(3), flow.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("version conflict", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE account SET balance").
			WithArgs(int64(80), sqlmock.AnyArg(), int64(42), int64(2)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := s.CommitMutation(context.Background(), account, 2, flow)
		assert.ErrorIs(t, err, store.ErrVersionConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate idempotency key rolls back", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE account SET balance").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO flow_record").
			WillReturnError(&pq.Error{Code: "23505", Constraint: "flow_record_idempotency"})
		mock.ExpectRollback()

		err := s.CommitMutation(context.Background(), account, 2, flow)
		assert.ErrorIs(t, err, store.ErrDuplicateFlow)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("taken flow version is a conflict", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE account SET balance").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO flow_record").
			WillReturnError(&pq.Error{Code: "23505", Constraint: "flow_record_account_version"})
		mock.ExpectRollback()

		err := s.CommitMutation(context.Background(), account, 2, flow)
		assert.ErrorIs(t, err, store.ErrVersionConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("other unique violation is not a duplicate", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE account SET balance").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO flow_record").
			WillReturnError(&pq.Error{Code: "23505", Constraint: "flow_record_pkey"})
		mock.ExpectRollback()

		err := s.CommitMutation(context.Background(), account, 2, flow)
		assert.Error(t, err)
		assert.NotErrorIs(t, err, store.ErrDuplicateFlow)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_CreateAccountIfAbsent(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	t.Run("creates new account", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO account .* ON CONFLICT \\(owner_id\\) DO NOTHING RETURNING account_id").
			WithArgs(int64(42), "u1", int64(0), int64(0), "ACTIVE", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"account_id"}).AddRow(int64(42)))
		mock.ExpectCommit()

		acc, created, err := s.CreateAccountIfAbsent(context.Background(),
			&models.Account{AccountID: 42, OwnerID: "u1"}, nil)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, models.AccountStatusActive, acc.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("creates with initial grant", func(t *testing.T) {
		initial := &models.FlowRecord{FlowID: 5, AccountID: 43, BizType: models.BizTypeInitial, BizID: "u2",
			Direction: models.DirectionCredit, Amount: 100, BalanceAfter: 100, CreatedAt: now}

		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO account").
			WithArgs(int64(43), "u2", int64(100), int64(1), "ACTIVE", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"account_id"}).AddRow(int64(43)))
		mock.ExpectExec("INSERT INTO flow_record").
			WithArgs(int64(5), int64(43), "INITIAL", "u2", "CREDIT", int64(100), int64(100), int64(1), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		acc, created, err := s.CreateAccountIfAbsent(context.Background(),
			&models.Account{AccountID: 43, OwnerID: "u2", Balance: 100, Version: 1}, initial)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, int64(100), acc.Balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns existing account", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO account").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()
		mock.ExpectQuery("FROM account WHERE owner_id = \\$1").
			WithArgs("u1").
			WillReturnRows(sqlmock.NewRows(accountCols).AddRow(int64(42), "u1", int64(50), int64(1), "ACTIVE", now, now))

		acc, created, err := s.CreateAccountIfAbsent(context.Background(),
			&models.Account{AccountID: 99, OwnerID: "u1"}, nil)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, int64(42), acc.AccountID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_SetAccountStatus(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE account SET status = \\$1, updated_at = \\$2 WHERE account_id = \\$3").
		WithArgs("INACTIVE", sqlmock.AnyArg(), int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	assert.NoError(t, s.SetAccountStatus(context.Background(), 42, models.AccountStatusInactive))

	mock.ExpectExec("UPDATE account SET status").
		WithArgs("INACTIVE", sqlmock.AnyArg(), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, s.SetAccountStatus(context.Background(), 7, models.AccountStatusInactive), store.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS account").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, Migrate(context.Background(), db))

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS account").WillReturnError(errors.New("permission denied"))
	assert.ErrorContains(t, Migrate(context.Background(), db), "permission denied")
	assert.NoError(t, mock.ExpectationsWereMet())
}
