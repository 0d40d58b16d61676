package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/ruralpay/coinledger/internal/logger"
	"github.com/ruralpay/coinledger/internal/models"
	"github.com/ruralpay/coinledger/internal/store"
)

const (
	uniqueViolation = pq.ErrorCode("23505")

	idempotencyConstraint = "flow_record_idempotency"
	versionConstraint     = "flow_record_account_version"
)

const accountColumns = `account_id, owner_id, balance, version, status, created_at, updated_at`

const flowColumns = `flow_id, account_id, biz_type, biz_id, direction, amount, balance_after, version, created_at`

// Store is the postgres LedgerStore. See schema.sql for the tables it expects.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

var _ store.LedgerStore = (*Store)(nil)

func New(db *sql.DB, l *zap.Logger) *Store {
	return &Store{db: db, logger: logger.OrNop(l).Named("store"), now: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var acc models.Account
	err := row.Scan(&acc.AccountID, &acc.OwnerID, &acc.Balance, &acc.Version,
		&acc.Status, &acc.CreatedAt, &acc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func scanFlow(row rowScanner) (*models.FlowRecord, error) {
	var f models.FlowRecord
	err := row.Scan(&f.FlowID, &f.AccountID, &f.BizType, &f.BizID, &f.Direction,
		&f.Amount, &f.BalanceAfter, &f.Version, &f.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *Store) GetAccount(ctx context.Context, accountID int64) (*models.Account, error) {
	acc, err := scanAccount(s.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM account
		WHERE account_id = $1`, accountID))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("get account %d: %w", accountID, err)
	}
	return acc, err
}

func (s *Store) GetAccountByOwner(ctx context.Context, ownerID string) (*models.Account, error) {
	acc, err := scanAccount(s.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM account
		WHERE owner_id = $1`, ownerID))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("get account by owner %s: %w", ownerID, err)
	}
	return acc, err
}

func (s *Store) ExistsFlow(ctx context.Context, accountID int64, bizType models.BizType, bizID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM flow_record
			WHERE account_id = $1 AND biz_type = $2 AND biz_id = $3
		)`, accountID, bizType, bizID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("exists flow: %w", err)
	}
	return exists, nil
}

func (s *Store) GetFlow(ctx context.Context, accountID int64, bizType models.BizType, bizID string) (*models.FlowRecord, error) {
	f, err := scanFlow(s.db.QueryRowContext(ctx, `
		SELECT `+flowColumns+`
		FROM flow_record
		WHERE account_id = $1 AND biz_type = $2 AND biz_id = $3`, accountID, bizType, bizID))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("get flow: %w", err)
	}
	return f, err
}

func (s *Store) ListFlows(ctx context.Context, accountID int64, limit int) ([]models.FlowRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+flowColumns+`
		FROM flow_record
		WHERE account_id = $1
		ORDER BY version DESC
		LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}
	defer rows.Close()

	flows := []models.FlowRecord{}
	for rows.Next() {
		f, err := scanFlow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan flow: %w", err)
		}
		flows = append(flows, *f)
	}
	return flows, rows.Err()
}

func (s *Store) CommitMutation(ctx context.Context, account *models.Account, expectedVersion int64, flow *models.FlowRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE account
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE account_id = $3 AND version = $4`,
		account.Balance, s.now(), account.AccountID, expectedVersion)
	if err != nil {
		return fmt.Errorf("update account %d: %w", account.AccountID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return store.ErrVersionConflict
	}

	flow.Version = expectedVersion + 1
	if err := insertFlow(ctx, tx, flow); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mutation: %w", err)
	}
	return nil
}

func insertFlow(ctx context.Context, tx *sql.Tx, flow *models.FlowRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO flow_record (`+flowColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		flow.FlowID, flow.AccountID, flow.BizType, flow.BizID, flow.Direction,
		flow.Amount, flow.BalanceAfter, flow.Version, flow.CreatedAt)
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		switch pqErr.Constraint {
		case idempotencyConstraint:
			return store.ErrDuplicateFlow
		case versionConstraint:
			return store.ErrVersionConflict
		}
	}
	return fmt.Errorf("insert flow %d: %w", flow.FlowID, err)
}

func (s *Store) CreateAccountIfAbsent(ctx context.Context, candidate *models.Account, initial *models.FlowRecord) (*models.Account, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin create account: %w", err)
	}
	defer tx.Rollback()

	status := candidate.Status
	if status == "" {
		status = models.AccountStatusActive
	}
	now := s.now()

	var insertedID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO account (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (owner_id) DO NOTHING
		RETURNING account_id`,
		candidate.AccountID, candidate.OwnerID, candidate.Balance, candidate.Version, status, now).Scan(&insertedID)

	if errors.Is(err, sql.ErrNoRows) {
		tx.Rollback()
		existing, err := s.GetAccountByOwner(ctx, candidate.OwnerID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("insert account for %s: %w", candidate.OwnerID, err)
	}

	if initial != nil {
		initial.Version = candidate.Version
		if err := insertFlow(ctx, tx, initial); err != nil {
			return nil, false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit create account: %w", err)
	}

	acc := *candidate
	acc.Status = status
	acc.CreatedAt, acc.UpdatedAt = now, now
	s.logger.Debug("account row inserted",
		zap.Int64("account_id", acc.AccountID),
		zap.Bool("initial_flow", initial != nil),
	)
	return &acc, true, nil
}

func (s *Store) SetAccountStatus(ctx context.Context, accountID int64, status models.AccountStatus) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE account
		SET status = $1, updated_at = $2
		WHERE account_id = $3`, status, s.now(), accountID)
	if err != nil {
		return fmt.Errorf("set account status: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
