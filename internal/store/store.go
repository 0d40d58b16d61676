// Package store defines the persistence contract beneath the ledger.
package store

import (
	"context"
	"errors"

	"github.com/ruralpay/coinledger/internal/models"
)

var (
	ErrNotFound        = errors.New("store: not found")
	ErrVersionConflict = errors.New("store: version conflict")
	ErrDuplicateFlow   = errors.New("store: duplicate flow record")
)

// LedgerStore persists accounts and their append-only flow records.
//
// CommitMutation writes account (whose Balance/Version are the new values)
// only if the stored version equals expectedVersion, and inserts flow in the
// same atomic unit, stamping flow.Version with the committed version. It
// returns ErrVersionConflict or ErrDuplicateFlow without applying anything.
//
// ListFlows returns the newest limit records, ordered by Version descending.
type LedgerStore interface {
	GetAccount(ctx context.Context, accountID int64) (*models.Account, error)
	GetAccountByOwner(ctx context.Context, ownerID string) (*models.Account, error)
	ExistsFlow(ctx context.Context, accountID int64, bizType models.BizType, bizID string) (bool, error)
	GetFlow(ctx context.Context, accountID int64, bizType models.BizType, bizID string) (*models.FlowRecord, error)
	ListFlows(ctx context.Context, accountID int64, limit int) ([]models.FlowRecord, error)
	CommitMutation(ctx context.Context, account *models.Account, expectedVersion int64, flow *models.FlowRecord) error

	// CreateAccountIfAbsent inserts candidate unless an account for its owner
	// exists, in which case the existing account is returned with created=false.
	// A non-nil initial flow is inserted with the account; candidate must then
	// carry Balance == initial.BalanceAfter and Version == 1.
	CreateAccountIfAbsent(ctx context.Context, candidate *models.Account, initial *models.FlowRecord) (account *models.Account, created bool, err error)

	SetAccountStatus(ctx context.Context, accountID int64, status models.AccountStatus) error
	Ping(ctx context.Context) error
}
