package services

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/ruralpay/coinledger/internal/events"
	"github.com/ruralpay/coinledger/internal/lock"
	"github.com/ruralpay/coinledger/internal/models"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) GetAccount(ctx context.Context, accountID int64) (*models.Account, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	acc := *args.Get(0).(*models.Account)
	return &acc, args.Error(1)
}

func (m *MockStore) GetAccountByOwner(ctx context.Context, ownerID string) (*models.Account, error) {
	args := m.Called(ctx, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	acc := *args.Get(0).(*models.Account)
	return &acc, args.Error(1)
}

func (m *MockStore) ExistsFlow(ctx context.Context, accountID int64, bizType models.BizType, bizID string) (bool, error) {
	args := m.Called(ctx, accountID, bizType, bizID)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) GetFlow(ctx context.Context, accountID int64, bizType models.BizType, bizID string) (*models.FlowRecord, error) {
	args := m.Called(ctx, accountID, bizType, bizID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.FlowRecord), args.Error(1)
}

func (m *MockStore) ListFlows(ctx context.Context, accountID int64, limit int) ([]models.FlowRecord, error) {
	args := m.Called(ctx, accountID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.FlowRecord), args.Error(1)
}

func (m *MockStore) CommitMutation(ctx context.Context, account *models.Account, expectedVersion int64, flow *models.FlowRecord) error {
	args := m.Called(ctx, account, expectedVersion, flow)
	return args.Error(0)
}

func (m *MockStore) CreateAccountIfAbsent(ctx context.Context, candidate *models.Account, initial *models.FlowRecord) (*models.Account, bool, error) {
	args := m.Called(ctx, candidate, initial)
	if args.Get(0) == nil {
		return nil, false, args.Error(2)
	}
	return args.Get(0).(*models.Account), args.Bool(1), args.Error(2)
}

func (m *MockStore) SetAccountStatus(ctx context.Context, accountID int64, status models.AccountStatus) error {
	args := m.Called(ctx, accountID, status)
	return args.Error(0)
}

func (m *MockStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, event events.LedgerEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// stubMutex fails acquisition with acquireErr, or runs fn and then reports
// a lost lease when loseLease is set.
type stubMutex struct {
	acquireErr error
	loseLease  bool
	calls      atomic.Int32
}

func (m *stubMutex) WithLock(ctx context.Context, key string, _ time.Duration, fn func(ctx context.Context) error) error {
	m.calls.Add(1)
	if m.acquireErr != nil {
		return m.acquireErr
	}
	err := fn(context.WithoutCancel(ctx))
	if m.loseLease {
		return errors.Join(lock.ErrLeaseLost, err)
	}
	return err
}

type seqIDs struct {
	n atomic.Int64
}

func (s *seqIDs) NextID() int64 {
	return s.n.Add(1000) // leaves room below for fixture ids
}
