package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ruralpay/coinledger/internal/models"
	"github.com/ruralpay/coinledger/internal/store"
)

type flowKey struct {
	accountID int64
	bizType   models.BizType
	bizID     string
}

// Store keeps the ledger in process memory with the same atomicity and
// uniqueness guarantees as the postgres store.
type Store struct {
	mu sync.RWMutex

	accounts map[int64]*models.Account
	owners   map[string]int64

	flows     map[flowKey]*models.FlowRecord
	flowOrder map[int64][]int64 // account -> flow ids in commit order
	flowByID  map[int64]*models.FlowRecord
}

var _ store.LedgerStore = (*Store)(nil)

func New() *Store {
	return &Store{
		accounts:  make(map[int64]*models.Account),
		owners:    make(map[string]int64),
		flows:     make(map[flowKey]*models.FlowRecord),
		flowOrder: make(map[int64][]int64),
		flowByID:  make(map[int64]*models.FlowRecord),
	}
}

func (s *Store) GetAccount(_ context.Context, accountID int64) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[accountID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *acc
	return &cp, nil
}

func (s *Store) GetAccountByOwner(_ context.Context, ownerID string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.owners[ownerID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s.accounts[id]
	return &cp, nil
}

func (s *Store) ExistsFlow(_ context.Context, accountID int64, bizType models.BizType, bizID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.flows[flowKey{accountID, bizType, bizID}]
	return ok, nil
}

func (s *Store) GetFlow(_ context.Context, accountID int64, bizType models.BizType, bizID string) (*models.FlowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.flows[flowKey{accountID, bizType, bizID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

// ListFlows returns the newest limit records of the account.
func (s *Store) ListFlows(_ context.Context, accountID int64, limit int) ([]models.FlowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.flowOrder[accountID]
	out := make([]models.FlowRecord, 0, min(limit, len(ids)))
	for i := len(ids) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *s.flowByID[ids[i]])
	}
	return out, nil
}

func (s *Store) CommitMutation(_ context.Context, account *models.Account, expectedVersion int64, flow *models.FlowRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.accounts[account.AccountID]
	if !ok {
		return store.ErrNotFound
	}
	if current.Version != expectedVersion {
		return store.ErrVersionConflict
	}
	key := flowKey{flow.AccountID, flow.BizType, flow.BizID}
	if _, dup := s.flows[key]; dup {
		return store.ErrDuplicateFlow
	}
	if _, dup := s.flowByID[flow.FlowID]; dup {
		return fmt.Errorf("memory store: flow id %d already used", flow.FlowID)
	}

	current.Balance = account.Balance
	current.Version = expectedVersion + 1
	current.UpdatedAt = time.Now()
	flow.Version = current.Version
	s.insertFlowLocked(key, flow)
	return nil
}

func (s *Store) CreateAccountIfAbsent(_ context.Context, candidate *models.Account, initial *models.FlowRecord) (*models.Account, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.owners[candidate.OwnerID]; ok {
		cp := *s.accounts[id]
		return &cp, false, nil
	}
	if _, ok := s.accounts[candidate.AccountID]; ok {
		return nil, false, fmt.Errorf("memory store: account id %d already used", candidate.AccountID)
	}

	acc := *candidate
	now := time.Now()
	acc.CreatedAt, acc.UpdatedAt = now, now
	if acc.Status == "" {
		acc.Status = models.AccountStatusActive
	}
	s.accounts[acc.AccountID] = &acc
	s.owners[acc.OwnerID] = acc.AccountID
	if initial != nil {
		initial.Version = acc.Version
		s.insertFlowLocked(flowKey{initial.AccountID, initial.BizType, initial.BizID}, initial)
	}

	cp := acc
	return &cp, true, nil
}

func (s *Store) SetAccountStatus(_ context.Context, accountID int64, status models.AccountStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[accountID]
	if !ok {
		return store.ErrNotFound
	}
	acc.Status = status
	acc.UpdatedAt = time.Now()
	return nil
}

func (s *Store) Ping(context.Context) error {
	return nil
}

// Flows returns every record of the account in commit order.
func (s *Store) Flows(accountID int64) []models.FlowRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := append([]int64(nil), s.flowOrder[accountID]...)
	out := make([]models.FlowRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.flowByID[id])
	}
	return out
}

func (s *Store) insertFlowLocked(key flowKey, flow *models.FlowRecord) {
	f := *flow
	s.flows[key] = &f
	s.flowByID[f.FlowID] = &f
	s.flowOrder[f.AccountID] = append(s.flowOrder[f.AccountID], f.FlowID)
}
