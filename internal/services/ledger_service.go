package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/ruralpay/coinledger/internal/audit"
	"github.com/ruralpay/coinledger/internal/config"
	"github.com/ruralpay/coinledger/internal/events"
	"github.com/ruralpay/coinledger/internal/lock"
	"github.com/ruralpay/coinledger/internal/models"
	"github.com/ruralpay/coinledger/internal/store"
)

const (
	ownerIDTag = "required,max=64"

	DefaultFlowLimit = 20
	MaxFlowLimit     = 100

	publishTimeout = 2 * time.Second
)

// IDGenerator hands out process-unique ids for accounts and flow records.
type IDGenerator interface {
	NextID() int64
}

// MutationRequest identifies the account by OwnerID or AccountID. The
// (account, BizType, BizID) triple is the idempotency key.
type MutationRequest struct {
	OwnerID   string         `json:"ownerId" validate:"required_without=AccountID,max=64"`
	AccountID int64          `json:"accountId,omitempty" validate:"omitempty,gt=0"`
	BizType   models.BizType `json:"bizType" validate:"required"`
	BizID     string         `json:"bizId" validate:"required,max=128"`
	Amount    int64          `json:"amount" validate:"gt=0"`
}

// MutationResult is the outcome of a deposit or withdraw. A replayed request
// reports the balance right after the original commit with Duplicate set.
type MutationResult struct {
	AccountID int64            `json:"accountId"`
	FlowID    int64            `json:"flowId"`
	BizType   models.BizType   `json:"bizType"`
	BizID     string           `json:"bizId"`
	Direction models.Direction `json:"direction"`
	Amount    int64            `json:"amount"`
	Balance   int64            `json:"balance"`
	Version   int64            `json:"version"`
	Duplicate bool             `json:"duplicate"`
}

type Options struct {
	LockLease         time.Duration
	CriticalTimeout   time.Duration
	MaxCommitAttempts int
	InitialGrant      int64
}

// OptionsFromConfig extracts the service tunables from the process config.
func OptionsFromConfig(cfg *config.LedgerConfig) Options {
	return Options{
		LockLease:         cfg.LockLease,
		CriticalTimeout:   cfg.CriticalTimeout,
		MaxCommitAttempts: cfg.MaxCommitAttempts,
		InitialGrant:      cfg.InitialGrant,
	}
}

func (o Options) withDefaults() Options {
	if o.LockLease <= 0 {
		o.LockLease = 10 * time.Second
	}
	if o.CriticalTimeout <= 0 {
		o.CriticalTimeout = 5 * time.Second
	}
	if o.MaxCommitAttempts <= 0 {
		o.MaxCommitAttempts = 3
	}
	return o
}

// LedgerService owns the write path of accounts and flow records.
type LedgerService struct {
	store     store.LedgerStore
	mutex     lock.Mutex
	ids       IDGenerator
	publisher events.Publisher
	audit     *audit.AuditLogger
	logger    *zap.Logger
	validator *ValidationHelper
	opts      Options
	now       func() time.Time
}

func NewLedgerService(st store.LedgerStore, mu lock.Mutex, ids IDGenerator, pub events.Publisher, al *audit.AuditLogger, l *zap.Logger, opts Options) *LedgerService {
	if l == nil {
		l = zap.NewNop()
	}
	if pub == nil {
		pub = events.NopPublisher{}
	}
	if al == nil {
		al = audit.NewAuditLogger(l)
	}
	return &LedgerService{
		store:     st,
		mutex:     mu,
		ids:       ids,
		publisher: pub,
		audit:     al,
		logger:    l.Named("ledger"),
		validator: NewValidationHelper(),
		opts:      opts.withDefaults(),
		now:       time.Now,
	}
}

// Deposit credits req.Amount to the account.
func (s *LedgerService) Deposit(ctx context.Context, req MutationRequest) (*MutationResult, error) {
	return s.mutate(ctx, models.DirectionCredit, req)
}

// Withdraw debits req.Amount. It fails with ErrInsufficientBalance, and
// commits nothing, if the balance would become negative.
func (s *LedgerService) Withdraw(ctx context.Context, req MutationRequest) (*MutationResult, error) {
	return s.mutate(ctx, models.DirectionDebit, req)
}

// GetBalance reads the account without locking; the value may be stale
// under concurrent mutation.
func (s *LedgerService) GetBalance(ctx context.Context, ownerID string) (*models.Account, error) {
	if err := s.validator.ValidateVar(ownerID, ownerIDTag); err != nil {
		return nil, errors.Join(ErrValidation, err)
	}
	return s.accountByOwner(ctx, ownerID)
}

// ListFlows returns the newest flow records of the owner's account first.
// A zero limit means DefaultFlowLimit.
func (s *LedgerService) ListFlows(ctx context.Context, ownerID string, limit int) ([]models.FlowRecord, error) {
	if err := s.validator.ValidateVar(ownerID, ownerIDTag); err != nil {
		return nil, errors.Join(ErrValidation, err)
	}
	if limit == 0 {
		limit = DefaultFlowLimit
	}
	if limit < 0 || limit > MaxFlowLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", ErrValidation, MaxFlowLimit)
	}

	acc, err := s.accountByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	flows, err := s.store.ListFlows(ctx, acc.AccountID, limit)
	if err != nil {
		return nil, storeUnavailable("list flows", err)
	}
	return flows, nil
}

// InitAccount returns the owner's account, creating it if needed. A
// configured initial grant is booked as an INITIAL flow in the same write.
func (s *LedgerService) InitAccount(ctx context.Context, ownerID string) (*models.Account, bool, error) {
	if err := s.validator.ValidateVar(ownerID, ownerIDTag); err != nil {
		return nil, false, errors.Join(ErrValidation, err)
	}

	existing, err := s.store.GetAccountByOwner(ctx, ownerID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, storeUnavailable("get account", err)
	}

	now := s.now().UTC()
	candidate := &models.Account{
		AccountID: s.ids.NextID(),
		OwnerID:   ownerID,
		Status:    models.AccountStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	var initial *models.FlowRecord
	if grant := s.opts.InitialGrant; grant > 0 {
		candidate.Balance = grant
		candidate.Version = 1
		initial = &models.FlowRecord{
			FlowID:       s.ids.NextID(),
			AccountID:    candidate.AccountID,
			BizType:      models.BizTypeInitial,
			BizID:        ownerID,
			Direction:    models.DirectionCredit,
			Amount:       grant,
			BalanceAfter: grant,
			CreatedAt:    now,
		}
	}

	acc, created, err := s.store.CreateAccountIfAbsent(ctx, candidate, initial)
	if err != nil {
		return nil, false, storeUnavailable("create account", err)
	}
	if created {
		s.logger.Info("account created",
			zap.Int64("account_id", acc.AccountID),
			zap.String("owner_id", ownerID),
			zap.Int64("balance", acc.Balance),
		)
		if initial != nil {
			s.audit.LogMutation(acc, initial)
			s.publish(ctx, acc, initial)
		}
	}
	return acc, created, nil
}

// DeactivateAccount marks the account INACTIVE under its lock. Later
// mutations fail with ErrAccountInactive; reads keep working.
func (s *LedgerService) DeactivateAccount(ctx context.Context, ownerID string) error {
	if err := s.validator.ValidateVar(ownerID, ownerIDTag); err != nil {
		return errors.Join(ErrValidation, err)
	}
	acc, err := s.accountByOwner(ctx, ownerID)
	if err != nil {
		return err
	}
	if !acc.Active() {
		return nil
	}

	err = s.mutex.WithLock(ctx, lock.AccountKey(acc.AccountID), s.opts.LockLease, func(lctx context.Context) error {
		cctx, cancel := context.WithTimeout(lctx, s.opts.CriticalTimeout)
		defer cancel()

		if err := s.store.SetAccountStatus(cctx, acc.AccountID, models.AccountStatusInactive); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrAccountNotFound
			}
			return storeUnavailable("set status", err)
		}
		return nil
	})
	if err != nil {
		return translateLockErr(err)
	}

	s.audit.LogStatusChange(acc.AccountID, models.AccountStatusInactive)
	return nil
}

func (s *LedgerService) mutate(ctx context.Context, dir models.Direction, req MutationRequest) (*MutationResult, error) {
	if err := s.validateMutation(req); err != nil {
		return nil, err
	}

	acc, err := s.resolveAccount(ctx, req)
	if err != nil {
		return nil, err
	}

	// Pre-check outside the lock; replays are the common retry case.
	prior, err := s.priorResult(ctx, acc, dir, req)
	if err != nil || prior != nil {
		return prior, err
	}
	if !acc.Active() {
		return nil, ErrAccountInactive
	}

	var (
		result *MutationResult
		acct   *models.Account
		flow   *models.FlowRecord
	)
	err = s.mutex.WithLock(ctx, lock.AccountKey(acc.AccountID), s.opts.LockLease, func(lctx context.Context) error {
		cctx, cancel := context.WithTimeout(lctx, s.opts.CriticalTimeout)
		defer cancel()

		var err error
		result, acct, flow, err = s.commitWithRetry(cctx, acc.AccountID, dir, req)
		return err
	})
	if err != nil {
		err = translateLockErr(err)
		switch {
		case errors.Is(err, ErrInsufficientBalance), errors.Is(err, ErrAccountInactive), errors.Is(err, ErrValidation):
			s.audit.LogRejection(acc.AccountID, req.BizType, req.BizID, req.Amount, err)
		default:
			s.audit.LogError(acc.AccountID, req.BizID, err)
		}
		return nil, err
	}

	if flow != nil {
		s.publish(ctx, acct, flow)
	}
	return result, nil
}

// commitWithRetry runs under the account lock: re-read, re-check the
// idempotency key, compute, then a version-conditional write. A version
// conflict or a uniqueness violation restarts from the re-read.
func (s *LedgerService) commitWithRetry(ctx context.Context, accountID int64, dir models.Direction, req MutationRequest) (*MutationResult, *models.Account, *models.FlowRecord, error) {
	for attempt := 1; attempt <= s.opts.MaxCommitAttempts; attempt++ {
		acc, err := s.store.GetAccount(ctx, accountID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, nil, nil, ErrAccountNotFound
			}
			return nil, nil, nil, storeUnavailable("get account", err)
		}

		prior, err := s.priorResult(ctx, acc, dir, req)
		if err != nil || prior != nil {
			return prior, nil, nil, err
		}
		if !acc.Active() {
			return nil, nil, nil, ErrAccountInactive
		}

		newBalance, err := applyDelta(acc.Balance, dir, req.Amount)
		if err != nil {
			return nil, nil, nil, err
		}

		flow := &models.FlowRecord{
			FlowID:       s.ids.NextID(),
			AccountID:    acc.AccountID,
			BizType:      req.BizType,
			BizID:        req.BizID,
			Direction:    dir,
			Amount:       req.Amount,
			BalanceAfter: newBalance,
			CreatedAt:    s.now().UTC(),
		}
		next := *acc
		next.Balance = newBalance
		next.UpdatedAt = flow.CreatedAt

		err = s.store.CommitMutation(ctx, &next, acc.Version, flow)
		switch {
		case err == nil:
			next.Version = acc.Version + 1
			s.audit.LogMutation(&next, flow)
			return resultFromFlow(flow, next.Version, false), &next, flow, nil
		case errors.Is(err, store.ErrVersionConflict), errors.Is(err, store.ErrDuplicateFlow):
			s.logger.Warn("commit conflict under lock",
				zap.Int64("account_id", accountID),
				zap.String("biz_id", req.BizID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		default:
			return nil, nil, nil, storeUnavailable("commit", err)
		}
	}

	return nil, nil, nil, fmt.Errorf("%w: account %d after %d commit attempts", ErrBusy, accountID, s.opts.MaxCommitAttempts)
}

// priorResult returns the recorded outcome if the idempotency key was
// already applied, or nil if it was not.
func (s *LedgerService) priorResult(ctx context.Context, acc *models.Account, dir models.Direction, req MutationRequest) (*MutationResult, error) {
	exists, err := s.store.ExistsFlow(ctx, acc.AccountID, req.BizType, req.BizID)
	if err != nil {
		return nil, storeUnavailable("exists flow", err)
	}
	if !exists {
		return nil, nil
	}

	flow, err := s.store.GetFlow(ctx, acc.AccountID, req.BizType, req.BizID)
	if err != nil {
		return nil, storeUnavailable("get flow", err)
	}
	if flow.Direction != dir || flow.Amount != req.Amount {
		return nil, fmt.Errorf("%w: %s/%s was %s %d", ErrIdempotencyKeyReuse, req.BizType, req.BizID, flow.Direction, flow.Amount)
	}

	s.audit.LogDuplicate(acc.AccountID, req.BizType, req.BizID)
	return resultFromFlow(flow, acc.Version, true), nil
}

func (s *LedgerService) validateMutation(req MutationRequest) error {
	if err := s.validator.ValidateStruct(&req); err != nil {
		return errors.Join(ErrValidation, err)
	}
	if !req.BizType.Valid() {
		return fmt.Errorf("%w: unknown biz type %q", ErrValidation, req.BizType)
	}
	if req.BizType == models.BizTypeInitial {
		return fmt.Errorf("%w: biz type %s is reserved for account creation", ErrValidation, req.BizType)
	}
	return nil
}

func (s *LedgerService) resolveAccount(ctx context.Context, req MutationRequest) (*models.Account, error) {
	if req.AccountID == 0 {
		return s.accountByOwner(ctx, req.OwnerID)
	}

	acc, err := s.store.GetAccount(ctx, req.AccountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, storeUnavailable("get account", err)
	}
	if req.OwnerID != "" && req.OwnerID != acc.OwnerID {
		return nil, fmt.Errorf("%w: account %d does not belong to %s", ErrValidation, req.AccountID, req.OwnerID)
	}
	return acc, nil
}

func (s *LedgerService) accountByOwner(ctx context.Context, ownerID string) (*models.Account, error) {
	acc, err := s.store.GetAccountByOwner(ctx, ownerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, storeUnavailable("get account", err)
	}
	return acc, nil
}

// publish never fails the caller; the committed mutation is the source of truth.
func (s *LedgerService) publish(ctx context.Context, acc *models.Account, flow *models.FlowRecord) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := s.publisher.Publish(pctx, events.NewMutationEvent(acc, flow)); err != nil {
		s.logger.Warn("ledger event not published",
			zap.Int64("account_id", acc.AccountID),
			zap.Int64("flow_id", flow.FlowID),
			zap.Error(err),
		)
	}
}

func applyDelta(balance int64, dir models.Direction, amount int64) (int64, error) {
	if dir == models.DirectionDebit {
		if balance-amount < 0 {
			return 0, fmt.Errorf("%w: balance %d, requested %d", ErrInsufficientBalance, balance, amount)
		}
		return balance - amount, nil
	}
	if balance > math.MaxInt64-amount {
		return 0, fmt.Errorf("%w: credit of %d overflows balance", ErrValidation, amount)
	}
	return balance + amount, nil
}

func resultFromFlow(flow *models.FlowRecord, version int64, duplicate bool) *MutationResult {
	return &MutationResult{
		AccountID: flow.AccountID,
		FlowID:    flow.FlowID,
		BizType:   flow.BizType,
		BizID:     flow.BizID,
		Direction: flow.Direction,
		Amount:    flow.Amount,
		Balance:   flow.BalanceAfter,
		Version:   version,
		Duplicate: duplicate,
	}
}

// translateLockErr maps lock failures onto the service taxonomy. A lost
// lease wins over whatever fn returned, since fn's effect is then unknown.
func translateLockErr(err error) error {
	switch {
	case errors.Is(err, lock.ErrLeaseLost):
		return fmt.Errorf("%w: %v", ErrLeaseLost, err)
	case errors.Is(err, lock.ErrLockTimeout):
		return fmt.Errorf("%w: %v", ErrLockTimeout, err)
	case errors.Is(err, ErrValidation), errors.Is(err, ErrAccountNotFound), errors.Is(err, ErrAccountInactive),
		errors.Is(err, ErrInsufficientBalance), errors.Is(err, ErrBusy), errors.Is(err, ErrStoreUnavailable):
		return err
	default:
		return storeUnavailable("lock", err)
	}
}
