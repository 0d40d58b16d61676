package models

import (
	"time"
)

// BizType categorizes why a balance changed.
type BizType string

const (
	BizTypeInitial        BizType = "INITIAL"
	BizTypeInvite         BizType = "INVITE"
	BizTypeFeatureDebit   BizType = "FEATURE_DEBIT"
	BizTypeManualDeposit  BizType = "MANUAL_DEPOSIT"
	BizTypeManualWithdraw BizType = "MANUAL_WITHDRAW"
	BizTypeOutfit         BizType = "OUTFIT"
)

var knownBizTypes = map[BizType]struct{}{
	BizTypeInitial:        {},
	BizTypeInvite:         {},
	BizTypeFeatureDebit:   {},
	BizTypeManualDeposit:  {},
	BizTypeManualWithdraw: {},
	BizTypeOutfit:         {},
}

// Valid reports whether t is one of the registered categories.
func (t BizType) Valid() bool {
	_, ok := knownBizTypes[t]
	return ok
}

// Manual reports whether t is an operator adjustment.
func (t BizType) Manual() bool {
	return t == BizTypeManualDeposit || t == BizTypeManualWithdraw
}

type Direction string

const (
	DirectionCredit Direction = "CREDIT"
	DirectionDebit  Direction = "DEBIT"
)

type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "ACTIVE"
	AccountStatusInactive AccountStatus = "INACTIVE"
)

// Account is the balance-holding aggregate of one owner.
type Account struct {
	AccountID int64         `json:"accountId" db:"account_id"`
	OwnerID   string        `json:"ownerId" db:"owner_id"`
	Balance   int64         `json:"balance" db:"balance"`   // smallest unit
	Version   int64         `json:"version" db:"version"`   // for optimistic locking
	Status    AccountStatus `json:"status" db:"status"`
	CreatedAt time.Time     `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time     `json:"updatedAt" db:"updated_at"`
}

func (a *Account) Active() bool {
	return a.Status == AccountStatusActive
}

// FlowRecord is an immutable ledger entry. (AccountID, BizType, BizID) is
// unique, and so is (AccountID, Version), which orders an account's history.
type FlowRecord struct {
	FlowID       int64     `json:"flowId" db:"flow_id"`
	AccountID    int64     `json:"accountId" db:"account_id"`
	BizType      BizType   `json:"bizType" db:"biz_type"`
	BizID        string    `json:"bizId" db:"biz_id"`
	Direction    Direction `json:"direction" db:"direction"`
	Amount       int64     `json:"amount" db:"amount"`
	BalanceAfter int64     `json:"balanceAfter" db:"balance_after"`
	Version      int64     `json:"version" db:"version"` // account version this entry produced
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}

// Delta returns the signed effect of the record on the balance.
func (f *FlowRecord) Delta() int64 {
	if f.Direction == DirectionDebit {
		return -f.Amount
	}
	return f.Amount
}
