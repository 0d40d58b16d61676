// Package events carries ledger completion notifications to other services.
// Delivery is best-effort: a publish failure never undoes a committed
// mutation, and consumers re-query balance or flow state when in doubt.
package events

import (
	"context"
	"crypto/rand"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ruralpay/coinledger/internal/models"
)

const TypeMutationCommitted = "ledger.mutation.committed"

// LedgerEvent describes one committed mutation.
type LedgerEvent struct {
	EventID    string           `json:"eventId"`
	Type       string           `json:"type"`
	AccountID  int64            `json:"accountId"`
	OwnerID    string           `json:"ownerId"`
	BizType    models.BizType   `json:"bizType"`
	BizID      string           `json:"bizId"`
	Direction  models.Direction `json:"direction"`
	Amount     int64            `json:"amount"`
	NewBalance int64            `json:"newBalance"`
	Version    int64            `json:"version"`
	OccurredAt time.Time        `json:"occurredAt"`
}

// NewMutationEvent builds the notification for a committed flow record.
func NewMutationEvent(acc *models.Account, flow *models.FlowRecord) LedgerEvent {
	return LedgerEvent{
		EventID:    NewEventID(flow.CreatedAt),
		Type:       TypeMutationCommitted,
		AccountID:  acc.AccountID,
		OwnerID:    acc.OwnerID,
		BizType:    flow.BizType,
		BizID:      flow.BizID,
		Direction:  flow.Direction,
		Amount:     flow.Amount,
		NewBalance: flow.BalanceAfter,
		Version:    acc.Version,
		OccurredAt: flow.CreatedAt,
	}
}

// NewEventID returns a lexicographically time-sortable id.
func NewEventID(at time.Time) string {
	if at.IsZero() {
		at = time.Now()
	}
	return ulid.MustNew(ulid.Timestamp(at), rand.Reader).String()
}

type Publisher interface {
	Publish(ctx context.Context, event LedgerEvent) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, LedgerEvent) error { return nil }

// MultiPublisher fans an event out to every sink and reports all failures.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, event LedgerEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
