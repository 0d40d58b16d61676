package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ruralpay/coinledger/internal/events"
	"github.com/ruralpay/coinledger/internal/models"
	"github.com/ruralpay/coinledger/internal/services"
)

// Business event types accepted on the inbound topic.
const (
	EventUserRegistered = "USER_REGISTERED"
	EventInviteAccepted = "INVITE_ACCEPTED"
	EventFeatureUsed    = "FEATURE_USED"
	EventUserRemoved    = "USER_REMOVED"
)

// MessageReader is the part of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaReader joins groupID on topic. Offsets are committed explicitly.
func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
}

// BusinessEvent is the inbound message envelope. EventID doubles as the
// ledger bizId, which makes redelivery harmless.
type BusinessEvent struct {
	EventID    string    `json:"eventId" validate:"required,max=128"`
	Type       string    `json:"type" validate:"required"`
	OwnerID    string    `json:"ownerId" validate:"required,max=64"`
	Amount     int64     `json:"amount,omitempty" validate:"gte=0"`
	OccurredAt time.Time `json:"occurredAt"`
}

type ConsumerOptions struct {
	InviteReward int64
	MaxAttempts  int
	Backoff      time.Duration
}

// EventConsumer applies business events to the ledger with at-least-once
// semantics: a message's offset is committed only after it was applied,
// rejected for good, or parked on the dead letter topic. Events for an
// account that does not exist yet are parked, never dropped.
type EventConsumer struct {
	reader    MessageReader
	dlq       events.MessageWriter
	ledger    Ledger
	opts      ConsumerOptions
	validator *services.ValidationHelper
	logger    *zap.Logger
}

func NewEventConsumer(reader MessageReader, dlq events.MessageWriter, ledger Ledger, opts ConsumerOptions, logger *zap.Logger) *EventConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 200 * time.Millisecond
	}
	return &EventConsumer{
		reader:    reader,
		dlq:       dlq,
		ledger:    ledger,
		opts:      opts,
		validator: services.NewValidationHelper(),
		logger:    logger.Named("consumer"),
	}
}

// Run consumes until ctx is cancelled, which is not an error.
func (c *EventConsumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		if err := c.Handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
		}
	}
}

// Handle processes one message. A nil return means the offset may be committed.
func (c *EventConsumer) Handle(ctx context.Context, msg kafka.Message) error {
	log := c.logger.With(zap.Int("partition", msg.Partition), zap.Int64("offset", msg.Offset))

	var event BusinessEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		log.Warn("undecodable business event", zap.Error(err))
		return c.deadLetter(ctx, msg, "decode", err)
	}
	if err := c.validator.ValidateStruct(&event); err != nil {
		log.Warn("invalid business event", zap.String("event_id", event.EventID), zap.Error(err))
		return c.deadLetter(ctx, msg, "invalid", err)
	}
	log = log.With(zap.String("event_id", event.EventID), zap.String("type", event.Type), zap.String("owner_id", event.OwnerID))

	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		err := c.dispatch(ctx, event)
		switch {
		case err == nil:
			log.Debug("business event applied")
			return nil
		case errors.Is(err, errUnknownEventType):
			log.Info("ignoring business event")
			return nil
		case errors.Is(err, services.ErrAccountNotFound):
			// Usually arrived ahead of its USER_REGISTERED; park it for replay.
			log.Warn("business event for unknown account", zap.Error(err))
			return c.deadLetter(ctx, msg, "account not found", err)
		case !services.IsRetryable(err):
			log.Warn("business event rejected", zap.Error(err))
			return nil
		}

		lastErr = err
		log.Warn("business event failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
		if attempt == c.opts.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.opts.Backoff * time.Duration(attempt)):
		}
	}

	return c.deadLetter(ctx, msg, "retries exhausted", lastErr)
}

var errUnknownEventType = errors.New("unknown business event type")

func (c *EventConsumer) dispatch(ctx context.Context, event BusinessEvent) error {
	switch event.Type {
	case EventUserRegistered:
		_, _, err := c.ledger.InitAccount(ctx, event.OwnerID)
		return err
	case EventInviteAccepted:
		amount := event.Amount
		if amount == 0 {
			amount = c.opts.InviteReward
		}
		_, err := c.ledger.Deposit(ctx, services.MutationRequest{
			OwnerID: event.OwnerID,
			BizType: models.BizTypeInvite,
			BizID:   event.EventID,
			Amount:  amount,
		})
		return err
	case EventFeatureUsed:
		_, err := c.ledger.Withdraw(ctx, services.MutationRequest{
			OwnerID: event.OwnerID,
			BizType: models.BizTypeFeatureDebit,
			BizID:   event.EventID,
			Amount:  event.Amount,
		})
		return err
	case EventUserRemoved:
		return c.ledger.DeactivateAccount(ctx, event.OwnerID)
	default:
		return errUnknownEventType
	}
}

func (c *EventConsumer) deadLetter(ctx context.Context, msg kafka.Message, reason string, cause error) error {
	if c.dlq == nil {
		c.logger.Error("dropping business event, no dead letter topic",
			zap.Int64("offset", msg.Offset), zap.String("reason", reason), zap.Error(cause))
		return nil
	}

	headers := append([]kafka.Header(nil), msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: "dlq-reason", Value: []byte(reason)},
		kafka.Header{Key: "dlq-source-topic", Value: []byte(msg.Topic)},
	)
	if cause != nil {
		headers = append(headers, kafka.Header{Key: "dlq-error", Value: []byte(cause.Error())})
	}

	err := c.dlq.WriteMessages(ctx, kafka.Message{
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	})
	if err != nil {
		return fmt.Errorf("dead letter offset %d: %w", msg.Offset, err)
	}
	return nil
}
