// Package audit writes the ledger's audit trail through zap.
package audit

import (
	"go.uber.org/zap"

	"github.com/ruralpay/coinledger/internal/models"
)

const (
	EventMutation  = "MUTATION"
	EventDuplicate = "DUPLICATE"
	EventRejected  = "REJECTED"
	EventError     = "ERROR"
	EventStatus    = "STATUS_CHANGE"
)

type AuditLogger struct {
	logger *zap.Logger
}

func NewAuditLogger(logger *zap.Logger) *AuditLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditLogger{logger: logger.Named("audit")}
}

// LogMutation records a committed flow.
func (a *AuditLogger) LogMutation(acc *models.Account, flow *models.FlowRecord) {
	a.logger.Info("AUDIT",
		zap.String("event_type", EventMutation),
		zap.Int64("account_id", acc.AccountID),
		zap.String("owner_id", acc.OwnerID),
		zap.Int64("flow_id", flow.FlowID),
		zap.String("biz_type", string(flow.BizType)),
		zap.String("biz_id", flow.BizID),
		zap.String("direction", string(flow.Direction)),
		zap.Int64("amount", flow.Amount),
		zap.Int64("balance_after", flow.BalanceAfter),
		zap.Int64("version", acc.Version),
	)
}

// LogDuplicate records a replayed request that was answered from an existing flow.
func (a *AuditLogger) LogDuplicate(accountID int64, bizType models.BizType, bizID string) {
	a.logger.Info("AUDIT",
		zap.String("event_type", EventDuplicate),
		zap.Int64("account_id", accountID),
		zap.String("biz_type", string(bizType)),
		zap.String("biz_id", bizID),
	)
}

func (a *AuditLogger) LogRejection(accountID int64, bizType models.BizType, bizID string, amount int64, reason error) {
	a.logger.Warn("AUDIT",
		zap.String("event_type", EventRejected),
		zap.Int64("account_id", accountID),
		zap.String("biz_type", string(bizType)),
		zap.String("biz_id", bizID),
		zap.Int64("amount", amount),
		zap.Error(reason),
	)
}

func (a *AuditLogger) LogStatusChange(accountID int64, status models.AccountStatus) {
	a.logger.Info("AUDIT",
		zap.String("event_type", EventStatus),
		zap.Int64("account_id", accountID),
		zap.String("status", string(status)),
	)
}

func (a *AuditLogger) LogError(accountID int64, bizID string, err error) {
	a.logger.Error("AUDIT",
		zap.String("event_type", EventError),
		zap.Int64("account_id", accountID),
		zap.String("biz_id", bizID),
		zap.Error(err),
	)
}
