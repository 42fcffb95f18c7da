// Package audit keeps the append-only trail of financial mutations.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/servicemart/ledgerhub/common"
	"github.com/servicemart/ledgerhub/db/models"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
	"github.com/ziflex/lecho/v3"
)

const (
	ActionLedgerPost             = "LEDGER_POST"
	ActionLedgerCompensation     = "LEDGER_COMPENSATION"
	ActionCommissionRuleCreated  = "COMMISSION_RULE_CREATED"
	ActionCommissionRuleDisabled = "COMMISSION_RULE_DEACTIVATED"
	ActionMarginRuleCreated      = "MARGIN_RULE_CREATED"
	ActionHoldCreated            = "WARRANTY_HOLD_CREATED"
	ActionHoldFrozen             = "WARRANTY_HOLD_FROZEN"
	ActionHoldUnfrozen           = "WARRANTY_HOLD_UNFROZEN"
	ActionHoldReleased           = "WARRANTY_HOLD_RELEASED"
	ActionHoldForfeited          = "WARRANTY_HOLD_FORFEITED"
	ActionPaymentSplit           = "PAYMENT_SPLIT"
	ActionSplitRejected          = "SPLIT_REJECTED"
	ActionSplitFailed            = "SPLIT_FAILED"
	ActionSoftLockExpired        = "SOFT_LOCK_EXPIRED"
	ActionPaymentDeadlineExpired = "PAYMENT_DEADLINE_EXPIRED"
	ActionBidExpired             = "BID_EXPIRED"
)

const (
	defaultListLimit = 100
	recordTimeout    = 5 * time.Second
)

// Entry is what callers hand to Record. Previous/New/Metadata are stored as JSON.
type Entry struct {
	JobID         string
	Actor         common.Actor
	Action        string
	Description   string
	PreviousValue interface{}
	NewValue      interface{}
	Amount        decimal.NullDecimal
	Refs          common.Refs
	Metadata      map[string]interface{}
}

// Recorder is implemented by Logger. Components depend on this so tests can
// count records without a database.
type Recorder interface {
	Record(ctx context.Context, entry Entry)
}

type Filter struct {
	JobID  string
	UserID string
	Action string
	Limit  int
}

type Logger struct {
	db     bun.IDB
	logger *lecho.Logger
}

func New(db bun.IDB, logger *lecho.Logger) *Logger {
	return &Logger{db: db, logger: logger}
}

// Record persists entry synchronously. A failure is logged and reported,
// never returned: the mutation being audited has already happened. The write
// outlives cancellation of ctx.
func (l *Logger) Record(ctx context.Context, entry Entry) {
	if entry.Actor.Role == "" {
		entry.Actor = common.ActorFromContext(ctx)
	}
	row, err := toModel(entry)
	if err != nil {
		l.capture(entry, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if _, err := l.db.NewInsert().Model(row).Exec(ctx); err != nil {
		l.capture(entry, err)
	}
}

func (l *Logger) capture(entry Entry, err error) {
	l.logger.Errorf("Failed to write audit record action:%s job_id:%s error: %v", entry.Action, entry.JobID, err)
	sentry.CaptureException(err)
}

func (l *Logger) List(ctx context.Context, filter Filter) ([]models.AuditLog, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = defaultListLimit
	}
	logs := []models.AuditLog{}
	q := l.db.NewSelect().Model(&logs)
	if filter.JobID != "" {
		q = q.Where("job_id = ?", filter.JobID)
	}
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.Action != "" {
		q = q.Where("action = ?", filter.Action)
	}
	if err := q.OrderExpr("created_at DESC, id DESC").Limit(limit).Scan(ctx); err != nil {
		return nil, &common.TransientError{Op: "list audit logs", Err: err}
	}
	return logs, nil
}

func toModel(entry Entry) (*models.AuditLog, error) {
	previous, err := encode(entry.PreviousValue)
	if err != nil {
		return nil, err
	}
	next, err := encode(entry.NewValue)
	if err != nil {
		return nil, err
	}
	var metadata string
	if len(entry.Metadata) > 0 {
		if metadata, err = encode(entry.Metadata); err != nil {
			return nil, err
		}
	}
	return &models.AuditLog{
		ID:             common.NewID(),
		JobID:          entry.JobID,
		UserID:         entry.Actor.UserID,
		Role:           entry.Actor.Role,
		Action:         entry.Action,
		Description:    entry.Description,
		PreviousValue:  previous,
		NewValue:       next,
		Amount:         entry.Amount,
		PaymentID:      entry.Refs.PaymentID,
		WarrantyHoldID: entry.Refs.WarrantyHoldID,
		WithdrawalID:   entry.Refs.WithdrawalID,
		Metadata:       metadata,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

func encode(v interface{}) (string, error) {
	if v == nil {
		return "", nil
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Amount wraps a decimal for Entry.Amount.
func Amount(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}
