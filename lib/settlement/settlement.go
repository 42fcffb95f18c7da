// Package settlement splits a confirmed job payment into the platform fee,
// the immediate technician payout and the warranty hold.
package settlement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/servicemart/ledgerhub/common"
	"github.com/servicemart/ledgerhub/db/models"
	"github.com/servicemart/ledgerhub/lib/audit"
	"github.com/servicemart/ledgerhub/lib/commission"
	"github.com/servicemart/ledgerhub/lib/ledger"
	"github.com/servicemart/ledgerhub/lib/notify"
	"github.com/servicemart/ledgerhub/lib/warranty"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
	"github.com/ziflex/lecho/v3"
)

// Steps, in the order they commit.
const (
	StepCommission = "commission"
	StepPayout     = "payout"
	StepHold       = "warranty_hold"
	StepRecord     = "settlement_record"
)

// Request is the payment confirmed by the job collaborator. HoldPercentage
// and WarrantyDays fall back to the configured defaults when nil or zero.
type Request struct {
	JobID                string           `json:"job_id" validate:"required"`
	PaymentID            string           `json:"payment_id"`
	TechnicianID         string           `json:"technician_id" validate:"required"`
	DealerID             string           `json:"dealer_id" validate:"required"`
	TotalAmount          decimal.Decimal  `json:"total_amount"`
	JobType              string           `json:"job_type"`
	City                 string           `json:"city"`
	Region               string           `json:"region"`
	ServiceCategoryID    string           `json:"service_category_id,omitempty"`
	ServiceSubCategoryID string           `json:"service_sub_category_id,omitempty"`
	HoldPercentage       *decimal.Decimal `json:"hold_percentage,omitempty"`
	WarrantyDays         int              `json:"warranty_days,omitempty" validate:"gte=0"`
}

type Result struct {
	Payment        *models.JobPayment      `json:"payment"`
	Commission     *commission.Resolution  `json:"commission"`
	Margin         *commission.MarginCheck `json:"margin"`
	CommissionPost *ledger.PostResult      `json:"commission_post,omitempty"`
	PayoutPost     *ledger.PostResult      `json:"payout_post,omitempty"`
	Hold           *models.WarrantyHold    `json:"warranty_hold,omitempty"`
}

// PartialSplitError means some ledger steps are durable and a later one
// failed. Nothing is rolled back; the completed steps need compensation or
// a manual retry of the remainder.
type PartialSplitError struct {
	JobID     string
	Completed []string
	Failed    string
	Err       error
}

func (e *PartialSplitError) Error() string {
	return fmt.Sprintf("split of job %s failed at %s after [%s]: %v", e.JobID, e.Failed, strings.Join(e.Completed, ","), e.Err)
}

func (e *PartialSplitError) Unwrap() error { return e.Err }

func (e *PartialSplitError) Is(target error) bool { return target == common.ErrIncompleteSettlement }

// UnsettledEntriesError is returned when split entries for a job are on the
// books but its settlement record is missing, as left behind by an earlier
// partial split.
type UnsettledEntriesError struct {
	JobID      string
	Categories []string
}

func (e *UnsettledEntriesError) Error() string {
	return fmt.Sprintf("job %s has [%s] ledger entries without a settlement record", e.JobID, strings.Join(e.Categories, ","))
}

func (e *UnsettledEntriesError) Unwrap() error { return common.ErrIncompleteSettlement }

type Defaults struct {
	HoldPercentage decimal.Decimal
	WarrantyDays   int
}

type Orchestrator struct {
	db         *bun.DB
	ledger     *ledger.Service
	commission *commission.Resolver
	warranty   *warranty.Service
	audit      audit.Recorder
	notifier   notify.Notifier
	logger     *lecho.Logger
	validate   *validator.Validate
	defaults   Defaults
	now        func() time.Time
}

type Option = func(o *Orchestrator)

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

func NewOrchestrator(db *bun.DB, ledgerSvc *ledger.Service, resolver *commission.Resolver, warrantySvc *warranty.Service,
	recorder audit.Recorder, notifier notify.Notifier, logger *lecho.Logger, defaults Defaults, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		db:         db,
		ledger:     ledgerSvc,
		commission: resolver,
		warranty:   warrantySvc,
		audit:      recorder,
		notifier:   notifier,
		logger:     logger,
		validate:   validator.New(),
		defaults:   defaults,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// GetByJob returns the SERVICE_PAYMENT settlement record of a job.
func (o *Orchestrator) GetByJob(ctx context.Context, jobID string) (*models.JobPayment, error) {
	payment := &models.JobPayment{}
	err := o.db.NewSelect().Model(payment).
		Where("job_id = ?", jobID).
		Where("payment_type = ?", common.PaymentTypeService).
		Limit(1).
		Scan(ctx)
	if isNoRows(err) {
		return nil, fmt.Errorf("settlement for job %s: %w", jobID, common.ErrNotFound)
	}
	if err != nil {
		return nil, &common.TransientError{Op: "load settlement", Err: err}
	}
	return payment, nil
}
