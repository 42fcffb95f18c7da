// Package warranty owns the lifecycle of the retained slice of a job payout.
package warranty

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/servicemart/ledgerhub/common"
	"github.com/servicemart/ledgerhub/db/models"
	"github.com/servicemart/ledgerhub/lib/audit"
	"github.com/servicemart/ledgerhub/lib/dispute"
	"github.com/servicemart/ledgerhub/lib/ledger"
	"github.com/servicemart/ledgerhub/lib/notify"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

var hundred = decimal.NewFromInt(100)

// ForfeitDestination chooses who receives a forfeited hold.
type ForfeitDestination string

const (
	ForfeitToDealer   ForfeitDestination = "DEALER"
	ForfeitToPlatform ForfeitDestination = "PLATFORM"
)

type CreateInput struct {
	JobID          string
	PaymentID      string
	TechnicianID   string
	DealerID       string
	HoldAmount     decimal.Decimal
	HoldPercentage decimal.Decimal
	WarrantyDays   int
}

type Service struct {
	db       *bun.DB
	ledger   *ledger.Service
	audit    audit.Recorder
	notifier notify.Notifier
	disputes dispute.Checker
	now      func() time.Time
}

type Option = func(s *Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(db *bun.DB, ledgerSvc *ledger.Service, recorder audit.Recorder, notifier notify.Notifier, disputes dispute.Checker, opts ...Option) *Service {
	s := &Service{
		db:       db,
		ledger:   ledgerSvc,
		audit:    recorder,
		notifier: notifier,
		disputes: disputes,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create locks a new hold and funds it from the dealer's receivable in the
// same transaction. A job can only have one active hold.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.WarrantyHold, *ledger.PostResult, error) {
	if err := validateCreate(in); err != nil {
		return nil, nil, err
	}
	now := s.now().Truncate(time.Second)
	end := now.AddDate(0, 0, in.WarrantyDays)
	hold := &models.WarrantyHold{
		ID:               common.NewID(),
		JobID:            in.JobID,
		PaymentID:        in.PaymentID,
		TechnicianID:     in.TechnicianID,
		DealerID:         in.DealerID,
		HoldAmount:       common.RoundMoney(in.HoldAmount),
		HoldPercentage:   in.HoldPercentage,
		WarrantyDays:     in.WarrantyDays,
		StartDate:        now,
		EndDate:          end,
		EffectiveEndDate: end,
		Status:           common.HoldStatusLocked,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	var posted *ledger.PostResult
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		active, err := tx.NewSelect().Model((*models.WarrantyHold)(nil)).
			Where("job_id = ?", in.JobID).
			Where("status IN (?)", bun.In(activeStates)).
			Exists(ctx)
		if err != nil {
			return &common.TransientError{Op: "check active hold", Err: err}
		}
		if active {
			return common.NewConflictError("warranty hold", "job %s already has an active hold", in.JobID)
		}
		if _, err := tx.NewInsert().Model(hold).Exec(ctx); err != nil {
			if common.IsUniqueViolation(err) {
				return common.NewConflictError("warranty hold", "job %s already has an active hold", in.JobID)
			}
			return &common.TransientError{Op: "insert warranty hold", Err: err}
		}
		posted, err = s.ledger.PostDoubleEntryTx(ctx, tx, in.JobID,
			ledger.Leg{
				Owner:       ledger.UserOwner(in.DealerID),
				AccountType: common.AccountTypeDealerReceivable,
				Amount:      hold.HoldAmount,
				Category:    common.EntryCategoryWarrantyHold,
				Description: fmt.Sprintf("warranty hold %s for %d days", hold.ID, in.WarrantyDays),
				Refs:        refs(hold),
			},
			ledger.Leg{
				Owner:       ledger.SystemOwner,
				AccountType: common.AccountTypeWarrantyHold,
				Amount:      hold.HoldAmount,
				Category:    common.EntryCategoryWarrantyHold,
				Description: fmt.Sprintf("warranty hold %s for %d days", hold.ID, in.WarrantyDays),
				Refs:        refs(hold),
			})
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	s.ledger.RecordPost(ctx, hold.JobID, posted)
	s.audit.Record(ctx, audit.Entry{
		JobID:       hold.JobID,
		Action:      audit.ActionHoldCreated,
		Description: fmt.Sprintf("warranty hold of %s locked until %s", hold.HoldAmount.StringFixed(2), hold.EndDate.Format(time.RFC3339)),
		NewValue:    snapshot(hold),
		Amount:      audit.Amount(hold.HoldAmount),
		Refs:        refs(hold),
	})
	s.notifier.Notify(ctx, notify.Notification{
		UserID:  hold.TechnicianID,
		JobID:   hold.JobID,
		Type:    notify.TypeHoldCreated,
		Title:   "Warranty hold started",
		Message: fmt.Sprintf("%s is held until %s.", hold.HoldAmount.StringFixed(2), hold.EndDate.Format("2006-01-02")),
	})
	return hold, posted, nil
}

func (s *Service) Get(ctx context.Context, holdID string) (*models.WarrantyHold, error) {
	return get(ctx, s.db, holdID)
}

func get(ctx context.Context, db bun.IDB, holdID string) (*models.WarrantyHold, error) {
	hold := &models.WarrantyHold{}
	err := db.NewSelect().Model(hold).Where("id = ?", holdID).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("warranty hold %s: %w", holdID, common.ErrNotFound)
	}
	if err != nil {
		return nil, &common.TransientError{Op: "load warranty hold", Err: err}
	}
	return hold, nil
}

func (s *Service) GetActiveForJob(ctx context.Context, jobID string) (*models.WarrantyHold, error) {
	hold := &models.WarrantyHold{}
	err := s.db.NewSelect().Model(hold).
		Where("job_id = ?", jobID).
		Where("status IN (?)", bun.In(activeStates)).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active warranty hold for job %s: %w", jobID, common.ErrNotFound)
	}
	if err != nil {
		return nil, &common.TransientError{Op: "load active warranty hold", Err: err}
	}
	return hold, nil
}

// ListEligibleForRelease returns LOCKED holds whose effective end date has
// passed. Disputes are not consulted here, see IsEligibleForRelease.
func (s *Service) ListEligibleForRelease(ctx context.Context, now time.Time) ([]models.WarrantyHold, error) {
	holds := []models.WarrantyHold{}
	err := s.db.NewSelect().Model(&holds).
		Where("status = ?", common.HoldStatusLocked).
		Where("effective_end_date <= ?", now.UTC()).
		OrderExpr("effective_end_date ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, &common.TransientError{Op: "list matured holds", Err: err}
	}
	return holds, nil
}

// IsEligibleForRelease is the auto-release test. An open dispute defers the
// release to a later sweep.
func (s *Service) IsEligibleForRelease(ctx context.Context, hold *models.WarrantyHold, now time.Time) (bool, error) {
	if hold.Status != common.HoldStatusLocked || now.Before(hold.EffectiveEndDate) {
		return false, nil
	}
	open, err := s.disputes.HasOpenDispute(ctx, hold.JobID)
	if err != nil {
		return false, err
	}
	return !open, nil
}

var activeStates = []string{common.HoldStatusLocked, common.HoldStatusFrozen}

func validateCreate(in CreateInput) error {
	switch {
	case in.JobID == "":
		return common.NewValidationError("job_id", "must not be empty")
	case in.PaymentID == "":
		return common.NewValidationError("payment_id", "must not be empty")
	case in.TechnicianID == "":
		return common.NewValidationError("technician_id", "must not be empty")
	case in.DealerID == "":
		return common.NewValidationError("dealer_id", "must not be empty")
	case !in.HoldAmount.IsPositive():
		return common.NewValidationError("hold_amount", "must be greater than zero")
	case in.HoldPercentage.IsNegative() || in.HoldPercentage.GreaterThan(hundred):
		return common.NewValidationError("hold_percentage", "must be between 0 and 100")
	case in.WarrantyDays <= 0:
		return common.NewValidationError("warranty_days", "must be greater than zero")
	}
	return nil
}

func refs(hold *models.WarrantyHold) common.Refs {
	return common.Refs{PaymentID: hold.PaymentID, WarrantyHoldID: hold.ID}
}

type holdSnapshot struct {
	Status           string    `json:"status"`
	EffectiveEndDate time.Time `json:"effective_end_date"`
	PausedDuration   int64     `json:"paused_duration"`
}

func snapshot(hold *models.WarrantyHold) holdSnapshot {
	return holdSnapshot{
		Status:           hold.Status,
		EffectiveEndDate: hold.EffectiveEndDate,
		PausedDuration:   hold.PausedDuration,
	}
}
