package settlement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/servicemart/ledgerhub/common"
	"github.com/servicemart/ledgerhub/db/models"
	"github.com/servicemart/ledgerhub/lib/audit"
	"github.com/servicemart/ledgerhub/lib/commission"
	"github.com/servicemart/ledgerhub/lib/ledger"
	"github.com/servicemart/ledgerhub/lib/metrics"
	"github.com/servicemart/ledgerhub/lib/notify"
	"github.com/servicemart/ledgerhub/lib/warranty"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Split settles a confirmed payment. Commission is taken from the full
// total, the rest is divided between the immediate payout and the warranty
// hold. Each ledger step commits on its own; a failure after the first
// commit comes back as *PartialSplitError.
func (o *Orchestrator) Split(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	defer func() {
		metrics.SplitDuration.Observe(time.Since(start).Seconds())
	}()

	result, err := o.split(ctx, req)
	metrics.SplitsTotal.WithLabelValues(outcome(err)).Inc()
	return result, err
}

func (o *Orchestrator) split(ctx context.Context, req Request) (*Result, error) {
	if err := o.validateRequest(&req); err != nil {
		return nil, err
	}
	holdPct := o.defaults.HoldPercentage
	if req.HoldPercentage != nil {
		holdPct = *req.HoldPercentage
	}
	warrantyDays := o.defaults.WarrantyDays
	if req.WarrantyDays > 0 {
		warrantyDays = req.WarrantyDays
	}
	if holdPct.IsNegative() || holdPct.GreaterThan(decimal.NewFromInt(100)) {
		return nil, common.NewValidationError("hold_percentage", "must be between 0 and 100")
	}

	exists, err := o.db.NewSelect().Model((*models.JobPayment)(nil)).
		Where("job_id = ?", req.JobID).
		Where("payment_type = ?", common.PaymentTypeService).
		Exists(ctx)
	if err != nil {
		return nil, &common.TransientError{Op: "check settlement", Err: err}
	}
	if exists {
		return nil, common.NewConflictError("settlement", "job %s already has a %s record", req.JobID, common.PaymentTypeService)
	}
	if err := o.checkUnsettledEntries(ctx, req); err != nil {
		return nil, err
	}

	total := common.RoundMoney(req.TotalAmount)
	resolution, err := o.commission.Resolve(ctx, commission.Request{
		TotalAmount:          total,
		JobType:              req.JobType,
		City:                 req.City,
		Region:               req.Region,
		DealerID:             req.DealerID,
		ServiceCategoryID:    req.ServiceCategoryID,
		ServiceSubCategoryID: req.ServiceSubCategoryID,
	})
	if err != nil {
		return nil, err
	}
	margin, err := o.commission.CheckMinimumMargin(ctx, resolution.Amount, total, true, false)
	if err != nil {
		return nil, err
	}
	if !margin.MeetsMinimum && margin.AutoReject {
		rejection := margin.Rejection(resolution.Amount)
		o.audit.Record(ctx, audit.Entry{
			JobID:       req.JobID,
			Action:      audit.ActionSplitRejected,
			Description: rejection.Error(),
			NewValue:    margin,
			Amount:      audit.Amount(total),
			Refs:        common.Refs{PaymentID: req.PaymentID},
		})
		o.logger.Warnf("Split rejected job_id:%s commission:%s minimum:%s", req.JobID, resolution.Amount.StringFixed(2), margin.MinimumRequired.StringFixed(2))
		return nil, rejection
	}

	fee := resolution.Amount
	net := total.Sub(fee)
	holdAmount := common.Percent(net, holdPct)
	immediate := net.Sub(holdAmount)

	result := &Result{Commission: resolution, Margin: margin}
	refs := common.Refs{PaymentID: req.PaymentID}
	var completed []string
	fail := func(step string, err error) (*Result, error) {
		if len(completed) == 0 {
			return nil, err
		}
		partial := &PartialSplitError{JobID: req.JobID, Completed: completed, Failed: step, Err: err}
		o.audit.Record(ctx, audit.Entry{
			JobID:       req.JobID,
			Action:      audit.ActionSplitFailed,
			Description: partial.Error(),
			Amount:      audit.Amount(total),
			Refs:        refs,
			Metadata:    map[string]interface{}{"completed": completed, "failed": step},
		})
		o.logger.Errorf("Partial split job_id:%s completed:%v failed:%s error: %v", req.JobID, completed, step, err)
		return result, partial
	}

	if fee.IsPositive() {
		result.CommissionPost, err = o.ledger.PostDoubleEntry(ctx, req.JobID,
			o.receivable(req, fee, common.EntryCategoryCommission, "platform commission"),
			ledger.Leg{
				Owner:       ledger.SystemOwner,
				AccountType: common.AccountTypePlatformCommission,
				Amount:      fee,
				Category:    common.EntryCategoryCommission,
				Description: fmt.Sprintf("platform commission (%s)", resolution.RuleSource),
				Refs:        refs,
			})
		if err != nil {
			return fail(StepCommission, err)
		}
		completed = append(completed, StepCommission)
	}

	if immediate.IsPositive() {
		result.PayoutPost, err = o.ledger.PostDoubleEntry(ctx, req.JobID,
			o.receivable(req, immediate, common.EntryCategoryJobPayment, "technician payout"),
			ledger.Leg{
				Owner:       ledger.UserOwner(req.TechnicianID),
				AccountType: common.AccountTypeTechnicianPayable,
				Amount:      immediate,
				Category:    common.EntryCategoryJobPayment,
				Description: "technician payout",
				Refs:        refs,
			})
		if err != nil {
			return fail(StepPayout, err)
		}
		completed = append(completed, StepPayout)
	}

	if holdAmount.IsPositive() {
		result.Hold, _, err = o.warranty.Create(ctx, warranty.CreateInput{
			JobID:          req.JobID,
			PaymentID:      req.PaymentID,
			TechnicianID:   req.TechnicianID,
			DealerID:       req.DealerID,
			HoldAmount:     holdAmount,
			HoldPercentage: holdPct,
			WarrantyDays:   warrantyDays,
		})
		if err != nil {
			return fail(StepHold, err)
		}
		completed = append(completed, StepHold)
	}

	now := o.now()
	payment := &models.JobPayment{
		ID:                 common.NewID(),
		JobID:              req.JobID,
		PaymentID:          req.PaymentID,
		PaymentType:        common.PaymentTypeService,
		TechnicianID:       req.TechnicianID,
		DealerID:           req.DealerID,
		TotalAmount:        total,
		CommissionAmount:   fee,
		NetAmount:          net,
		ImmediateAmount:    immediate,
		WarrantyHoldAmount: holdAmount,
		HoldPercentage:     holdPct,
		CommissionRuleID:   resolution.RuleID,
		CommissionSource:   resolution.RuleSource,
		RequiresApproval:   !margin.MeetsMinimum && margin.RequiresApproval,
		Status:             common.SettlementStatusEscrowHold,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if result.Hold != nil {
		payment.WarrantyHoldID = result.Hold.ID
	} else {
		payment.Status = common.SettlementStatusReleased
		payment.ReleasedAt.Time = now
	}
	if result.CommissionPost != nil {
		payment.CommissionPairID = result.CommissionPost.PairID
	}
	if result.PayoutPost != nil {
		payment.PayoutPairID = result.PayoutPost.PairID
	}
	if _, err := o.db.NewInsert().Model(payment).Exec(ctx); err != nil {
		if common.IsUniqueViolation(err) {
			return fail(StepRecord, common.NewConflictError("settlement", "job %s already has a %s record", req.JobID, common.PaymentTypeService))
		}
		return fail(StepRecord, &common.TransientError{Op: "insert settlement", Err: err})
	}
	result.Payment = payment

	description := fmt.Sprintf("split %s: commission %s, immediate %s, held %s",
		total.StringFixed(2), fee.StringFixed(2), immediate.StringFixed(2), holdAmount.StringFixed(2))
	o.audit.Record(ctx, audit.Entry{
		JobID:       req.JobID,
		Action:      audit.ActionPaymentSplit,
		Description: description,
		NewValue:    payment,
		Amount:      audit.Amount(total),
		Refs:        common.Refs{PaymentID: req.PaymentID, WarrantyHoldID: payment.WarrantyHoldID},
		Metadata:    map[string]interface{}{"rule_source": resolution.RuleSource, "requires_approval": payment.RequiresApproval},
	})
	o.notifier.Notify(ctx, notify.Notification{
		UserID:  req.TechnicianID,
		JobID:   req.JobID,
		Type:    notify.TypePaymentSplit,
		Title:   "Payment received",
		Message: fmt.Sprintf("%s is available now, %s is held for %d days.", immediate.StringFixed(2), holdAmount.StringFixed(2), warrantyDays),
	})
	o.notifier.Notify(ctx, notify.Notification{
		UserID:  req.DealerID,
		JobID:   req.JobID,
		Type:    notify.TypePaymentSplit,
		Title:   "Payment settled",
		Message: fmt.Sprintf("Payment of %s for job %s has been settled.", total.StringFixed(2), req.JobID),
	})
	return result, nil
}

var splitCategories = []string{
	common.EntryCategoryCommission,
	common.EntryCategoryJobPayment,
	common.EntryCategoryWarrantyHold,
}

// checkUnsettledEntries stops a split whose earlier attempt committed some
// steps. The ledger's duplicate guard would otherwise report the job as
// already settled.
func (o *Orchestrator) checkUnsettledEntries(ctx context.Context, req Request) error {
	var categories []string
	err := o.db.NewSelect().Model((*models.LedgerEntry)(nil)).
		ColumnExpr("DISTINCT category").
		Where("job_id = ?", req.JobID).
		Where("category IN (?)", bun.In(splitCategories)).
		OrderExpr("category ASC").
		Scan(ctx, &categories)
	if err != nil {
		return &common.TransientError{Op: "check split entries", Err: err}
	}
	if len(categories) == 0 {
		return nil
	}
	unsettled := &UnsettledEntriesError{JobID: req.JobID, Categories: categories}
	o.audit.Record(ctx, audit.Entry{
		JobID:       req.JobID,
		Action:      audit.ActionSplitFailed,
		Description: unsettled.Error(),
		Amount:      audit.Amount(common.RoundMoney(req.TotalAmount)),
		Refs:        common.Refs{PaymentID: req.PaymentID},
		Metadata:    map[string]interface{}{"categories": categories},
	})
	o.logger.Errorf("Refusing split job_id:%s: %v", req.JobID, unsettled)
	return unsettled
}

// receivable is the payer side of every split posting.
func (o *Orchestrator) receivable(req Request, amount decimal.Decimal, category, description string) ledger.Leg {
	return ledger.Leg{
		Owner:       ledger.UserOwner(req.DealerID),
		AccountType: common.AccountTypeDealerReceivable,
		Amount:      amount,
		Category:    category,
		Description: description,
		Refs:        common.Refs{PaymentID: req.PaymentID},
	}
}

func (o *Orchestrator) validateRequest(req *Request) error {
	if err := o.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return common.NewValidationError(fieldErrs[0].Field(), "failed on %s", fieldErrs[0].Tag())
		}
		return common.NewValidationError("request", "%v", err)
	}
	if !req.TotalAmount.IsPositive() {
		return common.NewValidationError("total_amount", "must be greater than zero")
	}
	if req.PaymentID == "" {
		req.PaymentID = DefaultPaymentID(req.JobID)
	}
	return nil
}

// DefaultPaymentID keys the split entries when the caller has no payment id,
// so a retried split collides on the ledger's natural key.
func DefaultPaymentID(jobID string) string {
	return common.PaymentTypeService + ":" + jobID
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSettled
	case errors.Is(err, common.ErrIncompleteSettlement):
		return metrics.OutcomePartial
	case errors.Is(err, common.ErrPolicyRejected):
		return metrics.OutcomeRejected
	case errors.Is(err, common.ErrConflict):
		return metrics.OutcomeConflict
	}
	return metrics.OutcomeFailed
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
