package settlement_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/servicemart/ledgerhub/common"
	"github.com/servicemart/ledgerhub/db/dbtest"
	"github.com/servicemart/ledgerhub/lib/audit"
	"github.com/servicemart/ledgerhub/lib/commission"
	"github.com/servicemart/ledgerhub/lib/dispute"
	"github.com/servicemart/ledgerhub/lib/ledger"
	"github.com/servicemart/ledgerhub/lib/notify"
	"github.com/servicemart/ledgerhub/lib/settlement"
	"github.com/servicemart/ledgerhub/lib/warranty"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"github.com/uptrace/bun"
	"github.com/ziflex/lecho/v3"
)

type SplitTestSuite struct {
	suite.Suite
	db       *bun.DB
	audit    *audit.Logger
	ledger   *ledger.Service
	resolver *commission.Resolver
	warranty *warranty.Service
	split    *settlement.Orchestrator
}

func (suite *SplitTestSuite) SetupTest() {
	logger := lecho.New(io.Discard)
	suite.db = dbtest.Open(suite.T())
	suite.audit = audit.New(suite.db, logger)
	suite.ledger = ledger.NewService(suite.db, suite.audit, logger)
	suite.resolver = commission.NewResolver(commission.NewBunStore(suite.db), suite.audit)
	suite.warranty = warranty.NewService(suite.db, suite.ledger, suite.audit, notify.Discard{}, dispute.Static{})
	suite.split = settlement.NewOrchestrator(suite.db, suite.ledger, suite.resolver, suite.warranty, suite.audit, notify.Discard{}, logger,
		settlement.Defaults{HoldPercentage: decimal.NewFromInt(20), WarrantyDays: 10})
}

func (suite *SplitTestSuite) defaultRule(pct int64) {
	_, err := suite.resolver.CreateRule(context.Background(), commission.RuleInput{
		CommissionType:  common.CommissionTypePercentage,
		CommissionValue: decimal.NewFromInt(pct),
	})
	suite.Require().NoError(err)
}

func request(jobID string) settlement.Request {
	return settlement.Request{
		JobID:        jobID,
		TechnicianID: "tech-1",
		DealerID:     "dealer-1",
		TotalAmount:  decimal.NewFromInt(10000),
		JobType:      "REPAIR",
		City:         "Pune",
		Region:       "West",
	}
}

func (suite *SplitTestSuite) balance(jobID string, owner ledger.Owner, accountType string) string {
	b, err := suite.ledger.GetAccountBalance(context.Background(), jobID, owner, accountType)
	suite.Require().NoError(err)
	return b.StringFixed(2)
}

func (suite *SplitTestSuite) TestScenarioA() {
	ctx := context.Background()
	suite.defaultRule(5)

	result, err := suite.split.Split(ctx, request("job-1"))
	suite.Require().NoError(err)

	payment := result.Payment
	suite.Equal("500.00", payment.CommissionAmount.StringFixed(2))
	suite.Equal("9500.00", payment.NetAmount.StringFixed(2))
	suite.Equal("1900.00", payment.WarrantyHoldAmount.StringFixed(2))
	suite.Equal("7600.00", payment.ImmediateAmount.StringFixed(2))
	suite.Equal(common.SettlementStatusEscrowHold, payment.Status)
	suite.Equal(settlement.DefaultPaymentID("job-1"), payment.PaymentID)
	suite.Equal("default", payment.CommissionSource)
	suite.False(payment.RequiresApproval)
	suite.Require().NotNil(result.Hold)
	suite.Equal(result.Hold.ID, payment.WarrantyHoldID)
	suite.Equal(10, result.Hold.WarrantyDays)

	suite.Equal("7600.00", suite.balance("job-1", ledger.UserOwner("tech-1"), common.AccountTypeTechnicianPayable))
	suite.Equal("1900.00", suite.balance("job-1", ledger.SystemOwner, common.AccountTypeWarrantyHold))
	suite.Equal("500.00", suite.balance("job-1", ledger.SystemOwner, common.AccountTypePlatformCommission))
	suite.Equal("-10000.00", suite.balance("job-1", ledger.UserOwner("dealer-1"), common.AccountTypeDealerReceivable))

	verified, err := suite.ledger.VerifyJobBalance(ctx, "job-1")
	suite.Require().NoError(err)
	suite.True(verified.Balanced)
	suite.Equal("0.00", verified.Total.StringFixed(2))
	suite.Equal(6, verified.Entries)

	stored, err := suite.split.GetByJob(ctx, "job-1")
	suite.Require().NoError(err)
	suite.Equal(payment.ID, stored.ID)

	logs, err := suite.audit.List(ctx, audit.Filter{JobID: "job-1", Action: audit.ActionPaymentSplit})
	suite.Require().NoError(err)
	suite.Len(logs, 1)
}

func (suite *SplitTestSuite) TestSecondSplitIsRejected() {
	ctx := context.Background()
	suite.defaultRule(5)

	_, err := suite.split.Split(ctx, request("job-1"))
	suite.Require().NoError(err)
	before, err := suite.ledger.ListJobEntries(ctx, "job-1")
	suite.Require().NoError(err)

	again := request("job-1")
	again.PaymentID = "another-payment"
	_, err = suite.split.Split(ctx, again)
	suite.ErrorIs(err, common.ErrConflict)

	after, err := suite.ledger.ListJobEntries(ctx, "job-1")
	suite.Require().NoError(err)
	suite.Len(after, len(before))
	suite.Equal("7600.00", suite.balance("job-1", ledger.UserOwner("tech-1"), common.AccountTypeTechnicianPayable))
	suite.Equal("-10000.00", suite.balance("job-1", ledger.UserOwner("dealer-1"), common.AccountTypeDealerReceivable))
}

func (suite *SplitTestSuite) TestAutoRejectCarriesShortfall() {
	ctx := context.Background()
	suite.defaultRule(5)
	_, err := suite.resolver.CreateMarginRule(ctx, commission.MarginRuleInput{
		AppliesTo:      common.MarginAppliesToService,
		ThresholdType:  common.CommissionTypeFixed,
		ThresholdValue: decimal.NewFromInt(800),
		AutoReject:     true,
	})
	suite.Require().NoError(err)

	_, err = suite.split.Split(ctx, request("job-1"))
	suite.ErrorIs(err, common.ErrPolicyRejected)
	var rejection *common.PolicyRejection
	suite.Require().True(errors.As(err, &rejection))
	suite.Equal("300.00", rejection.Shortfall.StringFixed(2))
	suite.Equal("800.00", rejection.MinimumRequired.StringFixed(2))

	entries, err := suite.ledger.ListJobEntries(ctx, "job-1")
	suite.Require().NoError(err)
	suite.Empty(entries)
	_, err = suite.split.GetByJob(ctx, "job-1")
	suite.ErrorIs(err, common.ErrNotFound)

	logs, err := suite.audit.List(ctx, audit.Filter{JobID: "job-1", Action: audit.ActionSplitRejected})
	suite.Require().NoError(err)
	suite.Len(logs, 1)
}

func (suite *SplitTestSuite) TestBelowMarginNeedsApproval() {
	ctx := context.Background()
	suite.defaultRule(5)
	_, err := suite.resolver.CreateMarginRule(ctx, commission.MarginRuleInput{
		AppliesTo:        common.MarginAppliesToAll,
		ThresholdType:    common.CommissionTypePercentage,
		ThresholdValue:   decimal.NewFromInt(8),
		RequiresApproval: true,
	})
	suite.Require().NoError(err)

	result, err := suite.split.Split(ctx, request("job-1"))
	suite.Require().NoError(err)
	suite.True(result.Payment.RequiresApproval)
	suite.False(result.Margin.MeetsMinimum)
	suite.Equal("300.00", result.Margin.Shortfall.StringFixed(2))
}

func (suite *SplitTestSuite) TestZeroHoldSettlesImmediately() {
	ctx := context.Background()
	req := request("job-1")
	zero := decimal.Zero
	req.HoldPercentage = &zero

	result, err := suite.split.Split(ctx, req)
	suite.Require().NoError(err)
	suite.Nil(result.Hold)
	suite.Nil(result.CommissionPost)
	suite.Equal("none", result.Payment.CommissionSource)
	suite.Equal(common.SettlementStatusReleased, result.Payment.Status)
	suite.False(result.Payment.ReleasedAt.IsZero())
	suite.Equal("10000.00", suite.balance("job-1", ledger.UserOwner("tech-1"), common.AccountTypeTechnicianPayable))

	_, err = suite.warranty.GetActiveForJob(ctx, "job-1")
	suite.ErrorIs(err, common.ErrNotFound)
}

func (suite *SplitTestSuite) TestFailureAfterCommitIsPartial() {
	ctx := context.Background()
	suite.defaultRule(5)
	_, err := suite.db.ExecContext(ctx, `CREATE TRIGGER fail_hold BEFORE INSERT ON warranty_holds
		BEGIN SELECT RAISE(ABORT, 'injected failure'); END`)
	suite.Require().NoError(err)

	_, err = suite.split.Split(ctx, request("job-1"))
	var partial *settlement.PartialSplitError
	suite.Require().True(errors.As(err, &partial))
	suite.Equal([]string{settlement.StepCommission, settlement.StepPayout}, partial.Completed)
	suite.Equal(settlement.StepHold, partial.Failed)

	// committed steps stay on the books
	suite.Equal("7600.00", suite.balance("job-1", ledger.UserOwner("tech-1"), common.AccountTypeTechnicianPayable))
	verified, err := suite.ledger.VerifyJobBalance(ctx, "job-1")
	suite.Require().NoError(err)
	suite.True(verified.Balanced)

	logs, err := suite.audit.List(ctx, audit.Filter{JobID: "job-1", Action: audit.ActionSplitFailed})
	suite.Require().NoError(err)
	suite.Len(logs, 1)
}

func (suite *SplitTestSuite) TestRetryAfterPartialSplitIsNotSettled() {
	ctx := context.Background()
	suite.defaultRule(5)
	_, err := suite.db.ExecContext(ctx, `CREATE TRIGGER fail_hold BEFORE INSERT ON warranty_holds
		BEGIN SELECT RAISE(ABORT, 'injected failure'); END`)
	suite.Require().NoError(err)

	_, err = suite.split.Split(ctx, request("job-1"))
	suite.Require().ErrorIs(err, common.ErrIncompleteSettlement)

	_, err = suite.db.ExecContext(ctx, `DROP TRIGGER fail_hold`)
	suite.Require().NoError(err)

	_, err = suite.split.Split(ctx, request("job-1"))
	var unsettled *settlement.UnsettledEntriesError
	suite.Require().True(errors.As(err, &unsettled))
	suite.ErrorIs(err, common.ErrIncompleteSettlement)
	suite.NotErrorIs(err, common.ErrConflict)
	suite.Equal([]string{common.EntryCategoryCommission, common.EntryCategoryJobPayment}, unsettled.Categories)

	// the retry posted nothing and left no settlement record
	suite.Equal("7600.00", suite.balance("job-1", ledger.UserOwner("tech-1"), common.AccountTypeTechnicianPayable))
	_, err = suite.split.GetByJob(ctx, "job-1")
	suite.ErrorIs(err, common.ErrNotFound)

	logs, err := suite.audit.List(ctx, audit.Filter{JobID: "job-1", Action: audit.ActionSplitFailed})
	suite.Require().NoError(err)
	suite.Len(logs, 2)
}

func (suite *SplitTestSuite) TestReleaseCompletesSettlement() {
	ctx := context.Background()
	suite.defaultRule(5)
	result, err := suite.split.Split(ctx, request("job-1"))
	suite.Require().NoError(err)

	_, err = suite.warranty.Release(ctx, result.Hold.ID, "matured", common.SystemActor)
	suite.Require().NoError(err)

	stored, err := suite.split.GetByJob(ctx, "job-1")
	suite.Require().NoError(err)
	suite.Equal(common.SettlementStatusReleased, stored.Status)
	suite.Equal("9500.00", suite.balance("job-1", ledger.UserOwner("tech-1"), common.AccountTypeTechnicianPayable))
}

func (suite *SplitTestSuite) TestValidation() {
	ctx := context.Background()
	req := request("job-1")
	req.TechnicianID = ""
	_, err := suite.split.Split(ctx, req)
	suite.ErrorIs(err, common.ErrValidation)

	req = request("job-1")
	req.TotalAmount = decimal.Zero
	_, err = suite.split.Split(ctx, req)
	suite.ErrorIs(err, common.ErrValidation)

	req = request("job-1")
	over := decimal.NewFromInt(101)
	req.HoldPercentage = &over
	_, err = suite.split.Split(ctx, req)
	suite.ErrorIs(err, common.ErrValidation)
}

func TestSplitSuite(t *testing.T) {
	suite.Run(t, new(SplitTestSuite))
}
