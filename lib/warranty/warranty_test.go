package warranty_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/servicemart/ledgerhub/common"
	"github.com/servicemart/ledgerhub/db/dbtest"
	"github.com/servicemart/ledgerhub/db/models"
	"github.com/servicemart/ledgerhub/lib/audit"
	"github.com/servicemart/ledgerhub/lib/dispute"
	"github.com/servicemart/ledgerhub/lib/dispute/mock_dispute"
	"github.com/servicemart/ledgerhub/lib/ledger"
	"github.com/servicemart/ledgerhub/lib/notify"
	"github.com/servicemart/ledgerhub/lib/notify/mock_notify"
	"github.com/servicemart/ledgerhub/lib/warranty"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/uptrace/bun"
	"github.com/ziflex/lecho/v3"
)

var t0 = time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time { return c.now }

func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type WarrantyTestSuite struct {
	suite.Suite
	db       *bun.DB
	clock    *clock
	ledger   *ledger.Service
	audit    *audit.Logger
	disputes dispute.Static
	svc      *warranty.Service
}

func (suite *WarrantyTestSuite) SetupTest() {
	logger := lecho.New(io.Discard)
	suite.db = dbtest.Open(suite.T())
	suite.clock = &clock{now: t0}
	suite.audit = audit.New(suite.db, logger)
	suite.ledger = ledger.NewService(suite.db, suite.audit, logger)
	suite.disputes = dispute.Static{}
	suite.svc = warranty.NewService(suite.db, suite.ledger, suite.audit, notify.Discard{}, suite.disputes, warranty.WithClock(suite.clock.Now))
}

func (suite *WarrantyTestSuite) createHold(jobID string, days int) *models.WarrantyHold {
	hold, posted, err := suite.svc.Create(context.Background(), warranty.CreateInput{
		JobID:          jobID,
		PaymentID:      "pay-" + jobID,
		TechnicianID:   "tech-1",
		DealerID:       "dealer-1",
		HoldAmount:     decimal.NewFromInt(1900),
		HoldPercentage: decimal.NewFromInt(20),
		WarrantyDays:   days,
	})
	suite.Require().NoError(err)
	suite.Equal("1900.00", posted.CreditBalance.StringFixed(2))
	return hold
}

func (suite *WarrantyTestSuite) balance(jobID string, owner ledger.Owner, accountType string) string {
	b, err := suite.ledger.GetAccountBalance(context.Background(), jobID, owner, accountType)
	suite.Require().NoError(err)
	return b.StringFixed(2)
}

func (suite *WarrantyTestSuite) TestCreateLocksAndFunds() {
	hold := suite.createHold("job-1", 10)
	suite.Equal(common.HoldStatusLocked, hold.Status)
	suite.True(hold.EndDate.Equal(t0.AddDate(0, 0, 10)))
	suite.True(hold.EffectiveEndDate.Equal(hold.EndDate))

	suite.Equal("1900.00", suite.balance("job-1", ledger.SystemOwner, common.AccountTypeWarrantyHold))
	suite.Equal("-1900.00", suite.balance("job-1", ledger.UserOwner("dealer-1"), common.AccountTypeDealerReceivable))

	active, err := suite.svc.GetActiveForJob(context.Background(), "job-1")
	suite.Require().NoError(err)
	suite.Equal(hold.ID, active.ID)

	_, _, err = suite.svc.Create(context.Background(), warranty.CreateInput{
		JobID: "job-1", PaymentID: "pay-2", TechnicianID: "tech-1", DealerID: "dealer-1",
		HoldAmount: decimal.NewFromInt(5), HoldPercentage: decimal.NewFromInt(20), WarrantyDays: 10,
	})
	suite.ErrorIs(err, common.ErrConflict)
}

func (suite *WarrantyTestSuite) TestCreateValidates() {
	_, _, err := suite.svc.Create(context.Background(), warranty.CreateInput{
		JobID: "job-1", PaymentID: "pay-1", TechnicianID: "tech-1", DealerID: "dealer-1",
		HoldAmount: decimal.Zero, HoldPercentage: decimal.NewFromInt(20), WarrantyDays: 10,
	})
	suite.ErrorIs(err, common.ErrValidation)
	_, _, err = suite.svc.Create(context.Background(), warranty.CreateInput{
		JobID: "job-1", PaymentID: "pay-1", TechnicianID: "tech-1", DealerID: "dealer-1",
		HoldAmount: decimal.NewFromInt(1), HoldPercentage: decimal.NewFromInt(20), WarrantyDays: 0,
	})
	suite.ErrorIs(err, common.ErrValidation)
	_, err = suite.svc.GetActiveForJob(context.Background(), "job-1")
	suite.ErrorIs(err, common.ErrNotFound)
}

func (suite *WarrantyTestSuite) TestFreezeUnfreezeExtendsMaturityExactly() {
	ctx := context.Background()
	hold := suite.createHold("job-1", 10)

	suite.clock.Advance(time.Hour)
	frozen, err := suite.svc.Freeze(ctx, hold.ID, "customer complaint", common.SystemActor)
	suite.Require().NoError(err)
	suite.Equal(common.HoldStatusFrozen, frozen.Status)

	suite.clock.Advance(600 * time.Second)
	unfrozen, err := suite.svc.Unfreeze(ctx, hold.ID, common.SystemActor)
	suite.Require().NoError(err)
	suite.Equal(common.HoldStatusLocked, unfrozen.Status)
	suite.Equal(int64(600), unfrozen.PausedDuration)
	suite.True(unfrozen.EffectiveEndDate.Equal(hold.EndDate.Add(600*time.Second)))

	stored, err := suite.svc.Get(ctx, hold.ID)
	suite.Require().NoError(err)
	suite.True(stored.EffectiveEndDate.Equal(hold.EndDate.Add(600 * time.Second)))
	suite.True(stored.LastPausedAt.IsZero())
}

func (suite *WarrantyTestSuite) TestDisputeWindowPushesMaturity() {
	ctx := context.Background()
	day := 24 * time.Hour
	hold := suite.createHold("job-1", 10)

	suite.clock.now = t0.Add(2 * day)
	_, err := suite.svc.Freeze(ctx, hold.ID, "dispute raised", common.SystemActor)
	suite.Require().NoError(err)

	suite.clock.now = t0.Add(5 * day)
	unfrozen, err := suite.svc.Unfreeze(ctx, hold.ID, common.SystemActor)
	suite.Require().NoError(err)
	suite.True(unfrozen.EffectiveEndDate.Equal(t0.Add(13 * day)))

	// a second pause accumulates
	suite.clock.now = t0.Add(6 * day)
	_, err = suite.svc.Freeze(ctx, hold.ID, "again", common.SystemActor)
	suite.Require().NoError(err)
	suite.clock.now = t0.Add(7 * day)
	unfrozen, err = suite.svc.Unfreeze(ctx, hold.ID, common.SystemActor)
	suite.Require().NoError(err)
	suite.True(unfrozen.EffectiveEndDate.Equal(t0.Add(14 * day)))
	suite.Equal(int64((4 * day).Seconds()), unfrozen.PausedDuration)
}

func (suite *WarrantyTestSuite) TestFreezeIsIdempotentAndUnfreezeNeedsFrozen() {
	ctx := context.Background()
	hold := suite.createHold("job-1", 10)

	_, err := suite.svc.Unfreeze(ctx, hold.ID, common.SystemActor)
	suite.ErrorIs(err, common.ErrConflict)

	first, err := suite.svc.Freeze(ctx, hold.ID, "complaint", common.SystemActor)
	suite.Require().NoError(err)
	suite.clock.Advance(time.Minute)
	second, err := suite.svc.Freeze(ctx, hold.ID, "complaint again", common.SystemActor)
	suite.Require().NoError(err)
	suite.True(first.LastPausedAt.Time.Equal(second.LastPausedAt.Time))
	suite.Equal("complaint", second.FreezeReason)

	logs, err := suite.audit.List(ctx, audit.Filter{JobID: "job-1", Action: audit.ActionHoldFrozen})
	suite.Require().NoError(err)
	suite.Len(logs, 1)
}

func (suite *WarrantyTestSuite) TestTerminalHoldsRejectEverything() {
	ctx := context.Background()
	hold := suite.createHold("job-1", 10)

	released, err := suite.svc.Release(ctx, hold.ID, "warranty period over", common.Actor{UserID: "admin-1", Role: common.RoleAdmin})
	suite.Require().NoError(err)
	suite.Equal(common.HoldStatusReleased, released.Status)
	suite.Equal("admin-1", released.ClosedBy)

	_, err = suite.svc.Release(ctx, hold.ID, "again", common.SystemActor)
	suite.ErrorIs(err, common.ErrConflict)
	_, err = suite.svc.Forfeit(ctx, hold.ID, "late claim", warranty.ForfeitToDealer, common.SystemActor)
	suite.ErrorIs(err, common.ErrConflict)
	_, err = suite.svc.Freeze(ctx, hold.ID, "late claim", common.SystemActor)
	suite.ErrorIs(err, common.ErrConflict)

	suite.Equal("0.00", suite.balance("job-1", ledger.SystemOwner, common.AccountTypeWarrantyHold))
	suite.Equal("1900.00", suite.balance("job-1", ledger.UserOwner("tech-1"), common.AccountTypeTechnicianPayable))

	verified, err := suite.ledger.VerifyJobBalance(ctx, "job-1")
	suite.Require().NoError(err)
	suite.True(verified.Balanced)

	_, err = suite.svc.GetActiveForJob(ctx, "job-1")
	suite.ErrorIs(err, common.ErrNotFound)
}

func (suite *WarrantyTestSuite) TestForfeitDestinations() {
	ctx := context.Background()

	toDealer := suite.createHold("job-1", 10)
	_, err := suite.svc.Freeze(ctx, toDealer.ID, "poor repair", common.SystemActor)
	suite.Require().NoError(err)
	forfeited, err := suite.svc.Forfeit(ctx, toDealer.ID, "repair failed", warranty.ForfeitToDealer, common.SystemActor)
	suite.Require().NoError(err)
	suite.Equal(common.HoldStatusForfeited, forfeited.Status)
	suite.Equal("0.00", suite.balance("job-1", ledger.UserOwner("dealer-1"), common.AccountTypeDealerReceivable))

	toPlatform := suite.createHold("job-2", 10)
	_, err = suite.svc.Forfeit(ctx, toPlatform.ID, "fraud", warranty.ForfeitToPlatform, common.SystemActor)
	suite.Require().NoError(err)
	suite.Equal("1900.00", suite.balance("job-2", ledger.SystemOwner, common.AccountTypePlatformCommission))

	_, err = suite.svc.Release(ctx, toPlatform.ID, "too late", common.SystemActor)
	suite.ErrorIs(err, common.ErrConflict)

	third := suite.createHold("job-3", 10)
	_, err = suite.svc.Forfeit(ctx, third.ID, "x", warranty.ForfeitDestination("CHARITY"), common.SystemActor)
	suite.ErrorIs(err, common.ErrValidation)
}

func (suite *WarrantyTestSuite) TestReleaseMovesSettlementRecord() {
	ctx := context.Background()
	hold := suite.createHold("job-1", 10)
	payment := &models.JobPayment{
		ID: "jp-1", JobID: "job-1", PaymentID: hold.PaymentID, PaymentType: common.PaymentTypeService,
		TechnicianID: "tech-1", DealerID: "dealer-1", Status: common.SettlementStatusEscrowHold,
		WarrantyHoldID: hold.ID, CommissionSource: "none",
		CreatedAt: t0, UpdatedAt: t0,
	}
	_, err := suite.db.NewInsert().Model(payment).Exec(ctx)
	suite.Require().NoError(err)

	_, err = suite.svc.Release(ctx, hold.ID, "matured", common.SystemActor)
	suite.Require().NoError(err)

	stored := &models.JobPayment{}
	suite.Require().NoError(suite.db.NewSelect().Model(stored).Where("id = ?", "jp-1").Scan(ctx))
	suite.Equal(common.SettlementStatusReleased, stored.Status)
	suite.False(stored.ReleasedAt.IsZero())
}

func (suite *WarrantyTestSuite) TestListEligibleForRelease() {
	ctx := context.Background()
	day := 24 * time.Hour
	matured := suite.createHold("job-1", 1)
	suite.createHold("job-2", 30)
	frozen := suite.createHold("job-3", 1)
	_, err := suite.svc.Freeze(ctx, frozen.ID, "dispute", common.SystemActor)
	suite.Require().NoError(err)

	holds, err := suite.svc.ListEligibleForRelease(ctx, t0.Add(2*day))
	suite.Require().NoError(err)
	suite.Require().Len(holds, 1)
	suite.Equal(matured.ID, holds[0].ID)

	eligible, err := suite.svc.IsEligibleForRelease(ctx, &holds[0], t0.Add(2*day))
	suite.Require().NoError(err)
	suite.True(eligible)

	eligible, err = suite.svc.IsEligibleForRelease(ctx, &holds[0], t0)
	suite.Require().NoError(err)
	suite.False(eligible)
}

func TestWarrantySuite(t *testing.T) {
	suite.Run(t, new(WarrantyTestSuite))
}

func TestOpenDisputeDefersRelease(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	disputes := mock_dispute.NewMockChecker(ctrl)
	disputes.EXPECT().HasOpenDispute(gomock.Any(), "job-1").Return(true, nil)

	db := dbtest.Open(t)
	svc := warranty.NewService(db, nil, &audit.Logger{}, notify.Discard{}, disputes)
	hold := &models.WarrantyHold{JobID: "job-1", Status: common.HoldStatusLocked, EffectiveEndDate: t0}
	eligible, err := svc.IsEligibleForRelease(context.Background(), hold, t0.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, eligible)
}

func TestReleaseNotifiesTechnician(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	logger := lecho.New(io.Discard)
	db := dbtest.Open(t)
	recorder := audit.New(db, logger)
	ledgerSvc := ledger.NewService(db, recorder, logger)
	notifier := mock_notify.NewMockNotifier(ctrl)
	svc := warranty.NewService(db, ledgerSvc, recorder, notifier, dispute.Static{})

	notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Times(1) // created
	hold, _, err := svc.Create(context.Background(), warranty.CreateInput{
		JobID: "job-1", PaymentID: "pay-1", TechnicianID: "tech-1", DealerID: "dealer-1",
		HoldAmount: decimal.NewFromInt(100), HoldPercentage: decimal.NewFromInt(10), WarrantyDays: 7,
	})
	require.NoError(t, err)

	notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).
		Do(func(ctx context.Context, n notify.Notification) {
			assert.Equal(t, "tech-1", n.UserID)
			assert.Equal(t, notify.TypeHoldReleased, n.Type)
		})
	_, err = svc.Release(context.Background(), hold.ID, "matured", common.SystemActor)
	require.NoError(t, err)
}

func TestTransitionTable(t *testing.T) {
	assert.True(t, warranty.CanTransition(common.HoldStatusLocked, common.HoldStatusFrozen))
	assert.True(t, warranty.CanTransition(common.HoldStatusFrozen, common.HoldStatusLocked))
	assert.False(t, warranty.CanTransition(common.HoldStatusReleased, common.HoldStatusForfeited))
	assert.False(t, warranty.CanTransition(common.HoldStatusForfeited, common.HoldStatusReleased))
	assert.True(t, warranty.IsTerminal(common.HoldStatusReleased))
	assert.True(t, warranty.IsTerminal(common.HoldStatusForfeited))
	assert.False(t, warranty.IsTerminal(common.HoldStatusFrozen))
}
