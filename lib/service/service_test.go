package service_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/servicemart/ledgerhub/common"
	"github.com/servicemart/ledgerhub/db/dbtest"
	"github.com/servicemart/ledgerhub/lib/reconciler"
	"github.com/servicemart/ledgerhub/lib/service"
	"github.com/servicemart/ledgerhub/rabbitmq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ziflex/lecho/v3"
)

func loadConfig(t *testing.T) *service.Config {
	t.Setenv("DATABASE_URI", "file::memory:")
	c := &service.Config{}
	require.NoError(t, envconfig.Process("", c))
	return c
}

func TestConfigDefaults(t *testing.T) {
	c := loadConfig(t)
	assert.Equal(t, "20", c.WarrantyHoldPercentage.String())
	assert.Equal(t, 10, c.WarrantyDays)
	assert.Equal(t, 15*time.Second, c.SoftLockSweepInterval)
	assert.Equal(t, time.Hour, c.WarrantySweepInterval)
	assert.NoError(t, c.Validate())

	c.WarrantyHoldPercentage = decimal.NewFromInt(120)
	c.ForfeitDestination = "CHARITY"
	err := c.Validate()
	assert.ErrorContains(t, err, "WARRANTY_HOLD_PERCENTAGE")
	assert.ErrorContains(t, err, "FORFEIT_DESTINATION")
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("WARRANTY_HOLD_PERCENTAGE", "12.5")
	t.Setenv("BID_TIMEOUT_SWEEP_INTERVAL", "30s")
	c := loadConfig(t)
	assert.Equal(t, "12.5", c.WarrantyHoldPercentage.String())
	assert.Equal(t, 30*time.Second, c.BidTimeoutSweepInterval)
}

func TestHandlePaymentConfirmed(t *testing.T) {
	c := loadConfig(t)
	svc := service.New(c, dbtest.Open(t), lecho.New(io.Discard), nil)
	ctx := context.Background()

	assert.Equal(t, []string{
		reconciler.TaskBidTimeout,
		reconciler.TaskPaymentDeadlineExpiry,
		reconciler.TaskSoftLockExpiry,
		reconciler.TaskWarrantyRelease,
	}, svc.Scheduler.Names())

	event := &rabbitmq.PaymentConfirmedEvent{
		JobID:        "job-1",
		PaymentID:    "pay-1",
		TotalAmount:  decimal.NewFromInt(5000),
		DealerID:     "dealer-1",
		TechnicianID: "tech-1",
	}
	require.NoError(t, svc.HandlePaymentConfirmed(ctx, event))

	payment, err := svc.Settlement.GetByJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "1000.00", payment.WarrantyHoldAmount.StringFixed(2))
	assert.Equal(t, "4000.00", payment.ImmediateAmount.StringFixed(2))

	// redelivery of the same event
	assert.ErrorIs(t, svc.HandlePaymentConfirmed(ctx, event), common.ErrConflict)
}
