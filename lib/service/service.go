package service

import (
	"context"
	"time"

	"github.com/servicemart/ledgerhub/lib/audit"
	"github.com/servicemart/ledgerhub/lib/commission"
	"github.com/servicemart/ledgerhub/lib/dispute"
	"github.com/servicemart/ledgerhub/lib/jobs"
	"github.com/servicemart/ledgerhub/lib/ledger"
	"github.com/servicemart/ledgerhub/lib/notify"
	"github.com/servicemart/ledgerhub/lib/reconciler"
	"github.com/servicemart/ledgerhub/lib/settlement"
	"github.com/servicemart/ledgerhub/lib/warranty"
	"github.com/servicemart/ledgerhub/rabbitmq"
	"github.com/uptrace/bun"
	"github.com/ziflex/lecho/v3"
)

type LedgerhubService struct {
	Config         *Config
	DB             *bun.DB
	Logger         *lecho.Logger
	Audit          *audit.Logger
	Ledger         *ledger.Service
	Commission     *commission.Resolver
	Warranty       *warranty.Service
	Settlement     *settlement.Orchestrator
	Jobs           *jobs.Store
	Disputes       dispute.Checker
	Notifications  *notify.Dispatcher
	Scheduler      *reconciler.Scheduler
	RabbitMQClient rabbitmq.Client
}

// New wires the components. rabbitClient may be nil, notifications then go
// to the log and the optional webhook only.
func New(config *Config, db *bun.DB, logger *lecho.Logger, rabbitClient rabbitmq.Client) *LedgerhubService {
	sinks := []notify.Sink{&notify.LogSink{Logger: logger}}
	if config.WebhookUrl != "" {
		sinks = append(sinks, notify.NewWebhookSink(config.WebhookUrl))
	}
	if rabbitClient != nil {
		sinks = append(sinks, rabbitClient)
	}
	dispatcher := notify.NewDispatcher(logger, config.NotificationBufferSize, sinks...)

	auditLogger := audit.New(db, logger)
	ledgerSvc := ledger.NewService(db, auditLogger, logger)
	resolver := commission.NewResolver(commission.NewBunStore(db), auditLogger,
		commission.WithCODSurcharge(config.CommissionCODSurchargePercent))
	disputes := dispute.NewDBChecker(db)
	warrantySvc := warranty.NewService(db, ledgerSvc, auditLogger, dispatcher, disputes)
	orchestrator := settlement.NewOrchestrator(db, ledgerSvc, resolver, warrantySvc, auditLogger, dispatcher, logger,
		settlement.Defaults{HoldPercentage: config.WarrantyHoldPercentage, WarrantyDays: config.WarrantyDays})
	jobStore := jobs.NewStore(db)

	svc := &LedgerhubService{
		Config:         config,
		DB:             db,
		Logger:         logger,
		Audit:          auditLogger,
		Ledger:         ledgerSvc,
		Commission:     resolver,
		Warranty:       warrantySvc,
		Settlement:     orchestrator,
		Jobs:           jobStore,
		Disputes:       disputes,
		Notifications:  dispatcher,
		Scheduler:      reconciler.NewScheduler(logger),
		RabbitMQClient: rabbitClient,
	}
	deps := reconciler.Deps{
		Jobs:     jobStore,
		Warranty: warrantySvc,
		Audit:    auditLogger,
		Notifier: dispatcher,
		Logger:   logger,
	}
	for _, task := range reconciler.Tasks(deps) {
		svc.Scheduler.Add(task, svc.sweepInterval(task.Name()))
	}
	return svc
}

func (svc *LedgerhubService) sweepInterval(task string) time.Duration {
	switch task {
	case reconciler.TaskSoftLockExpiry:
		return svc.Config.SoftLockSweepInterval
	case reconciler.TaskPaymentDeadlineExpiry:
		return svc.Config.PaymentDeadlineSweepInterval
	case reconciler.TaskBidTimeout:
		return svc.Config.BidTimeoutSweepInterval
	case reconciler.TaskWarrantyRelease:
		return svc.Config.WarrantySweepInterval
	}
	return 0
}

// ForfeitDestination is the configured default receiver of forfeited holds.
func (svc *LedgerhubService) ForfeitDestination() warranty.ForfeitDestination {
	return warranty.ForfeitDestination(svc.Config.ForfeitDestination)
}

// HandlePaymentConfirmed splits the payment described by a job service event.
func (svc *LedgerhubService) HandlePaymentConfirmed(ctx context.Context, event *rabbitmq.PaymentConfirmedEvent) error {
	_, err := svc.Settlement.Split(ctx, settlement.Request{
		JobID:                event.JobID,
		PaymentID:            event.PaymentID,
		TechnicianID:         event.TechnicianID,
		DealerID:             event.DealerID,
		TotalAmount:          event.TotalAmount,
		JobType:              event.JobType,
		City:                 event.City,
		Region:               event.Region,
		ServiceCategoryID:    event.ServiceCategoryID,
		ServiceSubCategoryID: event.ServiceSubCategoryID,
		HoldPercentage:       event.HoldPercentage,
		WarrantyDays:         event.WarrantyDays,
	})
	return err
}
