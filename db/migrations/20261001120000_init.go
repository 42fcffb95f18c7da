package migrations

import (
	"context"

	"github.com/servicemart/ledgerhub/db/models"
	"github.com/uptrace/bun"
)

/* This init reflects the latest model fields when run on a fresh db.
Subsequent migrations that add/remove columns must use IfNotExists/IfExists.
*/
func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		tables := []interface{}{
			(*models.LedgerAccount)(nil),
			(*models.LedgerEntry)(nil),
			(*models.WarrantyHold)(nil),
			(*models.CommissionRule)(nil),
			(*models.MinimumMarginRule)(nil),
			(*models.JobPayment)(nil),
			(*models.AuditLog)(nil),
			(*models.Job)(nil),
			(*models.Bid)(nil),
			(*models.JobRejection)(nil),
			(*models.Dispute)(nil),
		}
		for _, model := range tables {
			if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
				return err
			}
		}

		indexes := []*bun.CreateIndexQuery{
			// one account per (job, owner, type)
			db.NewCreateIndex().Model((*models.LedgerAccount)(nil)).
				Unique().Index("ledger_accounts_natural_key").
				Column("job_id", "owner_kind", "owner_id", "account_type"),
			// duplicate guard for payment-correlated pairs
			db.NewCreateIndex().Model((*models.LedgerEntry)(nil)).
				Unique().Index("ledger_entries_payment_key").
				Column("job_id", "category", "payment_id", "entry_type").
				Where("payment_id <> ''"),
			// a pair can be compensated once
			db.NewCreateIndex().Model((*models.LedgerEntry)(nil)).
				Unique().Index("ledger_entries_reversal_key").
				Column("reversal_of", "entry_type").
				Where("reversal_of <> ''"),
			db.NewCreateIndex().Model((*models.LedgerEntry)(nil)).
				Index("ledger_entries_job_idx").
				Column("job_id", "created_at"),
			db.NewCreateIndex().Model((*models.LedgerEntry)(nil)).
				Index("ledger_entries_pair_idx").
				Column("pair_id"),
			// single active hold per job
			db.NewCreateIndex().Model((*models.WarrantyHold)(nil)).
				Unique().Index("warranty_holds_active_job").
				Column("job_id").
				Where("status IN ('LOCKED', 'FROZEN')"),
			db.NewCreateIndex().Model((*models.WarrantyHold)(nil)).
				Index("warranty_holds_maturity_idx").
				Column("status", "effective_end_date"),
			db.NewCreateIndex().Model((*models.JobPayment)(nil)).
				Unique().Index("job_payments_job_type").
				Column("job_id", "payment_type"),
			db.NewCreateIndex().Model((*models.AuditLog)(nil)).
				Index("audit_logs_job_idx").
				Column("job_id", "created_at"),
			db.NewCreateIndex().Model((*models.Bid)(nil)).
				Index("bids_status_idx").
				Column("status", "created_at"),
			db.NewCreateIndex().Model((*models.Job)(nil)).
				Index("jobs_status_idx").
				Column("status"),
			db.NewCreateIndex().Model((*models.Dispute)(nil)).
				Index("disputes_job_idx").
				Column("job_id", "status"),
		}
		for _, q := range indexes {
			if _, err := q.IfNotExists().Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	}, nil)
}
