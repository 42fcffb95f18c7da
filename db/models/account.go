package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// LedgerAccount : per-job balance bucket, unique per (job, owner, type)
type LedgerAccount struct {
	bun.BaseModel `bun:"table:ledger_accounts,alias:la"`

	ID          string          `json:"id" bun:"id,pk"`
	JobID       string          `json:"job_id" bun:",notnull"`
	OwnerKind   string          `json:"owner_kind" bun:",notnull"`
	OwnerID     string          `json:"owner_id" bun:",notnull"`
	AccountType string          `json:"account_type" bun:",notnull"`
	Balance     decimal.Decimal `json:"balance" bun:"type:numeric(20,2),notnull"`
	CreatedAt   time.Time       `json:"created_at" bun:",notnull"`
	UpdatedAt   time.Time       `json:"updated_at" bun:",notnull"`
}
