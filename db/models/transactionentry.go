package models

import (
	"time"

	"github.com/servicemart/ledgerhub/common"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// LedgerEntry : immutable half of a double-entry pair
type LedgerEntry struct {
	bun.BaseModel `bun:"table:ledger_entries,alias:le"`

	ID             string          `json:"id" bun:"id,pk"`
	PairID         string          `json:"pair_id" bun:",notnull"`
	AccountID      string          `json:"account_id" bun:",notnull"`
	Account        *LedgerAccount  `json:"-" bun:"rel:belongs-to,join:account_id=id"`
	JobID          string          `json:"job_id" bun:",notnull"`
	EntryType      string          `json:"entry_type" bun:",notnull"`
	Amount         decimal.Decimal `json:"amount" bun:"type:numeric(20,2),notnull"`
	Category       string          `json:"category" bun:",notnull"`
	Description    string          `json:"description" bun:",notnull"`
	PaymentID      string          `json:"payment_id,omitempty" bun:",notnull"`
	WarrantyHoldID string          `json:"warranty_hold_id,omitempty" bun:",notnull"`
	WithdrawalID   string          `json:"withdrawal_id,omitempty" bun:",notnull"`
	ReversalOf     string          `json:"reversal_of,omitempty" bun:",notnull"`
	CreatedAt      time.Time       `json:"created_at" bun:",notnull"`
}

// Signed returns the effect of the entry on its account balance.
func (e *LedgerEntry) Signed() decimal.Decimal {
	if e.EntryType == common.EntryTypeDebit {
		return e.Amount.Neg()
	}
	return e.Amount
}
