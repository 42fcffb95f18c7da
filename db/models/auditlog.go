package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// AuditLog : append-only record of a financial mutation
type AuditLog struct {
	bun.BaseModel `bun:"table:audit_logs,alias:al"`

	ID             string              `json:"id" bun:"id,pk"`
	JobID          string              `json:"job_id,omitempty" bun:",nullzero"`
	UserID         string              `json:"user_id,omitempty" bun:",nullzero"`
	Role           string              `json:"role" bun:",notnull"`
	Action         string              `json:"action" bun:",notnull"`
	Description    string              `json:"description" bun:",notnull"`
	PreviousValue  string              `json:"previous_value,omitempty" bun:"type:text,nullzero"`
	NewValue       string              `json:"new_value,omitempty" bun:"type:text,nullzero"`
	Amount         decimal.NullDecimal `json:"amount" bun:"type:numeric(20,2)"`
	PaymentID      string              `json:"payment_id,omitempty" bun:",nullzero"`
	WarrantyHoldID string              `json:"warranty_hold_id,omitempty" bun:",nullzero"`
	WithdrawalID   string              `json:"withdrawal_id,omitempty" bun:",nullzero"`
	Metadata       string              `json:"metadata,omitempty" bun:"type:text,nullzero"`
	CreatedAt      time.Time           `json:"created_at" bun:",notnull"`
}
