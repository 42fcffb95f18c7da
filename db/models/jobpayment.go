package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// JobPayment : settlement snapshot, one per job and payment type
type JobPayment struct {
	bun.BaseModel `bun:"table:job_payments,alias:jp"`

	ID                 string          `json:"id" bun:"id,pk"`
	JobID              string          `json:"job_id" bun:",notnull"`
	PaymentID          string          `json:"payment_id" bun:",notnull"`
	PaymentType        string          `json:"payment_type" bun:",notnull"`
	TechnicianID       string          `json:"technician_id" bun:",notnull"`
	DealerID           string          `json:"dealer_id" bun:",notnull"`
	TotalAmount        decimal.Decimal `json:"total_amount" bun:"type:numeric(20,2),notnull"`
	CommissionAmount   decimal.Decimal `json:"commission_amount" bun:"type:numeric(20,2),notnull"`
	NetAmount          decimal.Decimal `json:"net_amount" bun:"type:numeric(20,2),notnull"`
	ImmediateAmount    decimal.Decimal `json:"immediate_amount" bun:"type:numeric(20,2),notnull"`
	WarrantyHoldAmount decimal.Decimal `json:"warranty_hold_amount" bun:"type:numeric(20,2),notnull"`
	HoldPercentage     decimal.Decimal `json:"hold_percentage" bun:"type:numeric(5,2),notnull"`
	CommissionRuleID   string          `json:"commission_rule_id,omitempty" bun:",nullzero"`
	CommissionSource   string          `json:"commission_source" bun:",notnull"`
	RequiresApproval   bool            `json:"requires_approval" bun:",notnull"`
	Status             string          `json:"status" bun:",notnull"`
	WarrantyHoldID     string          `json:"warranty_hold_id,omitempty" bun:",nullzero"`
	CommissionPairID   string          `json:"commission_pair_id,omitempty" bun:",nullzero"`
	PayoutPairID       string          `json:"payout_pair_id,omitempty" bun:",nullzero"`
	HoldPairID         string          `json:"hold_pair_id,omitempty" bun:",nullzero"`
	ReleasedAt         bun.NullTime    `json:"released_at"`
	CreatedAt          time.Time       `json:"created_at" bun:",notnull"`
	UpdatedAt          time.Time       `json:"updated_at" bun:",notnull"`
}
