package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// WarrantyHold : retained slice of a job payout
type WarrantyHold struct {
	bun.BaseModel `bun:"table:warranty_holds,alias:wh"`

	ID               string          `json:"id" bun:"id,pk"`
	JobID            string          `json:"job_id" bun:",notnull"`
	PaymentID        string          `json:"payment_id" bun:",notnull"`
	TechnicianID     string          `json:"technician_id" bun:",notnull"`
	DealerID         string          `json:"dealer_id" bun:",notnull"`
	HoldAmount       decimal.Decimal `json:"hold_amount" bun:"type:numeric(20,2),notnull"`
	HoldPercentage   decimal.Decimal `json:"hold_percentage" bun:"type:numeric(5,2),notnull"`
	WarrantyDays     int             `json:"warranty_days" bun:",notnull"`
	StartDate        time.Time       `json:"start_date" bun:",notnull"`
	EndDate          time.Time       `json:"end_date" bun:",notnull"`
	EffectiveEndDate time.Time       `json:"effective_end_date" bun:",notnull"`
	Status           string          `json:"status" bun:",notnull"`
	PausedDuration   int64           `json:"paused_duration" bun:",notnull"` // seconds
	LastPausedAt     bun.NullTime    `json:"last_paused_at"`
	FrozenAt         bun.NullTime    `json:"frozen_at"`
	FreezeReason     string          `json:"freeze_reason,omitempty" bun:",nullzero"`
	ReleasedAt       bun.NullTime    `json:"released_at"`
	ForfeitedAt      bun.NullTime    `json:"forfeited_at"`
	ClosingReason    string          `json:"closing_reason,omitempty" bun:",nullzero"`
	ClosedBy         string          `json:"closed_by,omitempty" bun:",nullzero"`
	CreatedAt        time.Time       `json:"created_at" bun:",notnull"`
	UpdatedAt        time.Time       `json:"updated_at" bun:",notnull"`
}

func (h *WarrantyHold) IsActive() bool {
	return h.Status == "LOCKED" || h.Status == "FROZEN"
}
