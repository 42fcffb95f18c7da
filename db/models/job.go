package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Job : the slice of job/order state the reconciliation sweeps act on
type Job struct {
	bun.BaseModel `bun:"table:jobs,alias:j"`

	ID                   string          `json:"id" bun:"id,pk"`
	DealerID             string          `json:"dealer_id" bun:",notnull"`
	Status               string          `json:"status" bun:",notnull"`
	JobType              string          `json:"job_type,omitempty" bun:",nullzero"`
	City                 string          `json:"city,omitempty" bun:",nullzero"`
	Region               string          `json:"region,omitempty" bun:",nullzero"`
	TotalAmount          decimal.Decimal `json:"total_amount" bun:"type:numeric(20,2),notnull"`
	AssignedTechnicianID string          `json:"assigned_technician_id,omitempty" bun:",nullzero"`
	SoftLockedBy         string          `json:"soft_locked_by,omitempty" bun:",nullzero"`
	SoftLockExpiresAt    bun.NullTime    `json:"soft_lock_expires_at"`
	PaymentDeadline      bun.NullTime    `json:"payment_deadline"`
	CreatedAt            time.Time       `json:"created_at" bun:",notnull"`
	UpdatedAt            time.Time       `json:"updated_at" bun:",notnull"`
}

// Bid : a technician's offer on a job
type Bid struct {
	bun.BaseModel `bun:"table:bids,alias:b"`

	ID           string          `json:"id" bun:"id,pk"`
	JobID        string          `json:"job_id" bun:",notnull"`
	TechnicianID string          `json:"technician_id" bun:",notnull"`
	Amount       decimal.Decimal `json:"amount" bun:"type:numeric(20,2),notnull"`
	Status       string          `json:"status" bun:",notnull"`
	CreatedAt    time.Time       `json:"created_at" bun:",notnull"`
	ExpiredAt    bun.NullTime    `json:"expired_at"`
}

// JobRejection : cooldown record for a technician on a job
type JobRejection struct {
	bun.BaseModel `bun:"table:job_rejections,alias:jr"`

	ID           string    `json:"id" bun:"id,pk"`
	JobID        string    `json:"job_id" bun:",notnull"`
	TechnicianID string    `json:"technician_id" bun:",notnull"`
	Reason       string    `json:"reason" bun:",notnull"`
	CreatedAt    time.Time `json:"created_at" bun:",notnull"`
}

// Dispute : read-only mirror of the dispute subsystem's state
type Dispute struct {
	bun.BaseModel `bun:"table:disputes,alias:d"`

	ID         string       `json:"id" bun:"id,pk"`
	JobID      string       `json:"job_id" bun:",notnull"`
	Status     string       `json:"status" bun:",notnull"`
	RaisedBy   string       `json:"raised_by,omitempty" bun:",nullzero"`
	CreatedAt  time.Time    `json:"created_at" bun:",notnull"`
	ResolvedAt bun.NullTime `json:"resolved_at"`
}
