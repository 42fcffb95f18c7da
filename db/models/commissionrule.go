package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// CommissionRule : empty scoping fields mean "not filtered on"
type CommissionRule struct {
	bun.BaseModel `bun:"table:commission_rules,alias:cr"`

	ID                   string          `json:"id" bun:"id,pk"`
	DealerID             string          `json:"dealer_id,omitempty" bun:",nullzero"`
	ServiceCategoryID    string          `json:"service_category_id,omitempty" bun:",nullzero"`
	ServiceSubCategoryID string          `json:"service_sub_category_id,omitempty" bun:",nullzero"`
	City                 string          `json:"city,omitempty" bun:",nullzero"`
	Region               string          `json:"region,omitempty" bun:",nullzero"`
	JobType              string          `json:"job_type,omitempty" bun:",nullzero"`
	CommissionType       string          `json:"commission_type" bun:",notnull"`
	CommissionValue      decimal.Decimal `json:"commission_value" bun:"type:numeric(20,2),notnull"`
	EffectiveFrom        time.Time       `json:"effective_from" bun:",notnull"`
	EffectiveTo          bun.NullTime    `json:"effective_to"`
	IsActive             bool            `json:"is_active" bun:",notnull"`
	Description          string          `json:"description,omitempty" bun:",nullzero"`
	CreatedAt            time.Time       `json:"created_at" bun:",notnull"`
}

// MinimumMarginRule : floor under which a commission is insufficient
type MinimumMarginRule struct {
	bun.BaseModel `bun:"table:minimum_margin_rules,alias:mmr"`

	ID               string          `json:"id" bun:"id,pk"`
	AppliesTo        string          `json:"applies_to" bun:",notnull"`
	ThresholdType    string          `json:"threshold_type" bun:",notnull"`
	ThresholdValue   decimal.Decimal `json:"threshold_value" bun:"type:numeric(20,2),notnull"`
	RequiresApproval bool            `json:"requires_approval" bun:",notnull"`
	AutoReject       bool            `json:"auto_reject" bun:",notnull"`
	IsActive         bool            `json:"is_active" bun:",notnull"`
	CreatedAt        time.Time       `json:"created_at" bun:",notnull"`
}
