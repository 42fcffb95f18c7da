package commission

import (
	"context"
	"fmt"
	"time"

	"github.com/servicemart/ledgerhub/common"
	"github.com/servicemart/ledgerhub/db/models"
	"github.com/servicemart/ledgerhub/lib/audit"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

var hundred = decimal.NewFromInt(100)

type RuleInput struct {
	DealerID             string          `json:"dealer_id"`
	ServiceCategoryID    string          `json:"service_category_id"`
	ServiceSubCategoryID string          `json:"service_sub_category_id"`
	City                 string          `json:"city"`
	Region               string          `json:"region"`
	JobType              string          `json:"job_type"`
	CommissionType       string          `json:"commission_type" validate:"required,oneof=PERCENTAGE FIXED"`
	CommissionValue      decimal.Decimal `json:"commission_value"`
	EffectiveFrom        *time.Time      `json:"effective_from"`
	EffectiveTo          *time.Time      `json:"effective_to"`
	Description          string          `json:"description"`
}

type MarginRuleInput struct {
	AppliesTo        string          `json:"applies_to" validate:"required,oneof=SERVICE PRODUCT ALL"`
	ThresholdType    string          `json:"threshold_type" validate:"required,oneof=PERCENTAGE FIXED"`
	ThresholdValue   decimal.Decimal `json:"threshold_value"`
	RequiresApproval bool            `json:"requires_approval"`
	AutoReject       bool            `json:"auto_reject"`
}

func (r *Resolver) CreateRule(ctx context.Context, in RuleInput) (*models.CommissionRule, error) {
	if err := validateValue("commission", in.CommissionType, in.CommissionValue); err != nil {
		return nil, err
	}
	now := r.now()
	from := now
	if in.EffectiveFrom != nil {
		from = in.EffectiveFrom.UTC()
	}
	rule := &models.CommissionRule{
		ID:                   common.NewID(),
		DealerID:             in.DealerID,
		ServiceCategoryID:    in.ServiceCategoryID,
		ServiceSubCategoryID: in.ServiceSubCategoryID,
		City:                 in.City,
		Region:               in.Region,
		JobType:              in.JobType,
		CommissionType:       in.CommissionType,
		CommissionValue:      in.CommissionValue,
		EffectiveFrom:        from,
		IsActive:             true,
		Description:          in.Description,
		CreatedAt:            now,
	}
	if in.EffectiveTo != nil {
		to := in.EffectiveTo.UTC()
		if to.Before(from) {
			return nil, common.NewValidationError("effective_to", "must not be before effective_from")
		}
		rule.EffectiveTo = bun.NullTime{Time: to}
	}
	if err := r.store.InsertRule(ctx, rule); err != nil {
		return nil, err
	}
	r.audit.Record(ctx, audit.Entry{
		Action:      audit.ActionCommissionRuleCreated,
		Description: fmt.Sprintf("%s commission rule %s of %s", rule.CommissionType, rule.ID, rule.CommissionValue.String()),
		NewValue:    rule,
		Amount:      audit.Amount(rule.CommissionValue),
	})
	return rule, nil
}

// DeactivateRule retires a rule. Rules are never deleted so past resolutions
// stay explainable.
func (r *Resolver) DeactivateRule(ctx context.Context, ruleID string) error {
	rule, err := r.store.GetRule(ctx, ruleID)
	if err != nil {
		return err
	}
	ok, err := r.store.DeactivateRule(ctx, ruleID)
	if err != nil {
		return err
	}
	if !ok {
		return common.NewConflictError("commission rule", "rule %s is already inactive", ruleID)
	}
	r.audit.Record(ctx, audit.Entry{
		Action:        audit.ActionCommissionRuleDisabled,
		Description:   fmt.Sprintf("commission rule %s deactivated", ruleID),
		PreviousValue: rule,
	})
	return nil
}

func (r *Resolver) ListRules(ctx context.Context, activeOnly bool) ([]models.CommissionRule, error) {
	return r.store.ListRules(ctx, activeOnly)
}

func (r *Resolver) CreateMarginRule(ctx context.Context, in MarginRuleInput) (*models.MinimumMarginRule, error) {
	if err := validateValue("threshold", in.ThresholdType, in.ThresholdValue); err != nil {
		return nil, err
	}
	switch in.AppliesTo {
	case common.MarginAppliesToService, common.MarginAppliesToProduct, common.MarginAppliesToAll:
	default:
		return nil, common.NewValidationError("applies_to", "unknown target %q", in.AppliesTo)
	}
	rule := &models.MinimumMarginRule{
		ID:               common.NewID(),
		AppliesTo:        in.AppliesTo,
		ThresholdType:    in.ThresholdType,
		ThresholdValue:   in.ThresholdValue,
		RequiresApproval: in.RequiresApproval,
		AutoReject:       in.AutoReject,
		IsActive:         true,
		CreatedAt:        r.now(),
	}
	if err := r.store.InsertMarginRule(ctx, rule); err != nil {
		return nil, err
	}
	r.audit.Record(ctx, audit.Entry{
		Action:      audit.ActionMarginRuleCreated,
		Description: fmt.Sprintf("minimum margin rule %s for %s", rule.ID, rule.AppliesTo),
		NewValue:    rule,
		Amount:      audit.Amount(rule.ThresholdValue),
	})
	return rule, nil
}

func validateValue(field, valueType string, value decimal.Decimal) error {
	switch valueType {
	case common.CommissionTypePercentage:
		if value.IsNegative() || value.GreaterThan(hundred) {
			return common.NewValidationError(field+"_value", "percentage must be between 0 and 100")
		}
	case common.CommissionTypeFixed:
		if value.IsNegative() {
			return common.NewValidationError(field+"_value", "must not be negative")
		}
	default:
		return common.NewValidationError(field+"_type", "unknown type %q", valueType)
	}
	return nil
}
