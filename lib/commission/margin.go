package commission

import (
	"context"

	"github.com/servicemart/ledgerhub/common"
	"github.com/shopspring/decimal"
)

type MarginCheck struct {
	MeetsMinimum     bool            `json:"meets_minimum"`
	MinimumRequired  decimal.Decimal `json:"minimum_required"`
	Shortfall        decimal.Decimal `json:"shortfall"`
	RequiresApproval bool            `json:"requires_approval"`
	AutoReject       bool            `json:"auto_reject"`
	RuleID           string          `json:"rule_id,omitempty"`
}

// CheckMinimumMargin compares a commission with every active margin rule that
// applies to the transaction kind. The strictest minimum is reported; the
// approval and reject flags come from the rules the commission falls short of.
func (r *Resolver) CheckMinimumMargin(ctx context.Context, commissionAmount, totalAmount decimal.Decimal, isService, isProduct bool) (*MarginCheck, error) {
	rules, err := r.store.ActiveMarginRules(ctx)
	if err != nil {
		return nil, err
	}
	check := &MarginCheck{
		MeetsMinimum:    true,
		MinimumRequired: decimal.Zero,
		Shortfall:       decimal.Zero,
	}
	for _, rule := range rules {
		if !rule.IsActive || !appliesTo(rule.AppliesTo, isService, isProduct) {
			continue
		}
		minimum := common.RoundMoney(rule.ThresholdValue)
		if rule.ThresholdType == common.CommissionTypePercentage {
			minimum = common.Percent(totalAmount, rule.ThresholdValue)
		}
		if minimum.GreaterThan(check.MinimumRequired) {
			check.MinimumRequired = minimum
			check.RuleID = rule.ID
		}
		if commissionAmount.LessThan(minimum) {
			check.MeetsMinimum = false
			check.RequiresApproval = check.RequiresApproval || rule.RequiresApproval
			check.AutoReject = check.AutoReject || rule.AutoReject
		}
	}
	if !check.MeetsMinimum {
		check.Shortfall = check.MinimumRequired.Sub(commissionAmount)
	}
	return check, nil
}

func appliesTo(target string, isService, isProduct bool) bool {
	switch target {
	case common.MarginAppliesToAll:
		return true
	case common.MarginAppliesToService:
		return isService
	case common.MarginAppliesToProduct:
		return isProduct
	}
	return false
}

// Rejection builds the policy error for a failed auto-reject check.
func (c *MarginCheck) Rejection(commissionAmount decimal.Decimal) *common.PolicyRejection {
	return &common.PolicyRejection{
		Reason:           "minimum margin not met",
		RuleID:           c.RuleID,
		CommissionAmount: commissionAmount,
		MinimumRequired:  c.MinimumRequired,
		Shortfall:        c.Shortfall,
	}
}
