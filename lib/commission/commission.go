// Package commission resolves the platform fee for a payable amount.
package commission

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/servicemart/ledgerhub/common"
	"github.com/servicemart/ledgerhub/db/models"
	"github.com/servicemart/ledgerhub/lib/audit"
	"github.com/shopspring/decimal"
)

type Request struct {
	TotalAmount          decimal.Decimal `json:"total_amount"`
	JobType              string          `json:"job_type,omitempty"`
	City                 string          `json:"city,omitempty"`
	Region               string          `json:"region,omitempty"`
	DealerID             string          `json:"dealer_id,omitempty"`
	ServiceCategoryID    string          `json:"service_category_id,omitempty"`
	ServiceSubCategoryID string          `json:"service_sub_category_id,omitempty"`
}

type ProductOrderRequest struct {
	Request
	IsCOD    bool `json:"is_cod"`
	IsReturn bool `json:"is_return"`
}

type Resolution struct {
	Type       string          `json:"type,omitempty"`
	Value      decimal.Decimal `json:"value"`
	Amount     decimal.Decimal `json:"amount"`
	NetAmount  decimal.Decimal `json:"net_amount"`
	RuleID     string          `json:"rule_id,omitempty"`
	RuleSource string          `json:"rule_source"`
}

type Resolver struct {
	store               Store
	audit               audit.Recorder
	codSurchargePercent decimal.Decimal
	now                 func() time.Time
}

type Option = func(r *Resolver)

// WithCODSurcharge adds pct percent of the total to cash-on-delivery orders.
func WithCODSurcharge(pct decimal.Decimal) Option {
	return func(r *Resolver) {
		r.codSurchargePercent = pct
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

func NewResolver(store Store, recorder audit.Recorder, opts ...Option) *Resolver {
	r := &Resolver{
		store:               store,
		audit:               recorder,
		codSurchargePercent: decimal.Zero,
		now:                 func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve picks exactly one rule through the priority tiers. No matching
// rule is a valid outcome: the fee is zero and net equals total.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Resolution, error) {
	if !req.TotalAmount.IsPositive() {
		return nil, common.NewValidationError("total_amount", "must be greater than zero")
	}
	now := r.now()
	rules, err := r.store.ActiveRules(ctx, now)
	if err != nil {
		return nil, err
	}
	active := rules[:0]
	for _, rule := range rules {
		if isActiveAt(&rule, now) {
			active = append(active, rule)
		}
	}

	total := common.RoundMoney(req.TotalAmount)
	rule, source := pick(active, &req)
	if rule == nil {
		return &Resolution{
			Value:      decimal.Zero,
			Amount:     decimal.Zero,
			NetAmount:  total,
			RuleSource: source,
		}, nil
	}
	amount := feeFor(rule.CommissionType, rule.CommissionValue, total)
	return &Resolution{
		Type:       rule.CommissionType,
		Value:      rule.CommissionValue,
		Amount:     amount,
		NetAmount:  total.Sub(amount),
		RuleID:     rule.ID,
		RuleSource: source,
	}, nil
}

// ResolveProductOrder handles product orders: returns carry no commission and
// cash-on-delivery orders pay the configured surcharge on top.
func (r *Resolver) ResolveProductOrder(ctx context.Context, req ProductOrderRequest) (*Resolution, error) {
	if !req.TotalAmount.IsPositive() {
		return nil, common.NewValidationError("total_amount", "must be greater than zero")
	}
	total := common.RoundMoney(req.TotalAmount)
	if req.IsReturn {
		return &Resolution{
			Value:      decimal.Zero,
			Amount:     decimal.Zero,
			NetAmount:  total,
			RuleSource: "return",
		}, nil
	}
	res, err := r.Resolve(ctx, req.Request)
	if err != nil {
		return nil, err
	}
	if req.IsCOD && r.codSurchargePercent.IsPositive() {
		res.Amount = decimal.Min(total, res.Amount.Add(common.Percent(total, r.codSurchargePercent)))
		res.NetAmount = total.Sub(res.Amount)
		res.RuleSource = res.RuleSource + "+cod"
	}
	return res, nil
}

// feeFor caps a fixed fee at the total so the net never goes negative.
func feeFor(commissionType string, value, total decimal.Decimal) decimal.Decimal {
	if commissionType == common.CommissionTypeFixed {
		return decimal.Min(common.RoundMoney(value), total)
	}
	return common.Percent(total, value)
}

func isActiveAt(rule *models.CommissionRule, now time.Time) bool {
	if !rule.IsActive || rule.EffectiveFrom.After(now) {
		return false
	}
	return rule.EffectiveTo.IsZero() || !rule.EffectiveTo.Time.Before(now)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
