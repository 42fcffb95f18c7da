package commission

import (
	"sort"

	"github.com/servicemart/ledgerhub/db/models"
)

// fieldRule says how a tier treats one scoping column of a rule.
type fieldRule int

const (
	// the rule may leave the column empty or set it to the request's value
	anyValue fieldRule = iota
	// the rule must carry the request's (non-empty) value
	mustMatch
	// the rule must leave the column empty
	mustBeEmpty
)

// matcher is one priority tier. Tiers are tried top to bottom and the first
// tier with a candidate wins.
type matcher struct {
	Source      string
	Dealer      fieldRule
	Category    fieldRule
	SubCategory fieldRule
	City        fieldRule
	Region      fieldRule
	JobType     fieldRule
}

var matchers = []matcher{
	{Source: "dealer_subcategory", Dealer: mustMatch, SubCategory: mustMatch},
	{Source: "dealer_category", Dealer: mustMatch, Category: mustMatch, SubCategory: mustBeEmpty},
	{Source: "dealer", Dealer: mustMatch, Category: mustBeEmpty, SubCategory: mustBeEmpty},
	{Source: "subcategory", SubCategory: mustMatch, Dealer: mustBeEmpty},
	{Source: "category", Category: mustMatch, Dealer: mustBeEmpty, SubCategory: mustBeEmpty},
	{Source: "city", City: mustMatch, Dealer: mustBeEmpty, Category: mustBeEmpty, SubCategory: mustBeEmpty},
	{Source: "region", Region: mustMatch, Dealer: mustBeEmpty, City: mustBeEmpty, Category: mustBeEmpty, SubCategory: mustBeEmpty},
	{Source: "job_type", JobType: mustMatch, Dealer: mustBeEmpty, City: mustBeEmpty, Region: mustBeEmpty, Category: mustBeEmpty, SubCategory: mustBeEmpty},
	{Source: "default", Dealer: mustBeEmpty, Category: mustBeEmpty, SubCategory: mustBeEmpty, City: mustBeEmpty, Region: mustBeEmpty, JobType: mustBeEmpty},
}

const sourceNone = "none"

func (m matcher) matches(rule *models.CommissionRule, req *Request) bool {
	return check(m.Dealer, rule.DealerID, req.DealerID) &&
		check(m.Category, rule.ServiceCategoryID, req.ServiceCategoryID) &&
		check(m.SubCategory, rule.ServiceSubCategoryID, req.ServiceSubCategoryID) &&
		check(m.City, rule.City, req.City) &&
		check(m.Region, rule.Region, req.Region) &&
		check(m.JobType, rule.JobType, req.JobType)
}

func check(f fieldRule, ruleValue, requestValue string) bool {
	switch f {
	case mustMatch:
		return requestValue != "" && ruleValue == requestValue
	case mustBeEmpty:
		return ruleValue == ""
	default:
		return ruleValue == "" || ruleValue == requestValue
	}
}

// pick returns the winning rule and the tier it came from. rules must already
// be limited to the ones active now.
func pick(rules []models.CommissionRule, req *Request) (*models.CommissionRule, string) {
	for _, m := range matchers {
		var candidates []*models.CommissionRule
		for i := range rules {
			if m.matches(&rules[i], req) {
				candidates = append(candidates, &rules[i])
			}
		}
		if len(candidates) == 0 {
			continue
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			a, b := candidates[i], candidates[j]
			if !a.EffectiveFrom.Equal(b.EffectiveFrom) {
				return a.EffectiveFrom.After(b.EffectiveFrom)
			}
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.ID > b.ID
		})
		return candidates[0], m.Source
	}
	return nil, sourceNone
}
