package common

import "github.com/shopspring/decimal"

const (
	AccountTypeDealerReceivable   = "DEALER_RECEIVABLE"
	AccountTypeTechnicianPayable  = "TECHNICIAN_PAYABLE"
	AccountTypePlatformCommission = "PLATFORM_COMMISSION"
	AccountTypeWarrantyHold       = "WARRANTY_HOLD"
	AccountTypeEscrow             = "ESCROW"

	OwnerKindUser   = "user"
	OwnerKindSystem = "system"

	EntryTypeDebit  = "DEBIT"
	EntryTypeCredit = "CREDIT"

	EntryCategoryCommission      = "COMMISSION"
	EntryCategoryJobPayment      = "JOB_PAYMENT"
	EntryCategoryWarrantyHold    = "WARRANTY_HOLD"
	EntryCategoryWarrantyRelease = "WARRANTY_RELEASE"
	EntryCategoryWarrantyForfeit = "WARRANTY_FORFEIT"
	EntryCategoryAdjustment      = "ADJUSTMENT"

	HoldStatusLocked    = "LOCKED"
	HoldStatusFrozen    = "FROZEN"
	HoldStatusReleased  = "RELEASED"
	HoldStatusForfeited = "FORFEITED"

	CommissionTypePercentage = "PERCENTAGE"
	CommissionTypeFixed      = "FIXED"

	MarginAppliesToService = "SERVICE"
	MarginAppliesToProduct = "PRODUCT"
	MarginAppliesToAll     = "ALL"

	PaymentTypeService = "SERVICE_PAYMENT"

	SettlementStatusPending    = "PENDING"
	SettlementStatusReleased   = "RELEASED"
	SettlementStatusEscrowHold = "ESCROW_HOLD"
	SettlementStatusForfeited  = "FORFEITED"

	JobStatusOpen            = "OPEN"
	JobStatusSoftLocked      = "SOFT_LOCKED"
	JobStatusAwaitingPayment = "AWAITING_PAYMENT"
	JobStatusAssigned        = "ASSIGNED"
	JobStatusCompleted       = "COMPLETED"
	JobStatusCancelled       = "CANCELLED"

	BidStatusPending  = "PENDING"
	BidStatusAccepted = "ACCEPTED"
	BidStatusRejected = "REJECTED"
	BidStatusExpired  = "EXPIRED"

	DisputeStatusOpen     = "OPEN"
	DisputeStatusResolved = "RESOLVED"

	RejectionReasonPaymentDeadline = "PAYMENT_DEADLINE_EXPIRED"

	RoleSystem     = "SYSTEM"
	RoleAdmin      = "ADMIN"
	RoleDealer     = "DEALER"
	RoleTechnician = "TECHNICIAN"
)

var AccountTypes = []string{
	AccountTypeDealerReceivable,
	AccountTypeTechnicianPayable,
	AccountTypePlatformCommission,
	AccountTypeWarrantyHold,
	AccountTypeEscrow,
}

func IsAccountType(accountType string) bool {
	for _, t := range AccountTypes {
		if t == accountType {
			return true
		}
	}
	return false
}

// MoneyTolerance is the largest difference at which two amounts are
// considered equal.
var MoneyTolerance = decimal.New(1, -2)

var hundred = decimal.NewFromInt(100)

// RoundMoney rounds half away from zero to two decimal places.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Percent returns pct percent of amount, rounded to money precision.
func Percent(amount, pct decimal.Decimal) decimal.Decimal {
	return RoundMoney(amount.Mul(pct).Div(hundred))
}

func AmountsMatch(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(MoneyTolerance)
}

// Actor identifies who triggered a mutation. It ends up on every audit record.
type Actor struct {
	UserID string
	Role   string
}

var SystemActor = Actor{Role: RoleSystem}

// Refs carries the optional correlation ids attached to entries and audit records.
type Refs struct {
	PaymentID      string
	WarrantyHoldID string
	WithdrawalID   string
}
