// Package ledger is the only writer of ledger accounts and entries.
// Every movement is a pair of opposite entries posted in one transaction.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/servicemart/ledgerhub/common"
	"github.com/servicemart/ledgerhub/db/models"
	"github.com/servicemart/ledgerhub/lib/audit"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
	"github.com/ziflex/lecho/v3"
)

// Leg describes one side of a double entry.
type Leg struct {
	Owner       Owner
	AccountType string
	Amount      decimal.Decimal
	Category    string
	Description string
	Refs        common.Refs
}

type PostResult struct {
	PairID        string             `json:"pair_id"`
	Debit         models.LedgerEntry `json:"debit"`
	Credit        models.LedgerEntry `json:"credit"`
	DebitBalance  decimal.Decimal    `json:"debit_balance"`
	CreditBalance decimal.Decimal    `json:"credit_balance"`
}

type Service struct {
	db     *bun.DB
	audit  audit.Recorder
	logger *lecho.Logger
}

func NewService(db *bun.DB, recorder audit.Recorder, logger *lecho.Logger) *Service {
	return &Service{db: db, audit: recorder, logger: logger}
}

// GetOrCreateAccount is safe under concurrent first use: the insert is a no-op
// when another writer created the row first, the select then returns it.
func (s *Service) GetOrCreateAccount(ctx context.Context, jobID string, owner Owner, accountType string) (*models.LedgerAccount, error) {
	if err := validateAccount(jobID, owner, accountType); err != nil {
		return nil, err
	}
	return getOrCreateAccount(ctx, s.db, jobID, owner, accountType)
}

func getOrCreateAccount(ctx context.Context, db bun.IDB, jobID string, owner Owner, accountType string) (*models.LedgerAccount, error) {
	now := time.Now().UTC()
	account := &models.LedgerAccount{
		ID:          common.NewID(),
		JobID:       jobID,
		OwnerKind:   owner.Kind(),
		OwnerID:     owner.ID(),
		AccountType: accountType,
		Balance:     decimal.Zero,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := db.NewInsert().Model(account).On("CONFLICT DO NOTHING").Exec(ctx)
	if err != nil {
		return nil, &common.TransientError{Op: "create ledger account", Err: err}
	}

	existing := &models.LedgerAccount{}
	err = db.NewSelect().Model(existing).
		Where("job_id = ?", jobID).
		Where("owner_kind = ?", owner.Kind()).
		Where("owner_id = ?", owner.ID()).
		Where("account_type = ?", accountType).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, &common.TransientError{Op: "load ledger account", Err: err}
	}
	return existing, nil
}

// PostDoubleEntry debits one account and credits another by the same amount.
// Both entries and both balance updates commit together or not at all.
func (s *Service) PostDoubleEntry(ctx context.Context, jobID string, debit, credit Leg) (*PostResult, error) {
	if err := validatePair(jobID, debit, credit); err != nil {
		return nil, err
	}
	var result *PostResult
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var err error
		result, err = post(ctx, tx, jobID, debit, credit, "")
		return err
	})
	if err != nil {
		return nil, err
	}
	s.RecordPost(ctx, jobID, result)
	return result, nil
}

// PostDoubleEntryTx posts within a transaction owned by the caller, so a state
// change and its money movement can commit atomically. It does not write an
// audit record; call RecordPost once the transaction has committed.
func (s *Service) PostDoubleEntryTx(ctx context.Context, tx bun.Tx, jobID string, debit, credit Leg) (*PostResult, error) {
	if err := validatePair(jobID, debit, credit); err != nil {
		return nil, err
	}
	return post(ctx, tx, jobID, debit, credit, "")
}

func (s *Service) RecordPost(ctx context.Context, jobID string, result *PostResult) {
	s.recordPost(ctx, audit.ActionLedgerPost, jobID, result)
}

func (s *Service) recordPost(ctx context.Context, action, jobID string, result *PostResult) {
	s.audit.Record(ctx, audit.Entry{
		JobID:  jobID,
		Action: action,
		Description: fmt.Sprintf("%s: debit %s %s, credit %s %s",
			result.Debit.Category, result.Debit.AccountID, result.Debit.Amount.StringFixed(2),
			result.Credit.AccountID, result.Credit.Amount.StringFixed(2)),
		NewValue: map[string]interface{}{
			"pair_id":        result.PairID,
			"debit_balance":  result.DebitBalance.StringFixed(2),
			"credit_balance": result.CreditBalance.StringFixed(2),
		},
		Amount: audit.Amount(result.Debit.Amount),
		Refs: common.Refs{
			PaymentID:      result.Debit.PaymentID,
			WarrantyHoldID: result.Debit.WarrantyHoldID,
			WithdrawalID:   result.Debit.WithdrawalID,
		},
	})
}

func post(ctx context.Context, tx bun.Tx, jobID string, debit, credit Leg, reversalOf string) (*PostResult, error) {
	amount := common.RoundMoney(debit.Amount)

	if err := checkDuplicate(ctx, tx, jobID, debit, credit); err != nil {
		return nil, err
	}

	debitAccount, err := getOrCreateAccount(ctx, tx, jobID, debit.Owner, debit.AccountType)
	if err != nil {
		return nil, err
	}
	creditAccount, err := getOrCreateAccount(ctx, tx, jobID, credit.Owner, credit.AccountType)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	pairID := common.NewID()
	entries := [2]models.LedgerEntry{
		newEntry(pairID, jobID, debitAccount.ID, common.EntryTypeDebit, amount, debit, reversalOf, now),
		newEntry(pairID, jobID, creditAccount.ID, common.EntryTypeCredit, amount, credit, reversalOf, now),
	}
	for i := range entries {
		if _, err := tx.NewInsert().Model(&entries[i]).Exec(ctx); err != nil {
			if common.IsUniqueViolation(err) {
				return nil, common.NewConflictError("ledger entry",
					"%s entry already posted for job %s category %s payment %s",
					entries[i].EntryType, jobID, entries[i].Category, entries[i].PaymentID)
			}
			return nil, &common.TransientError{Op: "insert ledger entry", Err: err}
		}
	}

	debitBalance, err := applyDelta(ctx, tx, debitAccount.ID, amount.Neg(), now)
	if err != nil {
		return nil, err
	}
	creditBalance, err := applyDelta(ctx, tx, creditAccount.ID, amount, now)
	if err != nil {
		return nil, err
	}

	entries[0].Account = debitAccount
	entries[1].Account = creditAccount
	return &PostResult{
		PairID:        pairID,
		Debit:         entries[0],
		Credit:        entries[1],
		DebitBalance:  debitBalance,
		CreditBalance: creditBalance,
	}, nil
}

func newEntry(pairID, jobID, accountID, entryType string, amount decimal.Decimal, leg Leg, reversalOf string, now time.Time) models.LedgerEntry {
	return models.LedgerEntry{
		ID:             common.NewID(),
		PairID:         pairID,
		AccountID:      accountID,
		JobID:          jobID,
		EntryType:      entryType,
		Amount:         amount,
		Category:       leg.Category,
		Description:    leg.Description,
		PaymentID:      leg.Refs.PaymentID,
		WarrantyHoldID: leg.Refs.WarrantyHoldID,
		WithdrawalID:   leg.Refs.WithdrawalID,
		ReversalOf:     reversalOf,
		CreatedAt:      now,
	}
}

// checkDuplicate gives a readable conflict for the common case; the unique
// index on the natural key still decides under races.
func checkDuplicate(ctx context.Context, tx bun.Tx, jobID string, legs ...Leg) error {
	for _, leg := range legs {
		if leg.Refs.PaymentID == "" {
			continue
		}
		exists, err := tx.NewSelect().Model((*models.LedgerEntry)(nil)).
			Where("job_id = ?", jobID).
			Where("category = ?", leg.Category).
			Where("payment_id = ?", leg.Refs.PaymentID).
			Exists(ctx)
		if err != nil {
			return &common.TransientError{Op: "check duplicate entry", Err: err}
		}
		if exists {
			return common.NewConflictError("ledger entry",
				"job %s already has %s entries for payment %s", jobID, leg.Category, leg.Refs.PaymentID)
		}
	}
	return nil
}

func applyDelta(ctx context.Context, tx bun.Tx, accountID string, delta decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	_, err := tx.NewUpdate().Model((*models.LedgerAccount)(nil)).
		Set("balance = balance + ?", delta).
		Set("updated_at = ?", now).
		Where("id = ?", accountID).
		Exec(ctx)
	if err != nil {
		return decimal.Zero, &common.TransientError{Op: "update balance", Err: err}
	}
	account := &models.LedgerAccount{}
	if err := tx.NewSelect().Model(account).Column("balance").Where("id = ?", accountID).Scan(ctx); err != nil {
		return decimal.Zero, &common.TransientError{Op: "read balance", Err: err}
	}
	return common.RoundMoney(account.Balance), nil
}

func validateAccount(jobID string, owner Owner, accountType string) error {
	if jobID == "" {
		return common.NewValidationError("job_id", "must not be empty")
	}
	if err := owner.validate(); err != nil {
		return err
	}
	if !common.IsAccountType(accountType) {
		return common.NewValidationError("account_type", "unknown account type %q", accountType)
	}
	return nil
}

func validatePair(jobID string, debit, credit Leg) error {
	if err := validateAccount(jobID, debit.Owner, debit.AccountType); err != nil {
		return err
	}
	if err := validateAccount(jobID, credit.Owner, credit.AccountType); err != nil {
		return err
	}
	if debit.Owner == credit.Owner && debit.AccountType == credit.AccountType {
		return common.NewValidationError("credit", "debit and credit must be different accounts")
	}
	if debit.Category == "" || credit.Category == "" {
		return common.NewValidationError("category", "must not be empty")
	}
	if !debit.Amount.IsPositive() || !credit.Amount.IsPositive() {
		return common.NewValidationError("amount", "must be greater than zero")
	}
	if !common.AmountsMatch(debit.Amount, credit.Amount) {
		return common.NewValidationError("amount", "debit %s does not match credit %s",
			debit.Amount.String(), credit.Amount.String())
	}
	if !common.RoundMoney(debit.Amount).IsPositive() {
		return common.NewValidationError("amount", "rounds to zero")
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
