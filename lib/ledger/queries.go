package ledger

import (
	"context"

	"github.com/servicemart/ledgerhub/common"
	"github.com/servicemart/ledgerhub/db/models"
	"github.com/shopspring/decimal"
)

// AccountDrift reports an account whose stored balance differs from the
// balance recomputed from its entries.
type AccountDrift struct {
	AccountID   string          `json:"account_id"`
	AccountType string          `json:"account_type"`
	OwnerID     string          `json:"owner_id,omitempty"`
	Stored      decimal.Decimal `json:"stored"`
	Recomputed  decimal.Decimal `json:"recomputed"`
}

type JobBalance struct {
	JobID    string          `json:"job_id"`
	Balanced bool            `json:"balanced"`
	Total    decimal.Decimal `json:"total"`
	Accounts int             `json:"accounts"`
	Entries  int             `json:"entries"`
	Drift    []AccountDrift  `json:"drift,omitempty"`
}

// GetAccountBalance returns zero for an account that was never used.
func (s *Service) GetAccountBalance(ctx context.Context, jobID string, owner Owner, accountType string) (decimal.Decimal, error) {
	if err := validateAccount(jobID, owner, accountType); err != nil {
		return decimal.Zero, err
	}
	account := &models.LedgerAccount{}
	err := s.db.NewSelect().Model(account).
		Column("balance").
		Where("job_id = ?", jobID).
		Where("owner_kind = ?", owner.Kind()).
		Where("owner_id = ?", owner.ID()).
		Where("account_type = ?", accountType).
		Limit(1).
		Scan(ctx)
	if isNotFound(err) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, &common.TransientError{Op: "read balance", Err: err}
	}
	return common.RoundMoney(account.Balance), nil
}

// VerifyJobBalance sums every account of the job, which must be zero, and
// recomputes each account balance from its entries.
func (s *Service) VerifyJobBalance(ctx context.Context, jobID string) (*JobBalance, error) {
	if jobID == "" {
		return nil, common.NewValidationError("job_id", "must not be empty")
	}
	accounts, err := s.ListJobAccounts(ctx, jobID)
	if err != nil {
		return nil, err
	}
	entries, err := s.ListJobEntries(ctx, jobID)
	if err != nil {
		return nil, err
	}

	recomputed := make(map[string]decimal.Decimal, len(accounts))
	for i := range entries {
		recomputed[entries[i].AccountID] = recomputed[entries[i].AccountID].Add(entries[i].Signed())
	}

	result := &JobBalance{
		JobID:    jobID,
		Total:    decimal.Zero,
		Accounts: len(accounts),
		Entries:  len(entries),
	}
	for _, account := range accounts {
		result.Total = result.Total.Add(account.Balance)
		fromEntries := recomputed[account.ID]
		if !common.AmountsMatch(account.Balance, fromEntries) {
			result.Drift = append(result.Drift, AccountDrift{
				AccountID:   account.ID,
				AccountType: account.AccountType,
				OwnerID:     account.OwnerID,
				Stored:      common.RoundMoney(account.Balance),
				Recomputed:  common.RoundMoney(fromEntries),
			})
		}
	}
	result.Total = common.RoundMoney(result.Total)
	result.Balanced = common.AmountsMatch(result.Total, decimal.Zero) && len(result.Drift) == 0
	return result, nil
}

// ListJobEntries returns the job's entries, newest first.
func (s *Service) ListJobEntries(ctx context.Context, jobID string) ([]models.LedgerEntry, error) {
	entries := []models.LedgerEntry{}
	err := s.db.NewSelect().Model(&entries).
		Where("job_id = ?", jobID).
		OrderExpr("created_at DESC, id DESC").
		Scan(ctx)
	if err != nil {
		return nil, &common.TransientError{Op: "list ledger entries", Err: err}
	}
	return entries, nil
}

func (s *Service) ListJobAccounts(ctx context.Context, jobID string) ([]models.LedgerAccount, error) {
	accounts := []models.LedgerAccount{}
	err := s.db.NewSelect().Model(&accounts).
		Where("job_id = ?", jobID).
		OrderExpr("created_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, &common.TransientError{Op: "list ledger accounts", Err: err}
	}
	return accounts, nil
}

// ListJobIDs returns every job that has ledger accounts, for offline audits.
func (s *Service) ListJobIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.NewSelect().Model((*models.LedgerAccount)(nil)).
		Distinct().
		Column("job_id").
		Order("job_id").
		Scan(ctx, &ids)
	if err != nil {
		return nil, &common.TransientError{Op: "list ledger jobs", Err: err}
	}
	return ids, nil
}
