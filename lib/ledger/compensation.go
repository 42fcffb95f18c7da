package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/servicemart/ledgerhub/common"
	"github.com/servicemart/ledgerhub/db/models"
	"github.com/servicemart/ledgerhub/lib/audit"
	"github.com/uptrace/bun"
)

// PostCompensation reverses a posted pair with an ADJUSTMENT pair in the
// opposite direction. History is never deleted; a pair can be reversed once.
func (s *Service) PostCompensation(ctx context.Context, jobID, pairID, reason string) (*PostResult, error) {
	if jobID == "" {
		return nil, common.NewValidationError("job_id", "must not be empty")
	}
	if pairID == "" {
		return nil, common.NewValidationError("pair_id", "must not be empty")
	}
	if reason == "" {
		return nil, common.NewValidationError("reason", "must not be empty")
	}

	var result *PostResult
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		original, err := loadPair(ctx, tx, jobID, pairID)
		if err != nil {
			return err
		}
		if original[0].Category == common.EntryCategoryAdjustment {
			return common.NewConflictError("ledger entry", "pair %s is itself a compensation", pairID)
		}
		debited, credited := original[0], original[1]
		if debited.EntryType != common.EntryTypeDebit {
			debited, credited = credited, debited
		}
		description := fmt.Sprintf("reversal of %s (%s): %s", pairID, debited.Category, reason)
		refs := common.Refs{WarrantyHoldID: debited.WarrantyHoldID, WithdrawalID: debited.WithdrawalID}
		// the original credit side pays back the original debit side
		debit := Leg{
			Owner:       OwnerOf(credited.Account),
			AccountType: credited.Account.AccountType,
			Amount:      credited.Amount,
			Category:    common.EntryCategoryAdjustment,
			Description: description,
			Refs:        refs,
		}
		credit := Leg{
			Owner:       OwnerOf(debited.Account),
			AccountType: debited.Account.AccountType,
			Amount:      debited.Amount,
			Category:    common.EntryCategoryAdjustment,
			Description: description,
			Refs:        refs,
		}
		reversed, err := tx.NewSelect().Model((*models.LedgerEntry)(nil)).
			Where("reversal_of = ?", pairID).
			Exists(ctx)
		if err != nil {
			return &common.TransientError{Op: "check reversal", Err: err}
		}
		if reversed {
			return common.NewConflictError("ledger entry", "pair %s already reversed", pairID)
		}
		result, err = post(ctx, tx, jobID, debit, credit, pairID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.recordPost(ctx, audit.ActionLedgerCompensation, jobID, result)
	return result, nil
}

func loadPair(ctx context.Context, tx bun.Tx, jobID, pairID string) ([2]models.LedgerEntry, error) {
	var pair [2]models.LedgerEntry
	entries := []models.LedgerEntry{}
	err := tx.NewSelect().Model(&entries).
		Relation("Account").
		Where("le.job_id = ?", jobID).
		Where("le.pair_id = ?", pairID).
		Scan(ctx)
	if err != nil {
		return pair, &common.TransientError{Op: "load ledger pair", Err: err}
	}
	if len(entries) != 2 {
		return pair, fmt.Errorf("ledger pair %s for job %s: %w", pairID, jobID, common.ErrNotFound)
	}
	pair[0], pair[1] = entries[0], entries[1]
	return pair, nil
}
