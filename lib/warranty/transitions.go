package warranty

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/servicemart/ledgerhub/common"
	"github.com/servicemart/ledgerhub/db/models"
	"github.com/servicemart/ledgerhub/lib/audit"
	"github.com/servicemart/ledgerhub/lib/ledger"
	"github.com/servicemart/ledgerhub/lib/notify"
	"github.com/uptrace/bun"
)

// Freeze pauses the warranty clock, typically because a dispute was raised.
// Freezing a frozen hold is a no-op.
func (s *Service) Freeze(ctx context.Context, holdID, reason string, actor common.Actor) (*models.WarrantyHold, error) {
	hold, err := s.Get(ctx, holdID)
	if err != nil {
		return nil, err
	}
	if hold.Status == common.HoldStatusFrozen {
		return hold, nil
	}
	if !CanTransition(hold.Status, common.HoldStatusFrozen) {
		return nil, illegal(hold, common.HoldStatusFrozen)
	}

	previous := snapshot(hold)
	now := s.now().Truncate(time.Second)
	ok, err := s.compareAndSet(ctx, s.db, hold.ID, []string{common.HoldStatusLocked}, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("status = ?", common.HoldStatusFrozen).
			Set("frozen_at = ?", now).
			Set("last_paused_at = ?", now).
			Set("freeze_reason = ?", reason).
			Set("updated_at = ?", now)
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		// someone else moved it first
		current, err := s.Get(ctx, holdID)
		if err != nil {
			return nil, err
		}
		if current.Status == common.HoldStatusFrozen {
			return current, nil
		}
		return nil, illegal(current, common.HoldStatusFrozen)
	}
	hold.Status = common.HoldStatusFrozen
	hold.FrozenAt = bun.NullTime{Time: now}
	hold.LastPausedAt = bun.NullTime{Time: now}
	hold.FreezeReason = reason
	hold.UpdatedAt = now

	s.audit.Record(ctx, audit.Entry{
		JobID:         hold.JobID,
		Actor:         actor,
		Action:        audit.ActionHoldFrozen,
		Description:   fmt.Sprintf("warranty hold frozen: %s", reason),
		PreviousValue: previous,
		NewValue:      snapshot(hold),
		Amount:        audit.Amount(hold.HoldAmount),
		Refs:          refs(hold),
	})
	s.notifier.Notify(ctx, notify.Notification{
		UserID:  hold.TechnicianID,
		JobID:   hold.JobID,
		Type:    notify.TypeHoldFrozen,
		Title:   "Warranty hold paused",
		Message: fmt.Sprintf("The warranty hold of %s is paused: %s", hold.HoldAmount.StringFixed(2), reason),
	})
	return hold, nil
}

// Unfreeze resumes the clock and pushes maturity back by the time spent frozen.
func (s *Service) Unfreeze(ctx context.Context, holdID string, actor common.Actor) (*models.WarrantyHold, error) {
	hold, err := s.Get(ctx, holdID)
	if err != nil {
		return nil, err
	}
	if hold.Status != common.HoldStatusFrozen {
		return nil, illegal(hold, common.HoldStatusLocked)
	}

	previous := snapshot(hold)
	now := s.now().Truncate(time.Second)
	var pause int64
	if !hold.LastPausedAt.IsZero() && now.After(hold.LastPausedAt.Time) {
		pause = int64(now.Sub(hold.LastPausedAt.Time) / time.Second)
	}
	paused := hold.PausedDuration + pause
	effectiveEnd := hold.EndDate.Add(time.Duration(paused) * time.Second)

	ok, err := s.compareAndSet(ctx, s.db, hold.ID, []string{common.HoldStatusFrozen}, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("status = ?", common.HoldStatusLocked).
			Set("paused_duration = ?", paused).
			Set("effective_end_date = ?", effectiveEnd).
			Set("last_paused_at = NULL").
			Set("updated_at = ?", now)
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		current, err := s.Get(ctx, holdID)
		if err != nil {
			return nil, err
		}
		return nil, illegal(current, common.HoldStatusLocked)
	}
	hold.Status = common.HoldStatusLocked
	hold.PausedDuration = paused
	hold.EffectiveEndDate = effectiveEnd
	hold.LastPausedAt = bun.NullTime{}
	hold.UpdatedAt = now

	s.audit.Record(ctx, audit.Entry{
		JobID:         hold.JobID,
		Actor:         actor,
		Action:        audit.ActionHoldUnfrozen,
		Description:   fmt.Sprintf("warranty hold resumed after %ds, matures %s", pause, effectiveEnd.Format(time.RFC3339)),
		PreviousValue: previous,
		NewValue:      snapshot(hold),
		Amount:        audit.Amount(hold.HoldAmount),
		Refs:          refs(hold),
	})
	s.notifier.Notify(ctx, notify.Notification{
		UserID:  hold.TechnicianID,
		JobID:   hold.JobID,
		Type:    notify.TypeHoldUnfrozen,
		Title:   "Warranty hold resumed",
		Message: fmt.Sprintf("The warranty hold now matures on %s.", effectiveEnd.Format("2006-01-02")),
	})
	return hold, nil
}

// Release pays the hold out to the technician. Terminal holds are rejected.
func (s *Service) Release(ctx context.Context, holdID, reason string, actor common.Actor) (*models.WarrantyHold, error) {
	hold, err := s.close(ctx, holdID, common.HoldStatusReleased, reason, actor, func(hold *models.WarrantyHold) ledger.Leg {
		return ledger.Leg{
			Owner:       ledger.UserOwner(hold.TechnicianID),
			AccountType: common.AccountTypeTechnicianPayable,
		}
	})
	if err != nil {
		return nil, err
	}
	s.notifier.Notify(ctx, notify.Notification{
		UserID:  hold.TechnicianID,
		JobID:   hold.JobID,
		Type:    notify.TypeHoldReleased,
		Title:   "Warranty hold released",
		Message: fmt.Sprintf("%s has been released to your balance.", hold.HoldAmount.StringFixed(2)),
	})
	return hold, nil
}

// Forfeit moves the hold to the dealer or the platform. Terminal holds are rejected.
func (s *Service) Forfeit(ctx context.Context, holdID, reason string, destination ForfeitDestination, actor common.Actor) (*models.WarrantyHold, error) {
	var credit func(hold *models.WarrantyHold) ledger.Leg
	switch destination {
	case ForfeitToDealer:
		credit = func(hold *models.WarrantyHold) ledger.Leg {
			return ledger.Leg{Owner: ledger.UserOwner(hold.DealerID), AccountType: common.AccountTypeDealerReceivable}
		}
	case ForfeitToPlatform:
		credit = func(hold *models.WarrantyHold) ledger.Leg {
			return ledger.Leg{Owner: ledger.SystemOwner, AccountType: common.AccountTypePlatformCommission}
		}
	default:
		return nil, common.NewValidationError("destination", "unknown forfeit destination %q", destination)
	}
	hold, err := s.close(ctx, holdID, common.HoldStatusForfeited, reason, actor, credit)
	if err != nil {
		return nil, err
	}
	message := fmt.Sprintf("The warranty hold of %s was forfeited: %s", hold.HoldAmount.StringFixed(2), reason)
	for _, userID := range []string{hold.TechnicianID, hold.DealerID} {
		s.notifier.Notify(ctx, notify.Notification{
			UserID:  userID,
			JobID:   hold.JobID,
			Type:    notify.TypeHoldForfeited,
			Title:   "Warranty hold forfeited",
			Message: message,
		})
	}
	return hold, nil
}

// close moves a hold to a terminal state and empties its WARRANTY_HOLD
// balance into the credit leg, all in one transaction.
func (s *Service) close(ctx context.Context, holdID, status, reason string, actor common.Actor, credit func(*models.WarrantyHold) ledger.Leg) (*models.WarrantyHold, error) {
	hold, err := s.Get(ctx, holdID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(hold.Status, status) {
		return nil, illegal(hold, status)
	}

	previous := snapshot(hold)
	now := s.now()
	category, action, settlement := common.EntryCategoryWarrantyRelease, audit.ActionHoldReleased, common.SettlementStatusReleased
	if status == common.HoldStatusForfeited {
		category, action, settlement = common.EntryCategoryWarrantyForfeit, audit.ActionHoldForfeited, common.SettlementStatusForfeited
	}

	var posted *ledger.PostResult
	err = s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		ok, err := s.compareAndSet(ctx, tx, hold.ID, sourcesOf(status), func(q *bun.UpdateQuery) *bun.UpdateQuery {
			q = q.Set("status = ?", status).
				Set("last_paused_at = NULL").
				Set("closing_reason = ?", reason).
				Set("closed_by = ?", actor.UserID).
				Set("updated_at = ?", now)
			if status == common.HoldStatusReleased {
				return q.Set("released_at = ?", now)
			}
			return q.Set("forfeited_at = ?", now)
		})
		if err != nil {
			return err
		}
		if !ok {
			current, err := get(ctx, tx, holdID)
			if err != nil {
				return err
			}
			return illegal(current, status)
		}

		description := fmt.Sprintf("warranty hold %s %s: %s", hold.ID, status, reason)
		creditLeg := credit(hold)
		creditLeg.Amount = hold.HoldAmount
		creditLeg.Category = category
		creditLeg.Description = description
		creditLeg.Refs = refs(hold)
		posted, err = s.ledger.PostDoubleEntryTx(ctx, tx, hold.JobID,
			ledger.Leg{
				Owner:       ledger.SystemOwner,
				AccountType: common.AccountTypeWarrantyHold,
				Amount:      hold.HoldAmount,
				Category:    category,
				Description: description,
				Refs:        refs(hold),
			},
			creditLeg)
		if err != nil {
			return err
		}

		q := tx.NewUpdate().Model((*models.JobPayment)(nil)).
			Set("status = ?", settlement).
			Set("updated_at = ?", now).
			Where("warranty_hold_id = ?", hold.ID)
		if status == common.HoldStatusReleased {
			q = q.Set("released_at = ?", now)
		}
		if _, err := q.Exec(ctx); err != nil {
			return &common.TransientError{Op: "update settlement status", Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	hold.Status = status
	hold.LastPausedAt = bun.NullTime{}
	hold.ClosingReason = reason
	hold.ClosedBy = actor.UserID
	hold.UpdatedAt = now
	if status == common.HoldStatusReleased {
		hold.ReleasedAt = bun.NullTime{Time: now}
	} else {
		hold.ForfeitedAt = bun.NullTime{Time: now}
	}

	s.ledger.RecordPost(ctx, hold.JobID, posted)
	s.audit.Record(ctx, audit.Entry{
		JobID:         hold.JobID,
		Actor:         actor,
		Action:        action,
		Description:   fmt.Sprintf("warranty hold %s: %s", status, reason),
		PreviousValue: previous,
		NewValue:      snapshot(hold),
		Amount:        audit.Amount(hold.HoldAmount),
		Refs:          refs(hold),
		Metadata:      map[string]interface{}{"pair_id": posted.PairID, "credit_account_id": posted.Credit.AccountID},
	})
	return hold, nil
}

// compareAndSet applies the update only while the hold is still in one of
// the expected states and reports whether it did.
func (s *Service) compareAndSet(ctx context.Context, db bun.IDB, holdID string, expected []string, set func(*bun.UpdateQuery) *bun.UpdateQuery) (bool, error) {
	q := db.NewUpdate().Model((*models.WarrantyHold)(nil)).
		Where("id = ?", holdID).
		Where("status IN (?)", bun.In(expected))
	res, err := set(q).Exec(ctx)
	if err != nil {
		return false, &common.TransientError{Op: "update warranty hold", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &common.TransientError{Op: "update warranty hold", Err: err}
	}
	return n == 1, nil
}

func illegal(hold *models.WarrantyHold, to string) error {
	return common.NewConflictError("warranty hold", "cannot move hold %s from %s to %s", hold.ID, hold.Status, to)
}
