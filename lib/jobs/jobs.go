// Package jobs reads and updates the job, bid and rejection rows the
// reconciliation sweeps act on. Every update is a compare-and-set on the
// row's current status, so a second sweep over the same row is a no-op.
package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/servicemart/ledgerhub/common"
	"github.com/servicemart/ledgerhub/db/models"
	"github.com/uptrace/bun"
)

type Store struct {
	db *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

func (s *Store) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	job := &models.Job{}
	err := s.db.NewSelect().Model(job).Where("id = ?", jobID).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", jobID, common.ErrNotFound)
	}
	if err != nil {
		return nil, &common.TransientError{Op: "load job", Err: err}
	}
	return job, nil
}

func (s *Store) ListExpiredSoftLocks(ctx context.Context, now time.Time) ([]models.Job, error) {
	jobs := []models.Job{}
	err := s.db.NewSelect().Model(&jobs).
		Where("status = ?", common.JobStatusSoftLocked).
		Where("soft_lock_expires_at <= ?", now.UTC()).
		OrderExpr("soft_lock_expires_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, &common.TransientError{Op: "list expired soft locks", Err: err}
	}
	return jobs, nil
}

// ReleaseSoftLock returns the job to the open pool. It reports false when the
// lock was already released or changed hands.
func (s *Store) ReleaseSoftLock(ctx context.Context, job *models.Job, now time.Time) (bool, error) {
	res, err := s.db.NewUpdate().Model((*models.Job)(nil)).
		Set("status = ?", common.JobStatusOpen).
		Set("soft_locked_by = NULL").
		Set("soft_lock_expires_at = NULL").
		Set("updated_at = ?", now.UTC()).
		Where("id = ?", job.ID).
		Where("status = ?", common.JobStatusSoftLocked).
		Where("soft_locked_by = ?", job.SoftLockedBy).
		Exec(ctx)
	return affected(res, err, "release soft lock")
}

func (s *Store) ListMissedPaymentDeadlines(ctx context.Context, now time.Time) ([]models.Job, error) {
	jobs := []models.Job{}
	err := s.db.NewSelect().Model(&jobs).
		Where("status = ?", common.JobStatusAwaitingPayment).
		Where("payment_deadline <= ?", now.UTC()).
		OrderExpr("payment_deadline ASC").
		Scan(ctx)
	if err != nil {
		return nil, &common.TransientError{Op: "list missed payment deadlines", Err: err}
	}
	return jobs, nil
}

// ExpirePaymentDeadline clears the assignment and records the technician as
// rejected for the job, in one transaction.
func (s *Store) ExpirePaymentDeadline(ctx context.Context, job *models.Job, now time.Time) (bool, error) {
	var done bool
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().Model((*models.Job)(nil)).
			Set("status = ?", common.JobStatusOpen).
			Set("assigned_technician_id = NULL").
			Set("payment_deadline = NULL").
			Set("updated_at = ?", now.UTC()).
			Where("id = ?", job.ID).
			Where("status = ?", common.JobStatusAwaitingPayment).
			Exec(ctx)
		if done, err = affected(res, err, "expire payment deadline"); err != nil || !done {
			return err
		}
		if job.AssignedTechnicianID == "" {
			return nil
		}
		rejection := &models.JobRejection{
			ID:           common.NewID(),
			JobID:        job.ID,
			TechnicianID: job.AssignedTechnicianID,
			Reason:       common.RejectionReasonPaymentDeadline,
			CreatedAt:    now.UTC(),
		}
		if _, err := tx.NewInsert().Model(rejection).Exec(ctx); err != nil {
			return &common.TransientError{Op: "insert job rejection", Err: err}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return done, nil
}

func (s *Store) ListRejections(ctx context.Context, jobID string) ([]models.JobRejection, error) {
	rejections := []models.JobRejection{}
	err := s.db.NewSelect().Model(&rejections).
		Where("job_id = ?", jobID).
		OrderExpr("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, &common.TransientError{Op: "list job rejections", Err: err}
	}
	return rejections, nil
}

// ListStaleBids returns pending bids created before cutoff.
func (s *Store) ListStaleBids(ctx context.Context, cutoff time.Time) ([]models.Bid, error) {
	bids := []models.Bid{}
	err := s.db.NewSelect().Model(&bids).
		Where("status = ?", common.BidStatusPending).
		Where("created_at < ?", cutoff.UTC()).
		OrderExpr("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, &common.TransientError{Op: "list stale bids", Err: err}
	}
	return bids, nil
}

// ExpireBid marks a pending bid EXPIRED. Bids are never deleted.
func (s *Store) ExpireBid(ctx context.Context, bid *models.Bid, now time.Time) (bool, error) {
	res, err := s.db.NewUpdate().Model((*models.Bid)(nil)).
		Set("status = ?", common.BidStatusExpired).
		Set("expired_at = ?", now.UTC()).
		Where("id = ?", bid.ID).
		Where("status = ?", common.BidStatusPending).
		Exec(ctx)
	return affected(res, err, "expire bid")
}

func (s *Store) CountPendingBids(ctx context.Context, jobID string) (int, error) {
	n, err := s.db.NewSelect().Model((*models.Bid)(nil)).
		Where("job_id = ?", jobID).
		Where("status = ?", common.BidStatusPending).
		Count(ctx)
	if err != nil {
		return 0, &common.TransientError{Op: "count pending bids", Err: err}
	}
	return n, nil
}

func affected(res sql.Result, err error, op string) (bool, error) {
	if err != nil {
		return false, &common.TransientError{Op: op, Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &common.TransientError{Op: op, Err: err}
	}
	return n == 1, nil
}
