package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/servicemart/ledgerhub/common"
	"github.com/servicemart/ledgerhub/lib/audit"
	"github.com/servicemart/ledgerhub/lib/notify"
)

type SoftLockExpiry struct {
	Deps
}

func (t *SoftLockExpiry) Name() string { return TaskSoftLockExpiry }

func (t *SoftLockExpiry) Run(ctx context.Context) (SweepResult, error) {
	result := SweepResult{Task: t.Name()}
	now := t.now()
	expired, err := t.Jobs.ListExpiredSoftLocks(ctx, now)
	if err != nil {
		return result, err
	}
	result.Scanned = len(expired)
	for i := range expired {
		job := &expired[i]
		ok, err := t.Jobs.ReleaseSoftLock(ctx, job, now)
		if err != nil {
			result.Failed++
			t.Logger.Errorf("Failed to release soft lock job_id:%s error: %v", job.ID, err)
			continue
		}
		if !ok {
			result.Skipped++
			continue
		}
		result.Processed++
		t.Audit.Record(ctx, audit.Entry{
			JobID:         job.ID,
			Actor:         common.SystemActor,
			Action:        audit.ActionSoftLockExpired,
			Description:   fmt.Sprintf("soft lock by %s expired", job.SoftLockedBy),
			PreviousValue: map[string]string{"status": job.Status, "soft_locked_by": job.SoftLockedBy},
			NewValue:      map[string]string{"status": common.JobStatusOpen},
		})
		t.Notifier.Notify(ctx, notify.Notification{
			UserID:  job.SoftLockedBy,
			JobID:   job.ID,
			Type:    notify.TypeSoftLockExpired,
			Title:   "Job lock expired",
			Message: "Your hold on this job expired and it is open to other technicians again.",
		})
	}
	return result, nil
}

type PaymentDeadlineExpiry struct {
	Deps
}

func (t *PaymentDeadlineExpiry) Name() string { return TaskPaymentDeadlineExpiry }

func (t *PaymentDeadlineExpiry) Run(ctx context.Context) (SweepResult, error) {
	result := SweepResult{Task: t.Name()}
	now := t.now()
	missed, err := t.Jobs.ListMissedPaymentDeadlines(ctx, now)
	if err != nil {
		return result, err
	}
	result.Scanned = len(missed)
	for i := range missed {
		job := &missed[i]
		ok, err := t.Jobs.ExpirePaymentDeadline(ctx, job, now)
		if err != nil {
			result.Failed++
			t.Logger.Errorf("Failed to expire payment deadline job_id:%s error: %v", job.ID, err)
			continue
		}
		if !ok {
			result.Skipped++
			continue
		}
		result.Processed++
		t.Audit.Record(ctx, audit.Entry{
			JobID:         job.ID,
			Actor:         common.SystemActor,
			Action:        audit.ActionPaymentDeadlineExpired,
			Description:   fmt.Sprintf("payment deadline missed, technician %s released", job.AssignedTechnicianID),
			PreviousValue: map[string]string{"status": job.Status, "assigned_technician_id": job.AssignedTechnicianID},
			NewValue:      map[string]string{"status": common.JobStatusOpen},
		})
		if job.AssignedTechnicianID != "" {
			t.Notifier.Notify(ctx, notify.Notification{
				UserID:  job.AssignedTechnicianID,
				JobID:   job.ID,
				Type:    notify.TypePaymentDeadlineExpired,
				Title:   "Payment deadline missed",
				Message: "The payment deadline passed and the job was returned to the pool.",
			})
		}
		t.Notifier.Notify(ctx, notify.Notification{
			UserID:  job.DealerID,
			JobID:   job.ID,
			Type:    notify.TypePaymentDeadlineExpired,
			Title:   "Job reopened",
			Message: "The assigned technician did not complete payment in time. The job is open again.",
		})
	}
	return result, nil
}

type BidTimeout struct {
	Deps
	Window time.Duration
}

func (t *BidTimeout) Name() string { return TaskBidTimeout }

func (t *BidTimeout) Run(ctx context.Context) (SweepResult, error) {
	result := SweepResult{Task: t.Name()}
	now := t.now()
	stale, err := t.Jobs.ListStaleBids(ctx, now.Add(-t.Window))
	if err != nil {
		return result, err
	}
	result.Scanned = len(stale)
	for i := range stale {
		bid := &stale[i]
		ok, err := t.Jobs.ExpireBid(ctx, bid, now)
		if err != nil {
			result.Failed++
			t.Logger.Errorf("Failed to expire bid bid_id:%s job_id:%s error: %v", bid.ID, bid.JobID, err)
			continue
		}
		if !ok {
			result.Skipped++
			continue
		}
		result.Processed++

		remaining, err := t.Jobs.CountPendingBids(ctx, bid.JobID)
		if err != nil {
			t.Logger.Warnf("Could not count pending bids job_id:%s error: %v", bid.JobID, err)
		}
		t.Audit.Record(ctx, audit.Entry{
			JobID:         bid.JobID,
			Actor:         common.SystemActor,
			Action:        audit.ActionBidExpired,
			Description:   fmt.Sprintf("bid %s by %s expired without a response", bid.ID, bid.TechnicianID),
			PreviousValue: map[string]string{"status": common.BidStatusPending},
			NewValue:      map[string]string{"status": common.BidStatusExpired},
			Amount:        audit.Amount(bid.Amount),
			Metadata:      map[string]interface{}{"bid_id": bid.ID, "remaining_pending_bids": remaining},
		})
		t.Notifier.Notify(ctx, notify.Notification{
			UserID:  bid.TechnicianID,
			JobID:   bid.JobID,
			Type:    notify.TypeBidExpired,
			Title:   "Bid expired",
			Message: fmt.Sprintf("Your bid of %s expired without a response.", bid.Amount.StringFixed(2)),
		})
		job, err := t.Jobs.GetJob(ctx, bid.JobID)
		if err != nil {
			t.Logger.Warnf("Could not load job for expired bid job_id:%s error: %v", bid.JobID, err)
			continue
		}
		message := "A bid on your job expired."
		if remaining == 0 {
			message = "The last pending bid on your job expired. The job stays open for new bids."
		}
		t.Notifier.Notify(ctx, notify.Notification{
			UserID:  job.DealerID,
			JobID:   job.ID,
			Type:    notify.TypeBidExpired,
			Title:   "Bid expired",
			Message: message,
		})
	}
	return result, nil
}

type WarrantyRelease struct {
	Deps
}

func (t *WarrantyRelease) Name() string { return TaskWarrantyRelease }

// Run releases matured holds. A hold with an open dispute is skipped and
// looked at again next cycle.
func (t *WarrantyRelease) Run(ctx context.Context) (SweepResult, error) {
	result := SweepResult{Task: t.Name()}
	now := t.now()
	holds, err := t.Warranty.ListEligibleForRelease(ctx, now)
	if err != nil {
		return result, err
	}
	result.Scanned = len(holds)
	for i := range holds {
		hold := &holds[i]
		eligible, err := t.Warranty.IsEligibleForRelease(ctx, hold, now)
		if err != nil {
			result.Failed++
			t.Logger.Errorf("Failed to check release eligibility hold_id:%s job_id:%s error: %v", hold.ID, hold.JobID, err)
			continue
		}
		if !eligible {
			result.Skipped++
			t.Logger.Infof("Deferring release of hold_id:%s job_id:%s: open dispute", hold.ID, hold.JobID)
			continue
		}
		_, err = t.Warranty.Release(ctx, hold.ID, "warranty period completed", common.SystemActor)
		switch {
		case err == nil:
			result.Processed++
		case errors.Is(err, common.ErrConflict):
			result.Skipped++
		default:
			result.Failed++
			t.Logger.Errorf("Failed to release hold_id:%s job_id:%s error: %v", hold.ID, hold.JobID, err)
		}
	}
	return result, nil
}
