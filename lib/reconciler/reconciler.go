// Package reconciler runs the periodic sweeps that drive time-based
// transitions: soft-lock expiry, payment deadlines, bid timeouts and
// warranty release.
package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/servicemart/ledgerhub/lib/audit"
	"github.com/servicemart/ledgerhub/lib/jobs"
	"github.com/servicemart/ledgerhub/lib/notify"
	"github.com/servicemart/ledgerhub/lib/warranty"
	"github.com/ziflex/lecho/v3"
)

const (
	TaskSoftLockExpiry        = "soft_lock_expiry"
	TaskPaymentDeadlineExpiry = "payment_deadline_expiry"
	TaskBidTimeout            = "bid_timeout"
	TaskWarrantyRelease       = "warranty_release"
)

const BidWindow = 5 * time.Minute

// SweepResult counts the items a single run saw. Skipped items were already
// handled elsewhere or are deferred to the next cycle.
type SweepResult struct {
	Task      string `json:"task"`
	Scanned   int    `json:"scanned"`
	Processed int    `json:"processed"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
}

func (r SweepResult) String() string {
	return fmt.Sprintf("task:%s scanned:%d processed:%d skipped:%d failed:%d", r.Task, r.Scanned, r.Processed, r.Skipped, r.Failed)
}

// Task is one sweep. Run returns an error only when the scan itself failed;
// item failures are counted in the result.
type Task interface {
	Name() string
	Run(ctx context.Context) (SweepResult, error)
}

// Deps are the collaborators shared by the sweeps.
type Deps struct {
	Jobs     *jobs.Store
	Warranty *warranty.Service
	Audit    audit.Recorder
	Notifier notify.Notifier
	Logger   *lecho.Logger
	Now      func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

// Tasks returns the four sweeps.
func Tasks(d Deps) []Task {
	return []Task{
		&SoftLockExpiry{Deps: d},
		&PaymentDeadlineExpiry{Deps: d},
		&BidTimeout{Deps: d, Window: BidWindow},
		&WarrantyRelease{Deps: d},
	}
}
