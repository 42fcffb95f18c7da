// Package dispute answers whether a job has an open dispute. The dispute
// workflow itself lives elsewhere; this package only reads its state.
package dispute

import (
	"context"

	"github.com/servicemart/ledgerhub/common"
	"github.com/servicemart/ledgerhub/db/models"
	"github.com/uptrace/bun"
)

//go:generate mockgen -destination=./mock_dispute/dispute.go github.com/servicemart/ledgerhub/lib/dispute Checker

type Checker interface {
	HasOpenDispute(ctx context.Context, jobID string) (bool, error)
}

// DBChecker reads the disputes table mirrored from the dispute service.
type DBChecker struct {
	db bun.IDB
}

func NewDBChecker(db bun.IDB) *DBChecker {
	return &DBChecker{db: db}
}

func (c *DBChecker) HasOpenDispute(ctx context.Context, jobID string) (bool, error) {
	open, err := c.db.NewSelect().Model((*models.Dispute)(nil)).
		Where("job_id = ?", jobID).
		Where("status = ?", common.DisputeStatusOpen).
		Exists(ctx)
	if err != nil {
		return false, &common.TransientError{Op: "check open dispute", Err: err}
	}
	return open, nil
}

// Static is a fixed answer set, for tools that run without the dispute mirror.
type Static map[string]bool

func (s Static) HasOpenDispute(ctx context.Context, jobID string) (bool, error) {
	return s[jobID], nil
}
