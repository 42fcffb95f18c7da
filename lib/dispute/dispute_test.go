package dispute_test

import (
	"context"
	"testing"
	"time"

	"github.com/servicemart/ledgerhub/common"
	"github.com/servicemart/ledgerhub/db/dbtest"
	"github.com/servicemart/ledgerhub/db/models"
	"github.com/servicemart/ledgerhub/lib/dispute"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDBCheckerOnlyCountsOpenDisputes(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	checker := dispute.NewDBChecker(db)

	rows := []models.Dispute{
		{ID: "d-1", JobID: "job-1", Status: common.DisputeStatusOpen, CreatedAt: time.Now().UTC()},
		{ID: "d-2", JobID: "job-2", Status: common.DisputeStatusResolved, CreatedAt: time.Now().UTC()},
	}
	_, err := db.NewInsert().Model(&rows).Exec(ctx)
	require.NoError(t, err)

	open, err := checker.HasOpenDispute(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, open)

	open, err = checker.HasOpenDispute(ctx, "job-2")
	require.NoError(t, err)
	assert.False(t, open)

	open, err = checker.HasOpenDispute(ctx, "job-3")
	require.NoError(t, err)
	assert.False(t, open)
}

func TestStaticChecker(t *testing.T) {
	checker := dispute.Static{"job-1": true}
	open, _ := checker.HasOpenDispute(context.Background(), "job-1")
	assert.True(t, open)
	open, _ = checker.HasOpenDispute(context.Background(), "job-2")
	assert.False(t, open)
}
