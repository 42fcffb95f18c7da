package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/servicemart/ledgerhub/db"
	"github.com/servicemart/ledgerhub/lib"
	"github.com/servicemart/ledgerhub/lib/service"
)

// script to check the zero-sum invariant and the stored balances of every
// job ledger. Exits non-zero if any job is off.
func main() {
	c := &service.Config{}

	err := godotenv.Load(".env")
	if err != nil {
		fmt.Println("Failed to load .env file")
	}
	err = envconfig.Process("", c)
	if err != nil {
		log.Fatalf("Error loading environment variables: %v", err)
	}

	logger := lib.Logger(c.LogFilePath, c.LogLevel)

	dbConn, err := db.Open(c)
	if err != nil {
		logger.Fatalf("Error initializing db connection: %v", err)
	}
	defer dbConn.Close()

	svc := service.New(c, dbConn, logger, nil)
	ctx := context.Background()

	jobIDs, err := svc.Ledger.ListJobIDs(ctx)
	if err != nil {
		logger.Fatalf("Error listing jobs: %v", err)
	}
	failed := 0
	for _, jobID := range jobIDs {
		balance, err := svc.Ledger.VerifyJobBalance(ctx, jobID)
		if err != nil {
			logger.Errorf("Failed to verify job_id:%s error: %v", jobID, err)
			failed++
			continue
		}
		if !balance.Balanced || len(balance.Drift) > 0 {
			failed++
			logger.Errorf("Ledger out of balance job_id:%s total:%s drift:%d", jobID, balance.Total.StringFixed(2), len(balance.Drift))
			for _, drift := range balance.Drift {
				logger.Errorf("  account_id:%s type:%s stored:%s recomputed:%s",
					drift.AccountID, drift.AccountType, drift.Stored.StringFixed(2), drift.Recomputed.StringFixed(2))
			}
		}
	}
	logger.Infof("Verified %d job ledgers, %d failed", len(jobIDs), failed)
	if failed > 0 {
		os.Exit(1)
	}
}
