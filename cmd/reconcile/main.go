package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/servicemart/ledgerhub/db"
	"github.com/servicemart/ledgerhub/lib"
	"github.com/servicemart/ledgerhub/lib/reconciler"
	"github.com/servicemart/ledgerhub/lib/service"
)

// script to run the reconciler sweeps once, e.g. from a cron job when the
// server runs with ENABLE_RECONCILER=false
func main() {
	task := flag.String("task", "", "run only this task (default: all)")
	flag.Parse()

	c := &service.Config{}

	// Load configuration from environment variables
	err := godotenv.Load(".env")
	if err != nil {
		fmt.Println("Failed to load .env file")
	}
	err = envconfig.Process("", c)
	if err != nil {
		log.Fatalf("Error loading environment variables: %v", err)
	}
	if err = c.Validate(); err != nil {
		log.Fatal(err)
	}

	logger := lib.Logger(c.LogFilePath, c.LogLevel)

	if c.SentryDSN != "" {
		if err = sentry.Init(sentry.ClientOptions{
			Dsn: c.SentryDSN,
		}); err != nil {
			logger.Errorf("sentry init error: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	dbConn, err := db.Open(c)
	if err != nil {
		logger.Fatalf("Error initializing db connection: %v", err)
	}
	defer dbConn.Close()

	svc := service.New(c, dbConn, logger, nil)
	ctx := context.Background()

	var results []reconciler.SweepResult
	if *task != "" {
		var result reconciler.SweepResult
		result, err = svc.Scheduler.RunNow(ctx, *task)
		results = append(results, result)
	} else {
		results, err = svc.Scheduler.RunAll(ctx)
	}
	for _, result := range results {
		logger.Infof("Sweep finished: %s", result)
	}
	delivered := svc.Notifications.Drain(ctx)
	logger.Infof("Delivered %d notifications", delivered)
	if err != nil {
		sentry.CaptureException(err)
		logger.Error(err)
		sentry.Flush(2 * time.Second)
		os.Exit(1)
	}
}
