package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/labstack/echo/v4"
	"github.com/servicemart/ledgerhub/db"
	"github.com/servicemart/ledgerhub/db/migrations"
	"github.com/servicemart/ledgerhub/lib"
	"github.com/servicemart/ledgerhub/lib/service"
	"github.com/servicemart/ledgerhub/lib/tokens"
	"github.com/servicemart/ledgerhub/lib/transport"
	"github.com/servicemart/ledgerhub/rabbitmq"
	"github.com/uptrace/bun/migrate"
	ddEcho "gopkg.in/DataDog/dd-trace-go.v1/contrib/labstack/echo.v4"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"
)

func main() {
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

	// Setup logging to STDOUT or a configured log file
	logger := lib.Logger(c.LogFilePath, c.LogLevel)

	// Open a DB connection based on the configured DATABASE_URI
	dbConn, err := db.Open(c)
	if err != nil {
		logger.Fatalf("Error initializing db connection: %v", err)
	}

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), time.Duration(c.DatabaseTimeout)*time.Second)
	migrator := migrate.NewMigrator(dbConn, migrations.Migrations)
	err = migrator.Init(startupCtx)
	if err != nil {
		logger.Fatalf("Error initializing db migrator: %v", err)
	}
	group, err := migrator.Migrate(startupCtx)
	if err != nil {
		logger.Fatalf("Error migrating database: %v", err)
	}
	cancelStartup()
	if !group.IsZero() {
		logger.Infof("Migrated database to %s", group)
	}

	// sentry init needs to happen before the echo middlewares are added
	if c.SentryDSN != "" {
		if err = sentry.Init(sentry.ClientOptions{
			Dsn:              c.SentryDSN,
			IgnoreErrors:     []string{"401"},
			EnableTracing:    c.SentryTracesSampleRate > 0,
			TracesSampleRate: c.SentryTracesSampleRate,
		}); err != nil {
			logger.Errorf("sentry init error: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	// If no RABBITMQ_URI was provided we will not attempt to create a client.
	// Payments then only arrive over HTTP.
	var rabbitmqClient rabbitmq.Client
	if c.RabbitMQUri != "" {
		amqpClient, err := rabbitmq.DialAMQP(c.RabbitMQUri, logger)
		if err != nil {
			logger.Fatal(err)
		}

		rabbitmqClient, err = rabbitmq.NewClient(amqpClient,
			rabbitmq.WithLogger(logger),
			rabbitmq.WithJobExchange(c.RabbitMQJobExchange),
			rabbitmq.WithPaymentQueueName(c.RabbitMQPaymentConsumerQueueName),
			rabbitmq.WithNotificationExchange(c.RabbitMQNotificationExchange),
		)
		if err != nil {
			logger.Fatal(err)
		}

		// close the connection gently at the end of the runtime
		defer rabbitmqClient.Close()
	}

	svc := service.New(c, dbConn, logger, rabbitmqClient)

	e := transport.InitEcho(c, logger)
	//if Datadog is configured, add datadog middleware
	if c.DatadogAgentUrl != "" {
		tracer.Start(tracer.WithAgentAddr(c.DatadogAgentUrl))
		defer tracer.Stop()
		e.Use(ddEcho.Middleware(ddEcho.WithServiceName("ledgerhub")))
	}

	//Start Prometheus server if necessary
	var echoPrometheus *echo.Echo
	if c.EnablePrometheus {
		echoPrometheus = transport.NewPrometheusEcho(logger, e)
		go func() {
			logger.Infof("Starting prometheus on port %d", c.PrometheusPort)
			if err := echoPrometheus.Start(fmt.Sprintf(":%d", c.PrometheusPort)); err != nil && err != http.ErrServerClosed {
				logger.Fatal(err)
			}
		}()
	}

	logMw := transport.CreateLoggingMiddleware(logger)
	// strict rate limit for everything that posts to the ledger
	strictRateLimitMiddleware := transport.CreateRateLimitMiddleware(c.StrictRateLimit, c.BurstRateLimit)
	secured := e.Group("", tokens.Middleware(c.JWTSecret), logMw)
	transport.RegisterEndpoints(svc, e, secured, strictRateLimitMiddleware, tokens.AdminTokenMiddleware(c.AdminToken))

	var backgroundWg sync.WaitGroup
	backGroundCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	backgroundWg.Add(1)
	go func() {
		defer backgroundWg.Done()
		if err := svc.Notifications.Run(backGroundCtx); err != nil && !errors.Is(err, context.Canceled) {
			svc.Logger.Error(err)
		}
		svc.Logger.Info("Notification dispatcher done")
	}()

	if c.EnableReconciler {
		backgroundWg.Add(1)
		go func() {
			defer backgroundWg.Done()
			if err := svc.Scheduler.Start(backGroundCtx); err != nil && !errors.Is(err, context.Canceled) {
				sentry.CaptureException(err)
				svc.Logger.Error(err)
			}
			svc.Logger.Info("Reconciler done")
		}()
	}

	if svc.RabbitMQClient != nil {
		backgroundWg.Add(1)
		go func() {
			defer backgroundWg.Done()
			err := svc.RabbitMQClient.ConsumePaymentConfirmed(backGroundCtx, svc.HandlePaymentConfirmed)
			if err != nil && !errors.Is(err, context.Canceled) {
				sentry.CaptureException(err)
				//without the consumer no payment reaches the ledger
				svc.Logger.Fatal(err)
			}
			svc.Logger.Info("Payment consumer done")
		}()
	}

	// Start server
	go func() {
		if err := e.Start(fmt.Sprintf(":%v", c.Port)); err != nil && err != http.ErrServerClosed {
			e.Logger.Fatal("shutting down the server")
		}
	}()

	<-backGroundCtx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		e.Logger.Fatal(err)
	}
	if echoPrometheus != nil {
		if err := echoPrometheus.Shutdown(ctx); err != nil {
			e.Logger.Fatal(err)
		}
	}
	//Wait for graceful shutdown of background routines
	backgroundWg.Wait()
	svc.Logger.Info("Ledgerhub exiting gracefully. Goodbye.")
}
