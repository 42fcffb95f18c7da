package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	DatabaseUri                      string          `envconfig:"DATABASE_URI" required:"true"`
	DatabaseMaxConns                 int             `envconfig:"DATABASE_MAX_CONNS" default:"10"`
	DatabaseMaxIdleConns             int             `envconfig:"DATABASE_MAX_IDLE_CONNS" default:"5"`
	DatabaseConnMaxLifetime          int             `envconfig:"DATABASE_CONN_MAX_LIFETIME" default:"1800"` // 30 minutes
	DatabaseTimeout                  int             `envconfig:"DATABASE_TIMEOUT" default:"60"`             // 60 seconds
	SentryDSN                        string          `envconfig:"SENTRY_DSN"`
	SentryTracesSampleRate           float64         `envconfig:"SENTRY_TRACES_SAMPLE_RATE"`
	DatadogAgentUrl                  string          `envconfig:"DATADOG_AGENT_URL"`
	LogFilePath                      string          `envconfig:"LOG_FILE_PATH"`
	LogLevel                         string          `envconfig:"LOG_LEVEL" default:"info"`
	JWTSecret                        []byte          `envconfig:"JWT_SECRET"`
	AdminToken                       string          `envconfig:"ADMIN_TOKEN"`
	Host                             string          `envconfig:"HOST" default:"localhost:3000"`
	Port                             int             `envconfig:"PORT" default:"3000"`
	DefaultRateLimit                 int             `envconfig:"DEFAULT_RATE_LIMIT" default:"10"`
	StrictRateLimit                  int             `envconfig:"STRICT_RATE_LIMIT" default:"10"`
	BurstRateLimit                   int             `envconfig:"BURST_RATE_LIMIT" default:"1"`
	EnablePrometheus                 bool            `envconfig:"ENABLE_PROMETHEUS" default:"false"`
	PrometheusPort                   int             `envconfig:"PROMETHEUS_PORT" default:"9092"`
	WebhookUrl                       string          `envconfig:"WEBHOOK_URL"`
	NotificationBufferSize           int             `envconfig:"NOTIFICATION_BUFFER_SIZE" default:"256"`
	RabbitMQUri                      string          `envconfig:"RABBITMQ_URI"`
	RabbitMQJobExchange              string          `envconfig:"RABBITMQ_JOB_EXCHANGE" default:"job_events"`
	RabbitMQNotificationExchange     string          `envconfig:"RABBITMQ_NOTIFICATION_EXCHANGE" default:"notifications"`
	RabbitMQPaymentConsumerQueueName string          `envconfig:"RABBITMQ_PAYMENT_CONSUMER_QUEUE_NAME" default:"ledgerhub_payment_confirmed"`
	WarrantyHoldPercentage           decimal.Decimal `envconfig:"WARRANTY_HOLD_PERCENTAGE" default:"20"`
	WarrantyDays                     int             `envconfig:"WARRANTY_DAYS" default:"10"`
	CommissionCODSurchargePercent    decimal.Decimal `envconfig:"COMMISSION_COD_SURCHARGE_PERCENT" default:"0"`
	EnableReconciler                 bool            `envconfig:"ENABLE_RECONCILER" default:"true"`
	SoftLockSweepInterval            time.Duration   `envconfig:"SOFT_LOCK_SWEEP_INTERVAL" default:"15s"`
	PaymentDeadlineSweepInterval     time.Duration   `envconfig:"PAYMENT_DEADLINE_SWEEP_INTERVAL" default:"1m"`
	BidTimeoutSweepInterval          time.Duration   `envconfig:"BID_TIMEOUT_SWEEP_INTERVAL" default:"1m"`
	WarrantySweepInterval            time.Duration   `envconfig:"WARRANTY_SWEEP_INTERVAL" default:"1h"`
	ForfeitDestination               string          `envconfig:"FORFEIT_DESTINATION" default:"DEALER"`
}

// Validate checks the settlement settings envconfig cannot express.
func (c *Config) Validate() error {
	var problems []string
	if c.WarrantyHoldPercentage.IsNegative() || c.WarrantyHoldPercentage.GreaterThan(decimal.NewFromInt(100)) {
		problems = append(problems, "WARRANTY_HOLD_PERCENTAGE must be between 0 and 100")
	}
	if c.WarrantyDays <= 0 {
		problems = append(problems, "WARRANTY_DAYS must be positive")
	}
	if c.CommissionCODSurchargePercent.IsNegative() {
		problems = append(problems, "COMMISSION_COD_SURCHARGE_PERCENT must not be negative")
	}
	switch c.ForfeitDestination {
	case "DEALER", "PLATFORM":
	default:
		problems = append(problems, "FORFEIT_DESTINATION must be DEALER or PLATFORM")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
