// Package rabbitmq consumes confirmed payments from the job service and
// publishes user notifications.
package rabbitmq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/getsentry/sentry-go"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/servicemart/ledgerhub/common"
	"github.com/servicemart/ledgerhub/lib/notify"
	"github.com/shopspring/decimal"
	"github.com/ziflex/lecho/v3"
)

//go:generate mockgen -destination=./mock_rabbitmq/rabbitmq.go github.com/servicemart/ledgerhub/rabbitmq AMQPClient

const (
	contentTypeJSON = "application/json"

	PaymentConfirmedRoutingKey = "payment.confirmed"
)

var bufPool = sync.Pool{
	New: func() interface{} { return new(bytes.Buffer) },
}

// PaymentConfirmedEvent is published by the job service once the customer's
// payment for a job has cleared.
type PaymentConfirmedEvent struct {
	JobID                string           `json:"job_id"`
	PaymentID            string           `json:"payment_id"`
	TotalAmount          decimal.Decimal  `json:"total_amount"`
	JobType              string           `json:"job_type"`
	DealerID             string           `json:"dealer_id"`
	TechnicianID         string           `json:"technician_id"`
	City                 string           `json:"city"`
	Region               string           `json:"region"`
	ServiceCategoryID    string           `json:"service_category_id,omitempty"`
	ServiceSubCategoryID string           `json:"service_sub_category_id,omitempty"`
	HoldPercentage       *decimal.Decimal `json:"hold_percentage,omitempty"`
	WarrantyDays         int              `json:"warranty_days,omitempty"`
}

type PaymentConfirmedHandler = func(ctx context.Context, event *PaymentConfirmedEvent) error

type Client interface {
	ConsumePaymentConfirmed(ctx context.Context, handler PaymentConfirmedHandler) error
	// Name and Send make the client a notification sink.
	Name() string
	Send(ctx context.Context, n notify.Notification) error
	Close() error
}

type DefaultClient struct {
	amqpClient AMQPClient
	logger     *lecho.Logger

	jobExchange          string
	paymentQueueName     string
	notificationExchange string

	declareMu sync.Mutex
	declared  bool
}

type ClientOption = func(client *DefaultClient)

func WithJobExchange(exchange string) ClientOption {
	return func(client *DefaultClient) {
		client.jobExchange = exchange
	}
}

func WithPaymentQueueName(name string) ClientOption {
	return func(client *DefaultClient) {
		client.paymentQueueName = name
	}
}

func WithNotificationExchange(exchange string) ClientOption {
	return func(client *DefaultClient) {
		client.notificationExchange = exchange
	}
}

func WithLogger(logger *lecho.Logger) ClientOption {
	return func(client *DefaultClient) {
		client.logger = logger
	}
}

func NewClient(amqpClient AMQPClient, options ...ClientOption) (*DefaultClient, error) {
	if amqpClient == nil {
		return nil, errors.New("rabbitmq: nil amqp client")
	}
	client := &DefaultClient{
		amqpClient:           amqpClient,
		logger:               lecho.New(io.Discard),
		jobExchange:          "job_events",
		paymentQueueName:     "ledgerhub_payment_confirmed",
		notificationExchange: "notifications",
	}
	for _, opt := range options {
		opt(client)
	}
	return client, nil
}

func (client *DefaultClient) Close() error { return client.amqpClient.Close() }

func (client *DefaultClient) Name() string { return "rabbitmq" }

// ConsumePaymentConfirmed blocks, handing every event to handler. Malformed
// and rejected events are dropped, a redelivered event for a job that is
// already settled is acked, transient failures are requeued.
func (client *DefaultClient) ConsumePaymentConfirmed(ctx context.Context, handler PaymentConfirmedHandler) error {
	deliveries, err := client.amqpClient.Listen(ctx, client.jobExchange, PaymentConfirmedRoutingKey, client.paymentQueueName)
	if err != nil {
		return err
	}
	client.logger.Infof("Consuming %s from exchange %s", PaymentConfirmedRoutingKey, client.jobExchange)
	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("rabbitmq: payment delivery channel closed")
			}
			client.handleDelivery(ctx, delivery, handler)
		}
	}
}

func (client *DefaultClient) handleDelivery(ctx context.Context, delivery amqp.Delivery, handler PaymentConfirmedHandler) {
	event := &PaymentConfirmedEvent{}
	if err := json.Unmarshal(delivery.Body, event); err != nil {
		captureErr(client.logger, fmt.Errorf("decode payment.confirmed: %w", err))
		nack(client.logger, delivery, false)
		return
	}
	err := handler(ctx, event)
	switch {
	case err == nil:
		client.logger.Infof("Settled job_id:%s payment_id:%s", event.JobID, event.PaymentID)
		ack(client.logger, delivery)
	case errors.Is(err, common.ErrIncompleteSettlement):
		// some steps are on the books, a redelivery would only hit the duplicate guard
		captureErr(client.logger, fmt.Errorf("payment for job %s needs manual settlement: %w", event.JobID, err))
		nack(client.logger, delivery, false)
	case errors.Is(err, common.ErrConflict):
		client.logger.Infof("Payment for job_id:%s already settled, dropping redelivery", event.JobID)
		ack(client.logger, delivery)
	case errors.Is(err, common.ErrTransient):
		client.logger.Warnf("Requeueing payment for job_id:%s: %v", event.JobID, err)
		nack(client.logger, delivery, true)
	default:
		captureErr(client.logger, fmt.Errorf("payment for job %s: %w", event.JobID, err))
		nack(client.logger, delivery, false)
	}
}

// Send publishes n to the notification exchange under notification.<type>.
func (client *DefaultClient) Send(ctx context.Context, n notify.Notification) error {
	if err := client.declareNotificationExchange(); err != nil {
		return err
	}
	payload := bufPool.Get().(*bytes.Buffer)
	defer func() {
		payload.Reset()
		bufPool.Put(payload)
	}()
	if err := json.NewEncoder(payload).Encode(n); err != nil {
		return err
	}
	key := fmt.Sprintf("notification.%s", n.Type)
	err := client.amqpClient.PublishWithContext(ctx, client.notificationExchange, key, false, false, amqp.Publishing{
		ContentType: contentTypeJSON,
		Body:        payload.Bytes(),
	})
	if err != nil {
		return err
	}
	client.logger.Debugf("Published %s for user_id:%s", key, n.UserID)
	return nil
}

func (client *DefaultClient) declareNotificationExchange() error {
	client.declareMu.Lock()
	defer client.declareMu.Unlock()
	if client.declared {
		return nil
	}
	if err := client.amqpClient.ExchangeDeclare(client.notificationExchange, exchangeKind, true, false, false, false, nil); err != nil {
		return err
	}
	client.declared = true
	return nil
}

func ack(logger *lecho.Logger, delivery amqp.Delivery) {
	if err := delivery.Ack(false); err != nil {
		captureErr(logger, err)
	}
}

func nack(logger *lecho.Logger, delivery amqp.Delivery, requeue bool) {
	if err := delivery.Nack(false, requeue); err != nil {
		captureErr(logger, err)
	}
}

func captureErr(logger *lecho.Logger, err error) {
	logger.Error(err)
	sentry.CaptureException(err)
}
