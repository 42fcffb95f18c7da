package rabbitmq_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/servicemart/ledgerhub/common"
	"github.com/servicemart/ledgerhub/lib/notify"
	"github.com/servicemart/ledgerhub/lib/settlement"
	"github.com/servicemart/ledgerhub/rabbitmq"
	"github.com/servicemart/ledgerhub/rabbitmq/mock_rabbitmq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outcome struct {
	tag     uint64
	acked   bool
	requeue bool
}

type acknowledger struct {
	mu       sync.Mutex
	outcomes []outcome
}

func (a *acknowledger) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outcomes = append(a.outcomes, outcome{tag: tag, acked: true})
	return nil
}

func (a *acknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outcomes = append(a.outcomes, outcome{tag: tag, requeue: requeue})
	return nil
}

func (a *acknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *acknowledger) results() []outcome {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]outcome(nil), a.outcomes...)
}

func event(t *testing.T, jobID string) []byte {
	body, err := json.Marshal(map[string]interface{}{
		"job_id":        jobID,
		"payment_id":    "pay-" + jobID,
		"total_amount":  "10000.00",
		"dealer_id":     "dealer-1",
		"technician_id": "tech-1",
	})
	require.NoError(t, err)
	return body
}

func TestConsumePaymentConfirmed(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	amqpClient := mock_rabbitmq.NewMockAMQPClient(ctrl)
	client, err := rabbitmq.NewClient(amqpClient, rabbitmq.WithJobExchange("jobs"))
	require.NoError(t, err)

	ch := make(chan amqp.Delivery, 6)
	amqpClient.EXPECT().
		Listen(gomock.Any(), "jobs", rabbitmq.PaymentConfirmedRoutingKey, gomock.Any()).
		Times(1).
		Return((<-chan amqp.Delivery)(ch), nil)

	ack := &acknowledger{}
	ch <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: event(t, "job-ok")}
	ch <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 2, Body: []byte("{not json")}
	ch <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 3, Body: event(t, "job-settled")}
	ch <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 4, Body: event(t, "job-db-down")}
	ch <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 5, Body: event(t, "job-partial")}
	ch <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 6, Body: event(t, "job-unsettled")}

	handled := make(chan *rabbitmq.PaymentConfirmedEvent, 6)
	handler := func(ctx context.Context, e *rabbitmq.PaymentConfirmedEvent) error {
		handled <- e
		switch e.JobID {
		case "job-settled":
			return common.NewConflictError("settlement", "already settled")
		case "job-db-down":
			return &common.TransientError{Op: "insert", Err: errors.New("connection refused")}
		case "job-partial":
			return &settlement.PartialSplitError{
				JobID:     e.JobID,
				Completed: []string{settlement.StepCommission, settlement.StepPayout},
				Failed:    settlement.StepHold,
				Err:       &common.TransientError{Op: "create hold", Err: errors.New("connection reset")},
			}
		case "job-unsettled":
			return &settlement.UnsettledEntriesError{JobID: e.JobID, Categories: []string{common.EntryCategoryCommission}}
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- client.ConsumePaymentConfirmed(ctx, handler)
	}()

	assert.Eventually(t, func() bool { return len(ack.results()) == 6 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, []outcome{
		{tag: 1, acked: true},
		{tag: 2},
		{tag: 3, acked: true},
		{tag: 4, requeue: true},
		{tag: 5},
		{tag: 6},
	}, ack.results())

	first := <-handled
	assert.Equal(t, "job-ok", first.JobID)
	assert.Equal(t, "10000.00", first.TotalAmount.StringFixed(2))
	assert.Nil(t, first.HoldPercentage)
}

func TestConsumeStopsWhenChannelCloses(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	amqpClient := mock_rabbitmq.NewMockAMQPClient(ctrl)
	client, err := rabbitmq.NewClient(amqpClient)
	require.NoError(t, err)

	ch := make(chan amqp.Delivery)
	close(ch)
	amqpClient.EXPECT().Listen(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return((<-chan amqp.Delivery)(ch), nil)

	err = client.ConsumePaymentConfirmed(context.Background(), func(ctx context.Context, e *rabbitmq.PaymentConfirmedEvent) error {
		return nil
	})
	assert.Error(t, err)
}

func TestSendPublishesNotification(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	amqpClient := mock_rabbitmq.NewMockAMQPClient(ctrl)
	client, err := rabbitmq.NewClient(amqpClient, rabbitmq.WithNotificationExchange("notify"))
	require.NoError(t, err)

	amqpClient.EXPECT().
		ExchangeDeclare("notify", "topic", true, false, false, false, gomock.Nil()).
		Times(1).
		Return(nil)
	amqpClient.EXPECT().
		PublishWithContext(gomock.Any(), "notify", "notification.BID_EXPIRED", false, false, gomock.Any()).
		Times(2).
		DoAndReturn(func(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
			n := notify.Notification{}
			assert.NoError(t, json.Unmarshal(msg.Body, &n))
			assert.Equal(t, "tech-1", n.UserID)
			assert.Equal(t, "application/json", msg.ContentType)
			return nil
		})

	n := notify.Notification{UserID: "tech-1", JobID: "job-1", Type: notify.TypeBidExpired, Title: "Bid expired"}
	assert.NoError(t, client.Send(context.Background(), n))
	assert.NoError(t, client.Send(context.Background(), n))
	assert.Equal(t, "rabbitmq", client.Name())
}
