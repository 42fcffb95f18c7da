// Package notify delivers best-effort notifications about settlement events.
// Notify never blocks the financial operation that triggered it.
package notify

import (
	"context"
	"time"

	"github.com/ziflex/lecho/v3"
)

//go:generate mockgen -destination=./mock_notify/notify.go github.com/servicemart/ledgerhub/lib/notify Notifier,Sink

const (
	ChannelInApp    = "IN_APP"
	ChannelEmail    = "EMAIL"
	ChannelWhatsApp = "WHATSAPP"
	ChannelSMS      = "SMS"
)

const (
	TypeSoftLockExpired        = "SOFT_LOCK_EXPIRED"
	TypePaymentDeadlineExpired = "PAYMENT_DEADLINE_EXPIRED"
	TypeBidExpired             = "BID_EXPIRED"
	TypeHoldCreated            = "WARRANTY_HOLD_CREATED"
	TypeHoldFrozen             = "WARRANTY_HOLD_FROZEN"
	TypeHoldUnfrozen           = "WARRANTY_HOLD_UNFROZEN"
	TypeHoldReleased           = "WARRANTY_HOLD_RELEASED"
	TypeHoldForfeited          = "WARRANTY_HOLD_FORFEITED"
	TypePaymentSplit           = "PAYMENT_SPLIT"
)

var DefaultChannels = []string{ChannelInApp}

type Notification struct {
	UserID    string    `json:"user_id"`
	JobID     string    `json:"job_id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Channels  []string  `json:"channels"`
	CreatedAt time.Time `json:"created_at"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Sink is one delivery backend.
type Sink interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Discard drops everything.
type Discard struct{}

func (Discard) Notify(ctx context.Context, n Notification) {}

// LogSink writes notifications to the service log.
type LogSink struct {
	Logger *lecho.Logger
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(ctx context.Context, n Notification) error {
	s.Logger.Infof("notification type:%s user_id:%s job_id:%s channels:%v title:%q", n.Type, n.UserID, n.JobID, n.Channels, n.Title)
	return nil
}
