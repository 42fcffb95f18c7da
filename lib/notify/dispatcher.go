package notify

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/servicemart/ledgerhub/lib/metrics"
	"github.com/ziflex/lecho/v3"
)

const DefaultBufferSize = 256

// Dispatcher queues notifications in a bounded buffer and fans them out to
// its sinks from a single background loop. A full buffer drops the
// notification with a warning.
type Dispatcher struct {
	queue   chan Notification
	sinks   []Sink
	logger  *lecho.Logger
	dropped atomic.Int64
	now     func() time.Time
}

func NewDispatcher(logger *lecho.Logger, bufferSize int, sinks ...Sink) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Dispatcher{
		queue:  make(chan Notification, bufferSize),
		sinks:  sinks,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (d *Dispatcher) Notify(ctx context.Context, n Notification) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = d.now()
	}
	if len(n.Channels) == 0 {
		n.Channels = DefaultChannels
	}
	select {
	case d.queue <- n:
	default:
		d.dropped.Add(1)
		metrics.NotificationsDropped.Inc()
		d.logger.Warnf("notification queue full, dropping type:%s user_id:%s job_id:%s", n.Type, n.UserID, n.JobID)
	}
}

// Dropped is the number of notifications lost to a full buffer.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Run delivers queued notifications until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Infof("Starting notification dispatcher with %d sinks", len(d.sinks))
	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		case n := <-d.queue:
			d.deliver(ctx, n)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n Notification) {
	for _, sink := range d.sinks {
		if err := sink.Send(ctx, n); err != nil {
			d.logger.Errorf("notification sink %s failed type:%s user_id:%s error: %v", sink.Name(), n.Type, n.UserID, err)
		}
	}
}

// Drain delivers what is still queued without waiting for new notifications.
// One-shot binaries call it before exiting.
func (d *Dispatcher) Drain(ctx context.Context) int {
	delivered := 0
	for {
		select {
		case n := <-d.queue:
			d.deliver(ctx, n)
			delivered++
		default:
			return delivered
		}
	}
}
