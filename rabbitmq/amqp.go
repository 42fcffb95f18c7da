package rabbitmq

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/ziflex/lecho/v3"
)

const (
	defaultHeartbeat = 10 * time.Second
	defaultLocale    = "en_US"
	exchangeKind     = "topic"
	deliveryLimit    = 10
)

type connEvent int

const (
	connReconnected connEvent = iota
	connLost
)

// AMQPClient is the slice of an AMQP connection the client needs. Listen
// keeps delivering across reconnects.
type AMQPClient interface {
	Listen(ctx context.Context, exchange, routingKey, queueName string, options ...ListenOption) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Close() error
}

type amqpConnection struct {
	uri    string
	logger *lecho.Logger

	mu   sync.RWMutex
	conn *amqp.Connection
	// consumer and publisher get their own channels so publisher flow
	// control never stalls consumption
	consumeChannel *amqp.Channel
	publishChannel *amqp.Channel
	closed         chan *amqp.Error

	listenersMu sync.Mutex
	listeners   []chan connEvent

	reconnecting atomic.Bool
}

// DialAMQP connects and keeps reconnecting in the background with
// exponential backoff for up to a minute per outage.
func DialAMQP(uri string, logger *lecho.Logger) (AMQPClient, error) {
	c := &amqpConnection{uri: uri, logger: logger}
	if err := c.connect(); err != nil {
		return nil, err
	}
	go c.watch()
	return c, nil
}

func (c *amqpConnection) connect() error {
	conn, err := amqp.DialConfig(c.uri, amqp.Config{
		Heartbeat: defaultHeartbeat,
		Locale:    defaultLocale,
		Dial:      amqp.DefaultDial(3 * time.Second),
	})
	if err != nil {
		return err
	}
	consumeChannel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}
	publishChannel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}
	closed := make(chan *amqp.Error, 1)
	conn.NotifyClose(closed)

	c.mu.Lock()
	c.conn = conn
	c.consumeChannel = consumeChannel
	c.publishChannel = publishChannel
	c.closed = closed
	c.mu.Unlock()
	return nil
}

func newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = time.Minute
	return b
}

func (c *amqpConnection) watch() {
	for {
		c.mu.RLock()
		closed := c.closed
		c.mu.RUnlock()

		amqpErr, ok := <-closed
		if !ok || amqpErr == nil {
			// closed by us
			return
		}
		c.logger.Errorf("amqp: connection lost: %v", amqpErr)
		c.reconnecting.Store(true)
		if err := backoff.Retry(c.connect, newBackoff()); err != nil {
			c.logger.Errorf("amqp: giving up reconnecting: %v", err)
			c.broadcast(connLost)
			return
		}
		c.reconnecting.Store(false)
		c.logger.Info("amqp: reconnected")
		c.broadcast(connReconnected)
	}
}

func (c *amqpConnection) broadcast(event connEvent) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	for _, listener := range c.listeners {
		select {
		case listener <- event:
		default:
		}
	}
}

func (c *amqpConnection) Close() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn.Close()
}

func (c *amqpConnection) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	c.mu.RLock()
	ch, err := c.conn.Channel()
	c.mu.RUnlock()
	if err != nil {
		return err
	}
	defer ch.Close()
	return ch.ExchangeDeclare(name, kind, durable, autoDelete, internal, noWait, args)
}

type ListenOptions struct {
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	AutoAck    bool
	NoWait     bool
}

type ListenOption = func(opts ListenOptions) ListenOptions

func WithAutoDelete(autoDelete bool) ListenOption {
	return func(opts ListenOptions) ListenOptions {
		opts.AutoDelete = autoDelete
		return opts
	}
}

func WithExclusive(exclusive bool) ListenOption {
	return func(opts ListenOptions) ListenOptions {
		opts.Exclusive = exclusive
		return opts
	}
}

func WithAutoAck(autoAck bool) ListenOption {
	return func(opts ListenOptions) ListenOptions {
		opts.AutoAck = autoAck
		return opts
	}
}

// Listen returns a delivery channel that survives reconnects. It is closed
// when ctx ends or the connection cannot be re-established.
func (c *amqpConnection) Listen(ctx context.Context, exchange, routingKey, queueName string, options ...ListenOption) (<-chan amqp.Delivery, error) {
	opts := ListenOptions{Durable: true}
	for _, opt := range options {
		opts = opt(opts)
	}
	deliveries, err := c.consume(exchange, routingKey, queueName, opts)
	if err != nil {
		return nil, err
	}

	events := make(chan connEvent, 2)
	c.listenersMu.Lock()
	c.listeners = append(c.listeners, events)
	c.listenersMu.Unlock()

	out := make(chan amqp.Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case event := <-events:
				if event == connLost {
					return
				}
				d, err := c.consume(exchange, routingKey, queueName, opts)
				if err != nil {
					c.logger.Errorf("amqp: resubscribing to %s failed: %v", routingKey, err)
					return
				}
				c.logger.Infof("amqp: consuming %s again after reconnect", routingKey)
				deliveries = d
			case delivery, ok := <-deliveries:
				if !ok {
					// wait for the reconnect event
					deliveries = nil
					continue
				}
				select {
				case out <- delivery:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (c *amqpConnection) consume(exchange, routingKey, queueName string, opts ListenOptions) (<-chan amqp.Delivery, error) {
	c.mu.RLock()
	ch := c.consumeChannel
	c.mu.RUnlock()

	if err := ch.ExchangeDeclare(exchange, exchangeKind, opts.Durable, opts.AutoDelete, false, opts.NoWait, nil); err != nil {
		return nil, err
	}
	// quorum queues enforce the delivery limit, so a poison message that
	// keeps getting requeued is eventually dropped
	args := amqp.Table{}
	if opts.Durable && !opts.Exclusive {
		args["x-queue-type"] = "quorum"
		args["x-delivery-limit"] = deliveryLimit
	}
	queue, err := ch.QueueDeclare(queueName, opts.Durable, opts.AutoDelete, opts.Exclusive, opts.NoWait, args)
	if err != nil {
		return nil, err
	}
	if err := ch.QueueBind(queue.Name, routingKey, exchange, opts.NoWait, nil); err != nil {
		return nil, err
	}
	return ch.Consume(queue.Name, "", opts.AutoAck, opts.Exclusive, false, opts.NoWait, nil)
}

func (c *amqpConnection) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if c.reconnecting.Load() {
		err := backoff.Retry(func() error {
			if c.reconnecting.Load() {
				return errors.New("amqp: reconnect in progress")
			}
			return nil
		}, backoff.WithContext(newBackoff(), ctx))
		if err != nil {
			return err
		}
	}
	c.mu.RLock()
	ch := c.publishChannel
	c.mu.RUnlock()
	return ch.PublishWithContext(ctx, exchange, key, mandatory, immediate, msg)
}
