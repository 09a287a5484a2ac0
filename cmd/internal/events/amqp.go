package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultQueue is the durable queue security events are published to.
const DefaultQueue = "auth.events"

const (
	defaultDialTimeout = 3 * time.Second
	minRedialBackoff   = time.Second
	maxRedialBackoff   = time.Minute
)

// ErrBrokerBackoff is returned while a failed broker connection is waiting to be retried.
var ErrBrokerBackoff = errors.New("amqp: broker unavailable, retry pending")

// AMQPPublisher publishes events as persistent JSON messages to a durable queue on the default
// exchange. The connection is opened lazily and reopened after the broker drops it.
//
// Publish never waits longer than the caller's context or the dial timeout. After a failed dial
// further publishes fail fast with ErrBrokerBackoff until the backoff elapses.
type AMQPPublisher struct {
	url         string
	queue       string
	dialTimeout time.Duration
	dial        func(ctx context.Context) (*amqp.Connection, error)
	now         func() time.Time

	// sem is a one-slot lock that a waiting Publish can abandon when its context ends.
	sem       chan struct{}
	conn      *amqp.Connection
	ch        *amqp.Channel
	backoff   time.Duration
	nextRetry time.Time
}

// NewAMQPPublisher returns a publisher for url. queue defaults to DefaultQueue.
func NewAMQPPublisher(url, queue string) *AMQPPublisher {
	if queue == "" {
		queue = DefaultQueue
	}
	p := &AMQPPublisher{
		url:         url,
		queue:       queue,
		dialTimeout: defaultDialTimeout,
		now:         time.Now,
		sem:         make(chan struct{}, 1),
	}
	p.dial = p.dialBroker
	return p
}

// dialBroker bounds the TCP connect by ctx and the dial timeout. The deadline also covers the
// AMQP handshake; the client clears it once the connection is open.
func (p *AMQPPublisher) dialBroker(ctx context.Context) (*amqp.Connection, error) {
	ctx, cancel := context.WithTimeout(ctx, p.dialTimeout)
	defer cancel()
	deadline, _ := ctx.Deadline()

	return amqp.DialConfig(p.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial: func(network, addr string) (net.Conn, error) {
			var d net.Dialer
			conn, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if err := conn.SetDeadline(deadline); err != nil {
				_ = conn.Close()
				return nil, err
			}
			return conn, nil
		},
	})
}

func (p *AMQPPublisher) lock(ctx context.Context) error {
	select {
	case p.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *AMQPPublisher) unlock() { <-p.sem }

func (p *AMQPPublisher) channelLocked(ctx context.Context) (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	if p.conn == nil || p.conn.IsClosed() {
		if now := p.now(); now.Before(p.nextRetry) {
			return nil, ErrBrokerBackoff
		}
		conn, err := p.dial(ctx)
		if err != nil {
			p.scheduleRetry()
			return nil, fmt.Errorf("amqp dial: %w", err)
		}
		p.conn = conn
		p.backoff = 0
		p.nextRetry = time.Time{}
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(
		p.queue, // name
		true,    // durable
		false,   // autoDelete
		false,   // exclusive
		false,   // noWait
		nil,     // args
	); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("amqp queue declare: %w", err)
	}
	p.ch = ch
	return ch, nil
}

func (p *AMQPPublisher) scheduleRetry() {
	switch {
	case p.backoff == 0:
		p.backoff = minRedialBackoff
	case p.backoff < maxRedialBackoff:
		p.backoff = min(2*p.backoff, maxRedialBackoff)
	}
	p.nextRetry = p.now().Add(p.backoff)
}

func (p *AMQPPublisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("amqp marshal: %w", err)
	}

	if err := p.lock(ctx); err != nil {
		return fmt.Errorf("amqp publish: %w", err)
	}
	defer p.unlock()

	ch, err := p.channelLocked(ctx)
	if err != nil {
		return err
	}

	ts := ev.OccurredAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	err = ch.PublishWithContext(ctx,
		"",      // default exchange
		p.queue, // routing key = queue name
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    ts,
			Type:         string(ev.Type),
			Body:         body,
		},
	)
	if err != nil {
		// Force a fresh channel next time.
		_ = ch.Close()
		p.ch = nil
		return fmt.Errorf("amqp publish: %w", err)
	}
	return nil
}

// Close releases the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.sem <- struct{}{}
	defer p.unlock()

	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		err := p.conn.Close()
		p.conn = nil
		return err
	}
	return nil
}
