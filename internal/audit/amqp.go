package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const DefaultQueue = "audit.events"

// Channel is the part of *amqp.Channel the publisher uses.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher forwards audit records to a durable RabbitMQ queue.
type AMQPPublisher struct {
	conn  *amqp.Connection
	ch    Channel
	queue string
	mu    sync.Mutex
}

func DialAMQP(url, queue string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial failed: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: channel open failed: %w", err)
	}
	p, err := NewAMQPPublisher(ch, queue)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

// NewAMQPPublisher declares the queue (idempotent) on ch.
func NewAMQPPublisher(ch Channel, queue string) (*AMQPPublisher, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	if _, err := ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // args
	); err != nil {
		return nil, fmt.Errorf("rabbitmq: queue declare failed: %w", err)
	}
	return &AMQPPublisher{ch: ch, queue: queue}, nil
}

func (p *AMQPPublisher) Write(ctx context.Context, record Record) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("rabbitmq: marshal record failed: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    record.ID,
		Type:         record.EventType,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.PublishWithContext(ctx,
		"",      // default exchange
		p.queue, // routing key = queue name
		false,   // mandatory
		false,   // immediate
		msg,
	); err != nil {
		return fmt.Errorf("rabbitmq: publish failed: %w", err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// ConsumeChannel is the part of *amqp.Channel the consumer uses.
type ConsumeChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// AMQPConsumer drains the audit queue into a Sink.
type AMQPConsumer struct {
	conn   *amqp.Connection
	ch     ConsumeChannel
	queue  string
	logger *slog.Logger

	retryDelay    time.Duration
	maxRetryDelay time.Duration
	failures      int
}

type ConsumerOption func(*AMQPConsumer)

// WithRetryBackoff sets the pause before a message the sink refused is
// requeued. The pause doubles per consecutive failure, capped at maxDelay.
func WithRetryBackoff(initial, maxDelay time.Duration) ConsumerOption {
	return func(c *AMQPConsumer) {
		if initial > 0 {
			c.retryDelay = initial
		}
		if maxDelay >= c.retryDelay {
			c.maxRetryDelay = maxDelay
		}
	}
}

func DialAMQPConsumer(url, queue string, logger *slog.Logger, opts ...ConsumerOption) (*AMQPConsumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial failed: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: channel open failed: %w", err)
	}
	c, err := NewAMQPConsumer(ch, queue, logger, opts...)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	c.conn = conn
	return c, nil
}

func NewAMQPConsumer(ch ConsumeChannel, queue string, logger *slog.Logger, opts ...ConsumerOption) (*AMQPConsumer, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("rabbitmq: queue declare failed: %w", err)
	}
	if err := ch.Qos(16, 0, false); err != nil {
		return nil, fmt.Errorf("rabbitmq: qos failed: %w", err)
	}
	c := &AMQPConsumer{
		ch:            ch,
		queue:         queue,
		logger:        logger,
		retryDelay:    time.Second,
		maxRetryDelay: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run blocks until ctx is cancelled or the delivery channel closes.
// Undecodable messages are rejected. Sink failures are requeued after a
// backoff, which also pauses consumption while the sink is down.
func (c *AMQPConsumer) Run(ctx context.Context, sink Sink) error {
	deliveries, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq: consume failed: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("rabbitmq: delivery channel closed")
			}
			c.handle(ctx, sink, d)
		}
	}
}

func (c *AMQPConsumer) handle(ctx context.Context, sink Sink, d amqp.Delivery) {
	var record Record
	if err := json.Unmarshal(d.Body, &record); err != nil || record.ID == "" {
		c.logger.WarnContext(ctx, "dropping malformed audit message", "message_id", d.MessageId, "error", err)
		_ = d.Reject(false)
		return
	}

	if err := sink.Write(ctx, record); err != nil {
		delay := c.nextRetryDelay()
		c.logger.WarnContext(ctx, "audit sink failed, requeueing", "event_id", record.ID, "retry_in", delay, "error", err)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
		_ = d.Nack(false, true)
		return
	}
	c.failures = 0
	_ = d.Ack(false)
}

func (c *AMQPConsumer) nextRetryDelay() time.Duration {
	delay := c.retryDelay
	for i := 0; i < c.failures && delay < c.maxRetryDelay; i++ {
		delay *= 2
	}
	if delay > c.maxRetryDelay {
		delay = c.maxRetryDelay
	}
	c.failures++
	return delay
}

func (c *AMQPConsumer) Close() error {
	err := c.ch.Close()
	if c.conn != nil {
		if cerr := c.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
