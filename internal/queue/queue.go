package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/jwalitptl/email-service/internal/config"
	"github.com/jwalitptl/email-service/internal/model"
)

// Client wraps one AMQP connection/channel pair and the notification
// topology: a direct exchange, the durable main queue, a retry queue that
// dead-letters back into the main queue after a per-message TTL, and the
// dead-letter queue for permanently failed notifications.
type Client struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	cfg     config.BrokerConfig
}

func Connect(cfg config.BrokerConfig) (*Client, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	client := &Client{
		conn:    conn,
		channel: channel,
		cfg:     cfg,
	}

	if err := client.declareTopology(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to setup queues: %w", err)
	}

	return client, nil
}

// declareTopology is idempotent; every declare is safe to repeat as long as
// the queue parameters match what already exists on the broker.
func (c *Client) declareTopology() error {
	err := c.channel.ExchangeDeclare(
		c.cfg.Exchange,
		"direct",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if _, err := c.channel.QueueDeclare(c.cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", c.cfg.Queue, err)
	}
	if err := c.channel.QueueBind(c.cfg.Queue, c.cfg.RoutingKey, c.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", c.cfg.Queue, err)
	}

	// Expired retry messages route back to the main queue through the
	// exchange, so a scheduled retry survives process restarts.
	retryArgs := amqp.Table{
		"x-dead-letter-exchange":    c.cfg.Exchange,
		"x-dead-letter-routing-key": c.cfg.RoutingKey,
	}
	if _, err := c.channel.QueueDeclare(c.cfg.RetryQueue, true, false, false, false, retryArgs); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", c.cfg.RetryQueue, err)
	}

	if _, err := c.channel.QueueDeclare(c.cfg.DLQQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", c.cfg.DLQQueue, err)
	}
	if err := c.channel.QueueBind(c.cfg.DLQQueue, c.cfg.DLQRoutingKey, c.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", c.cfg.DLQQueue, err)
	}

	return nil
}

// Consume opens a delivery stream from the main queue with the configured
// prefetch as the in-flight cap. Manual acknowledgment only.
func (c *Client) Consume(consumerTag string) (<-chan amqp.Delivery, error) {
	if err := c.channel.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := c.channel.Consume(
		c.cfg.Queue,
		consumerTag,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start consumer: %w", err)
	}
	return deliveries, nil
}

// ScheduleRetry re-enqueues the canonical payload through the retry queue
// with a per-message TTL equal to the backoff delay. The publish returns
// immediately; nothing is held across the wait.
func (c *Client) ScheduleRetry(ctx context.Context, n model.Notification, delay time.Duration) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	err = c.channel.PublishWithContext(
		ctx,
		"", // default exchange, straight to the retry queue
		c.cfg.RetryQueue,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Expiration:   strconv.FormatInt(delay.Milliseconds(), 10),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish retry message: %w", err)
	}
	return nil
}

// PublishDeadLetter appends a dead-letter record to the failed queue.
func (c *Client) PublishDeadLetter(ctx context.Context, rec model.DeadLetterRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal dead-letter record: %w", err)
	}

	err = c.channel.PublishWithContext(
		ctx,
		c.cfg.Exchange,
		c.cfg.DLQRoutingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish dead-letter message: %w", err)
	}
	return nil
}

func (c *Client) IsClosed() bool {
	return c.conn == nil || c.conn.IsClosed()
}

func (c *Client) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
