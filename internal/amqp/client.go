package amqp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

type Client struct {
	conn         *amqp091.Connection
	channel      *amqp091.Channel
	url          string
	exchangeName string
	queueName    string
}

// Handlers dispatches consumed deliveries by message type. A nil handler
// means the type is acknowledged and skipped.
type Handlers struct {
	OnRecorded func(ctx context.Context, msg *TransactionRecordedMessage) error
	OnDeleted  func(ctx context.Context, msg *TransactionDeletedMessage) error
}

func NewClient(url, exchangeName, queueName string) (*Client, error) {
	client := &Client{
		url:          url,
		exchangeName: exchangeName,
		queueName:    queueName,
	}
	if err := client.connect(); err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Client) connect() error {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	c.conn = conn
	c.channel = channel

	if err := c.setup(); err != nil {
		c.Close()
		return fmt.Errorf("setup exchange and queue: %w", err)
	}
	return nil
}

func (c *Client) setup() error {
	err := c.channel.ExchangeDeclare(
		c.exchangeName, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err = c.channel.QueueDeclare(
		c.queueName, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	// Routing key matches the queue name on a direct exchange.
	err = c.channel.QueueBind(c.queueName, c.queueName, c.exchangeName, false, nil)
	if err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	return nil
}

func (c *Client) publish(ctx context.Context, msgType string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := c.channel.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		c.queueName,    // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			Type:         msgType,
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s message: %w", msgType, err)
	}
	return nil
}

// PublishTransactionRecorded enqueues a mirror request for a stored row.
func (c *Client) PublishTransactionRecorded(ctx context.Context, id int64) error {
	body, err := NewTransactionRecordedMessage(id).ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := c.publish(ctx, TypeTransactionRecorded, body); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Published transaction recorded message",
		"id", id,
		"exchange", c.exchangeName,
		"queue", c.queueName)
	return nil
}

// PublishTransactionDeleted signals a soft-deleted row to downstream consumers.
func (c *Client) PublishTransactionDeleted(ctx context.Context, id int64) error {
	body, err := NewTransactionDeletedMessage(id).ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := c.publish(ctx, TypeTransactionDeleted, body); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Published transaction deleted message", "id", id)
	return nil
}

// PublishStoreChanged fans the model's change notification out over AMQP.
func (c *Client) PublishStoreChanged(ctx context.Context, transactions, matched int) error {
	body, err := NewStoreChangedMessage(transactions, matched).ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return c.publish(ctx, TypeStoreChanged, body)
}

// Consume reads deliveries until ctx is cancelled or the channel closes,
// dispatching them to handlers by message type. Malformed messages are
// rejected without requeue; handler failures are requeued.
func (c *Client) Consume(ctx context.Context, handlers Handlers) error {
	msgs, err := c.channel.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack (we want manual ack)
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	slog.InfoContext(ctx, "Started consuming messages", "queue", c.queueName)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Stopping message consumption", "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}
			c.dispatch(ctx, delivery, handlers)
		}
	}
}

func (c *Client) dispatch(ctx context.Context, delivery amqp091.Delivery, handlers Handlers) {
	handle := func(err error) {
		if err != nil {
			slog.ErrorContext(ctx, "Failed to handle message",
				"error", err, "type", delivery.Type)
			delivery.Nack(false, true) // requeue for retry
			return
		}
		delivery.Ack(false)
	}

	switch delivery.Type {
	case TypeTransactionRecorded:
		msg, err := TransactionRecordedMessageFromJSON(delivery.Body)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to unmarshal message", "error", err, "type", delivery.Type)
			delivery.Nack(false, false)
			return
		}
		if handlers.OnRecorded == nil {
			delivery.Ack(false)
			return
		}
		handle(handlers.OnRecorded(ctx, msg))
	case TypeTransactionDeleted:
		msg, err := TransactionDeletedMessageFromJSON(delivery.Body)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to unmarshal message", "error", err, "type", delivery.Type)
			delivery.Nack(false, false)
			return
		}
		if handlers.OnDeleted == nil {
			delivery.Ack(false)
			return
		}
		handle(handlers.OnDeleted(ctx, msg))
	default:
		// Fan-out types (store.changed) are not consumed here.
		delivery.Ack(false)
	}
}

// ConsumeWithRetry wraps Consume with reconnection on transient connection
// failures, backing off exponentially between attempts.
func (c *Client) ConsumeWithRetry(ctx context.Context, handlers Handlers) error {
	for attempt := 0; ; attempt++ {
		err := c.Consume(ctx, handlers)
		if err == nil || ctx.Err() != nil {
			return ctx.Err()
		}
		if !isConnectionError(err) {
			return err
		}

		wait := exponentialBackoff(attempt)
		slog.WarnContext(ctx, "AMQP connection lost, reconnecting",
			"error", err, "attempt", attempt+1, "backoff", wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		c.Close()
		if err := c.connect(); err != nil {
			slog.ErrorContext(ctx, "AMQP reconnect failed", "error", err, "attempt", attempt+1)
			continue
		}
		attempt = 0
	}
}

// exponentialBackoff returns 1s, 2s, 4s, ... capped at 30s.
func exponentialBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	wait := time.Second << uint(attempt)
	if attempt >= 5 || wait > 30*time.Second {
		return 30 * time.Second
	}
	return wait
}

// isConnectionError reports whether err looks like a broken AMQP
// connection worth reconnecting for.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{
		"connection refused",
		"connection closed",
		"message channel closed",
		"EOF",
		"broken pipe",
		"use of closed network connection",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
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
