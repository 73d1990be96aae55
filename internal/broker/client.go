// Package broker implements the AMQP transport: connection lifecycle,
// queue topology, publish with bounded retry, ack-after-handle consumption
// and the correlation-based request/reply round trip.
package broker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/reelworthy/go-recommendation-flow/internal/event"
)

// ErrTimeout is returned when no message arrives within the consume window.
var ErrTimeout = errors.New("timed out waiting for messages")

const (
	// publishBudget bounds the total wall clock spent retrying one publish.
	publishBudget = 60 * time.Second
	// publishRetries is the number of retries after the first attempt.
	publishRetries = 2
	pingRoutingKey = "broker_ping"
)

// Handler processes one consumed event. correlationID carries the reply
// routing key for request messages, empty otherwise. A non-nil error leaves
// the message on the queue for redelivery.
type Handler func(ctx context.Context, ev event.Event, correlationID string) error

// Client is the shared broker transport. One connection/channel pair is
// lazily established and reused across calls; any operation that finds the
// pair closed transparently reconnects and re-declares the exchange.
type Client struct {
	url        string
	exchange   string
	messageTTL time.Duration
	dial       DialFunc
	log        zerolog.Logger

	mu   sync.Mutex
	conn Connection
	ch   Channel
}

// NewClient builds a broker client against a real AMQP endpoint.
func NewClient(url, exchange string, messageTTL time.Duration, logger zerolog.Logger) *Client {
	return NewClientWithDialer(url, exchange, messageTTL, Dial, logger)
}

// NewClientWithDialer is NewClient with an injectable dialer, for tests.
func NewClientWithDialer(url, exchange string, messageTTL time.Duration, dial DialFunc, logger zerolog.Logger) *Client {
	return &Client{
		url:        url,
		exchange:   exchange,
		messageTTL: messageTTL,
		dial:       dial,
		log:        logger.With().Str("component", "broker").Logger(),
	}
}

// QueueName derives the deterministic queue name for a routing key.
func (c *Client) QueueName(routingKey string) string {
	return c.exchange + "." + routingKey
}

// channel returns a live channel, reconnecting and re-declaring the
// exchange if the previous connection or channel has closed.
func (c *Client) channel() (Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ch != nil && !c.ch.IsClosed() {
		return c.ch, nil
	}
	if c.conn == nil || c.conn.IsClosed() {
		c.log.Info().Str("exchange", c.exchange).Msg("connecting to broker")
		conn, err := c.dial(c.url)
		if err != nil {
			return nil, fmt.Errorf("dial broker: %w", err)
		}
		c.conn = conn
	}
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(c.exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", c.exchange, err)
	}
	c.ch = ch
	return c.ch, nil
}

// invalidate drops the cached channel so the next call reconnects.
func (c *Client) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ch = nil
}

// DeclareQueue declares a queue named <exchange>.<routingKey> and binds it
// to the exchange under the routing key. Returns the queue name.
func (c *Client) DeclareQueue(routingKey string, durable, autoDelete bool) (string, error) {
	ch, err := c.channel()
	if err != nil {
		return "", err
	}
	name := c.QueueName(routingKey)
	if _, err := ch.QueueDeclare(name, durable, autoDelete, false, false, nil); err != nil {
		c.invalidate()
		return "", fmt.Errorf("declare queue %s: %w", name, err)
	}
	if err := ch.QueueBind(name, routingKey, c.exchange, false, nil); err != nil {
		c.invalidate()
		return "", fmt.Errorf("bind queue %s: %w", name, err)
	}
	return name, nil
}

// DeleteQueue removes the queue bound under routingKey.
func (c *Client) DeleteQueue(routingKey string) error {
	ch, err := c.channel()
	if err != nil {
		return err
	}
	name := c.QueueName(routingKey)
	if _, err := ch.QueueDelete(name, false, false, false); err != nil {
		c.invalidate()
		return fmt.Errorf("delete queue %s: %w", name, err)
	}
	return nil
}

// Publish serializes the event and publishes it under routingKey with the
// configured per-message TTL, retrying with Fibonacci backoff (three
// attempts inside a fixed wall-clock budget). The final error is returned,
// never raised.
func (c *Client) Publish(ctx context.Context, ev event.Event, routingKey, correlationID string) error {
	body, err := ev.Encode()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishBudget)
	defer cancel()

	backoff := retry.WithMaxRetries(publishRetries, retry.NewFibonacci(2*time.Second))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		ch, err := c.channel()
		if err != nil {
			return retry.RetryableError(err)
		}
		msg := amqp.Publishing{
			ContentType:   "application/json",
			Body:          body,
			Expiration:    strconv.FormatInt(c.messageTTL.Milliseconds(), 10),
			CorrelationId: correlationID,
			MessageId:     ev.UUID,
		}
		if err := ch.PublishWithContext(ctx, c.exchange, routingKey, false, false, msg); err != nil {
			c.log.Warn().Err(err).Str("routing_key", routingKey).Msg("publish failed, will retry")
			c.invalidate()
			return retry.RetryableError(err)
		}
		c.log.Debug().Str("routing_key", routingKey).Str("uuid", ev.UUID).Msg("published event")
		return nil
	})
}

// Consume processes messages from queueName one at a time. A message is
// acknowledged only after the handler returns nil; handler errors nack with
// requeue so the message is redelivered. Undecodable messages are dropped.
// Returns when ctx is done or the delivery channel closes.
func (c *Client) Consume(ctx context.Context, queueName string, handler Handler) error {
	ch, err := c.channel()
	if err != nil {
		return err
	}
	tag := uuid.NewString()
	deliveries, err := ch.Consume(queueName, tag, false, false, false, false, nil)
	if err != nil {
		c.invalidate()
		return fmt.Errorf("consume %s: %w", queueName, err)
	}

	for {
		select {
		case <-ctx.Done():
			_ = ch.Cancel(tag, false)
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				c.invalidate()
				return fmt.Errorf("consume %s: delivery channel closed", queueName)
			}
			ev, err := event.Decode(d.Body)
			if err != nil {
				c.log.Error().Err(err).Str("queue", queueName).Msg("dropping undecodable message")
				_ = d.Nack(false, false)
				continue
			}
			c.log.Debug().Str("queue", queueName).Str("uuid", ev.UUID).Msg("consumed event")
			if err := handler(ctx, ev, d.CorrelationId); err != nil {
				c.log.Error().Err(err).Str("uuid", ev.UUID).Msg("handler failed, requeueing")
				_ = d.Nack(false, true)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// ConsumeFirst pulls up to count messages from queueName, waiting at most
// timeout. Messages received before an error or the deadline are returned
// without an error; an empty result on deadline returns ErrTimeout.
func (c *Client) ConsumeFirst(ctx context.Context, queueName string, count int, timeout time.Duration) ([]event.Event, error) {
	ch, err := c.channel()
	if err != nil {
		return nil, err
	}
	tag := uuid.NewString()
	deliveries, err := ch.Consume(queueName, tag, false, false, false, false, nil)
	if err != nil {
		c.invalidate()
		return nil, fmt.Errorf("consume %s: %w", queueName, err)
	}
	defer func() { _ = ch.Cancel(tag, false) }()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var events []event.Event
	for len(events) < count {
		select {
		case <-ctx.Done():
			if len(events) > 0 {
				return events, nil
			}
			c.log.Warn().Str("queue", queueName).Dur("timeout", timeout).Msg("consume timed out")
			return nil, ErrTimeout
		case d, ok := <-deliveries:
			if !ok {
				c.invalidate()
				if len(events) > 0 {
					return events, nil
				}
				return nil, fmt.Errorf("consume %s: delivery channel closed", queueName)
			}
			ev, err := event.Decode(d.Body)
			if err != nil {
				_ = d.Nack(false, false)
				if len(events) > 0 {
					return events, nil
				}
				return nil, err
			}
			_ = d.Ack(false)
			events = append(events, ev)
		}
	}
	return events, nil
}

// Request performs one RPC round trip: declare the private reply queue
// named by the event's result routing key, publish the request carrying
// that key as the correlation id, wait for a single reply, and tear the
// queue down on every path.
func (c *Client) Request(ctx context.Context, ev event.Event, requestKey string, timeout time.Duration) (event.Event, error) {
	queueName, err := c.DeclareQueue(ev.ResultRoutingKey, false, true)
	if err != nil {
		return event.Event{}, fmt.Errorf("declare reply queue: %w", err)
	}
	defer func() {
		if derr := c.DeleteQueue(ev.ResultRoutingKey); derr != nil {
			c.log.Warn().Err(derr).Str("routing_key", ev.ResultRoutingKey).Msg("failed to delete reply queue")
		}
	}()

	if err := c.Publish(ctx, ev, requestKey, ev.ResultRoutingKey); err != nil {
		return event.Event{}, fmt.Errorf("publish request: %w", err)
	}

	replies, err := c.ConsumeFirst(ctx, queueName, 1, timeout)
	if err != nil {
		return event.Event{}, err
	}
	return replies[0], nil
}

// Ping pushes an event through a real queue and consumes it back, to
// verify the broker end to end. The ping queue is deleted afterwards.
func (c *Client) Ping(ctx context.Context) error {
	queueName, err := c.DeclareQueue(pingRoutingKey, true, false)
	if err != nil {
		return err
	}
	defer func() { _ = c.DeleteQueue(pingRoutingKey) }()

	if err := c.Publish(ctx, event.New("ping"), pingRoutingKey, ""); err != nil {
		return err
	}
	if _, err := c.ConsumeFirst(ctx, queueName, 1, 10*time.Second); err != nil {
		return err
	}
	return nil
}

// Close shuts down the shared channel and connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch != nil && !c.ch.IsClosed() {
		_ = c.ch.Close()
	}
	c.ch = nil
	if c.conn != nil && !c.conn.IsClosed() {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	c.conn = nil
	return nil
}
