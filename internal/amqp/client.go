// Package amqp relays committed-change signals between processes over a
// RabbitMQ fanout exchange.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"fundledger/internal/core"
	applog "fundledger/internal/log"

	"github.com/rabbitmq/amqp091-go"
)

// Circuit breaker states.
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures    = 5
	openTimeout    = 30 * time.Second
	maxBackoff     = 30 * time.Second
	publishTimeout = 5 * time.Second
	outboxSize     = 256
)

// outgoing is a change signal waiting for the relay goroutine.
type outgoing struct {
	ctx   context.Context
	kinds []core.Kind
}

type Client struct {
	url          string
	exchangeName string
	origin       string

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	failureCount int64
	state        int32
	lastFailure  time.Time

	// publish defaults to PublishChange.
	publish   func(context.Context, []core.Kind) error
	relayOnce sync.Once
	stopOnce  sync.Once
	outbox    chan outgoing
	quit      chan struct{}
	drained   chan struct{}
}

// NewClient connects and declares the fanout exchange. origin identifies
// this process in published messages.
func NewClient(url, exchangeName, origin string) (*Client, error) {
	c := &Client{
		url:          url,
		exchangeName: exchangeName,
		origin:       origin,
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) Origin() string { return c.origin }

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

	err = channel.ExchangeDeclare(
		c.exchangeName, // name
		"fanout",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}

	c.mu.Lock()
	c.conn, c.channel = conn, channel
	c.mu.Unlock()
	return nil
}

// ensureConnected redials when the broker dropped the connection.
func (c *Client) ensureConnected() (*amqp091.Channel, error) {
	c.mu.Lock()
	ch := c.channel
	alive := c.conn != nil && !c.conn.IsClosed() && ch != nil && !ch.IsClosed()
	c.mu.Unlock()
	if alive {
		return ch, nil
	}

	slog.Warn("AMQP connection lost, reconnecting", "exchange", c.exchangeName)
	if err := c.connect(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel, nil
}

// PublishChange announces kinds to every other process.
func (c *Client) PublishChange(ctx context.Context, kinds []core.Kind) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isCircuitOpen() {
		return fmt.Errorf("circuit breaker is open, skipping publish")
	}

	body, err := NewChangeMessage(c.origin, kinds).ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ch, err := c.ensureConnected()
	if err != nil {
		c.recordFailure()
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = ch.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		"",             // routing key, ignored by fanout
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			Timestamp:   time.Now(),
			Body:        body,
		},
	)
	if err != nil {
		c.recordFailure()
		if isConnectionError(err) {
			c.dropConnection()
		}
		return fmt.Errorf("publish message: %w", err)
	}

	c.recordSuccess()
	slog.DebugContext(ctx, "Published change", applog.FieldKinds, kinds, "exchange", c.exchangeName)
	return nil
}

// Notify implements store.Notifier. It runs after the commit, so the signal
// is queued and published detached from ctx cancellation; a request that
// hangs up still announces its change. A full queue drops the signal.
func (c *Client) Notify(ctx context.Context, kinds []core.Kind) {
	c.startRelay()
	m := outgoing{ctx: context.WithoutCancel(ctx), kinds: slices.Clone(kinds)}
	select {
	case c.outbox <- m:
	default:
		slog.WarnContext(ctx, "Change relay queue full, dropping signal", applog.FieldKinds, kinds)
	}
}

func (c *Client) startRelay() {
	c.relayOnce.Do(func() {
		c.outbox = make(chan outgoing, outboxSize)
		c.quit = make(chan struct{})
		c.drained = make(chan struct{})
		go c.drain()
	})
}

// drain publishes queued signals in order. On quit it flushes what is
// already buffered and returns.
func (c *Client) drain() {
	defer close(c.drained)
	for {
		select {
		case m := <-c.outbox:
			c.send(m)
		case <-c.quit:
			for {
				select {
				case m := <-c.outbox:
					c.send(m)
				default:
					return
				}
			}
		}
	}
}

func (c *Client) send(m outgoing) {
	publish := c.publish
	if publish == nil {
		publish = c.PublishChange
	}
	if err := publish(m.ctx, m.kinds); err != nil {
		slog.WarnContext(m.ctx, "Failed to relay change", applog.FieldKinds, m.kinds, "error", err)
	}
}

// ConsumeChanges delivers changes published by other processes until ctx is
// done or the connection fails. Each call binds its own exclusive queue.
func (c *Client) ConsumeChanges(ctx context.Context, handler func(*ChangeMessage)) error {
	ch, err := c.ensureConnected()
	if err != nil {
		return err
	}

	q, err := ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", c.exchangeName, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	msgs, err := ch.Consume(
		q.Name, // queue
		"",     // consumer
		true,   // auto-ack, changes are hints
		true,   // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	slog.InfoContext(ctx, "Started consuming changes", "exchange", c.exchangeName, "queue", q.Name)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}

			msg, err := ChangeMessageFromJSON(delivery.Body)
			if err != nil {
				slog.ErrorContext(ctx, "Failed to unmarshal change message", "error", err)
				continue
			}
			if msg.Origin == c.origin {
				continue
			}
			handler(msg)
		}
	}
}

func (c *Client) dropConnection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Close flushes queued signals, then closes the connection. Signals
// notified after Close are dropped.
func (c *Client) Close() error {
	c.relayOnce.Do(func() {})
	c.stopOnce.Do(func() {
		if c.quit != nil {
			close(c.quit)
			<-c.drained
		}
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) isCircuitOpen() bool {
	if atomic.LoadInt32(&c.state) != StateOpen {
		return false
	}
	c.mu.Lock()
	last := c.lastFailure
	c.mu.Unlock()
	if time.Since(last) > openTimeout {
		atomic.CompareAndSwapInt32(&c.state, StateOpen, StateHalfOpen)
		return false
	}
	return true
}

func (c *Client) recordFailure() {
	n := atomic.AddInt64(&c.failureCount, 1)
	c.mu.Lock()
	c.lastFailure = time.Now()
	c.mu.Unlock()
	if n >= maxFailures || atomic.LoadInt32(&c.state) == StateHalfOpen {
		if atomic.SwapInt32(&c.state, StateOpen) != StateOpen {
			slog.Warn("AMQP circuit breaker opened", "failures", n)
		}
	}
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

// exponentialBackoff returns 1s, 2s, 4s, ... capped at maxBackoff.
func exponentialBackoff(attempt int) time.Duration {
	if attempt >= 5 {
		return maxBackoff
	}
	d := time.Second << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{"connection", "EOF", "broken pipe"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
