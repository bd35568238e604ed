package amqp

import (
	"context"
	"log/slog"
	"time"

	"fundledger/internal/core"
)

// Publisher is the local side of the relay.
type Publisher interface {
	Publish(kinds ...core.Kind)
}

// Relay feeds remote changes into local until ctx is done, reconnecting
// with exponential backoff when the consumer fails.
func Relay(ctx context.Context, c *Client, local Publisher) error {
	attempt := 0
	for {
		started := time.Now()
		err := c.ConsumeChanges(ctx, func(msg *ChangeMessage) {
			local.Publish(msg.Kinds...)
		})
		if ctx.Err() != nil {
			return nil
		}
		// A consumer that ran for a while earned a fresh backoff.
		if time.Since(started) > maxBackoff {
			attempt = 0
		}
		wait := exponentialBackoff(attempt)
		attempt++
		slog.WarnContext(ctx, "Change consumer stopped, retrying", "error", err, "backoff", wait)
		c.dropConnection()

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}
