package bus

import (
	"context"
	"log/slog"

	"fundledger/internal/core"
)

// Watch streams snapshots produced by load: one immediately, then one after
// each change to kind. A slow reader only ever sees the newest snapshot. The
// channel closes when ctx is done.
func Watch[T any](ctx context.Context, b *Bus, kind core.Kind, load func(context.Context) (T, error)) <-chan T {
	out := make(chan T, 1)
	changed := make(chan struct{}, 1)
	signal := func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}
	unsubscribe := b.Subscribe(signal, kind)
	signal()

	go func() {
		defer close(out)
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case <-changed:
			}

			v, err := load(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.WarnContext(ctx, "Watch reload failed", "kind", kind, "error", err)
				continue
			}

			// Replace an undelivered snapshot with the fresh one.
			select {
			case <-out:
			default:
			}
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
