// Package services holds the use cases that coordinate the store, the ledger
// and the notification side effects.
package services

import (
	"context"
	"fmt"
	"time"

	"fundledger/internal/core"
	"fundledger/internal/store"

	"github.com/google/uuid"
)

// clock and ids are swapped in tests.
type env struct {
	now   func() time.Time
	newID func() string
}

func defaultEnv() env {
	return env{
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// notify creates a notification for userID inside tx.
func (e env) notify(ctx context.Context, tx store.Tx, userID, message string) error {
	n := core.Notification{
		ID:        e.newID(),
		UserID:    userID,
		Message:   message,
		Timestamp: e.now(),
	}
	if err := n.Validate(); err != nil {
		return err
	}
	if err := tx.CreateNotification(ctx, n); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}
