package services

import (
	"context"
	"fmt"

	"fundledger/internal/core"
	"fundledger/internal/store"
)

type NotificationService struct {
	store store.Store
	env
}

func NewNotificationService(s store.Store) *NotificationService {
	return &NotificationService{store: s, env: defaultEnv()}
}

// Send stores a message for userID. Delivery is by polling or watching the
// notifications collection.
func (s *NotificationService) Send(ctx context.Context, userID, message string) error {
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return s.notify(ctx, tx, userID, message)
	})
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}

func (s *NotificationService) List(ctx context.Context, f store.NotificationFilter) ([]core.Notification, error) {
	return s.store.ListNotifications(ctx, f)
}

func (s *NotificationService) Get(ctx context.Context, id string) (core.Notification, error) {
	return s.store.GetNotification(ctx, id)
}

// MarkRead flips the read flag once. Later calls report false.
func (s *NotificationService) MarkRead(ctx context.Context, id string) (bool, error) {
	var flipped bool
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		flipped, err = tx.MarkNotificationRead(ctx, id)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	return flipped, nil
}
