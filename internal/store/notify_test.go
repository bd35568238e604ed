package store_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"fundledger/internal/core"
	"fundledger/internal/store"
	"fundledger/internal/store/memory"
)

type recordingNotifier struct {
	mu      sync.Mutex
	signals [][]core.Kind
}

func (r *recordingNotifier) Notify(_ context.Context, kinds []core.Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, kinds)
}

func (r *recordingNotifier) all() [][]core.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]core.Kind(nil), r.signals...)
}

func TestWithNotifier(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := core.Transaction{ID: "t1", UserID: "u1", Amount: core.Money{Cents: 100}, Date: core.Today(now), Status: core.TxPending, Timestamp: now}

	tests := []struct {
		name string
		body store.TxFunc
		want string
	}{
		{
			name: "distinct kinds in write order",
			body: func(ctx context.Context, tx store.Tx) error {
				if err := tx.CreateTransaction(ctx, tr); err != nil {
					return err
				}
				if err := tx.IncrementTotals(ctx, core.Money{Cents: 1}, core.Money{}); err != nil {
					return err
				}
				return tx.IncrementTotals(ctx, core.Money{Cents: 1}, core.Money{})
			},
			want: "[[transactions ledger]]",
		},
		{
			name: "read only batch is silent",
			body: func(ctx context.Context, tx store.Tx) error {
				_, err := tx.ReadTotals(ctx)
				return err
			},
			want: "[]",
		},
		{
			name: "rolled back batch is silent",
			body: func(ctx context.Context, tx store.Tx) error {
				if err := tx.CreateTransaction(ctx, tr); err != nil {
					return err
				}
				return errors.New("abort")
			},
			want: "[]",
		},
		{
			name: "failed write is not recorded",
			body: func(ctx context.Context, tx store.Tx) error {
				_, _ = tx.GetUser(ctx, "nope")
				_ = tx.DeleteExpense(ctx, "nope")
				return tx.IncrementTotals(ctx, core.Money{}, core.Money{Cents: 1})
			},
			want: "[[ledger]]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingNotifier{}
			s := store.WithNotifier(memory.New(), rec)
			_ = s.RunInTx(context.Background(), tt.body)
			if got := fmt.Sprint(rec.all()); got != tt.want {
				t.Errorf("signals = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestWithNotifierLostTransitionIsSilent(t *testing.T) {
	ctx := context.Background()
	rec := &recordingNotifier{}
	s := store.WithNotifier(memory.New(), rec)

	now := time.Now()
	tr := core.Transaction{ID: "t1", UserID: "u1", Amount: core.Money{Cents: 100}, Date: core.Today(now), Status: core.TxApproved, Timestamp: now}
	if err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error { return tx.CreateTransaction(ctx, tr) }); err != nil {
		t.Fatal(err)
	}
	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.TransitionTransaction(ctx, "t1", core.TxPending, core.TxRejected)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := len(rec.all()); got != 1 {
		t.Errorf("signals = %d, want 1 (create only)", got)
	}
	if err := store.Ping(ctx, s); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

type pingingStore struct {
	store.Store
	err error
}

func (p pingingStore) Ping(context.Context) error { return p.err }

func TestPingDelegatesToBackend(t *testing.T) {
	ctx := context.Background()
	down := errors.New("backend down")

	tests := []struct {
		name string
		s    store.Store
		want error
	}{
		{"no pinger", memory.New(), nil},
		{"healthy", pingingStore{Store: memory.New()}, nil},
		{"unhealthy", pingingStore{Store: memory.New(), err: down}, down},
		{"through notifier", store.WithNotifier(pingingStore{Store: memory.New(), err: down}), down},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := store.Ping(ctx, tt.s); !errors.Is(err, tt.want) {
				t.Errorf("Ping() = %v, want %v", err, tt.want)
			}
		})
	}
}
