package store

import (
	"context"
	"sync"

	"fundledger/internal/core"
)

// WithNotifier wraps s so that every committed batch that wrote something
// emits one signal listing the collections it touched. Rolled-back and
// read-only batches emit nothing.
func WithNotifier(s Store, notifiers ...Notifier) Store {
	return &notifyingStore{Store: s, notifiers: notifiers}
}

type notifyingStore struct {
	Store
	notifiers []Notifier
}

func (s *notifyingStore) RunInTx(ctx context.Context, fn TxFunc) error {
	rec := &kindRecorder{}
	err := s.Store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		// A backend may retry the body; only the final attempt counts.
		rec.reset()
		return fn(ctx, &recordingTx{Tx: tx, rec: rec})
	})
	if err != nil {
		return err
	}
	kinds := rec.kinds()
	if len(kinds) == 0 {
		return nil
	}
	for _, n := range s.notifiers {
		n.Notify(ctx, kinds)
	}
	return nil
}

func (s *notifyingStore) Ping(ctx context.Context) error {
	return Ping(ctx, s.Store)
}

type kindRecorder struct {
	mu    sync.Mutex
	order []core.Kind
	seen  map[core.Kind]struct{}
}

func (r *kindRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = nil
	r.seen = nil
}

func (r *kindRecorder) add(k core.Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen == nil {
		r.seen = make(map[core.Kind]struct{})
	}
	if _, ok := r.seen[k]; ok {
		return
	}
	r.seen[k] = struct{}{}
	r.order = append(r.order, k)
}

func (r *kindRecorder) kinds() []core.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.Kind(nil), r.order...)
}

// recordingTx notes the collection of every successful write.
type recordingTx struct {
	Tx
	rec *kindRecorder
}

func (t *recordingTx) track(k core.Kind, err error) error {
	if err == nil {
		t.rec.add(k)
	}
	return err
}

func (t *recordingTx) CreateUser(ctx context.Context, u core.User) error {
	return t.track(core.KindUsers, t.Tx.CreateUser(ctx, u))
}

func (t *recordingTx) UpdateUserStatus(ctx context.Context, id string, status core.UserStatus) error {
	return t.track(core.KindUsers, t.Tx.UpdateUserStatus(ctx, id, status))
}

func (t *recordingTx) IncrementUserStats(ctx context.Context, id string, donation core.Money, count int64) error {
	return t.track(core.KindUsers, t.Tx.IncrementUserStats(ctx, id, donation, count))
}

func (t *recordingTx) SetUserStats(ctx context.Context, id string, donation core.Money, count int64) error {
	return t.track(core.KindUsers, t.Tx.SetUserStats(ctx, id, donation, count))
}

func (t *recordingTx) DeleteUser(ctx context.Context, id string) error {
	return t.track(core.KindUsers, t.Tx.DeleteUser(ctx, id))
}

func (t *recordingTx) CreateTransaction(ctx context.Context, tr core.Transaction) error {
	return t.track(core.KindTransactions, t.Tx.CreateTransaction(ctx, tr))
}

func (t *recordingTx) TransitionTransaction(ctx context.Context, id string, from, to core.TxStatus) (bool, error) {
	ok, err := t.Tx.TransitionTransaction(ctx, id, from, to)
	if ok {
		t.rec.add(core.KindTransactions)
	}
	return ok, err
}

func (t *recordingTx) CreateExpense(ctx context.Context, e core.Expense) error {
	return t.track(core.KindExpenses, t.Tx.CreateExpense(ctx, e))
}

func (t *recordingTx) DeleteExpense(ctx context.Context, id string) error {
	return t.track(core.KindExpenses, t.Tx.DeleteExpense(ctx, id))
}

func (t *recordingTx) CreateAssistanceRequest(ctx context.Context, a core.AssistanceRequest) error {
	return t.track(core.KindAssistance, t.Tx.CreateAssistanceRequest(ctx, a))
}

func (t *recordingTx) UpdateAssistanceRequest(ctx context.Context, id string, status core.AssistanceStatus, note string) error {
	return t.track(core.KindAssistance, t.Tx.UpdateAssistanceRequest(ctx, id, status, note))
}

func (t *recordingTx) CreateNotification(ctx context.Context, n core.Notification) error {
	return t.track(core.KindNotifications, t.Tx.CreateNotification(ctx, n))
}

func (t *recordingTx) MarkNotificationRead(ctx context.Context, id string) (bool, error) {
	ok, err := t.Tx.MarkNotificationRead(ctx, id)
	if ok {
		t.rec.add(core.KindNotifications)
	}
	return ok, err
}

func (t *recordingTx) IncrementTotals(ctx context.Context, collection, expense core.Money) error {
	return t.track(core.KindLedger, t.Tx.IncrementTotals(ctx, collection, expense))
}

func (t *recordingTx) SetTotals(ctx context.Context, tot core.Totals) error {
	return t.track(core.KindLedger, t.Tx.SetTotals(ctx, tot))
}
