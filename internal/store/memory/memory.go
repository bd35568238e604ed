// Package memory is an in-process Entity Store. Batches run against a copy
// of the state which replaces the live state only when the body succeeds.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"fundledger/internal/core"
	"fundledger/internal/store"
)

type Store struct {
	mu    sync.RWMutex
	state *state
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{state: newState()}
}

// RunInTx serialises batches. Readers keep seeing the previous state until
// the batch commits.
func (s *Store) RunInTx(ctx context.Context, fn store.TxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.clone()
	if err := fn(ctx, next); err != nil {
		return err
	}
	s.state = next
	return nil
}

func (s *Store) Close() error { return nil }

func (s *Store) current() *state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Committed states are never mutated, so readers can use them unlocked.

func (s *Store) GetUser(ctx context.Context, id string) (core.User, error) {
	return s.current().GetUser(ctx, id)
}

func (s *Store) FindUserByPhone(ctx context.Context, phone string) (core.User, error) {
	return s.current().FindUserByPhone(ctx, phone)
}

func (s *Store) ListUsers(ctx context.Context, f store.UserFilter) ([]core.User, error) {
	return s.current().ListUsers(ctx, f)
}

func (s *Store) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	return s.current().GetTransaction(ctx, id)
}

func (s *Store) ListTransactions(ctx context.Context, f store.TransactionFilter) ([]core.Transaction, error) {
	return s.current().ListTransactions(ctx, f)
}

func (s *Store) GetExpense(ctx context.Context, id string) (core.Expense, error) {
	return s.current().GetExpense(ctx, id)
}

func (s *Store) ListExpenses(ctx context.Context, f store.ListOptions) ([]core.Expense, error) {
	return s.current().ListExpenses(ctx, f)
}

func (s *Store) GetAssistanceRequest(ctx context.Context, id string) (core.AssistanceRequest, error) {
	return s.current().GetAssistanceRequest(ctx, id)
}

func (s *Store) ListAssistanceRequests(ctx context.Context, f store.AssistanceFilter) ([]core.AssistanceRequest, error) {
	return s.current().ListAssistanceRequests(ctx, f)
}

func (s *Store) GetNotification(ctx context.Context, id string) (core.Notification, error) {
	return s.current().GetNotification(ctx, id)
}

func (s *Store) ListNotifications(ctx context.Context, f store.NotificationFilter) ([]core.Notification, error) {
	return s.current().ListNotifications(ctx, f)
}

func (s *Store) ReadTotals(ctx context.Context) (core.Totals, error) {
	return s.current().ReadTotals(ctx)
}

// state implements store.Tx over plain maps.
type state struct {
	users         map[string]core.User
	transactions  map[string]core.Transaction
	expenses      map[string]core.Expense
	assistance    map[string]core.AssistanceRequest
	notifications map[string]core.Notification
	totals        core.Totals
}

func newState() *state {
	return &state{
		users:         map[string]core.User{},
		transactions:  map[string]core.Transaction{},
		expenses:      map[string]core.Expense{},
		assistance:    map[string]core.AssistanceRequest{},
		notifications: map[string]core.Notification{},
	}
}

func (st *state) clone() *state {
	return &state{
		users:         cloneMap(st.users),
		transactions:  cloneMap(st.transactions),
		expenses:      cloneMap(st.expenses),
		assistance:    cloneMap(st.assistance),
		notifications: cloneMap(st.notifications),
		totals:        st.totals,
	}
}

func cloneMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func notFound(kind core.Kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, core.ErrNotFound)
}

func (st *state) GetUser(_ context.Context, id string) (core.User, error) {
	u, ok := st.users[id]
	if !ok {
		return core.User{}, notFound(core.KindUsers, id)
	}
	return u, nil
}

func (st *state) FindUserByPhone(_ context.Context, phone string) (core.User, error) {
	for _, u := range st.users {
		if u.Phone == phone {
			return u, nil
		}
	}
	return core.User{}, notFound(core.KindUsers, "phone="+phone)
}

func (st *state) ListUsers(_ context.Context, f store.UserFilter) ([]core.User, error) {
	out := make([]core.User, 0, len(st.users))
	for _, u := range st.users {
		if f.Match(u) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RegisteredAt.After(out[j].RegisteredAt) })
	return limit(out, f.Limit), nil
}

func (st *state) GetTransaction(_ context.Context, id string) (core.Transaction, error) {
	t, ok := st.transactions[id]
	if !ok {
		return core.Transaction{}, notFound(core.KindTransactions, id)
	}
	return t, nil
}

func (st *state) ListTransactions(_ context.Context, f store.TransactionFilter) ([]core.Transaction, error) {
	out := make([]core.Transaction, 0, len(st.transactions))
	for _, t := range st.transactions {
		if f.Match(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return limit(out, f.Limit), nil
}

func (st *state) GetExpense(_ context.Context, id string) (core.Expense, error) {
	e, ok := st.expenses[id]
	if !ok {
		return core.Expense{}, notFound(core.KindExpenses, id)
	}
	return e, nil
}

func (st *state) ListExpenses(_ context.Context, f store.ListOptions) ([]core.Expense, error) {
	out := make([]core.Expense, 0, len(st.expenses))
	for _, e := range st.expenses {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return limit(out, f.Limit), nil
}

func (st *state) GetAssistanceRequest(_ context.Context, id string) (core.AssistanceRequest, error) {
	a, ok := st.assistance[id]
	if !ok {
		return core.AssistanceRequest{}, notFound(core.KindAssistance, id)
	}
	return a, nil
}

func (st *state) ListAssistanceRequests(_ context.Context, f store.AssistanceFilter) ([]core.AssistanceRequest, error) {
	out := make([]core.AssistanceRequest, 0, len(st.assistance))
	for _, a := range st.assistance {
		if f.Match(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return limit(out, f.Limit), nil
}

func (st *state) GetNotification(_ context.Context, id string) (core.Notification, error) {
	n, ok := st.notifications[id]
	if !ok {
		return core.Notification{}, notFound(core.KindNotifications, id)
	}
	return n, nil
}

func (st *state) ListNotifications(_ context.Context, f store.NotificationFilter) ([]core.Notification, error) {
	out := make([]core.Notification, 0)
	for _, n := range st.notifications {
		if f.Match(n) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return limit(out, f.Limit), nil
}

func (st *state) ReadTotals(_ context.Context) (core.Totals, error) {
	return st.totals, nil
}

func (st *state) CreateUser(_ context.Context, u core.User) error {
	if _, ok := st.users[u.ID]; ok {
		return fmt.Errorf("user %s: %w", u.ID, core.ErrConflict)
	}
	for _, existing := range st.users {
		if existing.Phone == u.Phone {
			return fmt.Errorf("phone %s already registered: %w", u.Phone, core.ErrConflict)
		}
	}
	st.users[u.ID] = u
	return nil
}

func (st *state) UpdateUserStatus(_ context.Context, id string, status core.UserStatus) error {
	u, ok := st.users[id]
	if !ok {
		return notFound(core.KindUsers, id)
	}
	u.Status = status
	st.users[id] = u
	return nil
}

func (st *state) IncrementUserStats(_ context.Context, id string, donation core.Money, count int64) error {
	u, ok := st.users[id]
	if !ok {
		return notFound(core.KindUsers, id)
	}
	u.TotalDonation = u.TotalDonation.Add(donation)
	u.TransactionCount += count
	st.users[id] = u
	return nil
}

func (st *state) SetUserStats(_ context.Context, id string, donation core.Money, count int64) error {
	u, ok := st.users[id]
	if !ok {
		return notFound(core.KindUsers, id)
	}
	u.TotalDonation = donation
	u.TransactionCount = count
	st.users[id] = u
	return nil
}

func (st *state) DeleteUser(_ context.Context, id string) error {
	if _, ok := st.users[id]; !ok {
		return notFound(core.KindUsers, id)
	}
	delete(st.users, id)
	return nil
}

func (st *state) CreateTransaction(_ context.Context, t core.Transaction) error {
	if _, ok := st.transactions[t.ID]; ok {
		return fmt.Errorf("transaction %s: %w", t.ID, core.ErrConflict)
	}
	st.transactions[t.ID] = t
	return nil
}

func (st *state) TransitionTransaction(_ context.Context, id string, from, to core.TxStatus) (bool, error) {
	t, ok := st.transactions[id]
	if !ok {
		return false, notFound(core.KindTransactions, id)
	}
	if t.Status != from {
		return false, nil
	}
	t.Status = to
	st.transactions[id] = t
	return true, nil
}

func (st *state) CreateExpense(_ context.Context, e core.Expense) error {
	if _, ok := st.expenses[e.ID]; ok {
		return fmt.Errorf("expense %s: %w", e.ID, core.ErrConflict)
	}
	st.expenses[e.ID] = e
	return nil
}

func (st *state) DeleteExpense(_ context.Context, id string) error {
	if _, ok := st.expenses[id]; !ok {
		return notFound(core.KindExpenses, id)
	}
	delete(st.expenses, id)
	return nil
}

func (st *state) CreateAssistanceRequest(_ context.Context, a core.AssistanceRequest) error {
	if _, ok := st.assistance[a.ID]; ok {
		return fmt.Errorf("assistance request %s: %w", a.ID, core.ErrConflict)
	}
	st.assistance[a.ID] = a
	return nil
}

func (st *state) UpdateAssistanceRequest(_ context.Context, id string, status core.AssistanceStatus, note string) error {
	a, ok := st.assistance[id]
	if !ok {
		return notFound(core.KindAssistance, id)
	}
	a.Status = status
	a.AdminNote = note
	st.assistance[id] = a
	return nil
}

func (st *state) CreateNotification(_ context.Context, n core.Notification) error {
	if _, ok := st.notifications[n.ID]; ok {
		return fmt.Errorf("notification %s: %w", n.ID, core.ErrConflict)
	}
	st.notifications[n.ID] = n
	return nil
}

func (st *state) MarkNotificationRead(_ context.Context, id string) (bool, error) {
	n, ok := st.notifications[id]
	if !ok {
		return false, notFound(core.KindNotifications, id)
	}
	if n.IsRead {
		return false, nil
	}
	n.IsRead = true
	st.notifications[id] = n
	return true, nil
}

func (st *state) IncrementTotals(_ context.Context, collection, expense core.Money) error {
	st.totals.Collection = st.totals.Collection.Add(collection)
	st.totals.Expense = st.totals.Expense.Add(expense)
	return nil
}

func (st *state) SetTotals(_ context.Context, t core.Totals) error {
	st.totals = t
	return nil
}

func limit[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}
