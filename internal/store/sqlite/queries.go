package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fundledger/internal/core"
	"fundledger/internal/store"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// Queries implements store.Reader and store.Writer over a DBTX.
type Queries struct {
	db DBTX
}

var _ store.Tx = (*Queries)(nil)

func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func limitArg(n int) int {
	if n <= 0 {
		return -1
	}
	return n
}

func fromNano(n int64) time.Time { return time.Unix(0, n).UTC() }

func parseDate(s string) core.Date {
	d, _ := core.ParseDate(s)
	return d
}

// dbErr classifies driver errors into the store's error taxonomy.
func dbErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, core.ErrNotFound)
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%s: %w", op, core.ErrConflict)
		}
	}
	return fmt.Errorf("%s: %w: %v", op, core.ErrStoreUnavailable, err)
}

func requireRow(op string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return dbErr(op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, core.ErrNotFound)
	}
	return nil
}

const userColumns = `id, name, phone, status, total_donation_cents, transaction_count, registered_at`

func scanUser(row scanner) (core.User, error) {
	var (
		u            core.User
		registeredAt int64
	)
	err := row.Scan(&u.ID, &u.Name, &u.Phone, &u.Status, &u.TotalDonation.Cents, &u.TransactionCount, &registeredAt)
	u.RegisteredAt = fromNano(registeredAt)
	return u, err
}

func (q *Queries) GetUser(ctx context.Context, id string) (core.User, error) {
	u, err := scanUser(q.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		return core.User{}, dbErr("get user "+id, err)
	}
	return u, nil
}

func (q *Queries) FindUserByPhone(ctx context.Context, phone string) (core.User, error) {
	u, err := scanUser(q.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE phone = ?`, phone))
	if err != nil {
		return core.User{}, dbErr("find user by phone", err)
	}
	return u, nil
}

func (q *Queries) ListUsers(ctx context.Context, f store.UserFilter) ([]core.User, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users
		WHERE (?1 = '' OR status = ?1)
		ORDER BY registered_at DESC LIMIT ?2`, string(f.Status), limitArg(f.Limit))
	if err != nil {
		return nil, dbErr("list users", err)
	}
	defer rows.Close()

	users := make([]core.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, dbErr("scan user", err)
		}
		users = append(users, u)
	}
	return users, dbErr("list users", rows.Err())
}

const transactionColumns = `id, user_id, amount_cents, method, fund_type, external_ref, note, date, status, created_at`

func scanTransaction(row scanner) (core.Transaction, error) {
	var (
		t         core.Transaction
		date      string
		createdAt int64
	)
	err := row.Scan(&t.ID, &t.UserID, &t.Amount.Cents, &t.Method, &t.FundType, &t.ExternalRef, &t.Note, &date, &t.Status, &createdAt)
	t.Date = parseDate(date)
	t.Timestamp = fromNano(createdAt)
	return t, err
}

func (q *Queries) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	t, err := scanTransaction(q.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id))
	if err != nil {
		return core.Transaction{}, dbErr("get transaction "+id, err)
	}
	return t, nil
}

func (q *Queries) ListTransactions(ctx context.Context, f store.TransactionFilter) ([]core.Transaction, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+transactionColumns+` FROM transactions
		WHERE (?1 = '' OR user_id = ?1) AND (?2 = '' OR status = ?2)
		ORDER BY created_at DESC LIMIT ?3`, f.UserID, string(f.Status), limitArg(f.Limit))
	if err != nil {
		return nil, dbErr("list transactions", err)
	}
	defer rows.Close()

	txs := make([]core.Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, dbErr("scan transaction", err)
		}
		txs = append(txs, t)
	}
	return txs, dbErr("list transactions", rows.Err())
}

const expenseColumns = `id, amount_cents, reason, proof_ref, date, created_at`

func scanExpense(row scanner) (core.Expense, error) {
	var (
		e         core.Expense
		date      string
		createdAt int64
	)
	err := row.Scan(&e.ID, &e.Amount.Cents, &e.Reason, &e.ProofRef, &date, &createdAt)
	e.Date = parseDate(date)
	e.Timestamp = fromNano(createdAt)
	return e, err
}

func (q *Queries) GetExpense(ctx context.Context, id string) (core.Expense, error) {
	e, err := scanExpense(q.db.QueryRowContext(ctx, `SELECT `+expenseColumns+` FROM expenses WHERE id = ?`, id))
	if err != nil {
		return core.Expense{}, dbErr("get expense "+id, err)
	}
	return e, nil
}

func (q *Queries) ListExpenses(ctx context.Context, f store.ListOptions) ([]core.Expense, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+expenseColumns+` FROM expenses
		ORDER BY created_at DESC LIMIT ?`, limitArg(f.Limit))
	if err != nil {
		return nil, dbErr("list expenses", err)
	}
	defer rows.Close()

	expenses := make([]core.Expense, 0)
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, dbErr("scan expense", err)
		}
		expenses = append(expenses, e)
	}
	return expenses, dbErr("list expenses", rows.Err())
}

const assistanceColumns = `id, user_id, category, amount_cents, reason, status, admin_note, created_at`

func scanAssistance(row scanner) (core.AssistanceRequest, error) {
	var (
		a         core.AssistanceRequest
		createdAt int64
	)
	err := row.Scan(&a.ID, &a.UserID, &a.Category, &a.Amount.Cents, &a.Reason, &a.Status, &a.AdminNote, &createdAt)
	a.Timestamp = fromNano(createdAt)
	return a, err
}

func (q *Queries) GetAssistanceRequest(ctx context.Context, id string) (core.AssistanceRequest, error) {
	a, err := scanAssistance(q.db.QueryRowContext(ctx, `SELECT `+assistanceColumns+` FROM assistance_requests WHERE id = ?`, id))
	if err != nil {
		return core.AssistanceRequest{}, dbErr("get assistance request "+id, err)
	}
	return a, nil
}

func (q *Queries) ListAssistanceRequests(ctx context.Context, f store.AssistanceFilter) ([]core.AssistanceRequest, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+assistanceColumns+` FROM assistance_requests
		WHERE (?1 = '' OR user_id = ?1) AND (?2 = '' OR status = ?2)
		ORDER BY created_at DESC LIMIT ?3`, f.UserID, string(f.Status), limitArg(f.Limit))
	if err != nil {
		return nil, dbErr("list assistance requests", err)
	}
	defer rows.Close()

	reqs := make([]core.AssistanceRequest, 0)
	for rows.Next() {
		a, err := scanAssistance(rows)
		if err != nil {
			return nil, dbErr("scan assistance request", err)
		}
		reqs = append(reqs, a)
	}
	return reqs, dbErr("list assistance requests", rows.Err())
}

const notificationColumns = `id, user_id, message, created_at, is_read`

func scanNotification(row scanner) (core.Notification, error) {
	var (
		n         core.Notification
		createdAt int64
	)
	err := row.Scan(&n.ID, &n.UserID, &n.Message, &createdAt, &n.IsRead)
	n.Timestamp = fromNano(createdAt)
	return n, err
}

func (q *Queries) GetNotification(ctx context.Context, id string) (core.Notification, error) {
	n, err := scanNotification(q.db.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = ?`, id))
	if err != nil {
		return core.Notification{}, dbErr("get notification "+id, err)
	}
	return n, nil
}

func (q *Queries) ListNotifications(ctx context.Context, f store.NotificationFilter) ([]core.Notification, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+notificationColumns+` FROM notifications
		WHERE (?1 = '' OR user_id = ?1) AND (?2 = 0 OR is_read = 0)
		ORDER BY created_at DESC LIMIT ?3`, f.UserID, f.UnreadOnly, limitArg(f.Limit))
	if err != nil {
		return nil, dbErr("list notifications", err)
	}
	defer rows.Close()

	out := make([]core.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, dbErr("scan notification", err)
		}
		out = append(out, n)
	}
	return out, dbErr("list notifications", rows.Err())
}

func (q *Queries) ReadTotals(ctx context.Context) (core.Totals, error) {
	var t core.Totals
	err := q.db.QueryRowContext(ctx,
		`SELECT total_collection_cents, total_expense_cents FROM ledger WHERE id = 1`).
		Scan(&t.Collection.Cents, &t.Expense.Cents)
	if err != nil {
		return core.Totals{}, dbErr("read totals", err)
	}
	return t, nil
}

func (q *Queries) CreateUser(ctx context.Context, u core.User) error {
	_, err := q.db.ExecContext(ctx, `INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Phone, string(u.Status), u.TotalDonation.Cents, u.TransactionCount, u.RegisteredAt.UnixNano())
	return dbErr("create user", err)
}

func (q *Queries) UpdateUserStatus(ctx context.Context, id string, status core.UserStatus) error {
	res, err := q.db.ExecContext(ctx, `UPDATE users SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return dbErr("update user status", err)
	}
	return requireRow("update user status "+id, res)
}

func (q *Queries) IncrementUserStats(ctx context.Context, id string, donation core.Money, count int64) error {
	res, err := q.db.ExecContext(ctx, `UPDATE users
		SET total_donation_cents = total_donation_cents + ?, transaction_count = transaction_count + ?
		WHERE id = ?`, donation.Cents, count, id)
	if err != nil {
		return dbErr("increment user stats", err)
	}
	return requireRow("increment user stats "+id, res)
}

func (q *Queries) SetUserStats(ctx context.Context, id string, donation core.Money, count int64) error {
	res, err := q.db.ExecContext(ctx, `UPDATE users SET total_donation_cents = ?, transaction_count = ? WHERE id = ?`,
		donation.Cents, count, id)
	if err != nil {
		return dbErr("set user stats", err)
	}
	return requireRow("set user stats "+id, res)
}

func (q *Queries) DeleteUser(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return dbErr("delete user", err)
	}
	return requireRow("delete user "+id, res)
}

func (q *Queries) CreateTransaction(ctx context.Context, t core.Transaction) error {
	_, err := q.db.ExecContext(ctx, `INSERT INTO transactions (`+transactionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.Amount.Cents, t.Method, t.FundType, t.ExternalRef, t.Note, t.Date.String(), string(t.Status), t.Timestamp.UnixNano())
	return dbErr("create transaction", err)
}

func (q *Queries) TransitionTransaction(ctx context.Context, id string, from, to core.TxStatus) (bool, error) {
	res, err := q.db.ExecContext(ctx, `UPDATE transactions SET status = ? WHERE id = ? AND status = ?`,
		string(to), id, string(from))
	if err != nil {
		return false, dbErr("transition transaction", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, dbErr("transition transaction", err)
	}
	if n == 1 {
		return true, nil
	}
	// Distinguish a lost race from a missing row.
	if _, err := q.GetTransaction(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (q *Queries) CreateExpense(ctx context.Context, e core.Expense) error {
	_, err := q.db.ExecContext(ctx, `INSERT INTO expenses (`+expenseColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Amount.Cents, e.Reason, e.ProofRef, e.Date.String(), e.Timestamp.UnixNano())
	return dbErr("create expense", err)
}

func (q *Queries) DeleteExpense(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM expenses WHERE id = ?`, id)
	if err != nil {
		return dbErr("delete expense", err)
	}
	return requireRow("delete expense "+id, res)
}

func (q *Queries) CreateAssistanceRequest(ctx context.Context, a core.AssistanceRequest) error {
	_, err := q.db.ExecContext(ctx, `INSERT INTO assistance_requests (`+assistanceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Category, a.Amount.Cents, a.Reason, string(a.Status), a.AdminNote, a.Timestamp.UnixNano())
	return dbErr("create assistance request", err)
}

func (q *Queries) UpdateAssistanceRequest(ctx context.Context, id string, status core.AssistanceStatus, note string) error {
	res, err := q.db.ExecContext(ctx, `UPDATE assistance_requests SET status = ?, admin_note = ? WHERE id = ?`,
		string(status), note, id)
	if err != nil {
		return dbErr("update assistance request", err)
	}
	return requireRow("update assistance request "+id, res)
}

func (q *Queries) CreateNotification(ctx context.Context, n core.Notification) error {
	_, err := q.db.ExecContext(ctx, `INSERT INTO notifications (`+notificationColumns+`) VALUES (?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.Message, n.Timestamp.UnixNano(), n.IsRead)
	return dbErr("create notification", err)
}

func (q *Queries) MarkNotificationRead(ctx context.Context, id string) (bool, error) {
	res, err := q.db.ExecContext(ctx, `UPDATE notifications SET is_read = 1 WHERE id = ? AND is_read = 0`, id)
	if err != nil {
		return false, dbErr("mark notification read", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, dbErr("mark notification read", err)
	}
	if n == 1 {
		return true, nil
	}
	if _, err := q.GetNotification(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (q *Queries) IncrementTotals(ctx context.Context, collection, expense core.Money) error {
	_, err := q.db.ExecContext(ctx, `UPDATE ledger
		SET total_collection_cents = total_collection_cents + ?,
		    total_expense_cents = total_expense_cents + ?,
		    updated_at = ?
		WHERE id = 1`, collection.Cents, expense.Cents, time.Now().UnixNano())
	return dbErr("increment totals", err)
}

func (q *Queries) SetTotals(ctx context.Context, t core.Totals) error {
	_, err := q.db.ExecContext(ctx, `UPDATE ledger
		SET total_collection_cents = ?, total_expense_cents = ?, updated_at = ?
		WHERE id = 1`, t.Collection.Cents, t.Expense.Cents, time.Now().UnixNano())
	return dbErr("set totals", err)
}
