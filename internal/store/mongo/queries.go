package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fundledger/internal/core"
	"fundledger/internal/store"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type (
	userDoc struct {
		ID               string    `bson:"_id"`
		Name             string    `bson:"name"`
		Phone            string    `bson:"phone"`
		Status           string    `bson:"status"`
		TotalDonation    int64     `bson:"total_donation_cents"`
		TransactionCount int64     `bson:"transaction_count"`
		RegisteredAt     time.Time `bson:"registered_at"`
	}

	transactionDoc struct {
		ID          string    `bson:"_id"`
		UserID      string    `bson:"user_id"`
		Amount      int64     `bson:"amount_cents"`
		Method      string    `bson:"method,omitempty"`
		FundType    string    `bson:"fund_type,omitempty"`
		ExternalRef string    `bson:"external_ref,omitempty"`
		Note        string    `bson:"note,omitempty"`
		Date        string    `bson:"date"`
		Status      string    `bson:"status"`
		CreatedAt   time.Time `bson:"created_at"`
	}

	expenseDoc struct {
		ID        string    `bson:"_id"`
		Amount    int64     `bson:"amount_cents"`
		Reason    string    `bson:"reason"`
		ProofRef  string    `bson:"proof_ref,omitempty"`
		Date      string    `bson:"date"`
		CreatedAt time.Time `bson:"created_at"`
	}

	assistanceDoc struct {
		ID        string    `bson:"_id"`
		UserID    string    `bson:"user_id"`
		Category  string    `bson:"category"`
		Amount    int64     `bson:"amount_cents"`
		Reason    string    `bson:"reason"`
		Status    string    `bson:"status"`
		AdminNote string    `bson:"admin_note,omitempty"`
		CreatedAt time.Time `bson:"created_at"`
	}

	notificationDoc struct {
		ID        string    `bson:"_id"`
		UserID    string    `bson:"user_id"`
		Message   string    `bson:"message"`
		CreatedAt time.Time `bson:"created_at"`
		IsRead    bool      `bson:"is_read"`
	}

	ledgerDoc struct {
		Collection int64 `bson:"total_collection_cents"`
		Expense    int64 `bson:"total_expense_cents"`
	}
)

func (d userDoc) domain() core.User {
	return core.User{
		ID: d.ID, Name: d.Name, Phone: d.Phone, Status: core.UserStatus(d.Status),
		TotalDonation: core.Money{Cents: d.TotalDonation}, TransactionCount: d.TransactionCount,
		RegisteredAt: d.RegisteredAt.UTC(),
	}
}

func (d transactionDoc) domain() core.Transaction {
	date, _ := core.ParseDate(d.Date)
	return core.Transaction{
		ID: d.ID, UserID: d.UserID, Amount: core.Money{Cents: d.Amount}, Method: d.Method,
		FundType: d.FundType, ExternalRef: d.ExternalRef, Note: d.Note, Date: date,
		Status: core.TxStatus(d.Status), Timestamp: d.CreatedAt.UTC(),
	}
}

func (d expenseDoc) domain() core.Expense {
	date, _ := core.ParseDate(d.Date)
	return core.Expense{
		ID: d.ID, Amount: core.Money{Cents: d.Amount}, Reason: d.Reason, ProofRef: d.ProofRef,
		Date: date, Timestamp: d.CreatedAt.UTC(),
	}
}

func (d assistanceDoc) domain() core.AssistanceRequest {
	return core.AssistanceRequest{
		ID: d.ID, UserID: d.UserID, Category: d.Category, Amount: core.Money{Cents: d.Amount},
		Reason: d.Reason, Status: core.AssistanceStatus(d.Status), AdminNote: d.AdminNote,
		Timestamp: d.CreatedAt.UTC(),
	}
}

func (d notificationDoc) domain() core.Notification {
	return core.Notification{ID: d.ID, UserID: d.UserID, Message: d.Message, Timestamp: d.CreatedAt.UTC(), IsRead: d.IsRead}
}

// queries implements store.Tx. Inside a batch the ctx it receives is the
// session context, which binds every call to the transaction.
type queries struct {
	db *mongo.Database
}

var _ store.Tx = (*queries)(nil)

func newestFirst(field string, limit int) *options.FindOptions {
	opts := options.Find().SetSort(bson.D{{Key: field, Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return opts
}

func findOne[D any](ctx context.Context, col *mongo.Collection, op string, filter bson.M) (D, error) {
	var doc D
	if err := col.FindOne(ctx, filter).Decode(&doc); err != nil {
		return doc, dbErr(op, err)
	}
	return doc, nil
}

func findAll[D interface{ domain() T }, T any](ctx context.Context, col *mongo.Collection, op string, filter bson.M, opts *options.FindOptions) ([]T, error) {
	cur, err := col.Find(ctx, filter, opts)
	if err != nil {
		return nil, dbErr(op, err)
	}
	var docs []D
	if err := cur.All(ctx, &docs); err != nil {
		return nil, dbErr(op, err)
	}
	out := make([]T, len(docs))
	for i, d := range docs {
		out[i] = d.domain()
	}
	return out, nil
}

func mustMatch(op string, res *mongo.UpdateResult, err error) error {
	if err != nil {
		return dbErr(op, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", op, core.ErrNotFound)
	}
	return nil
}

func (q *queries) GetUser(ctx context.Context, id string) (core.User, error) {
	d, err := findOne[userDoc](ctx, q.db.Collection(colUsers), "get user "+id, bson.M{"_id": id})
	return d.domain(), err
}

func (q *queries) FindUserByPhone(ctx context.Context, phone string) (core.User, error) {
	d, err := findOne[userDoc](ctx, q.db.Collection(colUsers), "find user by phone", bson.M{"phone": phone})
	return d.domain(), err
}

func (q *queries) ListUsers(ctx context.Context, f store.UserFilter) ([]core.User, error) {
	filter := bson.M{}
	if f.Status != "" {
		filter["status"] = string(f.Status)
	}
	return findAll[userDoc, core.User](ctx, q.db.Collection(colUsers), "list users", filter, newestFirst("registered_at", f.Limit))
}

func (q *queries) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	d, err := findOne[transactionDoc](ctx, q.db.Collection(colTransactions), "get transaction "+id, bson.M{"_id": id})
	return d.domain(), err
}

func (q *queries) ListTransactions(ctx context.Context, f store.TransactionFilter) ([]core.Transaction, error) {
	filter := bson.M{}
	if f.UserID != "" {
		filter["user_id"] = f.UserID
	}
	if f.Status != "" {
		filter["status"] = string(f.Status)
	}
	return findAll[transactionDoc, core.Transaction](ctx, q.db.Collection(colTransactions), "list transactions", filter, newestFirst("created_at", f.Limit))
}

func (q *queries) GetExpense(ctx context.Context, id string) (core.Expense, error) {
	d, err := findOne[expenseDoc](ctx, q.db.Collection(colExpenses), "get expense "+id, bson.M{"_id": id})
	return d.domain(), err
}

func (q *queries) ListExpenses(ctx context.Context, f store.ListOptions) ([]core.Expense, error) {
	return findAll[expenseDoc, core.Expense](ctx, q.db.Collection(colExpenses), "list expenses", bson.M{}, newestFirst("created_at", f.Limit))
}

func (q *queries) GetAssistanceRequest(ctx context.Context, id string) (core.AssistanceRequest, error) {
	d, err := findOne[assistanceDoc](ctx, q.db.Collection(colAssistance), "get assistance request "+id, bson.M{"_id": id})
	return d.domain(), err
}

func (q *queries) ListAssistanceRequests(ctx context.Context, f store.AssistanceFilter) ([]core.AssistanceRequest, error) {
	filter := bson.M{}
	if f.UserID != "" {
		filter["user_id"] = f.UserID
	}
	if f.Status != "" {
		filter["status"] = string(f.Status)
	}
	return findAll[assistanceDoc, core.AssistanceRequest](ctx, q.db.Collection(colAssistance), "list assistance requests", filter, newestFirst("created_at", f.Limit))
}

func (q *queries) GetNotification(ctx context.Context, id string) (core.Notification, error) {
	d, err := findOne[notificationDoc](ctx, q.db.Collection(colNotifications), "get notification "+id, bson.M{"_id": id})
	return d.domain(), err
}

func (q *queries) ListNotifications(ctx context.Context, f store.NotificationFilter) ([]core.Notification, error) {
	filter := bson.M{}
	if f.UserID != "" {
		filter["user_id"] = f.UserID
	}
	if f.UnreadOnly {
		filter["is_read"] = false
	}
	return findAll[notificationDoc, core.Notification](ctx, q.db.Collection(colNotifications), "list notifications", filter, newestFirst("created_at", f.Limit))
}

func (q *queries) ReadTotals(ctx context.Context) (core.Totals, error) {
	var d ledgerDoc
	err := q.db.Collection(colLedger).FindOne(ctx, bson.M{"_id": ledgerDocID}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		// The row is created by the first increment.
		return core.Totals{}, nil
	}
	if err != nil {
		return core.Totals{}, dbErr("read totals", err)
	}
	return core.Totals{Collection: core.Money{Cents: d.Collection}, Expense: core.Money{Cents: d.Expense}}, nil
}

func (q *queries) CreateUser(ctx context.Context, u core.User) error {
	_, err := q.db.Collection(colUsers).InsertOne(ctx, userDoc{
		ID: u.ID, Name: u.Name, Phone: u.Phone, Status: string(u.Status),
		TotalDonation: u.TotalDonation.Cents, TransactionCount: u.TransactionCount, RegisteredAt: u.RegisteredAt,
	})
	return dbErr("create user", err)
}

func (q *queries) UpdateUserStatus(ctx context.Context, id string, status core.UserStatus) error {
	res, err := q.db.Collection(colUsers).UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$set": bson.M{"status": string(status)}})
	return mustMatch("update user status "+id, res, err)
}

func (q *queries) IncrementUserStats(ctx context.Context, id string, donation core.Money, count int64) error {
	res, err := q.db.Collection(colUsers).UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$inc": bson.M{"total_donation_cents": donation.Cents, "transaction_count": count}})
	return mustMatch("increment user stats "+id, res, err)
}

func (q *queries) SetUserStats(ctx context.Context, id string, donation core.Money, count int64) error {
	res, err := q.db.Collection(colUsers).UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$set": bson.M{"total_donation_cents": donation.Cents, "transaction_count": count}})
	return mustMatch("set user stats "+id, res, err)
}

func (q *queries) DeleteUser(ctx context.Context, id string) error {
	res, err := q.db.Collection(colUsers).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return dbErr("delete user", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("delete user %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (q *queries) CreateTransaction(ctx context.Context, t core.Transaction) error {
	_, err := q.db.Collection(colTransactions).InsertOne(ctx, transactionDoc{
		ID: t.ID, UserID: t.UserID, Amount: t.Amount.Cents, Method: t.Method, FundType: t.FundType,
		ExternalRef: t.ExternalRef, Note: t.Note, Date: t.Date.String(), Status: string(t.Status), CreatedAt: t.Timestamp,
	})
	return dbErr("create transaction", err)
}

func (q *queries) TransitionTransaction(ctx context.Context, id string, from, to core.TxStatus) (bool, error) {
	res, err := q.db.Collection(colTransactions).UpdateOne(ctx,
		bson.M{"_id": id, "status": string(from)},
		bson.M{"$set": bson.M{"status": string(to)}})
	if err != nil {
		return false, dbErr("transition transaction", err)
	}
	if res.ModifiedCount == 1 {
		return true, nil
	}
	if _, err := q.GetTransaction(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (q *queries) CreateExpense(ctx context.Context, e core.Expense) error {
	_, err := q.db.Collection(colExpenses).InsertOne(ctx, expenseDoc{
		ID: e.ID, Amount: e.Amount.Cents, Reason: e.Reason, ProofRef: e.ProofRef, Date: e.Date.String(), CreatedAt: e.Timestamp,
	})
	return dbErr("create expense", err)
}

func (q *queries) DeleteExpense(ctx context.Context, id string) error {
	res, err := q.db.Collection(colExpenses).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return dbErr("delete expense", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("delete expense %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (q *queries) CreateAssistanceRequest(ctx context.Context, a core.AssistanceRequest) error {
	_, err := q.db.Collection(colAssistance).InsertOne(ctx, assistanceDoc{
		ID: a.ID, UserID: a.UserID, Category: a.Category, Amount: a.Amount.Cents, Reason: a.Reason,
		Status: string(a.Status), AdminNote: a.AdminNote, CreatedAt: a.Timestamp,
	})
	return dbErr("create assistance request", err)
}

func (q *queries) UpdateAssistanceRequest(ctx context.Context, id string, status core.AssistanceStatus, note string) error {
	res, err := q.db.Collection(colAssistance).UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$set": bson.M{"status": string(status), "admin_note": note}})
	return mustMatch("update assistance request "+id, res, err)
}

func (q *queries) CreateNotification(ctx context.Context, n core.Notification) error {
	_, err := q.db.Collection(colNotifications).InsertOne(ctx, notificationDoc{
		ID: n.ID, UserID: n.UserID, Message: n.Message, CreatedAt: n.Timestamp, IsRead: n.IsRead,
	})
	return dbErr("create notification", err)
}

func (q *queries) MarkNotificationRead(ctx context.Context, id string) (bool, error) {
	res, err := q.db.Collection(colNotifications).UpdateOne(ctx,
		bson.M{"_id": id, "is_read": false},
		bson.M{"$set": bson.M{"is_read": true}})
	if err != nil {
		return false, dbErr("mark notification read", err)
	}
	if res.ModifiedCount == 1 {
		return true, nil
	}
	if _, err := q.GetNotification(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (q *queries) IncrementTotals(ctx context.Context, collection, expense core.Money) error {
	_, err := q.db.Collection(colLedger).UpdateOne(ctx, bson.M{"_id": ledgerDocID},
		bson.M{
			"$inc": bson.M{"total_collection_cents": collection.Cents, "total_expense_cents": expense.Cents},
			"$set": bson.M{"updated_at": time.Now().UTC()},
		},
		options.Update().SetUpsert(true))
	return dbErr("increment totals", err)
}

func (q *queries) SetTotals(ctx context.Context, t core.Totals) error {
	_, err := q.db.Collection(colLedger).UpdateOne(ctx, bson.M{"_id": ledgerDocID},
		bson.M{"$set": bson.M{
			"total_collection_cents": t.Collection.Cents,
			"total_expense_cents":    t.Expense.Cents,
			"updated_at":             time.Now().UTC(),
		}},
		options.Update().SetUpsert(true))
	return dbErr("set totals", err)
}
