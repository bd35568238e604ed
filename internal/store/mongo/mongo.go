// Package mongo is the hosted document backend of the Entity Store. A batch
// is a multi-document transaction, so the deployment must be a replica set.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fundledger/internal/core"
	"fundledger/internal/store"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	colUsers         = "users"
	colTransactions  = "transactions"
	colExpenses      = "expenses"
	colAssistance    = "assistance_requests"
	colNotifications = "notifications"
	colLedger        = "ledger"

	ledgerDocID = "totals"
)

type Store struct {
	store.Reader
	client *mongo.Client
	db     *mongo.Database
}

var _ store.Store = (*Store)(nil)

// New connects to uri, selects database and ensures indexes.
func New(ctx context.Context, uri, database string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(database)
	if err := ensureIndexes(ctx, db); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	slog.Info("Mongo store ready", "database", database)
	return &Store{Reader: &queries{db: db}, client: client, db: db}, nil
}

func ensureIndexes(ctx context.Context, db *mongo.Database) error {
	byCreated := mongo.IndexModel{Keys: bson.D{{Key: "created_at", Value: -1}}}
	indexes := map[string][]mongo.IndexModel{
		colUsers: {
			{Keys: bson.D{{Key: "phone", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "registered_at", Value: -1}}},
		},
		colTransactions: {
			byCreated,
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "status", Value: 1}}},
		},
		colExpenses:      {byCreated},
		colAssistance:    {byCreated, {Keys: bson.D{{Key: "user_id", Value: 1}}}},
		colNotifications: {{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}}},
	}
	for col, models := range indexes {
		if _, err := db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create %s indexes: %w", col, err)
		}
	}
	return nil
}

// RunInTx runs fn inside a session transaction. The driver retries fn on
// transient errors, so fn must not have effects outside tx.
func (s *Store) RunInTx(ctx context.Context, fn store.TxFunc) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w: %v", core.ErrStoreUnavailable, err)
	}
	defer sess.EndSession(ctx)

	q := &queries{db: s.db}
	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc, q)
	})
	return err
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("ping mongo: %w: %v", core.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func dbErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%s: %w", op, core.ErrNotFound)
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%s: %w", op, core.ErrConflict)
	}
	return fmt.Errorf("%s: %w: %v", op, core.ErrStoreUnavailable, err)
}
