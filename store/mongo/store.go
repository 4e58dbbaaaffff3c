// Package mongo implements store.Store on MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/storekit/store"
)

// Collection name constants.
const (
	colFlags = "storekit_flags"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using MongoDB.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	owned  bool
}

// New creates a store on an existing database. Close does not disconnect
// the client.
func New(db *mongo.Database) *Store {
	return &Store{client: db.Client(), db: db}
}

// Open connects to uri and uses the named database. Close disconnects.
func Open(uri, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("storekit/mongo: connect: %w", err)
	}
	s := New(client.Database(database))
	s.owned = true
	return s, nil
}

// Database returns the underlying database for direct access.
func (s *Store) Database() *mongo.Database { return s.db }

// Migrate creates indexes for all storekit collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		_, err := s.db.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("storekit/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client if Open created it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// ==================== Flags ====================

func (s *Store) GetBool(ctx context.Context, key string, def bool) (bool, error) {
	var m flagModel
	err := s.db.Collection(colFlags).FindOne(ctx, bson.M{"_id": key}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return def, nil
		}
		return def, fmt.Errorf("storekit/mongo: get %q: %w", key, err)
	}
	return m.Value, nil
}

func (s *Store) SetBool(ctx context.Context, key string, value bool) error {
	_, err := s.db.Collection(colFlags).UpdateOne(ctx,
		bson.M{"_id": key},
		bson.M{"$set": bson.M{"value": value, "updated_at": time.Now().UTC()}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("storekit/mongo: set %q: %w", key, err)
	}
	return nil
}

func (s *Store) Scan(ctx context.Context, prefix string) (map[string]bool, error) {
	filter := bson.M{"_id": bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)}}
	cur, err := s.db.Collection(colFlags).Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("storekit/mongo: scan %q: %w", prefix, err)
	}

	var models []flagModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("storekit/mongo: scan %q: %w", prefix, err)
	}

	out := make(map[string]bool, len(models))
	for _, m := range models {
		out[m.Key] = m.Value
	}
	return out, nil
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all storekit collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colFlags: {
			{Keys: bson.D{{Key: "updated_at", Value: -1}}},
			{Keys: bson.D{{Key: "value", Value: 1}}},
		},
	}
}
