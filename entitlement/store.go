package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/xraph/storekit/store"
)

// ErrEmptyProductID is returned when marking an empty identifier.
var ErrEmptyProductID = errors.New("entitlement: empty product identifier")

// Store keeps a snapshot of purchase flags in memory on top of a durable
// store.Store. Reads never touch the durable store and never wait on a
// durable write; writes go through to it before the snapshot changes.
type Store struct {
	kv        store.Store
	namespace string
	logger    *slog.Logger

	// writeMu serializes durable writes. mu only guards the snapshot and
	// is never held across I/O.
	writeMu sync.Mutex

	mu        sync.RWMutex
	purchased map[string]bool
}

// Option configures a Store.
type Option func(*Store)

// WithNamespace sets the key prefix used in the durable store.
func WithNamespace(ns string) Option {
	return func(s *Store) {
		if ns != "" {
			s.namespace = ns
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates an entitlement store over kv. Call Load before reading.
func New(kv store.Store, opts ...Option) *Store {
	s := &Store{
		kv:        kv,
		namespace: DefaultNamespace,
		logger:    slog.Default(),
		purchased: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Namespace returns the key prefix.
func (s *Store) Namespace() string { return s.namespace }

// Load replaces the snapshot with the durable store's contents.
func (s *Store) Load(ctx context.Context) error {
	flags, err := s.kv.Scan(ctx, s.namespace)
	if err != nil {
		return fmt.Errorf("entitlement: load: %w", err)
	}

	snapshot := make(map[string]bool, len(flags))
	for key, v := range flags {
		if pid, ok := ProductID(s.namespace, key); ok && v {
			snapshot[pid] = true
		}
	}

	s.mu.Lock()
	s.purchased = snapshot
	s.mu.Unlock()

	s.logger.Debug("entitlements loaded", "count", len(snapshot))
	return nil
}

// IsPurchased reports whether productID has been marked purchased.
func (s *Store) IsPurchased(productID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.purchased[productID]
}

// MarkPurchased records productID as purchased. Marking an identifier that
// is already purchased is a no-op and reports changed == false.
func (s *Store) MarkPurchased(ctx context.Context, productID string) (changed bool, err error) {
	if productID == "" {
		return false, ErrEmptyProductID
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.IsPurchased(productID) {
		return false, nil
	}
	if err := s.kv.SetBool(ctx, Key(s.namespace, productID), true); err != nil {
		return false, fmt.Errorf("entitlement: mark %q: %w", productID, err)
	}

	s.mu.Lock()
	s.purchased[productID] = true
	s.mu.Unlock()

	s.logger.Info("entitlement granted", "product_id", productID)
	return true, nil
}

// Purchased returns the purchased identifiers in sorted order.
func (s *Store) Purchased() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.purchased))
	for pid := range s.purchased {
		out = append(out, pid)
	}
	s.mu.RUnlock()

	slices.Sort(out)
	return out
}

// Records returns a record per purchased identifier in sorted order.
func (s *Store) Records() []Record {
	ids := s.Purchased()
	out := make([]Record, len(ids))
	for i, pid := range ids {
		out[i] = Record{ProductID: pid, Purchased: true}
	}
	return out
}
