package storekit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/storekit/backend"
	"github.com/xraph/storekit/busy"
	"github.com/xraph/storekit/entitlement"
	"github.com/xraph/storekit/event"
	"github.com/xraph/storekit/id"
	"github.com/xraph/storekit/plugin"
	"github.com/xraph/storekit/product"
	"github.com/xraph/storekit/store"
	"github.com/xraph/storekit/transaction"
	"github.com/xraph/storekit/types"
)

// Manager is the purchase transaction engine. It fetches products, drives
// purchases and restores through the backend service, records entitlements
// and dispatches outcomes to plugins and observers.
type Manager struct {
	backend      backend.Service
	store        store.Store
	products     *product.Cache
	entitlements *entitlement.Store
	busy         *busy.Tracker
	plugins      *plugin.Registry
	logger       *slog.Logger

	// Configuration
	namespace string
	strict    bool

	lifecycle sync.Mutex
	stopChan  chan struct{}
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu       sync.Mutex
	started  bool
	canPay   bool
	inflight map[string]*tracked

	// finished remembers recent terminal tokens, oldest first in
	// finishedOrder, so late duplicates are rejected.
	finished      map[string]struct{}
	finishedOrder []string
	finishedLimit int
}

// tracked serializes updates for one transaction.
type tracked struct {
	mu  sync.Mutex
	txn *transaction.Transaction
}

// RestoreResult is what a restore call resolves to.
type RestoreResult struct {
	ID          id.RestoreID `json:"id"`
	Count       int          `json:"count"`
	Identifiers []string     `json:"identifiers,omitempty"`
	Err         error        `json:"-"`
}

// Empty reports whether the account had nothing to restore.
func (r *RestoreResult) Empty() bool { return r != nil && r.Err == nil && r.Count == 0 }

// New creates a new Manager over the given backend service and durable store.
func New(svc backend.Service, s store.Store, opts ...Option) *Manager {
	m := &Manager{
		backend:   svc,
		store:     s,
		plugins:   plugin.NewRegistry(),
		logger:    slog.Default(),
		namespace: entitlement.DefaultNamespace,
		inflight:  make(map[string]*tracked),
		finished:  make(map[string]struct{}),

		finishedLimit: DefaultFinishedHistory,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.entitlements = entitlement.New(s,
		entitlement.WithNamespace(m.namespace),
		entitlement.WithLogger(m.logger),
	)
	m.busy = busy.New(busy.ListenerFuncs{
		Started: func() { m.plugins.Emit(context.Background(), event.LoadingStarted{}) },
		Ended:   func() { m.plugins.Emit(context.Background(), event.LoadingEnded{}) },
	})
	m.products = product.NewCache(product.FetcherFunc(m.fetchProducts), product.WithLogger(m.logger))

	return m
}

// DefaultFinishedHistory is how many finished transaction tokens are
// remembered for duplicate detection.
const DefaultFinishedHistory = 4096

// Option configures a Manager instance.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
		m.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(m *Manager) {
		_ = m.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithNamespace sets the key prefix for entitlement flags.
func WithNamespace(ns string) Option {
	return func(m *Manager) {
		if ns != "" {
			m.namespace = ns
		}
	}
}

// WithStrictInvariants makes invariant violations panic instead of
// returning ErrInvariantViolation. Use it in development builds and tests.
func WithStrictInvariants(strict bool) Option {
	return func(m *Manager) { m.strict = strict }
}

// WithDispatchTimeout sets the per-hook budget. Hooks still run to
// completion; overruns are logged.
func WithDispatchTimeout(d time.Duration) Option {
	return func(m *Manager) { m.plugins.WithTimeout(d) }
}

// WithFinishedHistory sets how many finished tokens are remembered. Once
// the limit is reached the oldest token is forgotten, and a late duplicate
// for it is treated as an unknown transaction. Non-positive values are
// ignored.
func WithFinishedHistory(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.finishedLimit = n
		}
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Start migrates the store, loads entitlements and queries payment
// capability once. If the account cannot pay, a PaymentsUnavailable event
// is dispatched here rather than at purchase time.
func (m *Manager) Start(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if m.isStarted() {
		return nil
	}

	// Migrate database
	if err := m.store.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreNotReady, err)
	}
	if err := m.entitlements.Load(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreNotReady, err)
	}

	canPay := m.backend.CanMakePayments(ctx)

	m.mu.Lock()
	m.started = true
	m.canPay = canPay
	m.mu.Unlock()

	// Initialize plugins
	m.plugins.EmitInit(ctx, m)

	if !canPay {
		m.logger.Warn("account cannot make payments")
		m.plugins.Emit(ctx, event.PaymentsUnavailable{})
	}

	m.stopChan = make(chan struct{})
	if src, ok := m.backend.(backend.UpdateSource); ok {
		workerCtx, cancel := context.WithCancel(context.Background())
		m.cancel = cancel
		m.wg.Add(1)
		go m.updateWorker(workerCtx, src.Updates())
	}

	m.logger.Info("storekit started",
		"can_make_payments", canPay,
		"entitlements", len(m.entitlements.Purchased()),
		"namespace", m.namespace,
	)

	return nil
}

// Stop shuts down the Manager and closes the store. Deferred transactions
// still pending are abandoned; the backend redelivers them on next start.
func (m *Manager) Stop() error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if !m.isStarted() {
		return nil
	}

	close(m.stopChan)
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()

	m.mu.Lock()
	m.started = false
	pending := len(m.inflight)
	m.mu.Unlock()

	if pending > 0 {
		m.logger.Info("stopping with pending transactions", "pending", pending)
	}

	m.plugins.EmitShutdown(context.Background())

	return m.store.Close()
}

func (m *Manager) isStarted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

func (m *Manager) updateWorker(ctx context.Context, updates <-chan transaction.Update) {
	defer m.wg.Done()

	for {
		select {
		case <-m.stopChan:
			return

		case upd, ok := <-updates:
			if !ok {
				return
			}
			if _, err := m.HandleUpdate(ctx, upd); err != nil && !errors.Is(err, ErrPurchaseFailed) {
				m.logger.Warn("transaction update rejected",
					"token", upd.Token,
					"product_id", upd.ProductID,
					"state", upd.State,
					"error", err,
				)
			}
		}
	}
}

// ──────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────

// CanMakePayments returns the capability cached at Start.
func (m *Manager) CanMakePayments() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canPay
}

// IsPurchased reports whether productID is entitled. It never performs I/O.
func (m *Manager) IsPurchased(productID string) bool {
	return m.entitlements.IsPurchased(productID)
}

// Purchased lists every entitled product identifier in sorted order.
func (m *Manager) Purchased() []string {
	return m.entitlements.Purchased()
}

// Busy reports whether any backend operation is in flight.
func (m *Manager) Busy() bool { return m.busy.Busy() }

// BusyStats returns the busy tracker counters.
func (m *Manager) BusyStats() busy.Stats { return m.busy.Stats() }

// ProductStats returns the product cache counters.
func (m *Manager) ProductStats() product.Stats { return m.products.Stats() }

// Pending returns copies of the transactions awaiting a terminal update.
func (m *Manager) Pending() []transaction.Transaction {
	m.mu.Lock()
	list := make([]*tracked, 0, len(m.inflight))
	for _, t := range m.inflight {
		list = append(list, t)
	}
	m.mu.Unlock()

	out := make([]transaction.Transaction, 0, len(list))
	for _, t := range list {
		t.mu.Lock()
		out = append(out, *t.txn)
		t.mu.Unlock()
	}
	return out
}

// Plugins returns the event dispatcher.
func (m *Manager) Plugins() *plugin.Registry { return m.plugins }

// Observe subscribes fn to events of the given kind.
func (m *Manager) Observe(kind event.Kind, fn plugin.HandlerFunc) (cancel func()) {
	return m.plugins.Observe(kind, fn)
}

// ──────────────────────────────────────────────────
// Products
// ──────────────────────────────────────────────────

// RequestProducts resolves product metadata, serving cached entries without
// a backend call. Identifiers the backend rejects are listed in
// Result.Invalid.
func (m *Manager) RequestProducts(ctx context.Context, ids ...string) (*product.Result, error) {
	return m.products.Get(ctx, ids)
}

// RequestProduct resolves a single product. It returns ErrInvalidProduct if
// the backend does not recognize productID.
func (m *Manager) RequestProduct(ctx context.Context, productID string) (*product.Product, error) {
	if productID == "" {
		return nil, fmt.Errorf("%w: empty product identifier", ErrInvalidInput)
	}

	res, err := m.RequestProducts(ctx, productID)
	if err != nil {
		return nil, err
	}
	p, ok := res.Get(productID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidProduct, productID)
	}
	return p, nil
}

func (m *Manager) fetchProducts(ctx context.Context, ids []string) (*product.Response, error) {
	end := m.busyScope("request-products")
	defer end()
	return m.backend.RequestProducts(ctx, ids)
}

// ──────────────────────────────────────────────────
// Purchases
// ──────────────────────────────────────────────────

// Purchase submits p to the backend and applies the first state report.
//
// A Purchased or Restored result marks p entitled and dispatches
// PurchaseSucceeded. A Failed result dispatches PurchaseFailed and returns
// the outcome together with an error wrapping ErrPurchaseFailed. A Deferred
// result dispatches PurchaseDeferred and returns with Outcome.Pending set;
// the final state arrives later through HandleUpdate.
func (m *Manager) Purchase(ctx context.Context, p *product.Product) (*transaction.Outcome, error) {
	if p == nil || p.ID == "" {
		return nil, fmt.Errorf("%w: product is required", ErrInvalidInput)
	}

	m.mu.Lock()
	started, canPay := m.started, m.canPay
	m.mu.Unlock()
	if !started {
		return nil, ErrNotStarted
	}
	if !canPay {
		return nil, ErrPaymentsDisabled
	}

	txn := transaction.New(p.ID)
	if err := txn.Transition(transaction.StateRequested); err != nil {
		return nil, m.violation("purchase", "new transaction rejected request", err)
	}
	token := txn.ID
	m.track(txn)

	end := m.busyScope("purchase")
	defer end()
	defer func() {
		if r := recover(); r != nil {
			m.discard(token)
			panic(r)
		}
	}()

	m.logger.Info("purchase requested", "product_id", p.ID, "token", token)

	upd, err := m.backend.SubmitPurchase(ctx, backend.PurchaseRequest{Token: token, Product: p})
	if err != nil {
		upd = transaction.Update{State: transaction.StateFailed, Err: err}
	}
	// The synchronous report always belongs to this submission.
	upd.Token = token
	upd.ProductID = p.ID

	end()
	out, err := m.apply(ctx, upd)
	if errors.Is(err, ErrInvariantViolation) {
		m.discard(token)
	}
	return out, err
}

// HandleUpdate applies an out-of-band state report, such as a deferred
// purchase being approved or declined. Reports for a finished transaction
// return ErrTransactionFinished. A successful report for an unknown token is
// adopted when it names a product, so completions delivered after a restart
// still grant the entitlement.
func (m *Manager) HandleUpdate(ctx context.Context, upd transaction.Update) (*transaction.Outcome, error) {
	if upd.Token.IsNil() {
		return nil, fmt.Errorf("%w: update without token", ErrInvalidInput)
	}
	return m.apply(ctx, upd)
}

func (m *Manager) apply(ctx context.Context, upd transaction.Update) (*transaction.Outcome, error) {
	t, err := m.lookup(upd)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	txn := t.txn
	key := txn.ID.String()

	// A concurrent update may have finished it while we waited.
	if txn.State.IsTerminal() {
		return nil, fmt.Errorf("%w: %s", ErrTransactionFinished, key)
	}
	if upd.State == transaction.StateDeferred && txn.State == transaction.StateDeferred {
		return outcomeOf(txn, nil), nil
	}
	if err := txn.Transition(upd.State); err != nil {
		return nil, m.violation("apply", "unexpected transaction update", err)
	}

	switch txn.State {
	case transaction.StatePurchased, transaction.StateRestored:
		m.finish(key)

		var storeErr error
		if _, err := m.entitlements.MarkPurchased(ctx, txn.ProductID); err != nil {
			storeErr = fmt.Errorf("%w: %w", ErrEntitlementNotStored, err)
			m.logger.Error("failed to record entitlement",
				"product_id", txn.ProductID,
				"token", key,
				"error", err,
			)
		}

		m.logger.Info("purchase succeeded",
			"product_id", txn.ProductID,
			"token", key,
			"state", txn.State,
			"deferred", txn.Deferred,
		)
		m.plugins.Emit(ctx, event.PurchaseSucceeded{
			Token:     txn.ID,
			ProductID: txn.ProductID,
			State:     txn.State,
			Deferred:  txn.Deferred,
		})
		return outcomeOf(txn, storeErr), storeErr

	case transaction.StateFailed:
		m.finish(key)

		cause := upd.Err
		if cause == nil {
			cause = ErrPaymentDeclined
		}
		err := fmt.Errorf("%w: %w", ErrPurchaseFailed, cause)

		m.logger.Info("purchase failed",
			"product_id", txn.ProductID,
			"token", key,
			"error", cause,
		)
		m.plugins.Emit(ctx, event.PurchaseFailed{
			Token:     txn.ID,
			ProductID: txn.ProductID,
			Err:       err,
			Message:   event.Message(cause),
		})
		return outcomeOf(txn, err), err

	case transaction.StateDeferred:
		m.logger.Info("purchase deferred", "product_id", txn.ProductID, "token", key)
		m.plugins.Emit(ctx, event.PurchaseDeferred{Token: txn.ID, ProductID: txn.ProductID})
		return outcomeOf(txn, nil), nil
	}

	return nil, m.violation("apply", fmt.Sprintf("non-final state %s after update", txn.State), nil)
}

// lookup finds the transaction an update belongs to, adopting orphaned
// successful completions.
func (m *Manager) lookup(upd transaction.Update) (*tracked, error) {
	key := upd.Token.String()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, done := m.finished[key]; done {
		return nil, fmt.Errorf("%w: %s", ErrTransactionFinished, key)
	}
	if t, ok := m.inflight[key]; ok {
		return t, nil
	}
	if !upd.State.IsSuccess() || upd.ProductID == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTransaction, key)
	}

	m.logger.Info("adopting unknown transaction", "token", key, "product_id", upd.ProductID)
	t := &tracked{txn: &transaction.Transaction{
		Entity:    types.NewEntity(),
		ID:        upd.Token,
		ProductID: upd.ProductID,
		State:     transaction.StateRequested,
	}}
	m.inflight[key] = t
	return t, nil
}

func (m *Manager) track(txn *transaction.Transaction) {
	m.mu.Lock()
	m.inflight[txn.ID.String()] = &tracked{txn: txn}
	m.mu.Unlock()
}

func (m *Manager) finish(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.inflight, key)
	if _, ok := m.finished[key]; ok {
		return
	}
	m.finished[key] = struct{}{}
	m.finishedOrder = append(m.finishedOrder, key)
	for len(m.finishedOrder) > m.finishedLimit {
		delete(m.finished, m.finishedOrder[0])
		m.finishedOrder[0] = ""
		m.finishedOrder = m.finishedOrder[1:]
	}
}

func (m *Manager) discard(token id.TransactionID) {
	m.mu.Lock()
	delete(m.inflight, token.String())
	m.mu.Unlock()
}

func outcomeOf(txn *transaction.Transaction, err error) *transaction.Outcome {
	return &transaction.Outcome{
		Token:     txn.ID,
		ProductID: txn.ProductID,
		State:     txn.State,
		Err:       err,
	}
}

// ──────────────────────────────────────────────────
// Restore
// ──────────────────────────────────────────────────

// RestorePurchases asks the backend for the account's completed purchases
// and marks each one entitled. It dispatches exactly one of RestoreEmpty,
// RestoreCompleted or RestoreFailed.
func (m *Manager) RestorePurchases(ctx context.Context) (*RestoreResult, error) {
	if !m.isStarted() {
		return nil, ErrNotStarted
	}

	rid := id.NewRestoreID()
	end := m.busyScope("restore")
	defer end()

	m.logger.Info("restore requested", "restore_id", rid)

	records, err := m.backend.RestoreCompletedTransactions(ctx)
	end()

	if err != nil {
		cause := err
		err = fmt.Errorf("%w: %w", ErrRestoreFailed, cause)
		m.logger.Warn("restore failed", "restore_id", rid, "error", cause)
		m.plugins.Emit(ctx, event.RestoreFailed{
			RestoreID: rid,
			Err:       err,
			Message:   event.Message(cause),
		})
		return &RestoreResult{ID: rid, Err: err}, err
	}

	res := &RestoreResult{ID: rid}
	var errs []error
	for _, rec := range records {
		if rec.ProductID == "" {
			m.logger.Warn("restore returned transaction without product", "restore_id", rid, "token", rec.Token)
			continue
		}
		if _, err := m.entitlements.MarkPurchased(ctx, rec.ProductID); err != nil {
			errs = append(errs, err)
		}
		res.Identifiers = append(res.Identifiers, rec.ProductID)
	}
	res.Count = len(res.Identifiers)

	if res.Count == 0 {
		m.logger.Info("restore found no purchases", "restore_id", rid)
		m.plugins.Emit(ctx, event.RestoreEmpty{RestoreID: rid})
		return res, nil
	}

	m.logger.Info("restore completed", "restore_id", rid, "count", res.Count)
	m.plugins.Emit(ctx, event.RestoreCompleted{
		RestoreID:   rid,
		Count:       res.Count,
		Identifiers: append([]string(nil), res.Identifiers...),
	})

	if len(errs) > 0 {
		res.Err = fmt.Errorf("%w: %w", ErrEntitlementNotStored, errors.Join(errs...))
		return res, res.Err
	}
	return res, nil
}

// ──────────────────────────────────────────────────
// Invariants
// ──────────────────────────────────────────────────

// busyScope opens a busy scope and returns its closer. The closer may be
// called more than once; only the first call ends the scope.
func (m *Manager) busyScope(op string) func() {
	m.busy.Begin()
	var once sync.Once
	return func() {
		once.Do(func() {
			if err := m.busy.End(); err != nil {
				_ = m.violation(op, "busy scope ended without begin", err) //nolint:errcheck // logged or panics
			}
		})
	}
}

func (m *Manager) violation(op, detail string, err error) error {
	v := &InvariantError{Op: op, Detail: detail, Err: err}
	m.logger.Error("invariant violation", "op", op, "detail", detail, "error", err)
	if m.strict {
		panic(v)
	}
	return v
}
