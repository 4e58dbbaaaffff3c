// Package sandbox provides an in-process purchase service for development
// and tests. Each catalog item carries a scripted outcome, deferred
// purchases wait for Approve or Decline, and the service can be taken
// offline or throttled to exercise failure paths.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/xraph/storekit/backend"
	"github.com/xraph/storekit/id"
	"github.com/xraph/storekit/product"
	"github.com/xraph/storekit/transaction"
	"github.com/xraph/storekit/types"
)

// ErrNotPending is returned when approving or declining a token that is not
// awaiting approval.
var ErrNotPending = errors.New("sandbox: transaction not pending")

// Outcome scripts how a purchase of an item resolves.
type Outcome string

const (
	OutcomePurchase Outcome = "purchase"
	OutcomeRestore  Outcome = "restore"
	OutcomeFail     Outcome = "fail"
	OutcomeCancel   Outcome = "cancel"
	OutcomeDefer    Outcome = "defer"
)

// IsValid reports whether o is a known outcome.
func (o Outcome) IsValid() bool {
	switch o {
	case OutcomePurchase, OutcomeRestore, OutcomeFail, OutcomeCancel, OutcomeDefer:
		return true
	}
	return false
}

// Item is a catalog entry.
type Item struct {
	Product *product.Product
	Outcome Outcome
}

// NewItem builds an item from a decimal price such as "0.99".
// An empty outcome means OutcomePurchase.
func NewItem(productID, title, description, price, currency string, outcome Outcome) (Item, error) {
	if productID == "" {
		return Item{}, errors.New("sandbox: item id is required")
	}
	if outcome == "" {
		outcome = OutcomePurchase
	}
	if !outcome.IsValid() {
		return Item{}, fmt.Errorf("sandbox: item %s: unknown outcome %q", productID, outcome)
	}
	money, err := types.ParseMajor(price, currency)
	if err != nil {
		return Item{}, fmt.Errorf("sandbox: item %s: %w", productID, err)
	}
	return Item{
		Product: &product.Product{
			ID:             productID,
			Title:          title,
			Description:    description,
			FormattedPrice: money.String(),
			Price:          money,
		},
		Outcome: outcome,
	}, nil
}

// DefaultCatalog returns a one-off item and a subscription.
func DefaultCatalog() []Item {
	return []Item{
		{
			Product: &product.Product{
				ID:             "DigitalSodaPop",
				Title:          "Soda Pop",
				Description:    "A refreshing digital soda pop.",
				FormattedPrice: "$0.99",
				Price:          types.USD(99),
			},
			Outcome: OutcomePurchase,
		},
		{
			Product: &product.Product{
				ID:             "MonthlySodaPop",
				Title:          "Monthly Soda Pop",
				Description:    "A fresh soda pop every month.",
				FormattedPrice: "$4.99",
				Price:          types.USD(499),
			},
			Outcome: OutcomePurchase,
		},
	}
}

// compile-time interface checks
var (
	_ backend.Service      = (*Service)(nil)
	_ backend.UpdateSource = (*Service)(nil)
)

// Service is a simulated purchase service.
type Service struct {
	logger  *slog.Logger
	limiter *rate.Limiter
	latency time.Duration
	updates chan transaction.Update

	sendMu sync.RWMutex
	closed bool

	mu        sync.Mutex
	catalog   map[string]Item
	canPay    bool
	offline   bool
	history   []transaction.Record
	purchased map[string]bool
	pending   map[string]pendingTxn
}

type pendingTxn struct {
	token     id.TransactionID
	productID string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithCanMakePayments sets the payment capability reported at start.
func WithCanMakePayments(canPay bool) Option {
	return func(s *Service) { s.canPay = canPay }
}

// WithRateLimit throttles requests. Calls over the limit fail with
// backend.ErrServiceUnreachable. A non-positive rps disables throttling.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Service) {
		if rps <= 0 {
			s.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLatency delays every request by d.
func WithLatency(d time.Duration) Option {
	return func(s *Service) { s.latency = d }
}

// WithHistory seeds the account's completed purchases.
func WithHistory(productIDs ...string) Option {
	return func(s *Service) {
		for _, pid := range productIDs {
			s.record(pid, id.NewTransactionID())
		}
	}
}

// New creates a sandbox service selling items.
func New(items []Item, opts ...Option) *Service {
	s := &Service{
		logger:    slog.Default(),
		updates:   make(chan transaction.Update, 64),
		catalog:   make(map[string]Item, len(items)),
		canPay:    true,
		purchased: make(map[string]bool),
		pending:   make(map[string]pendingTxn),
	}
	for _, it := range items {
		if it.Product != nil {
			s.catalog[it.Product.ID] = it
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ──────────────────────────────────────────────────
// backend.Service
// ──────────────────────────────────────────────────

func (s *Service) CanMakePayments(_ context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canPay
}

func (s *Service) RequestProducts(ctx context.Context, ids []string) (*product.Response, error) {
	if err := s.reach(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	resp := &product.Response{}
	for _, pid := range ids {
		if it, ok := s.catalog[pid]; ok {
			resp.Products = append(resp.Products, it.Product)
		} else {
			resp.Invalid = append(resp.Invalid, pid)
		}
	}
	return resp, nil
}

func (s *Service) SubmitPurchase(ctx context.Context, req backend.PurchaseRequest) (transaction.Update, error) {
	if err := s.reach(ctx); err != nil {
		return transaction.Update{}, err
	}
	if req.Product == nil {
		return transaction.Update{}, errors.New("sandbox: purchase without product")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	upd := transaction.Update{Token: req.Token, ProductID: req.Product.ID}

	it, ok := s.catalog[req.Product.ID]
	if !ok {
		upd.State = transaction.StateFailed
		upd.Err = fmt.Errorf("%w: unknown product %s", backend.ErrPaymentDeclined, req.Product.ID)
		return upd, nil
	}

	switch it.Outcome {
	case OutcomeFail:
		upd.State = transaction.StateFailed
		upd.Err = backend.ErrPaymentDeclined
	case OutcomeCancel:
		upd.State = transaction.StateFailed
		upd.Err = backend.ErrUserCanceled
	case OutcomeDefer:
		upd.State = transaction.StateDeferred
		s.pending[req.Token.String()] = pendingTxn{token: req.Token, productID: req.Product.ID}
	case OutcomeRestore:
		upd.State = transaction.StateRestored
		s.record(req.Product.ID, req.Token)
	default:
		upd.State = transaction.StatePurchased
		s.record(req.Product.ID, req.Token)
	}

	s.logger.Debug("sandbox purchase",
		"product_id", req.Product.ID,
		"token", req.Token,
		"state", upd.State,
	)
	return upd, nil
}

func (s *Service) RestoreCompletedTransactions(ctx context.Context) ([]transaction.Record, error) {
	if err := s.reach(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history), nil
}

// Updates implements backend.UpdateSource.
func (s *Service) Updates() <-chan transaction.Update { return s.updates }

// ──────────────────────────────────────────────────
// Controls
// ──────────────────────────────────────────────────

// Approve completes a deferred purchase and publishes the update.
func (s *Service) Approve(ctx context.Context, token id.TransactionID) error {
	return s.resolve(ctx, token, func(pid string) transaction.Update {
		s.record(pid, token)
		return transaction.Update{Token: token, ProductID: pid, State: transaction.StatePurchased}
	})
}

// Decline fails a deferred purchase and publishes the update.
func (s *Service) Decline(ctx context.Context, token id.TransactionID) error {
	return s.resolve(ctx, token, func(pid string) transaction.Update {
		return transaction.Update{
			Token:     token,
			ProductID: pid,
			State:     transaction.StateFailed,
			Err:       backend.ErrPaymentDeclined,
		}
	})
}

// Publish sends an arbitrary update, for example a duplicate delivery.
func (s *Service) Publish(ctx context.Context, upd transaction.Update) error {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed {
		return fmt.Errorf("%w: closed", backend.ErrServiceUnreachable)
	}

	select {
	case s.updates <- upd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the tokens awaiting approval.
func (s *Service) Pending() []id.TransactionID {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.pending))
	for k := range s.pending {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	out := make([]id.TransactionID, len(keys))
	for i, k := range keys {
		out[i] = s.pending[k].token
	}
	return out
}

// History returns the product identifiers of completed purchases.
func (s *Service) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, len(s.history))
	for i, r := range s.history {
		out[i] = r.ProductID
	}
	return out
}

// SetOffline makes every request fail with backend.ErrServiceUnreachable.
func (s *Service) SetOffline(offline bool) {
	s.mu.Lock()
	s.offline = offline
	s.mu.Unlock()
}

// SetOutcome changes the scripted outcome for productID.
func (s *Service) SetOutcome(productID string, o Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.catalog[productID]
	if !ok {
		return fmt.Errorf("sandbox: unknown product %s", productID)
	}
	if !o.IsValid() {
		return fmt.Errorf("sandbox: unknown outcome %q", o)
	}
	it.Outcome = o
	s.catalog[productID] = it
	return nil
}

// SetCanMakePayments changes the reported payment capability.
func (s *Service) SetCanMakePayments(canPay bool) {
	s.mu.Lock()
	s.canPay = canPay
	s.mu.Unlock()
}

// Close stops publishing updates.
func (s *Service) Close() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.updates)
	}
}

func (s *Service) resolve(ctx context.Context, token id.TransactionID, build func(pid string) transaction.Update) error {
	s.mu.Lock()
	p, ok := s.pending[token.String()]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotPending, token)
	}
	delete(s.pending, token.String())
	upd := build(p.productID)
	s.mu.Unlock()

	return s.Publish(ctx, upd)
}

// record appends a completed purchase. Repeat purchases of one product
// keep a single history entry. Callers hold s.mu or own s exclusively.
func (s *Service) record(productID string, token id.TransactionID) {
	if s.purchased[productID] {
		return
	}
	s.purchased[productID] = true
	s.history = append(s.history, transaction.Record{ProductID: productID, Token: token})
}

// reach applies latency, offline and rate limit checks.
func (s *Service) reach(ctx context.Context) error {
	if s.latency > 0 {
		t := time.NewTimer(s.latency)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", backend.ErrServiceUnreachable, ctx.Err())
		}
	}

	s.mu.Lock()
	offline := s.offline
	s.mu.Unlock()
	if offline {
		return fmt.Errorf("%w: sandbox offline", backend.ErrServiceUnreachable)
	}

	if s.limiter != nil && !s.limiter.Allow() {
		return fmt.Errorf("%w: rate limited", backend.ErrServiceUnreachable)
	}
	return nil
}
