package storekit_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/xraph/storekit"
	"github.com/xraph/storekit/backend"
	"github.com/xraph/storekit/backend/mocks"
	"github.com/xraph/storekit/event"
	"github.com/xraph/storekit/id"
	"github.com/xraph/storekit/product"
	"github.com/xraph/storekit/sandbox"
	"github.com/xraph/storekit/store/memory"
	"github.com/xraph/storekit/transaction"
	"github.com/xraph/storekit/types"
)

var (
	sodaPop = &product.Product{
		ID:             "DigitalSodaPop",
		Title:          "Soda Pop",
		FormattedPrice: "$0.99",
		Price:          types.USD(99),
	}
	monthlySodaPop = &product.Product{
		ID:             "MonthlySodaPop",
		Title:          "Monthly Soda Pop",
		FormattedPrice: "$4.99",
		Price:          types.USD(499),
	}
)

// recorder captures every dispatched event in order.
type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) OnEvent(_ context.Context, ev event.Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recorder) kinds() []event.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Kind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind()
	}
	return out
}

func (r *recorder) count(kind event.Kind) int {
	n := 0
	for _, k := range r.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

func (r *recorder) last(kind event.Kind) event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Kind() == kind {
			return r.events[i]
		}
	}
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	svc *mocks.MockService
	kv  *memory.Store
	rec *recorder
	m   *storekit.Manager
}

func newFixture(t *testing.T, canPay bool, opts ...storekit.Option) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)

	f := &fixture{
		svc: mocks.NewMockService(ctrl),
		kv:  memory.New(),
		rec: &recorder{},
	}
	f.svc.EXPECT().CanMakePayments(gomock.Any()).Return(canPay)

	opts = append([]storekit.Option{
		storekit.WithLogger(quietLogger()),
		storekit.WithPlugin(f.rec),
	}, opts...)
	f.m = storekit.New(f.svc, f.kv, opts...)
	require.NoError(t, f.m.Start(context.Background()))
	t.Cleanup(func() { _ = f.m.Stop() })
	return f
}

// reply makes SubmitPurchase answer with state and err for whatever token
// the manager allocated.
func reply(state transaction.State, err error) func(context.Context, backend.PurchaseRequest) (transaction.Update, error) {
	return func(_ context.Context, req backend.PurchaseRequest) (transaction.Update, error) {
		return transaction.Update{Token: req.Token, ProductID: req.Product.ID, State: state, Err: err}, nil
	}
}

func assertIdle(t *testing.T, m *storekit.Manager) {
	t.Helper()
	assert.False(t, m.Busy())
	stats := m.BusyStats()
	assert.Equal(t, 0, stats.Current)
	assert.Equal(t, stats.Started, stats.Ended)
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

func TestPurchaseBeforeStart(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := storekit.New(mocks.NewMockService(ctrl), memory.New(), storekit.WithLogger(quietLogger()))

	_, err := m.Purchase(context.Background(), sodaPop)
	assert.ErrorIs(t, err, storekit.ErrNotStarted)
	_, err = m.RestorePurchases(context.Background())
	assert.ErrorIs(t, err, storekit.ErrNotStarted)
}

func TestStartLoadsEntitlements(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockService(ctrl)
	svc.EXPECT().CanMakePayments(gomock.Any()).Return(true)

	kv := memory.New()
	require.NoError(t, kv.SetBool(context.Background(), "Purchased-DigitalSodaPop", true))

	m := storekit.New(svc, kv, storekit.WithLogger(quietLogger()))
	assert.False(t, m.IsPurchased("DigitalSodaPop"))

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	assert.True(t, m.IsPurchased("DigitalSodaPop"))
	assert.False(t, m.IsPurchased("MonthlySodaPop"))
	assert.Equal(t, []string{"DigitalSodaPop"}, m.Purchased())
}

func TestStartWithClosedStore(t *testing.T) {
	ctrl := gomock.NewController(t)
	kv := memory.New()
	require.NoError(t, kv.Close())

	m := storekit.New(mocks.NewMockService(ctrl), kv, storekit.WithLogger(quietLogger()))
	err := m.Start(context.Background())
	assert.ErrorIs(t, err, storekit.ErrStoreNotReady)
	assert.True(t, storekit.IsRetryable(err))
}

func TestPaymentsUnavailable(t *testing.T) {
	f := newFixture(t, false)

	assert.False(t, f.m.CanMakePayments())
	assert.Equal(t, []event.Kind{event.KindPaymentsUnavailable}, f.rec.kinds())

	// No SubmitPurchase expectation: the backend must not be called.
	_, err := f.m.Purchase(context.Background(), sodaPop)
	assert.ErrorIs(t, err, storekit.ErrPaymentsDisabled)
	assert.True(t, storekit.IsPermanent(err))
	assert.Equal(t, 1, f.rec.count(event.KindPaymentsUnavailable))
	assertIdle(t, f.m)
}

// ──────────────────────────────────────────────────
// Products
// ──────────────────────────────────────────────────

func TestRequestProductCachesValidOnly(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	f.svc.EXPECT().RequestProducts(gomock.Any(), []string{"DigitalSodaPop"}).
		Return(&product.Response{Products: []*product.Product{sodaPop}}, nil).Times(1)
	f.svc.EXPECT().RequestProducts(gomock.Any(), []string{"Bogus"}).
		Return(&product.Response{Invalid: []string{"Bogus"}}, nil).Times(2)

	for range 3 {
		p, err := f.m.RequestProduct(ctx, "DigitalSodaPop")
		require.NoError(t, err)
		assert.Equal(t, "$0.99", p.DisplayPrice())
	}
	for range 2 {
		_, err := f.m.RequestProduct(ctx, "Bogus")
		assert.ErrorIs(t, err, storekit.ErrInvalidProduct)
	}

	_, err := f.m.RequestProduct(ctx, "")
	assert.ErrorIs(t, err, storekit.ErrInvalidInput)

	stats := f.m.ProductStats()
	assert.EqualValues(t, 3, stats.Fetches)
	assert.EqualValues(t, 2, stats.Hits)
	assert.Equal(t, 3, f.rec.count(event.KindLoadingStarted))
	assert.Equal(t, 3, f.rec.count(event.KindLoadingEnded))
	assertIdle(t, f.m)
}

func TestRequestProductsUnreachable(t *testing.T) {
	f := newFixture(t, true)

	f.svc.EXPECT().RequestProducts(gomock.Any(), gomock.Any()).
		Return(nil, backend.ErrServiceUnreachable)

	_, err := f.m.RequestProducts(context.Background(), "DigitalSodaPop", "MonthlySodaPop")
	assert.ErrorIs(t, err, storekit.ErrProductFetchFailed)
	assert.ErrorIs(t, err, storekit.ErrServiceUnreachable)
	assert.True(t, storekit.IsRetryable(err))
	assertIdle(t, f.m)
}

// ──────────────────────────────────────────────────
// Purchases
// ──────────────────────────────────────────────────

func TestPurchaseSucceeded(t *testing.T) {
	testCases := []struct {
		name  string
		state transaction.State
	}{
		{"purchased", transaction.StatePurchased},
		{"restored", transaction.StateRestored},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, true)
			f.svc.EXPECT().SubmitPurchase(gomock.Any(), gomock.Any()).DoAndReturn(reply(tc.state, nil))

			out, err := f.m.Purchase(context.Background(), sodaPop)
			require.NoError(t, err)
			assert.Equal(t, tc.state, out.State)
			assert.Equal(t, id.PrefixTransaction, out.Token.Prefix())
			assert.True(t, f.m.IsPurchased("DigitalSodaPop"))

			assert.Equal(t, []event.Kind{
				event.KindLoadingStarted,
				event.KindLoadingEnded,
				event.KindPurchaseSucceeded,
			}, f.rec.kinds())

			ev := f.rec.last(event.KindPurchaseSucceeded).(event.PurchaseSucceeded)
			assert.Equal(t, out.Token, ev.Token)
			assert.Equal(t, "DigitalSodaPop", ev.ProductID)
			assert.False(t, ev.Deferred)
			assert.Empty(t, f.m.Pending())
			assertIdle(t, f.m)
		})
	}
}

func TestPurchaseFailed(t *testing.T) {
	testCases := []struct {
		name      string
		update    transaction.Update
		submitErr error
		wantCause error
	}{
		{
			name:      "canceled",
			update:    transaction.Update{State: transaction.StateFailed, Err: backend.ErrUserCanceled},
			wantCause: storekit.ErrUserCanceled,
		},
		{
			name:      "declined without cause",
			update:    transaction.Update{State: transaction.StateFailed},
			wantCause: storekit.ErrPaymentDeclined,
		},
		{
			name:      "unreachable",
			submitErr: backend.ErrServiceUnreachable,
			wantCause: storekit.ErrServiceUnreachable,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, true)
			f.svc.EXPECT().SubmitPurchase(gomock.Any(), gomock.Any()).Return(tc.update, tc.submitErr)

			out, err := f.m.Purchase(context.Background(), sodaPop)
			require.Error(t, err)
			assert.ErrorIs(t, err, storekit.ErrPurchaseFailed)
			assert.ErrorIs(t, err, tc.wantCause)
			require.NotNil(t, out)
			assert.Equal(t, transaction.StateFailed, out.State)
			assert.False(t, f.m.IsPurchased("DigitalSodaPop"))

			assert.Equal(t, 1, f.rec.count(event.KindPurchaseFailed))
			assert.Zero(t, f.rec.count(event.KindPurchaseSucceeded))
			ev := f.rec.last(event.KindPurchaseFailed).(event.PurchaseFailed)
			assert.Equal(t, out.Token, ev.Token)
			assert.NotEmpty(t, ev.Message)

			kinds := f.rec.kinds()
			assert.Equal(t, event.KindLoadingEnded, kinds[len(kinds)-2])
			assert.Zero(t, f.kv.Writes())
			assertIdle(t, f.m)
		})
	}
}

func TestPurchaseInvalidInput(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.m.Purchase(context.Background(), nil)
	assert.ErrorIs(t, err, storekit.ErrInvalidInput)
	_, err = f.m.Purchase(context.Background(), &product.Product{})
	assert.ErrorIs(t, err, storekit.ErrInvalidInput)
}

func TestRepeatPurchaseKeepsSingleEntitlement(t *testing.T) {
	f := newFixture(t, true)
	f.svc.EXPECT().SubmitPurchase(gomock.Any(), gomock.Any()).
		DoAndReturn(reply(transaction.StatePurchased, nil)).Times(2)

	for range 2 {
		_, err := f.m.Purchase(context.Background(), sodaPop)
		require.NoError(t, err)
	}
	assert.True(t, f.m.IsPurchased("DigitalSodaPop"))
	assert.Equal(t, 1, f.kv.Writes())
	assert.Equal(t, 2, f.rec.count(event.KindPurchaseSucceeded))
}

func TestDeferredThenApproved(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.svc.EXPECT().SubmitPurchase(gomock.Any(), gomock.Any()).DoAndReturn(reply(transaction.StateDeferred, nil))

	out, err := f.m.Purchase(ctx, monthlySodaPop)
	require.NoError(t, err)
	assert.True(t, out.Pending())
	assert.False(t, f.m.IsPurchased("MonthlySodaPop"))
	assert.Equal(t, 1, f.rec.count(event.KindPurchaseDeferred))
	require.Len(t, f.m.Pending(), 1)
	assertIdle(t, f.m)

	// A repeated deferred report is absorbed.
	again, err := f.m.HandleUpdate(ctx, transaction.Update{Token: out.Token, State: transaction.StateDeferred})
	require.NoError(t, err)
	assert.True(t, again.Pending())
	assert.Equal(t, 1, f.rec.count(event.KindPurchaseDeferred))

	done, err := f.m.HandleUpdate(ctx, transaction.Update{Token: out.Token, State: transaction.StatePurchased})
	require.NoError(t, err)
	assert.Equal(t, transaction.StatePurchased, done.State)
	assert.True(t, f.m.IsPurchased("MonthlySodaPop"))
	assert.Empty(t, f.m.Pending())

	ev := f.rec.last(event.KindPurchaseSucceeded).(event.PurchaseSucceeded)
	assert.True(t, ev.Deferred)

	_, err = f.m.HandleUpdate(ctx, transaction.Update{Token: out.Token, State: transaction.StatePurchased})
	assert.ErrorIs(t, err, storekit.ErrTransactionFinished)
	assert.Equal(t, 1, f.rec.count(event.KindPurchaseSucceeded))
}

func TestDeferredThenDeclined(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.svc.EXPECT().SubmitPurchase(gomock.Any(), gomock.Any()).DoAndReturn(reply(transaction.StateDeferred, nil))

	out, err := f.m.Purchase(ctx, monthlySodaPop)
	require.NoError(t, err)

	_, err = f.m.HandleUpdate(ctx, transaction.Update{
		Token: out.Token,
		State: transaction.StateFailed,
		Err:   backend.ErrPaymentDeclined,
	})
	assert.ErrorIs(t, err, storekit.ErrPurchaseFailed)
	assert.ErrorIs(t, err, storekit.ErrPaymentDeclined)
	assert.False(t, f.m.IsPurchased("MonthlySodaPop"))
	assert.Equal(t, 1, f.rec.count(event.KindPurchaseFailed))
}

func TestHandleUpdateUnknownToken(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.m.HandleUpdate(ctx, transaction.Update{State: transaction.StatePurchased})
	assert.ErrorIs(t, err, storekit.ErrInvalidInput)

	_, err = f.m.HandleUpdate(ctx, transaction.Update{
		Token: id.NewTransactionID(),
		State: transaction.StateFailed,
	})
	assert.ErrorIs(t, err, storekit.ErrUnknownTransaction)

	_, err = f.m.HandleUpdate(ctx, transaction.Update{
		Token: id.NewTransactionID(),
		State: transaction.StatePurchased,
	})
	assert.ErrorIs(t, err, storekit.ErrUnknownTransaction)
	assert.Empty(t, f.rec.kinds())
}

func TestHandleUpdateAdoptsOrphanCompletion(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	token := id.NewTransactionID()

	out, err := f.m.HandleUpdate(ctx, transaction.Update{
		Token:     token,
		ProductID: "MonthlySodaPop",
		State:     transaction.StateRestored,
	})
	require.NoError(t, err)
	assert.Equal(t, transaction.StateRestored, out.State)
	assert.True(t, f.m.IsPurchased("MonthlySodaPop"))

	_, err = f.m.HandleUpdate(ctx, transaction.Update{
		Token:     token,
		ProductID: "MonthlySodaPop",
		State:     transaction.StateRestored,
	})
	assert.ErrorIs(t, err, storekit.ErrTransactionFinished)
	assert.Equal(t, 1, f.rec.count(event.KindPurchaseSucceeded))
}

func TestConcurrentCompletionsSameProduct(t *testing.T) {
	const purchases = 8
	f := newFixture(t, true)
	ctx := context.Background()
	f.svc.EXPECT().SubmitPurchase(gomock.Any(), gomock.Any()).
		DoAndReturn(reply(transaction.StateDeferred, nil)).Times(purchases)

	tokens := make([]id.TransactionID, 0, purchases)
	for range purchases {
		out, err := f.m.Purchase(ctx, sodaPop)
		require.NoError(t, err)
		tokens = append(tokens, out.Token)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		finished int
	)
	// Each token is completed twice from separate goroutines.
	for _, token := range tokens {
		for range 2 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.m.HandleUpdate(ctx, transaction.Update{Token: token, State: transaction.StatePurchased})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					ok++
				case errors.Is(err, storekit.ErrTransactionFinished):
					finished++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
	}
	wg.Wait()

	assert.Equal(t, purchases, ok)
	assert.Equal(t, purchases, finished)
	assert.Equal(t, purchases, f.rec.count(event.KindPurchaseSucceeded))
	assert.True(t, f.m.IsPurchased("DigitalSodaPop"))
	assert.Equal(t, 1, f.kv.Writes())
	assert.Empty(t, f.m.Pending())
	assertIdle(t, f.m)
}

func TestConcurrentPurchasesCollapseBusyPeriods(t *testing.T) {
	const purchases = 6
	f := newFixture(t, true)

	release := make(chan struct{})
	var entered sync.WaitGroup
	entered.Add(purchases)
	f.svc.EXPECT().SubmitPurchase(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, req backend.PurchaseRequest) (transaction.Update, error) {
			entered.Done()
			<-release
			return reply(transaction.StatePurchased, nil)(ctx, req)
		}).Times(purchases)

	var wg sync.WaitGroup
	for range purchases {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.m.Purchase(context.Background(), sodaPop)
			assert.NoError(t, err)
		}()
	}

	entered.Wait()
	assert.True(t, f.m.Busy())
	assert.Equal(t, purchases, f.m.BusyStats().Current)
	assert.Equal(t, 1, f.rec.count(event.KindLoadingStarted))

	close(release)
	wg.Wait()

	assertIdle(t, f.m)
	assert.Equal(t, purchases, f.rec.count(event.KindPurchaseSucceeded))
}

func TestInvariantViolation(t *testing.T) {
	t.Run("lenient", func(t *testing.T) {
		f := newFixture(t, true)
		f.svc.EXPECT().SubmitPurchase(gomock.Any(), gomock.Any()).DoAndReturn(reply(transaction.StateIdle, nil))

		_, err := f.m.Purchase(context.Background(), sodaPop)
		assert.ErrorIs(t, err, storekit.ErrInvariantViolation)
		assert.ErrorIs(t, err, storekit.ErrInvalidTransition)

		var ie *storekit.InvariantError
		require.ErrorAs(t, err, &ie)
		assert.Equal(t, "apply", ie.Op)
		assert.Empty(t, f.m.Pending())
		assertIdle(t, f.m)
	})

	t.Run("strict", func(t *testing.T) {
		f := newFixture(t, true, storekit.WithStrictInvariants(true))
		f.svc.EXPECT().SubmitPurchase(gomock.Any(), gomock.Any()).DoAndReturn(reply(transaction.StateIdle, nil))

		assert.Panics(t, func() {
			_, _ = f.m.Purchase(context.Background(), sodaPop)
		})
		assert.Empty(t, f.m.Pending())
		assertIdle(t, f.m)
	})
}

func TestEntitlementWriteFailureStillDispatches(t *testing.T) {
	f := newFixture(t, true)
	f.svc.EXPECT().SubmitPurchase(gomock.Any(), gomock.Any()).DoAndReturn(reply(transaction.StatePurchased, nil))
	require.NoError(t, f.kv.Close())

	out, err := f.m.Purchase(context.Background(), sodaPop)
	assert.ErrorIs(t, err, storekit.ErrEntitlementNotStored)
	assert.ErrorIs(t, err, storekit.ErrStoreClosed)
	require.NotNil(t, out)
	assert.Equal(t, transaction.StatePurchased, out.State)
	assert.False(t, f.m.IsPurchased("DigitalSodaPop"))
	assert.Equal(t, 1, f.rec.count(event.KindPurchaseSucceeded))
}

// ──────────────────────────────────────────────────
// Restore
// ──────────────────────────────────────────────────

func TestRestorePurchases(t *testing.T) {
	f := newFixture(t, true)
	f.svc.EXPECT().RestoreCompletedTransactions(gomock.Any()).Return([]transaction.Record{
		{ProductID: "DigitalSodaPop", Token: id.NewTransactionID()},
		{ProductID: "MonthlySodaPop", Token: id.NewTransactionID()},
	}, nil)

	res, err := f.m.RestorePurchases(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)
	assert.False(t, res.Empty())
	assert.Equal(t, id.PrefixRestore, res.ID.Prefix())
	assert.True(t, f.m.IsPurchased("DigitalSodaPop"))
	assert.True(t, f.m.IsPurchased("MonthlySodaPop"))

	assert.Equal(t, []event.Kind{
		event.KindLoadingStarted,
		event.KindLoadingEnded,
		event.KindRestoreCompleted,
	}, f.rec.kinds())
	ev := f.rec.last(event.KindRestoreCompleted).(event.RestoreCompleted)
	assert.Equal(t, 2, ev.Count)
	assert.Equal(t, []string{"DigitalSodaPop", "MonthlySodaPop"}, ev.Identifiers)
	assertIdle(t, f.m)
}

func TestRestoreEmpty(t *testing.T) {
	f := newFixture(t, true)
	f.svc.EXPECT().RestoreCompletedTransactions(gomock.Any()).Return(nil, nil)

	res, err := f.m.RestorePurchases(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Empty())
	assert.Equal(t, 1, f.rec.count(event.KindRestoreEmpty))
	assert.Zero(t, f.rec.count(event.KindRestoreCompleted))
	assert.Zero(t, f.kv.Writes())
	assert.Empty(t, f.m.Purchased())
}

func TestRestoreSkipsRecordsWithoutProduct(t *testing.T) {
	f := newFixture(t, true)
	f.svc.EXPECT().RestoreCompletedTransactions(gomock.Any()).Return([]transaction.Record{
		{Token: id.NewTransactionID()},
	}, nil)

	res, err := f.m.RestorePurchases(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Empty())
	assert.Equal(t, 1, f.rec.count(event.KindRestoreEmpty))
}

func TestRestoreFailed(t *testing.T) {
	f := newFixture(t, true)
	f.svc.EXPECT().RestoreCompletedTransactions(gomock.Any()).Return(nil, backend.ErrServiceUnreachable)

	res, err := f.m.RestorePurchases(context.Background())
	assert.ErrorIs(t, err, storekit.ErrRestoreFailed)
	assert.ErrorIs(t, err, storekit.ErrServiceUnreachable)
	assert.True(t, storekit.IsRetryable(err))
	require.NotNil(t, res)
	assert.False(t, res.Empty())

	assert.Equal(t, 1, f.rec.count(event.KindRestoreFailed))
	ev := f.rec.last(event.KindRestoreFailed).(event.RestoreFailed)
	assert.Equal(t, backend.ErrServiceUnreachable.Error(), ev.Message)
	assertIdle(t, f.m)
}

// ──────────────────────────────────────────────────
// Observers
// ──────────────────────────────────────────────────

func TestObserveAndCancel(t *testing.T) {
	f := newFixture(t, true)
	f.svc.EXPECT().RestoreCompletedTransactions(gomock.Any()).Return(nil, nil).Times(2)

	var seen int
	cancel := f.m.Observe(event.KindRestoreEmpty, func(context.Context, event.Event) error {
		seen++
		return nil
	})

	_, err := f.m.RestorePurchases(context.Background())
	require.NoError(t, err)
	cancel()
	_, err = f.m.RestorePurchases(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, seen)
	assert.Equal(t, 2, f.rec.count(event.KindRestoreEmpty))
}

// ──────────────────────────────────────────────────
// Sandbox
// ──────────────────────────────────────────────────

func TestSandboxDeferredApproval(t *testing.T) {
	ctx := context.Background()
	svc := sandbox.New(sandbox.DefaultCatalog(), sandbox.WithLogger(quietLogger()))
	require.NoError(t, svc.SetOutcome("MonthlySodaPop", sandbox.OutcomeDefer))

	rec := &recorder{}
	m := storekit.New(svc, memory.New(),
		storekit.WithLogger(quietLogger()),
		storekit.WithPlugin(rec),
	)
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	p, err := m.RequestProduct(ctx, "MonthlySodaPop")
	require.NoError(t, err)

	out, err := m.Purchase(ctx, p)
	require.NoError(t, err)
	require.True(t, out.Pending())

	require.NoError(t, svc.Approve(ctx, out.Token))
	require.Eventually(t, func() bool {
		return m.IsPurchased("MonthlySodaPop")
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return rec.count(event.KindPurchaseSucceeded) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// A duplicate delivery is rejected and not dispatched again.
	require.NoError(t, svc.Publish(ctx, transaction.Update{Token: out.Token, State: transaction.StatePurchased}))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.count(event.KindPurchaseSucceeded))

	res, err := m.RestorePurchases(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"MonthlySodaPop"}, res.Identifiers)
}

func TestSandboxRestoreBothProducts(t *testing.T) {
	ctx := context.Background()
	svc := sandbox.New(sandbox.DefaultCatalog(),
		sandbox.WithHistory("DigitalSodaPop", "MonthlySodaPop"),
	)

	m := storekit.New(svc, memory.New(), storekit.WithLogger(quietLogger()))
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	res, err := m.RestorePurchases(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, []string{"DigitalSodaPop", "MonthlySodaPop"}, m.Purchased())
}

// ──────────────────────────────────────────────────
// Dispatch and blocking
// ──────────────────────────────────────────────────

func TestSubscribersFinishBeforePurchaseReturns(t *testing.T) {
	f := newFixture(t, true, storekit.WithDispatchTimeout(5*time.Millisecond))
	f.svc.EXPECT().SubmitPurchase(gomock.Any(), gomock.Any()).DoAndReturn(reply(transaction.StatePurchased, nil))

	var handled atomic.Int64
	f.m.Observe(event.KindPurchaseSucceeded, func(hctx context.Context, _ event.Event) error {
		time.Sleep(50 * time.Millisecond)
		if hctx.Err() == nil {
			handled.Add(1)
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.m.Purchase(ctx, sodaPop)
	require.NoError(t, err)
	assert.EqualValues(t, 1, handled.Load())
	assert.Equal(t, []event.Kind{
		event.KindLoadingStarted,
		event.KindLoadingEnded,
		event.KindPurchaseSucceeded,
	}, f.rec.kinds())
}

func TestSubscribersFinishBeforeRestoreReturns(t *testing.T) {
	f := newFixture(t, true, storekit.WithDispatchTimeout(5*time.Millisecond))
	f.svc.EXPECT().RestoreCompletedTransactions(gomock.Any()).Return([]transaction.Record{
		{ProductID: "DigitalSodaPop", Token: id.NewTransactionID()},
	}, nil)

	var handled atomic.Int64
	f.m.Observe(event.KindRestoreCompleted, func(context.Context, event.Event) error {
		time.Sleep(50 * time.Millisecond)
		handled.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.m.RestorePurchases(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	assert.EqualValues(t, 1, handled.Load())
	assert.Equal(t, event.KindRestoreCompleted, f.rec.kinds()[2])
}

// gatedStore holds SetBool until release is closed.
type gatedStore struct {
	*memory.Store
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) SetBool(ctx context.Context, key string, value bool) error {
	close(g.entered)
	<-g.release
	return g.Store.SetBool(ctx, key, value)
}

func TestIsPurchasedDuringSlowEntitlementWrite(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockService(ctrl)
	svc.EXPECT().CanMakePayments(gomock.Any()).Return(true)
	svc.EXPECT().SubmitPurchase(gomock.Any(), gomock.Any()).DoAndReturn(reply(transaction.StatePurchased, nil))

	kv := &gatedStore{Store: memory.New(), entered: make(chan struct{}), release: make(chan struct{})}
	m := storekit.New(svc, kv, storekit.WithLogger(quietLogger()))
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	purchased := make(chan error, 1)
	go func() {
		_, err := m.Purchase(context.Background(), sodaPop)
		purchased <- err
	}()
	<-kv.entered

	read := make(chan bool, 1)
	go func() { read <- m.IsPurchased("MonthlySodaPop") }()
	select {
	case got := <-read:
		assert.False(t, got)
	case <-time.After(time.Second):
		t.Fatal("IsPurchased waited for the durable write")
	}

	close(kv.release)
	require.NoError(t, <-purchased)
	assert.True(t, m.IsPurchased("DigitalSodaPop"))
}

func TestFinishedHistoryIsBounded(t *testing.T) {
	f := newFixture(t, true, storekit.WithFinishedHistory(2))
	f.svc.EXPECT().SubmitPurchase(gomock.Any(), gomock.Any()).
		DoAndReturn(reply(transaction.StatePurchased, nil)).Times(3)

	ctx := context.Background()
	tokens := make([]id.TransactionID, 0, 3)
	for range 3 {
		out, err := f.m.Purchase(ctx, sodaPop)
		require.NoError(t, err)
		tokens = append(tokens, out.Token)
	}

	// The oldest token has been forgotten; the newer ones are still known.
	_, err := f.m.HandleUpdate(ctx, transaction.Update{Token: tokens[0], State: transaction.StateFailed})
	assert.ErrorIs(t, err, storekit.ErrUnknownTransaction)
	for _, token := range tokens[1:] {
		_, err := f.m.HandleUpdate(ctx, transaction.Update{Token: token, State: transaction.StateFailed})
		assert.ErrorIs(t, err, storekit.ErrTransactionFinished)
	}
	assert.Equal(t, 3, f.rec.count(event.KindPurchaseSucceeded))
}
