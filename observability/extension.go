// Package observability provides a metrics extension for storekit that
// records purchase event counts via a MetricFactory.
package observability

import (
	"context"
	"sync"
	"time"

	"github.com/xraph/storekit/event"
	"github.com/xraph/storekit/plugin"
	"github.com/xraph/storekit/transaction"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                = (*MetricsExtension)(nil)
	_ plugin.OnInit                = (*MetricsExtension)(nil)
	_ plugin.OnPaymentsUnavailable = (*MetricsExtension)(nil)
	_ plugin.OnLoadingStarted      = (*MetricsExtension)(nil)
	_ plugin.OnLoadingEnded        = (*MetricsExtension)(nil)
	_ plugin.OnPurchaseSucceeded   = (*MetricsExtension)(nil)
	_ plugin.OnPurchaseFailed      = (*MetricsExtension)(nil)
	_ plugin.OnPurchaseDeferred    = (*MetricsExtension)(nil)
	_ plugin.OnRestoreEmpty        = (*MetricsExtension)(nil)
	_ plugin.OnRestoreCompleted    = (*MetricsExtension)(nil)
	_ plugin.OnRestoreFailed       = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records purchase lifecycle metrics.
// Register it as a storekit plugin to automatically track purchase metrics.
type MetricsExtension struct {
	factory MetricFactory

	// Capability metrics
	PaymentsUnavailable Counter

	// Busy metrics
	BusyPeriods    Counter
	BusyDurationMs Histogram

	// Purchase metrics
	PurchaseSucceeded Counter
	PurchaseRestored  Counter
	PurchaseApproved  Counter
	PurchaseFailed    Counter
	PurchaseDeferred  Counter

	// Restore metrics
	RestoreEmpty     Counter
	RestoreCompleted Counter
	RestoreFailed    Counter
	RestoredProducts Histogram

	mu        sync.Mutex
	busySince time.Time
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		PaymentsUnavailable: factory.Counter("storekit.payments.unavailable"),

		BusyPeriods:    factory.Counter("storekit.busy.periods"),
		BusyDurationMs: factory.Histogram("storekit.busy.duration_ms"),

		PurchaseSucceeded: factory.Counter("storekit.purchase.succeeded"),
		PurchaseRestored:  factory.Counter("storekit.purchase.restored"),
		PurchaseApproved:  factory.Counter("storekit.purchase.approved"),
		PurchaseFailed:    factory.Counter("storekit.purchase.failed"),
		PurchaseDeferred:  factory.Counter("storekit.purchase.deferred"),

		RestoreEmpty:     factory.Counter("storekit.restore.empty"),
		RestoreCompleted: factory.Counter("storekit.restore.completed"),
		RestoreFailed:    factory.Counter("storekit.restore.failed"),
		RestoredProducts: factory.Histogram("storekit.restore.products"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	// No initialization needed
	return nil
}

// OnPaymentsUnavailable implements plugin.OnPaymentsUnavailable.
func (m *MetricsExtension) OnPaymentsUnavailable(_ context.Context) error {
	m.PaymentsUnavailable.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Busy hooks
// ──────────────────────────────────────────────────

// OnLoadingStarted implements plugin.OnLoadingStarted.
func (m *MetricsExtension) OnLoadingStarted(_ context.Context) error {
	m.mu.Lock()
	m.busySince = time.Now()
	m.mu.Unlock()
	m.BusyPeriods.Inc()
	return nil
}

// OnLoadingEnded implements plugin.OnLoadingEnded.
func (m *MetricsExtension) OnLoadingEnded(_ context.Context) error {
	m.mu.Lock()
	since := m.busySince
	m.busySince = time.Time{}
	m.mu.Unlock()

	if !since.IsZero() {
		m.BusyDurationMs.Observe(float64(time.Since(since).Milliseconds()))
	}
	return nil
}

// ──────────────────────────────────────────────────
// Purchase hooks
// ──────────────────────────────────────────────────

// OnPurchaseSucceeded implements plugin.OnPurchaseSucceeded.
func (m *MetricsExtension) OnPurchaseSucceeded(_ context.Context, ev event.PurchaseSucceeded) error {
	if ev.State == transaction.StateRestored {
		m.PurchaseRestored.Inc()
	} else {
		m.PurchaseSucceeded.Inc()
	}
	if ev.Deferred {
		m.PurchaseApproved.Inc()
	}
	return nil
}

// OnPurchaseFailed implements plugin.OnPurchaseFailed.
func (m *MetricsExtension) OnPurchaseFailed(_ context.Context, _ event.PurchaseFailed) error {
	m.PurchaseFailed.Inc()
	return nil
}

// OnPurchaseDeferred implements plugin.OnPurchaseDeferred.
func (m *MetricsExtension) OnPurchaseDeferred(_ context.Context, _ event.PurchaseDeferred) error {
	m.PurchaseDeferred.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Restore hooks
// ──────────────────────────────────────────────────

// OnRestoreEmpty implements plugin.OnRestoreEmpty.
func (m *MetricsExtension) OnRestoreEmpty(_ context.Context, _ event.RestoreEmpty) error {
	m.RestoreEmpty.Inc()
	m.RestoredProducts.Observe(0)
	return nil
}

// OnRestoreCompleted implements plugin.OnRestoreCompleted.
func (m *MetricsExtension) OnRestoreCompleted(_ context.Context, ev event.RestoreCompleted) error {
	m.RestoreCompleted.Inc()
	m.RestoredProducts.Observe(float64(ev.Count))
	return nil
}

// OnRestoreFailed implements plugin.OnRestoreFailed.
func (m *MetricsExtension) OnRestoreFailed(_ context.Context, _ event.RestoreFailed) error {
	m.RestoreFailed.Inc()
	return nil
}
