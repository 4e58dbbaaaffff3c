// Package plugin provides the event dispatcher for storekit.
// Plugins hook into lifecycle and transaction events by implementing
// one or more of the hook interfaces below.
package plugin

import (
	"context"

	"github.com/xraph/storekit/event"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the manager starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, m interface{}) error
}

// OnShutdown is called when the manager stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// OnPaymentsUnavailable is called at start when the account cannot pay.
type OnPaymentsUnavailable interface {
	Plugin
	OnPaymentsUnavailable(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Busy hooks
// ──────────────────────────────────────────────────

// OnLoadingStarted is called when the first busy scope opens.
type OnLoadingStarted interface {
	Plugin
	OnLoadingStarted(ctx context.Context) error
}

// OnLoadingEnded is called when the last busy scope closes.
type OnLoadingEnded interface {
	Plugin
	OnLoadingEnded(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Purchase hooks
// ──────────────────────────────────────────────────

// OnPurchaseSucceeded is called once per purchased or restored transaction.
type OnPurchaseSucceeded interface {
	Plugin
	OnPurchaseSucceeded(ctx context.Context, ev event.PurchaseSucceeded) error
}

// OnPurchaseFailed is called once per failed transaction.
type OnPurchaseFailed interface {
	Plugin
	OnPurchaseFailed(ctx context.Context, ev event.PurchaseFailed) error
}

// OnPurchaseDeferred is called when a transaction enters the deferred state.
type OnPurchaseDeferred interface {
	Plugin
	OnPurchaseDeferred(ctx context.Context, ev event.PurchaseDeferred) error
}

// ──────────────────────────────────────────────────
// Restore hooks
// ──────────────────────────────────────────────────

// OnRestoreEmpty is called when a restore finds no history.
type OnRestoreEmpty interface {
	Plugin
	OnRestoreEmpty(ctx context.Context, ev event.RestoreEmpty) error
}

// OnRestoreCompleted is called when a restore marks products purchased.
type OnRestoreCompleted interface {
	Plugin
	OnRestoreCompleted(ctx context.Context, ev event.RestoreCompleted) error
}

// OnRestoreFailed is called when a restore fails.
type OnRestoreFailed interface {
	Plugin
	OnRestoreFailed(ctx context.Context, ev event.RestoreFailed) error
}

// ──────────────────────────────────────────────────
// Catch-all
// ──────────────────────────────────────────────────

// OnEvent receives every event after the typed hooks have run.
type OnEvent interface {
	Plugin
	OnEvent(ctx context.Context, ev event.Event) error
}

// HandlerFunc observes events of one kind. See Registry.Observe.
type HandlerFunc func(ctx context.Context, ev event.Event) error
