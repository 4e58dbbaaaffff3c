// Package audithook bridges storekit purchase events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not import an
// audit library directly. Callers inject a RecorderFunc adapter that bridges
// to their audit backend at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/storekit/event"
	"github.com/xraph/storekit/plugin"
	"github.com/xraph/storekit/transaction"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                = (*Extension)(nil)
	_ plugin.OnInit                = (*Extension)(nil)
	_ plugin.OnShutdown            = (*Extension)(nil)
	_ plugin.OnPaymentsUnavailable = (*Extension)(nil)
	_ plugin.OnPurchaseSucceeded   = (*Extension)(nil)
	_ plugin.OnPurchaseFailed      = (*Extension)(nil)
	_ plugin.OnPurchaseDeferred    = (*Extension)(nil)
	_ plugin.OnRestoreEmpty        = (*Extension)(nil)
	_ plugin.OnRestoreCompleted    = (*Extension)(nil)
	_ plugin.OnRestoreFailed       = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges storekit events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit implements plugin.OnInit.
func (e *Extension) OnInit(ctx context.Context, _ interface{}) error {
	return e.record(ctx, ActionManagerStarted, SeverityInfo, OutcomeSuccess,
		ResourceManager, "", CategoryLifecycle, nil,
	)
}

// OnShutdown implements plugin.OnShutdown.
func (e *Extension) OnShutdown(ctx context.Context) error {
	return e.record(ctx, ActionManagerStopped, SeverityInfo, OutcomeSuccess,
		ResourceManager, "", CategoryLifecycle, nil,
	)
}

// OnPaymentsUnavailable implements plugin.OnPaymentsUnavailable.
func (e *Extension) OnPaymentsUnavailable(ctx context.Context) error {
	return e.record(ctx, ActionPaymentsUnavailable, SeverityWarning, OutcomeFailure,
		ResourceManager, "", CategoryAccess, nil,
	)
}

// ──────────────────────────────────────────────────
// Purchase hooks
// ──────────────────────────────────────────────────

// OnPurchaseSucceeded implements plugin.OnPurchaseSucceeded.
func (e *Extension) OnPurchaseSucceeded(ctx context.Context, ev event.PurchaseSucceeded) error {
	action := ActionPurchaseSucceeded
	if ev.State == transaction.StateRestored {
		action = ActionPurchaseRestored
	}
	return e.record(ctx, action, SeverityInfo, OutcomeSuccess,
		ResourceTransaction, ev.Token.String(), CategoryPayment, nil,
		"product_id", ev.ProductID,
		"state", string(ev.State),
		"deferred", ev.Deferred,
	)
}

// OnPurchaseFailed implements plugin.OnPurchaseFailed.
func (e *Extension) OnPurchaseFailed(ctx context.Context, ev event.PurchaseFailed) error {
	return e.record(ctx, ActionPurchaseFailed, SeverityWarning, OutcomeFailure,
		ResourceTransaction, ev.Token.String(), CategoryPayment, ev.Err,
		"product_id", ev.ProductID,
	)
}

// OnPurchaseDeferred implements plugin.OnPurchaseDeferred.
func (e *Extension) OnPurchaseDeferred(ctx context.Context, ev event.PurchaseDeferred) error {
	return e.record(ctx, ActionPurchaseDeferred, SeverityInfo, OutcomePending,
		ResourceTransaction, ev.Token.String(), CategoryPayment, nil,
		"product_id", ev.ProductID,
	)
}

// ──────────────────────────────────────────────────
// Restore hooks
// ──────────────────────────────────────────────────

// OnRestoreEmpty implements plugin.OnRestoreEmpty.
func (e *Extension) OnRestoreEmpty(ctx context.Context, ev event.RestoreEmpty) error {
	return e.record(ctx, ActionRestoreEmpty, SeverityInfo, OutcomeSuccess,
		ResourceRestore, ev.RestoreID.String(), CategoryAccess, nil,
		"count", 0,
	)
}

// OnRestoreCompleted implements plugin.OnRestoreCompleted.
func (e *Extension) OnRestoreCompleted(ctx context.Context, ev event.RestoreCompleted) error {
	return e.record(ctx, ActionRestoreCompleted, SeverityInfo, OutcomeSuccess,
		ResourceRestore, ev.RestoreID.String(), CategoryAccess, nil,
		"count", ev.Count,
		"product_ids", ev.Identifiers,
	)
}

// OnRestoreFailed implements plugin.OnRestoreFailed.
func (e *Extension) OnRestoreFailed(ctx context.Context, ev event.RestoreFailed) error {
	return e.record(ctx, ActionRestoreFailed, SeverityError, OutcomeFailure,
		ResourceRestore, ev.RestoreID.String(), CategoryAccess, ev.Err,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
