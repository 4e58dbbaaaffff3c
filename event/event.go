// Package event defines the typed events delivered to subscribers.
//
// Event is a closed set: every concrete type lives in this package.
package event

import (
	"github.com/xraph/storekit/id"
	"github.com/xraph/storekit/transaction"
)

// Kind names an event type.
type Kind string

const (
	KindLoadingStarted      Kind = "loading-started"
	KindLoadingEnded        Kind = "loading-ended"
	KindPaymentsUnavailable Kind = "payments-unavailable"
	KindPurchaseSucceeded   Kind = "purchase-succeeded"
	KindPurchaseFailed      Kind = "purchase-failed"
	KindPurchaseDeferred    Kind = "purchase-deferred"
	KindRestoreEmpty        Kind = "restore-empty"
	KindRestoreCompleted    Kind = "restore-completed"
	KindRestoreFailed       Kind = "restore-failed"
)

// Kinds lists every event kind in dispatch documentation order.
var Kinds = []Kind{
	KindLoadingStarted,
	KindLoadingEnded,
	KindPaymentsUnavailable,
	KindPurchaseSucceeded,
	KindPurchaseFailed,
	KindPurchaseDeferred,
	KindRestoreEmpty,
	KindRestoreCompleted,
	KindRestoreFailed,
}

// Event is implemented by every event type in this package.
type Event interface {
	Kind() Kind
	sealed()
}

// LoadingStarted is sent when the first busy scope opens.
type LoadingStarted struct{}

// LoadingEnded is sent when the last busy scope closes.
type LoadingEnded struct{}

// PaymentsUnavailable is sent once at start when the account cannot pay.
type PaymentsUnavailable struct{}

// PurchaseSucceeded reports a purchased or restored transaction.
type PurchaseSucceeded struct {
	Token     id.TransactionID  `json:"token"`
	ProductID string            `json:"product_id"`
	State     transaction.State `json:"state"`
	// Deferred is set when the purchase was approved out-of-band.
	Deferred bool `json:"deferred,omitempty"`
}

// PurchaseFailed reports a declined, cancelled or unreachable purchase.
type PurchaseFailed struct {
	Token     id.TransactionID `json:"token"`
	ProductID string           `json:"product_id"`
	Err       error            `json:"-"`
	Message   string           `json:"message"`
}

// PurchaseDeferred reports a purchase awaiting approval.
type PurchaseDeferred struct {
	Token     id.TransactionID `json:"token"`
	ProductID string           `json:"product_id"`
}

// RestoreEmpty reports a restore that found no purchase history.
type RestoreEmpty struct {
	RestoreID id.RestoreID `json:"restore_id"`
}

// RestoreCompleted reports a restore that marked Count products purchased.
type RestoreCompleted struct {
	RestoreID   id.RestoreID `json:"restore_id"`
	Count       int          `json:"count"`
	Identifiers []string     `json:"identifiers"`
}

// RestoreFailed reports a restore the store could not complete.
type RestoreFailed struct {
	RestoreID id.RestoreID `json:"restore_id"`
	Err       error        `json:"-"`
	Message   string       `json:"message"`
}

func (LoadingStarted) Kind() Kind      { return KindLoadingStarted }
func (LoadingEnded) Kind() Kind        { return KindLoadingEnded }
func (PaymentsUnavailable) Kind() Kind { return KindPaymentsUnavailable }
func (PurchaseSucceeded) Kind() Kind   { return KindPurchaseSucceeded }
func (PurchaseFailed) Kind() Kind      { return KindPurchaseFailed }
func (PurchaseDeferred) Kind() Kind    { return KindPurchaseDeferred }
func (RestoreEmpty) Kind() Kind        { return KindRestoreEmpty }
func (RestoreCompleted) Kind() Kind    { return KindRestoreCompleted }
func (RestoreFailed) Kind() Kind       { return KindRestoreFailed }

func (LoadingStarted) sealed()      {}
func (LoadingEnded) sealed()        {}
func (PaymentsUnavailable) sealed() {}
func (PurchaseSucceeded) sealed()   {}
func (PurchaseFailed) sealed()      {}
func (PurchaseDeferred) sealed()    {}
func (RestoreEmpty) sealed()        {}
func (RestoreCompleted) sealed()    {}
func (RestoreFailed) sealed()       {}

// Message returns a human-readable description of err for presentation.
func Message(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
