package storekit

import (
	"errors"
	"fmt"

	"github.com/xraph/storekit/backend"
	"github.com/xraph/storekit/busy"
	"github.com/xraph/storekit/product"
	"github.com/xraph/storekit/transaction"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrInvalidInput = errors.New("storekit: invalid input")
	ErrNotStarted   = errors.New("storekit: manager not started")

	// Backend errors, re-exported so callers need not import backend.
	ErrServiceUnreachable = backend.ErrServiceUnreachable
	ErrUserCanceled       = backend.ErrUserCanceled
	ErrPaymentDeclined    = backend.ErrPaymentDeclined

	// Product errors
	ErrInvalidProduct     = product.ErrInvalidProduct
	ErrProductFetchFailed = product.ErrFetchFailed

	// Purchase errors
	ErrPaymentsDisabled     = errors.New("storekit: account cannot make payments")
	ErrPurchaseFailed       = errors.New("storekit: purchase failed")
	ErrUnknownTransaction   = errors.New("storekit: unknown transaction")
	ErrTransactionFinished  = errors.New("storekit: transaction already finished")
	ErrInvalidTransition    = transaction.ErrInvalidTransition
	ErrRestoreFailed        = errors.New("storekit: restore failed")
	ErrEntitlementNotStored = errors.New("storekit: entitlement not persisted")

	// Programming errors
	ErrInvariantViolation = errors.New("storekit: invariant violation")
	ErrBusyUnbalanced     = busy.ErrUnbalanced

	// Store errors
	ErrStoreNotReady = errors.New("storekit: store not ready")
	ErrStoreClosed   = errors.New("storekit: store is closed")
)

// InvariantError describes a broken internal invariant. In strict mode the
// manager panics with it instead of returning it.
type InvariantError struct {
	Op     string
	Detail string
	Err    error
}

func (e *InvariantError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("storekit: invariant violation in %s: %s: %v", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("storekit: invariant violation in %s: %s", e.Op, e.Detail)
}

// Is matches ErrInvariantViolation.
func (e *InvariantError) Is(target error) bool { return target == ErrInvariantViolation }

// Unwrap returns the underlying cause.
func (e *InvariantError) Unwrap() error { return e.Err }

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnreachable) ||
		errors.Is(err, ErrProductFetchFailed) ||
		errors.Is(err, ErrRestoreFailed) ||
		errors.Is(err, ErrStoreNotReady)
}

// IsPermanent returns true if retrying the same call cannot succeed.
func IsPermanent(err error) bool {
	if IsRetryable(err) {
		return false
	}
	return errors.Is(err, ErrInvalidProduct) ||
		errors.Is(err, ErrPurchaseFailed) ||
		errors.Is(err, ErrPaymentsDisabled) ||
		errors.Is(err, ErrInvariantViolation)
}

// IsCanceled reports whether the user canceled the operation.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrUserCanceled)
}
