// Package backend defines the boundary to the platform purchase service.
package backend

import (
	"context"
	"errors"

	"github.com/xraph/storekit/id"
	"github.com/xraph/storekit/product"
	"github.com/xraph/storekit/transaction"
)

// Errors a Service reports. Implementations wrap these so callers can
// classify failures with errors.Is.
var (
	ErrServiceUnreachable = errors.New("backend: store service unreachable")
	ErrUserCanceled       = errors.New("backend: canceled by user")
	ErrPaymentDeclined    = errors.New("backend: payment declined")
)

//go:generate mockgen -destination=mocks/service.go -package=mocks . Service

// Service is the platform purchase service binding.
type Service interface {
	// CanMakePayments reports whether the account may pay. Queried once at start.
	CanMakePayments(ctx context.Context) bool

	// RequestProducts fetches metadata for the given identifiers.
	RequestProducts(ctx context.Context, ids []string) (*product.Response, error)

	// SubmitPurchase submits a payment and returns its first state report.
	// Later reports for the same token arrive through UpdateSource.
	SubmitPurchase(ctx context.Context, req PurchaseRequest) (transaction.Update, error)

	// RestoreCompletedTransactions enumerates the account's completed purchases.
	RestoreCompletedTransactions(ctx context.Context) ([]transaction.Record, error)
}

// UpdateSource is implemented by services that deliver out-of-band
// transaction updates, such as a deferred purchase being approved.
type UpdateSource interface {
	Updates() <-chan transaction.Update
}

// PurchaseRequest is a payment submission.
type PurchaseRequest struct {
	Token   id.TransactionID
	Product *product.Product
}
