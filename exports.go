package storekit

import (
	"github.com/xraph/storekit/event"
	"github.com/xraph/storekit/product"
	"github.com/xraph/storekit/transaction"
	"github.com/xraph/storekit/types"
)

// Re-export common types for convenience so users don't have to import
// every sub-package.

// Money is re-exported from types package.
type Money = types.Money

// Product is re-exported from product package.
type Product = product.Product

// Outcome is re-exported from transaction package.
type Outcome = transaction.Outcome

// Transaction is re-exported from transaction package.
type Transaction = transaction.Transaction

// State is re-exported from transaction package.
type State = transaction.State

// Event is re-exported from event package.
type Event = event.Event

// Re-export transaction states
const (
	StateIdle      = transaction.StateIdle
	StateRequested = transaction.StateRequested
	StatePurchased = transaction.StatePurchased
	StateRestored  = transaction.StateRestored
	StateFailed    = transaction.StateFailed
	StateDeferred  = transaction.StateDeferred
)

// Re-export Money constructors
var (
	USD  = types.USD
	EUR  = types.EUR
	GBP  = types.GBP
	JPY  = types.JPY
	Zero = types.Zero
)
