// Package transaction models a single purchase attempt and its state machine.
package transaction

import (
	"errors"
	"fmt"

	"github.com/xraph/storekit/id"
	"github.com/xraph/storekit/types"
)

// ErrInvalidTransition is returned when a state change is not allowed.
var ErrInvalidTransition = errors.New("transaction: invalid state transition")

// State is the lifecycle state of a purchase transaction.
type State string

const (
	StateIdle      State = "idle"
	StateRequested State = "requested"
	StatePurchased State = "purchased"
	StateRestored  State = "restored"
	StateFailed    State = "failed"
	StateDeferred  State = "deferred"
)

// IsTerminal reports whether no further transition can leave s.
func (s State) IsTerminal() bool {
	return s == StatePurchased || s == StateRestored || s == StateFailed
}

// IsSuccess reports whether s grants the entitlement.
func (s State) IsSuccess() bool {
	return s == StatePurchased || s == StateRestored
}

// Transaction is one purchase attempt in flight. It is never persisted;
// only its outcome survives through the entitlement store.
type Transaction struct {
	types.Entity
	ID        id.TransactionID `json:"id"`
	ProductID string           `json:"product_id"`
	State     State            `json:"state"`
	// Deferred records that the transaction passed through StateDeferred.
	Deferred bool `json:"deferred,omitempty"`
}

// New creates an idle transaction for productID with a fresh correlation token.
func New(productID string) *Transaction {
	return &Transaction{
		Entity:    types.NewEntity(),
		ID:        id.NewTransactionID(),
		ProductID: productID,
		State:     StateIdle,
	}
}

// Transition moves the transaction to the given state.
func (t *Transaction) Transition(to State) error {
	if !CanTransition(t.State, to) {
		return fmt.Errorf("%w: %s -> %s (%s)", ErrInvalidTransition, t.State, to, t.ID)
	}
	if to == StateDeferred {
		t.Deferred = true
	}
	t.State = to
	t.Touch()
	return nil
}

// Update is a state report from the store service for one transaction,
// correlated by Token. Err carries the decline/cancel detail for StateFailed.
type Update struct {
	Token     id.TransactionID `json:"token"`
	ProductID string           `json:"product_id"`
	State     State            `json:"state"`
	Err       error            `json:"-"`
}

// Record is one historical completed transaction returned by a restore.
type Record struct {
	ProductID string           `json:"product_id"`
	Token     id.TransactionID `json:"token,omitempty"`
}

// Outcome is what a purchase call resolves to.
type Outcome struct {
	Token     id.TransactionID `json:"token"`
	ProductID string           `json:"product_id"`
	State     State            `json:"state"`
	Err       error            `json:"-"`
}

// Pending reports whether the purchase is still awaiting out-of-band approval.
func (o *Outcome) Pending() bool { return o != nil && o.State == StateDeferred }
