package storekit

import "github.com/xraph/storekit/id"

// ID is the identifier type for transaction tokens and restore calls.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix

// TransactionID correlates a backend update with its purchase.
type TransactionID = id.TransactionID
