// Package storekit manages in-app purchases for Go applications.
//
// Storekit sits between an application and a platform purchase service. It
// is a library, not a service: import it, hand it a backend binding and a
// durable store, and it provides:
//
//   - Product metadata lookups cached for the life of the process
//   - A purchase state machine with exactly one terminal outcome per transaction
//   - Durable entitlement flags that survive restarts
//   - Restoration of lost purchase history
//   - A reference-counted busy indicator for presentation layers
//   - Typed events delivered to plugins and observers
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/storekit"
//	    "github.com/xraph/storekit/sandbox"
//	    "github.com/xraph/storekit/store/sqlite"
//	)
//
//	kv, err := sqlite.Open("storekit.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	m := storekit.New(sandbox.New(sandbox.DefaultCatalog()), kv)
//	if err := m.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer m.Stop()
//
//	p, err := m.RequestProduct(ctx, "DigitalSodaPop")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if _, err := m.Purchase(ctx, p); err != nil {
//	    log.Print(err)
//	}
//	fmt.Println(m.IsPurchased("DigitalSodaPop"))
//
// # Transactions
//
// Every purchase moves through
//
//	idle -> requested -> {purchased, restored, failed, deferred}
//
// and a deferred purchase may later become purchased or failed when the
// backend reports it through HandleUpdate or its update stream. Terminal
// states are final; a second terminal report for the same token is rejected
// with ErrTransactionFinished and never dispatched.
//
// # Events
//
// Plugins implement any of the hook interfaces in package plugin. Simple
// consumers can call Observe with an event kind:
//
//	m.Observe(event.KindPurchaseSucceeded, func(ctx context.Context, ev event.Event) error {
//	    fmt.Println("Thanks!")
//	    return nil
//	})
//
// # TypeID
//
// Correlation tokens and restore calls use TypeIDs:
//
//	txn_01h2xcejqtf2nbrexx3vqjhp41  // Transaction token
//	rst_01h455vb4pex5vsknk084sn02q  // Restore call
package storekit
