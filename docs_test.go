package storekit_test

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/xraph/storekit"
	"github.com/xraph/storekit/event"
	"github.com/xraph/storekit/sandbox"
	"github.com/xraph/storekit/store/sqlite"
	"github.com/xraph/storekit/types"
)

// TestDocumentationExamples verifies that all examples in the documentation compile
func TestDocumentationExamples(t *testing.T) {
	// Test Quick Start example from the package docs
	t.Run("QuickStartExample", func(t *testing.T) {
		// Create store (sqlite on disk, use PostgreSQL or MongoDB for shared state)
		kv, err := sqlite.Open(filepath.Join(t.TempDir(), "storekit.db"))
		if err != nil {
			t.Fatal(err)
		}

		// Initialize the manager against the sandbox service
		m := storekit.New(sandbox.New(sandbox.DefaultCatalog()), kv,
			storekit.WithLogger(slog.Default()),
		)

		// Start the engine
		ctx := context.Background()
		if err := m.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer m.Stop()

		// Say thanks on every completed purchase
		m.Observe(event.KindPurchaseSucceeded, func(_ context.Context, ev event.Event) error {
			log.Printf("Thanks! (%s)\n", ev.(event.PurchaseSucceeded).ProductID)
			return nil
		})

		// Look up the product (one backend call, then cached)
		p, err := m.RequestProduct(ctx, "DigitalSodaPop")
		if err != nil {
			t.Fatal(err)
		}
		log.Printf("%s costs %s\n", p.Title, p.DisplayPrice())

		// Buy it
		out, err := m.Purchase(ctx, p)
		if err != nil {
			t.Fatal(err)
		}
		log.Printf("Transaction %s is %s\n", out.Token, out.State)

		// Check the entitlement (never touches the store)
		if !m.IsPurchased("DigitalSodaPop") {
			t.Fatal("expected DigitalSodaPop to be purchased")
		}
	})

	// Test error handling examples
	t.Run("ErrorHandlingExample", func(t *testing.T) {
		svc := sandbox.New(sandbox.DefaultCatalog())
		m := storekit.New(svc, sqliteStore(t), storekit.WithLogger(quietLogger()))

		ctx := context.Background()
		if err := m.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer m.Stop()

		// Invalid products are reported, never cached
		_, err := m.RequestProduct(ctx, "NotInTheCatalog")
		if !errors.Is(err, storekit.ErrInvalidProduct) {
			t.Fatalf("expected ErrInvalidProduct, got %v", err)
		}

		// A cancelled purchase fails with a classifiable cause
		if err := svc.SetOutcome("DigitalSodaPop", sandbox.OutcomeCancel); err != nil {
			t.Fatal(err)
		}
		p, err := m.RequestProduct(ctx, "DigitalSodaPop")
		if err != nil {
			t.Fatal(err)
		}
		_, err = m.Purchase(ctx, p)
		switch {
		case storekit.IsCanceled(err):
			log.Println("User changed their mind")
		case storekit.IsRetryable(err):
			t.Fatalf("cancel should not be retryable: %v", err)
		default:
			t.Fatalf("expected a canceled purchase, got %v", err)
		}

		// The store being offline is retryable
		svc.SetOffline(true)
		_, err = m.RestorePurchases(ctx)
		if !storekit.IsRetryable(err) {
			t.Fatalf("expected retryable error, got %v", err)
		}
	})

	// Test Money type examples
	t.Run("MoneyExamples", func(t *testing.T) {
		// Constructors
		_ = types.USD(99)     // $0.99
		_ = types.EUR(499)    // €4.99
		_ = types.Zero("usd") // $0.00

		// Parsing store-reported prices
		m, err := types.ParseMajor("4.99", "USD")
		if err != nil {
			t.Fatal(err)
		}

		// Formatting
		if got := m.String(); got != "$4.99" {
			t.Fatalf("String() = %q", got)
		}
		_ = m.FormatMajor() // "4.99"
		fmt.Println(m)
	})
}

func sqliteStore(t *testing.T) *sqlite.Store {
	t.Helper()
	kv, err := sqlite.Open(filepath.Join(t.TempDir(), "storekit.db"))
	if err != nil {
		t.Fatal(err)
	}
	return kv
}
