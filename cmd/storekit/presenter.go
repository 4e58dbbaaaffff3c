package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/xraph/storekit"
	"github.com/xraph/storekit/event"
	"github.com/xraph/storekit/plugin"
	"github.com/xraph/storekit/sandbox"
)

var (
	_ plugin.OnPaymentsUnavailable = (*presenter)(nil)
	_ plugin.OnLoadingStarted      = (*presenter)(nil)
	_ plugin.OnLoadingEnded        = (*presenter)(nil)
	_ plugin.OnPurchaseSucceeded   = (*presenter)(nil)
	_ plugin.OnPurchaseFailed      = (*presenter)(nil)
	_ plugin.OnPurchaseDeferred    = (*presenter)(nil)
	_ plugin.OnRestoreEmpty        = (*presenter)(nil)
	_ plugin.OnRestoreCompleted    = (*presenter)(nil)
	_ plugin.OnRestoreFailed       = (*presenter)(nil)
)

// presenter prints alert-style messages for purchase events.
type presenter struct {
	mu sync.Mutex
	w  io.Writer
}

func newPresenter(w io.Writer) *presenter { return &presenter{w: w} }

func (p *presenter) Name() string { return "console-presenter" }

func (p *presenter) say(format string, args ...any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintf(p.w, format+"\n", args...)
	return err
}

func (p *presenter) OnPaymentsUnavailable(context.Context) error {
	return p.say("This device cannot make purchases!")
}

func (p *presenter) OnLoadingStarted(context.Context) error { return p.say("Loading...") }

func (p *presenter) OnLoadingEnded(context.Context) error { return nil }

func (p *presenter) OnPurchaseSucceeded(context.Context, event.PurchaseSucceeded) error {
	return p.say("Thanks!")
}

func (p *presenter) OnPurchaseFailed(_ context.Context, ev event.PurchaseFailed) error {
	return p.say("ERROR: Buying failed! (%s)", ev.Message)
}

func (p *presenter) OnPurchaseDeferred(_ context.Context, ev event.PurchaseDeferred) error {
	return p.say("Waiting for approval of %s (%s)", ev.ProductID, ev.Token)
}

func (p *presenter) OnRestoreEmpty(context.Context, event.RestoreEmpty) error {
	return p.say("There were no purchases to restore!")
}

func (p *presenter) OnRestoreCompleted(_ context.Context, ev event.RestoreCompleted) error {
	return p.say("Restored %d purchases!", ev.Count)
}

func (p *presenter) OnRestoreFailed(_ context.Context, ev event.RestoreFailed) error {
	return p.say("ERROR: %s", ev.Message)
}

// productErrorMessage maps a product lookup failure to its alert text.
func productErrorMessage(err error) string {
	switch {
	case errors.Is(err, storekit.ErrInvalidProduct):
		return "ERROR: We requested an invalid product!"
	case errors.Is(err, storekit.ErrProductFetchFailed):
		return "ERROR: We failed to talk to the store!"
	}
	return "ERROR: " + err.Error()
}

// printPurchased writes the "What Have I Purchased?" listing.
func printPurchased(w io.Writer, m *storekit.Manager, catalog []sandbox.Item) {
	fmt.Fprintln(w, "What Have I Purchased?")
	for _, it := range catalog {
		status := "Not Yet"
		if m.IsPurchased(it.Product.ID) {
			status = "Purchased!"
		}
		fmt.Fprintf(w, "  %s: %s\n", it.Product.Title, status)
	}
}
