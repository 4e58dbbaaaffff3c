package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/storekit"
	"github.com/xraph/storekit/id"
	"github.com/xraph/storekit/product"
)

const settleTimeout = 5 * time.Second

func newDemoCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Walk through checking, buying and restoring every catalog item",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			s, err := openSession(ctx, flags, out)
			if err != nil {
				return err
			}
			defer s.stop()

			if !s.manager.CanMakePayments() {
				return nil
			}

			printPurchased(out, s.manager, s.catalog)
			for _, it := range s.catalog {
				p, err := s.manager.RequestProduct(ctx, it.Product.ID)
				if err != nil {
					fmt.Fprintln(out, productErrorMessage(err))
					continue
				}
				fmt.Fprintf(out, "Buy %s, %s\n", p.Title, p.DisplayPrice())
				if err := s.buy(ctx, p, true); err != nil && !errors.Is(err, storekit.ErrPurchaseFailed) {
					return err
				}
			}

			fmt.Fprintln(out, "Restore Lost Purchases")
			if _, err := s.manager.RestorePurchases(ctx); err != nil && !errors.Is(err, storekit.ErrRestoreFailed) {
				return err
			}
			printPurchased(out, s.manager, s.catalog)
			return nil
		},
	}
}

func newProductsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "products [product-id...]",
		Short: "Show product metadata; defaults to the whole catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			s, err := openSession(ctx, flags, out)
			if err != nil {
				return err
			}
			defer s.stop()

			ids := args
			if len(ids) == 0 {
				for _, it := range s.catalog {
					ids = append(ids, it.Product.ID)
				}
			}

			res, err := s.manager.RequestProducts(ctx, ids...)
			if err != nil {
				fmt.Fprintln(out, productErrorMessage(err))
				return err
			}
			printProducts(out, res)
			return nil
		},
	}
}

func newBuyCmd(flags *globalFlags) *cobra.Command {
	var approve, decline bool

	cmd := &cobra.Command{
		Use:   "buy <product-id>",
		Short: "Purchase a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if approve && decline {
				return errors.New("--approve and --decline are mutually exclusive")
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			s, err := openSession(ctx, flags, out)
			if err != nil {
				return err
			}
			defer s.stop()

			p, err := s.manager.RequestProduct(ctx, args[0])
			if err != nil {
				fmt.Fprintln(out, productErrorMessage(err))
				return err
			}

			res, err := s.manager.Purchase(ctx, p)
			if err != nil {
				return err
			}
			if !res.Pending() {
				return nil
			}

			switch {
			case approve:
				err = s.sandbox.Approve(ctx, res.Token)
			case decline:
				err = s.sandbox.Decline(ctx, res.Token)
			default:
				return nil
			}
			if err != nil {
				return err
			}
			return s.settle(ctx, res.Token)
		},
	}
	cmd.Flags().BoolVar(&approve, "approve", false, "approve a deferred purchase")
	cmd.Flags().BoolVar(&decline, "decline", false, "decline a deferred purchase")
	return cmd
}

func newRestoreCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Restore purchases made on this account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context(), flags, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer s.stop()

			_, err = s.manager.RestorePurchases(cmd.Context())
			return err
		},
	}
}

func newStatusCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show which catalog items are purchased",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			s, err := openSession(cmd.Context(), flags, out)
			if err != nil {
				return err
			}
			defer s.stop()

			printPurchased(out, s.manager, s.catalog)
			return nil
		},
	}
}

// buy purchases p and, when approve is set, approves a deferred result.
func (s *session) buy(ctx context.Context, p *product.Product, approve bool) error {
	out, err := s.manager.Purchase(ctx, p)
	if err != nil {
		return err
	}
	if !out.Pending() || !approve {
		return nil
	}
	if err := s.sandbox.Approve(ctx, out.Token); err != nil {
		return err
	}
	return s.settle(ctx, out.Token)
}

// settle waits until the manager has applied the final update for token.
func (s *session) settle(ctx context.Context, token id.TransactionID) error {
	ctx, cancel := context.WithTimeout(ctx, settleTimeout)
	defer cancel()

	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()

	for {
		pending := slices.ContainsFunc(s.manager.Pending(), func(t storekit.Transaction) bool {
			return t.ID.String() == token.String()
		})
		if !pending {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("transaction %s still pending: %w", token, ctx.Err())
		case <-tick.C:
		}
	}
}

func printProducts(w io.Writer, res *product.Result) {
	ids := make([]string, 0, len(res.Products))
	for pid := range res.Products {
		ids = append(ids, pid)
	}
	slices.Sort(ids)

	for _, pid := range ids {
		p := res.Products[pid]
		fmt.Fprintf(w, "%-20s %-24s %s\n", p.ID, p.Title, p.DisplayPrice())
	}
	for _, pid := range res.Invalid {
		fmt.Fprintf(w, "ERROR: We requested an invalid product! (%s)\n", pid)
	}
}
