package main

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rl1809/kit-ledger/internal/adapter/handler"
	"github.com/rl1809/kit-ledger/internal/adapter/storage"
	"github.com/rl1809/kit-ledger/internal/core/domain"
)

type stressFlags struct {
	productID   string
	size        string
	stock       int
	quantity    int
	requests    int
	concurrency int
}

func stressCmd(g *globalFlags) *cobra.Command {
	var f stressFlags
	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Fire concurrent checkouts at one product size and verify nothing oversells",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStress(cmd, g, f, cmd.Flags().Changed("stock"))
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.productID, "product", "stress-kit", "Product id")
	fl.StringVar(&f.size, "size", "M", "Size label")
	fl.IntVar(&f.stock, "stock", 20, "Seed the unit with this stock through --dsn before the run")
	fl.IntVar(&f.quantity, "quantity", 1, "Units per checkout")
	fl.IntVar(&f.requests, "requests", 50, "Number of checkouts")
	fl.IntVar(&f.concurrency, "concurrency", 50, "Checkouts in flight at once")
	return cmd
}

func runStress(cmd *cobra.Command, g *globalFlags, f stressFlags, seed bool) error {
	ctx, cancel := g.context()
	defer cancel()
	key := domain.StockKey{ProductID: f.productID, Size: f.size}

	client, closeConn, err := g.dial()
	if err != nil {
		return err
	}
	defer closeConn()

	// A seeded run reads stock straight from MySQL, bypassing the snapshot cache.
	stockOf := func(ctx context.Context) (int, error) {
		resp, err := client.GetStock(ctx, &handler.GetStockRequest{ProductID: f.productID, Size: f.size})
		if err != nil {
			return 0, err
		}
		return resp.Stock, nil
	}
	if seed {
		db, err := g.openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()
		adapter := storage.NewMySQLAdapter(db)
		if err := adapter.SetStock(ctx, key, f.stock); err != nil {
			return err
		}
		stockOf = func(ctx context.Context) (int, error) {
			unit, err := adapter.GetStock(ctx, key)
			if err != nil {
				return 0, err
			}
			if unit == nil {
				return 0, errors.Wrapf(domain.ErrStockUnitNotFound, "read stock %s", key)
			}
			return unit.Stock, nil
		}
	}
	initial, err := stockOf(ctx)
	if err != nil {
		return err
	}

	var success, rejected, failed atomic.Int32
	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(f.concurrency)
	start := time.Now()

	for i := 0; i < f.requests; i++ {
		i := i
		eg.Go(func() error {
			resp, err := client.PlaceOrder(egctx, checkout(i, f))
			switch {
			case err != nil:
				failed.Add(1)
				zlog.Debug().Err(err).Int("request", i).Msg("checkout failed")
			case resp.Success:
				success.Add(1)
			default:
				rejected.Add(1)
				zlog.Debug().Str("message", resp.Message).Int("request", i).Msg("checkout rejected")
			}
			return nil
		})
	}
	eg.Wait()
	elapsed := time.Since(start)

	final, err := stockOf(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "========== STRESS TEST RESULTS ==========")
	fmt.Fprintf(out, "Unit:             %s\n", key)
	fmt.Fprintf(out, "Initial Stock:    %d\n", initial)
	fmt.Fprintf(out, "Total Requests:   %d x %d\n", f.requests, f.quantity)
	fmt.Fprintf(out, "Successful:       %d\n", success.Load())
	fmt.Fprintf(out, "Rejected:         %d\n", rejected.Load())
	fmt.Fprintf(out, "Failed:           %d\n", failed.Load())
	fmt.Fprintf(out, "Final Stock:      %d\n", final)
	fmt.Fprintf(out, "Duration:         %v\n", elapsed)
	fmt.Fprintln(out, "==========================================")

	sold := int(success.Load()) * f.quantity
	if final < 0 || sold > initial {
		return errors.Errorf("oversold: %d units sold from %d", sold, initial)
	}
	if seed && final != initial-sold {
		return errors.Errorf("stock drifted: expected %d, got %d", initial-sold, final)
	}
	fmt.Fprintln(out, "PASS: no oversell")
	return nil
}

func checkout(i int, f stressFlags) *handler.PlaceOrderRequest {
	req := &handler.PlaceOrderRequest{RequestID: uuid.NewString()}
	req.Customer.Name = fmt.Sprintf("stress-%d", i)
	req.Customer.Email = fmt.Sprintf("stress-%d@example.com", i)
	req.Items = append(req.Items, handler.LineRequest{
		ProductID: f.productID,
		Quantity:  f.quantity,
		Size:      f.size,
		UnitPrice: decimal.NewFromInt(10000),
		Category:  string(domain.CategoryImmediate),
	})
	return req
}
