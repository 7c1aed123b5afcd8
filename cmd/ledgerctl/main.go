package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/rl1809/kit-ledger/internal/adapter/handler"
	"github.com/rl1809/kit-ledger/internal/adapter/storage"
	"github.com/rl1809/kit-ledger/internal/logger"
)

type globalFlags struct {
	addr    string
	dsn     string
	timeout time.Duration
	verbose bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operate the kit ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := "warn"
			if g.verbose {
				level = "debug"
			}
			logger.SetupWriter(cmd.ErrOrStderr(), "ledgerctl", level, true)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.addr, "addr", "localhost:50051", "Ledger gRPC address")
	pf.StringVar(&g.dsn, "dsn", envOr("MYSQL_DSN", "root:root@tcp(localhost:3306)/kitledger?parseTime=true"), "MySQL DSN for direct database commands")
	pf.DurationVar(&g.timeout, "timeout", 30*time.Second, "Overall command timeout")
	pf.BoolVar(&g.verbose, "verbose", false, "Log debug output to stderr")

	root.AddCommand(
		stressCmd(&g),
		decrementCmd(&g),
		actionCmd(&g, "take", "Mark a pending order as taken"),
		actionCmd(&g, "deliver", "Mark a taken order as delivered"),
		actionCmd(&g, "revert", "Decline an order and return its stock"),
		migrateCmd(&g),
		patchCmd(&g),
	)
	return root
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func (g *globalFlags) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), g.timeout)
}

func (g *globalFlags) dial() (*handler.LedgerClient, func() error, error) {
	conn, err := grpc.NewClient(g.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, errors.Wrapf(err, "dial %s", g.addr)
	}
	return handler.NewLedgerClient(conn), conn.Close, nil
}

func (g *globalFlags) openDB(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("mysql", g.dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open mysql")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping mysql")
	}
	return db, nil
}

func decrementCmd(g *globalFlags) *cobra.Command {
	var productID, size string
	var amount int
	cmd := &cobra.Command{
		Use:   "decrement",
		Short: "Remove stock from a product size outside of any order",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, closeConn, err := g.dial()
			if err != nil {
				return err
			}
			defer closeConn()

			ctx, cancel := g.context()
			defer cancel()
			resp, err := client.DecrementStock(ctx, &handler.DecrementStockRequest{ProductID: productID, Size: size, Amount: amount})
			if err != nil {
				return err
			}
			return report(cmd, resp)
		},
	}
	f := cmd.Flags()
	f.StringVar(&productID, "product", "", "Product id")
	f.StringVar(&size, "size", "", "Size label")
	f.IntVar(&amount, "amount", 1, "Units to remove")
	cmd.MarkFlagRequired("product")
	cmd.MarkFlagRequired("size")
	return cmd
}

func actionCmd(g *globalFlags, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <order-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, closeConn, err := g.dial()
			if err != nil {
				return err
			}
			defer closeConn()

			ctx, cancel := g.context()
			defer cancel()
			req := &handler.OrderActionRequest{OrderID: args[0]}

			var resp *handler.LedgerResponse
			switch action {
			case "take":
				resp, err = client.TakeOrder(ctx, req)
			case "deliver":
				resp, err = client.DeliverOrder(ctx, req)
			default:
				resp, err = client.RevertOrder(ctx, req)
			}
			if err != nil {
				return err
			}
			return report(cmd, resp)
		},
	}
}

func report(cmd *cobra.Command, resp *handler.LedgerResponse) error {
	if !resp.Success {
		return errors.New(resp.Message)
	}
	if resp.Message != "" {
		fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), "ok")
	return nil
}

func migrateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the ledger schema to MySQL",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := g.context()
			defer cancel()

			db, err := g.openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := storage.Migrate(ctx, db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
}
