package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/rl1809/kit-ledger/internal/adapter/storage"
	"github.com/rl1809/kit-ledger/internal/core/domain"
)

func patchCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patch",
		Short: "Manage the patch catalog",
	}

	var price, imageURL string
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a patch or update the price of an existing one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(price)
			if err != nil || amount.IsNegative() {
				return errors.Errorf("invalid price %q", price)
			}

			ctx, cancel := g.context()
			defer cancel()
			catalog, closeDB, err := g.catalog()
			if err != nil {
				return err
			}
			defer closeDB()

			saved, err := catalog.SavePatch(ctx, domain.Patch{Name: args[0], Price: amount, ImageURL: imageURL})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\n", saved.ID, saved.Name, saved.Price.StringFixed(2))
			return nil
		},
	}
	add.Flags().StringVar(&price, "price", "0", "Patch price")
	add.Flags().StringVar(&imageURL, "image", "", "Image URL")

	list := &cobra.Command{
		Use:   "list",
		Short: "List the patch catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := g.context()
			defer cancel()
			catalog, closeDB, err := g.catalog()
			if err != nil {
				return err
			}
			defer closeDB()

			patches, err := catalog.ListPatches(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPRICE")
			for _, p := range patches {
				fmt.Fprintf(w, "%d\t%s\t%s\n", p.ID, p.Name, p.Price.StringFixed(2))
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(add, list)
	return cmd
}

func (g *globalFlags) catalog() (*storage.GormPatchCatalog, func() error, error) {
	ctx, cancel := g.context()
	defer cancel()

	db, err := g.openDB(ctx)
	if err != nil {
		return nil, nil, err
	}
	gdb, err := storage.OpenGorm(db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return storage.NewGormPatchCatalog(gdb), db.Close, nil
}
