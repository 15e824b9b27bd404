package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/pricewatch-cli/internal/export"
	"github.com/sells-group/pricewatch-cli/internal/store"
)

// exportLimit bounds a single export.
const exportLimit = 100000

var productsCmd = &cobra.Command{
	Use:   "products",
	Short: "Browse and export extracted products",
}

var productsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List extracted products",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("query"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		products, err := st.ListProducts(ctx, productFilter(cmd))
		if err != nil {
			return eris.Wrap(err, "products list")
		}
		if len(products) == 0 {
			fmt.Fprintln(os.Stderr, "No products found.")
			return nil
		}

		formatProducts(os.Stdout, products)
		return nil
	},
}

var productsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export extracted products to an .xlsx workbook",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("query"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		filter := productFilter(cmd)
		filter.Limit = exportLimit
		filter.Offset = 0
		products, err := st.ListProducts(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "products export")
		}

		out, _ := cmd.Flags().GetString("out")
		if err := export.SaveXLSX(out, products); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Wrote %d products to %s\n", len(products), out)
		return nil
	},
}

func productFilter(cmd *cobra.Command) store.ProductFilter {
	jobID, _ := cmd.Flags().GetString("job")
	site, _ := cmd.Flags().GetString("site")
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")
	return store.ProductFilter{JobID: jobID, Site: site, Limit: limit, Offset: offset}
}

func init() {
	for _, c := range []*cobra.Command{productsListCmd, productsExportCmd} {
		c.Flags().String("job", "", "filter by job ID")
		c.Flags().String("site", "", "filter by site")
	}
	productsListCmd.Flags().Int("limit", store.DefaultListLimit, "max number of products to display")
	productsListCmd.Flags().Int("offset", 0, "number of products to skip")
	productsExportCmd.Flags().String("out", "products.xlsx", "output workbook path")

	productsCmd.AddCommand(productsListCmd)
	productsCmd.AddCommand(productsExportCmd)
	rootCmd.AddCommand(productsCmd)
}
