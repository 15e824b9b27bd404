package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/pricewatch-cli/internal/analysis"
	"github.com/sells-group/pricewatch-cli/internal/store"
)

// analyzeLimit bounds how many stored products feed one analysis.
const analyzeLimit = 10000

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Compute cross-site price analysis and market insights",
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

		jobID, _ := cmd.Flags().GetString("job")
		site, _ := cmd.Flags().GetString("site")
		products, err := st.ListProducts(ctx, store.ProductFilter{JobID: jobID, Site: site, Limit: analyzeLimit})
		if err != nil {
			return eris.Wrap(err, "analyze")
		}

		agg := &analysis.Aggregator{}
		if noAI, _ := cmd.Flags().GetBool("no-ai"); !noAI {
			if _, insights := completers(cfg); insights != nil {
				agg.Completer = insights
			}
		}
		a := agg.Analyze(ctx, products)

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(a)
		}
		formatAnalysis(os.Stdout, a)
		return nil
	},
}

func init() {
	analyzeCmd.Flags().String("job", "", "restrict to one job's products")
	analyzeCmd.Flags().String("site", "", "restrict to one site")
	analyzeCmd.Flags().Bool("no-ai", false, "skip AI insights")
	analyzeCmd.Flags().Bool("json", false, "print as JSON")
	rootCmd.AddCommand(analyzeCmd)
}
