package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pricewatch-cli/internal/job"
	"github.com/sells-group/pricewatch-cli/internal/model"
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Scrape product listings across sites and wait for the result",
	Example: `  pricewatch scrape --site amazon,bestbuy \
    --url "https://www.amazon.com/s?k=headphones" \
    --url "https://www.bestbuy.com/site/searchpage.jsp?st=headphones"`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("scrape"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		eng, err := initEngine(ctx, cfg)
		if err != nil {
			return err
		}
		defer eng.Close()

		req, err := scrapeRequest(cmd)
		if err != nil {
			return err
		}

		j, err := eng.Orchestrator.StartJob(ctx, req)
		if err != nil {
			return eris.Wrap(err, "scrape")
		}
		fmt.Fprintf(os.Stderr, "Started job %s (%d sites, max %d products each)\n", j.ID, len(j.TargetSites), j.MaxProducts)

		out, err := eng.Orchestrator.Wait(ctx, j.ID)
		if err != nil {
			// Interrupted: cancel the job and wait for its runners to settle.
			zap.L().Info("interrupted, cancelling job", zap.String("job_id", j.ID))
			if cerr := eng.Orchestrator.Cancel(j.ID); cerr != nil {
				return cerr
			}
			out, err = eng.Orchestrator.Wait(context.WithoutCancel(ctx), j.ID)
			if err != nil {
				return err
			}
		}

		formatOutcome(os.Stdout, out)
		if out.Status == model.StatusFailed {
			return eris.Errorf("scrape: job %s failed", out.JobID)
		}
		return nil
	},
}

func scrapeRequest(cmd *cobra.Command) (job.Request, error) {
	urls, _ := cmd.Flags().GetStringSlice("url")
	sites, _ := cmd.Flags().GetStringSlice("site")
	maxProducts, _ := cmd.Flags().GetInt("max-products")

	req := job.Request{URLs: urls, TargetSites: sites, MaxProducts: maxProducts}
	if cmd.Flags().Changed("ai") {
		useAI, _ := cmd.Flags().GetBool("ai")
		req.UseAIParsing = &useAI
	}
	if len(urls) == 0 || len(sites) == 0 {
		return req, eris.New("scrape: --url and --site are required")
	}
	return req, nil
}

func init() {
	scrapeCmd.Flags().StringSlice("url", nil, "listing URL to scrape (repeatable)")
	scrapeCmd.Flags().StringSlice("site", nil, "target site: amazon, bestbuy, walmart (repeatable or comma-separated)")
	scrapeCmd.Flags().Int("max-products", 0, "max products per site (default from config)")
	scrapeCmd.Flags().Bool("ai", true, "run AI extraction on every item (false: only when selectors miss)")
	rootCmd.AddCommand(scrapeCmd)
}
