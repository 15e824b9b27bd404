package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/pricewatch-cli/internal/model"
)

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04")
}

func formatDuration(start, end *time.Time) string {
	if start == nil || end == nil {
		return "-"
	}
	return end.Sub(*start).Round(time.Second).String()
}

func formatPrice(p float64) string {
	if p <= 0 {
		return "-"
	}
	return fmt.Sprintf("$%.2f", p)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// formatJobsList writes a table of jobs to w.
func formatJobsList(w io.Writer, jobs []model.Job) {
	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		created := j.CreatedAt
		rows = append(rows, []string{
			shortID(j.ID),
			string(j.Status),
			strings.Join(j.TargetSites, ","),
			strconv.Itoa(j.ProductsScraped),
			fmt.Sprintf("%.0f%%", j.Progress*100),
			formatTime(&created),
			formatDuration(j.StartedAt, j.CompletedAt),
			truncate(j.ErrorMessage(), 60),
		})
	}
	_, _ = fmt.Fprintln(w, renderTable(
		[]string{"ID", "STATUS", "SITES", "PRODUCTS", "PROGRESS", "CREATED", "DURATION", "ERRORS"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight},
	))
}

// formatSessions writes a table of a job's sessions to w.
func formatSessions(w io.Writer, sessions []model.Session) {
	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, []string{
			s.Site,
			string(s.Status),
			strconv.Itoa(s.ProductsFound),
			formatDuration(s.StartedAt, s.CompletedAt),
			truncate(s.URL, 50),
			truncate(s.Error, 60),
		})
	}
	_, _ = fmt.Fprintln(w, renderTable(
		[]string{"SITE", "STATUS", "PRODUCTS", "DURATION", "URL", "ERROR"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight},
	))
}

// formatProducts writes a table of products to w.
func formatProducts(w io.Writer, products []model.Product) {
	rows := make([][]string, 0, len(products))
	for _, p := range products {
		rating := "-"
		if p.Rating != nil {
			rating = strconv.FormatFloat(*p.Rating, 'f', 1, 64)
		}
		rows = append(rows, []string{
			p.Site,
			truncate(p.Name, 50),
			formatPrice(p.Price),
			rating,
			fmt.Sprintf("%.2f", p.Confidence),
			string(p.Source),
		})
	}
	_, _ = fmt.Fprintln(w, renderTable(
		[]string{"SITE", "NAME", "PRICE", "RATING", "CONFIDENCE", "SOURCE"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight},
	))
}

// formatOutcome writes the end-of-job summary to w.
func formatOutcome(w io.Writer, out *model.JobOutcome) {
	_, _ = fmt.Fprintf(w, "Job %s %s: %d products", out.JobID, out.Status, out.ProductCount)
	if out.TokenUsage.Total() > 0 {
		_, _ = fmt.Fprintf(w, ", %d tokens (~$%.4f)", out.TokenUsage.Total(), out.EstimatedCost)
	}
	_, _ = fmt.Fprintln(w)
	for _, e := range out.Errors {
		_, _ = fmt.Fprintf(w, "  %s: %s\n", e.Site, e.Message)
	}
}

// formatAnalysis writes a competitive analysis to w.
func formatAnalysis(w io.Writer, a *model.CompetitiveAnalysis) {
	_, _ = fmt.Fprintf(w, "Products: %d  Average: %s  Range: %s - %s\n\n",
		a.TotalProducts, formatPrice(a.AveragePrice), formatPrice(a.PriceRange.Min), formatPrice(a.PriceRange.Max))

	sites := make([]string, 0, len(a.PriceComparison))
	for s := range a.PriceComparison {
		sites = append(sites, s)
	}
	sort.Strings(sites)
	rows := make([][]string, 0, len(sites))
	for _, s := range sites {
		st := a.PriceComparison[s]
		rows = append(rows, []string{s, strconv.Itoa(st.Count), formatPrice(st.AvgPrice)})
	}
	_, _ = fmt.Fprintln(w, renderTable([]string{"SITE", "PRODUCTS", "AVG PRICE"}, rows,
		[]columnAlignment{alignLeft, alignRight, alignRight}))

	if len(a.BestDeals) > 0 {
		_, _ = fmt.Fprintln(w, "\nBest deals:")
		for _, p := range a.BestDeals {
			_, _ = fmt.Fprintf(w, "  %s (%s) %s, save %s\n", truncate(p.Name, 60), p.Site, formatPrice(p.Price), formatPrice(p.Discount()))
		}
	}

	_, _ = fmt.Fprintln(w, "\nInsights:")
	for _, s := range a.MarketInsights {
		_, _ = fmt.Fprintf(w, "  - %s\n", s)
	}
}
