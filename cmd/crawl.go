package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/urlharvest/internal/category"
	"github.com/JakeFAU/urlharvest/internal/export"
	"github.com/JakeFAU/urlharvest/internal/pipeline"
)

// newCrawlCmd creates the 'crawl' subcommand, which runs one crawl from a seed
// URL to completion (or Ctrl-C) and persists what it collected.
func newCrawlCmd(rt *runtime) *cobra.Command {
	var seed string
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl from a seed URL and persist the discovered URLs",
		Long: `Crawls outward from --seed until no new URLs remain or the process is
interrupted. Interrupting still classifies and persists every URL collected so
far. Each selected category is written to <Category>Database.db in --out.`,
		Example: `  urlharvest crawl --seed https://example.com/ --categories pdf,images --out ./data
  urlharvest crawl --seed https://example.com/ --formats txt,csv,db`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, rt, seed)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&seed, "seed", "", "absolute http(s) URL to start from")
	flags.StringSlice("categories", nil, `categories to persist, or "all"`)
	flags.String("out", "", "directory for category stores and exports")
	flags.StringSlice("formats", nil, "snapshot exports to write: txt, csv, db")
	flags.Int("workers", 0, "number of concurrent workers (0 = CPUs - 1)")
	_ = cmd.MarkFlagRequired("seed")

	mustBind(rt.v, "store.categories", flags.Lookup("categories"))
	mustBind(rt.v, "store.dir", flags.Lookup("out"))
	mustBind(rt.v, "export.dir", flags.Lookup("out"))
	mustBind(rt.v, "export.formats", flags.Lookup("formats"))
	mustBind(rt.v, "crawler.workers", flags.Lookup("workers"))
	return cmd
}

func runCrawl(cmd *cobra.Command, rt *runtime, seed string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, rt.cfg, rt.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		if cerr := a.Close(context.Background()); cerr != nil {
			rt.logger.Warn("failed to close services", zap.Error(cerr))
		}
	}()

	out, err := a.Pipeline().Run(ctx, seed)
	if out.Crawl.ID != "" {
		printSummary(cmd.OutOrStdout(), out)
	}
	if err != nil {
		return fmt.Errorf("crawl %s: %w", seed, err)
	}
	return nil
}

func printSummary(w io.Writer, out pipeline.Outcome) {
	res := out.Crawl
	_, _ = fmt.Fprintf(w, "Crawl %s %s (%s)\n", res.ID, res.Status, res.Finished.Sub(res.Started).Round(time.Millisecond))
	_, _ = fmt.Fprintf(w, "Seed: %s\n", res.Seed)
	_, _ = fmt.Fprintf(w, "URLs collected: %d (processed %d, succeeded %d, skipped %d, failed %d)\n",
		len(res.URLs), res.Stats.Processed, res.Stats.Succeeded, res.Stats.Skipped, res.Stats.Failed)

	if len(out.Persisted) > 0 {
		_, _ = fmt.Fprintln(w, "Persisted:")
		for _, c := range category.All {
			if n, ok := out.Persisted[c]; ok {
				_, _ = fmt.Fprintf(w, "  %-14s %d\n", c, n)
			}
		}
	}
	if len(out.Exports) > 0 || out.ReportURI != "" {
		_, _ = fmt.Fprintln(w, "Exports:")
		for _, f := range export.AllFormats {
			if uri, ok := out.Exports[f]; ok {
				_, _ = fmt.Fprintf(w, "  %s\n", uri)
			}
		}
		if out.ReportURI != "" {
			_, _ = fmt.Fprintf(w, "  %s\n", out.ReportURI)
		}
	}
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprint(w, out.Summary.String())
}
