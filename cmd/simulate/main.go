// Package main is the command line entry point for the fund simulator. It
// runs a single deterministic path or a Monte Carlo batch over a fund
// configuration, prints the resulting KPI report, and optionally persists
// results to a SQLite store.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/aristath/fundsim/internal/config"
	"github.com/aristath/fundsim/internal/domain"
	"github.com/aristath/fundsim/internal/events"
	"github.com/aristath/fundsim/internal/montecarlo"
	"github.com/aristath/fundsim/internal/pipeline"
	"github.com/aristath/fundsim/internal/storage"
	"github.com/aristath/fundsim/internal/tlsdata"
	"github.com/aristath/fundsim/pkg/logger"
)

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func main() {
	// .env is optional; flags and defaults cover everything it sets.
	_ = godotenv.Load()

	var (
		preset     = flag.String("preset", "smoke", "built-in configuration preset (smoke, 100m)")
		configPath = flag.String("config", "", "JSON configuration file (overrides -preset)")
		paths      = flag.Int("paths", 0, "Monte Carlo path count (0 = single run)")
		workers    = flag.Int("workers", 0, "worker goroutines for Monte Carlo (0 = auto)")
		seed       = flag.Uint64("seed", 0, "override the configured root seed (0 = keep)")
		dbPath     = flag.String("db", getEnv("FUNDSIM_DB", ""), "SQLite results database (empty = no persistence)")
		frontier   = flag.Bool("frontier", false, "search the zone allocation frontier instead of running")
		watchdog   = flag.Duration("watchdog", 0, "per-path wall clock budget (0 = none)")
		level      = flag.String("level", getEnv("FUNDSIM_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
		pretty     = flag.Bool("pretty", true, "human-readable console logging")
	)
	flag.Parse()

	log := logger.New(logger.Config{Level: *level, Pretty: *pretty})
	logger.SetGlobalLogger(log)

	cfg, err := loadConfig(*preset, *configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *seed != 0 {
		cfg.Seed = *seed
	}

	cat := tlsdata.Synthetic(cfg.Seed, tlsdata.DefaultSyntheticOptions())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store *storage.Store
	if *dbPath != "" {
		store, err = storage.Open(storage.Config{Path: *dbPath}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open results database")
		}
		defer store.Close()
	}

	sink := events.Sink(events.NewLoggerSink(log))

	switch {
	case *frontier:
		err = runFrontier(ctx, log, cfg, cat, sink, *workers)
	case *paths > 0:
		err = runMonteCarlo(ctx, log, cfg, cat, sink, store, montecarlo.Options{
			Paths:           *paths,
			Workers:         *workers,
			WatchdogTimeout: *watchdog,
		})
	default:
		err = runSingle(ctx, log, cfg, cat, sink, store, *watchdog)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Simulation failed")
	}
}

func loadConfig(preset, path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	switch preset {
	case "smoke":
		return config.SmokePreset(), nil
	case "100m":
		return config.Preset100M(), nil
	default:
		return nil, fmt.Errorf("unknown preset %q (want smoke or 100m)", preset)
	}
}

func runSingle(ctx context.Context, log zerolog.Logger, cfg *config.Config, cat *tlsdata.Catalogue, sink events.Sink, store *storage.Store, watchdog time.Duration) error {
	runner := pipeline.NewRunner(log, pipeline.Options{WatchdogTimeout: watchdog})
	res := runner.Run(ctx, cfg, cat, sink)

	if store != nil {
		if err := store.SaveResult(ctx, res); err != nil {
			log.Error().Err(err).Msg("Failed to persist run")
		}
	}
	if !res.Succeeded() {
		return fmt.Errorf("run %s %s: %w", res.Context.RunID, res.Status, res.Err)
	}

	printReport(res.Context.Report)
	return nil
}

func runMonteCarlo(ctx context.Context, log zerolog.Logger, cfg *config.Config, cat *tlsdata.Catalogue, sink events.Sink, store *storage.Store, opts montecarlo.Options) error {
	driver := montecarlo.NewDriver(log, opts.WatchdogTimeout)
	res, err := driver.Run(ctx, cfg, cat, sink, opts)
	if err != nil {
		return err
	}
	if store != nil {
		log.Info().Str("run_id", res.RunID).Msg("Monte Carlo summaries are printed only; per-path persistence uses single runs")
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "run\t%s\n", res.RunID)
	fmt.Fprintf(w, "paths\t%d of %d completed\n", len(res.Paths), res.Requested)
	if res.Cancelled {
		fmt.Fprintln(w, "status\tcancelled (partial results)")
	}
	printDistribution(w, "IRR", res.IRR, true)
	printDistribution(w, "TVPI", res.TVPI, false)
	printDistribution(w, "Equity multiple", res.EquityMultiple, false)
	if res.VaR != nil && res.CVaR != nil {
		fmt.Fprintf(w, "IRR VaR %.0f%%\t%.1f%%\n", cfg.Risk.VaRConfidence*100, *res.VaR*100)
		fmt.Fprintf(w, "IRR CVaR %.0f%%\t%.1f%%\n", cfg.Risk.VaRConfidence*100, *res.CVaR*100)
	}
	fmt.Fprintf(w, "P(IRR >= hurdle)\t%.1f%%\n", res.HurdleClearProbability*100)
	fmt.Fprintf(w, "Guardrail fail rate\t%.1f%%\n", res.GuardrailFailRate*100)
	return w.Flush()
}

func runFrontier(ctx context.Context, log zerolog.Logger, cfg *config.Config, cat *tlsdata.Catalogue, sink events.Sink, workers int) error {
	driver := montecarlo.NewDriver(log, 0)
	points, err := driver.Frontier(ctx, cfg, cat, sink, montecarlo.FrontierOptions{
		Step:          0.1,
		PathsPerPoint: 16,
		Workers:       workers,
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "green\torange\tred\tmean IRR\tIRR vol\tefficient")
	for _, p := range points {
		mark := ""
		if p.Efficient {
			mark = "*"
		}
		fmt.Fprintf(w, "%.0f%%\t%.0f%%\t%.0f%%\t%.2f%%\t%.2f%%\t%s\n",
			p.Allocations[domain.ZoneGreen]*100,
			p.Allocations[domain.ZoneOrange]*100,
			p.Allocations[domain.ZoneRed]*100,
			p.MeanIRR*100, p.IRRVol*100, mark)
	}
	return w.Flush()
}

func printDistribution(w *tabwriter.Writer, label string, d montecarlo.Distribution, percent bool) {
	f := func(v float64) string {
		if percent {
			return fmt.Sprintf("%.2f%%", v*100)
		}
		return fmt.Sprintf("%.2fx", v)
	}
	fmt.Fprintf(w, "%s\tmean %s\tmedian %s\tp5 %s\tp95 %s\t(n=%d)\n",
		label, f(d.Mean), f(d.Median), f(d.P5), f(d.P95), d.N)
}

func printReport(r *domain.PerformanceReport) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)

	fmt.Fprintln(w, "FUND KPIs")
	for _, row := range r.KPIs {
		fmt.Fprintf(w, "  %s\t%s\n", row.Label, formatKPI(row))
	}

	fmt.Fprintln(w, "\nALLOCATION")
	fmt.Fprintln(w, "  zone\ttarget\tactual\tdeployed\tloans")
	for _, a := range r.Allocations {
		fmt.Fprintf(w, "  %s\t%.0f%%\t%.1f%%\t$%.0f\t%d\n",
			a.Zone, a.Target*100, a.Actual*100, a.Dollars, a.NumLoans)
	}

	fmt.Fprintln(w, "\nRISK")
	for _, row := range r.RiskTable {
		fmt.Fprintf(w, "  %s\t%s\n", row.Label, formatKPI(row))
	}

	fmt.Fprintln(w, "\nTRANCHES")
	fmt.Fprintln(w, "  cohort\tloans\tprincipal\tproceeds\tgross multiple\tdefaulted")
	for _, tr := range r.Tranches {
		fmt.Fprintf(w, "  %s\t%d\t$%.0f\t$%.0f\t%.2fx\t%.1f%%\n",
			tr.Cohort, tr.NumLoans, tr.Principal, tr.FundProceeds,
			tr.GrossMultiple, tr.DefaultedShare*100)
	}

	w.Flush()
}

func formatKPI(row domain.KPIRow) string {
	if row.Value == nil {
		return "n/a"
	}
	v := *row.Value
	switch row.Format {
	case "currency":
		return fmt.Sprintf("$%.0f", v)
	case "percent":
		return fmt.Sprintf("%.2f%%", v*100)
	case "count":
		return fmt.Sprintf("%.0f", v)
	default:
		return fmt.Sprintf("%.2fx", v)
	}
}
