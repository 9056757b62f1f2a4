// Command snapshot performs one aggregate fetch across the configured
// providers and prints the filtered result as JSON, or writes it as an XLSX
// workbook.
//
// Usage:
//
//	go run ./cmd/snapshot -min-mag 4 -since 6h
//	go run ./cmd/snapshot -anomalies -xlsx anomalies.xlsx
//	go run ./cmd/snapshot -mock
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/couchcryptid/quake-data-etl/internal/aggregator"
	"github.com/couchcryptid/quake-data-etl/internal/config"
	"github.com/couchcryptid/quake-data-etl/internal/domain"
	"github.com/couchcryptid/quake-data-etl/internal/export"
	"github.com/couchcryptid/quake-data-etl/internal/observability"
)

type options struct {
	minMag    float64
	maxMag    float64
	anomalies bool
	since     time.Duration
	sources   string
	xlsxPath  string
	mock      bool
}

// output is the JSON document printed to stdout.
type output struct {
	FetchedAt time.Time         `json:"fetchedAt"`
	Filters   domain.FilterSpec `json:"filters"`
	Stats     domain.Stats      `json:"stats"`
	Events    []domain.Event    `json:"earthquakes"`
}

func main() {
	var opts options
	flag.Float64Var(&opts.minMag, "min-mag", domain.DefaultMinMagnitude, "minimum magnitude (inclusive)")
	flag.Float64Var(&opts.maxMag, "max-mag", domain.DefaultMaxMagnitude, "maximum magnitude (inclusive)")
	flag.BoolVar(&opts.anomalies, "anomalies", false, "only include anomalous events")
	flag.DurationVar(&opts.since, "since", 0, "fetch lookback window (default FETCH_LOOKBACK)")
	flag.StringVar(&opts.sources, "sources", "", "comma-separated source tags to keep, e.g. Kandilli,AFAD")
	flag.StringVar(&opts.xlsxPath, "xlsx", "", "write an XLSX workbook to this path instead of printing JSON")
	flag.BoolVar(&opts.mock, "mock", false, "skip the providers and use the built-in mock dataset")
	flag.Parse()

	if opts.minMag > opts.maxMag {
		fmt.Fprintln(os.Stderr, "-min-mag must not exceed -max-mag")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, opts, os.Stdout, os.Stderr))
}

func run(ctx context.Context, opts options, stdout, stderr io.Writer) int {
	events, err := fetch(ctx, opts, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "FATAL: fetch: %v\n", err)
		return 1
	}

	spec := buildFilters(opts)
	filtered, stats := domain.ApplyFilters(spec, events)
	fmt.Fprintf(stderr, "fetched %d events, %d after filters, %d anomalies\n",
		len(events), stats.Total, stats.AnomalyCount)

	if opts.xlsxPath != "" {
		if err := writeWorkbook(opts.xlsxPath, filtered, stats); err != nil {
			fmt.Fprintf(stderr, "FATAL: %v\n", err)
			return 1
		}
		fmt.Fprintf(stderr, "wrote %s\n", opts.xlsxPath)
		return 0
	}

	if filtered == nil {
		filtered = []domain.Event{}
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(output{
		FetchedAt: domain.Now().UTC(),
		Filters:   spec,
		Stats:     stats,
		Events:    filtered,
	}); err != nil {
		fmt.Fprintf(stderr, "FATAL: encode: %v\n", err)
		return 1
	}
	return 0
}

func fetch(ctx context.Context, opts options, stderr io.Writer) ([]domain.Event, error) {
	if opts.mock {
		return domain.MockEvents(), nil
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	// Progress goes to stderr so stdout stays valid JSON.
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: observability.ParseLevel(cfg.LogLevel)}))

	lookback := cfg.FetchLookback
	if opts.since > 0 {
		lookback = opts.since
	}

	agg := aggregator.New(aggregator.NewProviders(cfg.Providers, logger), aggregator.Options{
		Lookback:       lookback,
		Limit:          cfg.FetchLimit,
		FallbackToMock: cfg.FallbackToMock,
	}, observability.NewMetrics(), logger)
	return agg.FetchAll(ctx)
}

func buildFilters(opts options) domain.FilterSpec {
	spec := domain.DefaultFilters()
	spec.MinMagnitude = opts.minMag
	spec.MaxMagnitude = opts.maxMag
	spec.ShowAnomalies = opts.anomalies
	if opts.sources != "" {
		spec.Sources = nil
		for _, s := range strings.Split(opts.sources, ",") {
			if s = strings.TrimSpace(s); s != "" {
				spec.Sources = append(spec.Sources, domain.Source(s))
			}
		}
	}
	return spec
}

func writeWorkbook(path string, events []domain.Event, stats domain.Stats) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := export.WriteXLSX(f, events, stats); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
