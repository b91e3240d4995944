// Command chemharvest retrieves compound property data from one of the
// supported sources and exports the result table.
//
// Usage:
//
//	chemharvest -source molsoft -input smiles.txt
//	chemharvest -source protox -auto-resume CCO "CC(=O)OC1=CC=CC=C1C(=O)O"
//	chemharvest -source knapsack -search-type all -keyword "Ginkgo Biloba"
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/chemharvest/chemharvest/pkg/cache"
	"github.com/chemharvest/chemharvest/pkg/config"
	"github.com/chemharvest/chemharvest/pkg/engine"
	"github.com/chemharvest/chemharvest/pkg/export"
	"github.com/chemharvest/chemharvest/pkg/logging"
	"github.com/chemharvest/chemharvest/pkg/metrics"
	"github.com/chemharvest/chemharvest/pkg/scrape/admetlab"
	"github.com/chemharvest/chemharvest/pkg/scrape/knapsack"
	"github.com/chemharvest/chemharvest/pkg/scrape/molsoft"
	"github.com/chemharvest/chemharvest/pkg/scrape/protox"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "chemharvest:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := flag.NewFlagSet("chemharvest", flag.ContinueOnError)
	var (
		source      = flags.String("source", "", "data source: molsoft, protox, admetlab or knapsack")
		configPath  = flags.String("config", "", "path to YAML config (default $CHEMHARVEST_CONFIG)")
		inputPath   = flags.String("input", "", "file with one SMILES per line; positional args otherwise")
		searchType  = flags.String("search-type", "all", "knapsack search type: all, name, formula, mass or cid")
		keyword     = flags.String("keyword", "", "knapsack search keyword")
		csvPath     = flags.String("csv", "", "CSV output path (overrides config)")
		autoResume  = flags.Bool("auto-resume", false, "wait out server rate limits instead of failing jobs")
		metricsAddr = flags.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
		pretty      = flags.Bool("pretty", false, "human-readable log output")
	)
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *csvPath != "" {
		cfg.Export.CSVPath = *csvPath
	}
	if *autoResume {
		cfg.Engine.AutoResume = true
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Pretty: *pretty || cfg.Logging.Pretty,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logger.Warn().Err(err).Msg("Metrics server stopped")
			}
		}()
		logger.Info().Str("addr", *metricsAddr).Msg("Serving metrics")
	}

	var table engine.Table
	var summary engine.Summary

	switch *source {
	case "molsoft", "protox", "admetlab":
		smiles, err := readIdentifiers(*inputPath, flags.Args())
		if err != nil {
			return err
		}
		table, summary, err = runSMILESSource(ctx, *source, cfg, logger, smiles)
		if err != nil {
			return err
		}
	case "knapsack":
		if *keyword == "" {
			return fmt.Errorf("knapsack requires -keyword")
		}
		table, summary, err = runKnapsack(ctx, cfg, logger, *searchType, *keyword)
		if err != nil {
			return err
		}
	case "":
		return fmt.Errorf("-source is required")
	default:
		return fmt.Errorf("unknown source %q", *source)
	}

	logger.Info().
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("total", summary.Total).
		Int("rows", len(table.Rows)).
		Msg("Harvest finished")

	for _, failure := range summary.Failures {
		logger.Warn().
			Str("error", failure.Message).
			Interface("identifiers", failure.Batch).
			Msg("Job failed")
	}

	return exportResults(*source, cfg, logger, table, summary)
}

func runSMILESSource(ctx context.Context, source string, cfg config.Config, logger zerolog.Logger, smiles []string) (engine.Table, engine.Summary, error) {
	progress := logProgress(logger)

	switch source {
	case "molsoft":
		s := molsoft.New(
			molsoft.WithConfig(cfg.EngineConfig()),
			molsoft.WithLogger(logger),
			molsoft.WithProgress(progress),
		)
		return s.Run(ctx, smiles...)
	case "protox":
		s := protox.New(
			protox.WithConfig(cfg.EngineConfig()),
			protox.WithLogger(logger),
			protox.WithProgress(progress),
		)
		return s.Run(ctx, smiles...)
	default:
		s := admetlab.New(
			admetlab.WithConfig(engineConfigForBatches(cfg)),
			admetlab.WithLogger(logger),
			admetlab.WithProgress(progress),
		)
		return s.Run(ctx, smiles...)
	}
}

func runKnapsack(ctx context.Context, cfg config.Config, logger zerolog.Logger, searchType, keyword string) (engine.Table, engine.Summary, error) {
	opts := []knapsack.Option{
		knapsack.WithConfig(cfg.EngineConfig()),
		knapsack.WithLogger(logger),
		knapsack.WithProgress(logProgress(logger)),
	}

	if cfg.Cache.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Cache.Addr})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Str("addr", cfg.Cache.Addr).Msg("Redis unreachable, cache disabled")
		} else {
			store, err := cache.NewStore(client, cfg.CacheTTL())
			if err != nil {
				return engine.Table{}, engine.Summary{}, err
			}
			opts = append(opts, knapsack.WithDocumentCache(store))
		}
	}

	return knapsack.New(opts...).Search(ctx, searchType, keyword)
}

// engineConfigForBatches keeps a configured per-identifier batch size from
// crippling the batch-capable source.
func engineConfigForBatches(cfg config.Config) engine.Config {
	ec := cfg.EngineConfig()
	if ec.MaxBatchSize <= 1 {
		ec.MaxBatchSize = admetlab.DefaultBatchSize
	}
	return ec
}

func logProgress(logger zerolog.Logger) engine.ProgressFunc {
	return func(completed, total int) {
		logger.Info().
			Int("completed", completed).
			Int("total", total).
			Msg("Progress")
	}
}

func readIdentifiers(path string, args []string) ([]string, error) {
	if path == "" {
		if len(args) == 0 {
			return nil, fmt.Errorf("no identifiers given: pass SMILES as arguments or via -input")
		}
		return args, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input %s: %w", path, err)
	}

	var smiles []string
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") {
			smiles = append(smiles, line)
		}
	}
	if len(smiles) == 0 {
		return nil, fmt.Errorf("input %s contains no identifiers", path)
	}
	return smiles, nil
}

func exportResults(source string, cfg config.Config, logger zerolog.Logger, table engine.Table, summary engine.Summary) error {
	if cfg.Export.CSVPath != "" {
		if err := export.SaveCSV(cfg.Export.CSVPath, table); err != nil {
			return err
		}
		logger.Info().Str("path", cfg.Export.CSVPath).Msg("Wrote CSV")
	}

	if cfg.Export.SQLitePath != "" {
		store, err := export.Open(cfg.Export.SQLitePath)
		if err != nil {
			return err
		}
		defer store.Close()

		runID := uuid.NewString()
		if err := store.SaveRun(runID, source, table, summary); err != nil {
			return err
		}
		logger.Info().
			Str("path", cfg.Export.SQLitePath).
			Str("run_id", runID).
			Msg("Saved run")
	}

	return nil
}
