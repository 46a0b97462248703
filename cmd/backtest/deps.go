package main

import (
	"context"
	"fmt"

	"github.com/yourusername/clever-backtest/internal/backtest"
	"github.com/yourusername/clever-backtest/internal/config"
	"github.com/yourusername/clever-backtest/internal/database"
	"github.com/yourusername/clever-backtest/internal/health"
	"github.com/yourusername/clever-backtest/internal/metrics"
	"github.com/yourusername/clever-backtest/internal/repository"
	"github.com/yourusername/clever-backtest/internal/series"
)

// dependencies holds the storage wired from config. store is nil when
// results are not persisted.
type dependencies struct {
	db      *database.DB
	repos   *repository.Repositories
	source  series.Source
	cache   *series.CachedSource
	store   repository.ResultStore
	closers []func()
}

func openDependencies(ctx context.Context, cfg *config.Config) (*dependencies, error) {
	deps := &dependencies{}

	if cfg.UsesPostgres() {
		db, err := database.Initialize(ctx, cfg, appLog)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		deps.db = db
		deps.closers = append(deps.closers, db.Close)

		deps.repos, err = repository.NewRepositories(db)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to initialize repositories: %w", err)
		}
	}

	var src series.Source
	switch cfg.Data.Source {
	case "postgres":
		src = deps.repos.PriceBar
	case "parquet":
		src = series.NewParquetSource(cfg.Data.ParquetDir)
	case "csv":
		src = series.NewCSVSource(cfg.Data.CSVDir)
	default:
		deps.Close()
		return nil, fmt.Errorf("unsupported data source %q", cfg.Data.Source)
	}
	deps.source = src
	if ttl := cfg.CacheTTL(); ttl > 0 {
		deps.cache = series.NewCachedSource(src, ttl).OnLookup(metrics.RecordCacheLookup)
		deps.source = deps.cache
	}

	switch cfg.Data.ResultStore {
	case "postgres":
		deps.store = deps.repos.Results
	case "sqlite":
		store, err := repository.OpenSQLiteResultStore(ctx, cfg.Data.SQLitePath)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to open result store: %w", err)
		}
		deps.store = store
		deps.closers = append(deps.closers, func() { _ = store.Close() })
	}
	return deps, nil
}

// sink adapts the optional store to backtest.ResultSink
func (d *dependencies) sink() backtest.ResultSink {
	if d.store == nil {
		return backtest.NopSink{}
	}
	return d.store
}

// checks returns readiness probes for the wired storage
func (d *dependencies) checks() map[string]health.Checker {
	checks := map[string]health.Checker{}
	if d.db != nil {
		checks["database"] = d.db
	}
	if d.store != nil {
		store := d.store
		checks["result_store"] = health.CheckerFunc(func(ctx context.Context) error {
			_, err := store.GetLatest(ctx, 1)
			return err
		})
	}
	return checks
}

func (d *dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}
