package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yourusername/clever-backtest/internal/database"
	"github.com/yourusername/clever-backtest/internal/models"
	"github.com/yourusername/clever-backtest/internal/repository"
	"github.com/yourusername/clever-backtest/internal/series"
	"github.com/yourusername/clever-backtest/internal/service"
)

type importOptions struct {
	file      string
	url       string
	to        string
	rate      float64
	batchSize int
}

func newImportCmd() *cobra.Command {
	opts := &importOptions{}
	cmd := &cobra.Command{
		Use:   "import SECURITY [SECURITY...]",
		Short: "Import daily bars from CSV into Parquet files or PostgreSQL",
		Long: `Reads date,open,high,low,close,volume[,adjustment] CSV either from a
local file (one security) or from a URL template where {symbol} is replaced
by each security id, validates the bars and writes them to the chosen store.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return importBars(cmd.Context(), opts, args)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.file, "file", "", "Local CSV file")
	f.StringVar(&opts.url, "url", "", "CSV URL template, defaults to data.download_url")
	f.StringVar(&opts.to, "to", "", "Destination: parquet or postgres, defaults to data.source")
	f.Float64Var(&opts.rate, "rate", 2, "Maximum downloads per second, 0 for unlimited")
	f.IntVar(&opts.batchSize, "batch-size", 5000, "Bars written per batch")
	return cmd
}

func importBars(ctx context.Context, o *importOptions, securities []string) error {
	fetcher, err := o.fetcher(len(securities))
	if err != nil {
		return err
	}

	writer, closeFn, err := openBarWriter(ctx, o.destination())
	if err != nil {
		return err
	}
	defer closeFn()

	svc := service.NewIngestionService(fetcher, writer, service.NewDataValidator(appLog), appLog, o.rate, o.batchSize)
	metrics, err := svc.Ingest(ctx, securities)
	if err != nil {
		return fmt.Errorf("import finished with errors (%s): %w", metrics, err)
	}
	return nil
}

func (o *importOptions) fetcher(securities int) (service.BarFetcher, error) {
	if o.file != "" {
		if securities != 1 {
			return nil, fmt.Errorf("--file imports exactly one security")
		}
		return service.FileFetcher{Path: o.file}, nil
	}
	template := o.url
	if template == "" {
		template = cfg.Data.DownloadURL
	}
	if template == "" {
		return nil, fmt.Errorf("either --file, --url or data.download_url is required")
	}
	return service.URLFetcher{Template: template, Config: series.DefaultFetchConfig()}, nil
}

func (o *importOptions) destination() string {
	if o.to != "" {
		return o.to
	}
	return cfg.Data.Source
}

func openBarWriter(ctx context.Context, destination string) (service.BarWriter, func(), error) {
	switch destination {
	case "parquet":
		store := series.NewParquetSource(cfg.Data.ParquetDir)
		return service.BarWriterFunc(func(_ context.Context, _ string, bars []models.PriceBar) error {
			return store.Write(bars)
		}), func() {}, nil
	case "postgres":
		db, err := database.Initialize(ctx, cfg, appLog)
		if err != nil {
			return nil, nil, err
		}
		repos, err := repository.NewRepositories(db)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return service.BarWriterFunc(func(ctx context.Context, security string, bars []models.PriceBar) error {
			// existing reference rows keep their tradable flag
			if _, err := repos.Security.GetByID(ctx, security); errors.Is(err, models.ErrNotFound) {
				if err := repos.Security.Upsert(ctx, models.Security{ID: security, Tradable: true}); err != nil {
					return err
				}
			} else if err != nil {
				return err
			}
			_, err := repos.PriceBar.InsertBatch(ctx, bars)
			return err
		}), db.Close, nil
	default:
		return nil, nil, fmt.Errorf("cannot import into %q; use --to parquet or --to postgres", destination)
	}
}
