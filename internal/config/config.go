// Package config provides configuration management for the backtest service.
package config

import (
	"fmt"
	"time"
)

// Config represents the complete application configuration
type Config struct {
	App      AppConfig      `mapstructure:"app" validate:"required"`
	Database DatabaseConfig `mapstructure:"database"`
	Backtest BacktestConfig `mapstructure:"backtest" validate:"required"`
	Data     DataConfig     `mapstructure:"data" validate:"required"`
	API      APIConfig      `mapstructure:"api" validate:"required"`
	Metrics  MetricsConfig  `mapstructure:"metrics" validate:"required"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
}

// AppConfig represents application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	Environment string `mapstructure:"environment" validate:"required,environment"`
	LogLevel    string `mapstructure:"log_level" validate:"required,loglevel"`
}

// DatabaseConfig represents database connection configuration. It is only
// required when the data source or result store is postgres.
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port" validate:"omitempty,min=1,max=65535"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode" validate:"omitempty,oneof=disable require verify-full"`
	MaxConnections     int    `mapstructure:"max_connections" validate:"gte=0"`
	MaxIdleConnections int    `mapstructure:"max_idle_connections" validate:"gte=0"`
}

// BacktestConfig holds the defaults applied to every submitted run
type BacktestConfig struct {
	StartDate            string  `mapstructure:"start_date" validate:"omitempty,datetime"`
	EndDate              string  `mapstructure:"end_date" validate:"omitempty,datetime"`
	InitialCapital       float64 `mapstructure:"initial_capital" validate:"required,gt=0"`
	CommissionRate       float64 `mapstructure:"commission_rate" validate:"gte=0,lte=0.1"`
	FixedFee             float64 `mapstructure:"fixed_fee" validate:"gte=0"`
	SlippageBps          float64 `mapstructure:"slippage_bps" validate:"gte=0,lt=10000"`
	MaxParticipationRate float64 `mapstructure:"max_participation_rate" validate:"gte=0,lte=1"`
	PartialFills         bool    `mapstructure:"partial_fills"`
	AllowMargin          bool    `mapstructure:"allow_margin"`
	AllowShort           bool    `mapstructure:"allow_short"`
	FundsPolicy          string  `mapstructure:"funds_policy" validate:"omitempty,oneof=reject truncate"`
	PersistLimitOneBar   bool    `mapstructure:"persist_limit_one_bar"`
	RiskFreeRate         float64 `mapstructure:"risk_free_rate" validate:"gte=0,lte=1"`
	MonteCarloIterations int     `mapstructure:"monte_carlo_iterations" validate:"gte=0"`
	OutputPath           string  `mapstructure:"output_path"`
}

// DataConfig selects where price bars come from
type DataConfig struct {
	Source          string `mapstructure:"source" validate:"required,datasource"`
	ParquetDir      string `mapstructure:"parquet_dir"`
	CSVDir          string `mapstructure:"csv_dir"`
	CacheTTLSeconds int    `mapstructure:"cache_ttl_seconds" validate:"gte=0"`
	// ResultStore is where finished runs are persisted
	ResultStore string `mapstructure:"result_store" validate:"omitempty,oneof=none postgres sqlite"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	DownloadURL string `mapstructure:"download_url"`
}

// APIConfig represents the HTTP run service
type APIConfig struct {
	Address            string  `mapstructure:"address" validate:"required"`
	Workers            int     `mapstructure:"workers" validate:"required,gt=0,lte=64"`
	SubmitRatePerSec   float64 `mapstructure:"submit_rate_per_sec" validate:"gte=0"`
	SubmitBurst        int     `mapstructure:"submit_burst" validate:"gte=0"`
	ShutdownTimeoutSec int     `mapstructure:"shutdown_timeout_sec" validate:"gte=0"`
}

// MetricsConfig represents metrics and monitoring configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port" validate:"required,min=1,max=65535"`
	Path    string `mapstructure:"path" validate:"required"`
}

// ScheduleConfig lists recurring backtests
type ScheduleConfig struct {
	Jobs []ScheduledJob `mapstructure:"jobs" validate:"dive"`
}

// ScheduledJob submits one backtest on a cron schedule. The run covers the
// LookbackDays calendar days ending on the trigger date.
type ScheduledJob struct {
	Name         string                 `mapstructure:"name" validate:"required"`
	Cron         string                 `mapstructure:"cron" validate:"required"`
	StrategyID   string                 `mapstructure:"strategy" validate:"required"`
	Securities   []string               `mapstructure:"securities" validate:"required,min=1"`
	LookbackDays int                    `mapstructure:"lookback_days" validate:"required,gt=0"`
	Parameters   map[string]interface{} `mapstructure:"parameters"`
}

// IsDevelopment checks if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsStaging checks if the application is running in staging mode
func (c *Config) IsStaging() bool {
	return c.App.Environment == "staging"
}

// IsProduction checks if the application is running in production mode
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// UsesPostgres reports whether any configured component needs the database
func (c *Config) UsesPostgres() bool {
	return c.Data.Source == "postgres" || c.Data.ResultStore == "postgres"
}

// CacheTTL returns the series cache lifetime
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Data.CacheTTLSeconds) * time.Second
}

// GetDatabaseDSN returns a PostgreSQL DSN string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}
