// Package config provides configuration management for the backtest service.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

const dateLayout = "2006-01-02"

// CustomValidator wraps the validator with custom validation rules
type CustomValidator struct {
	validator *validator.Validate
}

// NewValidator creates a new validator with custom validation functions
func NewValidator() *CustomValidator {
	v := validator.New()
	_ = v.RegisterValidation("environment", validateEnvironment)
	_ = v.RegisterValidation("loglevel", validateLogLevel)
	_ = v.RegisterValidation("datasource", validateDataSource)
	_ = v.RegisterValidation("datetime", validateDateTime)
	return &CustomValidator{validator: v}
}

// Validate validates the entire configuration
func Validate(cfg *Config) error {
	return NewValidator().Validate(cfg)
}

// Validate validates the configuration using registered validation rules
func (cv *CustomValidator) Validate(cfg *Config) error {
	if err := cv.validator.Struct(cfg); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			return formatValidationErrors(validationErrors)
		}
		return fmt.Errorf("validation failed: %w", err)
	}
	return validateCrossField(cfg)
}

func validateEnvironment(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "development", "staging", "production":
		return true
	default:
		return false
	}
}

func validateLogLevel(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func validateDataSource(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "postgres", "parquet", "csv":
		return true
	default:
		return false
	}
}

func validateDateTime(fl validator.FieldLevel) bool {
	_, err := time.Parse(dateLayout, fl.Field().String())
	return err == nil
}

// validateCrossField performs cross-field validations
func validateCrossField(cfg *Config) error {
	if cfg.Backtest.StartDate != "" && cfg.Backtest.EndDate != "" {
		start, _ := time.Parse(dateLayout, cfg.Backtest.StartDate)
		end, _ := time.Parse(dateLayout, cfg.Backtest.EndDate)
		if start.After(end) {
			return fmt.Errorf("backtest start_date must not be after end_date")
		}
	}

	if cfg.UsesPostgres() {
		if cfg.Database.Host == "" || cfg.Database.Name == "" || cfg.Database.User == "" {
			return fmt.Errorf("database host, name and user are required for postgres")
		}
		if cfg.Database.MaxIdleConnections > cfg.Database.MaxConnections {
			return fmt.Errorf("max_idle_connections cannot exceed max_connections")
		}
	}
	if cfg.Data.Source == "parquet" && cfg.Data.ParquetDir == "" {
		return fmt.Errorf("data.parquet_dir is required for the parquet source")
	}
	if cfg.Data.Source == "csv" && cfg.Data.CSVDir == "" {
		return fmt.Errorf("data.csv_dir is required for the csv source")
	}
	if cfg.Data.ResultStore == "sqlite" && cfg.Data.SQLitePath == "" {
		return fmt.Errorf("data.sqlite_path is required for the sqlite result store")
	}

	if cfg.IsProduction() && cfg.UsesPostgres() && cfg.Database.SSLMode == "disable" {
		return fmt.Errorf("production environment requires SSL mode to be 'require' or 'verify-full'")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	seen := make(map[string]bool, len(cfg.Schedule.Jobs))
	for _, job := range cfg.Schedule.Jobs {
		if seen[job.Name] {
			return fmt.Errorf("duplicate scheduled job %q", job.Name)
		}
		seen[job.Name] = true
		if _, err := parser.Parse(job.Cron); err != nil {
			return fmt.Errorf("scheduled job %q: invalid cron expression: %w", job.Name, err)
		}
	}
	return nil
}

// formatValidationErrors formats validation errors into a readable string
func formatValidationErrors(validationErrors validator.ValidationErrors) error {
	var b strings.Builder
	for _, fieldError := range validationErrors {
		field := fieldError.Namespace()
		tag := fieldError.Tag()
		value := fieldError.Value()

		switch tag {
		case "required":
			fmt.Fprintf(&b, "- Field '%s' is required\n", field)
		case "min", "max":
			fmt.Fprintf(&b, "- Field '%s' validation failed: %s constraint violated\n", field, tag)
		case "gt", "gte", "lt", "lte":
			fmt.Fprintf(&b, "- Field '%s' validation failed: numeric constraint %s violated\n", field, tag)
		case "environment":
			fmt.Fprintf(&b, "- Field '%s' must be one of: development, staging, production\n", field)
		case "loglevel":
			fmt.Fprintf(&b, "- Field '%s' must be one of: debug, info, warn, error\n", field)
		case "datasource":
			fmt.Fprintf(&b, "- Field '%s' must be one of: postgres, parquet, csv\n", field)
		case "datetime":
			fmt.Fprintf(&b, "- Field '%s' must be a YYYY-MM-DD date, got '%v'\n", field, value)
		case "oneof":
			fmt.Fprintf(&b, "- Field '%s' has invalid value '%v'\n", field, value)
		default:
			fmt.Fprintf(&b, "- Field '%s' failed validation: %s\n", field, tag)
		}
	}
	return fmt.Errorf("configuration validation failed:\n%s", b.String())
}
