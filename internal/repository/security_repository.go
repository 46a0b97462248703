package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/yourusername/clever-backtest/internal/database"
	"github.com/yourusername/clever-backtest/internal/models"
)

// PostgresSecurityRepository implements SecurityRepository for PostgreSQL
type PostgresSecurityRepository struct {
	db *database.DB
}

// NewPostgresSecurityRepository creates a new security repository
func NewPostgresSecurityRepository(db *database.DB) *PostgresSecurityRepository {
	return &PostgresSecurityRepository{db: db}
}

// Upsert inserts or replaces a security
func (r *PostgresSecurityRepository) Upsert(ctx context.Context, security models.Security) error {
	query := `
		INSERT INTO securities (id, exchange, tradable) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET exchange = EXCLUDED.exchange, tradable = EXCLUDED.tradable
	`
	id := models.NormalizeSecurityID(security.ID)
	if _, err := r.db.Exec(ctx, query, id, security.Exchange, security.Tradable); err != nil {
		return fmt.Errorf("failed to upsert security %s: %w", id, err)
	}
	return nil
}

// GetByID retrieves a security, returning models.ErrNotFound when absent
func (r *PostgresSecurityRepository) GetByID(ctx context.Context, id string) (*models.Security, error) {
	id = models.NormalizeSecurityID(id)
	s := &models.Security{}
	err := r.db.QueryRow(ctx, `SELECT id, exchange, tradable FROM securities WHERE id = $1`, id).
		Scan(&s.ID, &s.Exchange, &s.Tradable)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("security %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get security %s: %w", id, err)
	}
	return s, nil
}

// List returns every security ordered by id
func (r *PostgresSecurityRepository) List(ctx context.Context) ([]models.Security, error) {
	rows, err := r.db.Query(ctx, `SELECT id, exchange, tradable FROM securities ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list securities: %w", err)
	}
	defer rows.Close()

	var securities []models.Security
	for rows.Next() {
		var s models.Security
		if err := rows.Scan(&s.ID, &s.Exchange, &s.Tradable); err != nil {
			return nil, fmt.Errorf("failed to scan security: %w", err)
		}
		securities = append(securities, s)
	}
	return securities, rows.Err()
}
