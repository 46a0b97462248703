package repository

import (
	"fmt"

	"github.com/yourusername/clever-backtest/internal/database"
)

// Repositories holds all repository implementations
type Repositories struct {
	Security SecurityRepository
	PriceBar PriceBarRepository
	Results  ResultStore
}

// NewRepositories creates and returns all repository implementations
func NewRepositories(db *database.DB) (*Repositories, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	securities := NewPostgresSecurityRepository(db)
	return &Repositories{
		Security: securities,
		PriceBar: NewPostgresPriceBarRepository(db, securities),
		Results:  NewPostgresResultStore(db),
	}, nil
}
