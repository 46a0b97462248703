package models

import "strings"

// Security represents a tradable instrument referenced by a backtest
type Security struct {
	ID       string `db:"id" json:"id" validate:"required,max=32"`
	Exchange string `db:"exchange" json:"exchange" validate:"max=32"`
	Tradable bool   `db:"tradable" json:"tradable"`
}

// NormalizeSecurityID upper-cases and trims a security identifier
func NormalizeSecurityID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}
