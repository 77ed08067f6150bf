// Package repository internal/domain/repository/exchange_rate_repository.go
package repository

import (
	"context"

	"github.com/damon-houk/fx-rate-pipeline/internal/domain/entity"
)

// StoreResult reports the outcome of an upsert
type StoreResult struct {
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
}

// RateStore defines the interface for the historical rate store
type RateStore interface {
	// EnsureSchema creates the backing collection if absent
	EnsureSchema(ctx context.Context) error

	// Upsert inserts records whose (observed date, target currency) key is not yet
	// present and skips the rest. The batch is applied atomically.
	Upsert(ctx context.Context, records []entity.RateRecord) (StoreResult, error)

	// QueryAll returns every stored record, newest observed date first
	QueryAll(ctx context.Context) ([]entity.RateRecord, error)
}
