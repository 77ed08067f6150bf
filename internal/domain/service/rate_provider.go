package service

import (
	"context"

	"github.com/damon-houk/fx-rate-pipeline/internal/domain/entity"
)

// RateProvider defines the interface for fetching rate snapshots from the remote provider
type RateProvider interface {
	// FetchLatest retrieves the latest rates relative to base.
	// Errors are *entity.FetchError.
	FetchLatest(ctx context.Context, credential, base string) (*entity.RateSnapshot, error)
}
