package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/damon-houk/fx-rate-pipeline/internal/domain/entity"
	"github.com/damon-houk/fx-rate-pipeline/internal/domain/repository"
	"github.com/damon-houk/fx-rate-pipeline/internal/infrastructure/logger"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	insertRateSQL = `
		INSERT INTO exchange_rates (
			captured_at, observed_date, observed_time, base_currency, target_currency,
			currency_name, exchange_rate, source, provider_update_time
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (observed_date, target_currency) DO NOTHING
	`

	selectRatesSQL = `
		SELECT
			captured_at, observed_date, observed_time, base_currency, target_currency,
			currency_name, exchange_rate, source, provider_update_time
		FROM exchange_rates
		ORDER BY observed_date DESC, target_currency ASC
	`
)

// PostgresRateStore implements the RateStore interface using pgxpool
type PostgresRateStore struct {
	pool        *pgxpool.Pool
	databaseURL string
	logger      logger.Logger
	mu          sync.Mutex
}

// NewPostgresRateStore creates a new PostgreSQL rate store and ensures its schema
func NewPostgresRateStore(ctx context.Context, pool *pgxpool.Pool, databaseURL string, log logger.Logger) (*PostgresRateStore, error) {
	if log == nil {
		log = logger.GetDefaultLogger()
	}

	store := &PostgresRateStore{
		pool:        pool,
		databaseURL: databaseURL,
		logger:      log.WithField("component", "postgres_rate_store"),
	}
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// EnsureSchema applies the embedded migrations; already applied migrations are a no-op
func (s *PostgresRateStore) EnsureSchema(ctx context.Context) error {
	changed, err := MigratePostgres(s.databaseURL)
	if err != nil {
		return &entity.StoreError{Op: "ensure schema", Err: err}
	}

	if changed {
		s.logger.Info("Rate store migrations applied", nil)
	} else {
		s.logger.Debug("No new rate store migrations to apply", nil)
	}
	return nil
}

// Upsert inserts the records in one transaction, skipping keys that already exist
func (s *PostgresRateStore) Upsert(ctx context.Context, records []entity.RateRecord) (repository.StoreResult, error) {
	var result repository.StoreResult

	for i := range records {
		if err := records[i].Validate(); err != nil {
			return result, &entity.StoreError{Op: "upsert", Err: err}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return result, &entity.StoreError{Op: "upsert", Err: fmt.Errorf("failed to begin transaction: %w", err)}
	}
	// Rollback after a successful commit is a no-op
	defer tx.Rollback(ctx)

	for _, rec := range records {
		observedDate, err := time.Parse(entity.DateLayout, rec.ObservedDate)
		if err != nil {
			return repository.StoreResult{}, &entity.StoreError{Op: "upsert", Err: err}
		}

		tag, err := tx.Exec(ctx, insertRateSQL,
			rec.CapturedAt, observedDate, rec.ObservedTime, rec.BaseCurrency, rec.TargetCurrency,
			rec.CurrencyName, rec.ExchangeRate, rec.Source, rec.ProviderUpdateTime,
		)
		if err != nil {
			return repository.StoreResult{}, &entity.StoreError{Op: "upsert", Err: fmt.Errorf("error inserting rate %s: %w", rec.Key(), err)}
		}

		if tag.RowsAffected() == 1 {
			result.Inserted++
		} else {
			result.Skipped++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return repository.StoreResult{}, &entity.StoreError{Op: "upsert", Err: fmt.Errorf("failed to commit: %w", err)}
	}

	s.logger.Info("Rate records upserted", map[string]interface{}{
		"inserted": result.Inserted,
		"skipped":  result.Skipped,
	})
	return result, nil
}

// QueryAll returns every record ordered by observed date descending
func (s *PostgresRateStore) QueryAll(ctx context.Context) ([]entity.RateRecord, error) {
	rows, err := s.pool.Query(ctx, selectRatesSQL)
	if err != nil {
		return nil, &entity.StoreError{Op: "query", Err: err}
	}
	defer rows.Close()

	records := []entity.RateRecord{}
	for rows.Next() {
		var (
			rec          entity.RateRecord
			observedDate time.Time
		)
		if err := rows.Scan(
			&rec.CapturedAt, &observedDate, &rec.ObservedTime, &rec.BaseCurrency, &rec.TargetCurrency,
			&rec.CurrencyName, &rec.ExchangeRate, &rec.Source, &rec.ProviderUpdateTime,
		); err != nil {
			return nil, &entity.StoreError{Op: "query", Err: fmt.Errorf("error scanning rate row: %w", err)}
		}
		rec.ObservedDate = observedDate.Format(entity.DateLayout)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &entity.StoreError{Op: "query", Err: err}
	}

	return records, nil
}
