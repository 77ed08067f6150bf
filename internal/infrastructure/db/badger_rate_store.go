package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/damon-houk/fx-rate-pipeline/internal/domain/entity"
	"github.com/damon-houk/fx-rate-pipeline/internal/domain/repository"
	"github.com/damon-houk/fx-rate-pipeline/internal/infrastructure/logger"
	"github.com/dgraph-io/badger/v3"
)

const (
	ratePrefix       = "rate:"
	schemaVersionKey = "meta:schema_version"
	schemaVersion    = "1"
)

// BadgerRateStore implements the RateStore interface using BadgerDB.
// Records are stored as JSON under "rate:<observed date>:<target currency>".
type BadgerRateStore struct {
	db     *badger.DB
	logger logger.Logger
	mu     sync.Mutex
}

// NewBadgerRateStore creates a new BadgerDB rate store and ensures its schema
func NewBadgerRateStore(ctx context.Context, db *badger.DB, log logger.Logger) (*BadgerRateStore, error) {
	if log == nil {
		log = logger.GetDefaultLogger()
	}

	store := &BadgerRateStore{
		db:     db,
		logger: log.WithField("component", "badger_rate_store"),
	}
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// OpenBadger opens (creating if needed) a BadgerDB directory
func OpenBadger(path string, inMemory bool) (*badger.DB, error) {
	opts := badger.DefaultOptions(path)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil // Disable Badger's default logger

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// EnsureSchema records the schema version if absent. Running it again is a no-op.
func (s *BadgerRateStore) EnsureSchema(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	created := false
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(schemaVersionKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			created = true
			return txn.Set([]byte(schemaVersionKey), []byte(schemaVersion))
		}
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			if string(val) != schemaVersion {
				return fmt.Errorf("unsupported schema version %q", val)
			}
			return nil
		})
	})
	if err != nil {
		return &entity.StoreError{Op: "ensure schema", Err: err}
	}

	if created {
		s.logger.Info("Rate store schema created", map[string]interface{}{
			"schema_version": schemaVersion,
		})
	}
	return nil
}

// Upsert stores every record whose key is not yet present in a single transaction.
// Existing keys, including repeats inside the batch, are skipped.
func (s *BadgerRateStore) Upsert(ctx context.Context, records []entity.RateRecord) (repository.StoreResult, error) {
	var result repository.StoreResult
	if err := ctx.Err(); err != nil {
		return result, &entity.StoreError{Op: "upsert", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		result = repository.StoreResult{}

		for i := range records {
			rec := &records[i]
			if err := rec.Validate(); err != nil {
				return err
			}

			key := []byte(ratePrefix + rec.Key())

			// Reads inside an update transaction also see its pending writes
			_, err := txn.Get(key)
			if err == nil {
				result.Skipped++
				continue
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}

			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("failed to marshal rate record: %w", err)
			}
			if err := txn.Set(key, data); err != nil {
				return err
			}
			result.Inserted++
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to upsert rate records", map[string]interface{}{
			"records": len(records),
			"error":   err.Error(),
		})
		return repository.StoreResult{}, &entity.StoreError{Op: "upsert", Err: err}
	}

	s.logger.Info("Rate records upserted", map[string]interface{}{
		"inserted": result.Inserted,
		"skipped":  result.Skipped,
	})
	return result, nil
}

// QueryAll returns every record ordered by observed date descending, then target currency
func (s *BadgerRateStore) QueryAll(ctx context.Context) ([]entity.RateRecord, error) {
	records := []entity.RateRecord{}

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(ratePrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			var rec entity.RateRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("failed to decode %s: %w", it.Item().Key(), err)
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, &entity.StoreError{Op: "query", Err: err}
	}

	SortNewestFirst(records)
	return records, nil
}

// SortNewestFirst orders records by observed date descending, then target currency ascending
func SortNewestFirst(records []entity.RateRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].ObservedDate != records[j].ObservedDate {
			return records[i].ObservedDate > records[j].ObservedDate
		}
		return records[i].TargetCurrency < records[j].TargetCurrency
	})
}
