package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/damon-houk/fx-rate-pipeline/internal/domain/entity"
	"github.com/damon-houk/fx-rate-pipeline/internal/domain/repository"
	"github.com/damon-houk/fx-rate-pipeline/internal/infrastructure/cache"
	"github.com/damon-houk/fx-rate-pipeline/internal/infrastructure/db"
	"github.com/damon-houk/fx-rate-pipeline/internal/infrastructure/logger"
	"github.com/damon-houk/fx-rate-pipeline/internal/infrastructure/metrics"
	"github.com/damon-houk/fx-rate-pipeline/internal/mocks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testConfig = PipelineConfig{
	Credential:   "k1",
	BaseCurrency: "USD",
	Currencies:   entity.Allowlist{{Code: "NGN", Name: "Naira"}, {Code: "EUR", Name: "Euro"}},
	FetchTimeout: time.Second,
}

func testSnapshot() *entity.RateSnapshot {
	return &entity.RateSnapshot{
		Base:              "USD",
		Rates:             map[string]float64{"NGN": 1500.25, "EUR": 0.92, "GBP": 0.79},
		ProviderUpdatedAt: "2025-01-01T00:00:00Z",
		FetchedAt:         time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC),
	}
}

func newTestPipeline(provider *mocks.MockRateProvider, store repository.RateStore) *Pipeline {
	log := logger.NewJSONLogger(nil, logger.ErrorLevel)
	extractor := NewExtractor("exchangerate-api.com", time.UTC, log, nil)
	extractor.now = func() time.Time { return time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC) }
	return NewPipeline(testConfig, provider, extractor, store, log)
}

func TestPipelineRunEndToEnd(t *testing.T) {
	badgerDB, err := db.OpenBadger("", true)
	require.NoError(t, err)
	defer badgerDB.Close()

	ctx := context.Background()
	store, err := db.NewBadgerRateStore(ctx, badgerDB, logger.NewJSONLogger(nil, logger.ErrorLevel))
	require.NoError(t, err)

	provider := new(mocks.MockRateProvider)
	provider.On("FetchLatest", mock.Anything, "k1", "USD").Return(testSnapshot(), nil)

	latest := cache.NewLatestRateCache()
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	pipeline := newTestPipeline(provider, store).WithMetrics(m).WithLatestRates(latest)

	result, err := pipeline.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, StageDone, result.State)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, "USD", result.Base)
	assert.Equal(t, 3, result.Fetched)
	assert.Equal(t, testSnapshot().FetchedAt, result.FetchedAt)
	assert.Equal(t, 2, result.Candidates)
	assert.Equal(t, 2, result.Valid)
	assert.Equal(t, 2, result.Inserted)
	assert.Equal(t, 0, result.Skipped)

	rows, err := store.QueryAll(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	rates := map[string]float64{}
	for _, r := range rows {
		assert.Equal(t, "USD", r.BaseCurrency)
		assert.Equal(t, rows[0].ObservedDate, r.ObservedDate)
		rates[r.TargetCurrency] = r.ExchangeRate
	}
	assert.Equal(t, map[string]float64{"NGN": 1500.25, "EUR": 0.92}, rates)
	assert.Equal(t, 2, latest.Size())

	// A second run on the same day only skips
	result, err = pipeline.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StageDone, result.State)
	assert.Equal(t, 0, result.Inserted)
	assert.Equal(t, 2, result.Skipped)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PipelineRunsTotal.WithLabelValues("done", "")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RecordsInserted))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RecordsSkipped))

	provider.AssertExpectations(t)
}

func TestPipelineLatestRatesFollowStore(t *testing.T) {
	badgerDB, err := db.OpenBadger("", true)
	require.NoError(t, err)
	defer badgerDB.Close()

	ctx := context.Background()
	store, err := db.NewBadgerRateStore(ctx, badgerDB, logger.NewJSONLogger(nil, logger.ErrorLevel))
	require.NoError(t, err)

	// The second fetch of the day disagrees on NGN and lacks EUR entirely
	provider := new(mocks.MockRateProvider)
	provider.On("FetchLatest", mock.Anything, "k1", "USD").Return(testSnapshot(), nil).Once()
	provider.On("FetchLatest", mock.Anything, "k1", "USD").
		Return(&entity.RateSnapshot{Base: "USD", Rates: map[string]float64{"NGN": 9999}}, nil).Once()

	latest := cache.NewLatestRateCache()
	pipeline := newTestPipeline(provider, store).WithLatestRates(latest)

	_, err = pipeline.Run(ctx)
	require.NoError(t, err)

	result, err := pipeline.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Inserted)
	assert.Equal(t, 1, result.Skipped)

	ngn, ok := latest.Get("NGN")
	require.True(t, ok)
	assert.Equal(t, 1500.25, ngn.ExchangeRate)

	eur, ok := latest.Get("EUR")
	require.True(t, ok)
	assert.Equal(t, 0.92, eur.ExchangeRate)

	provider.AssertExpectations(t)
}

func TestPipelineFetchFailure(t *testing.T) {
	provider := new(mocks.MockRateProvider)
	store := new(mocks.MockRateStore)

	fetchErr := &entity.FetchError{Kind: entity.FetchTimeout, Err: context.DeadlineExceeded}
	provider.On("FetchLatest", mock.Anything, "k1", "USD").Return(nil, fetchErr).Once()

	result, err := newTestPipeline(provider, store).Run(context.Background())

	require.Error(t, err)
	assert.Equal(t, StageFailed, result.State)
	assert.Equal(t, StageFetching, result.FailedStage)
	assert.Equal(t, StageFetching, FailedStage(err))
	assert.Contains(t, result.Reason, "timeout")
	assert.True(t, entity.IsFetchErrorKind(err, entity.FetchTimeout))

	// No currency data is processed from a failed fetch
	store.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
	provider.AssertExpectations(t)
}

func TestPipelineFetchDeadline(t *testing.T) {
	provider := new(mocks.MockRateProvider)
	store := new(mocks.MockRateStore)

	provider.On("FetchLatest", mock.Anything, "k1", "USD").
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			deadline, ok := ctx.Deadline()
			assert.True(t, ok)
			assert.WithinDuration(t, time.Now().Add(testConfig.FetchTimeout), deadline, testConfig.FetchTimeout)
		}).
		Return(testSnapshot(), nil).Once()
	store.On("Upsert", mock.Anything, mock.Anything).Return(repository.StoreResult{Inserted: 2}, nil).Once()

	result, err := newTestPipeline(provider, store).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StageDone, result.State)

	provider.AssertExpectations(t)
	store.AssertExpectations(t)
}

func TestPipelineEmptyBatchIsFailure(t *testing.T) {
	provider := new(mocks.MockRateProvider)
	store := new(mocks.MockRateStore)

	// Zero overlap with the allowlist
	provider.On("FetchLatest", mock.Anything, "k1", "USD").
		Return(&entity.RateSnapshot{Base: "USD", Rates: map[string]float64{"JPY": 150}}, nil).Once()

	result, err := newTestPipeline(provider, store).Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, entity.ErrEmptyBatch)
	assert.Equal(t, StageFailed, result.State)
	assert.Equal(t, StageExtracting, result.FailedStage)
	assert.Equal(t, "no valid records", result.Reason)
	assert.Equal(t, 1, result.Fetched)
	assert.Equal(t, 0, result.Valid)

	store.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestPipelineAllInvalidIsFailure(t *testing.T) {
	provider := new(mocks.MockRateProvider)
	store := new(mocks.MockRateStore)

	provider.On("FetchLatest", mock.Anything, "k1", "USD").
		Return(&entity.RateSnapshot{Base: "USD", Rates: map[string]float64{"NGN": 0, "EUR": 90000}}, nil).Once()

	result, err := newTestPipeline(provider, store).Run(context.Background())

	assert.ErrorIs(t, err, entity.ErrEmptyBatch)
	assert.Equal(t, StageExtracting, result.FailedStage)
	store.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestPipelineStoreFailure(t *testing.T) {
	provider := new(mocks.MockRateProvider)
	store := new(mocks.MockRateStore)
	latest := cache.NewLatestRateCache()

	storeErr := &entity.StoreError{Op: "upsert", Err: errors.New("disk full")}
	provider.On("FetchLatest", mock.Anything, "k1", "USD").Return(testSnapshot(), nil).Once()
	store.On("Upsert", mock.Anything, mock.MatchedBy(func(records []entity.RateRecord) bool {
		return len(records) == 2
	})).Return(repository.StoreResult{}, storeErr).Once()

	result, err := newTestPipeline(provider, store).WithLatestRates(latest).Run(context.Background())

	require.Error(t, err)
	assert.Equal(t, StageFailed, result.State)
	assert.Equal(t, StagePersisting, result.FailedStage)
	assert.Contains(t, result.Reason, "disk full")
	assert.Equal(t, 2, result.Valid)
	assert.Equal(t, 0, result.Inserted)

	var se *entity.StoreError
	assert.ErrorAs(t, err, &se)
	assert.Equal(t, 0, latest.Size())

	store.AssertExpectations(t)
}

func TestPipelineDoneWithOnlyDuplicates(t *testing.T) {
	provider := new(mocks.MockRateProvider)
	store := new(mocks.MockRateStore)

	provider.On("FetchLatest", mock.Anything, "k1", "USD").Return(testSnapshot(), nil).Once()
	store.On("Upsert", mock.Anything, mock.Anything).Return(repository.StoreResult{Skipped: 2}, nil).Once()

	result, err := newTestPipeline(provider, store).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, StageDone, result.State)
	assert.Equal(t, 2, result.Skipped)
	assert.Empty(t, result.FailedStage)
}

func TestPipelineErrorMessage(t *testing.T) {
	err := &PipelineError{Stage: StageExtracting, Reason: "no valid records", Err: entity.ErrEmptyBatch}
	assert.Equal(t, "pipeline failed while extracting: no valid records", err.Error())
	assert.Equal(t, Stage(""), FailedStage(errors.New("other")))
}
