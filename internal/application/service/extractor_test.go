package service

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/damon-houk/fx-rate-pipeline/internal/domain/entity"
	"github.com/damon-houk/fx-rate-pipeline/internal/infrastructure/logger"
	"github.com/damon-houk/fx-rate-pipeline/internal/infrastructure/metrics"
	"github.com/damon-houk/fx-rate-pipeline/internal/mocks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var lagos = time.FixedZone("WAT", 60*60)

func newTestExtractor(at time.Time) *Extractor {
	e := NewExtractor("exchangerate-api.com", lagos, logger.NewJSONLogger(nil, logger.ErrorLevel), nil)
	e.now = func() time.Time { return at }
	return e
}

func TestExtractFiltersToAllowlist(t *testing.T) {
	e := newTestExtractor(time.Date(2025, 1, 1, 8, 30, 15, 0, time.UTC))

	snapshot := &entity.RateSnapshot{
		Base:              "USD",
		Rates:             map[string]float64{"NGN": 1500.0},
		ProviderUpdatedAt: "2025-01-01T00:00:00Z",
	}
	allowlist := entity.Allowlist{{Code: "NGN", Name: "Naira"}, {Code: "XXX", Name: "Fake"}}

	records := e.Extract(snapshot, allowlist)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, "NGN", r.TargetCurrency)
	assert.Equal(t, "Naira", r.CurrencyName)
	assert.Equal(t, "USD", r.BaseCurrency)
	assert.Equal(t, 1500.0, r.ExchangeRate)
	assert.Equal(t, "exchangerate-api.com", r.Source)
	assert.Equal(t, "2025-01-01T00:00:00Z", r.ProviderUpdateTime)

	// Date and time are local to the configured location
	assert.Equal(t, "2025-01-01", r.ObservedDate)
	assert.Equal(t, "09:30:15", r.ObservedTime)
}

func TestExtractSharesOneCaptureInstant(t *testing.T) {
	e := newTestExtractor(time.Date(2025, 1, 1, 22, 59, 59, 0, time.UTC))

	calls := 0
	base := e.now
	e.now = func() time.Time {
		calls++
		// Any re-sampling would cross midnight in the configured location
		return base().Add(time.Duration(calls-1) * time.Minute)
	}

	snapshot := &entity.RateSnapshot{Base: "USD", Rates: map[string]float64{"NGN": 1500, "EUR": 0.92, "GBP": 0.79}}
	allowlist := entity.Allowlist{{Code: "NGN", Name: "Naira"}, {Code: "EUR", Name: "Euro"}, {Code: "GBP", Name: "Pound"}}

	records := e.Extract(snapshot, allowlist)
	require.Len(t, records, 3)
	assert.Equal(t, 1, calls)

	for _, r := range records {
		assert.Equal(t, records[0].CapturedAt, r.CapturedAt)
		assert.Equal(t, "2025-01-01", r.ObservedDate)
		assert.Equal(t, "23:59:59", r.ObservedTime)
	}
}

func TestExtractKeepsAllowlistOrder(t *testing.T) {
	e := newTestExtractor(time.Now())

	snapshot := &entity.RateSnapshot{Base: "USD", Rates: map[string]float64{"ZAR": 18.6, "CNY": 7.3, "EUR": 0.92}}
	allowlist := entity.Allowlist{{Code: "ZAR", Name: "Rand"}, {Code: "CNY", Name: "Yuan"}, {Code: "EUR", Name: "Euro"}}

	records := e.Extract(snapshot, allowlist)

	var codes []string
	for _, r := range records {
		codes = append(codes, r.TargetCurrency)
	}
	assert.Equal(t, []string{"ZAR", "CNY", "EUR"}, codes)
}

func TestExtractDropsInvalidRates(t *testing.T) {
	var buf bytes.Buffer
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	e := NewExtractor("exchangerate-api.com", time.UTC, logger.NewJSONLogger(&buf, logger.WarnLevel), m)

	snapshot := &entity.RateSnapshot{
		Base: "USD",
		Rates: map[string]float64{
			"NGN": 1500.25,
			"EUR": 0,
			"GBP": -0.79,
			"ZAR": 50000.01,
			"CNY": math.NaN(),
			"JPY": 50000,
		},
	}
	allowlist := entity.Allowlist{
		{Code: "NGN", Name: "Naira"},
		{Code: "EUR", Name: "Euro"},
		{Code: "GBP", Name: "Pound"},
		{Code: "ZAR", Name: "Rand"},
		{Code: "CNY", Name: "Yuan"},
		{Code: "JPY", Name: "Yen"},
		{Code: "XXX", Name: "Fake"},
	}

	records := e.Extract(snapshot, allowlist)
	require.Len(t, records, 2)
	assert.Equal(t, "NGN", records[0].TargetCurrency)
	assert.Equal(t, "JPY", records[1].TargetCurrency)

	// Each rejection is logged with its own reason
	out := buf.String()
	assert.Contains(t, out, "Rate missing from snapshot")
	assert.Contains(t, out, "Rate is negative or zero")
	assert.Contains(t, out, "Rate is out of range")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ValidationOutcomes.WithLabelValues("valid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ValidationOutcomes.WithLabelValues("missing")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ValidationOutcomes.WithLabelValues("non_positive")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ValidationOutcomes.WithLabelValues("out_of_range")))
}

func TestExtractWarnsPerRejectedCurrency(t *testing.T) {
	log := new(mocks.MockLogger)
	log.On("Debug", "Rate extracted", mock.Anything).Once()
	log.On("Warn", "Rate missing from snapshot", map[string]interface{}{"currency": "XXX"}).Once()
	log.On("Warn", "Rate is negative or zero", map[string]interface{}{"currency": "EUR", "rate": "0"}).Once()
	log.On("Warn", "Rate is out of range", map[string]interface{}{
		"currency": "ZAR",
		"rate":     "+Inf",
		"max_rate": entity.MaxRate,
	}).Once()

	e := NewExtractor("exchangerate-api.com", time.UTC, log, nil)

	snapshot := &entity.RateSnapshot{
		Base:  "USD",
		Rates: map[string]float64{"NGN": 1500.25, "EUR": 0, "ZAR": math.Inf(1)},
	}
	allowlist := entity.Allowlist{
		{Code: "NGN", Name: "Naira"},
		{Code: "EUR", Name: "Euro"},
		{Code: "ZAR", Name: "Rand"},
		{Code: "XXX", Name: "Fake"},
	}

	records := e.Extract(snapshot, allowlist)
	require.Len(t, records, 1)
	log.AssertExpectations(t)
	log.AssertNotCalled(t, "Error", mock.Anything, mock.Anything)
}

func TestExtractEmptyBatches(t *testing.T) {
	e := newTestExtractor(time.Now())
	allowlist := entity.Allowlist{{Code: "NGN", Name: "Naira"}}

	noOverlap := e.Extract(&entity.RateSnapshot{Base: "USD", Rates: map[string]float64{"EUR": 0.92}}, allowlist)
	assert.NotNil(t, noOverlap)
	assert.Empty(t, noOverlap)

	allInvalid := e.Extract(&entity.RateSnapshot{Base: "USD", Rates: map[string]float64{"NGN": -1}}, allowlist)
	assert.Empty(t, allInvalid)

	assert.Empty(t, e.Extract(nil, allowlist))
	assert.Empty(t, e.Extract(&entity.RateSnapshot{Base: "USD", Rates: map[string]float64{"NGN": 1}}, nil))
}

func TestExtractUnknownUpdateTime(t *testing.T) {
	e := newTestExtractor(time.Now())

	records := e.Extract(&entity.RateSnapshot{Base: "EUR", Rates: map[string]float64{"NGN": 1650}},
		entity.Allowlist{{Code: "NGN", Name: "Naira"}})
	require.Len(t, records, 1)
	assert.Equal(t, entity.UnknownUpdateTime, records[0].ProviderUpdateTime)
	assert.Equal(t, "EUR", records[0].BaseCurrency)
}
