// Package service internal/application/service/extractor.go
package service

import (
	"time"

	"github.com/damon-houk/fx-rate-pipeline/internal/domain/entity"
	"github.com/damon-houk/fx-rate-pipeline/internal/infrastructure/logger"
	"github.com/damon-houk/fx-rate-pipeline/internal/infrastructure/metrics"
)

// Extractor turns a snapshot into rate records for the allowlisted currencies
type Extractor struct {
	source   string
	location *time.Location
	now      func() time.Time
	logger   logger.Logger
	metrics  *metrics.Metrics
}

// NewExtractor creates a new extractor. Observed dates and times are expressed in loc.
func NewExtractor(source string, loc *time.Location, log logger.Logger, m *metrics.Metrics) *Extractor {
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = logger.GetDefaultLogger()
	}

	return &Extractor{
		source:   source,
		location: loc,
		now:      time.Now,
		logger:   log,
		metrics:  m,
	}
}

// Extract returns one record per allowlisted currency whose rate is present and valid,
// in allowlist order. Every record of one call shares a single capture instant.
func (e *Extractor) Extract(snapshot *entity.RateSnapshot, allowlist entity.Allowlist) []entity.RateRecord {
	if snapshot == nil {
		return []entity.RateRecord{}
	}

	capturedAt := e.now().In(e.location)
	date := capturedAt.Format(entity.DateLayout)
	clock := capturedAt.Format(entity.TimeLayout)

	updateTime := snapshot.ProviderUpdatedAt
	if updateTime == "" {
		updateTime = entity.UnknownUpdateTime
	}

	records := make([]entity.RateRecord, 0, len(allowlist))
	for _, currency := range allowlist {
		rate, present := snapshot.Rate(currency.Code)
		outcome := entity.ValidateRate(rate, present)
		e.metrics.ObserveValidation(outcome.String())

		switch outcome {
		case entity.Missing:
			e.logger.Warn("Rate missing from snapshot", map[string]interface{}{
				"currency": currency.Code,
			})
			continue
		case entity.NonPositive:
			e.logger.Warn("Rate is negative or zero", map[string]interface{}{
				"currency": currency.Code,
				"rate":     formatRate(rate),
			})
			continue
		case entity.OutOfRange:
			e.logger.Warn("Rate is out of range", map[string]interface{}{
				"currency": currency.Code,
				"rate":     formatRate(rate),
				"max_rate": entity.MaxRate,
			})
			continue
		}

		records = append(records, entity.RateRecord{
			CapturedAt:         capturedAt,
			ObservedDate:       date,
			ObservedTime:       clock,
			BaseCurrency:       snapshot.Base,
			TargetCurrency:     currency.Code,
			CurrencyName:       currency.Name,
			ExchangeRate:       rate,
			Source:             e.source,
			ProviderUpdateTime: updateTime,
		})

		e.logger.Debug("Rate extracted", map[string]interface{}{
			"base":     snapshot.Base,
			"currency": currency.Code,
			"rate":     rate,
		})
	}

	return records
}
