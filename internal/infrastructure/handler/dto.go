package handler

import (
	"time"

	"github.com/damon-houk/fx-rate-pipeline/internal/application/service"
	"github.com/damon-houk/fx-rate-pipeline/internal/domain/entity"
	"github.com/shopspring/decimal"
)

// RateResponse represents one stored exchange rate
type RateResponse struct {
	ObservedDate       string          `json:"observed_date"`
	ObservedTime       string          `json:"observed_time"`
	BaseCurrency       string          `json:"base_currency"`
	TargetCurrency     string          `json:"target_currency"`
	CurrencyName       string          `json:"currency_name"`
	ExchangeRate       decimal.Decimal `json:"exchange_rate"`
	Source             string          `json:"source"`
	ProviderUpdateTime string          `json:"provider_update_time"`
}

// RatesResponse wraps a list of rates
type RatesResponse struct {
	Count int            `json:"count"`
	Rates []RateResponse `json:"rates"`
}

// RunResponse represents the outcome of a pipeline run
type RunResponse struct {
	RunID       string    `json:"run_id"`
	State       string    `json:"state"`
	FailedStage string    `json:"failed_stage,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Base        string    `json:"base,omitempty"`
	Fetched     int       `json:"fetched"`
	Candidates  int       `json:"candidates"`
	Valid       int       `json:"valid"`
	Inserted    int       `json:"inserted"`
	Skipped     int       `json:"skipped"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error       string `json:"error"`
	Status      int    `json:"status"`
	Description string `json:"description,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
}

// HealthResponse reports liveness and the size of the latest-rate cache
type HealthResponse struct {
	Status       string `json:"status"`
	CachedRates  int    `json:"cached_rates"`
	StoreBackend string `json:"store_backend,omitempty"`
}

func toRateResponse(r entity.RateRecord) RateResponse {
	return RateResponse{
		ObservedDate:       r.ObservedDate,
		ObservedTime:       r.ObservedTime,
		BaseCurrency:       r.BaseCurrency,
		TargetCurrency:     r.TargetCurrency,
		CurrencyName:       r.CurrencyName,
		ExchangeRate:       decimal.NewFromFloat(r.ExchangeRate),
		Source:             r.Source,
		ProviderUpdateTime: r.ProviderUpdateTime,
	}
}

func toRatesResponse(records []entity.RateRecord) RatesResponse {
	rates := make([]RateResponse, 0, len(records))
	for _, r := range records {
		rates = append(rates, toRateResponse(r))
	}
	return RatesResponse{Count: len(rates), Rates: rates}
}

func toRunResponse(r *service.RunResult) RunResponse {
	return RunResponse{
		RunID:       r.RunID,
		State:       string(r.State),
		FailedStage: string(r.FailedStage),
		Reason:      r.Reason,
		Base:        r.Base,
		Fetched:     r.Fetched,
		Candidates:  r.Candidates,
		Valid:       r.Valid,
		Inserted:    r.Inserted,
		Skipped:     r.Skipped,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
	}
}
