package entity

import (
	"fmt"
	"math"
	"time"
)

const (
	// DateLayout is the layout of RateRecord.ObservedDate
	DateLayout = "2006-01-02"
	// TimeLayout is the layout of RateRecord.ObservedTime
	TimeLayout = "15:04:05"
	// UnknownUpdateTime marks a snapshot without a provider update timestamp
	UnknownUpdateTime = "N/A"
)

// RateSnapshot is one provider response: every rate relative to Base at one instant
type RateSnapshot struct {
	Base              string             `json:"base"`
	Rates             map[string]float64 `json:"rates"`
	ProviderUpdatedAt string             `json:"provider_updated_at"`
	FetchedAt         time.Time          `json:"fetched_at"`
}

// Rate returns the rate for code and whether the snapshot carried one
func (s *RateSnapshot) Rate(code string) (float64, bool) {
	if s == nil || s.Rates == nil {
		return 0, false
	}
	rate, ok := s.Rates[code]
	return rate, ok
}

// RateRecord is the unit of persistence, at most one per target currency per day
type RateRecord struct {
	CapturedAt         time.Time `json:"captured_at"`
	ObservedDate       string    `json:"observed_date"`
	ObservedTime       string    `json:"observed_time"`
	BaseCurrency       string    `json:"base_currency"`
	TargetCurrency     string    `json:"target_currency"`
	CurrencyName       string    `json:"currency_name"`
	ExchangeRate       float64   `json:"exchange_rate"`
	Source             string    `json:"source"`
	ProviderUpdateTime string    `json:"provider_update_time"`
}

// Key returns the uniqueness key of the record
func (r *RateRecord) Key() string {
	return r.ObservedDate + ":" + r.TargetCurrency
}

// Validate ensures the record may be persisted
func (r *RateRecord) Validate() error {
	if _, err := time.Parse(DateLayout, r.ObservedDate); err != nil {
		return fmt.Errorf("%w: observed date %q: %v", ErrInvalidRecord, r.ObservedDate, err)
	}

	if len(r.TargetCurrency) != 3 {
		return fmt.Errorf("%w: target currency %q must be 3 characters", ErrInvalidRecord, r.TargetCurrency)
	}

	if outcome := ValidateRate(r.ExchangeRate, true); outcome != Valid {
		return fmt.Errorf("%w: %s rate %v is %s", ErrInvalidRecord, r.TargetCurrency, r.ExchangeRate, outcome)
	}

	return nil
}

// CurrencySpec is one allowlisted currency with its display name
type CurrencySpec struct {
	Code string `json:"code" validate:"len=3,uppercase"`
	Name string `json:"name" validate:"required"`
}

// Allowlist is the ordered set of currencies the pipeline records
type Allowlist []CurrencySpec

// Codes returns the currency codes in allowlist order
func (a Allowlist) Codes() []string {
	codes := make([]string, 0, len(a))
	for _, c := range a {
		codes = append(codes, c.Code)
	}
	return codes
}

// isFinite reports whether f is neither NaN nor infinite
func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// NewestPerCurrency keeps the first record seen per target currency. records must be ordered
// newest date first, which is the order RateStore.QueryAll returns.
func NewestPerCurrency(records []RateRecord) []RateRecord {
	seen := make(map[string]bool)
	latest := make([]RateRecord, 0)
	for _, r := range records {
		if seen[r.TargetCurrency] {
			continue
		}
		seen[r.TargetCurrency] = true
		latest = append(latest, r)
	}
	return latest
}
