package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/damon-houk/fx-rate-pipeline/internal/domain/entity"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// DriverBadger stores rates in an embedded BadgerDB directory
	DriverBadger = "badger"
	// DriverPostgres stores rates in a PostgreSQL table
	DriverPostgres = "postgres"

	defaultCurrencies = "NGN:Nigerian Naira,CNY:Chinese Yuan,EUR:Euro,GBP:British Pounds,ZAR:South African Rand"
)

// Config holds application configuration.
type Config struct {
	APIKey         string           `validate:"required"`
	APIBaseURL     string           `validate:"required,url"`
	BaseCurrency   string           `validate:"len=3,uppercase"`
	Currencies     entity.Allowlist `validate:"min=1,dive"`
	Source         string           `validate:"required"`
	FetchTimeout   time.Duration    `validate:"gt=0"`
	// FetchRateLimit is in requests per second; zero disables the limiter
	FetchRateLimit float64          `validate:"gte=0"`
	Location       *time.Location   `validate:"required"`

	StoreDriver string `validate:"oneof=badger postgres"`
	BadgerPath  string `validate:"required_if=StoreDriver badger"`
	DatabaseURL string `validate:"required_if=StoreDriver postgres"`

	// ScheduleInterval of zero disables scheduled runs
	ScheduleInterval time.Duration `validate:"gte=0"`
	LatestCacheTTL   time.Duration `validate:"gt=0"`
	Port             string        `validate:"required,numeric"`
	LogLevel         string
}

// Load reads configuration from the environment and a .env file if present.
func Load() (*Config, error) {
	// A missing .env file is fine
	_ = godotenv.Load()

	v := viper.New()
	v.SetDefault("EXCHANGE_API_KEY", "")
	v.SetDefault("EXCHANGE_API_BASE_URL", "https://v6.exchangerate-api.com/v6")
	v.SetDefault("BASE_CURRENCY", "USD")
	v.SetDefault("CURRENCIES", defaultCurrencies)
	v.SetDefault("RATE_SOURCE", "exchangerate-api.com")
	v.SetDefault("FETCH_TIMEOUT", "10s")
	v.SetDefault("FETCH_RATE_LIMIT", 1.0)
	v.SetDefault("TIMEZONE", "Local")
	v.SetDefault("STORE_DRIVER", DriverBadger)
	v.SetDefault("BADGER_PATH", "./data")
	v.SetDefault("PGSQL_URL", "")
	v.SetDefault("SCHEDULE_INTERVAL", "1h")
	v.SetDefault("LATEST_CACHE_TTL", "24h")
	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_LEVEL", "INFO")
	v.AutomaticEnv()

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	currencies, err := ParseCurrencies(v.GetString("CURRENCIES"))
	if err != nil {
		return nil, err
	}

	fetchTimeout, err := time.ParseDuration(v.GetString("FETCH_TIMEOUT"))
	if err != nil {
		return nil, fmt.Errorf("invalid FETCH_TIMEOUT: %w", err)
	}

	interval, err := time.ParseDuration(v.GetString("SCHEDULE_INTERVAL"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULE_INTERVAL: %w", err)
	}

	cacheTTL, err := time.ParseDuration(v.GetString("LATEST_CACHE_TTL"))
	if err != nil {
		return nil, fmt.Errorf("invalid LATEST_CACHE_TTL: %w", err)
	}

	loc, err := time.LoadLocation(v.GetString("TIMEZONE"))
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}

	cfg := &Config{
		APIKey:           v.GetString("EXCHANGE_API_KEY"),
		APIBaseURL:       strings.TrimRight(v.GetString("EXCHANGE_API_BASE_URL"), "/"),
		BaseCurrency:     strings.ToUpper(v.GetString("BASE_CURRENCY")),
		Currencies:       currencies,
		Source:           v.GetString("RATE_SOURCE"),
		FetchTimeout:     fetchTimeout,
		FetchRateLimit:   v.GetFloat64("FETCH_RATE_LIMIT"),
		Location:         loc,
		StoreDriver:      strings.ToLower(v.GetString("STORE_DRIVER")),
		BadgerPath:       v.GetString("BADGER_PATH"),
		DatabaseURL:      v.GetString("PGSQL_URL"),
		ScheduleInterval: interval,
		LatestCacheTTL:   cacheTTL,
		Port:             v.GetString("PORT"),
		LogLevel:         v.GetString("LOG_LEVEL"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ParseCurrencies parses an ordered allowlist of the form "NGN:Nigerian Naira,EUR:Euro".
// A code without a name uses the code as its name.
func ParseCurrencies(s string) (entity.Allowlist, error) {
	var list entity.Allowlist
	seen := make(map[string]bool)

	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		code, name, _ := strings.Cut(item, ":")
		code = strings.ToUpper(strings.TrimSpace(code))
		name = strings.TrimSpace(name)
		if name == "" {
			name = code
		}

		if len(code) != 3 {
			return nil, fmt.Errorf("invalid currency code %q in CURRENCIES", code)
		}
		if seen[code] {
			return nil, fmt.Errorf("duplicate currency code %q in CURRENCIES", code)
		}
		seen[code] = true

		list = append(list, entity.CurrencySpec{Code: code, Name: name})
	}

	if len(list) == 0 {
		return nil, fmt.Errorf("CURRENCIES must list at least one currency")
	}
	return list, nil
}
