package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/damon-houk/fx-rate-pipeline/internal/domain/entity"
	"github.com/damon-houk/fx-rate-pipeline/internal/infrastructure/logger"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the exchangerate-api.com v6 endpoint
	DefaultBaseURL = "https://v6.exchangerate-api.com/v6"
	// DefaultTimeout bounds a single snapshot request
	DefaultTimeout = 10 * time.Second

	maxResponseBytes = 1 << 20
	resultSuccess    = "success"
)

// ClientConfig configures the exchange rate API client
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
	// RequestsPerSecond limits outgoing requests; zero disables the limit
	RequestsPerSecond float64
}

// ExchangeRateAPIClient fetches rate snapshots from exchangerate-api.com
type ExchangeRateAPIClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     logger.Logger
	now        func() time.Time
}

// NewExchangeRateAPIClient creates a new exchange rate API client
func NewExchangeRateAPIClient(cfg ClientConfig, httpClient *http.Client, log logger.Logger) *ExchangeRateAPIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: cfg.Timeout,
		}
	}
	if log == nil {
		log = logger.GetDefaultLogger()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &ExchangeRateAPIClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		limiter:    limiter,
		logger:     log.WithField("component", "exchange_rate_api"),
		now:        time.Now,
	}
}

// latestResponse represents the response structure of the latest rates endpoint
type latestResponse struct {
	Result            string              `json:"result"`
	ErrorType         string              `json:"error-type"`
	BaseCode          string              `json:"base_code"`
	TimeLastUpdateUTC string              `json:"time_last_update_utc"`
	ConversionRates   map[string]*float64 `json:"conversion_rates"`
}

// FetchLatest retrieves the latest rates relative to base
func (c *ExchangeRateAPIClient) FetchLatest(ctx context.Context, credential, base string) (*entity.RateSnapshot, error) {
	base = strings.ToUpper(strings.TrimSpace(base))
	if err := checkRequest(credential, base); err != nil {
		return nil, err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, limiterError(ctx, err)
		}
	}

	reqURL := fmt.Sprintf("%s/%s/latest/%s", c.baseURL, url.PathEscape(credential), url.PathEscape(base))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &entity.FetchError{Kind: entity.FetchInvalidRequest, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Add("Accept", "application/json")

	c.logger.Debug("Fetching latest rates", map[string]interface{}{
		"base": base,
	})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// url.Error carries the request URL, which embeds the credential
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			urlErr.URL = fmt.Sprintf("%s/***/latest/%s", c.baseURL, base)
		}
		return nil, transportError(err)
	}

	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Error closing response body", map[string]interface{}{
				"error": closeErr.Error(),
			})
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, transportError(fmt.Errorf("failed to read response body: %w", err))
	}

	var payload latestResponse
	decodeErr := json.Unmarshal(body, &payload)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		code := fmt.Sprintf("http_%d", resp.StatusCode)
		if decodeErr == nil && payload.ErrorType != "" {
			code = payload.ErrorType
		}
		c.logger.Warn("Provider returned error status", map[string]interface{}{
			"base":   base,
			"status": resp.StatusCode,
			"code":   code,
		})
		return nil, &entity.FetchError{Kind: entity.FetchProvider, Code: code}
	}

	if decodeErr != nil {
		return nil, &entity.FetchError{Kind: entity.FetchMalformed, Err: fmt.Errorf("failed to decode response: %w", decodeErr)}
	}

	if payload.Result != resultSuccess {
		code := payload.ErrorType
		if code == "" {
			code = "unknown-error"
		}
		c.logger.Warn("Provider reported failure", map[string]interface{}{
			"base":   base,
			"result": payload.Result,
			"code":   code,
		})
		return nil, &entity.FetchError{Kind: entity.FetchProvider, Code: code}
	}

	if payload.BaseCode == "" || payload.ConversionRates == nil {
		return nil, &entity.FetchError{Kind: entity.FetchMalformed, Err: errors.New("response is missing base_code or conversion_rates")}
	}

	rates := make(map[string]float64, len(payload.ConversionRates))
	for code, value := range payload.ConversionRates {
		if value != nil {
			rates[strings.ToUpper(code)] = *value
		}
	}

	updatedAt := payload.TimeLastUpdateUTC
	if updatedAt == "" {
		updatedAt = entity.UnknownUpdateTime
	}

	snapshot := &entity.RateSnapshot{
		Base:              strings.ToUpper(payload.BaseCode),
		Rates:             rates,
		ProviderUpdatedAt: updatedAt,
		FetchedAt:         c.now(),
	}

	if snapshot.Base != base {
		c.logger.Warn("Provider answered with a different base currency", map[string]interface{}{
			"requested": base,
			"received":  snapshot.Base,
		})
	}

	c.logger.Info("Fetched latest rates", map[string]interface{}{
		"base":        snapshot.Base,
		"rate_count":  len(rates),
		"provider_at": updatedAt,
	})

	return snapshot, nil
}

func checkRequest(credential, base string) error {
	if strings.TrimSpace(credential) == "" {
		return &entity.FetchError{Kind: entity.FetchInvalidRequest, Err: errors.New("credential is empty")}
	}
	if len(base) != 3 {
		return &entity.FetchError{Kind: entity.FetchInvalidRequest, Err: fmt.Errorf("base currency %q must be 3 letters", base)}
	}
	for _, r := range base {
		if r < 'A' || r > 'Z' {
			return &entity.FetchError{Kind: entity.FetchInvalidRequest, Err: fmt.Errorf("base currency %q must be 3 letters", base)}
		}
	}
	return nil
}

// limiterError classifies an aborted limiter wait. A deadline that passed, or would pass before
// a token is available, is a timeout; a canceled caller is a connectivity failure.
func limiterError(ctx context.Context, err error) *entity.FetchError {
	err = fmt.Errorf("waiting for rate limiter: %w", err)
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return &entity.FetchError{Kind: entity.FetchConnectivity, Err: err}
	}
	return &entity.FetchError{Kind: entity.FetchTimeout, Err: err}
}

// transportError classifies a failed round trip as timeout or connectivity
func transportError(err error) *entity.FetchError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &entity.FetchError{Kind: entity.FetchTimeout, Err: err}
	}
	return &entity.FetchError{Kind: entity.FetchConnectivity, Err: err}
}
