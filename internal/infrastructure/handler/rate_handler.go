// Package handler exposes the stored exchange rates and the pipeline over HTTP
package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/damon-houk/fx-rate-pipeline/internal/domain/entity"
	"github.com/damon-houk/fx-rate-pipeline/internal/domain/repository"
	"github.com/damon-houk/fx-rate-pipeline/internal/infrastructure/cache"
	"github.com/damon-houk/fx-rate-pipeline/internal/infrastructure/logger"
	"github.com/damon-houk/fx-rate-pipeline/internal/infrastructure/middleware"
	"github.com/gorilla/mux"
)

// RateHandler handles HTTP requests for stored rates
type RateHandler struct {
	store   repository.RateStore
	latest  *cache.LatestRateCache
	backend string
	logger  logger.Logger
}

// NewRateHandler creates a new rate handler. latest may be nil, in which case
// GET /rates/latest is always answered from the store.
func NewRateHandler(store repository.RateStore, latest *cache.LatestRateCache, backend string, log logger.Logger) *RateHandler {
	if log == nil {
		log = logger.GetDefaultLogger()
	}

	return &RateHandler{
		store:   store,
		latest:  latest,
		backend: backend,
		logger:  log,
	}
}

// ListRates returns every stored record, newest date first, optionally filtered by currency
func (h *RateHandler) ListRates(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	currency := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("currency")))
	if currency != "" && len(currency) != 3 {
		h.logger.Warn("Invalid currency code", map[string]interface{}{
			"request_id": requestID,
			"currency":   currency,
		})
		sendErrorResponse(w, h.logger, "Invalid currency code",
			"Currency code should be 3 characters (e.g., EUR, GBP, NGN)", http.StatusBadRequest, requestID)
		return
	}

	records, err := h.store.QueryAll(r.Context())
	if err != nil {
		h.logger.Error("Failed to query rates", map[string]interface{}{
			"request_id": requestID,
			"error":      err.Error(),
		})
		sendErrorResponse(w, h.logger, "Internal server error",
			"An unexpected error occurred while reading stored rates", http.StatusInternalServerError, requestID)
		return
	}

	if currency != "" {
		filtered := make([]entity.RateRecord, 0, len(records))
		for _, rec := range records {
			if rec.TargetCurrency == currency {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}

	h.logger.Debug("Rates listed", map[string]interface{}{
		"request_id": requestID,
		"currency":   currency,
		"count":      len(records),
	})

	sendJSON(w, http.StatusOK, toRatesResponse(records))
}

// LatestRates returns the newest stored record per currency
func (h *RateHandler) LatestRates(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	if h.latest != nil {
		if cached := h.latest.All(); len(cached) > 0 {
			h.logger.Debug("Latest rates served from cache", map[string]interface{}{
				"request_id": requestID,
				"count":      len(cached),
			})
			sendJSON(w, http.StatusOK, toRatesResponse(cached))
			return
		}
	}

	latest, ok := h.loadLatest(w, r, requestID)
	if !ok {
		return
	}

	sendJSON(w, http.StatusOK, toRatesResponse(latest))
}

// LatestRate returns the newest stored record for one currency
func (h *RateHandler) LatestRate(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	currency := strings.ToUpper(mux.Vars(r)["currency"])
	if len(currency) != 3 {
		h.logger.Warn("Invalid currency code", map[string]interface{}{
			"request_id": requestID,
			"currency":   currency,
		})
		sendErrorResponse(w, h.logger, "Invalid currency code",
			"Currency code should be 3 characters (e.g., EUR, GBP, NGN)", http.StatusBadRequest, requestID)
		return
	}

	if h.latest != nil {
		if cached, ok := h.latest.Get(currency); ok {
			sendJSON(w, http.StatusOK, toRateResponse(cached))
			return
		}
	}

	latest, ok := h.loadLatest(w, r, requestID)
	if !ok {
		return
	}

	for _, rec := range latest {
		if rec.TargetCurrency == currency {
			sendJSON(w, http.StatusOK, toRateResponse(rec))
			return
		}
	}

	h.logger.Warn("No stored rate for currency", map[string]interface{}{
		"request_id": requestID,
		"currency":   currency,
	})
	sendErrorResponse(w, h.logger, "Rate not found",
		"No exchange rate has been stored for the requested currency", http.StatusNotFound, requestID)
}

// loadLatest reads the newest record per currency from the store and warms the cache.
// On failure the error response has already been written.
func (h *RateHandler) loadLatest(w http.ResponseWriter, r *http.Request, requestID string) ([]entity.RateRecord, bool) {
	records, err := h.store.QueryAll(r.Context())
	if err != nil {
		h.logger.Error("Failed to query rates", map[string]interface{}{
			"request_id": requestID,
			"error":      err.Error(),
		})
		sendErrorResponse(w, h.logger, "Internal server error",
			"An unexpected error occurred while reading stored rates", http.StatusInternalServerError, requestID)
		return nil, false
	}

	latest := entity.NewestPerCurrency(records)
	if h.latest != nil {
		h.latest.PutAll(latest)
	}
	return latest, true
}

// Health reports liveness
func (h *RateHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", StoreBackend: h.backend}
	if h.latest != nil {
		resp.CachedRates = h.latest.Size()
	}
	sendJSON(w, http.StatusOK, resp)
}

// RegisterRoutes registers the rate handler routes
func (h *RateHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/rates", h.ListRates).Methods("GET")
	router.HandleFunc("/rates/latest", h.LatestRates).Methods("GET")
	router.HandleFunc("/rates/latest/{currency}", h.LatestRate).Methods("GET")
	router.HandleFunc("/health", h.Health).Methods("GET")

	h.logger.Info("Rate routes registered", map[string]interface{}{
		"routes": []string{
			"GET /rates",
			"GET /rates/latest",
			"GET /rates/latest/{currency}",
			"GET /health",
		},
	})
}

func sendJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// sendErrorResponse sends a standardized error response
func sendErrorResponse(w http.ResponseWriter, log logger.Logger, message, description string, statusCode int, requestID string) {
	resp := ErrorResponse{
		Error:       message,
		Status:      statusCode,
		Description: description,
		RequestID:   requestID,
	}

	log.Debug("Sending error response", map[string]interface{}{
		"request_id":  requestID,
		"status_code": statusCode,
		"message":     message,
	})

	sendJSON(w, statusCode, resp)
}
