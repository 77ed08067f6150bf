package handler

import (
	"net/http"

	"github.com/damon-houk/fx-rate-pipeline/internal/application/service"
	"github.com/damon-houk/fx-rate-pipeline/internal/domain/entity"
	"github.com/damon-houk/fx-rate-pipeline/internal/infrastructure/logger"
	"github.com/damon-houk/fx-rate-pipeline/internal/infrastructure/middleware"
	"github.com/gorilla/mux"
)

// RunHandler triggers pipeline runs on demand
type RunHandler struct {
	runner service.Runner
	logger logger.Logger
}

// NewRunHandler creates a new run handler
func NewRunHandler(runner service.Runner, log logger.Logger) *RunHandler {
	if log == nil {
		log = logger.GetDefaultLogger()
	}

	return &RunHandler{
		runner: runner,
		logger: log,
	}
}

// TriggerRun runs the pipeline synchronously and reports the terminal state.
// The status code tells which stage failed.
func (h *RunHandler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	h.logger.Info("Handling pipeline run request", map[string]interface{}{
		"request_id": requestID,
	})

	result, err := h.runner.Run(r.Context())
	if result == nil {
		h.logger.Error("Pipeline returned no result", map[string]interface{}{
			"request_id": requestID,
		})
		sendErrorResponse(w, h.logger, "Internal server error",
			"The pipeline did not report a result", http.StatusInternalServerError, requestID)
		return
	}

	status := http.StatusOK
	if err != nil {
		status = statusForError(err)
		h.logger.Warn("Pipeline run failed", map[string]interface{}{
			"request_id": requestID,
			"run_id":     result.RunID,
			"stage":      string(result.FailedStage),
			"reason":     result.Reason,
		})
	}

	sendJSON(w, status, toRunResponse(result))
}

// RegisterRoutes registers the run handler routes
func (h *RunHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/pipeline/runs", h.TriggerRun).Methods("POST")

	h.logger.Info("Pipeline routes registered", map[string]interface{}{
		"routes": []string{
			"POST /pipeline/runs",
		},
	})
}

func statusForError(err error) int {
	switch service.FailedStage(err) {
	case service.StageFetching:
		if entity.IsFetchErrorKind(err, entity.FetchTimeout) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case service.StageExtracting:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
