package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline and HTTP collectors. A nil *Metrics records nothing.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	PipelineRunsTotal  *prometheus.CounterVec
	ValidationOutcomes *prometheus.CounterVec
	RecordsInserted    prometheus.Counter
	RecordsSkipped     prometheus.Counter
	FetchDuration      *prometheus.HistogramVec
}

// NewMetrics registers the collectors with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"path", "method", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path", "method"},
		),

		PipelineRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fx_pipeline_runs_total",
				Help: "Pipeline runs by final state and failed stage",
			},
			[]string{"state", "stage"},
		),

		ValidationOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fx_rate_validation_outcomes_total",
				Help: "Allowlisted currencies by validation outcome",
			},
			[]string{"outcome"},
		),

		RecordsInserted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fx_rate_records_inserted_total",
				Help: "Rate records inserted into the store",
			},
		),

		RecordsSkipped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fx_rate_records_skipped_total",
				Help: "Rate records skipped as duplicates of an existing day",
			},
		),

		FetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fx_provider_fetch_duration_seconds",
				Help:    "Duration of provider snapshot fetches",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		),
	}
}

// ObserveValidation counts one validation outcome
func (m *Metrics) ObserveValidation(outcome string) {
	if m == nil {
		return
	}
	m.ValidationOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveFetch records the duration of a fetch; result is "success" or an error kind
func (m *Metrics) ObserveFetch(result string, seconds float64) {
	if m == nil {
		return
	}
	m.FetchDuration.WithLabelValues(result).Observe(seconds)
}

// ObserveRun counts a finished run. stage is empty for successful runs.
func (m *Metrics) ObserveRun(state, stage string) {
	if m == nil {
		return
	}
	m.PipelineRunsTotal.WithLabelValues(state, stage).Inc()
}

// ObserveStore adds upsert counts
func (m *Metrics) ObserveStore(inserted, skipped int) {
	if m == nil {
		return
	}
	m.RecordsInserted.Add(float64(inserted))
	m.RecordsSkipped.Add(float64(skipped))
}

// ObserveHTTP records one served request
func (m *Metrics) ObserveHTTP(path, method, statusCode string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(path, method, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(path, method).Observe(seconds)
}
