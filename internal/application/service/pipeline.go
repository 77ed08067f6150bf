// Package service internal/application/service/pipeline.go
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/damon-houk/fx-rate-pipeline/internal/domain/entity"
	"github.com/damon-houk/fx-rate-pipeline/internal/domain/repository"
	domainservice "github.com/damon-houk/fx-rate-pipeline/internal/domain/service"
	"github.com/damon-houk/fx-rate-pipeline/internal/infrastructure/logger"
	"github.com/damon-houk/fx-rate-pipeline/internal/infrastructure/metrics"
	"github.com/google/uuid"
)

// Stage is a state of a pipeline run
type Stage string

const (
	StageFetching   Stage = "fetching"
	StageExtracting Stage = "extracting"
	StagePersisting Stage = "persisting"
	StageDone       Stage = "done"
	StageFailed     Stage = "failed"
)

// PipelineConfig is the explicit configuration of a pipeline
type PipelineConfig struct {
	Credential   string
	BaseCurrency string
	Currencies   entity.Allowlist
	// FetchTimeout bounds the fetch stage; zero leaves it to the provider client
	FetchTimeout time.Duration
}

// RunResult reports one pipeline run
type RunResult struct {
	RunID       string              `json:"run_id"`
	State       Stage               `json:"state"`
	FailedStage Stage               `json:"failed_stage,omitempty"`
	Reason      string              `json:"reason,omitempty"`
	Base        string              `json:"base,omitempty"`
	Fetched     int                 `json:"fetched"`
	Candidates  int                 `json:"candidates"`
	Valid       int                 `json:"valid"`
	Inserted    int                 `json:"inserted"`
	Skipped     int                 `json:"skipped"`
	Records     []entity.RateRecord `json:"records,omitempty"`
	FetchedAt   time.Time           `json:"fetched_at"`
	StartedAt   time.Time           `json:"started_at"`
	FinishedAt  time.Time           `json:"finished_at"`
}

// PipelineError is returned for runs that end in StageFailed
type PipelineError struct {
	Stage  Stage
	Reason string
	Err    error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline failed while %s: %s", e.Stage, e.Reason)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// FailedStage returns the stage a pipeline error happened in, or "" for other errors
func FailedStage(err error) Stage {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Stage
	}
	return ""
}

// LatestRates holds the newest stored record per currency. It is refreshed from the store
// after every successful run.
type LatestRates interface {
	PutAll(records []entity.RateRecord)
	CleanExpired() int
}

// Pipeline sequences fetch, extraction and persistence
type Pipeline struct {
	cfg       PipelineConfig
	provider  domainservice.RateProvider
	extractor *Extractor
	store     repository.RateStore
	latest    LatestRates
	logger    logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewPipeline creates a new pipeline
func NewPipeline(cfg PipelineConfig, provider domainservice.RateProvider, extractor *Extractor, store repository.RateStore, log logger.Logger) *Pipeline {
	if log == nil {
		log = logger.GetDefaultLogger()
	}

	return &Pipeline{
		cfg:       cfg,
		provider:  provider,
		extractor: extractor,
		store:     store,
		logger:    log.WithField("component", "pipeline"),
		now:       time.Now,
	}
}

// WithMetrics records run, fetch and store metrics
func (p *Pipeline) WithMetrics(m *metrics.Metrics) *Pipeline {
	p.metrics = m
	return p
}

// WithLatestRates keeps l in sync with the store after successful runs
func (p *Pipeline) WithLatestRates(l LatestRates) *Pipeline {
	p.latest = l
	return p
}

// Run executes one pipeline run. A failed run returns its result together with a *PipelineError;
// nothing is persisted unless the run reaches the persisting stage and the store commits.
func (p *Pipeline) Run(ctx context.Context) (*RunResult, error) {
	result := &RunResult{
		RunID:      uuid.New().String(),
		State:      StageFetching,
		Candidates: len(p.cfg.Currencies),
		StartedAt:  p.now(),
	}
	log := p.logger.WithField("run_id", result.RunID)

	log.Info("Pipeline run started", map[string]interface{}{
		"base":       p.cfg.BaseCurrency,
		"currencies": p.cfg.Currencies.Codes(),
	})

	snapshot, err := p.fetch(ctx)
	if err != nil {
		return p.fail(log, result, StageFetching, err.Error(), err)
	}
	result.Base = snapshot.Base
	result.Fetched = len(snapshot.Rates)
	result.FetchedAt = snapshot.FetchedAt

	result.State = StageExtracting
	records := p.extractor.Extract(snapshot, p.cfg.Currencies)
	result.Valid = len(records)
	if len(records) == 0 {
		return p.fail(log, result, StageExtracting, entity.ErrEmptyBatch.Error(), entity.ErrEmptyBatch)
	}

	result.State = StagePersisting
	stored, err := p.store.Upsert(ctx, records)
	if err != nil {
		return p.fail(log, result, StagePersisting, err.Error(), err)
	}
	result.Inserted = stored.Inserted
	result.Skipped = stored.Skipped
	result.Records = records

	result.State = StageDone
	result.FinishedAt = p.now()
	p.metrics.ObserveStore(stored.Inserted, stored.Skipped)
	p.metrics.ObserveRun(string(StageDone), "")

	p.refreshLatest(ctx, log)

	for _, r := range records {
		log.Info(fmt.Sprintf("1 %s = %s %s (%s)", r.BaseCurrency, formatRate(r.ExchangeRate), r.TargetCurrency, r.CurrencyName), map[string]interface{}{
			"observed_date": r.ObservedDate,
			"observed_time": r.ObservedTime,
			"source":        r.Source,
		})
	}

	log.Info("Pipeline run completed", map[string]interface{}{
		"base":        result.Base,
		"fetched_at":  result.FetchedAt.Format(time.RFC3339),
		"fetched":     result.Fetched,
		"candidates":  result.Candidates,
		"valid":       result.Valid,
		"inserted":    result.Inserted,
		"skipped":     result.Skipped,
		"duration_ms": result.FinishedAt.Sub(result.StartedAt).Milliseconds(),
	})

	return result, nil
}

// refreshLatest republishes the newest stored record per currency. Records skipped as same-day
// duplicates never reach the cache, and currencies absent from this run's snapshot stay in it.
func (p *Pipeline) refreshLatest(ctx context.Context, log logger.Logger) {
	if p.latest == nil {
		return
	}

	if removed := p.latest.CleanExpired(); removed > 0 {
		log.Debug("Expired latest rates removed", map[string]interface{}{
			"removed": removed,
		})
	}

	stored, err := p.store.QueryAll(ctx)
	if err != nil {
		log.Warn("Failed to refresh latest rates", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	p.latest.PutAll(entity.NewestPerCurrency(stored))
}

func (p *Pipeline) fetch(ctx context.Context) (*entity.RateSnapshot, error) {
	if p.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.FetchTimeout)
		defer cancel()
	}

	start := time.Now()
	snapshot, err := p.provider.FetchLatest(ctx, p.cfg.Credential, p.cfg.BaseCurrency)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		label := "error"
		var fe *entity.FetchError
		if errors.As(err, &fe) {
			label = string(fe.Kind)
		}
		p.metrics.ObserveFetch(label, elapsed)
		return nil, err
	}
	if snapshot == nil {
		p.metrics.ObserveFetch(string(entity.FetchMalformed), elapsed)
		return nil, &entity.FetchError{Kind: entity.FetchMalformed, Err: errors.New("provider returned no snapshot")}
	}

	p.metrics.ObserveFetch("success", elapsed)
	return snapshot, nil
}

func (p *Pipeline) fail(log logger.Logger, result *RunResult, stage Stage, reason string, err error) (*RunResult, error) {
	result.State = StageFailed
	result.FailedStage = stage
	result.Reason = reason
	result.FinishedAt = p.now()
	p.metrics.ObserveRun(string(StageFailed), string(stage))

	log.Error("Pipeline run failed", map[string]interface{}{
		"stage":      string(stage),
		"reason":     reason,
		"fetched":    result.Fetched,
		"candidates": result.Candidates,
		"valid":      result.Valid,
	})

	return result, &PipelineError{Stage: stage, Reason: reason, Err: err}
}

// formatRate prints a rate without exponent notation, keeping non-finite values readable
func formatRate(rate float64) string {
	if math.IsNaN(rate) || math.IsInf(rate, 0) {
		return strconv.FormatFloat(rate, 'g', -1, 64)
	}
	return strconv.FormatFloat(rate, 'f', -1, 64)
}
