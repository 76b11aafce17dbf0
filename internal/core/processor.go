package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"EirLedger/internal/model"
	"EirLedger/internal/observability"

	"github.com/rs/zerolog"
)

// Source reads the inputs of a batch of exposures.
type Source interface {
	LoadBatch(ctx context.Context, keys model.RunKeys, ids []int64) (*model.BatchInput, error)
}

// Sink appends a batch's output, stamped with the run that produced it.
type Sink interface {
	WriteOutput(ctx context.Context, stamp model.Stamp, out model.Output) error
}

// BatchResult is the outcome of one batch: either the number of rows
// written, or a single failure.
type BatchResult struct {
	BatchID  int
	Rows     int
	Warnings []string
	Failure  *model.Failure
	Duration time.Duration
}

// Failed reports whether the batch produced a failure record.
func (r BatchResult) Failed() bool {
	return r.Failure != nil
}

// Processor loads, calculates and writes one batch at a time. It is safe
// for concurrent use by the worker pool.
type Processor struct {
	source  Source
	sink    Sink
	log     zerolog.Logger
	metrics *observability.Metrics
}

// NewProcessor creates a batch processor. metrics may be nil.
func NewProcessor(source Source, sink Sink, log zerolog.Logger, metrics *observability.Metrics) *Processor {
	return &Processor{
		source:  source,
		sink:    sink,
		log:     log,
		metrics: metrics,
	}
}

// Process runs every exposure of the batch in list order. The first
// exposure that fails ends the batch: nothing is written and the
// remaining exposures are not calculated.
func (p *Processor) Process(ctx context.Context, keys model.RunKeys, population model.Population, batch model.Batch) BatchResult {
	start := time.Now()
	res := p.process(ctx, keys, population, batch)
	res.Duration = time.Since(start)

	if p.metrics != nil {
		outcome := "success"
		if res.Failed() {
			outcome = "failure"
		}
		p.metrics.BatchDuration.WithLabelValues(outcome).Observe(res.Duration.Seconds())
		p.metrics.BatchesDone.WithLabelValues(outcome).Inc()
	}
	return res
}

func (p *Processor) process(ctx context.Context, keys model.RunKeys, population model.Population, batch model.Batch) BatchResult {
	res := BatchResult{BatchID: batch.ID}
	log := p.log.With().Int("batch_id", batch.ID).Logger()

	input, err := p.source.LoadBatch(ctx, keys, batch.ExposureIDs)
	if err != nil {
		f := model.FailureFromError(batch.ID, 0, fmt.Errorf("load batch %d: %w", batch.ID, err))
		res.Failure = &f
		return res
	}

	groups := input.Split()
	orch := NewOrchestrator(keys, population, log, p.metrics)

	var out model.Output
	for _, id := range batch.ExposureIDs {
		in, ok := groups[id]
		if !ok {
			in = &model.ExposureInput{ExposureID: id}
		}

		exp, failure := p.calculate(orch, batch.ID, in)
		if failure != nil {
			if p.metrics != nil {
				p.metrics.ExposuresFailed.WithLabelValues(string(failure.Kind)).Inc()
			}
			log.Error().
				Int64("exposure_id", id).
				Str("kind", string(failure.Kind)).
				Msg(failure.Message)
			res.Failure = failure
			return res
		}
		if p.metrics != nil {
			p.metrics.ExposuresCalculated.Inc()
		}
		out.Append(exp.Output)
		res.Warnings = append(res.Warnings, exp.Warnings...)
	}

	if err := ctx.Err(); err != nil {
		f := model.FailureFromError(batch.ID, 0, fmt.Errorf("batch %d cancelled before write: %w", batch.ID, err))
		res.Failure = &f
		return res
	}

	if out.Len() > 0 {
		if err := p.sink.WriteOutput(ctx, keys.Stamp(), out); err != nil {
			res.Failure = &model.Failure{
				BatchID: batch.ID,
				Kind:    model.KindWriteBack,
				Message: err.Error(),
				Trace:   fmt.Sprintf("%+v", err),
			}
			return res
		}
	}
	res.Rows = out.Len()

	log.Debug().
		Int("exposures", len(batch.ExposureIDs)).
		Int("rows", res.Rows).
		Msg("batch calculated")
	return res
}

// calculate runs one exposure, converting a panic into an Unexpected failure.
func (p *Processor) calculate(orch *Orchestrator, batchID int, in *model.ExposureInput) (res ExposureResult, failure *model.Failure) {
	defer func() {
		if r := recover(); r != nil {
			failure = &model.Failure{
				BatchID:    batchID,
				ExposureID: in.ExposureID,
				Kind:       model.KindUnexpected,
				Message:    fmt.Sprint(r),
				Trace:      string(debug.Stack()),
			}
		}
	}()

	res, err := orch.Calculate(in)
	if err != nil {
		f := model.FailureFromError(batchID, in.ExposureID, err)
		return ExposureResult{}, &f
	}
	return res, nil
}
