package coordinator

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"EirLedger/internal/core"
	"EirLedger/internal/model"
	"EirLedger/internal/observability"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrBusy is returned by Start while another run is active.
	ErrBusy = errors.New("other calculation task is not finished yet")
	// ErrNoActiveRun is returned by Wait when nothing is running.
	ErrNoActiveRun = errors.New("no calculation in progress")
)

// Acknowledgements returned by Cancel.
const (
	MsgCancelled       = "Calculation cancelled successfully."
	MsgNothingToCancel = "No calculation in progress."
)

// MsgNoStatus is reported when a status lookup finds neither a queued
// record nor an active run.
const MsgNoStatus = "No calculation in progress."

const (
	msgPreparing = "progress: Preparing batches."
	msgProgress  = "progress: %d of %d calculated."
	msgCompleted = "progress: Calculation completed successfully!"

	DefaultBatchSize   = 2500
	DefaultGracePeriod = 30 * time.Second
)

// KeyResolver looks up what a run reads.
type KeyResolver interface {
	ResolveKeys(ctx context.Context, calculationTaskID int64) (model.RunKeys, error)
	ExposureIDs(ctx context.Context, datasetTaskID int64) ([]int64, error)
}

// BatchRunner calculates and writes one batch.
type BatchRunner interface {
	Process(ctx context.Context, keys model.RunKeys, population model.Population, batch model.Batch) core.BatchResult
}

// Notifier receives every status record pushed to the stream.
type Notifier interface {
	Publish(ctx context.Context, rec StatusRecord) error
}

// Options tunes a coordinator. Zero values select the defaults.
type Options struct {
	Workers     int
	BatchSize   int
	GracePeriod time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.GracePeriod <= 0 {
		o.GracePeriod = DefaultGracePeriod
	}
	return o
}

// Run states. A run leaves runRunning exactly once, either by ending on
// its own or by being cancelled.
const (
	runRunning int32 = iota
	runEnding
	runCancelled
)

// run is the state of one active calculation. The worker pool lives
// inside execute and is gone once done is closed.
type run struct {
	id     int64
	cancel context.CancelFunc
	state  atomic.Int32
	done   chan struct{}
}

func (r *run) cancelled() bool {
	return r.state.Load() == runCancelled
}

// Coordinator runs at most one calculation at a time, spreading its
// batches over a bounded worker pool and reporting progress through a
// status stream.
type Coordinator struct {
	resolver KeyResolver
	runner   BatchRunner
	notifier Notifier
	opts     Options
	log      zerolog.Logger
	metrics  *observability.Metrics

	mu     sync.Mutex
	active *run
	stream StatusStream
}

// New creates a coordinator. notifier and metrics may be nil.
func New(resolver KeyResolver, runner BatchRunner, notifier Notifier, opts Options, log zerolog.Logger, metrics *observability.Metrics) *Coordinator {
	return &Coordinator{
		resolver: resolver,
		runner:   runner,
		notifier: notifier,
		opts:     opts.withDefaults(),
		log:      log,
		metrics:  metrics,
	}
}

// Start begins calculation runID in the background. It returns ErrBusy
// instead of queueing when a run is already active.
func (c *Coordinator) Start(runID int64) error {
	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return ErrBusy
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{id: runID, cancel: cancel, done: make(chan struct{})}
	c.active = r
	c.stream.Reset()
	if c.metrics != nil {
		c.metrics.RunsStarted.Inc()
		c.metrics.RunActive.Set(1)
	}
	c.mu.Unlock()

	c.log.Info().Int64("run_id", runID).Msg("calculation started")
	c.push(r, StatusRecord{Status: StatusRunning, BusinessLogs: []BusinessLog{info(msgPreparing)}})

	go c.execute(ctx, r)
	return nil
}

// Poll pops the oldest queued status record. With nothing queued it
// reports Running without logs while a run is active, and false otherwise.
func (c *Coordinator) Poll() (StatusRecord, bool) {
	if rec, ok := c.stream.Pop(); ok {
		return rec, true
	}
	c.mu.Lock()
	r := c.active
	c.mu.Unlock()
	if r == nil {
		return StatusRecord{}, false
	}
	return StatusRecord{RunID: r.id, Status: StatusRunning, BusinessLogs: []BusinessLog{}}, true
}

// Cancel stops the active run, discarding unfinished batches, and waits up
// to the grace period for in-flight batches to return. Batches already
// written stay written. A run that already reached its terminal record is
// left alone so the record stays queued for the poller.
func (c *Coordinator) Cancel() string {
	c.mu.Lock()
	r := c.active
	c.mu.Unlock()
	if r == nil || !r.state.CompareAndSwap(runRunning, runCancelled) {
		return MsgNothingToCancel
	}

	r.cancel()

	select {
	case <-r.done:
	case <-time.After(c.opts.GracePeriod):
		c.log.Warn().
			Int64("run_id", r.id).
			Dur("grace_period", c.opts.GracePeriod).
			Msg("in-flight batches still running after cancel")
	}

	c.mu.Lock()
	// A newer run already reset the stream on start.
	if c.active == r || c.active == nil {
		c.stream.Reset()
	}
	c.release(r)
	c.mu.Unlock()

	c.log.Info().Int64("run_id", r.id).Msg("calculation cancelled")
	return MsgCancelled
}

// Wait blocks until the active run ends.
func (c *Coordinator) Wait(ctx context.Context) error {
	c.mu.Lock()
	r := c.active
	c.mu.Unlock()
	if r == nil {
		return ErrNoActiveRun
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// release clears r as the active run. It does nothing once a newer run has
// taken over. Callers hold c.mu.
func (c *Coordinator) release(r *run) {
	if c.active != r {
		return
	}
	c.active = nil
	if c.metrics != nil {
		c.metrics.RunActive.Set(0)
	}
}

// Active reports whether a run is in progress.
func (c *Coordinator) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

func (c *Coordinator) execute(ctx context.Context, r *run) {
	var (
		final   *StatusRecord
		drained <-chan struct{}
		outcome = "failure"
	)
	defer func() {
		r.cancel()
		if drained != nil {
			select {
			case <-drained:
			case <-time.After(c.opts.GracePeriod):
				c.log.Warn().Int64("run_id", r.id).Msg("worker pool not drained within grace period")
			}
		}

		// The terminal record is queued before the run stops being active
		// so a poller never sees "not found" ahead of it.
		if final != nil && r.state.CompareAndSwap(runRunning, runEnding) {
			c.push(r, *final)
		}
		c.mu.Lock()
		c.release(r)
		c.mu.Unlock()
		close(r.done)

		if r.cancelled() {
			outcome = "cancelled"
		}
		if c.metrics != nil {
			c.metrics.RunsFinished.WithLabelValues(outcome).Inc()
		}
	}()

	keys, pop, err := c.prepare(ctx, r.id)
	if err != nil {
		c.log.Error().Err(err).Int64("run_id", r.id).Msg("run preparation failed")
		final = &StatusRecord{Status: StatusFailed, BusinessLogs: []BusinessLog{{
			Level:     LevelError,
			Message:   "Unexpected Error occured while preparing batches. " + err.Error(),
			Exception: fmt.Sprintf("%+v", err),
		}}}
		return
	}

	batches := model.Partition(pop.All, c.opts.BatchSize)
	total := len(batches)
	log := c.log.With().Int64("run_id", r.id).Int("batches", total).Logger()
	log.Info().
		Int("exposures", len(pop.All)).
		Int("new", len(pop.New)).
		Int("ended", len(pop.Ended)).
		Msg("batches prepared")
	c.push(r, StatusRecord{Status: StatusRunning, BusinessLogs: []BusinessLog{info(fmt.Sprintf(msgProgress, 0, total))}})

	var results <-chan core.BatchResult
	results, drained = c.dispatch(ctx, keys, pop, batches)

	for finished := 0; finished < total; {
		var res core.BatchResult
		select {
		case <-ctx.Done():
			return
		case res = <-results:
		}
		if r.cancelled() {
			return
		}
		if res.Failed() {
			log.Error().
				Int("batch_id", res.BatchID).
				Int64("exposure_id", res.Failure.ExposureID).
				Str("kind", string(res.Failure.Kind)).
				Msg("batch failed, halting run")
			rec := failedRecord(*res.Failure)
			final = &rec
			return
		}

		finished++
		logs := []BusinessLog{info(fmt.Sprintf(msgProgress, finished, total))}
		for _, w := range res.Warnings {
			logs = append(logs, BusinessLog{Level: LevelWarning, Message: w})
		}
		c.push(r, StatusRecord{Status: StatusRunning, BusinessLogs: logs})
	}

	outcome = "success"
	log.Info().Msg("calculation finished")
	final = &StatusRecord{Status: StatusFinished, BusinessLogs: []BusinessLog{info(msgCompleted)}}
}

// prepare resolves the run keys and classifies the exposure population.
func (c *Coordinator) prepare(ctx context.Context, runID int64) (model.RunKeys, model.Population, error) {
	keys, err := c.resolver.ResolveKeys(ctx, runID)
	if err != nil {
		return model.RunKeys{}, model.Population{}, err
	}

	current, err := c.resolver.ExposureIDs(ctx, keys.DatasetTaskID)
	if err != nil {
		return model.RunKeys{}, model.Population{}, fmt.Errorf("current exposure ids: %w", err)
	}
	var prior []int64
	if keys.HasPrevious() {
		prior, err = c.resolver.ExposureIDs(ctx, keys.PrevDatasetTaskID)
		if err != nil {
			return model.RunKeys{}, model.Population{}, fmt.Errorf("prior exposure ids: %w", err)
		}
	}
	return keys, model.NewPopulation(prior, current), nil
}

// dispatch feeds batches to a pool of Workers goroutines. Results arrive
// in completion order; the channel is buffered for every batch so workers
// never block on a coordinator that stopped reading. Batches not yet
// started when ctx ends are skipped. drained closes once every worker
// has returned.
func (c *Coordinator) dispatch(ctx context.Context, keys model.RunKeys, pop model.Population, batches []model.Batch) (<-chan core.BatchResult, <-chan struct{}) {
	results := make(chan core.BatchResult, len(batches))
	drained := make(chan struct{})

	go func() {
		defer close(drained)
		var g errgroup.Group
		g.SetLimit(c.opts.Workers)
		for _, b := range batches {
			b := b
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				results <- c.runner.Process(ctx, keys, pop, b)
				return nil
			})
		}
		g.Wait()
	}()

	return results, drained
}

// push appends rec to the stream and forwards it to the notifier.
func (c *Coordinator) push(r *run, rec StatusRecord) {
	rec.RunID = r.id
	c.stream.Push(rec)

	if c.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.notifier.Publish(ctx, rec); err != nil {
		c.log.Warn().Err(err).Int64("run_id", r.id).Msg("status publish failed")
		if c.metrics != nil {
			c.metrics.StatusPublishErr.Inc()
		}
		return
	}
	if c.metrics != nil {
		c.metrics.StatusPublished.Inc()
	}
}

func failedRecord(f model.Failure) StatusRecord {
	return StatusRecord{
		Status: StatusFailed,
		BusinessLogs: []BusinessLog{{
			Level:     LevelError,
			Message:   f.LogMessage(),
			Exception: f.Trace,
		}},
	}
}
