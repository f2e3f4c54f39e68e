package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/Sternrassler/rowstream/pkg/record"
)

// Config holds pipeline configuration
type Config struct {
	// MaxWorkers caps the worker pool (default: number of CPUs)
	MaxWorkers int
	// FetchTimeout bounds each item fetch
	FetchTimeout time.Duration
	// ProgressEvery logs progress after this many released rows (0 disables)
	ProgressEvery int
}

// DefaultConfig returns the default pipeline configuration
func DefaultConfig() Config {
	return Config{
		MaxWorkers:    runtime.NumCPU(),
		FetchTimeout:  15 * time.Second,
		ProgressEvery: 50,
	}
}

// Pipeline fans item fetches out over a bounded worker pool and fans the
// rows back in, in index order, through a Sequencer.
type Pipeline struct {
	fetcher RowFetcher
	config  Config
	logger  zerolog.Logger
}

// New creates a pipeline.
func New(fetcher RowFetcher, config Config, logger zerolog.Logger) *Pipeline {
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = runtime.NumCPU()
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = 15 * time.Second
	}
	if config.ProgressEvery < 0 {
		config.ProgressEvery = 0
	}

	return &Pipeline{
		fetcher: fetcher,
		config:  config,
		logger:  logger,
	}
}

// Run fetches every item and hands the rows to sink in index order.
//
// The first failure cancels the remaining work and is returned; rows released
// before it stay released, nothing after it is. A *FetchError identifies a failed
// fetch, ErrInternal a worker fault, and a sink error is returned unchanged.
// Run returns only after every worker has stopped.
func (p *Pipeline) Run(ctx context.Context, items []record.Item, sink Sink) error {
	start := time.Now()
	n := len(items)
	if n == 0 {
		pipelineRunsTotal.WithLabelValues("success").Inc()
		return nil
	}

	workers := Workers(p.config.MaxWorkers, n)
	batches := Partition(n, workers)

	released := 0
	seq := NewSequencer(n, func(row record.Row) error {
		if err := sink(row); err != nil {
			return err
		}
		released++
		if p.config.ProgressEvery > 0 && released%p.config.ProgressEvery == 0 {
			p.logger.Info().
				Int("released", released).
				Int("total", n).
				Float64("progress_pct", float64(released)/float64(n)*100).
				Msg("Stream progress")
		}
		return nil
	})

	p.logger.Info().
		Int("items", n).
		Int("workers", workers).
		Int("batches", len(batches)).
		Msg("Starting parallel fetch")

	wp := pool.New().
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError().
		WithMaxGoroutines(workers)

	for id, batch := range batches {
		if ctx.Err() != nil || seq.stopped() {
			break
		}
		wp.Go(func(ctx context.Context) error {
			return p.worker(ctx, id, batch, items, seq)
		})
	}

	err := wp.Wait()
	if err != nil {
		seq.Abandon()
		pipelineRunsTotal.WithLabelValues("error").Inc()
		p.logger.Warn().
			Err(err).
			Int("released", seq.Next()).
			Int("total", n).
			Msg("Fetch aborted")
		return err
	}

	if !seq.Done() {
		seq.Abandon()
		pipelineRunsTotal.WithLabelValues("error").Inc()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %d of %d rows released", ErrInternal, seq.Next(), n)
	}

	pipelineRunsTotal.WithLabelValues("success").Inc()
	p.logger.Info().
		Int("items", n).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return nil
}
