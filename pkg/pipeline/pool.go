package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/rowstream/pkg/record"
)

// RowFetcher turns one item into its row.
type RowFetcher interface {
	FetchRow(ctx context.Context, item record.Item) (record.Row, error)
}

// FetchFunc adapts a function to RowFetcher.
type FetchFunc func(ctx context.Context, item record.Item) (record.Row, error)

// FetchRow calls f(ctx, item).
func (f FetchFunc) FetchRow(ctx context.Context, item record.Item) (record.Row, error) {
	return f(ctx, item)
}

// worker processes one batch in index order.
//
// Only the goroutine that causes a failure returns an error. Workers that stop
// because of that failure return nil, so the pool reports the cause and not
// a follow-on cancellation.
func (p *Pipeline) worker(ctx context.Context, workerID int, batch Batch, items []record.Item, seq *Sequencer) (err error) {
	processed := 0

	defer func() {
		if r := recover(); r != nil {
			seq.Abandon()
			p.logger.Error().
				Int("worker_id", workerID).
				Interface("panic", r).
				Msg("Worker panicked")
			err = fmt.Errorf("%w: worker %d panicked: %v", ErrInternal, workerID, r)
		}
	}()

	for i := batch.Start; i < batch.End; i++ {
		if ctx.Err() != nil {
			p.logger.Debug().
				Int("worker_id", workerID).
				Int("items_processed", processed).
				Msg("Worker stopping (context cancelled)")
			return nil
		}

		item := items[i]
		row, fetchErr := p.fetch(ctx, item)
		if fetchErr != nil {
			if ctx.Err() != nil {
				return nil
			}
			seq.Abandon()
			p.logger.Warn().
				Err(fetchErr).
				Int("worker_id", workerID).
				Int("index", item.Index).
				Str("ref", item.SourceRef).
				Msg("Item fetch failed")
			return &FetchError{Index: item.Index, Ref: item.SourceRef, Err: fetchErr}
		}

		if depErr := seq.Deposit(item.Index, row); depErr != nil {
			if errors.Is(depErr, ErrAbandoned) {
				return nil
			}
			return depErr
		}
		processed++
	}

	p.logger.Debug().
		Int("worker_id", workerID).
		Int("items_processed", processed).
		Msg("Worker completed")

	return nil
}

func (p *Pipeline) fetch(ctx context.Context, item record.Item) (record.Row, error) {
	itemCtx, cancel := context.WithTimeout(ctx, p.config.FetchTimeout)
	defer cancel()

	start := time.Now()
	row, err := p.fetcher.FetchRow(itemCtx, item)
	fetchDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		rowsFetchedTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	rowsFetchedTotal.WithLabelValues("success").Inc()
	return row, nil
}
