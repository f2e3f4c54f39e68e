// Package pipeline fetches a list of items in parallel and releases the
// resulting rows strictly in list order.
//
// Items are cut into contiguous batches, one pool task per batch, with at
// most min(MaxWorkers, N) tasks running at once. Finished rows go through a
// Sequencer, a reorder buffer that holds a row until every earlier index has
// been released.
//
// Example usage:
//
//	p := pipeline.New(fetcher, pipeline.DefaultConfig(), logger)
//	err := p.Run(ctx, listing.Items(), func(row record.Row) error {
//		return enc.SendLine(row.Line())
//	})
//
// The first fetch failure cancels outstanding work. Rows already released
// stay released and no row after the failure point is sent.
package pipeline
