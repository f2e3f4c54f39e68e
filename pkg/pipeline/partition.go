package pipeline

// Batch is a contiguous slice of item indices, [Start, End).
type Batch struct {
	Start int
	End   int
}

// Len returns the number of indices in the batch.
func (b Batch) Len() int {
	return b.End - b.Start
}

// Workers returns the pool size for n items: min(available, n), at least 1.
func Workers(available, n int) int {
	if available < 1 {
		available = 1
	}
	if n < available {
		if n < 1 {
			return 1
		}
		return n
	}
	return available
}

// Partition slices 0..n-1 into at most workers contiguous batches of
// max(n/workers, 1) indices. The last batch also takes the remainder. Every
// index is covered exactly once, in ascending order.
func Partition(n, workers int) []Batch {
	if n <= 0 {
		return nil
	}
	if workers < 1 {
		workers = 1
	}

	size := n / workers
	if size < 1 {
		size = 1
	}
	count := n / size
	if count > workers {
		count = workers
	}

	batches := make([]Batch, count)
	for i := range batches {
		batches[i] = Batch{Start: i * size, End: (i + 1) * size}
	}
	batches[count-1].End = n
	return batches
}
