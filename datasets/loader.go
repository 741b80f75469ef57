package datasets

import (
	"context"
	"runtime"
	"sync"

	"github.com/klauspost/cpuid/v2"
	"k8s.io/klog/v2"
)

// DefaultWorkers is the prefetch worker count used when none is configured:
// the number of physical cores, since rendering gains little from SMT
// siblings.
func DefaultWorkers() int {
	if n := cpuid.CPU.PhysicalCores; n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// Loader renders a dataset's batches on a worker pool, keeping up to
// Prefetch batches ready ahead of the consumer.
type Loader struct {
	ds       *TextDataset
	Workers  int
	Prefetch int
}

// NewLoader creates a loader. Non-positive workers selects DefaultWorkers;
// non-positive prefetch selects twice the worker count.
func NewLoader(ds *TextDataset, workers, prefetch int) *Loader {
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	if prefetch <= 0 {
		prefetch = 2 * workers
	}
	return &Loader{ds: ds, Workers: workers, Prefetch: prefetch}
}

// Dataset returns the dataset the loader reads.
func (l *Loader) Dataset() *TextDataset { return l.ds }

type batchResult struct {
	batch *Batch
	err   error
}

// Run calls fn for every batch of the dataset, in batch order. It stops at
// the first error, from rendering or from fn, and returns it. Cancelling ctx
// stops the run between batches.
func (l *Loader) Run(ctx context.Context, fn func(*Batch) error) error {
	n := l.ds.NumBatches()
	if n == 0 {
		return nil
	}
	workers := min(l.Workers, n)

	ctx, cancel := context.WithCancel(ctx)

	// One buffered slot per batch lets workers finish out of order while the
	// consumer reads in order. The semaphore bounds how far ahead they run.
	slots := make([]chan batchResult, n)
	for i := range slots {
		slots[i] = make(chan batchResult, 1)
	}
	sem := make(chan struct{}, l.Prefetch)
	jobs := make(chan int)

	go func() {
		defer close(jobs)
		for i := 0; i < n; i++ {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				b, err := l.ds.batchAt(i)
				slots[i] <- batchResult{batch: b, err: err}
			}
		}()
	}
	defer func() {
		cancel()
		wg.Wait()
	}()

	klog.V(1).Infof("loader %s: %d batches, %d workers, prefetch %d", l.ds.Name(), n, workers, l.Prefetch)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		var r batchResult
		select {
		case r = <-slots[i]:
		case <-ctx.Done():
			return ctx.Err()
		}
		if r.err != nil {
			return r.err
		}
		if err := fn(r.batch); err != nil {
			return err
		}
		<-sem
	}
	return nil
}
