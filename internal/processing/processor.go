// Package processing runs a list of jobs with a fixed concurrency limit.
package processing

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Job handles the item at index i. It must observe ctx itself; the pool never
// skips a job so every item gets a chance to report its own result.
type Job func(ctx context.Context, i int)

// Processor bounds how many jobs run at the same time.
type Processor struct {
	workers int
}

// New builds a Processor. Non-positive worker counts fall back to one.
func New(workers int) *Processor {
	if workers <= 0 {
		workers = 1
	}
	return &Processor{workers: workers}
}

// Run executes job for indexes 0..n-1 in order of submission and blocks until
// all have returned.
func (p *Processor) Run(ctx context.Context, n int, job Job) {
	var eg errgroup.Group
	eg.SetLimit(p.workers)
	for i := 0; i < n; i++ {
		// Go blocks while the limit is reached.
		eg.Go(func() error {
			job(ctx, i)
			return nil
		})
	}
	eg.Wait()
}
