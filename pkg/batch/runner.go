package batch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds runner configuration
type Config struct {
	// MaxConcurrency is the maximum number of tasks in flight.
	// Browsers cap parallel connections per host at 6, so does the default.
	MaxConcurrency int
}

// DefaultConfig returns the default runner configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 6,
	}
}

// Task is a single unit of work identified by its index
type Task func(ctx context.Context, index int) error

// Runner executes tasks on a bounded worker pool
type Runner struct {
	config Config
}

// NewRunner creates a new runner
func NewRunner(config Config) *Runner {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultConfig().MaxConcurrency
	}
	return &Runner{config: config}
}

// Run executes task for every index in [0, n) and waits for all of them.
// The returned slice has length n; errs[i] is the outcome of task i.
func (r *Runner) Run(ctx context.Context, n int, task Task) []error {
	if n <= 0 {
		return nil
	}
	start := time.Now()

	errs := make([]error, n)

	queue := make(chan int, n)
	for i := 0; i < n; i++ {
		queue <- i
	}
	close(queue)

	workers := r.config.MaxConcurrency
	if workers > n {
		workers = n
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go r.worker(ctx, task, queue, errs, &wg, w)
	}
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}

	log.Debug().
		Int("tasks", n).
		Int("workers", workers).
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("Batch complete")

	return errs
}

// worker drains the queue. Each index is owned by exactly one worker, so
// errs needs no locking.
func (r *Runner) worker(ctx context.Context, task Task, queue <-chan int, errs []error, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	processed := 0

	for index := range queue {
		if err := ctx.Err(); err != nil {
			errs[index] = err
			continue
		}

		errs[index] = task(ctx, index)
		processed++
	}

	if processed > 0 {
		log.Debug().
			Int("worker_id", workerID).
			Int("tasks_processed", processed).
			Msg("Worker completed")
	}
}
