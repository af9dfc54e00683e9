// Package batch provides a bounded worker pool for running a fixed number of
// independent tasks in parallel.
//
// The offline agent uses it twice: to fetch every manifest asset during
// install, and to delete stale cache stores during activation.
//
// Example usage:
//
//	runner := batch.NewRunner(batch.DefaultConfig())
//	errs := runner.Run(ctx, len(urls), func(ctx context.Context, i int) error {
//		return fetch(ctx, urls[i])
//	})
//	if err := errors.Join(errs...); err != nil {
//		// at least one task failed
//	}
//
// The runner:
//   - Spawns at most MaxConcurrency workers (never more than tasks)
//   - Hands out task indexes through a buffered queue
//   - Records one error slot per task, indexed like the input
//   - Marks tasks that never started because the context ended with ctx.Err()
package batch
