// Package concurrency runs independent work items on a bounded worker pool.
// The sync tools use it to drive several broker connections at once; work
// inside one connection stays sequential.
package concurrency

import (
	"context"
	"sync"
)

// ParallelOptions configures the pool.
type ParallelOptions struct {
	MaxWorkers int
}

func DefaultOptions() ParallelOptions {
	return ParallelOptions{MaxWorkers: 4}
}

// ProcessParallel runs itemFunc over items on up to MaxWorkers goroutines
// and returns the results in input order plus any errors collected.
func ProcessParallel[T any, R any](
	ctx context.Context,
	items []T,
	opts ParallelOptions,
	itemFunc func(ctx context.Context, index int, item T) (R, error),
) ([]R, []error) {
	if len(items) == 0 {
		return []R{}, nil
	}

	maxWorkers := opts.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = DefaultOptions().MaxWorkers
	}
	if maxWorkers > len(items) {
		maxWorkers = len(items)
	}

	jobs := make(chan int, len(items))
	results := make(chan struct {
		index  int
		result R
		err    error
	}, len(items))

	var wg sync.WaitGroup
	for w := 0; w < maxWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for jobIndex := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
					result, err := itemFunc(ctx, jobIndex, items[jobIndex])
					results <- struct {
						index  int
						result R
						err    error
					}{jobIndex, result, err}
				}
			}
		}()
	}

	for i := range items {
		jobs <- i
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	resultList := make([]R, len(items))
	var errors []error
	for range items {
		res, ok := <-results
		if !ok {
			break
		}
		if res.err != nil {
			errors = append(errors, res.err)
		}
		resultList[res.index] = res.result
	}
	return resultList, errors
}

// ForEach runs itemFunc over items in parallel for its side effects only.
func ForEach[T any](
	ctx context.Context,
	items []T,
	opts ParallelOptions,
	itemFunc func(ctx context.Context, index int, item T) error,
) []error {
	_, errs := ProcessParallel(ctx, items, opts, func(ctx context.Context, i int, item T) (struct{}, error) {
		return struct{}{}, itemFunc(ctx, i, item)
	})
	return errs
}
