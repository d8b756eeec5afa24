package llm

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// WorkerPoolConfig configures the provider worker pool.
type WorkerPoolConfig struct {
	MaxConcurrent int // Maximum in-flight provider calls (default: 8)
}

// DefaultWorkerPoolConfig returns sensible defaults.
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{MaxConcurrent: 8}
}

// WorkerPool bounds concurrent provider calls, such as the embedding batches
// issued while consolidating a user's memories. A semaphore caps in-flight
// requests; completed results drain as they arrive.
type WorkerPool struct {
	config WorkerPoolConfig
	logger *zap.Logger
}

// NewWorkerPool creates a worker pool. Non-positive concurrency falls back
// to the default.
func NewWorkerPool(config WorkerPoolConfig, logger *zap.Logger) *WorkerPool {
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = 8
	}
	return &WorkerPool{
		config: config,
		logger: logger.Named("llm-worker-pool"),
	}
}

// WorkItem is a unit of work to run through the pool.
type WorkItem[T any] struct {
	ID      string                               // For logging/tracking
	Execute func(ctx context.Context) (T, error) // The work to be executed
}

// WorkResult pairs a work item's ID with its outcome.
type WorkResult[T any] struct {
	ID     string
	Result T
	Err    error
}

// Process runs every item with bounded parallelism and returns one result
// per item, in completion order. Individual failures do not stop the batch;
// a cancelled context surfaces as ctx.Err() on the items that never ran.
func Process[T any](
	ctx context.Context,
	pool *WorkerPool,
	items []WorkItem[T],
	onProgress func(completed, total int),
) []WorkResult[T] {
	total := len(items)
	if total == 0 {
		return nil
	}

	outcomes := make(chan WorkResult[T], total)
	slots := make(chan struct{}, pool.config.MaxConcurrent)

	var wg sync.WaitGroup
	wg.Add(total)
	for _, item := range items {
		go func(item WorkItem[T]) {
			defer wg.Done()

			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				var zero T
				outcomes <- WorkResult[T]{ID: item.ID, Result: zero, Err: ctx.Err()}
				return
			}
			defer func() { <-slots }()

			result, err := item.Execute(ctx)
			outcomes <- WorkResult[T]{ID: item.ID, Result: result, Err: err}
		}(item)
	}

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	results := make([]WorkResult[T], 0, total)
	for outcome := range outcomes {
		results = append(results, outcome)
		if onProgress != nil {
			onProgress(len(results), total)
		}
	}
	return results
}
