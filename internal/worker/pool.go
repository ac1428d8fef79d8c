// Package worker provides a bounded worker pool for refreshing map themes in parallel.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/MeKo-Tech/esrioverlay/internal/types"
)

// Refresher refreshes a single theme against a bounding box and reports how many
// features it drew.
type Refresher interface {
	RefreshTheme(ctx context.Context, index int, bbox types.BoundingBox) (features int, err error)
}

// RefresherFunc adapts a function to the Refresher interface.
type RefresherFunc func(ctx context.Context, index int, bbox types.BoundingBox) (int, error)

// RefreshTheme calls f.
func (f RefresherFunc) RefreshTheme(ctx context.Context, index int, bbox types.BoundingBox) (int, error) {
	return f(ctx, index, bbox)
}

// Task represents a single theme refresh.
type Task struct {
	Index int
	Theme string
	BBox  types.BoundingBox
}

// Result represents the outcome of a theme refresh.
type Result struct {
	Task     Task
	Features int
	Err      error
	Elapsed  time.Duration
}

// ProgressFunc is called after each task completes.
type ProgressFunc func(completed, total, failed int)

// Config configures the worker pool.
type Config struct {
	Workers    int
	Refresher  Refresher
	OnProgress ProgressFunc
}

// Pool runs theme refreshes in parallel.
type Pool struct {
	workers    int
	refresher  Refresher
	onProgress ProgressFunc
}

// New creates a new worker pool.
func New(cfg Config) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	return &Pool{
		workers:    workers,
		refresher:  cfg.Refresher,
		onProgress: cfg.OnProgress,
	}
}

// Run executes all tasks and returns one result per task, in completion order.
// The function blocks until all tasks complete. Tasks not started before ctx ends
// report ctx.Err().
func (p *Pool) Run(ctx context.Context, tasks []Task) []Result {
	if len(tasks) == 0 {
		return nil
	}

	taskCh := make(chan Task, len(tasks))
	resultCh := make(chan Result, len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < min(p.workers, len(tasks)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx, taskCh, resultCh)
		}()
	}

	for _, task := range tasks {
		taskCh <- task
	}
	close(taskCh)

	results := make([]Result, 0, len(tasks))
	done := make(chan struct{})

	go func() {
		var completed, failed int
		for result := range resultCh {
			results = append(results, result)

			completed++
			if result.Err != nil {
				failed++
			}
			if p.onProgress != nil {
				p.onProgress(completed, len(tasks), failed)
			}
		}
		close(done)
	}()

	wg.Wait()
	close(resultCh)
	<-done

	return results
}

// worker processes tasks from the task channel and sends results to the result channel.
func (p *Pool) worker(ctx context.Context, tasks <-chan Task, results chan<- Result) {
	for task := range tasks {
		select {
		case <-ctx.Done():
			results <- Result{
				Task: task,
				Err:  ctx.Err(),
			}
			continue
		default:
		}

		start := time.Now()
		features, err := p.refresher.RefreshTheme(ctx, task.Index, task.BBox)
		elapsed := time.Since(start)

		results <- Result{
			Task:     task,
			Features: features,
			Err:      err,
			Elapsed:  elapsed,
		}
	}
}
