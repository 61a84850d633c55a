package concurrent

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Task represents a named unit of work
type Task struct {
	Name string
	Work func(ctx context.Context) (interface{}, error)
}

// Result represents the result of a task
type Result struct {
	Name    string
	Value   interface{}
	Error   error
	Elapsed time.Duration
}

// Run executes tasks with at most limit running at once. A failing task never
// cancels its siblings; results are returned in task order.
func Run(ctx context.Context, limit int, tasks []Task) []Result {
	results := make([]Result, len(tasks))
	if len(tasks) == 0 {
		return results
	}

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, task := range tasks {
		g.Go(func() error {
			start := time.Now()
			res := Result{Name: task.Name}
			if err := ctx.Err(); err != nil {
				res.Error = err
			} else {
				res.Value, res.Error = safeCall(ctx, task)
			}
			res.Elapsed = time.Since(start)
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func safeCall(ctx context.Context, task Task) (v interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", task.Name, r)
		}
	}()
	return task.Work(ctx)
}
