package concurrent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunKeepsSiblingsOnFailure(t *testing.T) {
	tasks := []Task{
		{Name: "clients", Work: func(context.Context) (interface{}, error) { return 3, nil }},
		{Name: "profiles", Work: func(context.Context) (interface{}, error) { return nil, errors.New("503") }},
		{Name: "eeros", Work: func(context.Context) (interface{}, error) { return "ok", nil }},
	}

	results := Run(context.Background(), 2, tasks)
	require.Len(t, results, 3)
	assert.Equal(t, "clients", results[0].Name)
	assert.Equal(t, 3, results[0].Value)
	assert.Error(t, results[1].Error)

	assert.EqualError(t, results[1].Error, "503")
	assert.NoError(t, results[2].Error)
	assert.Equal(t, "ok", results[2].Value)
}

func TestRunHonorsLimit(t *testing.T) {
	var running, peak int32
	tasks := make([]Task, 8)
	for i := range tasks {
		tasks[i] = Task{Name: "t", Work: func(context.Context) (interface{}, error) {
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return nil, nil
		}}
	}

	Run(context.Background(), 3, tasks)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

func TestRunRecoversPanics(t *testing.T) {
	results := Run(context.Background(), 1, []Task{
		{Name: "bad", Work: func(context.Context) (interface{}, error) { panic("nil map") }},
	})
	require.Error(t, results[0].Error)
	assert.Contains(t, results[0].Error.Error(), "panicked")
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	results := Run(ctx, 1, []Task{
		{Name: "late", Work: func(context.Context) (interface{}, error) { called = true; return nil, nil }},
	})
	assert.False(t, called)
	assert.ErrorIs(t, results[0].Error, context.Canceled)
}
