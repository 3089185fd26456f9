package queue_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/evalharness/pkg/catalog"
	"github.com/codeready-toolchain/evalharness/pkg/config"
	"github.com/codeready-toolchain/evalharness/pkg/pipeline"
	"github.com/codeready-toolchain/evalharness/pkg/queue"
)

// fakeExecutor tracks concurrent in-flight calls per service so tests can
// assert the per-service concurrency cap is honoured.
type fakeExecutor struct {
	mu        sync.Mutex
	active    map[string]int
	maxActive map[string]int
	delay     time.Duration
	calls     int32
}

func newFakeExecutor(delay time.Duration) *fakeExecutor {
	return &fakeExecutor{active: map[string]int{}, maxActive: map[string]int{}, delay: delay}
}

func (f *fakeExecutor) Run(ctx context.Context, task catalog.Task, model string, runIndex int) (*pipeline.RunResult, error) {
	atomic.AddInt32(&f.calls, 1)

	f.mu.Lock()
	f.active[task.Service]++
	if f.active[task.Service] > f.maxActive[task.Service] {
		f.maxActive[task.Service] = f.active[task.Service]
	}
	f.mu.Unlock()

	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
	}

	f.mu.Lock()
	f.active[task.Service]--
	f.mu.Unlock()

	return &pipeline.RunResult{Task: task, Model: model, RunIndex: runIndex}, ctx.Err()
}

func task(service, name string) catalog.Task {
	return catalog.Task{Service: service, Category: "cat", Name: name}
}

func TestWorkerPool_HonoursPerServiceCap(t *testing.T) {
	exec := newFakeExecutor(30 * time.Millisecond)
	cfg := config.DefaultQueueConfig()
	cfg.MaxWorkers = 8

	pool := queue.NewWorkerPool(exec, cfg, map[string]int{"browser": 1})

	var requests []queue.RunRequest
	for i := 0; i < 5; i++ {
		requests = append(requests, queue.RunRequest{Task: task("browser", "t"), Model: "claude-x", RunIndex: i})
	}

	outcomes := pool.Run(context.Background(), requests)
	require.Len(t, outcomes, 5)
	for _, o := range outcomes {
		assert.NoError(t, o.Err)
	}

	exec.mu.Lock()
	defer exec.mu.Unlock()
	assert.Equal(t, 1, exec.maxActive["browser"], "browser runs must serialize to the configured cap")
}

func TestWorkerPool_AdmitsDifferentServicesConcurrently(t *testing.T) {
	exec := newFakeExecutor(30 * time.Millisecond)
	cfg := config.DefaultQueueConfig()
	cfg.MaxWorkers = 8

	pool := queue.NewWorkerPool(exec, cfg, map[string]int{"browser": 1, "filesystem": 8})

	requests := []queue.RunRequest{
		{Task: task("browser", "a"), Model: "claude-x", RunIndex: 0},
		{Task: task("filesystem", "b"), Model: "claude-x", RunIndex: 0},
		{Task: task("filesystem", "c"), Model: "claude-x", RunIndex: 0},
	}

	outcomes := pool.Run(context.Background(), requests)
	require.Len(t, outcomes, 3)

	exec.mu.Lock()
	defer exec.mu.Unlock()
	assert.GreaterOrEqual(t, exec.maxActive["filesystem"], 1)
}

func TestWorkerPool_StopRejectsNewSubmissions(t *testing.T) {
	exec := newFakeExecutor(5 * time.Millisecond)
	cfg := config.DefaultQueueConfig()
	cfg.GracefulShutdownTimeout = time.Second

	pool := queue.NewWorkerPool(exec, cfg, nil)
	pool.Stop()

	_, err := pool.Submit(context.Background(), queue.RunRequest{Task: task("filesystem", "x"), Model: "claude-x", RunIndex: 0})
	assert.ErrorIs(t, err, queue.ErrPoolStopped)
}

func TestWorkerPool_StopDrainsInFlightRuns(t *testing.T) {
	exec := newFakeExecutor(40 * time.Millisecond)
	cfg := config.DefaultQueueConfig()
	cfg.GracefulShutdownTimeout = time.Second

	pool := queue.NewWorkerPool(exec, cfg, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = pool.Submit(context.Background(), queue.RunRequest{Task: task("filesystem", "x"), Model: "claude-x", RunIndex: 0})
	}()

	time.Sleep(5 * time.Millisecond)
	pool.Stop()
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&exec.calls))
}
