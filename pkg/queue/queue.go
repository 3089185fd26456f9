// Package queue implements the Worker Pool (C8): scheduling pipeline
// invocations across tasks and runs with bounded global parallelism and
// per-service concurrency caps (spec §4.8), adapted from the teacher's
// pkg/queue/pool.go worker-pool shape — generalized from claiming
// DB-persisted alert sessions to admitting in-memory eval-run requests,
// since this spec has no cross-process run queue to persist (§13 notes this
// substitution).
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/evalharness/pkg/catalog"
	"github.com/codeready-toolchain/evalharness/pkg/config"
	"github.com/codeready-toolchain/evalharness/pkg/pipeline"
)

// ErrPoolStopped is returned by Submit once graceful shutdown has begun
// (spec §4.8: "stop admitting new work").
var ErrPoolStopped = errors.New("queue: worker pool is stopped")

// RunRequest identifies one (task, model, run_index) to schedule.
type RunRequest struct {
	Task     catalog.Task
	Model    string
	RunIndex int
}

// Executor runs one scheduled request end-to-end. *pipeline.Pipeline
// satisfies this directly.
type Executor interface {
	Run(ctx context.Context, task catalog.Task, model string, runIndex int) (*pipeline.RunResult, error)
}

// RunOutcome pairs a RunRequest with its terminal result.
type RunOutcome struct {
	Request RunRequest
	Result  *pipeline.RunResult
	Err     error
}

// WorkerPool admits RunRequests against a global concurrency bound and a
// per-service concurrency bound, serializing (e.g.) browser sessions to 1
// while letting filesystem and DB runs proceed up to max_workers (spec
// §4.8's stated defaults).
type WorkerPool struct {
	executor Executor
	cfg      *config.QueueConfig

	globalSem chan struct{}
	serviceMu sync.Mutex
	serviceSem map[string]chan struct{}
	caps       map[string]int // per-service override, from the Service Registry

	mu       sync.Mutex
	stopped  bool
	cancelFn context.CancelFunc
	poolCtx  context.Context
	wg       sync.WaitGroup

	inFlight   map[string]context.CancelFunc
	inFlightMu sync.Mutex
}

// NewWorkerPool constructs a pool bound to cfg's concurrency limits. caps
// carries any per-service override (e.g. browser=1, github=4) resolved by
// the Service Registry (spec §4.1d); a service absent from caps falls back
// to cfg.DefaultServiceCap.
func NewWorkerPool(executor Executor, cfg *config.QueueConfig, caps map[string]int) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		executor:   executor,
		cfg:        cfg,
		globalSem:  make(chan struct{}, cfg.MaxWorkers),
		serviceSem: make(map[string]chan struct{}),
		caps:       caps,
		poolCtx:    ctx,
		cancelFn:   cancel,
		inFlight:   make(map[string]context.CancelFunc),
	}
}

// Submit admits one request, blocking until both the global and per-service
// concurrency bounds allow it to proceed, then runs it to completion. Safe
// to call from many goroutines concurrently — callers typically spawn one
// goroutine per scheduled (task, model, run_index) and call Submit from
// each (spec §2's worker pool "schedules pipeline invocations across tasks
// and runs").
func (p *WorkerPool) Submit(ctx context.Context, req RunRequest) (*pipeline.RunResult, error) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil, ErrPoolStopped
	}
	p.wg.Add(1)
	p.mu.Unlock()
	defer p.wg.Done()

	sem := p.serviceSemaphore(req.Task.Service)

	select {
	case p.globalSem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.poolCtx.Done():
		return nil, ErrPoolStopped
	}
	defer func() { <-p.globalSem }()

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.poolCtx.Done():
		return nil, ErrPoolStopped
	}
	defer func() { <-sem }()

	runCtx, cancel := context.WithCancel(p.poolCtx)
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	id := fmt.Sprintf("%s/%s/r%d", req.Task.Path(), req.Model, req.RunIndex)
	p.registerInFlight(id, cancel)
	defer p.unregisterInFlight(id)

	slog.Info("queue: admitting run", "service", req.Task.Service, "task", req.Task.Path(), "model", req.Model, "run_index", req.RunIndex)
	return p.executor.Run(runCtx, req.Task, req.Model, req.RunIndex)
}

// Run submits every request and collects outcomes in completion order. It
// blocks until all requests finish or ctx is cancelled.
func (p *WorkerPool) Run(ctx context.Context, requests []RunRequest) []RunOutcome {
	outcomes := make(chan RunOutcome, len(requests))
	var wg sync.WaitGroup
	for _, req := range requests {
		wg.Add(1)
		go func(r RunRequest) {
			defer wg.Done()
			result, err := p.Submit(ctx, r)
			outcomes <- RunOutcome{Request: r, Result: result, Err: err}
		}(req)
	}

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	out := make([]RunOutcome, 0, len(requests))
	for o := range outcomes {
		out = append(out, o)
	}
	return out
}

// Stop begins graceful shutdown: stops admitting new work and waits up to
// cfg.GracefulShutdownTimeout for in-flight runs to finish (spec §4.8 "await
// Clean completion ... before exiting"). If they have not finished by then,
// it cancels their contexts and waits for them to return.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	slog.Info("queue: stopping worker pool gracefully", "drain_timeout", p.cfg.GracefulShutdownTimeout)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("queue: worker pool drained")
	case <-time.After(p.cfg.GracefulShutdownTimeout):
		slog.Warn("queue: drain timeout exceeded, cancelling in-flight runs")
		p.cancelFn()
		<-done
	}
}

func (p *WorkerPool) serviceSemaphore(service string) chan struct{} {
	p.serviceMu.Lock()
	defer p.serviceMu.Unlock()
	if sem, ok := p.serviceSem[service]; ok {
		return sem
	}
	svcCap := p.caps[service]
	if svcCap <= 0 {
		svcCap = p.cfg.DefaultServiceCap
	}
	sem := make(chan struct{}, svcCap)
	p.serviceSem[service] = sem
	return sem
}

func (p *WorkerPool) registerInFlight(id string, cancel context.CancelFunc) {
	p.inFlightMu.Lock()
	defer p.inFlightMu.Unlock()
	p.inFlight[id] = cancel
}

func (p *WorkerPool) unregisterInFlight(id string) {
	p.inFlightMu.Lock()
	defer p.inFlightMu.Unlock()
	delete(p.inFlight, id)
}

// Cancel triggers cancellation for one in-flight run by its
// "<task_path>/<model>/r<run_index>" id. Returns true if found.
func (p *WorkerPool) Cancel(id string) bool {
	p.inFlightMu.Lock()
	defer p.inFlightMu.Unlock()
	if cancel, ok := p.inFlight[id]; ok {
		cancel()
		return true
	}
	return false
}

// Health reports the pool's current occupancy (spec §13's pool-health
// supplement, repurposed from the teacher's AlertSession-scoped PoolHealth
// to eval-pipeline-runs).
type Health struct {
	MaxWorkers    int            `json:"max_workers"`
	ActiveRuns    int            `json:"active_runs"`
	ServiceCaps   map[string]int `json:"service_caps"`
}

// Health returns a point-in-time snapshot of pool occupancy.
func (p *WorkerPool) Health() Health {
	p.inFlightMu.Lock()
	active := len(p.inFlight)
	p.inFlightMu.Unlock()

	p.serviceMu.Lock()
	caps := make(map[string]int, len(p.serviceSem))
	for svc, sem := range p.serviceSem {
		caps[svc] = cap(sem)
	}
	p.serviceMu.Unlock()

	return Health{MaxWorkers: p.cfg.MaxWorkers, ActiveRuns: active, ServiceCaps: caps}
}

// ServiceCaps projects every registered service's configured concurrency
// cap out of the Service Registry, for NewWorkerPool's caps argument.
func ServiceCaps(cfg *config.Config) map[string]int {
	caps := make(map[string]int)
	for _, name := range cfg.Services.Names() {
		svc, err := cfg.Services.Get(name)
		if err != nil {
			continue
		}
		caps[name] = svc.ConcurrencyCap
	}
	return caps
}
