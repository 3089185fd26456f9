// Package api provides a thin HTTP status/health surface over a running
// experiment: worker pool occupancy and per-service concurrency, adapted
// from the teacher's pkg/api/handler_health.go health-check/status-aggregation
// shape. The teacher's handler is built on echo, but echo never appears in
// this module's (or the teacher's own) go.mod — gin does, matching the
// teacher's pkg/api/handlers.go — so this package is implemented on gin
// instead, keeping handler_health.go's HealthCheck map and aggregated
// overall-status logic.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/evalharness/pkg/config"
	"github.com/codeready-toolchain/evalharness/pkg/queue"
	"github.com/codeready-toolchain/evalharness/pkg/version"
)

// Status is one subsystem's health, mirroring the teacher's HealthCheck.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
)

// HealthCheck is one named subsystem's reported status, matching the shape
// of the teacher's per-check entries (status plus optional detail).
type HealthCheck struct {
	Status  Status `json:"status"`
	Detail  string `json:"detail,omitempty"`
}

// HealthResponse is the /healthz body: an overall status plus the checks
// that produced it (spec §13's supplemented status surface).
type HealthResponse struct {
	Status  Status                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}

// PoolStatusResponse is the /status body: a snapshot of worker pool
// occupancy, useful for watching a long-running experiment from outside.
type PoolStatusResponse struct {
	MaxWorkers  int            `json:"max_workers"`
	ActiveRuns  int            `json:"active_runs"`
	ServiceCaps map[string]int `json:"service_caps"`
}

// Server exposes /healthz and /status over the worker pool and resolved
// config for a running evalctl run command (spec §13).
type Server struct {
	engine *gin.Engine
	http   *http.Server

	cfg  *config.Config
	pool *queue.WorkerPool
}

// NewServer builds a gin-based status server. Call ListenAndServe to start
// it; it is optional and only useful for long multi-hour experiment runs.
func NewServer(cfg *config.Config, pool *queue.WorkerPool) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{engine: engine, cfg: cfg, pool: pool}
	engine.GET("/healthz", s.healthHandler)
	engine.GET("/status", s.statusHandler)
	return s
}

// Handler returns the underlying HTTP handler, for tests that want to drive
// requests through httptest without binding a real port.
func (s *Server) Handler() http.Handler { return s.engine }

// ListenAndServe starts the status server on addr, blocking until it exits
// or errors. addr follows net/http: ":0" binds an ephemeral port, and ""
// listens on ":http".
func (s *Server) ListenAndServe(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.http.ListenAndServe()
}

// Shutdown closes the status server, if it was started: the listener and
// all open connections are closed at once, without draining in-flight
// requests.
func (s *Server) Shutdown() error {
	if s.http == nil {
		return nil
	}
	return s.http.Close()
}

// healthHandler reports config and worker-pool health, mirroring the
// teacher's healthHandler's checks-map-plus-overall-status shape but built
// against this module's own subsystems instead of a DB client and
// AlertSession-backed worker pool.
func (s *Server) healthHandler(c *gin.Context) {
	checks := map[string]HealthCheck{
		"config": s.configCheck(),
	}
	if s.pool != nil {
		checks["worker_pool"] = s.poolCheck()
	}

	overall := StatusHealthy
	for _, check := range checks {
		if check.Status != StatusHealthy {
			overall = StatusDegraded
		}
	}

	code := http.StatusOK
	if overall != StatusHealthy {
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, HealthResponse{Status: overall, Version: version.Full(), Checks: checks})
}

func (s *Server) configCheck() HealthCheck {
	if s.cfg == nil || s.cfg.Services == nil || len(s.cfg.Services.Names()) == 0 {
		return HealthCheck{Status: StatusDegraded, Detail: "no services resolved"}
	}
	return HealthCheck{Status: StatusHealthy}
}

func (s *Server) poolCheck() HealthCheck {
	h := s.pool.Health()
	if h.ActiveRuns > h.MaxWorkers {
		return HealthCheck{Status: StatusDegraded, Detail: "active runs exceed max_workers"}
	}
	return HealthCheck{Status: StatusHealthy}
}

// statusHandler reports the worker pool's current occupancy, for watching
// experiment progress from outside the process (spec §13).
func (s *Server) statusHandler(c *gin.Context) {
	if s.pool == nil {
		c.JSON(http.StatusOK, PoolStatusResponse{})
		return
	}
	h := s.pool.Health()
	c.JSON(http.StatusOK, PoolStatusResponse{
		MaxWorkers:  h.MaxWorkers,
		ActiveRuns:  h.ActiveRuns,
		ServiceCaps: h.ServiceCaps,
	})
}
