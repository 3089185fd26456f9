package config

import "time"

// AgentLimits are the C4 Agent Runner's per-run limits (spec §4.4.1).
type AgentLimits struct {
	MaxTurns          int           `yaml:"max_turns" validate:"min=1"`
	WallDeadline      time.Duration `yaml:"wall_deadline" validate:"min=1s"`
	MaxTokensTotal    int           `yaml:"max_tokens_total"`
	ToolCallTimeout   time.Duration `yaml:"tool_call_timeout" validate:"min=1s"`
	VerifierTimeout   time.Duration `yaml:"verifier_timeout" validate:"min=1s"`
}

// DefaultAgentLimits returns spec §4.4.1/§4.5's stated defaults.
func DefaultAgentLimits() *AgentLimits {
	return &AgentLimits{
		MaxTurns:        30,
		WallDeadline:    300 * time.Second,
		MaxTokensTotal:  0, // 0 = no soft cap
		ToolCallTimeout: 120 * time.Second,
		VerifierTimeout: 300 * time.Second,
	}
}

// RetryPolicy is the C6 Pipeline's retry budget (spec §4.6.3).
type RetryPolicy struct {
	MaxAttempts  int           `yaml:"max_attempts" validate:"min=1"`
	BaseBackoff  time.Duration `yaml:"base_backoff" validate:"min=1ms"`
	MaxBackoff   time.Duration `yaml:"max_backoff" validate:"min=1ms"`
	JitterFrac   float64       `yaml:"jitter_frac" validate:"min=0,max=1"`
}

// DefaultRetryPolicy returns spec §4.6.3's stated defaults (3 attempts,
// base 2s, cap 30s, jitter +-20%).
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 3,
		BaseBackoff: 2 * time.Second,
		MaxBackoff:  30 * time.Second,
		JitterFrac:  0.2,
	}
}

// QueueConfig tunes the C8 Worker Pool (spec §4.8).
type QueueConfig struct {
	MaxWorkers              int           `yaml:"max_workers" validate:"min=1,max=256"`
	DefaultServiceCap       int           `yaml:"default_service_cap" validate:"min=1"`
	NetworkServiceCap       int           `yaml:"network_service_cap" validate:"min=1"`
	BrowserServiceCap       int           `yaml:"browser_service_cap" validate:"min=1"`
	PollInterval            time.Duration `yaml:"poll_interval" validate:"min=1ms"`
	PollIntervalJitter      time.Duration `yaml:"poll_interval_jitter"`
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout" validate:"min=1s"`
	OrphanDetectionInterval time.Duration `yaml:"orphan_detection_interval" validate:"min=1s"`
	OrphanThreshold         time.Duration `yaml:"orphan_threshold" validate:"min=1s"`
}

// DefaultQueueConfig returns the worker pool's defaults: 8 workers and a 60s
// drain timeout. Per-service caps come from each ServiceDefinition's
// ConcurrencyCap (browser 1, github 4); a service that declares none
// (notion, filesystem, postgres) gets DefaultServiceCap, a fixed value that
// does not follow MaxWorkers. NetworkServiceCap and BrowserServiceCap are not
// read when per-service caps are resolved.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxWorkers:              8,
		DefaultServiceCap:       8, // for services without their own cap; independent of MaxWorkers
		NetworkServiceCap:       4,
		BrowserServiceCap:       1,
		PollInterval:            500 * time.Millisecond,
		PollIntervalJitter:      100 * time.Millisecond,
		GracefulShutdownTimeout: 60 * time.Second,
		OrphanDetectionInterval: 30 * time.Second,
		OrphanThreshold:         10 * time.Minute,
	}
}

// Defaults groups system-wide defaults resolved at startup.
type Defaults struct {
	AgentLimits *AgentLimits `yaml:"agent_limits"`
	RetryPolicy *RetryPolicy `yaml:"retry_policy"`
}
