package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConfig(t *testing.T) *Config {
	t.Helper()
	services, err := NewServiceRegistry(nil, nil, nil)
	require.NoError(t, err)
	return &Config{
		Defaults: &Defaults{
			AgentLimits: DefaultAgentLimits(),
			RetryPolicy: DefaultRetryPolicy(),
		},
		Queue:    DefaultQueueConfig(),
		Services: services,
	}
}

func TestValidate_DefaultsPass(t *testing.T) {
	cfg := newTestConfig(t)
	assert.NoError(t, Validate(cfg))
}

func TestValidate_QueueOutOfBounds(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Queue.MaxWorkers = 0

	err := Validate(cfg)
	require.Error(t, err)

	var agg *AggregateError
	require.ErrorAs(t, err, &agg)
	assert.NotEmpty(t, agg.Errors)
}

func TestValidate_RetryPolicyMaxBelowBase(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Defaults.RetryPolicy.MaxBackoff = cfg.Defaults.RetryPolicy.BaseBackoff / 2

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_backoff")
}

func TestValidate_JitterMustBeBelowPollInterval(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Queue.PollIntervalJitter = cfg.Queue.PollInterval * 2

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poll_interval_jitter")
}

func TestValidate_ServiceConcurrencyCapMustBePositive(t *testing.T) {
	t.Setenv("TEST_zeroCap_API_KEY", "x")
	def := simpleDef("zeroCap")
	def.ConcurrencyCap = 0

	services, err := NewServiceRegistry([]ServiceDefinition{def}, nil, nil)
	require.NoError(t, err)

	cfg := newTestConfig(t)
	cfg.Services = services

	err = Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "concurrency_cap")
}
