package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate performs comprehensive, fail-aggregating validation on a loaded
// Config (spec §4.1 "fail with an aggregated error listing all missing
// keys"). Per-key schema validation already happened during service
// resolution; this pass checks the cross-cutting system settings (queue
// tuning, agent limits, retry policy) using struct tags, mirroring the
// teacher's validator.go ordering (queue first, since other components
// depend on its bounds).
func Validate(cfg *Config) error {
	v := validator.New()
	var errs []error

	if err := v.Struct(cfg.Queue); err != nil {
		errs = append(errs, NewValidationError("queue", "", "", err))
	} else if cfg.Queue.PollIntervalJitter >= cfg.Queue.PollInterval && cfg.Queue.PollIntervalJitter > 0 {
		errs = append(errs, NewValidationError("queue", "", "poll_interval_jitter",
			fmt.Errorf("must be less than poll_interval")))
	}

	if cfg.Defaults != nil && cfg.Defaults.AgentLimits != nil {
		if err := v.Struct(cfg.Defaults.AgentLimits); err != nil {
			errs = append(errs, NewValidationError("agent_limits", "", "", err))
		}
	}

	if cfg.Defaults != nil && cfg.Defaults.RetryPolicy != nil {
		if err := v.Struct(cfg.Defaults.RetryPolicy); err != nil {
			errs = append(errs, NewValidationError("retry_policy", "", "", err))
		} else if cfg.Defaults.RetryPolicy.MaxBackoff < cfg.Defaults.RetryPolicy.BaseBackoff {
			errs = append(errs, NewValidationError("retry_policy", "", "max_backoff",
				fmt.Errorf("must be >= base_backoff")))
		}
	}

	for _, name := range cfg.Services.Names() {
		svc, err := cfg.Services.Get(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if svc.ConcurrencyCap < 1 {
			errs = append(errs, NewValidationError("service", name, "concurrency_cap",
				fmt.Errorf("must be at least 1, got %d", svc.ConcurrencyCap)))
		}
	}

	return NewAggregateError(errs)
}
