// Package pipeline implements the Pipeline (C6): the per-run state machine
// of spec §4.6 that sequences state preparation, agent execution,
// verification, and cleanup, retrying the classified-transient portion of
// that sequence within a bounded budget (spec §4.6.3).
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"path/filepath"
	"time"

	"github.com/codeready-toolchain/evalharness/pkg/agent"
	"github.com/codeready-toolchain/evalharness/pkg/agent/llm"
	"github.com/codeready-toolchain/evalharness/pkg/agent/mcp"
	"github.com/codeready-toolchain/evalharness/pkg/catalog"
	"github.com/codeready-toolchain/evalharness/pkg/config"
	"github.com/codeready-toolchain/evalharness/pkg/state"
	"github.com/codeready-toolchain/evalharness/pkg/verifier"
)

// Stage names a pipeline state, for logging (spec §4.6.1).
type Stage string

const (
	StagePreparingState Stage = "preparing_state"
	StageExecuting      Stage = "executing"
	StageVerifying      Stage = "verifying"
	StageReporting      Stage = "reporting"
	StageEnd            Stage = "end"
)

// Pipeline drives one (task, model, run_index) through Start → PreparingState
// → Executing → Verifying → Reporting → End.
type Pipeline struct {
	Config   *config.Config
	States   *state.Registry
	Agent    *agent.Runner
	Verifier *verifier.Runner
	Creds    llm.ProviderCredentials

	ResultsRoot string
	Experiment  string
}

// New constructs a Pipeline from its resolved dependencies.
func New(cfg *config.Config, states *state.Registry, creds llm.ProviderCredentials, experiment string) *Pipeline {
	return &Pipeline{
		Config:      cfg,
		States:      states,
		Agent:       agent.New(),
		Verifier:    verifier.New(),
		Creds:       creds,
		ResultsRoot: cfg.ResultsRoot,
		Experiment:  experiment,
	}
}

// Run executes task under model for run_index runIndex end-to-end,
// persisting an artefact regardless of outcome, and always attempting
// Clean before returning (spec §4.6.1 "End: always runs Clean").
func (p *Pipeline) Run(ctx context.Context, task catalog.Task, model string, runIndex int) (*RunResult, error) {
	log := slog.With("service", task.Service, "task", task.Path(), "model", model, "run_index", runIndex)
	dir := artifactDir(p.ResultsRoot, p.Experiment, runIndex, task.Service, model, task)

	manager, err := p.States.Get(task.Service)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	retry := p.Config.Defaults.RetryPolicy
	limits := p.effectiveLimits(task)

	var (
		locator   state.InitialStateInfo
		haveState bool
		attempt   int
	)

	defer func() {
		if haveState {
			if err := manager.Clean(context.Background(), locator); err != nil {
				log.Warn("pipeline: cleanup failed", "error", err)
			}
		}
	}()

	for attempt = 1; attempt <= retry.MaxAttempts; attempt++ {
		log.Info("pipeline: preparing state", "stage", StagePreparingState, "attempt", attempt)

		runCtx := state.RunContext{Task: task, Model: model, RunIndex: runIndex, WorkspaceRoot: dir}
		locator, err = manager.Set(ctx, runCtx)
		if err != nil {
			var dupErr *state.StateDuplicationError
			if errors.As(err, &dupErr) && attempt < retry.MaxAttempts {
				log.Warn("pipeline: state duplication failed, retrying", "error", err)
				p.backoff(ctx, retry, attempt)
				continue
			}
			if writeErr := writeFailureArtifact(dir, task, model, runIndex, "StateDuplicationError", err.Error()); writeErr != nil {
				return nil, writeErr
			}
			return &RunResult{Task: task, Model: model, RunIndex: runIndex, Retries: attempt - 1, Dir: dir}, nil
		}
		haveState = true

		trace, outcome := p.execute(ctx, task, model, locator, limits, log)

		if !outcome.Success && outcome.ErrorKind.Retryable() && attempt < retry.MaxAttempts {
			log.Warn("pipeline: execution failed with retryable error, re-preparing state",
				"error_kind", outcome.ErrorKind, "error", outcome.ErrorMessage)
			if err := manager.Clean(ctx, locator); err != nil {
				log.Warn("pipeline: cleanup before retry failed", "error", err)
			}
			haveState = false
			p.backoff(ctx, retry, attempt)
			continue
		}

		result := &RunResult{
			Task:      task,
			Model:     model,
			RunIndex:  runIndex,
			Locator:   locator,
			Execution: outcome,
			Retries:   attempt - 1,
			Dir:       dir,
		}

		if outcome.Success {
			log.Info("pipeline: verifying", "stage", StageVerifying)
			creds := p.evalCreds(task.Service)
			messagesPath := filepath.Join(dir, "messages.json")
			env := verifier.BuildEnv(task.Service, locator, creds, messagesPath)
			verifyOutcome, err := p.Verifier.Verify(ctx, task, locator, env, p.verifierTimeout(task, limits))
			if err != nil {
				return nil, fmt.Errorf("pipeline: verifier: %w", err)
			}
			result.Verification = verifyOutcome
		}

		log.Info("pipeline: reporting", "stage", StageReporting, "success", result.overallSuccess())
		if err := writeArtifacts(dir, trace, result); err != nil {
			return nil, err
		}
		return result, nil
	}

	// Exhausted all retries on state duplication without success and
	// without an execution outcome to report (loop above returns early for
	// every other path); this is unreachable in practice but keeps the
	// function total.
	return nil, fmt.Errorf("pipeline: %s: exhausted %d attempts without a terminal outcome", task.Path(), retry.MaxAttempts)
}

// execute wires a run-scoped tool server and model client, runs the agent
// turn loop, and tears the tool server down (spec §9 "spawn once per run
// and shut down at run end").
func (p *Pipeline) execute(ctx context.Context, task catalog.Task, model string, locator state.InitialStateInfo, limits config.AgentLimits, log *slog.Logger) (*agent.AgentTrace, *agent.ExecutionOutcome) {
	log.Info("pipeline: executing", "stage", StageExecuting)

	svc, err := p.Config.GetService(task.Service)
	if err != nil {
		return nil, failureOutcome(agent.ErrorAgentError, err.Error())
	}
	manager, err := p.States.Get(task.Service)
	if err != nil {
		return nil, failureOutcome(agent.ErrorAgentError, err.Error())
	}
	transport, err := manager.PrepareAgentConfig(locator, svc.EvalConfig)
	if err != nil {
		return nil, failureOutcome(agent.ErrorAgentError, fmt.Sprintf("preparing tool server config: %s", err))
	}

	registry := config.NewMCPServerRegistry(map[string]*config.MCPServerConfig{
		task.Service: {Transport: transport},
	})
	factory := mcp.NewClientFactory(registry)
	executor, client, err := factory.CreateToolExecutor(ctx, []string{task.Service}, nil)
	if err != nil {
		return nil, failureOutcome(agent.ErrorToolServerNetwork, fmt.Sprintf("launching tool server: %s", err))
	}
	defer func() {
		_ = executor.Close()
		_ = client.Close()
	}()

	llmClient, err := llm.NewClient(model, p.Creds)
	if err != nil {
		return nil, failureOutcome(agent.ErrorAgentError, err.Error())
	}
	defer llmClient.Close()

	prompt, err := catalog.Render(task.Description, locator.Placeholders())
	if err != nil {
		return nil, failureOutcome(agent.ErrorAgentError, err.Error())
	}

	return p.Agent.Run(ctx, agent.RunInput{
		Prompt:    prompt,
		Model:     model,
		LLMClient: llmClient,
		Tools:     executor,
		Limits:    limits,
	})
}

// effectiveLimits applies a task-meta timeout override (spec §4.2.4
// "optional timeout override") onto the pipeline's default agent limits.
func (p *Pipeline) effectiveLimits(task catalog.Task) config.AgentLimits {
	limits := *p.Config.Defaults.AgentLimits
	if task.Meta.TimeoutSeconds != nil && *task.Meta.TimeoutSeconds > 0 {
		limits.WallDeadline = time.Duration(*task.Meta.TimeoutSeconds) * time.Second
	}
	return limits
}

// verifierTimeout resolves the verifier's own timeout, independent of the
// agent run's wall deadline (spec §4.5: "Timeout ... meta override
// respected").
func (p *Pipeline) verifierTimeout(task catalog.Task, limits config.AgentLimits) time.Duration {
	if task.Meta.TimeoutSeconds != nil && *task.Meta.TimeoutSeconds > 0 {
		return time.Duration(*task.Meta.TimeoutSeconds) * time.Second
	}
	return limits.VerifierTimeout
}

func (p *Pipeline) evalCreds(service string) state.CredentialBundle {
	svc, err := p.Config.GetService(service)
	if err != nil {
		return state.CredentialBundle{}
	}
	return state.CredentialBundle(svc.EvalConfig)
}

// backoff sleeps for attempt's jittered exponential delay (spec §4.6.3:
// "base 2s, cap 30s, jitter +-20%"), returning early if ctx is cancelled.
func (p *Pipeline) backoff(ctx context.Context, retry *config.RetryPolicy, attempt int) {
	delay := retry.BaseBackoff * time.Duration(1<<uint(attempt-1))
	if delay > retry.MaxBackoff {
		delay = retry.MaxBackoff
	}
	jitter := time.Duration(float64(delay) * retry.JitterFrac)
	offset := time.Duration(rand.Int64N(int64(2*jitter+1))) - jitter
	sleep := delay + offset
	if sleep < 0 {
		sleep = 0
	}

	select {
	case <-ctx.Done():
	case <-time.After(sleep):
	}
}

func failureOutcome(kind agent.ErrorKind, msg string) *agent.ExecutionOutcome {
	return &agent.ExecutionOutcome{Success: false, ErrorKind: kind, ErrorMessage: msg}
}
