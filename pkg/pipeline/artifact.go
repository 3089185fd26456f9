package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/codeready-toolchain/evalharness/pkg/agent"
	"github.com/codeready-toolchain/evalharness/pkg/agent/llm"
	"github.com/codeready-toolchain/evalharness/pkg/catalog"
	"github.com/codeready-toolchain/evalharness/pkg/state"
	"github.com/codeready-toolchain/evalharness/pkg/verifier"
)

// RunMeta is the per-run artefact summary written to meta.json (spec §6.5).
type RunMeta struct {
	TaskName      string          `json:"task_name"`
	Service       string          `json:"service"`
	Model         string          `json:"model"`
	RunIndex      int             `json:"run_index"`
	Execution     ExecutionMeta   `json:"execution_result"`
	Verification  VerificationMeta `json:"verification_result"`
	ExecutionTime float64         `json:"execution_time"`
	TurnCount     int             `json:"turn_count"`
	TokenUsage    TokenUsageMeta  `json:"token_usage"`
	StateLocator  map[string]string `json:"state_locator"`
	Retries       int             `json:"retries"`
}

// ExecutionMeta is the execution_result sub-object of meta.json.
type ExecutionMeta struct {
	Success      bool   `json:"success"`
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// VerificationMeta is the verification_result sub-object of meta.json.
type VerificationMeta struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
}

// TokenUsageMeta is the token_usage sub-object of meta.json.
type TokenUsageMeta struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Total  int `json:"total"`
}

// messagesDoc is the serialised AgentTrace written to messages.json.
type messagesDoc struct {
	Events []agent.TraceEvent `json:"events"`
}

// RunResult bundles everything one pipeline run produced, mirroring spec
// §3's TaskRunResult.
type RunResult struct {
	Task         catalog.Task
	Model        string
	RunIndex     int
	Locator      state.InitialStateInfo
	Execution    *agent.ExecutionOutcome
	Verification *verifier.Outcome
	Retries      int
	Dir          string // artefact directory this run was written to
}

// overallSuccess reports whether this run counts as a pass for aggregation
// purposes (spec §4.7: "1 iff execution succeeded and verification passed").
func (r *RunResult) overallSuccess() bool {
	return r.Execution != nil && r.Execution.Success && r.Verification != nil && r.Verification.Success
}

// artifactDir returns spec §4.6.4's layout:
// <results_root>/<experiment>/run-<k>/<service>__<model>/<task_path>/
func artifactDir(resultsRoot, experiment string, runIndex int, service, model string, task catalog.Task) string {
	return filepath.Join(resultsRoot, experiment, fmt.Sprintf("run-%d", runIndex), service+"__"+model, task.Path())
}

// writeArtifacts persists meta.json, messages.json, verifier.log, and
// state.json to dir, each via write-to-temp-then-rename (spec §4.6.4
// "Writes are append-atomic").
func writeArtifacts(dir string, trace *agent.AgentTrace, result *RunResult) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("pipeline: creating artefact dir %s: %w", dir, err)
	}

	meta := buildMeta(result)
	if err := atomicWriteJSON(filepath.Join(dir, "meta.json"), meta); err != nil {
		return err
	}

	var events []agent.TraceEvent
	if trace != nil {
		events = trace.Events
	}
	if err := atomicWriteJSON(filepath.Join(dir, "messages.json"), messagesDoc{Events: events}); err != nil {
		return err
	}

	verifierLog := ""
	if result.Verification != nil {
		verifierLog = result.Verification.Output
	}
	if err := atomicWrite(filepath.Join(dir, "verifier.log"), []byte(verifierLog)); err != nil {
		return err
	}

	if err := atomicWriteJSON(filepath.Join(dir, "state.json"), result.Locator); err != nil {
		return err
	}

	return nil
}

// writeFailureArtifact writes a minimal meta.json for a run that never got
// far enough to produce a full RunResult (spec §7: "every scheduled run
// ends with some artefact written, even on catastrophic failure").
func writeFailureArtifact(dir string, task catalog.Task, model string, runIndex int, errKind agent.ErrorKind, errMsg string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("pipeline: creating artefact dir %s: %w", dir, err)
	}
	meta := RunMeta{
		TaskName: task.Path(),
		Service:  task.Service,
		Model:    model,
		RunIndex: runIndex,
		Execution: ExecutionMeta{
			Success:      false,
			ErrorKind:    string(errKind),
			ErrorMessage: errMsg,
		},
		Verification: VerificationMeta{
			Success: false,
			Output:  fmt.Sprintf("execution_failed:%s", errKind),
		},
	}
	return atomicWriteJSON(filepath.Join(dir, "meta.json"), meta)
}

func buildMeta(r *RunResult) RunMeta {
	meta := RunMeta{
		TaskName:     r.Task.Path(),
		Service:      r.Task.Service,
		Model:        r.Model,
		RunIndex:     r.RunIndex,
		StateLocator: r.Locator.Placeholders(),
		Retries:      r.Retries,
	}

	if r.Execution != nil {
		meta.Execution = ExecutionMeta{
			Success:      r.Execution.Success,
			ErrorKind:    string(r.Execution.ErrorKind),
			ErrorMessage: r.Execution.ErrorMessage,
		}
		meta.ExecutionTime = r.Execution.Duration.Seconds()
		meta.TurnCount = r.Execution.TurnCount
		meta.TokenUsage = tokenUsageMeta(r.Execution.TokenUsage)
	}

	if r.Verification != nil {
		meta.Verification = VerificationMeta{Success: r.Verification.Success, Output: r.Verification.Output}
	} else if r.Execution != nil && !r.Execution.Success {
		meta.Verification = VerificationMeta{Success: false, Output: fmt.Sprintf("execution_failed:%s", r.Execution.ErrorKind)}
	}

	return meta
}

func tokenUsageMeta(u llm.Usage) TokenUsageMeta {
	return TokenUsageMeta{Input: u.InputTokens, Output: u.OutputTokens, Total: u.TotalTokens}
}

func atomicWriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("pipeline: marshalling %s: %w", filepath.Base(path), err)
	}
	return atomicWrite(path, data)
}

// atomicWrite writes data to a sibling temp file and renames it into place
// (spec §4.6.4: "write to a sibling temp file, rename").
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("pipeline: writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("pipeline: renaming %s to %s: %w", tmp, path, err)
	}
	return nil
}
