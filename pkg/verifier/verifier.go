// Package verifier implements the Verifier Runner (C5): executing a task's
// out-of-process verify.<ext> program against the post-run world state and
// mapping its exit code to pass/fail (spec §4.5).
//
// Grounded on the teacher's pkg/mcp/transport.go stdio-subprocess launch
// pattern (exec.Command + os.Environ() plus config overrides) generalized
// from "launch a long-lived MCP server" to "run one short-lived child to
// completion and capture its combined output".
package verifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/codeready-toolchain/evalharness/pkg/catalog"
	"github.com/codeready-toolchain/evalharness/pkg/state"
)

// Outcome is the Verifier Runner's verdict for one run (spec §3
// "VerificationOutcome").
type Outcome struct {
	Success  bool
	Output   string // combined stdout+stderr
	Duration time.Duration
	ExitCode int
}

// interpreters maps a verifier file extension to the interpreter that runs
// it. A verifier with no recognized extension is assumed to already be an
// executable (a compiled binary, or a script with its executable bit set).
var interpreters = map[string]string{
	".py": "python3",
	".sh": "bash",
	".js": "node",
	".rb": "ruby",
}

// Runner executes verifiers. Stateless; safe to reuse and call concurrently.
type Runner struct{}

// New constructs a Runner.
func New() *Runner { return &Runner{} }

// Verify runs task's verifier with the environment contract of spec §6.4,
// bounded by timeout. A task-meta timeout override (meta.json's
// timeout_seconds) takes precedence when non-zero and timeout is its
// caller-supplied default, i.e. callers should already have resolved the
// effective timeout before calling Verify.
//
// The verifier is untrusted: a non-zero exit is a fail, never a Go error;
// Verify only returns an error when it could not even start the process
// (spec §7: "surfaces process-level failures ... as fail-verdicts").
func (r *Runner) Verify(ctx context.Context, task catalog.Task, locator state.InitialStateInfo, env []string, timeout time.Duration) (*Outcome, error) {
	start := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	name, args, err := command(task)
	if err != nil {
		return &Outcome{Success: false, Output: err.Error(), Duration: time.Since(start), ExitCode: -1}, nil
	}
	if locatorArg := LocatorArg(task.Service, locator); locatorArg != "" {
		args = append(args, locatorArg)
	}

	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Dir = task.Dir
	cmd.Env = env

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	runErr := cmd.Run()
	duration := time.Since(start)

	if runCtx.Err() != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return &Outcome{
			Success:  false,
			Output:   buf.String() + fmt.Sprintf("\n[verifier timed out after %s]\n", timeout),
			Duration: duration,
			ExitCode: -1,
		}, nil
	}

	if runErr == nil {
		return &Outcome{Success: true, Output: buf.String(), Duration: duration, ExitCode: 0}, nil
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return &Outcome{Success: false, Output: buf.String(), Duration: duration, ExitCode: exitErr.ExitCode()}, nil
	}

	// Spawn itself failed (missing interpreter, permission denied, ...).
	return &Outcome{
		Success:  false,
		Output:   buf.String() + fmt.Sprintf("\n[failed to start verifier: %v]\n", runErr),
		Duration: duration,
		ExitCode: -1,
	}, nil
}

// command resolves the verifier file into an (executable, args) pair,
// selecting an interpreter by extension when one is registered.
func command(task catalog.Task) (string, []string, error) {
	path := task.VerifierPath()
	if _, err := os.Stat(path); err != nil {
		return "", nil, fmt.Errorf("verifier: %w", err)
	}
	if interp, ok := interpreters[filepath.Ext(path)]; ok {
		return interp, []string{path}, nil
	}
	return path, nil, nil
}

// BuildEnv assembles the spec §6.4 environment-variable contract for
// task's service, folding in locator values, the service's credential
// bundle, and the path to the run's messages.json (for verifiers that
// inspect the agent's stated answer). The process's own environment is
// inherited first (PATH, etc.), matching the teacher's stdio-transport
// launch pattern.
func BuildEnv(service string, locator state.InitialStateInfo, creds state.CredentialBundle, messagesPath string) []string {
	env := os.Environ()
	set := func(k, v string) {
		if v != "" {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
	}

	switch service {
	case "notion":
		set("EVAL_NOTION_API_KEY", creds["api_key"])
		set("EVAL_PARENT_PAGE_TITLE", creds["parent_page_title"])
	case "github":
		set("GITHUB_TOKEN", creds["token"])
		set("GITHUB_EVAL_ORG", creds["org"])
	case "filesystem":
		set("FILESYSTEM_TEST_DIR", locator.Path)
	case "postgres":
		set("POSTGRES_HOST", creds["host"])
		set("POSTGRES_PORT", creds["port"])
		set("POSTGRES_DATABASE", locator.Database)
		set("POSTGRES_USERNAME", creds["username"])
		set("POSTGRES_PASSWORD", creds["password"])
	}

	set("MCP_MESSAGES", messagesPath)
	return env
}

// LocatorArg returns the service-specific locator the verifier's first
// positional argument carries, when the task uses one (spec §6.4: "The
// verifier's first positional argument, when used, is a service-specific
// locator").
func LocatorArg(service string, locator state.InitialStateInfo) string {
	switch service {
	case "notion":
		return locator.PageID
	case "github":
		return locator.Repo
	case "filesystem":
		return locator.Path
	case "postgres":
		return locator.Database
	case "browser":
		return locator.EntryURL
	default:
		return ""
	}
}
