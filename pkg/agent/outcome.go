package agent

import (
	"time"

	"github.com/codeready-toolchain/evalharness/pkg/agent/llm"
)

// ExecutionOutcome is the agent runner's final verdict for one run (spec §3).
type ExecutionOutcome struct {
	Success      bool
	ErrorKind    ErrorKind
	ErrorMessage string
	Duration     time.Duration
	TokenUsage   llm.Usage
	TurnCount    int
}

func success(start time.Time, usage llm.Usage, turns int) *ExecutionOutcome {
	return &ExecutionOutcome{Success: true, Duration: time.Since(start), TokenUsage: usage, TurnCount: turns}
}

func failure(start time.Time, usage llm.Usage, turns int, kind ErrorKind, msg string) *ExecutionOutcome {
	return &ExecutionOutcome{
		Success:      false,
		ErrorKind:    kind,
		ErrorMessage: msg,
		Duration:     time.Since(start),
		TokenUsage:   usage,
		TurnCount:    turns,
	}
}
