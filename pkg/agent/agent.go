// Package agent implements the Agent Runner (C4): the turn-loop state
// machine of spec §4.4 that drives a model through repeated tool calls
// against an already-launched tool server until it emits a terminal,
// tool-call-free message or a limit is hit.
//
// Grounded on the teacher's pkg/agent/controller/iterating.go — the
// multi-turn tool-calling loop shape (stream model output, detect tool
// calls, dispatch sequentially, append results, repeat) carries over
// directly; dropped is everything specific to the teacher's alert-session
// domain (timeline events, sub-agent collectors, DB-backed message
// persistence) since this runner answers to a pipeline run, not a session.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codeready-toolchain/evalharness/pkg/agent/llm"
	"github.com/codeready-toolchain/evalharness/pkg/agent/tooling"
	"github.com/codeready-toolchain/evalharness/pkg/config"
)

// modelRetryBackoffs are the fixed exponential delays spec §4.4.3 names for
// a transient model-API failure: "1s, 2s, 4s".
var modelRetryBackoffs = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// RunInput is everything Run needs for one agent execution.
type RunInput struct {
	Prompt     string // user prompt (spec §4.4: "user = prompt")
	SystemHint string // optional service hint; empty is valid (spec §4.4)
	Model      string
	LLMClient  llm.Client
	Tools      tooling.Executor
	Limits     config.AgentLimits
}

// Runner drives the turn loop for one run. Stateless; safe to reuse across
// runs (each Run call is independent).
type Runner struct{}

// New constructs a Runner.
func New() *Runner { return &Runner{} }

// Run executes the turn loop (spec §4.4.2) until a terminal message, a
// limit, or cancellation. It always returns both a trace (even on failure,
// per spec §4.4.3 "preserve trace") and an outcome.
func (r *Runner) Run(ctx context.Context, in RunInput) (*AgentTrace, *ExecutionOutcome) {
	start := time.Now()
	trace := newTrace(start)

	limits := in.Limits
	if limits.MaxTurns <= 0 {
		limits.MaxTurns = 30
	}
	if limits.ToolCallTimeout <= 0 {
		limits.ToolCallTimeout = 120 * time.Second
	}

	runCtx := ctx
	if limits.WallDeadline > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(ctx, start.Add(limits.WallDeadline))
		defer cancel()
	}

	toolDefs, err := in.Tools.ListTools(runCtx)
	if err != nil {
		trace.add(TraceEvent{Kind: EventError, ErrorMessage: fmt.Sprintf("listing tools: %s", err)})
		return trace, failure(start, llm.Usage{}, 0, ErrorAgentError, fmt.Sprintf("listing tools: %s", err))
	}
	llmTools := toLLMTools(toolDefs)

	messages := initialMessages(in.SystemHint, in.Prompt)
	toolChoice := llm.ToolChoiceRequired

	var totalUsage llm.Usage
	softCapHit := false

	for turn := 1; turn <= limits.MaxTurns; turn++ {
		if err := runCtx.Err(); err != nil {
			return trace, r.cancelledOutcome(trace, start, totalUsage, turn-1, err)
		}

		if limits.MaxTokensTotal > 0 && totalUsage.TotalTokens >= limits.MaxTokensTotal && !softCapHit {
			softCapHit = true
			messages = append(messages, llm.Message{
				Role:    llm.RoleUser,
				Content: "You are approaching the token budget for this task. Conclude now with your best final answer; do not call any more tools unless absolutely necessary.",
			})
			toolChoice = llm.ToolChoiceAuto
		}

		assistantText, calls, usage, streamErr := r.runTurn(runCtx, in.LLMClient, llm.Request{
			Model:      in.Model,
			Messages:   messages,
			Tools:      llmTools,
			ToolChoice: toolChoice,
		}, trace)
		totalUsage = addUsage(totalUsage, usage)

		if streamErr != nil {
			if errors.Is(streamErr, context.Canceled) || errors.Is(streamErr, context.DeadlineExceeded) {
				return trace, r.cancelledOutcome(trace, start, totalUsage, turn, streamErr)
			}
			trace.add(TraceEvent{Kind: EventError, ErrorMessage: streamErr.Error()})
			return trace, failure(start, totalUsage, turn, ErrorModelNetwork, streamErr.Error())
		}

		if len(calls) == 0 {
			// Terminal: model produced a tool-call-free message.
			return trace, success(start, totalUsage, turn)
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   assistantText,
			ToolCalls: calls,
		})

		for _, call := range calls {
			result, toolErr := r.dispatchTool(runCtx, in.Tools, limits.ToolCallTimeout, call, trace)
			if toolErr != nil {
				return trace, failure(start, totalUsage, turn, ErrorToolServerNetwork, toolErr.Error())
			}
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    result.Content,
				ToolCallID: result.CallID,
				ToolName:   result.Name,
			})
		}
	}

	return trace, failure(start, totalUsage, limits.MaxTurns, ErrorTurnLimit, "max_turns exceeded")
}

// runTurn issues one completion request, retrying transient model failures
// up to len(modelRetryBackoffs) times per spec §4.4.3, and returns the
// accumulated assistant text, any tool calls the model emitted (in the
// order it emitted them), and token usage.
func (r *Runner) runTurn(ctx context.Context, client llm.Client, req llm.Request, trace *AgentTrace) (string, []llm.ToolCall, llm.Usage, error) {
	var lastErr error

	for attempt := 0; ; attempt++ {
		text, calls, usage, err := r.streamOnce(ctx, client, req, trace)
		if err == nil {
			return text, calls, usage, nil
		}
		lastErr = err

		var streamErr *streamError
		if !errors.As(err, &streamErr) || !streamErr.retryable || attempt >= len(modelRetryBackoffs) {
			return "", nil, llm.Usage{}, lastErr
		}

		select {
		case <-ctx.Done():
			return "", nil, llm.Usage{}, ctx.Err()
		case <-time.After(modelRetryBackoffs[attempt]):
		}
	}
}

// streamError wraps a model-stream failure with its retryability, set from
// the llm.Event.Retryable flag the backend client already classified.
type streamError struct {
	retryable bool
	err       error
}

func (e *streamError) Error() string { return e.err.Error() }
func (e *streamError) Unwrap() error { return e.err }

// streamOnce issues a single completion request and drains its event
// stream into (text, tool calls, usage).
func (r *Runner) streamOnce(ctx context.Context, client llm.Client, req llm.Request, trace *AgentTrace) (string, []llm.ToolCall, llm.Usage, error) {
	events, err := client.Stream(ctx, req)
	if err != nil {
		return "", nil, llm.Usage{}, &streamError{retryable: false, err: err}
	}

	var textBuf string
	var calls []llm.ToolCall
	var usage llm.Usage
	textTraced := false

	for ev := range events {
		switch ev.Kind {
		case llm.EventDeltaText:
			textBuf += ev.DeltaText
		case llm.EventToolCallEnd:
			if !textTraced && textBuf != "" {
				trace.add(TraceEvent{Kind: EventModelToken, Text: textBuf})
				textTraced = true
			}
			if ev.FinalToolCall != nil {
				calls = append(calls, *ev.FinalToolCall)
				trace.add(TraceEvent{Kind: EventToolCall, ToolCallID: ev.FinalToolCall.ID, ToolName: ev.FinalToolCall.Name, ToolArgs: ev.FinalToolCall.Arguments})
			}
		case llm.EventUsage:
			usage = addUsage(usage, ev.Usage)
		case llm.EventError:
			return "", nil, usage, &streamError{retryable: ev.Retryable, err: ev.Err}
		case llm.EventDone:
			if !textTraced && textBuf != "" {
				trace.add(TraceEvent{Kind: EventModelToken, Text: textBuf})
			}
		}
	}

	return textBuf, calls, usage, nil
}

// dispatchTool forwards one tool call to the tool server, bounded by
// perCallTimeout (spec §4.4.2: "per-call timeout, default 120s"). A hard
// timeout here is treated as the tool-server-transient failure mode (spec
// §4.4.3) since the executor's own recovery (re-spawn, session recreation)
// has already had its chance before returning.
func (r *Runner) dispatchTool(ctx context.Context, executor tooling.Executor, perCallTimeout time.Duration, call llm.ToolCall, trace *AgentTrace) (*tooling.ToolResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, perCallTimeout)
	defer cancel()

	result, err := executor.Execute(callCtx, tooling.ToolCall{ID: call.ID, Name: call.Name, Arguments: call.Arguments})
	if err != nil {
		trace.add(TraceEvent{Kind: EventError, ToolCallID: call.ID, ErrorMessage: err.Error()})
		return nil, fmt.Errorf("tool %q: %w", call.Name, err)
	}
	if callCtx.Err() != nil {
		trace.add(TraceEvent{Kind: EventError, ToolCallID: call.ID, ErrorMessage: callCtx.Err().Error()})
		return nil, fmt.Errorf("tool %q timed out after %s", call.Name, perCallTimeout)
	}

	trace.add(TraceEvent{Kind: EventToolResult, ToolCallID: result.CallID, ToolName: result.Name, ToolResultContent: result.Content, ToolResultIsError: result.IsError})
	return result, nil
}

// cancelledOutcome classifies a context termination as a wall-deadline
// timeout or an explicit cancellation (spec §4.4.2 "On cancel signal" vs
// §4.4.1 "wall_deadline").
func (r *Runner) cancelledOutcome(trace *AgentTrace, start time.Time, usage llm.Usage, turns int, cause error) *ExecutionOutcome {
	kind := ErrorCancelled
	if errors.Is(cause, context.DeadlineExceeded) {
		kind = ErrorTimeout
	}
	trace.add(TraceEvent{Kind: EventError, ErrorMessage: cause.Error()})
	return failure(start, usage, turns, kind, cause.Error())
}

func initialMessages(systemHint, prompt string) []llm.Message {
	var messages []llm.Message
	if systemHint != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemHint})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: prompt})
	return messages
}

func toLLMTools(defs []tooling.ToolDefinition) []llm.ToolDefinition {
	out := make([]llm.ToolDefinition, len(defs))
	for i, d := range defs {
		out[i] = llm.ToolDefinition{Name: d.Name, Description: d.Description, ParametersSchema: d.ParametersSchema}
	}
	return out
}

func addUsage(a, b llm.Usage) llm.Usage {
	return llm.Usage{
		InputTokens:  a.InputTokens + b.InputTokens,
		OutputTokens: a.OutputTokens + b.OutputTokens,
		TotalTokens:  totalOrSum(a, b),
	}
}

func totalOrSum(a, b llm.Usage) int {
	if b.TotalTokens > 0 {
		return a.TotalTokens + b.TotalTokens
	}
	return a.TotalTokens + b.InputTokens + b.OutputTokens
}
