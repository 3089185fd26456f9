package agent

// ErrorKind classifies why a run ended unsuccessfully (spec §4.4.3, §4.6.2).
// The pipeline uses this to decide whether a failed run is retryable.
type ErrorKind string

const (
	// ErrorTurnLimit: max_turns exceeded before the model produced a
	// terminal (no-tool-call) message. Not retryable at the pipeline level
	// — the trace is still preserved and counts as a failed run.
	ErrorTurnLimit ErrorKind = "turn_limit"

	// ErrorTimeout: the run's wall_deadline elapsed.
	ErrorTimeout ErrorKind = "timeout"

	// ErrorModelNetwork: the model API failed transiently on every retry of
	// the current turn. Retryable at the pipeline level.
	ErrorModelNetwork ErrorKind = "model_network"

	// ErrorToolServerNetwork: the tool server failed transiently and the
	// one re-spawn-and-replay attempt also failed. Retryable at the
	// pipeline level.
	ErrorToolServerNetwork ErrorKind = "tool_server_network"

	// ErrorAgentError: a hard failure internal to the turn loop (e.g. the
	// model emitted something the loop cannot make sense of in a way that
	// isn't a recoverable tool-result error). Not retryable.
	ErrorAgentError ErrorKind = "agent_error"

	// ErrorCancelled: the run's cancellation signal fired. Terminal,
	// non-retryable (spec §4.6.2's "Suspension / blocking points" note).
	ErrorCancelled ErrorKind = "cancelled"
)

// Retryable reports whether the pipeline should retry a run that failed
// with this ErrorKind (spec §4.6.3).
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrorModelNetwork, ErrorToolServerNetwork:
		return true
	default:
		return false
	}
}
