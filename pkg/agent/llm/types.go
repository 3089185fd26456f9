// Package llm implements the model-provider abstraction of spec §6.3: a
// single streaming chat interface behind which multiple concrete SDKs are
// reachable, selected by model-name prefix.
package llm

import "context"

// Role is a conversation message's role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a tool invocation emitted mid-stream by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON accumulated from argument deltas
}

// Message is one turn of the conversation, grounded on the teacher's
// agent.ConversationMessage shape (role + content + optional tool-call
// linkage for tool-role messages).
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall // set on assistant messages that called tools
	ToolCallID string     // set on tool-role messages, links back to the call
	ToolName   string     // set on tool-role messages
}

// ToolDefinition describes a tool available to the model.
type ToolDefinition struct {
	Name             string
	Description      string
	ParametersSchema string // JSON schema
}

// ToolChoice controls whether the model must engage a tool this turn.
type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceRequired ToolChoice = "required" // spec §4.4: forced every turn until the model terminates
	ToolChoiceNone     ToolChoice = "none"
)

// Request is one stream_chat invocation (spec §6.3).
type Request struct {
	Model      string
	Messages   []Message
	Tools      []ToolDefinition
	ToolChoice ToolChoice
	MaxTokens  int
}

// EventKind discriminates an Event's payload, matching spec §6.3's abstract
// event set: {delta_text | tool_call_begin | tool_call_args_delta |
// tool_call_end | usage | done | error}.
type EventKind string

const (
	EventDeltaText       EventKind = "delta_text"
	EventToolCallBegin   EventKind = "tool_call_begin"
	EventToolCallArgs    EventKind = "tool_call_args_delta"
	EventToolCallEnd     EventKind = "tool_call_end"
	EventUsage           EventKind = "usage"
	EventDone            EventKind = "done"
	EventError           EventKind = "error"
)

// Usage tallies token consumption for a single request (spec §4.4.4:
// "tallied from streaming usage deltas where available").
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Event is one item of the EventStream a Client emits while streaming a
// completion. Only the fields tagged below with the event's Kind are
// populated; some kinds carry more than one (EventToolCallEnd sets
// ToolCallID and FinalToolCall, EventError sets Err and Retryable).
type Event struct {
	Kind EventKind

	DeltaText string // EventDeltaText

	ToolCallID   string // EventToolCallBegin, EventToolCallArgs, EventToolCallEnd
	ToolName     string // EventToolCallBegin
	ArgsDelta    string // EventToolCallArgs: a fragment of the JSON arguments
	FinalToolCall *ToolCall // EventToolCallEnd: the fully-assembled call

	Usage Usage // EventUsage

	Err error // EventError; Retryable classifies transient vs terminal

	Retryable bool // EventError only
}

// Client streams a single chat completion. One Client instance is created
// per backend (selected by model-name prefix); Stream may be called
// repeatedly (once per turn of the agent runner's turn loop).
type Client interface {
	Stream(ctx context.Context, req Request) (<-chan Event, error)
	Close() error
}
