// Package tooling holds the tool-calling contract shared between the agent
// turn loop and its concrete MCP-backed executor. It exists as a separate
// package so pkg/agent/mcp can implement the interface without importing
// pkg/agent; pkg/pipeline wires the real executor into the agent runner.
package tooling

import "context"

// ToolCall is a single tool invocation requested by the model mid-turn.
type ToolCall struct {
	ID        string
	Name      string // server.tool, as presented to the model
	Arguments string // raw JSON/YAML/key-value string from the model
}

// ToolResult is the outcome of executing a ToolCall, fed back to the model
// as a tool-role message on the next turn.
type ToolResult struct {
	CallID  string
	Name    string
	Content string
	IsError bool
}

// ToolDefinition is a tool description presented to the model in its tool list.
type ToolDefinition struct {
	Name             string
	Description      string
	ParametersSchema string // JSON schema, serialized
}

// Executor dispatches tool calls to their backing implementation (MCP
// servers, in production) and lists the tools currently available.
type Executor interface {
	Execute(ctx context.Context, call ToolCall) (*ToolResult, error)
	ListTools(ctx context.Context) ([]ToolDefinition, error)
	Close() error
}
