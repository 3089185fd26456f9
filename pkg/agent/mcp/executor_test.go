package mcp

import (
	"context"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/evalharness/pkg/agent/tooling"
	"github.com/codeready-toolchain/evalharness/pkg/config"
)

func newTestExecutor(t *testing.T, serverID string, tools map[string]mcpsdk.ToolHandler, toolFilter map[string][]string) *ToolExecutor {
	t.Helper()
	ts := startTestServer(t, serverID, tools)
	client := connectClientDirect(t, serverID, ts.clientTransport)
	registry := config.NewMCPServerRegistry(nil)
	return NewToolExecutor(client, registry, []string{serverID}, toolFilter)
}

func TestToolExecutor_Execute_Success(t *testing.T) {
	exec := newTestExecutor(t, "github", map[string]mcpsdk.ToolHandler{
		"create_issue": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "issue #1 created"}}}, nil
		},
	}, nil)
	defer exec.Close()

	result, err := exec.Execute(context.Background(), tooling.ToolCall{
		ID: "call-1", Name: "github.create_issue", Arguments: `{"title":"bug"}`,
	})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "issue #1 created", result.Content)
	assert.Equal(t, "call-1", result.CallID)
}

func TestToolExecutor_Execute_UnknownServer(t *testing.T) {
	exec := newTestExecutor(t, "github", map[string]mcpsdk.ToolHandler{
		"create_issue": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{}, nil
		},
	}, nil)
	defer exec.Close()

	result, err := exec.Execute(context.Background(), tooling.ToolCall{
		ID: "call-1", Name: "notion.create_page", Arguments: "{}",
	})
	require.NoError(t, err) // errors surface as tool-result content, never a Go error
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "notion")
}

func TestToolExecutor_Execute_ToolNotInFilter(t *testing.T) {
	exec := newTestExecutor(t, "github", map[string]mcpsdk.ToolHandler{
		"create_issue": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{}, nil
		},
		"delete_repo": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{}, nil
		},
	}, map[string][]string{"github": {"create_issue"}})
	defer exec.Close()

	result, err := exec.Execute(context.Background(), tooling.ToolCall{
		ID: "call-1", Name: "github.delete_repo", Arguments: "{}",
	})
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "delete_repo")
}

func TestToolExecutor_Execute_MalformedToolName(t *testing.T) {
	exec := newTestExecutor(t, "github", map[string]mcpsdk.ToolHandler{
		"create_issue": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{}, nil
		},
	}, nil)
	defer exec.Close()

	result, err := exec.Execute(context.Background(), tooling.ToolCall{
		ID: "call-1", Name: "not-a-qualified-name", Arguments: "{}",
	})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestToolExecutor_Execute_ToolErrorResult(t *testing.T) {
	exec := newTestExecutor(t, "github", map[string]mcpsdk.ToolHandler{
		"create_issue": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "repo not found"}},
				IsError: true,
			}, nil
		},
	}, nil)
	defer exec.Close()

	result, err := exec.Execute(context.Background(), tooling.ToolCall{
		ID: "call-1", Name: "github.create_issue", Arguments: "{}",
	})
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "repo not found", result.Content)
}

func TestToolExecutor_ListTools(t *testing.T) {
	exec := newTestExecutor(t, "github", map[string]mcpsdk.ToolHandler{
		"create_issue": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{}, nil
		},
		"delete_repo": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{}, nil
		},
	}, nil)
	defer exec.Close()

	tools, err := exec.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 2)

	names := []string{tools[0].Name, tools[1].Name}
	assert.Contains(t, names, "github.create_issue")
	assert.Contains(t, names, "github.delete_repo")
}

func TestToolExecutor_ListTools_FilteredByServer(t *testing.T) {
	exec := newTestExecutor(t, "github", map[string]mcpsdk.ToolHandler{
		"create_issue": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{}, nil
		},
		"delete_repo": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{}, nil
		},
	}, map[string][]string{"github": {"create_issue"}})
	defer exec.Close()

	tools, err := exec.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "github.create_issue", tools[0].Name)
}

func TestToolExecutor_Execute_NormalizesDoubleUnderscore(t *testing.T) {
	exec := newTestExecutor(t, "github", map[string]mcpsdk.ToolHandler{
		"create_issue": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "ok"}}}, nil
		},
	}, nil)
	defer exec.Close()

	result, err := exec.Execute(context.Background(), tooling.ToolCall{
		ID: "call-1", Name: "github__create_issue", Arguments: "{}",
	})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "ok", result.Content)
}
