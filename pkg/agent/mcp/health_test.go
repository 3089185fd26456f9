package mcp

import (
	"context"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/evalharness/pkg/config"
)

// healthTestFactory wires a ClientFactory whose CreateClient injects an
// in-memory session for serverID, grounded on testMCPServer/connectClientDirect
// in client_test.go.
func healthTestFactory(t *testing.T, serverID string, ts *testMCPServer) *ClientFactory {
	t.Helper()
	registry := config.NewMCPServerRegistry(map[string]*config.MCPServerConfig{
		serverID: {Transport: config.TransportConfig{Type: config.TransportTypeStdio}},
	})
	return NewTestClientFactory(registry, func(c *Client) {
		ctx := context.Background()
		sdkClient := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "health-test", Version: "test"}, nil)
		session, err := sdkClient.Connect(ctx, ts.clientTransport, nil)
		require.NoError(t, err)
		c.InjectSession(serverID, sdkClient, session)
	})
}

func TestHealthMonitor_CheckServer_Healthy(t *testing.T) {
	ts := startTestServer(t, "health-server", map[string]mcpsdk.ToolHandler{
		"ping": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "pong"}}}, nil
		},
	})

	factory := healthTestFactory(t, "github", ts)
	registry := config.NewMCPServerRegistry(map[string]*config.MCPServerConfig{
		"github": {Transport: config.TransportConfig{Type: config.TransportTypeStdio}},
	})

	monitor := NewHealthMonitor(factory, registry)
	monitor.pingTimeout = time.Second

	ctx := context.Background()
	client, err := factory.CreateClient(ctx, []string{"github"})
	require.NoError(t, err)
	monitor.client = client

	monitor.checkServer(ctx, "github")

	statuses := monitor.GetStatuses()
	require.Contains(t, statuses, "github")
	assert.True(t, statuses["github"].Healthy)
	assert.Equal(t, 1, statuses["github"].ToolCount)
	assert.True(t, monitor.IsHealthy())
}

func TestHealthMonitor_CheckServer_NoClient(t *testing.T) {
	registry := config.NewMCPServerRegistry(nil)
	monitor := NewHealthMonitor(NewClientFactory(registry), registry)

	monitor.checkServer(context.Background(), "github")

	statuses := monitor.GetStatuses()
	require.Contains(t, statuses, "github")
	assert.False(t, statuses["github"].Healthy)
	assert.Contains(t, statuses["github"].Error, "not initialized")
}

func TestHealthMonitor_IsHealthy_EmptyBeforeFirstCheck(t *testing.T) {
	registry := config.NewMCPServerRegistry(nil)
	monitor := NewHealthMonitor(NewClientFactory(registry), registry)
	assert.False(t, monitor.IsHealthy())
}

func TestHealthMonitor_StartStop(t *testing.T) {
	ts := startTestServer(t, "health-server", map[string]mcpsdk.ToolHandler{
		"ping": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "pong"}}}, nil
		},
	})

	factory := healthTestFactory(t, "github", ts)
	registry := config.NewMCPServerRegistry(map[string]*config.MCPServerConfig{
		"github": {Transport: config.TransportConfig{Type: config.TransportTypeStdio}},
	})
	monitor := NewHealthMonitor(factory, registry)
	monitor.checkInterval = 10 * time.Millisecond
	monitor.pingTimeout = time.Second

	monitor.Start(context.Background())
	// Starting twice is a no-op.
	monitor.Start(context.Background())

	require.Eventually(t, func() bool {
		return len(monitor.GetStatuses()) > 0
	}, time.Second, 5*time.Millisecond)

	monitor.Stop()
	assert.Empty(t, monitor.GetCachedTools()["nonexistent"])
}
