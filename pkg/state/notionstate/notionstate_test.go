package notionstate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/evalharness/pkg/config"
	"github.com/codeready-toolchain/evalharness/pkg/state"
)

func testResolved(t *testing.T) *config.ResolvedService {
	t.Helper()
	defs := []config.ServiceDefinition{{
		Name: "notion",
		Schema: []config.KeySpec{
			{Key: "api_key", Default: "secret_test"},
			{Key: "parent_page_title", Default: "Eval Sandbox"},
			{Key: "workspace_url", Default: "https://notion.so/myworkspace"},
		},
		Transport: config.TransportConfig{Type: config.TransportTypeStdio, Command: "mcp-server-notion"},
	}}
	reg, err := config.NewServiceRegistry(defs, nil, nil)
	require.NoError(t, err)
	svc, err := reg.Get("notion")
	require.NoError(t, err)
	return svc
}

// Set itself drives a real headless browser and cannot be exercised in a
// unit test without one; these tests cover the API-backed operations
// (Retrieve, Clean) against a stub Notion API, and Set's input validation.

func TestSet_MissingTemplateTitleFailsFast(t *testing.T) {
	m := New(testResolved(t))
	_, err := m.Set(context.Background(), state.RunContext{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "template_page_title")
}

func TestRetrieve_ReadsLastEditedTime(t *testing.T) {
	want := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/pages/abc123", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"last_edited_time": want})
	}))
	defer srv.Close()

	m := New(testResolved(t))
	m.apiBase = srv.URL
	ref, err := m.Retrieve(context.Background(), state.InitialStateInfo{PageID: "abc123"})
	require.NoError(t, err)
	require.Equal(t, "abc123", ref.Location)
	require.True(t, want.Equal(ref.TakenAt))
}

func TestClean_ZeroValueIsNoop(t *testing.T) {
	m := New(testResolved(t))
	require.NoError(t, m.Clean(context.Background(), state.InitialStateInfo{}))
}

func TestPrepareAgentConfig_ReturnsResolvedTransport(t *testing.T) {
	m := New(testResolved(t))
	transport, err := m.PrepareAgentConfig(state.InitialStateInfo{}, nil)
	require.NoError(t, err)
	require.Equal(t, config.TransportTypeStdio, transport.Type)
}
