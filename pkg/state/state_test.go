package state

import (
	"context"
	"errors"
	"testing"

	"github.com/codeready-toolchain/evalharness/pkg/catalog"
	"github.com/codeready-toolchain/evalharness/pkg/config"
	"github.com/stretchr/testify/require"
)

type fakeManager struct{}

func (fakeManager) Set(ctx context.Context, runCtx RunContext) (InitialStateInfo, error) {
	return InitialStateInfo{Service: "fake"}, nil
}
func (fakeManager) Retrieve(ctx context.Context, info InitialStateInfo) (SnapshotRef, error) {
	return SnapshotRef{}, nil
}
func (fakeManager) Clean(ctx context.Context, info InitialStateInfo) error { return nil }
func (fakeManager) PrepareAgentConfig(info InitialStateInfo, creds CredentialBundle) (config.TransportConfig, error) {
	return config.TransportConfig{}, nil
}

func TestRegistry_GetUnregisteredServiceErrors(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("notion")
	require.Error(t, err)
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register("notion", fakeManager{})

	m, err := r.Get("notion")
	require.NoError(t, err)
	require.NotNil(t, m)
}

func TestRunContext_SuffixIsStableAndSanitized(t *testing.T) {
	rc := RunContext{
		Task:     catalog.Task{Service: "github", Name: "Open PR!"},
		Model:    "claude-3.5-Sonnet",
		RunIndex: 2,
	}
	suffix := rc.Suffix()
	require.Equal(t, suffix, rc.Suffix())
	require.NotContains(t, suffix, "!")
	require.NotContains(t, suffix, ".")
}

func TestInitialStateInfo_PlaceholdersOnlyIncludesSetFields(t *testing.T) {
	info := InitialStateInfo{Service: "filesystem", Path: "/tmp/run-1"}
	p := info.Placeholders()
	require.Equal(t, map[string]string{"TEST_ROOT": "/tmp/run-1"}, p)
}

func TestStateDuplicationError_Unwraps(t *testing.T) {
	inner := errors.New("quota exceeded")
	err := &StateDuplicationError{Service: "github", Reason: "fork", Err: inner}
	require.ErrorIs(t, err, inner)
	require.Contains(t, err.Error(), "github")
}
