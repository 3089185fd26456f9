package browserstate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/evalharness/pkg/config"
	"github.com/codeready-toolchain/evalharness/pkg/state"
)

func testResolved(t *testing.T, storageStatePath string) *config.ResolvedService {
	t.Helper()
	defs := []config.ServiceDefinition{{
		Name: "browser",
		Schema: []config.KeySpec{
			{Key: "headless", Default: "true"},
			{Key: "storage_state_path", Default: storageStatePath},
		},
	}}
	reg, err := config.NewServiceRegistry(defs, nil, nil)
	require.NoError(t, err)
	svc, err := reg.Get("browser")
	require.NoError(t, err)
	return svc
}

func TestCopyStorageState_MissingSourceIsNotAnError(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "storage-state.json")
	require.NoError(t, copyStorageState(filepath.Join(t.TempDir(), "does-not-exist.json"), dst))
	_, err := os.Stat(dst)
	require.True(t, os.IsNotExist(err))
}

func TestCopyStorageState_CopiesExistingFile(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "storage-state.json")
	require.NoError(t, os.WriteFile(src, []byte(`{"cookies":[]}`), 0o644))

	dst := filepath.Join(root, "profile", "storage-state.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(dst), 0o755))
	require.NoError(t, copyStorageState(src, dst))

	content, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, `{"cookies":[]}`, string(content))
}

func TestClean_ZeroValueIsNoop(t *testing.T) {
	m := New(testResolved(t, filepath.Join(t.TempDir(), "storage-state.json")))
	require.NoError(t, m.Clean(context.Background(), state.InitialStateInfo{}))
}

func TestClean_RemovesProfileDirWithoutTrackedContext(t *testing.T) {
	root := t.TempDir()
	m := New(testResolved(t, filepath.Join(root, "storage-state.json")))

	profileDir := filepath.Join(root, "profiles", "run-1")
	require.NoError(t, os.MkdirAll(profileDir, 0o755))

	require.NoError(t, m.Clean(context.Background(), state.InitialStateInfo{ProfilePath: profileDir}))
	_, err := os.Stat(profileDir)
	require.True(t, os.IsNotExist(err))
}

func TestPrepareAgentConfig_BindsProfileStorageState(t *testing.T) {
	m := New(testResolved(t, filepath.Join(t.TempDir(), "storage-state.json")))
	transport, err := m.PrepareAgentConfig(state.InitialStateInfo{ProfilePath: "/tmp/profiles/run-1"}, nil)
	require.NoError(t, err)
	require.Equal(t, "/tmp/profiles/run-1/storage-state.json", transport.Env["BROWSER_STORAGE_STATE_PATH"])
}
