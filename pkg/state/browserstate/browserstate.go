// Package browserstate implements the browser service's State Manager: Set
// instantiates an isolated browser context seeded from a pre-authenticated
// storage-state file, Clean closes it (spec §4.3 "Browser").
//
// No file in the retrieval pack exercises chromedp; this is written
// directly from the SDK's published API, the same caveat recorded in
// pkg/state/notionstate.
package browserstate

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/chromedp/chromedp"

	"github.com/codeready-toolchain/evalharness/pkg/config"
	"github.com/codeready-toolchain/evalharness/pkg/state"
)

// Manager implements state.Manager for the browser service. Every run gets
// its own chromedp allocator and browser context rather than sharing a
// single process-wide browser, so Set/Clean calls across concurrent runs
// never alias each other's cookies or local storage (spec §4.3
// "Concurrency" note).
type Manager struct {
	Headless         bool
	StorageStatePath string

	resolved *config.ResolvedService

	mu       sync.Mutex
	contexts map[string]context.CancelFunc
}

// New constructs a browser Manager bound to resolved's configuration.
func New(resolved *config.ResolvedService) *Manager {
	headless := resolved.Values["headless"] != "false"
	return &Manager{
		Headless:         headless,
		StorageStatePath: resolved.Values["storage_state_path"],
		resolved:         resolved,
		contexts:         make(map[string]context.CancelFunc),
	}
}

// Set launches an isolated browser context for this run, copying the
// shared pre-authenticated storage-state file into a run-scoped profile
// directory so login cookies are reused without the run being able to
// corrupt the shared login.
func (m *Manager) Set(ctx context.Context, runCtx state.RunContext) (state.InitialStateInfo, error) {
	profileDir := filepath.Join(filepath.Dir(m.StorageStatePath), "profiles", runCtx.Suffix())
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		return state.InitialStateInfo{}, &state.StateDuplicationError{Service: "browser", Reason: "mkdir profile dir", Err: err}
	}

	if err := copyStorageState(m.StorageStatePath, filepath.Join(profileDir, "storage-state.json")); err != nil {
		return state.InitialStateInfo{}, &state.StateDuplicationError{Service: "browser", Reason: "seed storage state", Err: err}
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(),
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", m.Headless),
			chromedp.UserDataDir(profileDir),
		)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return state.InitialStateInfo{}, &state.StateDuplicationError{Service: "browser", Reason: "launch browser context", Err: err}
	}

	m.mu.Lock()
	m.contexts[runCtx.Suffix()] = func() { browserCancel(); allocCancel() }
	m.mu.Unlock()

	entryURL, _ := runCtx.Task.Meta.Extra["entry_url"].(string)

	return state.InitialStateInfo{
		Service:     "browser",
		ProfilePath: profileDir,
		EntryURL:    entryURL,
	}, nil
}

// Retrieve has no diagnostic snapshot to offer for a live browser context.
func (m *Manager) Retrieve(ctx context.Context, info state.InitialStateInfo) (state.SnapshotRef, error) {
	return state.SnapshotRef{}, nil
}

// Clean closes the run's browser context and removes its profile directory.
// Safe to call twice or on a locator whose context was never tracked (e.g.
// after a process restart).
func (m *Manager) Clean(ctx context.Context, info state.InitialStateInfo) error {
	if info.ProfilePath == "" {
		return nil
	}

	m.mu.Lock()
	cancel, ok := m.contexts[filepath.Base(info.ProfilePath)]
	if ok {
		delete(m.contexts, filepath.Base(info.ProfilePath))
	}
	m.mu.Unlock()
	if ok {
		cancel()
	}

	if err := os.RemoveAll(info.ProfilePath); err != nil {
		slog.Warn("browserstate: residual profile directory left on disk", "path", info.ProfilePath, "error", err)
		return fmt.Errorf("browserstate: remove profile dir %s: %w", info.ProfilePath, err)
	}
	return nil
}

// PrepareAgentConfig binds the run's profile directory into the browser
// tool server's environment so it drives the same Chrome user-data
// directory the state manager seeded.
func (m *Manager) PrepareAgentConfig(info state.InitialStateInfo, creds state.CredentialBundle) (config.TransportConfig, error) {
	t := m.resolved.Transport()
	if t.Env == nil {
		t.Env = map[string]string{}
	}
	t.Env["BROWSER_STORAGE_STATE_PATH"] = filepath.Join(info.ProfilePath, "storage-state.json")
	return t, nil
}

func copyStorageState(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // no shared login seeded yet; run starts logged out
		}
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
