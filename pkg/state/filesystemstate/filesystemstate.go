// Package filesystemstate implements the filesystem service's State Manager:
// Set copies a seed tree into a runs-scoped temporary root and Clean
// recursively removes it (spec §4.3 "Filesystem").
package filesystemstate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/codeready-toolchain/evalharness/pkg/config"
	"github.com/codeready-toolchain/evalharness/pkg/state"
)

// Manager implements state.Manager for the filesystem service. It is
// intentionally stdlib-only: copying a directory tree and substituting one
// path into a launch descriptor is core-language work with no ecosystem
// library the retrieval pack reaches for.
type Manager struct {
	// RootDir is the service's configured scratch root
	// (FILESYSTEM_EVAL_ROOT); every run gets its own subdirectory beneath it.
	RootDir string

	resolved *config.ResolvedService
}

// New constructs a filesystem Manager bound to resolved's configuration.
func New(resolved *config.ResolvedService) *Manager {
	return &Manager{
		RootDir:  resolved.Values["root_dir"],
		resolved: resolved,
	}
}

// Set copies the task's seed directory (<task-dir>/seed/, if present) into a
// run-unique directory under RootDir. A task with no seed directory gets an
// empty sandbox.
func (m *Manager) Set(ctx context.Context, runCtx state.RunContext) (state.InitialStateInfo, error) {
	runRoot := filepath.Join(m.RootDir, runCtx.Suffix())
	if err := os.MkdirAll(runRoot, 0o755); err != nil {
		return state.InitialStateInfo{}, &state.StateDuplicationError{Service: "filesystem", Reason: "mkdir run root", Err: err}
	}

	seedDir := filepath.Join(runCtx.Task.Dir, "seed")
	if info, err := os.Stat(seedDir); err == nil && info.IsDir() {
		if err := copyTree(seedDir, runRoot); err != nil {
			return state.InitialStateInfo{}, &state.StateDuplicationError{Service: "filesystem", Reason: "copy seed tree", Err: err}
		}
	}

	return state.InitialStateInfo{Service: "filesystem", Path: runRoot}, nil
}

// Retrieve has nothing content-addressable to offer for a plain directory
// tree; returns a zero SnapshotRef.
func (m *Manager) Retrieve(ctx context.Context, info state.InitialStateInfo) (state.SnapshotRef, error) {
	return state.SnapshotRef{}, nil
}

// Clean recursively removes the run's sandbox directory. Safe to call on an
// already-removed path or a zero-value info.
func (m *Manager) Clean(ctx context.Context, info state.InitialStateInfo) error {
	if info.Path == "" {
		return nil
	}
	if err := os.RemoveAll(info.Path); err != nil {
		slog.Warn("filesystemstate: residual sandbox left on disk", "path", info.Path, "error", err)
		return fmt.Errorf("filesystemstate: remove %s: %w", info.Path, err)
	}
	return nil
}

// PrepareAgentConfig binds the run's sandbox path as the filesystem tool
// server's single argument.
func (m *Manager) PrepareAgentConfig(info state.InitialStateInfo, creds state.CredentialBundle) (config.TransportConfig, error) {
	t := m.resolved.Transport()
	t.Args = []string{info.Path}
	return t, nil
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if fi.IsDir() {
			return os.MkdirAll(target, fi.Mode())
		}
		return copyFile(path, target, fi.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
