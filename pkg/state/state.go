// Package state implements the State Manager contract (C3): the four-op
// interface (Set/Retrieve/Clean/PrepareAgentConfig) each of the five
// built-in services implements, and the lookup table the pipeline uses to
// reach a concrete implementation by service name.
package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/codeready-toolchain/evalharness/pkg/catalog"
	"github.com/codeready-toolchain/evalharness/pkg/config"
)

// RunContext identifies one (task, model, run_index) execution and carries
// everything a component needs to scope its side effects to this run alone.
type RunContext struct {
	Task         catalog.Task
	Model        string
	RunIndex     int
	WorkspaceRoot string
	Deadline     time.Time
	Cancel       <-chan struct{}
}

// Suffix returns a short string unique to this run, suitable for naming
// sandboxed resources (repo names, database names, temp directories) so
// concurrent Set calls against the same service never collide.
func (r RunContext) Suffix() string {
	return fmt.Sprintf("%s-%s-%s-r%d", sanitize(r.Task.Service), sanitize(r.Task.Name), sanitize(r.Model), r.RunIndex)
}

func sanitize(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			out = append(out, r)
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
		default:
			out = append(out, '-')
		}
	}
	return string(out)
}

// InitialStateInfo is the variant record a State Manager's Set produces
// (spec §3). Only the fields relevant to the owning service are populated;
// Placeholders projects whichever are set into the catalog's {{PLACEHOLDER}}
// substitution map (spec §4.2.3).
type InitialStateInfo struct {
	Service string

	// Notion
	PageID  string
	PageURL string

	// GitHub
	Owner string
	Repo  string

	// Filesystem
	Path string

	// PostgreSQL
	Database string

	// Browser
	ProfilePath string
	EntryURL    string
}

// Placeholders projects the populated locator fields into the description
// templating map. Field names match the examples named in spec §4.2.3.
func (i InitialStateInfo) Placeholders() map[string]string {
	p := make(map[string]string, 6)
	add := func(k, v string) {
		if v != "" {
			p[k] = v
		}
	}
	add("PAGE_ID", i.PageID)
	add("PAGE_URL", i.PageURL)
	add("REPO_OWNER", i.Owner)
	add("REPO_NAME", i.Repo)
	add("TEST_ROOT", i.Path)
	add("DB_NAME", i.Database)
	add("BROWSER_PROFILE", i.ProfilePath)
	add("ENTRY_URL", i.EntryURL)
	return p
}

// SnapshotRef is the optional, diagnostic return of Retrieve: a
// content-addressable pointer a verifier may consult, never required for
// verification to succeed.
type SnapshotRef struct {
	Kind     string // e.g. "postgres-dump", "page-revision", "git-commit"
	Location string
	TakenAt  time.Time
}

// CredentialBundle is the eval_config projection (spec §4.1d): the subset
// of a service's resolved config values the agent and verifier are allowed
// to see.
type CredentialBundle map[string]string

// Manager is the contract every service-specific state implementation
// satisfies (spec §4.3).
type Manager interface {
	// Set materialises a sandbox exclusively owned by runCtx. Idempotent
	// per run, not across runs. Returns StateDuplicationError when the
	// underlying service declines (quota, transient 5xx, naming race).
	Set(ctx context.Context, runCtx RunContext) (InitialStateInfo, error)

	// Retrieve returns a diagnostic snapshot reference. Optional: managers
	// that have nothing useful to offer return a zero SnapshotRef and a nil
	// error.
	Retrieve(ctx context.Context, info InitialStateInfo) (SnapshotRef, error)

	// Clean releases whatever Set materialised. Must be safe to call
	// whether or not Set succeeded, and safe to call twice.
	Clean(ctx context.Context, info InitialStateInfo) error

	// PrepareAgentConfig produces the concrete tool-server launch
	// parameters for this run (e.g. a filesystem root, a bearer token, a
	// database DSN), folding in the service's credential bundle.
	PrepareAgentConfig(info InitialStateInfo, creds CredentialBundle) (config.TransportConfig, error)
}

// StateDuplicationError reports that Set could not materialise a sandbox.
// The pipeline classifies this as retryable (spec §4.6.3).
type StateDuplicationError struct {
	Service string
	Reason  string
	Err     error
}

func (e *StateDuplicationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("state: %s: could not duplicate sandbox (%s): %v", e.Service, e.Reason, e.Err)
	}
	return fmt.Sprintf("state: %s: could not duplicate sandbox (%s)", e.Service, e.Reason)
}

func (e *StateDuplicationError) Unwrap() error { return e.Err }

// Registry is the lookup table mapping a service name to its Manager,
// populated once at startup and read thereafter from run goroutines
// (spec §9's "register implementations in a lookup table keyed by service
// name").
type Registry struct {
	mu       sync.RWMutex
	managers map[string]Manager
}

// NewRegistry returns an empty registry; callers Register each built-in
// implementation during wiring.
func NewRegistry() *Registry {
	return &Registry{managers: make(map[string]Manager)}
}

// Register binds a Manager to a service name, overwriting any previous
// binding — tests use this to swap in fakes.
func (r *Registry) Register(service string, m Manager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.managers[service] = m
}

// Get returns the Manager bound to service, or an error if none is
// registered.
func (r *Registry) Get(service string) (Manager, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.managers[service]
	if !ok {
		return nil, fmt.Errorf("state: no manager registered for service %q", service)
	}
	return m, nil
}
