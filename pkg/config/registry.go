package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// KeySource names where a config value may come from. Precedence when
// resolving a key is CLI > Env > FileDefault > BuiltinDefault (spec §4.1).
type KeySource int

const (
	SourceCLI KeySource = iota
	SourceEnv
	SourceFileDefault
	SourceBuiltinDefault
)

// KeySpec describes one configuration key of a service's schema.
type KeySpec struct {
	Key      string // logical key name, e.g. "api_key"
	EnvVar   string // environment variable checked when no CLI override is given
	Default  string // built-in default (used when Required is false and nothing else resolves it)
	Required bool

	// Validator enforces bounds on the resolved value (e.g. port 1-65535).
	// Receives the value after Transformer has run.
	Validator func(value string) error

	// Transformer normalises the raw string value (e.g. coerce booleans,
	// resolve relative paths to absolute). Identity if nil.
	Transformer func(value string) (string, error)
}

// ServiceDefinition is a Service Registry (C1) entry: everything needed to
// resolve, validate, and launch one service's tool server.
type ServiceDefinition struct {
	Name string

	// Schema enumerates every config key this service needs.
	Schema []KeySpec

	// Transport is the launch descriptor template; "{key}" placeholders in
	// Command/Args/URL/Env/Headers/BearerToken are substituted from the
	// resolved values at launch time (ResolvedService.Transport).
	Transport TransportConfig

	// StateManagerType names the concrete StateManager implementation to
	// construct for this service (lookup table, not a plugin runtime — see
	// pkg/state's Registry and spec §9's dynamic-dispatch-by-name note).
	StateManagerType string

	// EvalConfigKeys lists which resolved schema keys are projected into the
	// per-run agent-facing credential bundle (spec §4.1 "eval_config
	// projection").
	EvalConfigKeys []string

	// ConcurrencyCap overrides the worker pool's per-service concurrency cap
	// (spec §4.8). Zero means "use the pool's configured default".
	ConcurrencyCap int
}

// placeholderRe matches "{key}" substitution tokens in launch descriptors.
var placeholderRe = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// ResolvedService is a ServiceDefinition with every schema key resolved to a
// concrete value from CLI overrides, environment, file defaults, or
// built-in defaults.
type ResolvedService struct {
	Name           string
	Values         map[string]string
	EvalConfig     map[string]string
	ConcurrencyCap int
	def            *ServiceDefinition
}

// Transport returns the launch descriptor with "{key}" placeholders resolved
// against this service's values.
func (r *ResolvedService) Transport() TransportConfig {
	t := r.def.Transport
	t.Command = r.substitute(t.Command)
	args := make([]string, len(t.Args))
	for i, a := range t.Args {
		args[i] = r.substitute(a)
	}
	t.Args = args
	t.URL = r.substitute(t.URL)
	t.BearerToken = r.substitute(t.BearerToken)
	if len(t.Env) > 0 {
		env := make(map[string]string, len(t.Env))
		for k, v := range t.Env {
			env[k] = r.substitute(v)
		}
		t.Env = env
	}
	if len(t.Headers) > 0 {
		headers := make(map[string]string, len(t.Headers))
		for k, v := range t.Headers {
			headers[k] = r.substitute(v)
		}
		t.Headers = headers
	}
	return t
}

func (r *ResolvedService) substitute(s string) string {
	if s == "" {
		return s
	}
	return placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		key := m[1 : len(m)-1]
		if v, ok := r.Values[key]; ok {
			return v
		}
		return m
	})
}

// ServiceRegistry holds resolved service configuration for the lifetime of
// the process. Built once at startup; read-only thereafter (spec §3
// "Service ... Process-lifetime, read-only after startup").
type ServiceRegistry struct {
	mu       sync.RWMutex
	services map[string]*ResolvedService
}

// NewServiceRegistry resolves every definition and returns a populated
// registry, or an aggregated error listing every missing/invalid key across
// every service.
func NewServiceRegistry(defs []ServiceDefinition, cliOverrides map[string]map[string]string, fileDefaults map[string]map[string]string) (*ServiceRegistry, error) {
	services := make(map[string]*ResolvedService, len(defs))
	var errs []error

	for i := range defs {
		def := defs[i]
		resolved, resolveErrs := resolveService(&def, cliOverrides[def.Name], fileDefaults[def.Name])
		errs = append(errs, resolveErrs...)
		if resolved != nil {
			services[def.Name] = resolved
		}
	}

	if err := NewAggregateError(errs); err != nil {
		return nil, err
	}
	return &ServiceRegistry{services: services}, nil
}

func resolveService(def *ServiceDefinition, cli, fileDefault map[string]string) (*ResolvedService, []error) {
	values := make(map[string]string, len(def.Schema))
	var errs []error

	for _, spec := range def.Schema {
		value, found := resolveKey(spec, cli, fileDefault)
		if !found {
			if spec.Required {
				errs = append(errs, NewValidationError("service", def.Name, spec.Key, fmt.Errorf("%w", ErrMissingRequiredField)))
				continue
			}
			value = spec.Default
		}

		if spec.Transformer != nil {
			transformed, err := spec.Transformer(value)
			if err != nil {
				errs = append(errs, NewValidationError("service", def.Name, spec.Key, err))
				continue
			}
			value = transformed
		}

		if spec.Validator != nil {
			if err := spec.Validator(value); err != nil {
				errs = append(errs, NewValidationError("service", def.Name, spec.Key, fmt.Errorf("%w: %s", ErrInvalidValue, err)))
				continue
			}
		}

		values[spec.Key] = value
	}

	if len(errs) > 0 {
		return nil, errs
	}

	evalConfig := make(map[string]string, len(def.EvalConfigKeys))
	for _, k := range def.EvalConfigKeys {
		evalConfig[k] = values[k]
	}

	return &ResolvedService{
		Name:           def.Name,
		Values:         values,
		EvalConfig:     evalConfig,
		ConcurrencyCap: def.ConcurrencyCap,
		def:            def,
	}, nil
}

// resolveKey applies the CLI > Env > file-default precedence for one key.
// Returns found=false only when none of the first three sources has a value
// (the caller falls back to the built-in default).
func resolveKey(spec KeySpec, cli, fileDefault map[string]string) (string, bool) {
	if cli != nil {
		if v, ok := cli[spec.Key]; ok && v != "" {
			return v, true
		}
	}
	if spec.EnvVar != "" {
		if v := os.Getenv(spec.EnvVar); v != "" {
			return v, true
		}
	}
	if fileDefault != nil {
		if v, ok := fileDefault[spec.Key]; ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// Get retrieves a resolved service by name.
func (r *ServiceRegistry) Get(name string) (*ResolvedService, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.services[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	return s, nil
}

// Has reports whether name is a registered service.
func (r *ServiceRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.services[name]
	return ok
}

// Names returns every registered service name, sorted.
func (r *ServiceRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.services))
	for n := range r.services {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ParseBool is a Transformer helper coercing common truthy/falsy strings.
func ParseBool(s string) (string, error) {
	if s == "" {
		return "false", nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("not a boolean: %q", s)
	}
	return strconv.FormatBool(b), nil
}

// ValidatePort enforces the 1-65535 bound on a string-encoded port.
func ValidatePort(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("not an integer: %q", s)
	}
	if n < 1 || n > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", n)
	}
	return nil
}

// ValidateNonEmpty rejects an empty string.
func ValidateNonEmpty(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("must not be empty")
	}
	return nil
}
