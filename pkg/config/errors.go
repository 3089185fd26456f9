package config

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfigNotFound indicates the configuration file was not found.
	ErrConfigNotFound = errors.New("configuration file not found")

	// ErrInvalidYAML indicates YAML parsing failed.
	ErrInvalidYAML = errors.New("invalid YAML syntax")

	// ErrValidationFailed indicates configuration validation failed.
	ErrValidationFailed = errors.New("configuration validation failed")

	// ErrServiceNotFound indicates a service was not found in the registry.
	ErrServiceNotFound = errors.New("service not found")

	// ErrMCPServerNotFound indicates an MCP server was not found in the registry.
	ErrMCPServerNotFound = errors.New("MCP server not found")

	// ErrMissingRequiredField indicates a required config key had no value
	// from any source (CLI, env, file default, built-in default).
	ErrMissingRequiredField = errors.New("missing required field")

	// ErrInvalidValue indicates a field failed its validator.
	ErrInvalidValue = errors.New("invalid field value")
)

// ValidationError wraps a single configuration validation failure with context.
type ValidationError struct {
	Component string // e.g. "service", "mcp_server"
	ID        string // e.g. service name
	Field     string // config key, optional
	Err       error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s %q: field %q: %v", e.Component, e.ID, e.Field, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Component, e.ID, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidationError constructs a ValidationError.
func NewValidationError(component, id, field string, err error) *ValidationError {
	return &ValidationError{Component: component, ID: id, Field: field, Err: err}
}

// AggregateError collects multiple validation errors so startup can report
// every missing/invalid key in one pass instead of failing on the first.
type AggregateError struct {
	Errors []error
}

func (e *AggregateError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d configuration error(s):\n  - %s", len(e.Errors), strings.Join(msgs, "\n  - "))
}

func (e *AggregateError) Unwrap() []error { return e.Errors }

// NewAggregateError returns nil if errs is empty, else an *AggregateError.
func NewAggregateError(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return &AggregateError{Errors: errs}
}

// LoadError wraps a configuration-file loading failure with file context.
type LoadError struct {
	File string
	Err  error
}

func (e *LoadError) Error() string { return fmt.Sprintf("failed to load %s: %v", e.File, e.Err) }
func (e *LoadError) Unwrap() error { return e.Err }

// NewLoadError constructs a LoadError.
func NewLoadError(file string, err error) *LoadError {
	return &LoadError{File: file, Err: err}
}
