// Package config implements the Service Registry (C1): a declarative table
// binding a service name to its required configuration, its tool-server
// launch descriptor, and the state-manager type to instantiate for it.
package config

// TransportType selects how the orchestrator talks to a service's tool server.
type TransportType string

const (
	// TransportTypeStdio launches a subprocess and speaks MCP over its stdio streams.
	TransportTypeStdio TransportType = "stdio"
	// TransportTypeHTTP opens a persistent HTTP streaming session.
	TransportTypeHTTP TransportType = "http"
	// TransportTypeSSE opens a server-sent-events session.
	TransportTypeSSE TransportType = "sse"
)

// IsValid reports whether t is one of the known transport types.
func (t TransportType) IsValid() bool {
	return t == TransportTypeStdio || t == TransportTypeHTTP || t == TransportTypeSSE
}

// TransportConfig is a tool-server launch descriptor (spec §6.2).
//
// Env and headers may contain "{key}" substitutions resolved against the
// service's resolved values at launch time (see ResolvedService.Transport).
type TransportConfig struct {
	Type TransportType `yaml:"type" validate:"required"`

	// For stdio transport.
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`

	// For http/sse transport.
	URL     string            `yaml:"url,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`

	BearerToken string `yaml:"bearer_token,omitempty"`
	VerifySSL   *bool  `yaml:"verify_ssl,omitempty"`
	Timeout     int    `yaml:"timeout,omitempty"` // seconds

	// CacheTools caches the tool listing once per (service, process) pair,
	// per spec §4.4's "cache the tool listing once per (service, process) pair".
	CacheTools bool `yaml:"cache_tools,omitempty"`
}
