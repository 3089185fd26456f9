package config

// Config is the umbrella configuration object returned by Initialize and
// threaded through the orchestrator: the resolved Service Registry plus
// system-wide defaults for the agent runner, pipeline, and worker pool.
type Config struct {
	configDir string

	Defaults *Defaults
	Queue    *QueueConfig

	CatalogRoot string
	ResultsRoot string

	Services  *ServiceRegistry
	MCPServers *MCPServerRegistry
}

// ConfigDir returns the directory Initialize loaded from.
func (c *Config) ConfigDir() string { return c.configDir }

// ConfigStats summarizes what loaded, for startup logging.
type ConfigStats struct {
	Services   int
	MCPServers int
}

// Stats returns counts useful for a one-line startup log message.
func (c *Config) Stats() ConfigStats {
	return ConfigStats{
		Services:   len(c.Services.Names()),
		MCPServers: len(c.MCPServers.GetAll()),
	}
}

// GetService retrieves a resolved service's configuration by name.
func (c *Config) GetService(name string) (*ResolvedService, error) {
	return c.Services.Get(name)
}

// GetMCPServer retrieves a service's MCP launch descriptor by name.
func (c *Config) GetMCPServer(name string) (*MCPServerConfig, error) {
	return c.MCPServers.Get(name)
}
