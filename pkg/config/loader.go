package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// RegistryYAMLConfig is the on-disk shape of registry.yaml: per-service
// overrides layered onto the built-in service table, plus the system-wide
// queue/defaults tuning.
type RegistryYAMLConfig struct {
	CatalogRoot string                      `yaml:"catalog_root"`
	ResultsRoot string                      `yaml:"results_root"`
	Queue       *QueueConfig                `yaml:"queue"`
	Defaults    *Defaults                   `yaml:"defaults"`
	Services    map[string]ServiceYAMLEntry `yaml:"services"`
}

// ServiceYAMLEntry overrides a built-in service's file-default values and
// carries free-text model-facing instructions for its tool server.
type ServiceYAMLEntry struct {
	Instructions string            `yaml:"instructions"`
	Overrides    map[string]string `yaml:"overrides"`
}

// Initialize loads registry.yaml (and .env) from configDir, resolves the
// Service Registry against CLI overrides, validates everything, and returns
// a ready-to-use Config. This is the orchestrator's single startup entry
// point (mirrors the teacher's cmd/tarsy/main.go sequence: dotenv → load →
// validate → log stats).
func Initialize(ctx context.Context, configDir string, cliOverrides map[string]map[string]string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("initializing configuration")

	if envPath := filepath.Join(configDir, ".env"); fileExists(envPath) {
		if err := godotenv.Load(envPath); err != nil {
			return nil, NewLoadError(".env", err)
		}
	}

	yamlCfg, err := loadRegistryYAML(configDir)
	if err != nil {
		return nil, err
	}

	queue := DefaultQueueConfig()
	if yamlCfg.Queue != nil {
		if err := mergo.Merge(queue, yamlCfg.Queue, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge queue config: %w", err)
		}
	}

	defaults := &Defaults{AgentLimits: DefaultAgentLimits(), RetryPolicy: DefaultRetryPolicy()}
	if yamlCfg.Defaults != nil {
		if yamlCfg.Defaults.AgentLimits != nil {
			if err := mergo.Merge(defaults.AgentLimits, yamlCfg.Defaults.AgentLimits, mergo.WithOverride); err != nil {
				return nil, fmt.Errorf("failed to merge agent limits: %w", err)
			}
		}
		if yamlCfg.Defaults.RetryPolicy != nil {
			if err := mergo.Merge(defaults.RetryPolicy, yamlCfg.Defaults.RetryPolicy, mergo.WithOverride); err != nil {
				return nil, fmt.Errorf("failed to merge retry policy: %w", err)
			}
		}
	}

	fileDefaults := make(map[string]map[string]string, len(yamlCfg.Services))
	instructions := make(map[string]string, len(yamlCfg.Services))
	for name, entry := range yamlCfg.Services {
		fileDefaults[name] = entry.Overrides
		instructions[name] = entry.Instructions
	}

	defs := GetBuiltinServices()
	applyServiceCaps(defs, queue)

	services, err := NewServiceRegistry(defs, cliOverrides, fileDefaults)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	cfg := &Config{
		configDir:   configDir,
		Defaults:    defaults,
		Queue:       queue,
		CatalogRoot: firstNonEmpty(yamlCfg.CatalogRoot, "./catalog"),
		ResultsRoot: firstNonEmpty(yamlCfg.ResultsRoot, "./results"),
		Services:    services,
		MCPServers:  NewMCPServerRegistryFromServices(services, instructions),
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	stats := cfg.Stats()
	log.Info("configuration initialized", "services", stats.Services, "mcp_servers", stats.MCPServers)
	return cfg, nil
}

func applyServiceCaps(defs []ServiceDefinition, queue *QueueConfig) {
	for i := range defs {
		if defs[i].ConcurrencyCap != 0 {
			continue // service declared its own cap (e.g. browser=1, github=4)
		}
		defs[i].ConcurrencyCap = queue.DefaultServiceCap
	}
}

func loadRegistryYAML(configDir string) (*RegistryYAMLConfig, error) {
	path := filepath.Join(configDir, "registry.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &RegistryYAMLConfig{}, nil // built-in defaults only
		}
		return nil, NewLoadError("registry.yaml", err)
	}

	data = ExpandEnv(data)

	var cfg RegistryYAMLConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return &cfg, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
