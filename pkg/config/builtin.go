package config

// GetBuiltinServices returns the fixed closed set of service definitions
// (spec §3 "Service ... Identifier from a fixed closed set"). A deployment's
// registry.yaml may only override values within these schemas — the set of
// services itself is not extensible at runtime (spec §9's dynamic-dispatch
// note: a lookup table, no plugin runtime).
func GetBuiltinServices() []ServiceDefinition {
	return []ServiceDefinition{
		notionService(),
		githubService(),
		filesystemService(),
		postgresService(),
		browserService(),
	}
}

func notionService() ServiceDefinition {
	return ServiceDefinition{
		Name: "notion",
		Schema: []KeySpec{
			{Key: "api_key", EnvVar: "EVAL_NOTION_API_KEY", Required: true, Validator: ValidateNonEmpty},
			{Key: "parent_page_title", EnvVar: "EVAL_PARENT_PAGE_TITLE", Required: true, Validator: ValidateNonEmpty},
			{Key: "workspace_url", EnvVar: "EVAL_NOTION_WORKSPACE_URL", Default: ""},
		},
		Transport: TransportConfig{
			Type:       TransportTypeStdio,
			Command:    "mcp-server-notion",
			Env:        map[string]string{"NOTION_API_KEY": "{api_key}"},
			CacheTools: true,
			Timeout:    30,
		},
		StateManagerType: "notion",
		EvalConfigKeys:   []string{"api_key", "parent_page_title", "workspace_url"},
	}
}

func githubService() ServiceDefinition {
	return ServiceDefinition{
		Name: "github",
		Schema: []KeySpec{
			{Key: "token", EnvVar: "GITHUB_TOKEN", Required: true, Validator: ValidateNonEmpty},
			{Key: "org", EnvVar: "GITHUB_EVAL_ORG", Required: true, Validator: ValidateNonEmpty},
		},
		Transport: TransportConfig{
			Type:       TransportTypeStdio,
			Command:    "mcp-server-github",
			Env:        map[string]string{"GITHUB_PERSONAL_ACCESS_TOKEN": "{token}"},
			CacheTools: true,
			Timeout:    30,
		},
		StateManagerType: "github",
		EvalConfigKeys:   []string{"token", "org"},
		ConcurrencyCap:   4, // network service default (spec §4.8)
	}
}

func filesystemService() ServiceDefinition {
	return ServiceDefinition{
		Name: "filesystem",
		Schema: []KeySpec{
			{Key: "root_dir", EnvVar: "FILESYSTEM_EVAL_ROOT", Default: "/tmp/evalharness-fs"},
		},
		Transport: TransportConfig{
			Type:       TransportTypeStdio,
			Command:    "mcp-server-filesystem",
			Args:       []string{"{root_dir}"},
			CacheTools: true,
			Timeout:    30,
		},
		StateManagerType: "filesystem",
		EvalConfigKeys:   []string{"root_dir"},
	}
}

func postgresService() ServiceDefinition {
	return ServiceDefinition{
		Name: "postgres",
		Schema: []KeySpec{
			{Key: "host", EnvVar: "POSTGRES_HOST", Default: "localhost"},
			{Key: "port", EnvVar: "POSTGRES_PORT", Default: "5432", Validator: ValidatePort},
			{Key: "admin_database", EnvVar: "POSTGRES_ADMIN_DATABASE", Default: "postgres"},
			{Key: "username", EnvVar: "POSTGRES_USERNAME", Required: true, Validator: ValidateNonEmpty},
			{Key: "password", EnvVar: "POSTGRES_PASSWORD", Required: true, Validator: ValidateNonEmpty},
		},
		Transport: TransportConfig{
			Type: TransportTypeStdio,
			Command: "mcp-server-postgres",
			Env: map[string]string{
				"POSTGRES_HOST":     "{host}",
				"POSTGRES_PORT":     "{port}",
				"POSTGRES_USERNAME": "{username}",
				"POSTGRES_PASSWORD": "{password}",
			},
			CacheTools: true,
			Timeout:    30,
		},
		StateManagerType: "postgres",
		EvalConfigKeys:   []string{"host", "port", "username", "password"},
	}
}

func browserService() ServiceDefinition {
	return ServiceDefinition{
		Name: "browser",
		Schema: []KeySpec{
			{Key: "headless", EnvVar: "BROWSER_HEADLESS", Default: "true", Transformer: ParseBool},
			{Key: "storage_state_path", EnvVar: "BROWSER_STORAGE_STATE_PATH", Default: "/tmp/evalharness-browser/storage-state.json"},
		},
		Transport: TransportConfig{
			Type:       TransportTypeStdio,
			Command:    "mcp-server-browser",
			Env:        map[string]string{"BROWSER_STORAGE_STATE_PATH": "{storage_state_path}"},
			CacheTools: true,
			Timeout:    60,
		},
		StateManagerType: "browser",
		EvalConfigKeys:   []string{"headless", "storage_state_path"},
		ConcurrencyCap:   1, // spec §4.8: browser sessions serialize to 1
	}
}
