package config

import "os"

// ExpandEnv expands environment variables in YAML content before parsing.
// Supports both ${VAR} and $VAR syntax (standard shell-style).
//
// Missing variables expand to an empty string; validation catches required
// fields left empty by a missing variable.
func ExpandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}
