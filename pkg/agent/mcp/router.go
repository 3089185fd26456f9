package mcp

import (
	"fmt"
	"regexp"
	"strings"
)

// toolNameRegex validates the "server.tool" format.
// Both server and tool parts must start with a word character and contain
// only word characters and hyphens.
var toolNameRegex = regexp.MustCompile(`^([\w][\w-]*)\.([\w][\w-]*)$`)

// NormalizeToolName converts tool names between model-provider function-name
// conventions. Tools are listed to the model as "server.tool"; a call that
// comes back as "server__tool" (the spelling used by providers that reject
// "." in a function name) is accepted too. Normalizes both to "server.tool"
// for routing against the service registry.
func NormalizeToolName(name string) string {
	// Convert double-underscore to dot (underscore-qualified → canonical)
	if strings.Contains(name, "__") && !strings.Contains(name, ".") {
		return strings.Replace(name, "__", ".", 1)
	}
	return name
}

// SplitToolName splits "server.tool" into (serverID, toolName, error).
// Validates format with strict regex: server and tool parts must be
// word characters and hyphens, non-empty.
func SplitToolName(name string) (serverID, toolName string, err error) {
	matches := toolNameRegex.FindStringSubmatch(name)
	if matches == nil {
		return "", "", fmt.Errorf(
			"invalid tool name %q: must be in 'server.tool' format "+
				"(e.g., 'github.create_issue')", name)
	}
	return matches[1], matches[2], nil
}
