package llm

import (
	"fmt"
	"strings"
)

// ProviderCredentials carries the per-service API keys needed to construct
// a backend client. The caller supplies them; cmd/evalctl reads them from
// the process environment once and uses the same keys for every run.
type ProviderCredentials struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	OpenAIBaseURL   string // optional, for OpenAI-compatible gateways
}

// NewClient selects a backend by model-name prefix (spec §6.3: "selection
// is by model-name prefix") and constructs it lazily so a process that only
// ever talks to one provider needn't hold credentials for the other.
func NewClient(model string, creds ProviderCredentials) (Client, error) {
	switch {
	case strings.HasPrefix(model, "claude-"):
		if creds.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("model %q requires an Anthropic API key", model)
		}
		return newAnthropicClient(creds.AnthropicAPIKey), nil
	case strings.HasPrefix(model, "gpt-"), strings.HasPrefix(model, "o1-"), strings.HasPrefix(model, "o3-"):
		if creds.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("model %q requires an OpenAI API key", model)
		}
		return newOpenAIClient(creds.OpenAIAPIKey, creds.OpenAIBaseURL), nil
	default:
		return nil, fmt.Errorf("no model-provider backend registered for model prefix of %q", model)
	}
}
