package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_SelectsAnthropicByPrefix(t *testing.T) {
	client, err := NewClient("claude-opus-4", ProviderCredentials{AnthropicAPIKey: "sk-ant-xxx"})
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestNewClient_AnthropicRequiresKey(t *testing.T) {
	_, err := NewClient("claude-opus-4", ProviderCredentials{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Anthropic")
}

func TestNewClient_SelectsOpenAIByPrefix(t *testing.T) {
	for _, model := range []string{"gpt-4o", "o1-preview", "o3-mini"} {
		client, err := NewClient(model, ProviderCredentials{OpenAIAPIKey: "sk-xxx"})
		require.NoError(t, err, model)
		assert.NotNil(t, client, model)
	}
}

func TestNewClient_OpenAIRequiresKey(t *testing.T) {
	_, err := NewClient("gpt-4o", ProviderCredentials{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OpenAI")
}

func TestNewClient_UnknownPrefixErrors(t *testing.T) {
	_, err := NewClient("llama-3-70b", ProviderCredentials{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no model-provider backend")
}
