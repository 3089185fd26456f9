package config

import (
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func simpleDef(name string) ServiceDefinition {
	return ServiceDefinition{
		Name: name,
		Schema: []KeySpec{
			{Key: "api_key", EnvVar: "TEST_" + name + "_API_KEY", Required: true},
			{Key: "timeout", Default: "30", Validator: func(v string) error { return ValidatePort(v) }},
		},
		Transport:      TransportConfig{Type: TransportTypeStdio, Command: "./{api_key}-server"},
		EvalConfigKeys: []string{"api_key"},
		ConcurrencyCap: 4,
	}
}

func TestNewServiceRegistry_ResolvesFromEnv(t *testing.T) {
	t.Setenv("TEST_notion_API_KEY", "secret-token")

	reg, err := NewServiceRegistry([]ServiceDefinition{simpleDef("notion")}, nil, nil)
	require.NoError(t, err)

	svc, err := reg.Get("notion")
	require.NoError(t, err)
	assert.Equal(t, "secret-token", svc.Values["api_key"])
	assert.Equal(t, "secret-token", svc.EvalConfig["api_key"])
	assert.Equal(t, "30", svc.Values["timeout"])
	assert.Equal(t, 4, svc.ConcurrencyCap)
}

func TestNewServiceRegistry_MissingRequiredAggregates(t *testing.T) {
	os.Unsetenv("TEST_notion_API_KEY")

	_, err := NewServiceRegistry([]ServiceDefinition{simpleDef("notion"), simpleDef("github")}, nil, nil)
	require.Error(t, err)

	var agg *AggregateError
	require.ErrorAs(t, err, &agg)
	assert.Len(t, agg.Errors, 2)
	assert.ErrorIs(t, agg.Errors[0], ErrMissingRequiredField)
}

func TestResolveKey_Precedence(t *testing.T) {
	t.Setenv("TEST_PRECEDENCE_KEY", "from-env")
	spec := KeySpec{Key: "k", EnvVar: "TEST_PRECEDENCE_KEY", Default: "from-default"}

	// CLI beats env.
	v, found := resolveKey(spec, map[string]string{"k": "from-cli"}, nil)
	require.True(t, found)
	assert.Equal(t, "from-cli", v)

	// Env beats file default.
	v, found = resolveKey(spec, nil, map[string]string{"k": "from-file"})
	require.True(t, found)
	assert.Equal(t, "from-env", v)

	// File default used when env unset.
	os.Unsetenv("TEST_PRECEDENCE_KEY")
	v, found = resolveKey(spec, nil, map[string]string{"k": "from-file"})
	require.True(t, found)
	assert.Equal(t, "from-file", v)

	// Nothing resolves; caller falls back to built-in default.
	_, found = resolveKey(KeySpec{Key: "k"}, nil, nil)
	assert.False(t, found)
}

func TestServiceRegistry_GetUnknown(t *testing.T) {
	reg, err := NewServiceRegistry(nil, nil, nil)
	require.NoError(t, err)

	_, err = reg.Get("nonexistent")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServiceNotFound)
	assert.False(t, reg.Has("nonexistent"))
	assert.Empty(t, reg.Names())
}

func TestServiceRegistry_Names_Sorted(t *testing.T) {
	t.Setenv("TEST_zzz_API_KEY", "a")
	t.Setenv("TEST_aaa_API_KEY", "b")

	reg, err := NewServiceRegistry([]ServiceDefinition{simpleDef("zzz"), simpleDef("aaa")}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"aaa", "zzz"}, reg.Names())
}

func TestServiceRegistry_ThreadSafety(_ *testing.T) {
	_ = os.Setenv("TEST_concurrent_API_KEY", "v")
	reg, _ := NewServiceRegistry([]ServiceDefinition{simpleDef("concurrent")}, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = reg.Get("concurrent")
			_ = reg.Has("concurrent")
			_ = reg.Names()
		}()
	}
	wg.Wait()
}

func TestResolvedService_Transport_SubstitutesPlaceholders(t *testing.T) {
	t.Setenv("TEST_sub_API_KEY", "mytoken")
	reg, err := NewServiceRegistry([]ServiceDefinition{simpleDef("sub")}, nil, nil)
	require.NoError(t, err)

	svc, err := reg.Get("sub")
	require.NoError(t, err)

	transport := svc.Transport()
	assert.Equal(t, "./mytoken-server", transport.Command)
}

func TestParseBool(t *testing.T) {
	v, err := ParseBool("true")
	require.NoError(t, err)
	assert.Equal(t, "true", v)

	v, err = ParseBool("")
	require.NoError(t, err)
	assert.Equal(t, "false", v)

	_, err = ParseBool("not-a-bool")
	require.Error(t, err)
}

func TestValidatePort(t *testing.T) {
	assert.NoError(t, ValidatePort("8080"))
	assert.Error(t, ValidatePort("0"))
	assert.Error(t, ValidatePort("70000"))
	assert.Error(t, ValidatePort("abc"))
}

func TestValidateNonEmpty(t *testing.T) {
	assert.NoError(t, ValidateNonEmpty("x"))
	assert.Error(t, ValidateNonEmpty("  "))
}
