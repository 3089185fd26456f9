package postgresstate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/evalharness/pkg/config"
	"github.com/codeready-toolchain/evalharness/pkg/state"
)

func testResolved(t *testing.T) *config.ResolvedService {
	t.Helper()
	defs := []config.ServiceDefinition{{
		Name: "postgres",
		Schema: []config.KeySpec{
			{Key: "host", Default: "localhost"},
			{Key: "port", Default: "5432"},
			{Key: "admin_database", Default: "postgres"},
			{Key: "username", Default: "eval"},
			{Key: "password", Default: "eval"},
		},
		Transport: config.TransportConfig{Type: config.TransportTypeStdio, Command: "mcp-server-postgres"},
	}}
	reg, err := config.NewServiceRegistry(defs, nil, nil)
	require.NoError(t, err)
	svc, err := reg.Get("postgres")
	require.NoError(t, err)
	return svc
}

func TestDSN_FormatsConnectionString(t *testing.T) {
	m := New(testResolved(t))
	require.Equal(t,
		"host=localhost port=5432 user=eval password=eval dbname=eval_test sslmode=disable",
		m.dsn("eval_test"))
}

func TestQuoteIdent(t *testing.T) {
	require.Equal(t, `"eval_run_1"`, quoteIdent("eval_run_1"))
}

func TestClean_ZeroValueIsNoopWithoutTouchingDatabase(t *testing.T) {
	m := New(testResolved(t))
	require.NoError(t, m.Clean(context.Background(), state.InitialStateInfo{}))
}

func TestPrepareAgentConfig_BindsDatabaseName(t *testing.T) {
	m := New(testResolved(t))
	transport, err := m.PrepareAgentConfig(state.InitialStateInfo{Database: "eval_run_3"}, nil)
	require.NoError(t, err)
	require.Equal(t, "eval_run_3", transport.Env["POSTGRES_DATABASE"])
}

func TestRetrieve_ReturnsDatabaseNameAsLocation(t *testing.T) {
	m := New(testResolved(t))
	ref, err := m.Retrieve(context.Background(), state.InitialStateInfo{Database: "eval_run_3"})
	require.NoError(t, err)
	require.Equal(t, "eval_run_3", ref.Location)
}
