//go:build integration

package postgresstate

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/codeready-toolchain/evalharness/pkg/catalog"
	"github.com/codeready-toolchain/evalharness/pkg/state"
)

// TestIntegration_SetRestoreClean exercises the Set (with seed restore) and
// Clean cycle against a real Postgres instance, adapted from the teacher's
// testcontainers-go postgres module usage in test/util/database.go (there
// wired to *ent.Client; here plain database/sql since this package has no
// ORM).
func TestIntegration_SetRestoreClean(t *testing.T) {
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:17-alpine",
		postgres.WithDatabase("postgres"),
		postgres.WithUsername("eval"),
		postgres.WithPassword("eval"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	m := New(testResolved(t))
	m.Host = host
	m.Port = port.Port()

	taskDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(taskDir, "seed"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(taskDir, "seed", "0001_init.up.sql"),
		[]byte(`CREATE TABLE widgets (id serial primary key, name text not null);
INSERT INTO widgets (name) VALUES ('gizmo');`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(taskDir, "seed", "0001_init.down.sql"),
		[]byte(`DROP TABLE widgets;`), 0o644))

	info, err := m.Set(ctx, state.RunContext{
		Task:     catalog.Task{Service: "postgres", Name: "widgets", Dir: taskDir},
		Model:    "claude-x",
		RunIndex: 1,
	})
	require.NoError(t, err)
	require.NotEmpty(t, info.Database)

	db, err := sql.Open("pgx", m.dsn(info.Database))
	require.NoError(t, err)
	defer db.Close()

	var name string
	require.NoError(t, db.QueryRowContext(ctx, "SELECT name FROM widgets").Scan(&name))
	require.Equal(t, "gizmo", name)

	require.NoError(t, m.Clean(ctx, info))

	admin, err := sql.Open("pgx", m.dsn(m.AdminDatabase))
	require.NoError(t, err)
	defer admin.Close()
	var count int
	require.NoError(t, admin.QueryRowContext(ctx, "SELECT count(*) FROM pg_database WHERE datname = $1", info.Database).Scan(&count))
	require.Zero(t, count)
}
