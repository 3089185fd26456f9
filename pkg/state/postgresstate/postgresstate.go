// Package postgresstate implements the PostgreSQL service's State Manager:
// Set creates a run-specific database and restores the task's seed dump,
// Clean drops it (spec §4.3 "PostgreSQL").
//
// Grounded on the teacher's pkg/database/client.go: pgx as the database/sql
// driver, golang-migrate with a filesystem source applying the seed dump,
// and the same care around not calling migrate.Migrate.Close() once the
// underlying *sql.DB is shared elsewhere.
package postgresstate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/golang-migrate/migrate/v4"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/codeready-toolchain/evalharness/pkg/config"
	"github.com/codeready-toolchain/evalharness/pkg/state"
)

// Manager implements state.Manager for the postgres service.
type Manager struct {
	Host, Port, AdminDatabase, Username, Password string

	resolved *config.ResolvedService
}

// New constructs a postgres Manager bound to resolved's configuration.
func New(resolved *config.ResolvedService) *Manager {
	return &Manager{
		Host:          resolved.Values["host"],
		Port:          resolved.Values["port"],
		AdminDatabase: resolved.Values["admin_database"],
		Username:      resolved.Values["username"],
		Password:      resolved.Values["password"],
		resolved:      resolved,
	}
}

func (m *Manager) dsn(database string) string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		m.Host, m.Port, m.Username, m.Password, database)
}

// Set creates a fresh database named for this run and, if the task carries
// a seed/ migrations directory, applies it via golang-migrate.
func (m *Manager) Set(ctx context.Context, runCtx state.RunContext) (state.InitialStateInfo, error) {
	dbName := "eval_" + runCtx.Suffix()

	admin, err := sql.Open("pgx", m.dsn(m.AdminDatabase))
	if err != nil {
		return state.InitialStateInfo{}, fmt.Errorf("postgresstate: open admin connection: %w", err)
	}
	defer admin.Close()

	if _, err := admin.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE %s", quoteIdent(dbName))); err != nil {
		return state.InitialStateInfo{}, &state.StateDuplicationError{Service: "postgres", Reason: "create database", Err: err}
	}

	if err := m.restoreSeed(ctx, runCtx, dbName); err != nil {
		_, _ = admin.ExecContext(ctx, fmt.Sprintf("DROP DATABASE IF EXISTS %s", quoteIdent(dbName)))
		return state.InitialStateInfo{}, &state.StateDuplicationError{Service: "postgres", Reason: "restore seed", Err: err}
	}

	return state.InitialStateInfo{Service: "postgres", Database: dbName}, nil
}

func (m *Manager) restoreSeed(ctx context.Context, runCtx state.RunContext, dbName string) error {
	seedDir := runCtx.Task.Dir + "/seed"
	if info, err := os.Stat(seedDir); err != nil || !info.IsDir() {
		return nil // task has no seed migrations; a schema-less db is a valid sandbox
	}

	db, err := sql.Open("pgx", m.dsn(dbName))
	if err != nil {
		return fmt.Errorf("open seed connection: %w", err)
	}
	defer db.Close()

	driver, err := migratepostgres.WithInstance(db, &migratepostgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}

	sourceDriver, err := (&file.File{}).Open("file://" + seedDir)
	if err != nil {
		return fmt.Errorf("open seed source: %w", err)
	}

	mig, err := migrate.NewWithInstance("file", sourceDriver, dbName, driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := mig.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply seed: %w", err)
	}

	// Do not call mig.Close(): it would close db, which we already own and
	// close ourselves via defer.
	return sourceDriver.Close()
}

// Retrieve returns the database name as a diagnostic reference; there is no
// cheaper content-addressable snapshot available without a full pg_dump.
func (m *Manager) Retrieve(ctx context.Context, info state.InitialStateInfo) (state.SnapshotRef, error) {
	return state.SnapshotRef{Kind: "postgres-database", Location: info.Database}, nil
}

// Clean drops the run's database. Terminates existing connections first so
// the DROP DATABASE does not fail with "database is being accessed by other
// users".
func (m *Manager) Clean(ctx context.Context, info state.InitialStateInfo) error {
	if info.Database == "" {
		return nil
	}

	admin, err := sql.Open("pgx", m.dsn(m.AdminDatabase))
	if err != nil {
		return fmt.Errorf("postgresstate: open admin connection: %w", err)
	}
	defer admin.Close()

	_, _ = admin.ExecContext(ctx,
		`SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = $1 AND pid <> pg_backend_pid()`,
		info.Database)

	if _, err := admin.ExecContext(ctx, fmt.Sprintf("DROP DATABASE IF EXISTS %s", quoteIdent(info.Database))); err != nil {
		slog.Warn("postgresstate: residual database left after failed drop", "database", info.Database, "error", err)
		return fmt.Errorf("postgresstate: drop database %s: %w", info.Database, err)
	}
	return nil
}

// PrepareAgentConfig binds the run's database name into the tool server's
// environment alongside the already-templated connection credentials.
func (m *Manager) PrepareAgentConfig(info state.InitialStateInfo, creds state.CredentialBundle) (config.TransportConfig, error) {
	t := m.resolved.Transport()
	if t.Env == nil {
		t.Env = map[string]string{}
	}
	t.Env["POSTGRES_DATABASE"] = info.Database
	return t, nil
}

func quoteIdent(ident string) string {
	return `"` + ident + `"`
}
