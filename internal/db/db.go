// Package db provides database persistence for orch.
//
// A single database holds the task table. SQLite is the default; PostgreSQL
// is available for shared deployments.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/randalmurphal/orch/internal/db/driver"
)

//go:embed schema/sqlite/*.sql schema/postgres/*.sql
var schemaFS embed.FS

// SchemaTasks is the migration set for the task table.
const SchemaTasks = "tasks"

// embedFSAdapter wraps embed.FS to implement driver.SchemaFS.
type embedFSAdapter struct {
	fs embed.FS
}

func (e *embedFSAdapter) ReadDir(name string) ([]driver.DirEntry, error) {
	entries, err := e.fs.ReadDir(name)
	if err != nil {
		return nil, err
	}
	result := make([]driver.DirEntry, len(entries))
	for i, entry := range entries {
		result[i] = dirEntryAdapter{entry}
	}
	return result, nil
}

func (e *embedFSAdapter) ReadFile(name string) ([]byte, error) {
	return e.fs.ReadFile(name)
}

type dirEntryAdapter struct {
	fs.DirEntry
}

// DB wraps a database connection with driver abstraction.
type DB struct {
	driver driver.Driver
	path   string
}

// Open opens a SQLite database at the given path and applies migrations.
// Creates the parent directory if it doesn't exist.
func Open(path string) (*DB, error) {
	return OpenWithDialect(path, driver.DialectSQLite)
}

// OpenInMemory opens an in-memory SQLite database with the schema applied.
// Each call creates a new isolated database.
func OpenInMemory() (*DB, error) {
	drv, err := driver.New(driver.DialectSQLite)
	if err != nil {
		return nil, err
	}
	if err := drv.Open(":memory:"); err != nil {
		return nil, err
	}

	d := &DB{driver: drv, path: ":memory:"}
	if err := d.Migrate(context.Background(), SchemaTasks); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

// OpenWithDialect opens a database with a specific dialect and applies migrations.
func OpenWithDialect(dsn string, dialect driver.Dialect) (*DB, error) {
	if dialect == driver.DialectSQLite {
		dir := filepath.Dir(dsn)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	drv, err := driver.New(dialect)
	if err != nil {
		return nil, err
	}
	if err := drv.Open(dsn); err != nil {
		return nil, err
	}

	d := &DB{driver: drv, path: dsn}
	if err := d.Migrate(context.Background(), SchemaTasks); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("migrate %s: %w", dsn, err)
	}
	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.driver.Close()
}

// Path returns the database DSN/path.
func (d *DB) Path() string {
	return d.path
}

// Dialect returns the database dialect.
func (d *DB) Dialect() driver.Dialect {
	return d.driver.Dialect()
}

// Migrate runs all migrations for the given schema type.
// Schema files are expected to be named: {type}_NNN.sql (e.g., tasks_001.sql)
func (d *DB) Migrate(ctx context.Context, schemaType string) error {
	return d.driver.Migrate(ctx, &embedFSAdapter{fs: schemaFS}, schemaType)
}

// exec runs a statement written with ? placeholders.
func (d *DB) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.driver.Exec(ctx, driver.Rebind(d.driver, query), args...)
}

func (d *DB) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.driver.Query(ctx, driver.Rebind(d.driver, query), args...)
}

func (d *DB) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return d.driver.QueryRow(ctx, driver.Rebind(d.driver, query), args...)
}
