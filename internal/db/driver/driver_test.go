package driver

import (
	"context"
	"io/fs"
	"path/filepath"
	"testing"
	"testing/fstest"
)

func TestNewDriver(t *testing.T) {
	tests := []struct {
		name    string
		dialect Dialect
		wantErr bool
	}{
		{"sqlite", DialectSQLite, false},
		{"postgres", DialectPostgres, false},
		{"invalid", Dialect("invalid"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drv, err := New(tt.dialect)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if drv == nil {
				t.Error("expected driver, got nil")
			}
		})
	}
}

func TestParseDialect(t *testing.T) {
	tests := []struct {
		input   string
		want    Dialect
		wantErr bool
	}{
		{"sqlite", DialectSQLite, false},
		{"sqlite3", DialectSQLite, false},
		{"postgres", DialectPostgres, false},
		{"postgresql", DialectPostgres, false},
		{"pg", DialectPostgres, false},
		{"mysql", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDialect(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRebind(t *testing.T) {
	query := "UPDATE tasks SET status = 'why?' WHERE id = ? AND status = ?"

	if got := Rebind(NewSQLite(), query); got != query {
		t.Errorf("sqlite Rebind changed query: %q", got)
	}

	want := "UPDATE tasks SET status = 'why?' WHERE id = $1 AND status = $2"
	if got := Rebind(NewPostgres(), query); got != want {
		t.Errorf("postgres Rebind = %q, want %q", got, want)
	}
}

func TestSQLiteDriver(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	drv := NewSQLite()
	if err := drv.Open(dbPath); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = drv.Close() }()

	if drv.Dialect() != DialectSQLite {
		t.Errorf("Dialect() = %v, want %v", drv.Dialect(), DialectSQLite)
	}

	ctx := context.Background()
	var mode string
	if err := drv.QueryRow(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}

	if _, err := drv.Exec(ctx, "CREATE TABLE test (id INTEGER PRIMARY KEY, name TEXT)"); err != nil {
		t.Fatalf("Exec CREATE TABLE failed: %v", err)
	}

	tx, err := drv.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("BeginTx failed: %v", err)
	}
	if _, err := tx.Exec(ctx, "INSERT INTO test (name) VALUES (?)", "hello"); err != nil {
		t.Fatalf("tx.Exec failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("tx.Commit failed: %v", err)
	}

	tx2, _ := drv.BeginTx(ctx, nil)
	_, _ = tx2.Exec(ctx, "INSERT INTO test (name) VALUES (?)", "rollback")
	if err := tx2.Rollback(); err != nil {
		t.Errorf("tx.Rollback failed: %v", err)
	}

	var count int
	if err := drv.QueryRow(ctx, "SELECT COUNT(*) FROM test").Scan(&count); err != nil {
		t.Fatalf("count scan failed: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestSQLiteInMemorySharesOneDatabase(t *testing.T) {
	drv := NewSQLite()
	if err := drv.Open(":memory:"); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = drv.Close() }()

	ctx := context.Background()
	if _, err := drv.Exec(ctx, "CREATE TABLE t (v INTEGER)"); err != nil {
		t.Fatalf("create: %v", err)
	}
	// A second statement must see the table created by the first.
	if _, err := drv.Exec(ctx, "INSERT INTO t (v) VALUES (1)"); err != nil {
		t.Fatalf("insert: %v", err)
	}
}

type mapSchemaFS struct{ fstest.MapFS }

func (m mapSchemaFS) ReadDir(name string) ([]DirEntry, error) {
	entries, err := fs.ReadDir(m.MapFS, name)
	if err != nil {
		return nil, err
	}
	out := make([]DirEntry, len(entries))
	for i, e := range entries {
		out[i] = e
	}
	return out, nil
}

func (m mapSchemaFS) ReadFile(name string) ([]byte, error) {
	return fs.ReadFile(m.MapFS, name)
}

func TestSQLiteMigrate(t *testing.T) {
	schema := mapSchemaFS{fstest.MapFS{
		"schema/sqlite/demo_001.sql":  {Data: []byte("CREATE TABLE a (id INTEGER);")},
		"schema/sqlite/demo_002.sql":  {Data: []byte("CREATE TABLE b (id INTEGER);")},
		"schema/sqlite/other_001.sql": {Data: []byte("CREATE TABLE c (id INTEGER);")},
	}}

	drv := NewSQLite()
	if err := drv.Open(":memory:"); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = drv.Close() }()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := drv.Migrate(ctx, schema, "demo"); err != nil {
			t.Fatalf("Migrate run %d: %v", i, err)
		}
	}

	var count int
	if err := drv.QueryRow(ctx, "SELECT COUNT(*) FROM _migrations").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Errorf("applied migrations = %d, want 2", count)
	}

	if _, err := drv.Exec(ctx, "SELECT * FROM c"); err == nil {
		t.Error("migrations for another schema type should not be applied")
	}
}

func TestSQLiteDriver_Close(t *testing.T) {
	drv := NewSQLite()
	if err := drv.Close(); err != nil {
		t.Errorf("Close without Open failed: %v", err)
	}
}
