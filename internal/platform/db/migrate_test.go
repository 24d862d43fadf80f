package db

import (
	"os"
	"path/filepath"
	"testing"
)

func writeMigration(t *testing.T, dir, name, sql string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(sql), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadMigrationsSortsByVersion(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "010_third.sql", "SELECT 3")
	writeMigration(t, dir, "001_first.sql", "SELECT 1")
	writeMigration(t, dir, "002_second.sql", "SELECT 2")

	m := NewMigrator(nil, dir)
	migrations, err := m.LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations: %v", err)
	}

	if len(migrations) != 3 {
		t.Fatalf("got %d migrations, want 3", len(migrations))
	}
	wantVersions := []int{1, 2, 10}
	wantNames := []string{"001_first.sql", "002_second.sql", "010_third.sql"}
	for i, mig := range migrations {
		if mig.Version != wantVersions[i] || mig.Name != wantNames[i] {
			t.Errorf("migration[%d] = %d %s, want %d %s", i, mig.Version, mig.Name, wantVersions[i], wantNames[i])
		}
	}
	if migrations[0].SQL != "SELECT 1" {
		t.Errorf("SQL not loaded, got %q", migrations[0].SQL)
	}
}

func TestLoadMigrationsSkipsNonMigrationFiles(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "001_core.sql", "SELECT 1")
	writeMigration(t, dir, "README.md", "notes")
	writeMigration(t, dir, "no_version.sql", "SELECT 0")
	writeMigration(t, dir, "plain.sql", "SELECT 0")
	if err := os.Mkdir(filepath.Join(dir, "archive"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	m := NewMigrator(nil, dir)
	migrations, err := m.LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations: %v", err)
	}
	if len(migrations) != 1 || migrations[0].Name != "001_core.sql" {
		t.Errorf("migrations = %+v, want only 001_core.sql", migrations)
	}
}

func TestLoadMigrationsMissingDir(t *testing.T) {
	m := NewMigrator(nil, filepath.Join(t.TempDir(), "nope"))
	if _, err := m.LoadMigrations(); err == nil {
		t.Error("expected error for missing migrations directory")
	}
}
