package db

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const migrationsTestPrefix = "db:migrations_test"

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("%s - failed to write %s: %v", migrationsTestPrefix, name, err)
		}
	}
}

func TestLoadMigrationFiles_SortsAndFilters(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"0003_third.sql":  "THIRD",
		"0001_first.sql":  "FIRST",
		"0002_second.sql": "SECOND",
		"README.md":       "# Migrations",
		"config.json":     "{}",
	})
	if err := os.Mkdir(filepath.Join(dir, "subdir.sql"), 0o755); err != nil {
		t.Fatalf("%s - mkdir: %v", migrationsTestPrefix, err)
	}

	got, err := LoadMigrationFiles(dir)
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", migrationsTestPrefix, err)
	}
	if diff := cmp.Diff([]string{"FIRST", "SECOND", "THIRD"}, got); diff != "" {
		t.Errorf("%s - migrations mismatch (-want +got):\n%s", migrationsTestPrefix, diff)
	}
}

func TestLoadMigrationFiles_NonExistentDir(t *testing.T) {
	if _, err := LoadMigrationFiles(filepath.Join(t.TempDir(), "nonexistent")); err == nil {
		t.Errorf("%s - expected error for non-existent directory", migrationsTestPrefix)
	}
}

func TestLoadMigrations_PrefersDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"0001_local.sql": "LOCAL"})

	got, source, err := LoadMigrations(dir)
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", migrationsTestPrefix, err)
	}
	if source != dir || len(got) != 1 || got[0] != "LOCAL" {
		t.Errorf("%s - got %v from %s", migrationsTestPrefix, got, source)
	}
}

func TestLoadMigrations_FallsBackToEmbedded(t *testing.T) {
	for _, dir := range []string{"", filepath.Join(t.TempDir(), "missing")} {
		got, source, err := LoadMigrations(dir)
		if err != nil {
			t.Fatalf("%s - dir %q: %v", migrationsTestPrefix, dir, err)
		}
		if source != EmbeddedSource {
			t.Errorf("%s - dir %q: source = %s, want embedded", migrationsTestPrefix, dir, source)
		}
		if len(got) == 0 || !strings.Contains(got[0], ClassificationsTable) {
			t.Errorf("%s - embedded migrations should create %s", migrationsTestPrefix, ClassificationsTable)
		}
	}
}
