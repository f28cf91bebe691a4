package db

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
)

const migrationsLogPrefix = "db:migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// EmbeddedSource names the compiled-in migration set in logs and status output.
const EmbeddedSource = "embedded"

// LoadMigrationFiles reads all .sql files from dir, sorted by name, and returns their contents.
func LoadMigrationFiles(dir string) ([]string, error) {
	out, err := readSQLFiles(os.DirFS(dir), ".")
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read migration dir %s: %w", migrationsLogPrefix, dir, err)
	}
	slog.Info(fmt.Sprintf("%s - Loaded %d migration files from %s", migrationsLogPrefix, len(out), dir))
	return out, nil
}

// LoadMigrations reads migrations from dir, falling back to the embedded set when dir is
// empty or does not exist. It returns the contents and where they came from.
func LoadMigrations(dir string) ([]string, string, error) {
	if dir != "" {
		out, err := LoadMigrationFiles(dir)
		if err == nil {
			return out, dir, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}
		slog.Info(fmt.Sprintf("%s - %s not found, using embedded migrations", migrationsLogPrefix, dir))
	}
	out, err := readSQLFiles(embeddedMigrations, "migrations")
	if err != nil {
		return nil, "", fmt.Errorf("%s - failed to read embedded migrations: %w", migrationsLogPrefix, err)
	}
	return out, EmbeddedSource, nil
}

func readSQLFiles(fsys fs.FS, dir string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".sql" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	out := make([]string, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		out = append(out, string(data))
	}
	return out, nil
}
