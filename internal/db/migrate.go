package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"

	"gorm.io/gorm"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var embeddedMigrations embed.FS

// Dialect selects which migration set applies.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

type migrationFile struct {
	name string
	data []byte
}

// RunMigrations executes sqlite migrations from the given directory, falling back to embedded files.
func RunMigrations(ctx context.Context, db *sql.DB, migrationsDir string) error {
	files, err := loadMigrations(DialectSQLite, migrationsDir)
	if err != nil {
		return err
	}
	for _, mf := range files {
		if len(mf.data) == 0 {
			continue
		}
		if _, err := db.ExecContext(ctx, string(mf.data)); err != nil {
			return fmt.Errorf("exec migration %s: %w", mf.name, err)
		}
		slog.Default().InfoContext(ctx, "migration applied",
			"module", "db",
			"operation", "apply_migration",
			"outcome", "success",
			"dialect", DialectSQLite,
			"migration", mf.name,
		)
	}
	return nil
}

// RunPostgresMigrations applies the postgres migration set through gorm.
func RunPostgresMigrations(ctx context.Context, db *gorm.DB, migrationsDir string) error {
	files, err := loadMigrations(DialectPostgres, migrationsDir)
	if err != nil {
		return err
	}
	for _, mf := range files {
		if len(mf.data) == 0 {
			continue
		}
		if err := db.WithContext(ctx).Exec(string(mf.data)).Error; err != nil {
			return fmt.Errorf("exec migration %s: %w", mf.name, err)
		}
		slog.Default().InfoContext(ctx, "migration applied",
			"module", "db",
			"operation", "apply_migration",
			"outcome", "success",
			"dialect", DialectPostgres,
			"migration", mf.name,
		)
	}
	return nil
}

// loadMigrations prefers <dir>/<dialect>/*.sql on disk and uses the embedded set
// when that directory does not exist.
func loadMigrations(dialect Dialect, dir string) ([]migrationFile, error) {
	var files []migrationFile
	if dir != "" {
		root := filepath.Join(dir, string(dialect))
		entries, err := os.ReadDir(root)
		if err == nil {
			for _, entry := range entries {
				if entry.IsDir() || filepath.Ext(entry.Name()) != ".sql" {
					continue
				}
				content, err := os.ReadFile(filepath.Join(root, entry.Name()))
				if err != nil {
					return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
				}
				files = append(files, migrationFile{name: entry.Name(), data: content})
			}
			sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })
			return files, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read migrations: %w", err)
		}
	}

	root := path.Join("migrations", string(dialect))
	entries, err := embeddedMigrations.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read embedded migrations: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}
		content, err := embeddedMigrations.ReadFile(path.Join(root, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read embedded migration %s: %w", entry.Name(), err)
		}
		files = append(files, migrationFile{name: entry.Name(), data: content})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })
	return files, nil
}
