package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresFS embeds all PostgreSQL migration files.
//
//go:embed postgres/*.sql
var PostgresFS embed.FS

// SQLiteFS embeds all SQLite migration files.
//
//go:embed sqlite/*.sql
var SQLiteFS embed.FS

// RunPostgres applies all embedded PostgreSQL files in lexical order.
// Migrations are expected to be idempotent.
func RunPostgres(ctx context.Context, pool *pgxpool.Pool) error {
	return apply(PostgresFS, "postgres", func(name, stmt string) error {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		return nil
	})
}

// RunSQLite applies all embedded SQLite files in lexical order.
func RunSQLite(ctx context.Context, db *sql.DB) error {
	return apply(SQLiteFS, "sqlite", func(name, stmt string) error {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		return nil
	})
}

// Files lists the embedded migration names for dialect.
func Files(dialect string) ([]string, error) {
	fsys, err := dialectFS(dialect)
	if err != nil {
		return nil, err
	}
	return list(fsys, dialect)
}

func dialectFS(dialect string) (fs.FS, error) {
	switch dialect {
	case "postgres":
		return PostgresFS, nil
	case "sqlite":
		return SQLiteFS, nil
	}
	return nil, fmt.Errorf("unknown migration dialect %q", dialect)
}

func list(fsys fs.FS, dir string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read embedded %s migrations: %w", dir, err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func apply(fsys fs.FS, dir string, exec func(name, stmt string) error) error {
	files, err := list(fsys, dir)
	if err != nil {
		return err
	}
	for _, file := range files {
		data, err := fs.ReadFile(fsys, dir+"/"+file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		if err := exec(file, string(data)); err != nil {
			return err
		}
	}
	return nil
}
