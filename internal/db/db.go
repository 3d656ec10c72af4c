// Package db opens the SQLite store behind the video queue.
//
// Tables:
//
//	videos       one row per personalized video request and its result
//	messages     WhatsApp deliveries; video_id is cleared when a video is deleted
//	config       key/value settings such as the API token
//	_migrations  names of the embedded migrations already applied
//
// Migrations under migrations/ run in lexical order, each in its own
// transaction together with its _migrations row.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	_ "modernc.org/sqlite"

	"github.com/personaliz/personaliz-server/internal/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const interruptedError = "interrupted by restart"

type DB struct {
	conn   *sql.DB
	logger *slog.Logger
}

// New opens (creating if needed) the database at dbPath, applies pending
// migrations and fails any video a previous process left in processing.
func New(dbPath string, logger *slog.Logger) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// modernc sqlite serializes writers; one connection avoids SQLITE_BUSY.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	d := &DB{conn: conn, logger: logging.WithComponent(logging.OrDiscard(logger), "db")}

	if err := d.migrate(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	n, err := d.markInterruptedVideos(ctx)
	switch {
	case err != nil:
		d.logger.Warn("failed to mark interrupted videos", "error", err)
	case n > 0:
		d.logger.Warn("marked interrupted videos as failed", "count", n)
	}

	return d, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) Conn() *sql.DB {
	return d.conn
}

// Applied returns the names of the applied migrations in order.
func (d *DB) Applied(ctx context.Context) ([]string, error) {
	rows, err := d.conn.QueryContext(ctx, `SELECT name FROM _migrations ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (d *DB) migrate(ctx context.Context) error {
	// 001 creates _migrations too; this lets the applied check run first.
	if _, err := d.conn.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS _migrations (
		name TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`); err != nil {
		return fmt.Errorf("failed to create _migrations: %w", err)
	}

	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}
	slices.Sort(names)

	applied, err := d.Applied(ctx)
	if err != nil {
		return fmt.Errorf("failed to list applied migrations: %w", err)
	}

	for _, file := range names {
		name := filepath.Base(file)
		if slices.Contains(applied, name) {
			continue
		}
		content, err := migrationsFS.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		if err := d.apply(ctx, name, string(content)); err != nil {
			return err
		}
		d.logger.Info("applied migration", "name", name)
	}
	return nil
}

func (d *DB) apply(ctx context.Context, name, content string) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration %s: %w", name, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, content); err != nil {
		return fmt.Errorf("failed to execute migration %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO _migrations (name) VALUES (?)`, name); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", name, err)
	}
	return tx.Commit()
}

// markInterruptedVideos fails videos left in processing by a previous run.
// Their scratch directories are left for the janitor.
func (d *DB) markInterruptedVideos(ctx context.Context) (int64, error) {
	res, err := d.conn.ExecContext(ctx,
		`UPDATE videos SET status = 'failed', error = ?, updated_at = ? WHERE status = 'processing'`,
		interruptedError, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
