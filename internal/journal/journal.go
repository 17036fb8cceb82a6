// Package journal keeps a local SQLite record of session transitions and
// surfaced notifications. It is diagnostics only; nothing reads it back into
// live state.
package journal

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Journal struct {
	db *sql.DB
}

func Open(dsn string) (*Journal, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// one connection: writers are serialized and ":memory:" stays a single database
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return j, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// migrate applies every embedded migration not yet listed in journal_schema,
// in file name order, each in its own transaction.
func (j *Journal) migrate() error {
	if _, err := j.db.Exec(`CREATE TABLE IF NOT EXISTS journal_schema (
		name       TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema table: %w", err)
	}

	done, err := j.appliedMigrations()
	if err != nil {
		return err
	}
	files, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	slices.Sort(files)

	for _, file := range files {
		name := path.Base(file)
		if done[name] {
			continue
		}
		if err := j.applyMigration(name, file); err != nil {
			return fmt.Errorf("migration %s: %w", name, err)
		}
	}
	return nil
}

func (j *Journal) appliedMigrations() (map[string]bool, error) {
	rows, err := j.db.Query("SELECT name FROM journal_schema")
	if err != nil {
		return nil, fmt.Errorf("read schema table: %w", err)
	}
	defer rows.Close()
	done := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		done[name] = true
	}
	return done, rows.Err()
}

func (j *Journal) applyMigration(name, file string) (err error) {
	body, err := migrationsFS.ReadFile(file)
	if err != nil {
		return err
	}
	tx, err := j.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	if _, err = tx.Exec(string(body)); err != nil {
		return err
	}
	if _, err = tx.Exec("INSERT INTO journal_schema (name, applied_at) VALUES (?, ?)", name, time.Now().Unix()); err != nil {
		return err
	}
	return tx.Commit()
}
