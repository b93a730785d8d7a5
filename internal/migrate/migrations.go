// Package migrate brings a workspace database up to the current schema.
// Revisions are embedded SQL files named NNNN_description.sql; applied
// revisions are recorded in schema_revisions so reopening a workspace is
// a no-op.
package migrate

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed sql/*.sql
var schemaFS embed.FS

type revision struct {
	version int
	name    string
	ddl     string
}

func revisions() ([]revision, error) {
	paths, err := fs.Glob(schemaFS, "sql/*.sql")
	if err != nil {
		return nil, err
	}
	revs := make([]revision, 0, len(paths))
	for _, path := range paths {
		base := strings.TrimPrefix(path, "sql/")
		num, _, ok := strings.Cut(base, "_")
		if !ok {
			return nil, fmt.Errorf("revision %s: name must be NNNN_description.sql", base)
		}
		v, err := strconv.Atoi(num)
		if err != nil {
			return nil, fmt.Errorf("revision %s: %w", base, err)
		}
		ddl, err := schemaFS.ReadFile(path)
		if err != nil {
			return nil, err
		}
		revs = append(revs, revision{version: v, name: base, ddl: string(ddl)})
	}
	sort.Slice(revs, func(i, j int) bool { return revs[i].version < revs[j].version })
	return revs, nil
}

// Migrate applies pending schema revisions in order. Each revision and
// its bookkeeping row commit together, so a failure leaves the database
// at the last complete revision.
func Migrate(db *sql.DB) error {
	revs, err := revisions()
	if err != nil {
		return err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_revisions(
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema_revisions: %w", err)
	}
	var current int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version),0) FROM schema_revisions`).Scan(&current); err != nil {
		return fmt.Errorf("read schema_revisions: %w", err)
	}
	for _, r := range revs {
		if r.version <= current {
			continue
		}
		if err := apply(db, r); err != nil {
			return fmt.Errorf("revision %s: %w", r.name, err)
		}
	}
	return nil
}

func apply(db *sql.DB, r revision) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(r.ddl); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO schema_revisions(version, name, applied_at) VALUES (?,?,?)`,
		r.version, r.name, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	return tx.Commit()
}
