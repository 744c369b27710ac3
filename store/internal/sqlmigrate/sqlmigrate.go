// Package sqlmigrate applies ordered schema migrations over database/sql.
// Applied versions are recorded in a bookkeeping table so each migration
// runs once.
package sqlmigrate

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Table records applied migrations.
const Table = "settle_migrations"

// Migration is one schema step. Statements run in order; drivers that reject
// multi-statement Exec still work because each statement is sent alone.
type Migration struct {
	Name       string
	Version    string
	Statements []string
}

// Group is an ordered set of migrations for one backend.
type Group struct {
	name       string
	migrations []*Migration
}

// NewGroup creates an empty migration group.
func NewGroup(name string) *Group {
	return &Group{name: name}
}

// MustRegister adds migrations, panicking on a duplicate version.
func (g *Group) MustRegister(ms ...*Migration) {
	for _, m := range ms {
		for _, existing := range g.migrations {
			if existing.Version == m.Version {
				panic(fmt.Sprintf("sqlmigrate: %s: duplicate version %s", g.name, m.Version))
			}
		}
		g.migrations = append(g.migrations, m)
	}
	slices.SortFunc(g.migrations, func(a, b *Migration) int {
		return strings.Compare(a.Version, b.Version)
	})
}

// Migrations returns the registered migrations in version order.
func (g *Group) Migrations() []*Migration {
	return slices.Clone(g.migrations)
}

// Apply runs every migration in g that is not yet recorded in Table.
// It returns the versions it applied.
func Apply(ctx context.Context, db *sql.DB, g *Group) ([]string, error) {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+Table+` (
    version    VARCHAR(32)  NOT NULL PRIMARY KEY,
    name       VARCHAR(255) NOT NULL,
    applied_at VARCHAR(64)  NOT NULL
)`); err != nil {
		return nil, fmt.Errorf("sqlmigrate: create %s: %w", Table, err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return nil, err
	}

	var ran []string
	for _, m := range g.migrations {
		if applied[m.Version] {
			continue
		}
		if err := run(ctx, db, m); err != nil {
			return ran, fmt.Errorf("sqlmigrate: %s %s (%s): %w", g.name, m.Version, m.Name, err)
		}
		ran = append(ran, m.Version)
	}
	return ran, nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM `+Table)
	if err != nil {
		return nil, fmt.Errorf("sqlmigrate: list applied: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("sqlmigrate: scan applied: %w", err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func run(ctx context.Context, db *sql.DB, m *Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, stmt := range m.Statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO `+Table+` (version, name, applied_at) VALUES (?, ?, ?)`,
		m.Version, m.Name, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return err
	}
	return tx.Commit()
}
