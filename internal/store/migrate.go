package store

import (
	"context"
	"fmt"
	"log"
	"sort"
)

// Migration is one numbered schema step. Statements run inside a single
// transaction together with the schema_migrations bookkeeping row.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

const migrationTableSQL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version integer PRIMARY KEY,
    name text NOT NULL,
    appliedts integer NOT NULL
);
`

// RunMigrations applies all pending migrations in version order.
func (d *Database) RunMigrations(ctx context.Context, migrations []Migration) error {
	if _, err := d.db.ExecContext(ctx, migrationTableSQL); err != nil {
		return fmt.Errorf("cannot create schema_migrations: %w", err)
	}
	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })
	for _, mig := range sorted {
		applied, err := d.migrationApplied(ctx, mig.Version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		err = d.WithTx(ctx, func(tx *TxWrap) error {
			tx.Exec(mig.SQL)
			tx.Exec(`INSERT INTO schema_migrations (version, name, appliedts) VALUES (?, ?, strftime('%s','now')*1000)`, mig.Version, mig.Name)
			return tx.Err
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", mig.Version, mig.Name, err)
		}
		log.Printf("[db] applied migration %d (%s)", mig.Version, mig.Name)
	}
	return nil
}

func (d *Database) migrationApplied(ctx context.Context, version int) (bool, error) {
	var count int
	err := d.db.QueryRowContext(ctx, `SELECT count(*) FROM schema_migrations WHERE version = ?`, version).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("cannot query schema_migrations: %w", err)
	}
	return count > 0, nil
}
