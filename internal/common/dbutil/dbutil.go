// Package dbutil provides introspection helpers for additive SQLite schema
// evolution: adding columns and indexes to existing tables without a
// versioned migration, detected via PRAGMA introspection so re-running is
// always a no-op.
package dbutil

import (
	"database/sql"
	"fmt"
)

// BoolToInt converts a boolean to an integer for SQLite storage.
func BoolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

// ColumnExists reports whether a column exists in a table.
func ColumnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var cid int
		var name, colType string
		var notNull int
		var defaultValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// EnsureColumn adds a column to a table if it doesn't already exist.
func EnsureColumn(db *sql.DB, table, column, definition string) error {
	exists, err := ColumnExists(db, table, column)
	if err != nil {
		return fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	if exists {
		return nil
	}
	_, err = db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition))
	if err != nil {
		return fmt.Errorf("adding column %s.%s: %w", table, column, err)
	}
	return nil
}

// IndexExists reports whether a named index exists.
func IndexExists(db *sql.DB, table, indexName string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA index_list(%s)", table))
	if err != nil {
		return false, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var seq int
		var name, origin string
		var unique, partial int
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			return false, err
		}
		if name == indexName {
			return true, nil
		}
	}
	return false, rows.Err()
}

// EnsureIndex creates an index if it doesn't already exist. definition is
// the column list and any modifiers, e.g. "(swarm_id)" or "(session_id, created_at DESC)".
func EnsureIndex(db *sql.DB, indexName, table, definition string) error {
	exists, err := IndexExists(db, table, indexName)
	if err != nil {
		return fmt.Errorf("checking index %s: %w", indexName, err)
	}
	if exists {
		return nil
	}
	_, err = db.Exec(fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s%s", indexName, table, definition))
	if err != nil {
		return fmt.Errorf("creating index %s: %w", indexName, err)
	}
	return nil
}
