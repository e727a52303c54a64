// Package db opens and pools the SQLite-backed persistence store used by
// every subsystem of the swarm coordination core.
package db

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBusyTimeout = 5 * time.Second

	// defaultReaderConns is the number of concurrent read connections. WAL
	// mode allows many readers alongside the single writer connection.
	defaultReaderConns = 4
)

// Pool provides separate read and write database connections.
//
// SQLite allows only one writer at a time; the writer pool is capped at a
// single connection to avoid SQLITE_BUSY under contention. The reader pool
// allows several concurrent connections so reads are non-blocking.
type Pool struct {
	writer *sqlx.DB
	reader *sqlx.DB
}

// Writer returns the connection used for INSERT/UPDATE/DELETE and transactions.
func (p *Pool) Writer() *sqlx.DB { return p.writer }

// Reader returns the connection pool used for SELECT queries.
func (p *Pool) Reader() *sqlx.DB { return p.reader }

// Close closes both pools.
func (p *Pool) Close() error {
	wErr := p.writer.Close()
	rErr := p.reader.Close()
	if wErr != nil {
		return wErr
	}
	return rErr
}

// Option configures OpenPool's connection tuning, overriding the package
// defaults.
type Option func(*poolOptions)

type poolOptions struct {
	busyTimeout time.Duration
	readerConns int
}

// WithBusyTimeout overrides how long a connection waits on a lock before
// surfacing SQLITE_BUSY to the caller.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *poolOptions) {
		if d > 0 {
			o.busyTimeout = d
		}
	}
}

// WithReaderConns overrides the reader pool's maximum concurrent
// connections.
func WithReaderConns(n int) Option {
	return func(o *poolOptions) {
		if n > 0 {
			o.readerConns = n
		}
	}
}

// OpenPool opens a SQLite-backed Pool at dbPath, creating the database file
// and containing directory if needed.
func OpenPool(dbPath string, opts ...Option) (*Pool, error) {
	o := poolOptions{busyTimeout: defaultBusyTimeout, readerConns: defaultReaderConns}
	for _, opt := range opts {
		opt(&o)
	}

	if err := ensureDir(dbPath); err != nil {
		return nil, fmt.Errorf("preparing database path: %w", err)
	}

	writerDSN := dsn(dbPath, o.busyTimeout)
	writer, err := sqlx.Open("sqlite3", writerDSN)
	if err != nil {
		return nil, fmt.Errorf("opening writer connection: %w", err)
	}
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)

	readerDSN := dsn(dbPath, o.busyTimeout) + "&_query_only=true"
	reader, err := sqlx.Open("sqlite3", readerDSN)
	if err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("opening reader connection: %w", err)
	}
	reader.SetMaxOpenConns(o.readerConns)

	if err := writer.Ping(); err != nil {
		_ = writer.Close()
		_ = reader.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &Pool{writer: writer, reader: reader}, nil
}

// dsn builds the SQLite connection string.
//
//   - _foreign_keys=on: enforce FK constraints.
//   - _busy_timeout: wait briefly on locks; a lock still held after that
//     surfaces as SQLite's busy error (there is no StorageSlow error or retry).
//   - _journal_mode=WAL: concurrent readers alongside the single writer.
//   - _synchronous=NORMAL: durability/perf tradeoff appropriate for WAL.
func dsn(path string, busyTimeout time.Duration) string {
	return fmt.Sprintf(
		"file:%s?_foreign_keys=on&_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL",
		path, int(busyTimeout/time.Millisecond),
	)
}

func ensureDir(dbPath string) error {
	if dbPath == ":memory:" {
		return nil
	}
	dir := filepath.Dir(dbPath)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
