package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	swarmerrors "github.com/hivecore/swarmcore/internal/swarm/errors"
)

// sqliteStore persists entries in the memory_entries / memory_entry_tags
// tables created by the db package's migrations.
type sqliteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore wraps an already-migrated database handle.
func NewSQLiteStore(db *sqlx.DB) Store {
	return &sqliteStore{db: db}
}

type entryRow struct {
	Namespace string         `db:"namespace"`
	Key       string         `db:"key"`
	Value     string         `db:"value"`
	Tags      string         `db:"tags"`
	ExpiresAt sql.NullTime   `db:"expires_at"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

func (r *entryRow) toEntry() (*Entry, error) {
	var value interface{}
	if err := json.Unmarshal([]byte(r.Value), &value); err != nil {
		return nil, fmt.Errorf("decoding stored value: %w", err)
	}
	var tags []string
	if err := json.Unmarshal([]byte(r.Tags), &tags); err != nil {
		return nil, fmt.Errorf("decoding stored tags: %w", err)
	}
	e := &Entry{
		Namespace: r.Namespace,
		Key:       r.Key,
		Value:     value,
		Tags:      tags,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.ExpiresAt.Valid {
		t := r.ExpiresAt.Time
		e.ExpiresAt = &t
	}
	return e, nil
}

func (s *sqliteStore) Store(ctx context.Context, key string, value interface{}, opts StoreOptions) error {
	ns := namespaceOrDefault(opts.Namespace)
	valueJSON, err := json.Marshal(value)
	if err != nil {
		return swarmerrors.BadRequest(fmt.Sprintf("value for key %q is not JSON-serializable: %v", key, err))
	}
	tags := opts.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("encoding tags: %w", err)
	}

	var expiresAt sql.NullTime
	if opts.TTL > 0 {
		expiresAt = sql.NullTime{Time: time.Now().UTC().Add(opts.TTL), Valid: true}
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return swarmerrors.ServiceUnavailable("memory store")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO memory_entries (namespace, key, value, tags, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET
			value = excluded.value,
			tags = excluded.tags,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`, ns, key, string(valueJSON), string(tagsJSON), expiresAt, now, now)
	if err != nil {
		return swarmerrors.InternalError("storing memory entry", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_entry_tags WHERE namespace = ? AND key = ?`, ns, key); err != nil {
		return swarmerrors.InternalError("clearing memory entry tags", err)
	}
	for _, tag := range tags {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO memory_entry_tags (namespace, key, tag) VALUES (?, ?, ?)
			ON CONFLICT(namespace, key, tag) DO NOTHING
		`, ns, key, tag); err != nil {
			return swarmerrors.InternalError("indexing memory entry tag", err)
		}
	}

	return tx.Commit()
}

func (s *sqliteStore) Retrieve(ctx context.Context, key string, namespace string) (*Entry, error) {
	ns := namespaceOrDefault(namespace)
	var row entryRow
	err := s.db.GetContext(ctx, &row, `
		SELECT namespace, key, value, tags, expires_at, created_at, updated_at
		FROM memory_entries
		WHERE namespace = ? AND key = ?
		AND (expires_at IS NULL OR expires_at > ?)
	`, ns, key, time.Now().UTC())
	if err == sql.ErrNoRows {
		return nil, swarmerrors.NotFound("memory entry", key)
	}
	if err != nil {
		return nil, swarmerrors.InternalError("retrieving memory entry", err)
	}
	return row.toEntry()
}

func (s *sqliteStore) List(ctx context.Context, opts QueryOptions) ([]*Entry, error) {
	return s.query(ctx, opts)
}

func (s *sqliteStore) Search(ctx context.Context, pattern string, opts QueryOptions) ([]*Entry, error) {
	opts.Pattern = pattern
	return s.query(ctx, opts)
}

func (s *sqliteStore) query(ctx context.Context, opts QueryOptions) ([]*Entry, error) {
	ns := namespaceOrDefault(opts.Namespace)
	var rows []entryRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT namespace, key, value, tags, expires_at, created_at, updated_at
		FROM memory_entries
		WHERE namespace = ?
		AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY key
	`, ns, time.Now().UTC())
	if err != nil {
		return nil, swarmerrors.InternalError("listing memory entries", err)
	}

	var out []*Entry
	for _, r := range rows {
		if !matchGlob(opts.Pattern, r.Key) {
			continue
		}
		e, err := r.toEntry()
		if err != nil {
			return nil, err
		}
		if !tagsMatch(e.Tags, opts.Tags, opts.MatchAllTags) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *sqliteStore) Delete(ctx context.Context, key string, namespace string) error {
	ns := namespaceOrDefault(namespace)
	res, err := s.db.ExecContext(ctx, `DELETE FROM memory_entries WHERE namespace = ? AND key = ?`, ns, key)
	if err != nil {
		return swarmerrors.InternalError("deleting memory entry", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return swarmerrors.InternalError("checking delete result", err)
	}
	if n == 0 {
		return swarmerrors.NotFound("memory entry", key)
	}
	return nil
}

func (s *sqliteStore) Cleanup(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memory_entries WHERE expires_at IS NOT NULL AND expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, swarmerrors.InternalError("cleaning up expired memory entries", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, swarmerrors.InternalError("checking cleanup result", err)
	}
	return int(n), nil
}

func (s *sqliteStore) Close() error {
	return nil // lifecycle owned by the shared db.Pool
}
