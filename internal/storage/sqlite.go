package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/zeebo/blake3"
	_ "modernc.org/sqlite"

	"reach-engine/internal/cache"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cache_meta (
  name     TEXT PRIMARY KEY,
  version  INTEGER NOT NULL,
  entries  INTEGER NOT NULL,
  checksum BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS cache_entries (
  name        TEXT NOT NULL,
  id          INTEGER NOT NULL,
  compression INTEGER NOT NULL,
  size        INTEGER NOT NULL,
  data        BLOB NOT NULL,
  PRIMARY KEY (name, id)
);`

// SQLitePersister keeps cache collections in a SQLite file. Each Save
// replaces the collection in one transaction and records a checksum, so
// a load only ever sees the last fully committed collection.
type SQLitePersister struct {
	db          *sql.DB
	compression Compression
}

var _ cache.Persister = (*SQLitePersister)(nil)

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string, compression Compression) (*SQLitePersister, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one writer; keeps WAL checkpoints simple
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return &SQLitePersister{db: db, compression: compression}, nil
}

func (p *SQLitePersister) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

// Load returns the collection stored under name. A collection whose
// checksum or entry count does not match its metadata is reported as not
// found.
func (p *SQLitePersister) Load(ctx context.Context, name string) (int, []cache.Record, bool, error) {
	var (
		version, entries int
		checksum         []byte
	)
	err := p.db.QueryRowContext(ctx,
		`SELECT version, entries, checksum FROM cache_meta WHERE name = ?`, name,
	).Scan(&version, &entries, &checksum)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, false, nil
	}
	if err != nil {
		return 0, nil, false, fmt.Errorf("query cache meta: %w", err)
	}

	rows, err := p.db.QueryContext(ctx,
		`SELECT id, compression, size, data FROM cache_entries WHERE name = ? ORDER BY id`, name)
	if err != nil {
		return 0, nil, false, fmt.Errorf("query cache entries: %w", err)
	}
	defer rows.Close()

	var records []cache.Record
	for rows.Next() {
		var (
			id   int64
			comp uint8
			size int
			data []byte
		)
		if err := rows.Scan(&id, &comp, &size, &data); err != nil {
			return 0, nil, false, fmt.Errorf("scan cache entry: %w", err)
		}
		raw, err := decompress(data, Compression(comp), size)
		if err != nil {
			log.Warn().Err(err).Str("cache", name).Int64("id", id).Msg("stored collection is damaged")
			return 0, nil, false, nil
		}
		records = append(records, cache.Record{ID: uint64(id), Data: raw})
	}
	if err := rows.Err(); err != nil {
		return 0, nil, false, fmt.Errorf("read cache entries: %w", err)
	}

	if len(records) != entries || string(sum(records)) != string(checksum) {
		log.Warn().Str("cache", name).Int("entries", len(records)).Int("want", entries).
			Msg("stored collection does not match its checksum, ignoring it")
		return 0, nil, false, nil
	}
	return version, records, true, nil
}

// Save replaces the collection stored under name.
func (p *SQLitePersister) Save(ctx context.Context, name string, version int, records []cache.Record) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE name = ?`, name); err != nil {
		return fmt.Errorf("clear cache entries: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO cache_entries (name, id, compression, size, data) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		data, comp, err := compress(r.Data, p.compression)
		if err != nil {
			return fmt.Errorf("compress entry %d: %w", r.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, name, int64(r.ID), uint8(comp), len(r.Data), data); err != nil {
			return fmt.Errorf("insert entry %d: %w", r.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO cache_meta (name, version, entries, checksum) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET version = excluded.version, entries = excluded.entries, checksum = excluded.checksum`,
		name, version, len(records), sum(records),
	); err != nil {
		return fmt.Errorf("upsert cache meta: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Delete removes the collection stored under name.
func (p *SQLitePersister) Delete(ctx context.Context, name string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete cache entries: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_meta WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete cache meta: %w", err)
	}
	return tx.Commit()
}

// sum hashes ids and uncompressed payloads in order.
func sum(records []cache.Record) []byte {
	h := blake3.New()
	var hdr [16]byte
	for _, r := range records {
		binary.BigEndian.PutUint64(hdr[:8], r.ID)
		binary.BigEndian.PutUint64(hdr[8:], uint64(len(r.Data)))
		_, _ = h.Write(hdr[:])
		_, _ = h.Write(r.Data)
	}
	return h.Sum(nil)
}
