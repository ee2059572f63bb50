package seglog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver

	"github.com/calvinalkan/seglog/pkg/segment"
)

// catalogSchemaVersion is stored in PRAGMA user_version.
const catalogSchemaVersion = 1

const catalogSchema = `
CREATE TABLE IF NOT EXISTS segments (
	name       TEXT PRIMARY KEY,
	size       INTEGER NOT NULL,
	checksum   INTEGER NOT NULL,
	writer     TEXT NOT NULL,
	created_ns INTEGER NOT NULL
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS batches (
	topic        TEXT NOT NULL,
	partition    TEXT NOT NULL,
	base_offset  INTEGER NOT NULL,
	segment      TEXT NOT NULL,
	file_offset  INTEGER NOT NULL,
	record_sizes TEXT NOT NULL,
	writer       TEXT NOT NULL,
	PRIMARY KEY (topic, partition, base_offset)
) WITHOUT ROWID;
`

// SegmentRecord is a catalogued segment.
type SegmentRecord struct {
	Name     string
	Size     int64
	Checksum uint64
	Writer   string
	Created  time.Time
}

// catalog is the SQLite journal of index entries and created segments.
// It implements [Journal].
type catalog struct {
	db     *sql.DB
	closed atomic.Bool
}

func openCatalog(ctx context.Context, path string) (*catalog, error) {
	db, err := openSqlite(ctx, path)
	if err != nil {
		return nil, err
	}

	if err := migrateCatalog(ctx, db); err != nil {
		_ = db.Close()

		return nil, err
	}

	return &catalog{db: db}, nil
}

func migrateCatalog(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}

	switch version {
	case catalogSchemaVersion:
		return nil
	case 0:
	default:
		return fmt.Errorf("%w: schema version %d, want %d", ErrCatalogCorrupt, version, catalogSchemaVersion)
	}

	if _, err := db.ExecContext(ctx, catalogSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", catalogSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// AppendEntries inserts entries in one transaction.
func (c *catalog) AppendEntries(ctx context.Context, entries []IndexEntry, writerID string) error {
	if c.closed.Load() {
		return ErrClosed
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO batches (topic, partition, base_offset, segment, file_offset, record_sizes, writer)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Join(fmt.Errorf("prepare: %w", err), tx.Rollback())
	}

	defer func() { _ = stmt.Close() }()

	for _, e := range entries {
		sizes, err := json.Marshal(e.Batch.RecordSizes)
		if err != nil {
			return errors.Join(fmt.Errorf("encode record sizes: %w", err), tx.Rollback())
		}

		_, err = stmt.ExecContext(ctx,
			e.Topic, e.Partition, int64(e.BaseOffset),
			e.Batch.Segment, e.Batch.FileOffset, string(sizes), writerID,
		)
		if err != nil {
			return errors.Join(fmt.Errorf("insert %s/%s@%d: %w", e.Topic, e.Partition, e.BaseOffset, err), tx.Rollback())
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

// Entries returns every journaled entry.
func (c *catalog) Entries(ctx context.Context) ([]IndexEntry, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT topic, partition, base_offset, segment, file_offset, record_sizes, writer
		FROM batches ORDER BY topic, partition, base_offset`)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}

	defer func() { _ = rows.Close() }()

	var entries []IndexEntry

	for rows.Next() {
		var (
			e     IndexEntry
			base  int64
			sizes string
		)

		if err := rows.Scan(&e.Topic, &e.Partition, &base, &e.Batch.Segment, &e.Batch.FileOffset, &sizes, &e.Writer); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}

		if base < 1 {
			return nil, fmt.Errorf("%w: %s/%s has base offset %d", ErrCatalogCorrupt, e.Topic, e.Partition, base)
		}

		if err := json.Unmarshal([]byte(sizes), &e.Batch.RecordSizes); err != nil {
			return nil, fmt.Errorf("%w: %s/%s@%d record sizes: %w", ErrCatalogCorrupt, e.Topic, e.Partition, base, err)
		}

		e.BaseOffset = uint64(base)
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}

	return entries, nil
}

func (c *catalog) RecordSegment(ctx context.Context, rec SegmentRecord) error {
	if c.closed.Load() {
		return ErrClosed
	}

	_, err := c.db.ExecContext(ctx,
		`INSERT INTO segments (name, size, checksum, writer, created_ns) VALUES (?, ?, ?, ?, ?)`,
		rec.Name, rec.Size, int64(rec.Checksum), rec.Writer, rec.Created.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert segment %s: %w", rec.Name, err)
	}

	return nil
}

// Segments returns every catalogued segment sorted by name.
func (c *catalog) Segments(ctx context.Context) ([]SegmentRecord, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT name, size, checksum, writer, created_ns FROM segments ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query segments: %w", err)
	}

	defer func() { _ = rows.Close() }()

	var out []SegmentRecord

	for rows.Next() {
		var (
			rec       SegmentRecord
			checksum  int64
			createdNs int64
		)

		if err := rows.Scan(&rec.Name, &rec.Size, &checksum, &rec.Writer, &createdNs); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}

		rec.Checksum = uint64(checksum)
		rec.Created = time.Unix(0, createdNs)
		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate segments: %w", err)
	}

	return out, nil
}

func (c *catalog) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	return c.db.Close()
}

// recordingStorage catalogs every segment it creates, with the checksum
// [Log.Verify] compares against.
type recordingStorage struct {
	segment.Storage

	catalog *catalog
	writer  string
	now     func() time.Time
}

func (r *recordingStorage) Create(ctx context.Context, name string, data []byte) error {
	if err := r.Storage.Create(ctx, name, data); err != nil {
		return err
	}

	return r.catalog.RecordSegment(ctx, SegmentRecord{
		Name:     name,
		Size:     int64(len(data)),
		Checksum: xxhash.Sum64(data),
		Writer:   r.writer,
		Created:  r.now(),
	})
}

const sqliteBusyTimeout = 10000 // milliseconds

func openSqlite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, errors.New("open sqlite: path is empty")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Ensure per-connection PRAGMAs apply consistently.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	_, err = db.ExecContext(ctx, fmt.Sprintf(`
		PRAGMA busy_timeout = %d;
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = FULL;
		PRAGMA temp_store = MEMORY;
	`, sqliteBusyTimeout))
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("apply pragmas: %w", err)
	}

	return db, nil
}
