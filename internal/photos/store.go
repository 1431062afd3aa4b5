package photos

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// timeLayout is fixed width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// ErrNotFound is returned when no photo has the requested id.
var ErrNotFound = errors.New("photo not found")

// Record is one stored photo. BlobData is a base64 data URL and is the
// only durable copy of the image.
type Record struct {
	ID        string
	Filename  string
	MimeType  string
	BlobData  string
	CreatedAt time.Time
}

// Entry is a record without its image data.
type Entry struct {
	ID        string
	Filename  string
	CreatedAt time.Time
}

// Store persists photos in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens photos.db in dir. An empty dir opens a private
// in-memory database.
func Open(dir string) (*Store, error) {
	dsn := ":memory:"
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create photo dir: %w", err)
		}
		dsn = filepath.Join(dir, "photos.db")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if dir == "" {
		// every pooled connection would get its own in-memory database
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, path: dsn}, nil
}

// Path returns the database file, or ":memory:".
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Put inserts or replaces a record.
func (s *Store) Put(ctx context.Context, rec Record) error {
	return putRecord(ctx, s.db, rec)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func putRecord(ctx context.Context, db execer, rec Record) error {
	if rec.ID == "" {
		return errors.New("photo id is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := db.ExecContext(ctx,
		`INSERT OR REPLACE INTO photos (id, filename, mime_type, blob_data, created_at)
         VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.Filename, rec.MimeType, rec.BlobData,
		rec.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert photo %s: %w", rec.ID, err)
	}
	return nil
}

// Get returns one record with its image data.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, filename, mime_type, blob_data, created_at FROM photos WHERE id = ?`, id)
	var rec Record
	var created string
	if err := row.Scan(&rec.ID, &rec.Filename, &rec.MimeType, &rec.BlobData, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get photo %s: %w", id, err)
	}
	rec.CreatedAt = parseTime(created)
	return &rec, nil
}

// List returns every photo without image data, oldest first.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, filename, created_at FROM photos ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list photos: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var created string
		if err := rows.Scan(&e.ID, &e.Filename, &created); err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		e.CreatedAt = parseTime(created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// All returns every record with image data, oldest first.
func (s *Store) All(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, filename, mime_type, blob_data, created_at FROM photos ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list photos: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var rec Record
		var created string
		if err := rows.Scan(&rec.ID, &rec.Filename, &rec.MimeType, &rec.BlobData, &created); err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		rec.CreatedAt = parseTime(created)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Count returns the number of stored photos.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM photos`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count photos: %w", err)
	}
	return n, nil
}

// Clear deletes every photo.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM photos`); err != nil {
		return fmt.Errorf("clear photos: %w", err)
	}
	return nil
}

// ReplaceAll swaps the whole collection in one transaction. On error the
// previous collection is kept.
func (s *Store) ReplaceAll(ctx context.Context, recs []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM photos`); err != nil {
		return fmt.Errorf("clear photos: %w", err)
	}
	for _, rec := range recs {
		if err := putRecord(ctx, tx, rec); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace tx: %w", err)
	}
	return nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
