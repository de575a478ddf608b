package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/okian/skymap/pkg/logger"
	"github.com/okian/skymap/pkg/metrics"
)

const defaultBusyTimeout = 5 * time.Second

const schema = `
	CREATE TABLE IF NOT EXISTS containers (
		name TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		created TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS arrays (
		container TEXT NOT NULL,
		component TEXT NOT NULL,
		dims TEXT NOT NULL,
		payload BLOB NOT NULL,
		PRIMARY KEY (container, component),
		FOREIGN KEY (container) REFERENCES containers(name) ON DELETE CASCADE
	);
	CREATE TABLE IF NOT EXISTS extensions (
		container TEXT NOT NULL,
		ext TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (container, ext, key),
		FOREIGN KEY (container) REFERENCES containers(name) ON DELETE CASCADE
	);
`

// SQLiteStore is a Store backed by a single SQLite database file.
type SQLiteStore struct {
	db          *sql.DB
	path        string
	busyTimeout time.Duration
	logger      logger.Logger
}

var _ Store = (*SQLiteStore)(nil)

// Open opens or creates the database at path and ensures the schema exists.
func Open(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	s := &SQLiteStore{
		path:        path,
		busyTimeout: defaultBusyTimeout,
		logger:      logger.Get().Named("store"),
	}
	for _, opt := range opts {
		opt(s)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)

	pragmas := fmt.Sprintf("PRAGMA foreign_keys = ON; PRAGMA busy_timeout = %d;", s.busyTimeout.Milliseconds())
	if _, err := db.ExecContext(ctx, pragmas); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema in %s: %w", path, err)
	}
	s.db = db
	s.logger.Debug(ctx, "container store opened", logger.String("path", path))
	return s, nil
}

// Path returns the database path.
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Create makes an empty container, dropping any previous contents.
func (s *SQLiteStore) Create(ctx context.Context, name, kind string) error {
	defer s.observeWrite(time.Now())
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.fail("create", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM containers WHERE name = ?", name); err != nil {
		return s.fail("create", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO containers (name, kind) VALUES (?, ?)", name, kind); err != nil {
		return s.fail("create", err)
	}
	if err := tx.Commit(); err != nil {
		return s.fail("create", err)
	}
	return nil
}

// WriteArray stores a component of container, replacing an existing one.
func (s *SQLiteStore) WriteArray(ctx context.Context, container, component string, a Array) error {
	if a.Len() != len(a.Data) {
		return fmt.Errorf("write %s.%s: dims %v hold %d values, got %d", container, component, a.Dims, a.Len(), len(a.Data))
	}
	defer s.observeWrite(time.Now())
	if err := s.exists(ctx, container); err != nil {
		return err
	}
	payload, err := encodeValues(a.Data)
	if err != nil {
		return s.fail("write_array", fmt.Errorf("encode %s.%s: %w", container, component, err))
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO arrays (container, component, dims, payload) VALUES (?, ?, ?, ?)",
		container, component, formatDims(a.Dims), payload)
	if err != nil {
		return s.fail("write_array", err)
	}
	return nil
}

// ReadArray loads a component of container.
func (s *SQLiteStore) ReadArray(ctx context.Context, container, component string) (Array, error) {
	defer s.observeRead(time.Now())
	var dims string
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT dims, payload FROM arrays WHERE container = ? AND component = ?",
		container, component).Scan(&dims, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Array{}, fmt.Errorf("%w: %s.%s", ErrNotFound, container, component)
	}
	if err != nil {
		return Array{}, s.fail("read_array", err)
	}

	a := Array{}
	if a.Dims, err = parseDims(dims); err != nil {
		return Array{}, s.fail("read_array", err)
	}
	if a.Data, err = decodeValues(payload); err != nil {
		return Array{}, s.fail("read_array", fmt.Errorf("%s.%s: %w", container, component, err))
	}
	if len(a.Data) != a.Len() {
		return Array{}, s.fail("read_array", fmt.Errorf("%w: %s.%s has %d values for dims %v", ErrCorrupt, container, component, len(a.Data), a.Dims))
	}
	return a, nil
}

// SetExtension stores ext.key = value on container.
func (s *SQLiteStore) SetExtension(ctx context.Context, container, ext, key, value string) error {
	defer s.observeWrite(time.Now())
	if err := s.exists(ctx, container); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO extensions (container, ext, key, value) VALUES (?, ?, ?, ?)",
		container, ext, key, value)
	if err != nil {
		return s.fail("set_extension", err)
	}
	return nil
}

// GetExtension returns ext.key of container.
func (s *SQLiteStore) GetExtension(ctx context.Context, container, ext, key string) (string, error) {
	defer s.observeRead(time.Now())
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM extensions WHERE container = ? AND ext = ? AND key = ?",
		container, ext, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s.%s.%s", ErrNotFound, container, ext, key)
	}
	if err != nil {
		return "", s.fail("get_extension", err)
	}
	return value, nil
}

// ListContainers returns container names in name order.
func (s *SQLiteStore) ListContainers(ctx context.Context, kind string) ([]string, error) {
	defer s.observeRead(time.Now())
	q, args := "SELECT name FROM containers ORDER BY name", []any{}
	if kind != "" {
		q, args = "SELECT name FROM containers WHERE kind = ? ORDER BY name", []any{kind}
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, s.fail("list", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, s.fail("list", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("list", err)
	}
	return names, nil
}

func (s *SQLiteStore) exists(ctx context.Context, container string) error {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM containers WHERE name = ?", container).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: container %s", ErrNotFound, container)
	}
	if err != nil {
		return s.fail("lookup", err)
	}
	return nil
}

func (s *SQLiteStore) fail(op string, err error) error {
	metrics.RecordStoreError(op)
	metrics.RecordErrorByComponent("store", op)
	return fmt.Errorf("%s: %w", op, err)
}

func (s *SQLiteStore) observeRead(start time.Time) {
	metrics.RecordStoreRead(float64(time.Since(start).Microseconds()) / 1000)
}

func (s *SQLiteStore) observeWrite(start time.Time) {
	metrics.RecordStoreWrite(float64(time.Since(start).Microseconds()) / 1000)
}
