package persona

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "modernc.org/sqlite"

	"github.com/ashureev/counselsim/internal/domain"
)

// SQLiteSource serves records stored as JSON documents in a SQLite database.
type SQLiteSource struct {
	db *sql.DB
}

var _ Source = (*SQLiteSource)(nil)

// IsSQLitePath reports whether path names a SQLite dataset rather than JSON.
func IsSQLitePath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return true
	}
	return false
}

// OpenSQLite opens (creating if needed) the dataset database at dbPath.
func OpenSQLite(dbPath string) (*SQLiteSource, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteSource{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteSource) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS patients (
		id TEXT PRIMARY KEY,
		record TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteSource) Close() error {
	return s.db.Close()
}

// Ping verifies database connectivity.
func (s *SQLiteSource) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// IDs returns ids in insertion order.
func (s *SQLiteSource) IDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM patients ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("query patient ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan patient id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate patient ids: %w", err)
	}
	return ids, nil
}

// Lookup decodes and normalizes a stored record.
func (s *SQLiteSource) Lookup(ctx context.Context, id string) (Record, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM patients WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("patient %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("query patient %s: %w", id, err)
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(doc), &raw); err != nil {
		return Record{}, fmt.Errorf("decode patient %s: %w", id, domain.ErrInvalidFormat)
	}
	return Normalize(raw)
}

// Import upserts raw dataset records in a single transaction. Records without
// an id are skipped. A locked database is retried with backoff.
func (s *SQLiteSource) Import(ctx context.Context, records []map[string]any, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, 2), ctx)

	var written int
	op := func() error {
		n, err := s.importOnce(ctx, records, logger)
		if err != nil {
			if isSQLiteConflict(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		written = n
		return nil
	}
	notify := func(err error, delay time.Duration) {
		logger.Debug("Dataset import hit a locked database, retrying", "delay", delay, "error", err)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return 0, fmt.Errorf("import dataset: %w", err)
	}
	return written, nil
}

func (s *SQLiteSource) importOnce(ctx context.Context, records []map[string]any, logger *slog.Logger) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO patients (id, record, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		record = excluded.record,
		updated_at = excluded.updated_at`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	written := 0
	for i, raw := range records {
		id := stringify(raw["id"])
		if id == "" {
			logger.Warn("Skipping dataset record without id", "index", i)
			continue
		}
		if _, err := Normalize(raw); err != nil {
			return 0, err
		}
		doc, err := json.Marshal(raw)
		if err != nil {
			return 0, fmt.Errorf("encode patient %s: %w", id, err)
		}
		if _, err := stmt.ExecContext(ctx, id, string(doc), now); err != nil {
			return 0, fmt.Errorf("insert patient %s: %w", id, err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return written, nil
}

// isSQLiteConflict matches SQLITE_BUSY and "database is locked" failures.
func isSQLiteConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
