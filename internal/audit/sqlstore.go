package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SQLStore is an append-only SQLite sink for audit records. The gateway
// only writes; nothing in this subsystem reads the table back.
type SQLStore struct {
	db *sqlx.DB
}

var _ Sink = (*SQLStore)(nil)

const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_log (
	request_id   TEXT NOT NULL,
	ts           TIMESTAMP NOT NULL,
	method       TEXT NOT NULL,
	path         TEXT NOT NULL,
	source_ip    TEXT,
	identity     TEXT,
	status_code  INTEGER NOT NULL,
	latency_ms   INTEGER NOT NULL,
	record       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_log_ts ON audit_log(ts);
`

// NewSQLStore opens (or creates) the audit database at path.
func NewSQLStore(path string) (*SQLStore, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening audit db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configuring audit db: %w", err)
	}
	if _, err := db.Exec(auditSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing audit schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// WriteRecord appends one record. The full redacted record is stored as
// JSON alongside the indexed columns.
func (s *SQLStore) WriteRecord(ctx context.Context, rec *Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling audit record: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_log (request_id, ts, method, path, source_ip, identity, status_code, latency_ms, record)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID,
		rec.Timestamp.Format(time.RFC3339Nano),
		rec.Method,
		rec.Path,
		rec.SourceIP,
		rec.Identity,
		rec.StatusCode,
		rec.LatencyMs,
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("inserting audit record: %w", err)
	}
	return nil
}
