package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// AuditStore persists audit events in SQLite.
type AuditStore struct {
	db *sql.DB
}

// OpenAuditStore opens (and creates) the audit database at path.
func OpenAuditStore(path string) (*AuditStore, error) {
	if path == "" {
		return nil, fmt.Errorf("audit database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &AuditStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *AuditStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_events (
			id         TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			actor      TEXT NOT NULL DEFAULT '',
			action     TEXT NOT NULL,
			status     TEXT NOT NULL,
			metadata   TEXT,
			trace_id   TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_audit_events_type_time ON audit_events(event_type, created_at);
	`)
	return err
}

// Append stores one event.
func (s *AuditStore) Append(ctx context.Context, event AuditEvent) error {
	var metadata sql.NullString
	if event.Metadata != nil {
		data, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode audit metadata: %w", err)
		}
		metadata = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, event_type, actor, action, status, metadata, trace_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.Type, event.Actor, event.Action, event.Status, metadata, event.TraceID,
		event.Timestamp.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first. An empty eventType
// matches every type.
func (s *AuditStore) Recent(ctx context.Context, eventType string, limit int) ([]AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_type, actor, action, status, metadata, trace_id, created_at
		 FROM audit_events
		 WHERE (? = '' OR event_type = ?)
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT ?`,
		eventType, eventType, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var (
			e         AuditEvent
			metadata  sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.Type, &e.Actor, &e.Action, &e.Status, &metadata, &e.TraceID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		if metadata.Valid {
			if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode audit metadata: %w", err)
			}
		}
		e.Timestamp = time.UnixMilli(createdAt)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close closes the database.
func (s *AuditStore) Close() error {
	return s.db.Close()
}
