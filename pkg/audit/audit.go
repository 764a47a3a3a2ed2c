// Package audit keeps a local append-only trail of service events in SQLite.
// Recording is best effort: an audit failure never fails the operation being
// audited.
package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/visiongrade/gradecast/pkg/logx"
)

// Event kinds recorded by the service
const (
	KindPrediction  = "prediction"
	KindTraining    = "training"
	KindModelReload = "model_reload"
	KindVisibility  = "visibility"
)

// Event is one audit trail entry
type Event struct {
	ID        int64                  `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Kind      string                 `json:"kind"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
}

// Log is the SQLite-backed audit trail
type Log struct {
	db     *sql.DB
	logger *logx.Logger
}

// Open creates or opens the audit database and ensures the schema exists
func Open(path string, logger *logx.Logger) (*Log, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS audit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		kind TEXT NOT NULL,
		detail TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_audit_events_kind ON audit_events(kind);
	CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize audit schema: %w", err)
	}

	return &Log{db: db, logger: logger.WithComponent("audit")}, nil
}

// Close releases the database handle
func (l *Log) Close() error {
	return l.db.Close()
}

// Record appends one event. Failures are logged and swallowed.
func (l *Log) Record(kind string, detail map[string]interface{}) {
	var payload []byte
	if detail != nil {
		var err error
		payload, err = json.Marshal(detail)
		if err != nil {
			l.logger.Warn("audit detail not encodable", "kind", kind, "error", err.Error())
			payload = nil
		}
	}

	_, err := l.db.Exec(
		`INSERT INTO audit_events (timestamp, kind, detail) VALUES (?, ?, ?)`,
		time.Now().UTC(), kind, string(payload))
	if err != nil {
		l.logger.Warn("audit event not recorded", "kind", kind, "error", err.Error())
	}
}

// Recent returns the newest events, most recent first
func (l *Log) Recent(limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.Query(
		`SELECT id, timestamp, kind, detail FROM audit_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e      Event
			detail sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Kind, &detail); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if detail.Valid && detail.String != "" {
			if err := json.Unmarshal([]byte(detail.String), &e.Detail); err != nil {
				l.logger.Warn("audit detail not decodable", "id", e.ID, "error", err.Error())
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
