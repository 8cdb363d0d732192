// Package audit keeps an append-only SQLite record of what the gateway staged,
// confirmed and executed on a user's behalf.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"backend-go-chat-gateway/internal/logger"

	_ "github.com/mattn/go-sqlite3"
)

// Event types.
const (
	EventWriteStaged     = "WRITE_STAGED"
	EventWriteConfirmed  = "WRITE_CONFIRMED"
	EventWriteRejected   = "WRITE_REJECTED"
	EventWriteCancelled  = "WRITE_CANCELLED"
	EventToolCall        = "TOOL_CALL"
	EventPlannerDecision = "PLANNER_DECISION"
	EventCompletionError = "COMPLETION_ERROR"
)

// Log writes audit rows. A nil *Log discards everything.
type Log struct {
	db *sql.DB
}

// Entry is one stored row.
type Entry struct {
	TraceID   string
	UserID    string
	Timestamp time.Time
	EventType string
	Data      string
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS chat_audit (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	trace_id TEXT,
	user_id TEXT NOT NULL,
	timestamp DATETIME NOT NULL,
	event_type TEXT NOT NULL,
	data TEXT
);

CREATE INDEX IF NOT EXISTS idx_chat_audit_user_id ON chat_audit(user_id);
CREATE INDEX IF NOT EXISTS idx_chat_audit_timestamp ON chat_audit(timestamp);
`

// Open opens or creates the audit database at dbPath.
func Open(dbPath string) (*Log, error) {
	if dbPath == "" {
		dbPath = "./chat_audit.db"
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(createTableSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Log{db: db}, nil
}

func (a *Log) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

// Record inserts one row. data is JSON-encoded best-effort; the trace id is
// taken from ctx.
func (a *Log) Record(ctx context.Context, userID, eventType string, data any) error {
	if a == nil || a.db == nil {
		return nil
	}

	var payload string
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			payload = fmt.Sprintf(`{"marshal_error":%q}`, err.Error())
		} else {
			payload = string(b)
		}
	}

	_, err := a.db.ExecContext(ctx,
		`INSERT INTO chat_audit (trace_id, user_id, timestamp, event_type, data) VALUES (?, ?, ?, ?, ?)`,
		logger.TraceID(ctx), userID, time.Now().UTC(), eventType, payload,
	)
	if err != nil {
		return fmt.Errorf("insert chat_audit: %w", err)
	}
	return nil
}

// Recent returns up to limit rows for userID, newest first.
func (a *Log) Recent(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if a == nil || a.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.QueryContext(ctx,
		`SELECT COALESCE(trace_id, ''), user_id, timestamp, event_type, COALESCE(data, '')
		 FROM chat_audit WHERE user_id = ? ORDER BY id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query chat_audit: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.TraceID, &e.UserID, &e.Timestamp, &e.EventType, &e.Data); err != nil {
			return nil, fmt.Errorf("scan chat_audit: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
