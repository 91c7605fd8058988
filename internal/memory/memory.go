// Package memory persists conversation turns per session in SQLite.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/dalil/internal/models"
	"github.com/hyperjump/dalil/internal/storage"
)

// ErrInvalidRole is returned when a turn has an unknown role.
var ErrInvalidRole = errors.New("invalid role")

// Session summarizes one conversation.
type Session struct {
	ID           string    `json:"id"`
	Turns        int64     `json:"turns"`
	LastActivity time.Time `json:"last_activity"`
}

// SQLiteMemory is the durable turn log. Every read and write is scoped to one session id;
// the empty session id is a valid partition of its own.
type SQLiteMemory struct {
	db   *sql.DB
	path string
}

// Open opens or creates the turn log at path. Writes are synchronous (FULL), so a turn whose
// Append returned is on disk.
func Open(ctx context.Context, path string) (*SQLiteMemory, error) {
	db, err := storage.OpenSQLite(path, "FULL")
	if err != nil {
		return nil, err
	}
	m := &SQLiteMemory{db: db, path: path}
	if err := m.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return m, nil
}

// Init creates the schema if missing. It is safe to call more than once.
func (m *SQLiteMemory) Init(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);
	`
	if _, err := m.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Append stores one turn and returns its id. Ids increase with insertion order.
func (m *SQLiteMemory) Append(ctx context.Context, sessionID string, role models.Role, content string) (int64, error) {
	if !role.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	res, err := m.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, string(role), content, time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert turn: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns the last limit turns of sessionID, oldest first.
func (m *SQLiteMemory) Recent(ctx context.Context, sessionID string, limit int) ([]models.Turn, error) {
	if limit <= 0 {
		return []models.Turn{}, nil
	}
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, created_at FROM messages
		 WHERE session_id = ? ORDER BY id DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	turns := []models.Turn{}
	for rows.Next() {
		var t models.Turn
		var role string
		var created sql.NullTime
		if err := rows.Scan(&t.ID, &t.SessionID, &role, &t.Content, &created); err != nil {
			return nil, err
		}
		t.Role = models.Role(role)
		t.CreatedAt = created.Time
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// Count returns the number of turns stored for sessionID.
func (m *SQLiteMemory) Count(ctx context.Context, sessionID string) (int64, error) {
	var n int64
	err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

// CountAll returns the number of turns across all sessions.
func (m *SQLiteMemory) CountAll(ctx context.Context) (int64, error) {
	var n int64
	err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}

// Sessions lists sessions, most recently active first.
func (m *SQLiteMemory) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT m.session_id, g.turns, m.created_at
		FROM messages m
		JOIN (SELECT session_id, COUNT(*) AS turns, MAX(id) AS last_id FROM messages GROUP BY session_id) g
			ON m.id = g.last_id
		ORDER BY m.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		var created sql.NullTime
		if err := rows.Scan(&s.ID, &s.Turns, &created); err != nil {
			return nil, err
		}
		s.LastActivity = created.Time
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Path returns the database file path.
func (m *SQLiteMemory) Path() string {
	return m.path
}

// Close closes the database.
func (m *SQLiteMemory) Close() error {
	return m.db.Close()
}
