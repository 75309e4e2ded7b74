package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"screener_go/internal/event"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"
)

// SessionInfo describes one recorded daemon run.
type SessionInfo struct {
	ID        string    `json:"id"`
	Segment   string    `json:"segment"`
	StartedAt time.Time `json:"started_at"`
	Events    int       `json:"events"`
}

// FrameJournal records every event the sequencer applies, one decoded feed
// frame per row, so a run can be replayed offline. It is write-only during
// a run; nothing is read back on startup.
type FrameJournal struct {
	db *sql.DB

	mu      sync.Mutex
	session string
}

// OpenJournal opens (or creates) a SQLite journal with WAL mode enabled.
func OpenJournal(dbPath string) (*FrameJournal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=-2000;", // 2MB cache
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			segment TEXT NOT NULL,
			started_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sessions table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			session TEXT NOT NULL,
			seq INTEGER NOT NULL,
			type INTEGER NOT NULL,
			ts INTEGER NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (session, seq)
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create events table: %w", err)
	}

	return &FrameJournal{db: db}, nil
}

// BeginSession starts a new recording and makes it the target of Append.
func (j *FrameJournal) BeginSession(ctx context.Context, segment string) (string, error) {
	id := uuid.NewString()
	_, err := j.db.ExecContext(ctx,
		"INSERT INTO sessions (id, segment, started_at) VALUES (?, ?, ?)",
		id, segment, time.Now().UnixMicro(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert session: %w", err)
	}

	j.mu.Lock()
	j.session = id
	j.mu.Unlock()
	return id, nil
}

// Session returns the id Append writes to, or "" before BeginSession.
func (j *FrameJournal) Session() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.session
}

// Append stores ev under the current session.
func (j *FrameJournal) Append(ctx context.Context, ev event.Event) error {
	session := j.Session()
	if session == "" {
		return fmt.Errorf("no journal session started")
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = j.db.ExecContext(ctx,
		"INSERT INTO events (session, seq, type, ts, payload) VALUES (?, ?, ?, ?, ?)",
		session, ev.GetSeq(), ev.GetType(), ev.GetTs(), payload,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// Load returns the events of one session in sequence order.
func (j *FrameJournal) Load(ctx context.Context, session string) ([]event.Event, error) {
	rows, err := j.db.QueryContext(ctx,
		"SELECT seq, type, payload FROM events WHERE session = ? ORDER BY seq ASC",
		session,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var seq int64
		var evType int
		var payload []byte

		if err := rows.Scan(&seq, &evType, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		ev, err := event.Decode(event.Type(evType), payload)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", seq, err)
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return events, nil
}

// Sessions lists recorded sessions, newest first.
func (j *FrameJournal) Sessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT s.id, s.segment, s.started_at, COUNT(e.seq)
		FROM sessions s LEFT JOIN events e ON e.session = s.id
		GROUP BY s.id
		ORDER BY s.started_at DESC, s.rowid DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var info SessionInfo
		var started int64
		if err := rows.Scan(&info.ID, &info.Segment, &started, &info.Events); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		info.StartedAt = time.UnixMicro(started)
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}

// Close closes the database connection.
func (j *FrameJournal) Close() error {
	return j.db.Close()
}
