// Package archive stores timeline events in a local SQLite database.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/shawkym/roomsync/pkg/dispatch"
	"github.com/shawkym/roomsync/pkg/event"
	"github.com/shawkym/roomsync/pkg/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	seq              INTEGER PRIMARY KEY AUTOINCREMENT,
	room_id          TEXT    NOT NULL,
	event_id         TEXT    UNIQUE,
	sender           TEXT    NOT NULL DEFAULT '',
	type             TEXT    NOT NULL DEFAULT '',
	msgtype          TEXT    NOT NULL DEFAULT '',
	body             TEXT    NOT NULL DEFAULT '',
	origin_server_ts INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_messages_room_ts ON messages (room_id, origin_server_ts);
`

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("archive is closed")

// Message is one archived timeline event.
type Message struct {
	RoomID    string
	EventID   string
	Sender    string
	Type      string
	MsgType   string
	Body      string
	Timestamp time.Time
}

// Store is a dispatch observer that archives every timeline event.
type Store struct {
	dispatch.BaseObserver
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// "file::memory:" gives a private in-memory database.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("archive path is required")
	}
	if path != "file::memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create archive directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	// An in-memory database exists per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply archive schema: %w", err)
	}

	log.WithField("path", path).Debug("archive opened")
	return &Store{db: db}, nil
}

func (s *Store) Name() string { return "archive" }

// OnTimeline inserts the event. An event id already in the archive is
// ignored; events without an id are always inserted.
func (s *Store) OnTimeline(ctx context.Context, room dispatch.Room, ev event.Timeline) error {
	return s.Insert(ctx, Message{
		RoomID:    room.ID,
		EventID:   ev.EventID(),
		Sender:    ev.Sender(),
		Type:      ev.Type(),
		MsgType:   ev.MsgType(),
		Body:      ev.Body(),
		Timestamp: time.UnixMilli(ev.OriginServerTS()),
	})
}

// Insert stores m. It reports no error for a duplicate event id.
func (s *Store) Insert(ctx context.Context, m Message) error {
	if s.db == nil {
		return ErrClosed
	}

	var eventID sql.NullString
	if m.EventID != "" {
		eventID = sql.NullString{String: m.EventID, Valid: true}
	}
	var ts int64
	if !m.Timestamp.IsZero() {
		ts = m.Timestamp.UnixMilli()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO messages (room_id, event_id, sender, type, msgtype, body, origin_server_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.RoomID, eventID, m.Sender, m.Type, m.MsgType, m.Body, ts)
	if err != nil {
		return fmt.Errorf("failed to archive event %s: %w", m.EventID, err)
	}
	return nil
}

// Recent returns up to limit messages for roomID, newest first.
func (s *Store) Recent(ctx context.Context, roomID string, limit int) ([]Message, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT room_id, COALESCE(event_id, ''), sender, type, msgtype, body, origin_server_ts
		FROM messages WHERE room_id = ?
		ORDER BY origin_server_ts DESC, seq DESC
		LIMIT ?
	`, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query archive: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0, limit)
	for rows.Next() {
		var m Message
		var ts int64
		if err := rows.Scan(&m.RoomID, &m.EventID, &m.Sender, &m.Type, &m.MsgType, &m.Body, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan archive row: %w", err)
		}
		m.Timestamp = time.UnixMilli(ts)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// Count returns the number of archived events for roomID, or for every room
// when roomID is empty.
func (s *Store) Count(ctx context.Context, roomID string) (int, error) {
	if s.db == nil {
		return 0, ErrClosed
	}

	var n int
	var err error
	if roomID == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE room_id = ?`, roomID).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count archive: %w", err)
	}
	return n, nil
}

// Close closes the database. Safe to call twice.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
