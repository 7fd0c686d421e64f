package chatstore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

func msFromEpoch(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// SQLiteStore is the file-backed TranscriptStore.
type SQLiteStore struct {
	db *sql.DB
}

var _ TranscriptStore = &SQLiteStore{}

// NewSQLiteStore opens (and migrates) a transcript cache at dsn. Use
// ":memory:" for an ephemeral cache.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite transcript store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close implements TranscriptStore.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	if s == nil || s.db == nil {
		return errors.New("sqlite transcript store: db is nil")
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transcript_messages (
			conv_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			msg_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL,
			PRIMARY KEY (conv_id, position)
		);`,
		`CREATE INDEX IF NOT EXISTS transcript_by_conv ON transcript_messages(conv_id, position);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite transcript store: migrate")
		}
	}
	return nil
}

// Replace implements TranscriptStore. Delete and insert run in one
// transaction so readers never observe a half-replaced conversation.
func (s *SQLiteStore) Replace(ctx context.Context, convID string, msgs []Message) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite transcript store: db is nil")
	}
	if strings.TrimSpace(convID) == "" {
		return errors.New("sqlite transcript store: convID is empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlite transcript store: begin")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM transcript_messages WHERE conv_id = ?`, convID); err != nil {
		return errors.Wrap(err, "sqlite transcript store: clear")
	}
	for i, m := range msgs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO transcript_messages (conv_id, position, msg_id, role, content, created_at_ms) VALUES (?, ?, ?, ?, ?, ?)`,
			convID, i, m.ID, m.Role, m.Content, m.CreatedAt.UnixMilli())
		if err != nil {
			return errors.Wrap(err, "sqlite transcript store: insert")
		}
	}
	return errors.Wrap(tx.Commit(), "sqlite transcript store: commit")
}

// Load implements TranscriptStore.
func (s *SQLiteStore) Load(ctx context.Context, convID string) ([]Message, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite transcript store: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT msg_id, role, content, created_at_ms FROM transcript_messages WHERE conv_id = ? ORDER BY position`, convID)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite transcript store: query")
	}
	defer func() { _ = rows.Close() }()

	msgs := []Message{}
	for rows.Next() {
		var m Message
		var createdAtMs int64
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &createdAtMs); err != nil {
			return nil, errors.Wrap(err, "sqlite transcript store: scan")
		}
		m.CreatedAt = msFromEpoch(createdAtMs)
		msgs = append(msgs, m)
	}
	return msgs, errors.Wrap(rows.Err(), "sqlite transcript store: rows")
}
