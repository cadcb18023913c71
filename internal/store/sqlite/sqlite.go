package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vovakirdan/flopchat-server/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	username   TEXT NOT NULL UNIQUE,
	avatar     TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	sender_id         INTEGER NOT NULL,
	receiver_id       INTEGER NOT NULL,
	content           TEXT NOT NULL,
	timestamp         DATETIME NOT NULL,
	is_read           BOOLEAN NOT NULL DEFAULT 0,
	notification_sent BOOLEAN NOT NULL DEFAULT 0,
	FOREIGN KEY (sender_id) REFERENCES users(id),
	FOREIGN KEY (receiver_id) REFERENCES users(id)
);

CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender_id, receiver_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_messages_inbox ON messages(receiver_id, is_read, notification_sent);
`

const selectMessage = `
	SELECT m.id, s.username, r.username, m.content, m.timestamp, m.is_read, m.notification_sent
	FROM messages m
	JOIN users s ON s.id = m.sender_id
	JOIN users r ON r.id = m.receiver_id
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// Migrate applies the schema. It is safe to run on every start.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file or ":memory:".
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, Migrate)
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply a custom schema or seed data.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps ":memory:" alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== UserStore implementation ====

// CreateUser inserts a new user.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, avatar string) (*store.User, error) {
	query := `
		INSERT INTO users (username, avatar)
		VALUES (?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, username, avatar); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return s.GetUserByUsername(ctx, username)
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `
		SELECT id, username, avatar, created_at
		FROM users
		WHERE username = ?
	`
	var user store.User
	err := s.db.QueryRowContext(ctx, query, username).Scan(
		&user.ID,
		&user.Username,
		&user.Avatar,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %q: %w", username, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}

	return &user, nil
}

// ==== MessageStore implementation ====

// CreateMessage persists a message between two existing users.
func (s *SQLiteStore) CreateMessage(ctx context.Context, sender, recipient, content string) (*store.Message, error) {
	query := `
		INSERT INTO messages (sender_id, receiver_id, content, timestamp)
		SELECT su.id, ru.id, ?, ?
		FROM users su, users ru
		WHERE su.username = ? AND ru.username = ?
	`
	result, err := s.db.ExecContext(ctx, query, content, s.now(), sender, recipient)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("sender %q or recipient %q: %w", sender, recipient, store.ErrNotFound)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.getMessageByID(ctx, id)
}

func (s *SQLiteStore) getMessageByID(ctx context.Context, id int64) (*store.Message, error) {
	msg, err := scanMessage(s.db.QueryRowContext(ctx, selectMessage+` WHERE m.id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %d: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query message: %w", err)
	}
	return msg, nil
}

// History returns the conversation between a and b, oldest first.
func (s *SQLiteStore) History(ctx context.Context, a, b string) ([]*store.Message, error) {
	query := selectMessage + `
		WHERE (s.username = ? AND r.username = ?)
		   OR (s.username = ? AND r.username = ?)
		ORDER BY m.timestamp ASC, m.id ASC
	`
	return s.queryMessages(ctx, query, a, b, b, a)
}

// LatestBetween returns the newest message from sender to recipient.
func (s *SQLiteStore) LatestBetween(ctx context.Context, sender, recipient string) (*store.Message, error) {
	query := selectMessage + `
		WHERE s.username = ? AND r.username = ?
		ORDER BY m.timestamp DESC, m.id DESC
		LIMIT 1
	`
	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, sender, recipient))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("latest message %s->%s: %w", sender, recipient, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query latest message: %w", err)
	}
	return msg, nil
}

// MarkRead marks every unread message between a and b as read.
func (s *SQLiteStore) MarkRead(ctx context.Context, a, b string) (int64, error) {
	query := `
		UPDATE messages
		SET is_read = 1
		WHERE is_read = 0
		  AND (
		    (sender_id = (SELECT id FROM users WHERE username = ?) AND receiver_id = (SELECT id FROM users WHERE username = ?))
		    OR
		    (sender_id = (SELECT id FROM users WHERE username = ?) AND receiver_id = (SELECT id FROM users WHERE username = ?))
		  )
	`
	result, err := s.db.ExecContext(ctx, query, a, b, b, a)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return rows, nil
}

// MarkNotified flips notification_sent from false to true.
func (s *SQLiteStore) MarkNotified(ctx context.Context, id int64) (bool, error) {
	query := `
		UPDATE messages
		SET notification_sent = 1
		WHERE id = ? AND notification_sent = 0
	`
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("mark notified: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rows == 1, nil
}

// UnreadUnnotified lists unread, never-notified messages addressed to username.
func (s *SQLiteStore) UnreadUnnotified(ctx context.Context, username string) ([]*store.Message, error) {
	query := selectMessage + `
		WHERE r.username = ? AND m.is_read = 0 AND m.notification_sent = 0
		ORDER BY m.timestamp ASC, m.id ASC
	`
	return s.queryMessages(ctx, query, username)
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]*store.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*store.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*store.Message, error) {
	var msg store.Message
	if err := row.Scan(
		&msg.ID,
		&msg.Sender,
		&msg.Receiver,
		&msg.Content,
		&msg.Timestamp,
		&msg.IsRead,
		&msg.NotificationSent,
	); err != nil {
		return nil, err
	}
	return &msg, nil
}

var _ store.Store = (*SQLiteStore)(nil)
