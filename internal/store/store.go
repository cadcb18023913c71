package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// User represents a user known to the message store.
type User struct {
	ID        int64
	Username  string
	Avatar    string // URL path of the avatar, empty when unset
	CreatedAt time.Time
}

// Message represents a persisted direct message between two users.
type Message struct {
	ID               int64
	Sender           string
	Receiver         string
	Content          string
	Timestamp        time.Time
	IsRead           bool
	NotificationSent bool
}

// UserStore resolves identities to user records.
type UserStore interface {
	// CreateUser inserts a user. Used by the admin CLI; registration is external.
	CreateUser(ctx context.Context, username, avatar string) (*User, error)

	// GetUserByUsername retrieves a user by username. Returns ErrNotFound if absent.
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// CreateMessage persists a new message with is_read and notification_sent unset.
	CreateMessage(ctx context.Context, sender, recipient, content string) (*Message, error)

	// History returns every message exchanged between a and b in either
	// direction, ordered by timestamp ascending.
	History(ctx context.Context, a, b string) ([]*Message, error)

	// LatestBetween returns the newest message sent from sender to recipient.
	LatestBetween(ctx context.Context, sender, recipient string) (*Message, error)

	// MarkRead sets is_read on every unread message between a and b in either
	// direction and returns how many rows changed.
	MarkRead(ctx context.Context, a, b string) (int64, error)

	// MarkNotified sets notification_sent on a message. It reports false when the
	// flag was already set.
	MarkNotified(ctx context.Context, id int64) (bool, error)

	// UnreadUnnotified lists unread messages addressed to the user whose
	// notification was never sent, oldest first.
	UnreadUnnotified(ctx context.Context, username string) ([]*Message, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
