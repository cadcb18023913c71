package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vovakirdan/flopchat-server/internal/store"
)

func newTestStore(t *testing.T, users ...string) *SQLiteStore {
	t.Helper()

	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	// Deterministic, strictly increasing timestamps.
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	for _, u := range users {
		if _, err := s.CreateUser(context.Background(), u, "/media/avatars/"+u+".png"); err != nil {
			t.Fatalf("failed to create user %s: %v", u, err)
		}
	}
	return s
}

func mustCreate(t *testing.T, s *SQLiteStore, from, to, text string) *store.Message {
	t.Helper()
	msg, err := s.CreateMessage(context.Background(), from, to, text)
	if err != nil {
		t.Fatalf("create message %s->%s: %v", from, to, err)
	}
	return msg
}

func TestCreateMessageDefaults(t *testing.T) {
	s := newTestStore(t, "alice", "bob")

	msg := mustCreate(t, s, "alice", "bob", "hi")
	if msg.ID == 0 || msg.Sender != "alice" || msg.Receiver != "bob" || msg.Content != "hi" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.IsRead || msg.NotificationSent {
		t.Fatalf("new message must be unread and unnotified: %+v", msg)
	}
}

func TestCreateMessageUnknownUser(t *testing.T) {
	s := newTestStore(t, "alice")

	_, err := s.CreateMessage(context.Background(), "alice", "ghost", "hi")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetUserByUsername(t *testing.T) {
	s := newTestStore(t, "alice")
	ctx := context.Background()

	u, err := s.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.Avatar != "/media/avatars/alice.png" {
		t.Fatalf("unexpected avatar %q", u.Avatar)
	}

	if _, err := s.GetUserByUsername(ctx, "nobody"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHistoryIsBidirectionalAndOrdered(t *testing.T) {
	s := newTestStore(t, "alice", "bob", "carol")

	m1 := mustCreate(t, s, "alice", "bob", "one")
	mustCreate(t, s, "alice", "carol", "other pair")
	m2 := mustCreate(t, s, "bob", "alice", "two")
	mustCreate(t, s, "carol", "bob", "other pair")
	m3 := mustCreate(t, s, "alice", "bob", "three")

	got, err := s.History(context.Background(), "bob", "alice")
	if err != nil {
		t.Fatalf("history: %v", err)
	}

	want := []int64{m1.ID, m2.ID, m3.ID}
	if len(got) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(got))
	}
	for i, msg := range got {
		if msg.ID != want[i] {
			t.Fatalf("position %d: expected id %d, got %d", i, want[i], msg.ID)
		}
		if i > 0 && msg.Timestamp.Before(got[i-1].Timestamp) {
			t.Fatalf("history not ordered by timestamp at %d", i)
		}
	}
}

func TestMarkReadTouchesOnlyThePair(t *testing.T) {
	s := newTestStore(t, "alice", "bob", "carol")
	ctx := context.Background()

	mustCreate(t, s, "alice", "bob", "a->b")
	mustCreate(t, s, "bob", "alice", "b->a")
	outside := mustCreate(t, s, "carol", "bob", "c->b")

	n, err := s.MarkRead(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows marked, got %d", n)
	}

	history, err := s.History(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	for _, msg := range history {
		if !msg.IsRead {
			t.Fatalf("message %d should be read", msg.ID)
		}
	}

	other, err := s.getMessageByID(ctx, outside.ID)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if other.IsRead {
		t.Fatalf("message outside the pair must stay unread")
	}

	// Second call is a no-op.
	if n, _ := s.MarkRead(ctx, "alice", "bob"); n != 0 {
		t.Fatalf("expected 0 rows on repeat, got %d", n)
	}
}

func TestMarkNotifiedIsMonotonic(t *testing.T) {
	s := newTestStore(t, "alice", "bob")
	ctx := context.Background()

	msg := mustCreate(t, s, "alice", "bob", "hi")

	changed, err := s.MarkNotified(ctx, msg.ID)
	if err != nil || !changed {
		t.Fatalf("first mark: changed=%v err=%v", changed, err)
	}
	changed, err = s.MarkNotified(ctx, msg.ID)
	if err != nil || changed {
		t.Fatalf("second mark: changed=%v err=%v", changed, err)
	}
}

func TestLatestBetweenAndUnreadUnnotified(t *testing.T) {
	s := newTestStore(t, "alice", "bob")
	ctx := context.Background()

	first := mustCreate(t, s, "alice", "bob", "one")
	second := mustCreate(t, s, "alice", "bob", "two")
	mustCreate(t, s, "bob", "alice", "reply")

	latest, err := s.LatestBetween(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.ID != second.ID {
		t.Fatalf("expected latest %d, got %d", second.ID, latest.ID)
	}

	if _, err := s.MarkNotified(ctx, first.ID); err != nil {
		t.Fatalf("mark notified: %v", err)
	}

	pending, err := s.UnreadUnnotified(ctx, "bob")
	if err != nil {
		t.Fatalf("unread unnotified: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != second.ID {
		t.Fatalf("expected only message %d pending, got %+v", second.ID, pending)
	}

	if _, err := s.LatestBetween(ctx, "bob", "nobody"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
