package store

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
)

// Observer receives the outcome of every gateway call.
type Observer interface {
	StoreCall(op string, took time.Duration, err error)
}

// Gateway is the boundary between connection goroutines and the durable store.
// At most `workers` calls run against the backing store at once; the rest queue
// on the semaphore until a slot frees up or the caller's context ends. Each call
// is bounded by the configured timeout.
type Gateway struct {
	next    Store
	sem     *semaphore.Weighted
	timeout time.Duration
	obs     Observer
}

// NewGateway wraps next. obs may be nil.
func NewGateway(next Store, workers int64, timeout time.Duration, obs Observer) *Gateway {
	if workers <= 0 {
		workers = 1
	}
	return &Gateway{
		next:    next,
		sem:     semaphore.NewWeighted(workers),
		timeout: timeout,
		obs:     obs,
	}
}

func call[T any](g *Gateway, ctx context.Context, op string, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()

	var zero T
	if err := g.sem.Acquire(ctx, 1); err != nil {
		g.observe(op, start, err)
		return zero, fmt.Errorf("%s: acquire store worker: %w", op, err)
	}
	defer g.sem.Release(1)

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	v, err := fn(ctx)
	g.observe(op, start, err)
	return v, err
}

func (g *Gateway) observe(op string, start time.Time, err error) {
	if g.obs != nil {
		g.obs.StoreCall(op, time.Since(start), err)
	}
}

// CreateUser implements UserStore.
func (g *Gateway) CreateUser(ctx context.Context, username, avatar string) (*User, error) {
	return call(g, ctx, "create_user", func(ctx context.Context) (*User, error) {
		return g.next.CreateUser(ctx, username, avatar)
	})
}

// GetUserByUsername implements UserStore.
func (g *Gateway) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return call(g, ctx, "get_user", func(ctx context.Context) (*User, error) {
		return g.next.GetUserByUsername(ctx, username)
	})
}

// CreateMessage implements MessageStore.
func (g *Gateway) CreateMessage(ctx context.Context, sender, recipient, content string) (*Message, error) {
	return call(g, ctx, "create_message", func(ctx context.Context) (*Message, error) {
		return g.next.CreateMessage(ctx, sender, recipient, content)
	})
}

// History implements MessageStore.
func (g *Gateway) History(ctx context.Context, a, b string) ([]*Message, error) {
	return call(g, ctx, "history", func(ctx context.Context) ([]*Message, error) {
		return g.next.History(ctx, a, b)
	})
}

// LatestBetween implements MessageStore.
func (g *Gateway) LatestBetween(ctx context.Context, sender, recipient string) (*Message, error) {
	return call(g, ctx, "latest_between", func(ctx context.Context) (*Message, error) {
		return g.next.LatestBetween(ctx, sender, recipient)
	})
}

// MarkRead implements MessageStore.
func (g *Gateway) MarkRead(ctx context.Context, a, b string) (int64, error) {
	return call(g, ctx, "mark_read", func(ctx context.Context) (int64, error) {
		return g.next.MarkRead(ctx, a, b)
	})
}

// MarkNotified implements MessageStore.
func (g *Gateway) MarkNotified(ctx context.Context, id int64) (bool, error) {
	return call(g, ctx, "mark_notified", func(ctx context.Context) (bool, error) {
		return g.next.MarkNotified(ctx, id)
	})
}

// UnreadUnnotified implements MessageStore.
func (g *Gateway) UnreadUnnotified(ctx context.Context, username string) ([]*Message, error) {
	return call(g, ctx, "unread_unnotified", func(ctx context.Context) ([]*Message, error) {
		return g.next.UnreadUnnotified(ctx, username)
	})
}

// Close closes the backing store.
func (g *Gateway) Close() error {
	return g.next.Close()
}

var _ Store = (*Gateway)(nil)
