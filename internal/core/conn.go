package core

import (
	"context"
	"errors"
	"sync"

	"github.com/vovakirdan/flopchat-server/internal/proto"
)

// DefaultSendBuffer is the outbound queue length used when none is configured.
const DefaultSendBuffer = 64

// ErrConnClosed is returned by SendContext once the connection is torn down.
var ErrConnClosed = errors.New("connection closed")

// Conn is a live connection as seen by the registry.
// Events is drained by the connection's write loop and is never closed by the
// registry; Done is closed once the connection is torn down.
type Conn struct {
	ID     string
	User   string
	Events chan *proto.Frame

	// Accept filters group frames by type. Frames sent with Send bypass it.
	// Nil accepts everything. Set before the first Join.
	Accept func(frameType string) bool

	// groups is guarded by the owning Registry's mutex.
	groups map[string]struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// NewConn constructs a connection with an outbound queue of the given size.
func NewConn(id, user string, buffer int) *Conn {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Conn{
		ID:     id,
		User:   user,
		Events: make(chan *proto.Frame, buffer),
		groups: make(map[string]struct{}),
		done:   make(chan struct{}),
	}
}

// Close marks the connection as gone. Pending and future deliveries are dropped.
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Done is closed after Close.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// deliver enqueues a frame without blocking. It reports false when the
// connection is closed or its queue is full.
func (c *Conn) deliver(f *proto.Frame) bool {
	if c.Closed() {
		return false
	}
	select {
	case c.Events <- f:
		return true
	default:
		return false
	}
}

// Send enqueues a frame for this connection only.
func (c *Conn) Send(f *proto.Frame) bool {
	return c.deliver(f)
}

// SendContext enqueues a frame for this connection only, waiting for queue
// space until the connection closes or ctx is done.
func (c *Conn) SendContext(ctx context.Context, f *proto.Frame) error {
	if c.Closed() {
		return ErrConnClosed
	}
	select {
	case c.Events <- f:
		return nil
	case <-c.done:
		return ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
