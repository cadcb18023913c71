package core

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/vovakirdan/flopchat-server/internal/proto"
)

const (
	roomGroupPrefix = "chat_"
	userGroupPrefix = "user_"
)

// RoomGroup names the broadcast topic of a chat or call room.
func RoomGroup(room string) string {
	return roomGroupPrefix + room
}

// UserGroup names the personal notification topic of a user.
func UserGroup(username string) string {
	return userGroupPrefix + username
}

// Broadcaster delivers a frame to every member of a group.
type Broadcaster interface {
	// Broadcast is fire-and-forget: members with a full queue miss the frame.
	Broadcast(ctx context.Context, group string, frame *proto.Frame)
	// BroadcastWait waits for queue space at every local member. Members
	// that close meanwhile are skipped.
	BroadcastWait(ctx context.Context, group string, frame *proto.Frame) error
}

// Registry tracks live connections grouped by topic.
//
// Membership changes and deliveries share one RWMutex: a broadcast that starts
// after Join returns sees the member, one that starts after Leave returns does not.
// Deliver never blocks and enqueues under the read lock. DeliverWait snapshots
// the members first and waits outside it.
type Registry struct {
	mu      sync.RWMutex
	groups  map[string]*Group
	log     *zerolog.Logger
	metrics *Metrics
}

// NewRegistry creates an empty registry. metrics may be nil.
func NewRegistry(logger *zerolog.Logger, metrics *Metrics) *Registry {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Registry{
		groups:  make(map[string]*Group),
		log:     logger,
		metrics: metrics,
	}
}

// Join adds the connection to the group. Joining twice is a no-op.
func (r *Registry) Join(group string, c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[group]
	if !ok {
		g = NewGroup(group)
		r.groups[group] = g
	}
	if g.Add(c) {
		c.groups[group] = struct{}{}
		r.metrics.groupJoined()
		r.log.Debug().Str("group", group).Str("conn_id", c.ID).Str("user", c.User).Msg("joined group")
	}
}

// Leave removes the connection from the group. Leaving a group the
// connection is not in is a no-op.
func (r *Registry) Leave(group string, c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(group, c)
}

// LeaveAll removes the connection from every group it joined and returns their names.
func (r *Registry) LeaveAll(c *Conn) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	left := lo.Keys(c.groups)
	for _, group := range left {
		r.leaveLocked(group, c)
	}
	sort.Strings(left)
	return left
}

func (r *Registry) leaveLocked(group string, c *Conn) {
	g, ok := r.groups[group]
	if !ok {
		return
	}
	if !g.Remove(c) {
		return
	}
	delete(c.groups, group)
	r.metrics.groupLeft()
	if g.Empty() {
		delete(r.groups, group)
	}
	r.log.Debug().Str("group", group).Str("conn_id", c.ID).Str("user", c.User).Msg("left group")
}

// Broadcast implements Broadcaster for the in-process registry.
func (r *Registry) Broadcast(_ context.Context, group string, frame *proto.Frame) {
	r.Deliver(group, frame)
}

// BroadcastWait implements Broadcaster for the in-process registry.
func (r *Registry) BroadcastWait(ctx context.Context, group string, frame *proto.Frame) error {
	_, err := r.DeliverWait(ctx, group, frame)
	return err
}

// DeliverWait hands the frame to every member present when it is called,
// blocking on full queues. The lock is held only while taking the snapshot.
// It returns how many members received the frame.
func (r *Registry) DeliverWait(ctx context.Context, group string, frame *proto.Frame) (int, error) {
	start := time.Now()

	r.mu.RLock()
	var members []*Conn
	if g, ok := r.groups[group]; ok {
		members = g.Accepting(frame.Type)
	}
	r.mu.RUnlock()

	delivered, dropped := 0, 0
	for _, c := range members {
		err := c.SendContext(ctx, frame)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, ErrConnClosed):
			dropped++
		default:
			r.metrics.broadcast(frame.Type, delivered, dropped, time.Since(start))
			return delivered, err
		}
	}
	r.metrics.broadcast(frame.Type, delivered, dropped, time.Since(start))
	return delivered, nil
}

// Deliver offers the frame to every current member of the group and returns
// how many members accepted it.
func (r *Registry) Deliver(group string, frame *proto.Frame) int {
	start := time.Now()

	r.mu.RLock()
	g, ok := r.groups[group]
	var delivered, dropped int
	if ok {
		delivered, dropped = g.Broadcast(frame)
	}
	r.mu.RUnlock()

	if dropped > 0 {
		r.log.Warn().
			Str("group", group).
			Str("type", frame.Type).
			Int("dropped", dropped).
			Msg("broadcast dropped for slow or closed members")
	}
	r.metrics.broadcast(frame.Type, delivered, dropped, time.Since(start))
	return delivered
}

// Members returns the connection ids currently in the group.
func (r *Registry) Members(group string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.groups[group]
	if !ok {
		return nil
	}
	ids := lo.MapToSlice(g.members, func(c *Conn, _ struct{}) string { return c.ID })
	sort.Strings(ids)
	return ids
}

// Groups returns the names of all non-empty groups.
func (r *Registry) Groups() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := lo.Keys(r.groups)
	sort.Strings(names)
	return names
}

var _ Broadcaster = (*Registry)(nil)
