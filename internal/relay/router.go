// Package relay maps inbound frames to the store calls and group broadcasts
// they trigger.
package relay

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/flopchat-server/internal/core"
	"github.com/vovakirdan/flopchat-server/internal/proto"
	"github.com/vovakirdan/flopchat-server/internal/store"
)

// Channel names the endpoint family a session was opened on.
const (
	ChannelChat         = "chat"
	ChannelNotification = "notification"
	ChannelSignal       = "signal"
)

// Peer is the connection a frame arrived on.
type Peer interface {
	Identity() string
	Room() string
	// Emit sends a frame to this connection only, dropping it when the
	// outbound queue is full.
	Emit(f *proto.Frame) bool
	// EmitWait is Emit that waits for queue space.
	EmitWait(ctx context.Context, f *proto.Frame) error
}

// Handler processes inbound frames for one channel.
type Handler interface {
	Channel() string
	// Groups lists the topics a joined session subscribes to.
	Groups(identity, room string) []string
	// Accepts reports whether a group frame of this type is emitted to the
	// session's transport. Chat and call sessions share room topics.
	Accepts(frameType string) bool
	Handle(ctx context.Context, p Peer, f *proto.Frame) error
}

// Router owns the dependencies shared by all channel handlers.
type Router struct {
	store    store.Store
	bus      core.Broadcaster
	notifier *Notifier
	log      *zerolog.Logger
}

// NewRouter wires the handlers. locker may be nil for a single process.
func NewRouter(st store.Store, bus core.Broadcaster, locker Locker, logger *zerolog.Logger, metrics *core.Metrics) *Router {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if locker == nil {
		locker = NewKeyedMutex()
	}
	return &Router{
		store:    st,
		bus:      bus,
		notifier: NewNotifier(st, bus, locker, logger, metrics),
		log:      logger,
	}
}

// Notifier exposes the notification fan-out.
func (r *Router) Notifier() *Notifier {
	return r.notifier
}

// Handler returns the handler for a channel, or nil if unknown.
func (r *Router) Handler(channel string) Handler {
	switch channel {
	case ChannelChat:
		return &chatHandler{router: r}
	case ChannelNotification:
		return &notificationHandler{router: r}
	case ChannelSignal:
		return &signalHandler{router: r}
	default:
		return nil
	}
}

func (r *Router) resolveUser(ctx context.Context, username string) (*store.User, error) {
	u, err := r.store.GetUserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, core.NewError(core.ErrCodeUnknownUser, "unknown user "+username, core.ErrUnknownUser)
	}
	if err != nil {
		return nil, core.NewError(core.ErrCodeStoreFailure, "user lookup failed", err)
	}
	return u, nil
}
