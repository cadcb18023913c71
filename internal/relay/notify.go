package relay

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/flopchat-server/internal/core"
	"github.com/vovakirdan/flopchat-server/internal/proto"
	"github.com/vovakirdan/flopchat-server/internal/store"
)

// Notification delivery paths.
const (
	PathPush  = "push"
	PathSweep = "sweep"
)

// Notifier delivers "new message" notifications to user_<recipient> groups.
// Every delivery runs under the recipient's lock: check the flag, broadcast,
// then set the flag. A message is therefore notified at most once even when
// the push and sweep paths race.
type Notifier struct {
	store   store.Store
	bus     core.Broadcaster
	locker  Locker
	log     *zerolog.Logger
	metrics *core.Metrics
}

func NewNotifier(st store.Store, bus core.Broadcaster, locker Locker, logger *zerolog.Logger, metrics *core.Metrics) *Notifier {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Notifier{store: st, bus: bus, locker: locker, log: logger, metrics: metrics}
}

// Push notifies the recipient of msg if it is still the newest message of
// the pair and nobody notified it yet. It reports whether a frame was sent.
func (n *Notifier) Push(ctx context.Context, msg *store.Message, avatar string) (bool, error) {
	unlock, err := n.locker.Lock(ctx, msg.Receiver)
	if err != nil {
		return false, fmt.Errorf("lock %s: %w", msg.Receiver, err)
	}
	defer unlock()

	latest, err := n.store.LatestBetween(ctx, msg.Sender, msg.Receiver)
	if err != nil {
		return false, core.NewError(core.ErrCodeStoreFailure, "latest message lookup failed", err)
	}
	if latest.ID != msg.ID || latest.NotificationSent {
		return false, nil
	}
	n.bus.Broadcast(ctx, core.UserGroup(latest.Receiver), messageFrame(proto.TypeNotification, latest, avatar))
	return true, n.markLocked(ctx, latest, PathPush)
}

// Sweep notifies username of every unread message that never produced a
// notification, oldest first. Each frame waits for queue space at the local
// members of the user group and is marked only once handed over. It returns
// how many frames were sent.
func (n *Notifier) Sweep(ctx context.Context, username string) (int, error) {
	unlock, err := n.locker.Lock(ctx, username)
	if err != nil {
		return 0, fmt.Errorf("lock %s: %w", username, err)
	}
	defer unlock()

	pending, err := n.store.UnreadUnnotified(ctx, username)
	if err != nil {
		return 0, core.NewError(core.ErrCodeStoreFailure, "pending notifications lookup failed", err)
	}

	avatars := make(map[string]string)
	sent := 0
	for _, msg := range pending {
		avatar, ok := avatars[msg.Sender]
		if !ok {
			if u, err := n.store.GetUserByUsername(ctx, msg.Sender); err == nil {
				avatar = u.Avatar
			}
			avatars[msg.Sender] = avatar
		}
		frame := messageFrame(proto.TypeNotification, msg, avatar)
		if err := n.bus.BroadcastWait(ctx, core.UserGroup(username), frame); err != nil {
			return sent, fmt.Errorf("sweep %s: %w", username, err)
		}
		if err := n.markLocked(ctx, msg, PathSweep); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

// markLocked sets the notified flag of a message whose frame was already
// handed to the registry.
func (n *Notifier) markLocked(ctx context.Context, msg *store.Message, path string) error {
	changed, err := n.store.MarkNotified(ctx, msg.ID)
	if err != nil {
		return core.NewError(core.ErrCodeStoreFailure, "mark notified failed", err)
	}
	if !changed {
		// Another process marked it between our read and write.
		n.log.Debug().Int64("message_id", msg.ID).Msg("notification already marked")
	}
	n.metrics.NotificationSent(path)
	n.log.Debug().
		Int64("message_id", msg.ID).
		Str("recipient", msg.Receiver).
		Str("path", path).
		Msg("notification sent")
	return nil
}

type notificationHandler struct {
	router *Router
}

func (h *notificationHandler) Channel() string { return ChannelNotification }

func (h *notificationHandler) Groups(identity, _ string) []string {
	return []string{core.UserGroup(identity)}
}

func (h *notificationHandler) Accepts(frameType string) bool {
	return frameType == proto.TypeNotification
}

// Handle treats any "notification" frame as a catch-up request for the
// session's own user.
func (h *notificationHandler) Handle(ctx context.Context, p Peer, f *proto.Frame) error {
	if f.Type != proto.TypeNotification {
		return core.NewError(core.ErrCodeUnknownType, "unknown frame type "+f.Type, core.ErrUnknownType)
	}
	_, err := h.router.notifier.Sweep(ctx, p.Identity())
	return err
}
