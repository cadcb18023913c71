package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vovakirdan/flopchat-server/internal/core"
	"github.com/vovakirdan/flopchat-server/internal/proto"
	"github.com/vovakirdan/flopchat-server/internal/store"
)

type chatHandler struct {
	router *Router
}

func (h *chatHandler) Channel() string { return ChannelChat }

func (h *chatHandler) Groups(_, room string) []string {
	return []string{core.RoomGroup(room)}
}

func (h *chatHandler) Accepts(frameType string) bool {
	return frameType == proto.TypeChatMessage
}

func (h *chatHandler) Handle(ctx context.Context, p Peer, f *proto.Frame) error {
	switch f.Type {
	case proto.TypeGetUsers:
		return h.history(ctx, p, f)
	case proto.TypeChatMessage:
		return h.send(ctx, p, f)
	case proto.TypeMarkAsRead:
		return h.markRead(ctx, p, f)
	default:
		return core.NewError(core.ErrCodeUnknownType, "unknown frame type "+f.Type, core.ErrUnknownType)
	}
}

// history replays the conversation to the requesting connection only, one
// frame per message in timestamp order. Replay waits on a full send queue
// instead of truncating.
func (h *chatHandler) history(ctx context.Context, p Peer, f *proto.Frame) error {
	req := conversationFrom(f)
	if err := validateRequest(f.Type, req); err != nil {
		return err
	}
	if err := requireParticipant(p, req.Sender, req.Recipient); err != nil {
		return err
	}
	a, err := h.router.resolveUser(ctx, req.Sender)
	if err != nil {
		return err
	}
	b, err := h.router.resolveUser(ctx, req.Recipient)
	if err != nil {
		return err
	}

	messages, err := h.router.store.History(ctx, a.Username, b.Username)
	if err != nil {
		return core.NewError(core.ErrCodeStoreFailure, "history lookup failed", err)
	}
	avatars := map[string]string{a.Username: a.Avatar, b.Username: b.Avatar}
	for _, frame := range historyFrames(messages, avatars) {
		if err := p.EmitWait(ctx, frame); err != nil {
			if errors.Is(err, core.ErrConnClosed) {
				h.router.log.Debug().Str("user", p.Identity()).Msg("history replay stopped: connection closed")
				return nil
			}
			return fmt.Errorf("history replay: %w", err)
		}
	}
	return nil
}

// send broadcasts to the room first and persists afterwards. A store failure
// leaves the broadcast in place and is reported to the sender.
func (h *chatHandler) send(ctx context.Context, p Peer, f *proto.Frame) error {
	req := chatMessageFrom(f)
	if err := validateRequest(f.Type, req); err != nil {
		return err
	}
	if req.Sender != p.Identity() {
		return core.NewError(core.ErrCodeForbidden, "sender does not match session user", core.ErrForbidden)
	}
	sender, err := h.router.resolveUser(ctx, req.Sender)
	if err != nil {
		return err
	}
	recipient, err := h.router.resolveUser(ctx, req.Recipient)
	if err != nil {
		return err
	}

	pending := &store.Message{
		Sender:    sender.Username,
		Receiver:  recipient.Username,
		Content:   req.Message,
		Timestamp: time.Now(),
	}
	h.router.bus.Broadcast(ctx, core.RoomGroup(p.Room()), messageFrame(proto.TypeChatMessage, pending, sender.Avatar))

	msg, err := h.router.store.CreateMessage(ctx, sender.Username, recipient.Username, req.Message)
	if err != nil {
		return core.NewError(core.ErrCodeStoreFailure, "message was delivered but not saved", err)
	}

	if _, err := h.router.notifier.Push(ctx, msg, sender.Avatar); err != nil {
		h.router.log.Error().Err(err).
			Int64("message_id", msg.ID).
			Str("recipient", msg.Receiver).
			Msg("push notification failed")
	}
	return nil
}

func (h *chatHandler) markRead(ctx context.Context, p Peer, f *proto.Frame) error {
	req := conversationFrom(f)
	if err := validateRequest(f.Type, req); err != nil {
		return err
	}
	if err := requireParticipant(p, req.Sender, req.Recipient); err != nil {
		return err
	}
	if _, err := h.router.resolveUser(ctx, req.Sender); err != nil {
		return err
	}
	if _, err := h.router.resolveUser(ctx, req.Recipient); err != nil {
		return err
	}
	n, err := h.router.store.MarkRead(ctx, req.Sender, req.Recipient)
	if err != nil {
		return core.NewError(core.ErrCodeStoreFailure, "mark as read failed", err)
	}
	p.Emit(&proto.Frame{
		Type:      proto.TypeReadReceipt,
		Sender:    req.Sender,
		Recipient: req.Recipient,
		Count:     &n,
	})
	return nil
}

func requireParticipant(p Peer, a, b string) error {
	if id := p.Identity(); id != a && id != b {
		return core.NewError(core.ErrCodeForbidden, "session user is not part of this conversation", core.ErrForbidden)
	}
	return nil
}
