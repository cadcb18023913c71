package relay

import (
	"encoding/json"
	"fmt"

	"github.com/samber/lo"

	"github.com/vovakirdan/flopchat-server/internal/proto"
	"github.com/vovakirdan/flopchat-server/internal/store"
)

// messageFrame builds every message-derived outbound frame. frameType selects
// between the chat broadcast, history replay and notification variants.
// The live chat broadcast is built before persistence, so its ID is zero.
func messageFrame(frameType string, msg *store.Message, avatar string) *proto.Frame {
	f := &proto.Frame{
		Type:      frameType,
		ID:        msg.ID,
		Message:   msg.Content,
		Sender:    msg.Sender,
		Recipient: msg.Receiver,
		Avatar:    avatar,
	}
	if !msg.Timestamp.IsZero() {
		f.Timestamp = msg.Timestamp.Unix()
	}
	if frameType == proto.TypeNotification {
		f.Notification = fmt.Sprintf("New message from %s", msg.Sender)
	}
	return f
}

func historyFrames(messages []*store.Message, avatars map[string]string) []*proto.Frame {
	return lo.Map(messages, func(m *store.Message, _ int) *proto.Frame {
		return messageFrame(proto.TypeChatMessage, m, avatars[m.Sender])
	})
}

// relayFrame copies a signaling payload verbatim under the given type.
func relayFrame(frameType, sender string, signal, candidate, sdp json.RawMessage) *proto.Frame {
	return &proto.Frame{
		Type:      frameType,
		Sender:    sender,
		Signal:    signal,
		Candidate: candidate,
		SDP:       sdp,
	}
}

// ErrorFrame renders an error for the peer that sent the offending frame.
func ErrorFrame(code, msg string) *proto.Frame {
	return &proto.Frame{
		Type:  proto.TypeError,
		Error: &proto.Error{Code: code, Msg: msg},
	}
}
