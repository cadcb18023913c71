package relay

import (
	"context"

	"github.com/vovakirdan/flopchat-server/internal/core"
	"github.com/vovakirdan/flopchat-server/internal/proto"
)

// signalHandler relays WebRTC negotiation payloads to everyone in the call
// room, the sender included. Payloads are opaque and forwarded verbatim.
type signalHandler struct {
	router *Router
}

func (h *signalHandler) Channel() string { return ChannelSignal }

func (h *signalHandler) Groups(_, room string) []string {
	return []string{core.RoomGroup(room)}
}

func (h *signalHandler) Accepts(frameType string) bool {
	switch frameType {
	case proto.TypeSignal, proto.TypeICECandidate, proto.TypeOffer, proto.TypeAnswer:
		return true
	}
	return false
}

func (h *signalHandler) Handle(ctx context.Context, p Peer, f *proto.Frame) error {
	var out *proto.Frame
	switch f.Type {
	case proto.TypeSignal:
		if err := validateRequest(f.Type, relayRequest{Payload: f.Signal}); err != nil {
			return err
		}
		out = relayFrame(f.Type, p.Identity(), f.Signal, nil, nil)
	case proto.TypeICECandidate:
		if err := validateRequest(f.Type, relayRequest{Payload: f.Candidate}); err != nil {
			return err
		}
		out = relayFrame(f.Type, "", nil, f.Candidate, nil)
	case proto.TypeOffer, proto.TypeAnswer:
		if err := validateRequest(f.Type, relayRequest{Payload: f.SDP}); err != nil {
			return err
		}
		out = relayFrame(f.Type, p.Identity(), nil, nil, f.SDP)
	default:
		return core.NewError(core.ErrCodeUnknownType, "unknown frame type "+f.Type, core.ErrUnknownType)
	}
	h.router.bus.Broadcast(ctx, core.RoomGroup(p.Room()), out)
	return nil
}
