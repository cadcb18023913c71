package relay

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/flopchat-server/internal/core"
	"github.com/vovakirdan/flopchat-server/internal/proto"
)

func TestSignalRelaysVerbatimToRoom(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	caller := env.member(t, core.RoomGroup("call1"), "alice")
	callee := env.member(t, core.RoomGroup("call1"), "bob")
	elsewhere := env.member(t, core.RoomGroup("call2"), "carol")

	h := env.router.Handler(ChannelSignal)
	peer := &fakePeer{identity: "alice", room: "call1"}
	sdp := json.RawMessage(`{"type":"offer","sdp":"v=0\r\no=- 1 2 IN IP4 127.0.0.1"}`)

	require.NoError(t, h.Handle(ctx, peer, &proto.Frame{Type: proto.TypeOffer, SDP: sdp}))

	for _, c := range []*core.Conn{caller, callee} {
		f := mustFrame(t, c.Events, proto.TypeOffer)
		assert.JSONEq(t, string(sdp), string(f.SDP))
		assert.Equal(t, "alice", f.Sender)
	}
	mustNoFrame(t, elsewhere.Events)
}

func TestSignalFrameKinds(t *testing.T) {
	payload := json.RawMessage(`{"candidate":"candidate:1 1 UDP 2122252543 10.0.0.1 54400 typ host"}`)

	tests := []struct {
		name       string
		in         *proto.Frame
		wantSender string
		field      func(*proto.Frame) json.RawMessage
	}{
		{
			name:       "signal",
			in:         &proto.Frame{Type: proto.TypeSignal, Signal: payload},
			wantSender: "alice",
			field:      func(f *proto.Frame) json.RawMessage { return f.Signal },
		},
		{
			name:  "ice candidate",
			in:    &proto.Frame{Type: proto.TypeICECandidate, Candidate: payload},
			field: func(f *proto.Frame) json.RawMessage { return f.Candidate },
		},
		{
			name:       "answer",
			in:         &proto.Frame{Type: proto.TypeAnswer, SDP: payload},
			wantSender: "alice",
			field:      func(f *proto.Frame) json.RawMessage { return f.SDP },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			c := env.member(t, core.RoomGroup("call1"), "bob")

			err := env.router.Handler(ChannelSignal).Handle(context.Background(), &fakePeer{identity: "alice", room: "call1"}, tt.in)
			require.NoError(t, err)

			f := mustFrame(t, c.Events, tt.in.Type)
			assert.Equal(t, tt.wantSender, f.Sender)
			assert.JSONEq(t, string(payload), string(tt.field(f)))
		})
	}
}

func TestSignalRejectsMissingPayload(t *testing.T) {
	tests := []struct {
		name  string
		frame *proto.Frame
		code  string
	}{
		{"offer without sdp", &proto.Frame{Type: proto.TypeOffer}, core.ErrCodeBadRequest},
		{"null candidate", &proto.Frame{Type: proto.TypeICECandidate, Candidate: json.RawMessage("null")}, core.ErrCodeBadRequest},
		{"chat frame", &proto.Frame{Type: proto.TypeChatMessage, Message: "hi"}, core.ErrCodeUnknownType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			c := env.member(t, core.RoomGroup("call1"), "bob")

			err := env.router.Handler(ChannelSignal).Handle(context.Background(), &fakePeer{identity: "alice", room: "call1"}, tt.frame)
			require.Error(t, err)
			assert.Equal(t, tt.code, core.Code(err))
			mustNoFrame(t, c.Events)
		})
	}
}

func TestSignalAcceptsOnlySignalingFrames(t *testing.T) {
	h := (&Router{}).Handler(ChannelSignal)
	for _, typ := range []string{proto.TypeSignal, proto.TypeICECandidate, proto.TypeOffer, proto.TypeAnswer} {
		assert.True(t, h.Accepts(typ), typ)
	}
	assert.False(t, h.Accepts(proto.TypeChatMessage))
	assert.Nil(t, (&Router{}).Handler("video"))
}
