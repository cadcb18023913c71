// Package session drives one client connection through its lifecycle:
// authenticate, join groups, dispatch frames, and leave every group on close.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/flopchat-server/internal/auth"
	"github.com/vovakirdan/flopchat-server/internal/core"
	"github.com/vovakirdan/flopchat-server/internal/proto"
	"github.com/vovakirdan/flopchat-server/internal/relay"
)

// State is the lifecycle position of a session.
type State int32

const (
	StateConnecting State = iota
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	// ErrRejected is returned by Open when the credential does not resolve to a user.
	ErrRejected = errors.New("session rejected")
	// ErrNotJoined is returned by Dispatch outside the joined state.
	ErrNotJoined = errors.New("session not joined")
)

// Membership is the part of the registry a session needs.
type Membership interface {
	Join(group string, c *core.Conn)
	LeaveAll(c *core.Conn) []string
}

// Options configures a session.
type Options struct {
	ID         string
	Room       string
	SendBuffer int
	Handler    relay.Handler
	Validator  auth.Validator
	Registry   Membership
	Logger     *zerolog.Logger
	Metrics    *core.Metrics

	// QuietErrors logs rejected frames without answering them.
	QuietErrors bool
}

// Session binds one transport connection to a channel handler.
type Session struct {
	opts     Options
	state    atomic.Int32
	identity string
	conn     *core.Conn
	log      zerolog.Logger
}

// New creates a session in the connecting state.
func New(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Session{
		opts: opts,
		log: logger.With().
			Str("conn_id", opts.ID).
			Str("channel", opts.Handler.Channel()).
			Str("room", opts.Room).
			Logger(),
	}
}

// Open validates the token and joins the handler's groups. Anonymous
// sessions never join anything and end in StateClosed.
func (s *Session) Open(ctx context.Context, token string) error {
	if s.State() != StateConnecting {
		return fmt.Errorf("open: session is %s", s.State())
	}

	identity, err := s.opts.Validator.Validate(ctx, token)
	if err != nil {
		s.state.Store(int32(StateClosed))
		s.opts.Metrics.SessionRejected(s.opts.Handler.Channel())
		s.log.Debug().Err(err).Msg("rejecting anonymous session")
		return fmt.Errorf("%w: %w", ErrRejected, err)
	}

	s.identity = identity
	s.conn = core.NewConn(s.opts.ID, identity, s.opts.SendBuffer)
	s.conn.Accept = s.opts.Handler.Accepts
	s.log = s.log.With().Str("user", identity).Logger()

	for _, group := range s.opts.Handler.Groups(identity, s.opts.Room) {
		s.opts.Registry.Join(group, s.conn)
	}
	s.state.Store(int32(StateJoined))
	s.opts.Metrics.SessionOpened(s.opts.Handler.Channel())
	s.log.Info().Msg("session joined")
	return nil
}

// Dispatch handles one inbound frame. Undecodable frames are dropped
// silently; frames the handler rejects are answered with an error frame
// unless QuietErrors is set. Neither ends the session.
func (s *Session) Dispatch(ctx context.Context, raw []byte) error {
	if s.State() != StateJoined {
		return ErrNotJoined
	}

	f, err := proto.Decode(raw)
	if err != nil {
		s.opts.Metrics.FrameRejected(core.ErrCodeInvalidFrame)
		s.log.Warn().Err(err).Int("bytes", len(raw)).Msg("dropping malformed frame")
		return nil
	}
	s.opts.Metrics.FrameReceived(f.Type)

	if err := s.handle(ctx, f); err != nil {
		code := core.Code(err)
		s.opts.Metrics.FrameRejected(code)

		msg := err.Error()
		if code == core.ErrCodeInternalError {
			s.log.Error().Err(err).Str("type", f.Type).Msg("frame handler failed")
			msg = "internal error"
		} else {
			s.log.Debug().Err(err).Str("type", f.Type).Str("code", code).Msg("frame rejected")
		}
		if !s.opts.QuietErrors {
			s.Emit(relay.ErrorFrame(code, msg))
		}
	}
	return nil
}

func (s *Session) handle(ctx context.Context, f *proto.Frame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = core.NewError(core.ErrCodeInternalError, "internal error", fmt.Errorf("panic handling %s: %v", f.Type, r))
		}
	}()
	return s.opts.Handler.Handle(ctx, s, f)
}

// Close leaves every group and stops outbound delivery. Safe to call more
// than once and from any state.
func (s *Session) Close() {
	prev := State(s.state.Swap(int32(StateClosed)))
	if prev != StateJoined {
		return
	}
	left := s.opts.Registry.LeaveAll(s.conn)
	s.conn.Close()
	s.opts.Metrics.SessionClosed(s.opts.Handler.Channel())
	s.log.Info().Strs("groups", left).Msg("session closed")
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Outbound is drained by the transport write loop. Nil before Open succeeds.
func (s *Session) Outbound() <-chan *proto.Frame {
	if s.conn == nil {
		return nil
	}
	return s.conn.Events
}

// Identity implements relay.Peer.
func (s *Session) Identity() string { return s.identity }

// Room implements relay.Peer.
func (s *Session) Room() string { return s.opts.Room }

// Emit implements relay.Peer.
func (s *Session) Emit(f *proto.Frame) bool {
	if s.conn == nil {
		return false
	}
	return s.conn.Send(f)
}

// EmitWait implements relay.Peer.
func (s *Session) EmitWait(ctx context.Context, f *proto.Frame) error {
	if s.conn == nil {
		return core.ErrConnClosed
	}
	return s.conn.SendContext(ctx, f)
}

var _ relay.Peer = (*Session)(nil)
