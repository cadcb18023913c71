package relay

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/flopchat-server/internal/core"
	"github.com/vovakirdan/flopchat-server/internal/proto"
	"github.com/vovakirdan/flopchat-server/internal/store/sqlite"
)

type fakePeer struct {
	identity string
	room     string

	mu     sync.Mutex
	frames []*proto.Frame
}

func (p *fakePeer) Identity() string { return p.identity }
func (p *fakePeer) Room() string     { return p.room }

func (p *fakePeer) Emit(f *proto.Frame) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, f)
	return true
}

func (p *fakePeer) EmitWait(_ context.Context, f *proto.Frame) error {
	p.Emit(f)
	return nil
}

// connPeer is a Peer backed by a real bounded connection queue.
type connPeer struct {
	conn *core.Conn
	room string
}

func (p *connPeer) Identity() string         { return p.conn.User }
func (p *connPeer) Room() string             { return p.room }
func (p *connPeer) Emit(f *proto.Frame) bool { return p.conn.Send(f) }
func (p *connPeer) EmitWait(ctx context.Context, f *proto.Frame) error {
	return p.conn.SendContext(ctx, f)
}

// collect reads n frames from ch in the background and returns them on the
// result channel, or whatever arrived within timeout.
func collect(ch <-chan *proto.Frame, n int, timeout time.Duration) <-chan []*proto.Frame {
	out := make(chan []*proto.Frame, 1)
	go func() {
		var got []*proto.Frame
		deadline := time.After(timeout)
		for len(got) < n {
			select {
			case f := <-ch:
				got = append(got, f)
			case <-deadline:
				out <- got
				return
			}
		}
		out <- got
	}()
	return out
}

func (p *fakePeer) emitted() []*proto.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*proto.Frame(nil), p.frames...)
}

type testEnv struct {
	reg    *core.Registry
	store  *sqlite.SQLiteStore
	router *Router
	seq    int
}

func newTestEnv(t *testing.T, users ...string) *testEnv {
	t.Helper()

	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	for _, u := range users {
		_, err := st.CreateUser(context.Background(), u, "/media/avatars/"+u+".png")
		require.NoError(t, err)
	}

	reg := core.NewRegistry(nil, nil)
	return &testEnv{
		reg:    reg,
		store:  st,
		router: NewRouter(st, reg, nil, nil, nil),
	}
}

// member joins a fresh connection for user to group.
func (e *testEnv) member(t *testing.T, group, user string) *core.Conn {
	t.Helper()
	e.seq++
	c := core.NewConn(fmt.Sprintf("%s-%d", user, e.seq), user, 1024)
	e.reg.Join(group, c)
	t.Cleanup(func() {
		e.reg.LeaveAll(c)
		c.Close()
	})
	return c
}

func mustFrame(t *testing.T, ch <-chan *proto.Frame, frameType string) *proto.Frame {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case f := <-ch:
			if f != nil && f.Type == frameType {
				return f
			}
		case <-deadline:
			t.Fatalf("expected frame type %q not received", frameType)
			return nil
		}
	}
}

func mustNoFrame(t *testing.T, ch <-chan *proto.Frame) {
	t.Helper()

	select {
	case f := <-ch:
		t.Fatalf("unexpected frame: %+v", f)
	case <-time.After(50 * time.Millisecond):
	}
}

// drain returns every frame already queued on ch.
func drain(ch <-chan *proto.Frame) []*proto.Frame {
	var out []*proto.Frame
	for {
		select {
		case f := <-ch:
			out = append(out, f)
		default:
			return out
		}
	}
}
