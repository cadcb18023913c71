package core

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/flopchat-server/internal/proto"
)

func TestRegistryJoinBroadcastAndLeave(t *testing.T) {
	reg := NewRegistry(nil, NewMetrics(prometheus.NewRegistry()))

	alice := NewConn("a", "alice", 4)
	bob := NewConn("b", "bob", 4)

	reg.Join(RoomGroup("r1"), alice)
	reg.Join(RoomGroup("r1"), bob)

	reg.Broadcast(context.Background(), RoomGroup("r1"), &proto.Frame{Type: proto.TypeChatMessage, Message: "hi"})

	got := mustFrame(t, bob.Events, proto.TypeChatMessage)
	if got.Message != "hi" {
		t.Fatalf("unexpected frame: %+v", got)
	}
	mustFrame(t, alice.Events, proto.TypeChatMessage)

	reg.Leave(RoomGroup("r1"), alice)
	reg.Broadcast(context.Background(), RoomGroup("r1"), &proto.Frame{Type: proto.TypeChatMessage, Message: "bye"})

	mustFrame(t, bob.Events, proto.TypeChatMessage)
	mustNoFrame(t, alice.Events)
}

func TestRegistryJoinIsIdempotent(t *testing.T) {
	reg := NewRegistry(nil, nil)
	c := NewConn("a", "alice", 4)

	reg.Join("g", c)
	reg.Join("g", c)

	require.Equal(t, []string{"a"}, reg.Members("g"))
	require.Equal(t, 1, reg.Deliver("g", &proto.Frame{Type: "x"}))
}

func TestRegistryLeaveUnknownIsNoop(t *testing.T) {
	reg := NewRegistry(nil, nil)
	c := NewConn("a", "alice", 4)

	reg.Leave("ghost", c)
	reg.Join("g", c)
	reg.Leave("other", c)

	require.Equal(t, []string{"g"}, reg.Groups())
}

func TestRegistryLeaveAllDropsEmptyGroups(t *testing.T) {
	reg := NewRegistry(nil, nil)
	c := NewConn("a", "alice", 4)
	other := NewConn("b", "bob", 4)

	reg.Join(RoomGroup("r1"), c)
	reg.Join(UserGroup("alice"), c)
	reg.Join(RoomGroup("r1"), other)

	left := reg.LeaveAll(c)
	require.Equal(t, []string{"chat_r1", "user_alice"}, left)
	require.Equal(t, []string{"chat_r1"}, reg.Groups())
	require.Empty(t, reg.LeaveAll(c))
}

func TestRegistrySlowMemberDoesNotBlockOthers(t *testing.T) {
	reg := NewRegistry(nil, nil)
	slow := NewConn("slow", "slow", 1)
	fast := NewConn("fast", "fast", 8)

	reg.Join("g", slow)
	reg.Join("g", fast)

	for i := range 5 {
		reg.Deliver("g", &proto.Frame{Type: "n", ID: int64(i)})
	}

	require.Len(t, fast.Events, 5)
	require.Len(t, slow.Events, 1)
}

func TestRegistryClosedMemberIsSkipped(t *testing.T) {
	reg := NewRegistry(nil, nil)
	gone := NewConn("gone", "gone", 4)
	live := NewConn("live", "live", 4)

	reg.Join("g", gone)
	reg.Join("g", live)
	gone.Close()

	require.Equal(t, 1, reg.Deliver("g", &proto.Frame{Type: "n"}))
	require.Empty(t, gone.Events)
}

func TestRegistryPreservesPerSenderOrder(t *testing.T) {
	reg := NewRegistry(nil, nil)
	receiver := NewConn("r", "r", 256)
	reg.Join("g", receiver)

	var wg sync.WaitGroup
	for s := range 4 {
		wg.Add(1)
		go func(sender string) {
			defer wg.Done()
			for i := range 50 {
				reg.Deliver("g", &proto.Frame{Type: "n", Sender: sender, ID: int64(i)})
			}
		}(fmt.Sprintf("s%d", s))
	}
	wg.Wait()

	last := map[string]int64{}
	for range 200 {
		f := <-receiver.Events
		prev, seen := last[f.Sender]
		if seen {
			require.Greater(t, f.ID, prev, "sender %s reordered", f.Sender)
		}
		last[f.Sender] = f.ID
	}
}

func TestRegistryConcurrentJoinLeaveBroadcast(t *testing.T) {
	reg := NewRegistry(nil, nil)

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := NewConn(fmt.Sprintf("c%d", i), "u", 4)
			for range 100 {
				reg.Join("g", c)
				reg.Deliver("g", &proto.Frame{Type: "n"})
				reg.Leave("g", c)
			}
		}(i)
	}
	wg.Wait()

	require.Empty(t, reg.Groups())
}

func TestBroadcastHonoursAcceptFilter(t *testing.T) {
	r := NewRegistry(nil, nil)
	chat := NewConn("chat", "alice", 4)
	chat.Accept = func(frameType string) bool { return frameType == proto.TypeChatMessage }
	call := NewConn("call", "bob", 4)
	call.Accept = func(frameType string) bool { return frameType == proto.TypeOffer }

	r.Join(RoomGroup("r1"), chat)
	r.Join(RoomGroup("r1"), call)

	require.Equal(t, 1, r.Deliver(RoomGroup("r1"), &proto.Frame{Type: proto.TypeOffer}))
	mustFrame(t, call.Events, proto.TypeOffer)
	mustNoFrame(t, chat.Events)

	require.True(t, chat.Send(&proto.Frame{Type: proto.TypeError}))
	mustFrame(t, chat.Events, proto.TypeError)
}

func TestDeliverWaitBlocksUntilQueueDrains(t *testing.T) {
	reg := NewRegistry(nil, nil)
	c := NewConn("a", "alice", 1)
	reg.Join(UserGroup("alice"), c)

	const total = 50
	var (
		wg  sync.WaitGroup
		got []int64
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for len(got) < total {
			got = append(got, (<-c.Events).ID)
		}
	}()

	for i := range total {
		n, err := reg.DeliverWait(context.Background(), UserGroup("alice"), &proto.Frame{Type: proto.TypeNotification, ID: int64(i)})
		require.NoError(t, err)
		require.Equal(t, 1, n)
	}
	wg.Wait()

	require.Len(t, got, total)
	for i, id := range got {
		require.EqualValues(t, i, id)
	}
}

func TestDeliverWaitSkipsClosedMembers(t *testing.T) {
	reg := NewRegistry(nil, nil)
	gone := NewConn("gone", "alice", 1)
	live := NewConn("live", "alice", 1)
	reg.Join(UserGroup("alice"), gone)
	reg.Join(UserGroup("alice"), live)

	// Fill the queue so only Close can release the waiter.
	require.True(t, gone.Send(&proto.Frame{Type: "fill"}))
	gone.Close()

	n, err := reg.DeliverWait(context.Background(), UserGroup("alice"), &proto.Frame{Type: proto.TypeNotification})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	mustFrame(t, live.Events, proto.TypeNotification)
}

func TestDeliverWaitHonoursContext(t *testing.T) {
	reg := NewRegistry(nil, nil)
	c := NewConn("a", "alice", 1)
	reg.Join(UserGroup("alice"), c)
	require.True(t, c.Send(&proto.Frame{Type: "fill"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := reg.DeliverWait(ctx, UserGroup("alice"), &proto.Frame{Type: proto.TypeNotification})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSendContextUnblocksOnClose(t *testing.T) {
	c := NewConn("a", "alice", 1)
	require.True(t, c.Send(&proto.Frame{Type: "fill"}))

	errCh := make(chan error, 1)
	go func() { errCh <- c.SendContext(context.Background(), &proto.Frame{Type: "next"}) }()

	c.Close()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrConnClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("SendContext still blocked after Close")
	}
}
