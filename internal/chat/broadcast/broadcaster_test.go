package broadcast

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderchat.com/internal/chat/domain"
	"orderchat.com/internal/chat/registry"
	"orderchat.com/internal/chat/repo/memory"
	"orderchat.com/pkg/xerr"
)

type fakeSub struct {
	id     string
	ch     chan []byte
	kicked atomic.Value
}

func newFakeSub(id string, buf int) *fakeSub {
	return &fakeSub{id: id, ch: make(chan []byte, buf)}
}

func (f *fakeSub) ID() string { return f.id }

func (f *fakeSub) Deliver(p []byte) bool {
	select {
	case f.ch <- p:
		return true
	default:
		return false
	}
}

func (f *fakeSub) Kick(reason string) { f.kicked.Store(reason) }

func (f *fakeSub) next(t *testing.T) Frame {
	t.Helper()
	select {
	case b := <-f.ch:
		var fr struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		require.NoError(t, json.Unmarshal(b, &fr))
		var data any
		require.NoError(t, json.Unmarshal(fr.Data, &data))
		return Frame{Event: fr.Event, Data: data}
	case <-time.After(time.Second):
		t.Fatal("no frame delivered")
		return Frame{}
	}
}

func (f *fakeSub) assertEmpty(t *testing.T) {
	t.Helper()
	select {
	case b := <-f.ch:
		t.Fatalf("unexpected frame %s", b)
	case <-time.After(20 * time.Millisecond):
	}
}

func newRooms() *registry.Registry { return registry.New(nil, nil) }

func TestJoin_AcksThenReceivesMessages(t *testing.T) {
	ctx := context.Background()
	b := New(newRooms())
	sub := newFakeSub("a", 8)

	require.NoError(t, b.Join(sub, 5))
	ack := sub.next(t)
	assert.Equal(t, EventJoinedRoom, ack.Event)
	assert.Equal(t, map[string]any{"orderId": float64(5)}, ack.Data)

	b.Publish(ctx, 5, domain.Message{ID: 1, ChannelID: 9, SenderID: 1, Content: "hello"})
	fr := sub.next(t)
	assert.Equal(t, EventNewMessage, fr.Event)
	data := fr.Data.(map[string]any)
	assert.Equal(t, "hello", data["content"])
	assert.Equal(t, float64(1), data["senderId"])
	assert.Equal(t, float64(9), data["channelId"])
	sub.assertEmpty(t)
}

func TestJoin_InvalidOrderID(t *testing.T) {
	b := New(newRooms())
	sub := newFakeSub("a", 1)

	for _, id := range []int64{0, -3} {
		err := b.Join(sub, id)
		assert.ErrorIs(t, err, ErrInvalidOrderID)
		assert.Equal(t, xerr.RequestParamsError, xerr.CodeOf(err))
	}
	sub.assertEmpty(t)
}

func TestPublish_OnlyReachesTheRoom(t *testing.T) {
	ctx := context.Background()
	b := New(newRooms())
	in, out := newFakeSub("in", 8), newFakeSub("out", 8)
	require.NoError(t, b.Join(in, 1))
	require.NoError(t, b.Join(out, 2))
	in.next(t)
	out.next(t)

	b.Publish(ctx, 1, domain.Message{ID: 1, Content: "x"})
	assert.Equal(t, EventNewMessage, in.next(t).Event)
	out.assertEmpty(t)
}

func TestLeave_StopsDelivery(t *testing.T) {
	ctx := context.Background()
	b := New(newRooms())
	sub := newFakeSub("a", 8)
	require.NoError(t, b.Join(sub, 1))
	sub.next(t)

	b.Leave("a", 1)
	b.Leave("a", 1)
	b.Publish(ctx, 1, domain.Message{ID: 1, Content: "x"})
	sub.assertEmpty(t)
}

func TestPublish_SlowSubscriberIsKicked(t *testing.T) {
	ctx := context.Background()
	rooms := newRooms()
	b := New(rooms)
	fast := newFakeSub("fast", 16)
	slow := newFakeSub("slow", 1)
	require.NoError(t, b.Join(fast, 1))
	require.NoError(t, b.Join(slow, 1)) // ack fills the only slot

	b.Publish(ctx, 1, domain.Message{ID: 1, Content: "x"})

	assert.Equal(t, KickSlowConsumer, slow.kicked.Load())
	assert.False(t, rooms.IsSubscribed("slow", 1))
	assert.True(t, rooms.IsSubscribed("fast", 1))
	fast.next(t)
	assert.Equal(t, EventNewMessage, fast.next(t).Event)
}

func TestPublish_PreservesOrder(t *testing.T) {
	ctx := context.Background()
	b := New(newRooms())
	sub := newFakeSub("a", 128)
	require.NoError(t, b.Join(sub, 1))
	sub.next(t)

	for i := 1; i <= 100; i++ {
		b.Publish(ctx, 1, domain.Message{ID: int64(i), Content: "m"})
	}
	for i := 1; i <= 100; i++ {
		fr := sub.next(t)
		assert.Equal(t, float64(i), fr.Data.(map[string]any)["id"])
	}
}

func TestPublishClosed(t *testing.T) {
	b := New(newRooms())
	sub := newFakeSub("a", 4)
	require.NoError(t, b.Join(sub, 3))
	sub.next(t)

	b.PublishClosed(context.Background(), domain.Channel{ID: 7, OrderID: 3, Closed: true, Summary: "resolved"})
	fr := sub.next(t)
	assert.Equal(t, EventChatClosed, fr.Event)
	assert.Equal(t, map[string]any{"orderId": float64(3), "summary": "resolved"}, fr.Data)
}

func TestRelay_TwoNodes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	broker := NewMemBroker()

	nodeA := New(newRooms(), WithRelay(broker), WithNodeID("a"))
	nodeB := New(newRooms(), WithRelay(broker), WithNodeID("b"))

	var closedOn atomic.Int64
	require.NoError(t, nodeA.RunRelay(ctx, nil))
	require.NoError(t, nodeB.RunRelay(ctx, func(_ context.Context, orderID int64, summary string) {
		closedOn.Store(orderID)
	}))

	local := newFakeSub("local", 8)
	remote := newFakeSub("remote", 8)
	require.NoError(t, nodeA.Join(local, 5))
	require.NoError(t, nodeB.Join(remote, 5))
	local.next(t)
	remote.next(t)

	nodeA.Publish(ctx, 5, domain.Message{ID: 1, Content: "across"})

	assert.Equal(t, "across", local.next(t).Data.(map[string]any)["content"])
	assert.Equal(t, "across", remote.next(t).Data.(map[string]any)["content"])
	// 自己发的不会被 relay 回来再投递一次
	local.assertEmpty(t)

	nodeA.PublishClosed(ctx, domain.Channel{ID: 1, OrderID: 5, Closed: true})
	assert.Equal(t, EventChatClosed, remote.next(t).Event)
	assert.Equal(t, int64(5), closedOn.Load())
}

func TestHandleRemote_IgnoresGarbage(t *testing.T) {
	b := New(newRooms(), WithNodeID("me"))
	sub := newFakeSub("a", 4)
	require.NoError(t, b.Join(sub, 1))
	sub.next(t)

	ctx := context.Background()
	b.handleRemote(ctx, []byte("{"), nil)
	b.handleRemote(ctx, []byte(`{"origin":"me","type":"message","orderId":1,"payload":{}}`), nil)
	b.handleRemote(ctx, []byte(`{"origin":"x","type":"bogus","orderId":1,"payload":{}}`), nil)
	sub.assertEmpty(t)
}

func TestHandleRemote_KeepsMessageIDOrder(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	o, _, err := st.CreateOrder(ctx, 1, "")
	require.NoError(t, err)
	rooms := registry.New(st, nil)
	_, err = rooms.Get(ctx, o.ID)
	require.NoError(t, err)

	b := New(rooms, WithNodeID("me"))
	sub := newFakeSub("a", 8)
	require.NoError(t, b.Join(sub, o.ID))
	sub.next(t)

	b.Publish(ctx, o.ID, domain.Message{ID: 5, Content: "local"})
	assert.Equal(t, "local", sub.next(t).Data.(map[string]any)["content"])

	relayed := func(id int64, content string) []byte {
		payload, err := EncodeMessage(domain.Message{ID: id, Content: content})
		require.NoError(t, err)
		raw, err := json.Marshal(Envelope{Origin: "peer", Type: EnvelopeMessage, OrderID: o.ID, MessageID: id, Payload: payload})
		require.NoError(t, err)
		return raw
	}

	// 比本地已推送的更旧，不能插到后面
	b.handleRemote(ctx, relayed(3, "late"), nil)
	sub.assertEmpty(t)

	b.handleRemote(ctx, relayed(7, "newer"), nil)
	assert.Equal(t, "newer", sub.next(t).Data.(map[string]any)["content"])

	b.handleRemote(ctx, relayed(7, "dup"), nil)
	sub.assertEmpty(t)
}

func TestMemBroker_UnsubscribesOnCancel(t *testing.T) {
	b := NewMemBroker()
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := b.Subscribe(ctx, []string{"t"})
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), "t", []byte("1")))
	assert.Equal(t, []byte("1"), (<-ch).Payload)

	cancel()
	for range ch {
	}
	// 取消后发布不会 panic
	assert.NoError(t, b.Publish(context.Background(), "t", []byte("2")))
}

func TestTopicSubjectMapping(t *testing.T) {
	assert.Equal(t, "chat.relay", topicToSubject(RelayTopic))
	assert.Equal(t, RelayTopic, subjectToTopic("chat.relay"))
}
