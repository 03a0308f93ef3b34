package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderchat.com/internal/chat/domain"
	"orderchat.com/internal/chat/registry"
	"orderchat.com/internal/chat/repo/memory"
	"orderchat.com/pkg/xerr"
)

var (
	owner    = domain.Principal{ID: 1, Role: domain.RoleRegular}
	stranger = domain.Principal{ID: 2, Role: domain.RoleRegular}
	admin    = domain.Principal{ID: 100, Role: domain.RoleAdmin}
)

type spyStore struct {
	*memory.Store
	creates atomic.Int32
	failErr error
}

func (s *spyStore) CreateMessage(ctx context.Context, channelID, senderID int64, content string) (domain.Message, error) {
	s.creates.Add(1)
	if s.failErr != nil {
		return domain.Message{}, s.failErr
	}
	return s.Store.CreateMessage(ctx, channelID, senderID, content)
}

type fixture struct {
	p     *Pipeline
	store *spyStore
	order domain.Order
	ch    domain.Channel
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	st := &spyStore{Store: memory.New()}
	st.PutUser(owner.ID, "owner@example.com")
	o, ch, err := st.CreateOrder(context.Background(), owner.ID, "")
	require.NoError(t, err)
	reg := registry.New(st, nil)
	return &fixture{p: New(reg, st, opts...), store: st, order: o, ch: ch}
}

func TestSend_OwnerSucceeds(t *testing.T) {
	f := newFixture(t)
	m, err := f.p.Send(context.Background(), f.order.ID, owner, "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", m.Content)
	assert.Equal(t, owner.ID, m.SenderID)
	assert.Equal(t, f.ch.ID, m.ChannelID)
	assert.NotZero(t, m.ID)
}

func TestSend_NonOwnerForbidden(t *testing.T) {
	f := newFixture(t)
	for _, p := range []domain.Principal{stranger, admin} {
		_, err := f.p.Send(context.Background(), f.order.ID, p, "hi")
		assert.ErrorIs(t, err, domain.ErrNotParticipant)
		assert.Equal(t, xerr.Forbidden, xerr.CodeOf(err))
	}
	assert.Equal(t, int32(0), f.store.creates.Load())
}

func TestSend_InvalidContentNeverTouchesStore(t *testing.T) {
	f := newFixture(t, WithMaxContentLength(5))
	ctx := context.Background()

	for _, c := range []string{"", "   ", "\n\t"} {
		_, err := f.p.Send(ctx, f.order.ID, owner, c)
		assert.ErrorIs(t, err, ErrEmptyContent)
	}
	_, err := f.p.Send(ctx, f.order.ID, owner, "toolong")
	assert.ErrorIs(t, err, ErrContentTooLong)
	assert.Equal(t, xerr.RequestParamsError, xerr.CodeOf(err))

	// 不存在的订单也先报参数错误
	_, err = f.p.Send(ctx, 999, owner, "")
	assert.ErrorIs(t, err, ErrEmptyContent)

	assert.Equal(t, int32(0), f.store.creates.Load())
}

func TestSend_UnknownOrderNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.p.Send(context.Background(), 999, owner, "hi")
	assert.Equal(t, xerr.RecordNotFound, xerr.CodeOf(err))
}

func TestClose_ThenSendForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch, err := f.p.Close(ctx, f.order.ID, admin, "resolved")
	require.NoError(t, err)
	assert.True(t, ch.Closed)
	assert.Equal(t, "resolved", ch.Summary)

	for _, p := range []domain.Principal{owner, stranger, admin} {
		_, err = f.p.Send(ctx, f.order.ID, p, "after close")
		assert.ErrorIs(t, err, domain.ErrChannelClosed)
	}
	assert.Equal(t, int32(0), f.store.creates.Load())

	o, _ := f.store.GetOrder(ctx, f.order.ID)
	assert.Equal(t, domain.OrderProcessing, o.Status)
}

func TestClose_NonAdminForbiddenAndChannelStaysOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.p.Close(ctx, f.order.ID, owner, "nope")
	assert.ErrorIs(t, err, domain.ErrNotAdmin)

	_, err = f.p.Send(ctx, f.order.ID, owner, "still open")
	assert.NoError(t, err)
}

func TestClose_TwiceForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.p.Close(ctx, f.order.ID, admin, "first")
	require.NoError(t, err)
	_, err = f.p.Close(ctx, f.order.ID, admin, "second")
	assert.ErrorIs(t, err, domain.ErrChannelAlreadyClosed)

	h, err := f.p.History(ctx, f.order.ID, admin)
	require.NoError(t, err)
	assert.True(t, h.Closed)
	assert.Equal(t, "first", h.Summary)
}

func TestClose_UnknownOrderNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.p.Close(context.Background(), 999, admin, "x")
	assert.Equal(t, xerr.RecordNotFound, xerr.CodeOf(err))
}

func TestFetch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.p.Fetch(ctx, 999, owner)
	assert.ErrorIs(t, err, domain.ErrChannelNotFound)

	_, err = f.p.Fetch(ctx, f.order.ID, stranger)
	assert.ErrorIs(t, err, domain.ErrNotParticipant)

	for _, c := range []string{"one", "two", "three"} {
		_, err := f.p.Send(ctx, f.order.ID, owner, c)
		require.NoError(t, err)
	}
	msgs, err := f.p.Fetch(ctx, f.order.ID, owner)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "one", msgs[0].Content)
	assert.Equal(t, "three", msgs[2].Content)
	assert.Equal(t, domain.Sender{ID: 1, Email: "owner@example.com"}, msgs[0].Sender)
}

func TestHistory_AdminOnly(t *testing.T) {
	f := newFixture(t)
	_, err := f.p.History(context.Background(), f.order.ID, owner)
	assert.ErrorIs(t, err, domain.ErrAdminOnly)
}

func TestSend_StoreFailureIsUnavailable(t *testing.T) {
	f := newFixture(t)
	f.store.failErr = errors.New("dial tcp: connection refused")

	_, err := f.p.Send(context.Background(), f.order.ID, owner, "hi")
	assert.Equal(t, xerr.Unavailable, xerr.CodeOf(err))
	ce, _ := xerr.As(err)
	assert.NotContains(t, ce.Msg, "dial tcp")
}

func TestSend_StoreSaysClosedFlipsRegistry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.p.Send(ctx, f.order.ID, owner, "warm")
	require.NoError(t, err)

	// 另一个节点关掉了
	_, err = f.store.Store.CloseChannel(ctx, f.order.ID, "elsewhere", domain.OrderProcessing)
	require.NoError(t, err)

	_, err = f.p.Send(ctx, f.order.ID, owner, "late")
	assert.ErrorIs(t, err, domain.ErrChannelClosed)

	before := f.store.creates.Load()
	_, err = f.p.Send(ctx, f.order.ID, owner, "later")
	assert.ErrorIs(t, err, domain.ErrChannelClosed)
	assert.Equal(t, before, f.store.creates.Load(), "local flag short-circuits the store")
}

func TestSend_ConcurrentSendsPublishInPersistOrder(t *testing.T) {
	var mu sync.Mutex
	var published []int64
	f := newFixture(t, WithAfterPersist(func(_ context.Context, _ int64, m domain.Message) {
		mu.Lock()
		published = append(published, m.ID)
		mu.Unlock()
	}))
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.p.Send(ctx, f.order.ID, owner, "m")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Len(t, published, n)
	for i := 1; i < n; i++ {
		assert.Less(t, published[i-1], published[i])
	}
	msgs, err := f.p.Fetch(ctx, f.order.ID, owner)
	require.NoError(t, err)
	require.Len(t, msgs, n)
	for i, m := range msgs {
		assert.Equal(t, published[i], m.ID)
	}
}

func TestSend_CloseRaceNeverAdmitsAfterClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var closedAt atomic.Int64
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i == 20 {
				_, err := f.p.Close(ctx, f.order.ID, admin, "done")
				assert.NoError(t, err)
				msgs, _ := f.store.ListMessages(ctx, f.ch.ID)
				closedAt.Store(int64(len(msgs)))
				return
			}
			_, err := f.p.Send(ctx, f.order.ID, owner, strings.Repeat("x", i+1))
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrChannelClosed)
			}
		}(i)
	}
	wg.Wait()

	msgs, err := f.store.ListMessages(ctx, f.ch.ID)
	require.NoError(t, err)
	assert.Equal(t, closedAt.Load(), int64(len(msgs)), "no message persisted after close returned")
}
