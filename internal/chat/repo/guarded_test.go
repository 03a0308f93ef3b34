package repo

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderchat.com/internal/chat/domain"
	"orderchat.com/internal/chat/repo/memory"
	"orderchat.com/pkg/ratelimit"
	"orderchat.com/pkg/xerr"
)

type flakyStore struct {
	*memory.Store
	err   error
	calls int
}

func (f *flakyStore) GetOrder(ctx context.Context, orderID int64) (domain.Order, error) {
	f.calls++
	if f.err != nil {
		return domain.Order{}, f.err
	}
	return f.Store.GetOrder(ctx, orderID)
}

func newGuarded(inner domain.Store, trip uint32) *Guarded {
	return NewGuarded(inner, ratelimit.NewManager(ratelimit.Rule{
		TripConsecutiveFailures: trip,
		Timeout:                 time.Minute,
	}, nil))
}

func TestGuarded_InfraErrorsBecomeUnavailableAndTrip(t *testing.T) {
	ctx := context.Background()
	inner := &flakyStore{Store: memory.New(), err: errors.New("dial tcp: connection refused")}
	g := newGuarded(inner, 2)

	for i := 0; i < 2; i++ {
		_, err := g.GetOrder(ctx, 1)
		assert.Equal(t, xerr.Unavailable, xerr.CodeOf(err))
	}
	assert.Equal(t, 2, inner.calls)

	// 熔断打开后不再打到下游
	_, err := g.GetOrder(ctx, 1)
	assert.Equal(t, xerr.Unavailable, xerr.CodeOf(err))
	assert.Equal(t, 2, inner.calls)
}

func TestGuarded_DomainErrorsPassThrough(t *testing.T) {
	ctx := context.Background()
	g := newGuarded(memory.New(), 1)

	for i := 0; i < 3; i++ {
		_, err := g.GetChannelByOrder(ctx, 404)
		assert.ErrorIs(t, err, domain.ErrChannelNotFound)
	}
	// 依旧能正常调用
	o, c, err := g.CreateOrder(ctx, 1, "")
	require.NoError(t, err)
	assert.Equal(t, o.ID, c.OrderID)

	msgs, err := g.ListMessages(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestGuarded_CallerCancellationDoesNotTrip(t *testing.T) {
	ctx := context.Background()
	inner := &flakyStore{Store: memory.New()}
	o, _, err := inner.CreateOrder(ctx, 1, "")
	require.NoError(t, err)
	g := newGuarded(inner, 2)

	for _, cause := range []error{
		context.Canceled,
		fmt.Errorf("query orders: %w", context.DeadlineExceeded),
		context.Canceled,
	} {
		inner.err = cause
		_, err := g.GetOrder(ctx, o.ID)
		assert.ErrorIs(t, err, cause)
	}

	inner.err = nil
	got, err := g.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
	assert.Equal(t, 4, inner.calls)
}
