// Package registry resolves an order to its chat channel and owns the
// per-channel critical section plus the live subscriber sets.
package registry

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"orderchat.com/internal/chat/domain"
	"orderchat.com/pkg/logger"
	"orderchat.com/pkg/xerr"
)

const shardCount = 64

// Source is the slice of domain.Store the registry reads through and closes with.
type Source interface {
	domain.OrderStore
	domain.ChannelStore
	CloseChannel(ctx context.Context, orderID int64, summary string, status domain.OrderStatus) (domain.Channel, error)
}

// Subscriber is a live connection listening on one or more channels.
type Subscriber interface {
	ID() string
	// Deliver must not block. false means the subscriber cannot keep up.
	Deliver(payload []byte) bool
	Kick(reason string)
}

type entry struct {
	mu    sync.Mutex // 频道临界区：closed 判断、落库、广播都在这把锁里
	state domain.ChannelState

	lastMsg atomic.Int64 // 本节点已推送的最大消息 id
	used    int64        // unix nano, guarded by mu
	evicted bool         // guarded by mu
}

type shard struct {
	mu      sync.RWMutex
	entries map[int64]*entry
	rooms   map[int64]map[string]Subscriber
}

type Registry struct {
	shards [shardCount]shard
	src    Source
	cache  Cache
	sf     singleflight.Group

	// CloseStatus is the order status written together with a channel close.
	CloseStatus domain.OrderStatus
}

func New(src Source, cache Cache) *Registry {
	if cache == nil {
		cache = NopCache{}
	}
	r := &Registry{src: src, cache: cache, CloseStatus: domain.OrderProcessing}
	for i := range r.shards {
		r.shards[i].entries = make(map[int64]*entry, 64)
		r.shards[i].rooms = make(map[int64]map[string]Subscriber, 64)
	}
	return r
}

func (r *Registry) shardOf(orderID int64) *shard {
	return &r.shards[uint64(orderID)%shardCount]
}

// Get returns a snapshot of the channel state for orderID.
func (r *Registry) Get(ctx context.Context, orderID int64) (domain.ChannelState, error) {
	e, err := r.lock(ctx, orderID)
	if err != nil {
		return domain.ChannelState{}, err
	}
	defer e.mu.Unlock()
	return e.state, nil
}

// Do runs fn inside the channel critical section. fn sees the state as of lock
// acquisition; no close can complete while fn runs. If fn reports
// ErrChannelClosed the local flag is flipped before the lock is released.
func (r *Registry) Do(ctx context.Context, orderID int64, fn func(st domain.ChannelState) error) error {
	e, err := r.lock(ctx, orderID)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()
	err = fn(e.state)
	if errors.Is(err, domain.ErrChannelClosed) && !e.state.Channel.Closed {
		r.markClosedLocked(ctx, e, orderID)
	}
	return err
}

// Close persists the close and flips the in-memory flag under the channel lock.
// Closing an already closed channel fails with ErrChannelAlreadyClosed.
func (r *Registry) Close(ctx context.Context, orderID int64, summary string) (domain.Channel, error) {
	e, err := r.lock(ctx, orderID)
	if err != nil {
		return domain.Channel{}, err
	}
	defer e.mu.Unlock()

	if e.state.Channel.Closed {
		return domain.Channel{}, domain.ErrChannelAlreadyClosed
	}
	ch, err := r.src.CloseChannel(ctx, orderID, summary, r.CloseStatus)
	if err != nil {
		if errors.Is(err, domain.ErrChannelAlreadyClosed) {
			// 其他节点已经关了，本地跟上
			e.state.Channel.Closed = true
			r.dropCache(ctx, orderID)
		}
		return domain.Channel{}, xerr.Classify(err, xerr.Unavailable)
	}
	e.state.Channel = ch
	e.state.Order.Status = r.CloseStatus
	if err := r.cache.Set(ctx, e.state); err != nil {
		logger.Warn(ctx, "channel cache set failed", zap.Int64("order_id", orderID), zap.Error(err))
		r.dropCache(ctx, orderID)
	}
	return ch, nil
}

// MarkClosed flips the local flag after a store or a peer node reported the
// channel closed. Unknown orders are ignored.
func (r *Registry) MarkClosed(ctx context.Context, orderID int64, summary string) {
	if e := r.resident(orderID); e != nil {
		e.mu.Lock()
		if !e.evicted {
			e.state.Channel.Closed = true
			if summary != "" {
				e.state.Channel.Summary = summary
			}
		}
		e.mu.Unlock()
	}
	r.dropCache(ctx, orderID)
}

// NoteDelivered records that msgID went out to this node's subscribers.
// The caller must be inside Do for orderID.
func (r *Registry) NoteDelivered(orderID, msgID int64) {
	if e := r.resident(orderID); e != nil {
		advance(&e.lastMsg, msgID)
	}
}

// InOrder runs fn inside the channel critical section unless msgID is not
// newer than the last message delivered on this node, in which case it
// reports false and fn does not run. Channels not resident here have no
// local writer to race with, so fn runs directly.
func (r *Registry) InOrder(orderID, msgID int64, fn func()) bool {
	e := r.resident(orderID)
	if e == nil {
		fn()
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.evicted && msgID > 0 {
		if msgID <= e.lastMsg.Load() {
			return false
		}
		advance(&e.lastMsg, msgID)
	}
	fn()
	return true
}

func advance(v *atomic.Int64, id int64) {
	for {
		cur := v.Load()
		if id <= cur || v.CompareAndSwap(cur, id) {
			return
		}
	}
}

// markClosedLocked is MarkClosed for callers already inside Do.
func (r *Registry) markClosedLocked(ctx context.Context, e *entry, orderID int64) {
	e.state.Channel.Closed = true
	r.dropCache(ctx, orderID)
}

func (r *Registry) dropCache(ctx context.Context, orderID int64) {
	if err := r.cache.Del(ctx, orderID); err != nil {
		logger.Warn(ctx, "channel cache del failed", zap.Int64("order_id", orderID), zap.Error(err))
	}
}

// lock returns the entry for orderID with its mutex held. An entry swept
// between lookup and lock is retried so callers never hold a stale one.
func (r *Registry) lock(ctx context.Context, orderID int64) (*entry, error) {
	for {
		e, err := r.entry(ctx, orderID)
		if err != nil {
			return nil, err
		}
		e.mu.Lock()
		if !e.evicted {
			e.used = time.Now().UnixNano()
			return e, nil
		}
		e.mu.Unlock()
	}
}

func (r *Registry) resident(orderID int64) *entry {
	s := r.shardOf(orderID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[orderID]
}

// Sweep drops entries idle for longer than idle that nobody on this node is
// subscribed to. Busy entries are skipped rather than waited for.
func (r *Registry) Sweep(idle time.Duration) int {
	cut := time.Now().Add(-idle).UnixNano()
	n := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		for id, e := range s.entries {
			if len(s.rooms[id]) > 0 || !e.mu.TryLock() {
				continue
			}
			if e.used < cut {
				e.evicted = true
				delete(s.entries, id)
				n++
			}
			e.mu.Unlock()
		}
		s.mu.Unlock()
	}
	return n
}

// StartJanitor sweeps idle entries every interval until ctx is done.
func (r *Registry) StartJanitor(ctx context.Context, every, idle time.Duration) {
	if idle <= 0 {
		return
	}
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := r.Sweep(idle); n > 0 {
					logger.Debug(ctx, "idle channels swept", zap.Int("count", n))
				}
			}
		}
	}()
}

// entry returns the resident entry, loading it on first use. Unknown orders
// never get an entry, so the table only grows with real channels.
func (r *Registry) entry(ctx context.Context, orderID int64) (*entry, error) {
	s := r.shardOf(orderID)
	s.mu.RLock()
	e := s.entries[orderID]
	s.mu.RUnlock()
	if e != nil {
		return e, nil
	}

	st, err := r.load(ctx, orderID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// double check：并发加载时以先放进去的为准
	if e = s.entries[orderID]; e != nil {
		return e, nil
	}
	e = &entry{state: st, used: time.Now().UnixNano()}
	s.entries[orderID] = e
	return e, nil
}

func (r *Registry) load(ctx context.Context, orderID int64) (domain.ChannelState, error) {
	st, ok, err := r.cache.Get(ctx, orderID)
	if err != nil {
		logger.Warn(ctx, "channel cache get failed", zap.Int64("order_id", orderID), zap.Error(err))
	}
	if ok {
		return st, nil
	}

	// 合并后的加载不能跟着某一个调用方一起被取消
	ctx = context.WithoutCancel(ctx)
	v, err, _ := r.sf.Do(strconv.FormatInt(orderID, 10), func() (any, error) {
		ch, err := r.src.GetChannelByOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		o, err := r.src.GetOrder(ctx, orderID)
		if errors.Is(err, domain.ErrOrderNotFound) {
			return nil, domain.ErrChannelNotFound
		}
		if err != nil {
			return nil, err
		}
		st := domain.ChannelState{Channel: ch, Order: o}
		if err := r.cache.Set(ctx, st); err != nil {
			logger.Warn(ctx, "channel cache set failed", zap.Int64("order_id", orderID), zap.Error(err))
		}
		return st, nil
	})
	if err != nil {
		return domain.ChannelState{}, xerr.Classify(err, xerr.Unavailable)
	}
	return v.(domain.ChannelState), nil
}
