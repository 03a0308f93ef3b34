package broadcast

import (
	"context"
	"sync"
)

// MemBroker connects broadcasters living in one process (tests, single node).
type MemBroker struct {
	mu   sync.RWMutex
	subs map[string][]chan Message
}

func NewMemBroker() *MemBroker {
	return &MemBroker{subs: make(map[string][]chan Message)}
}

func (b *MemBroker) Publish(_ context.Context, topic string, payload []byte) error {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	msg := Message{Topic: topic, Payload: cp}

	b.mu.RLock()
	defer b.mu.RUnlock()
	// at-most-once，慢订阅者直接丢
	for _, ch := range b.subs[topic] {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

func (b *MemBroker) Subscribe(ctx context.Context, topics []string) (<-chan Message, error) {
	ch := make(chan Message, 4096)
	b.mu.Lock()
	for _, t := range topics {
		b.subs[t] = append(b.subs[t], ch)
	}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		for _, t := range topics {
			b.subs[t] = remove(b.subs[t], ch)
			if len(b.subs[t]) == 0 {
				delete(b.subs, t)
			}
		}
		b.mu.Unlock()
		// 已从表里摘掉，Publish 不会再写
		close(ch)
	}()
	return ch, nil
}

func (b *MemBroker) Close() error { return nil }

func remove(list []chan Message, ch chan Message) []chan Message {
	out := list[:0]
	for _, c := range list {
		if c != ch {
			out = append(out, c)
		}
	}
	return out
}
