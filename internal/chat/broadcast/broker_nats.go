package broadcast

import (
	"context"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
)

type NatsBroker struct {
	nc *nats.Conn
}

func NewNatsBroker(url string, opts ...nats.Option) (*NatsBroker, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &NatsBroker{nc: nc}, nil
}

func (b *NatsBroker) Publish(_ context.Context, topic string, payload []byte) error {
	return b.nc.Publish(topicToSubject(topic), payload)
}

func (b *NatsBroker) Subscribe(ctx context.Context, topics []string) (<-chan Message, error) {
	out := make(chan Message, 8192)
	subs := make([]*nats.Subscription, 0, len(topics))

	// 回调跑在 NATS 自己的 goroutine 上，close(out) 前要挡住它们
	var mu sync.Mutex
	closed := false

	for _, t := range topics {
		sub, err := b.nc.Subscribe(topicToSubject(t), func(m *nats.Msg) {
			mu.Lock()
			defer mu.Unlock()
			if closed {
				return
			}
			// at-most-once：慢消费者直接丢，避免把 NATS 回调卡死
			select {
			case out <- Message{Topic: subjectToTopic(m.Subject), Payload: m.Data}:
			default:
			}
		})
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return nil, err
		}
		subs = append(subs, sub)
	}

	go func() {
		<-ctx.Done()
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
		mu.Lock()
		closed = true
		close(out)
		mu.Unlock()
	}()
	return out, nil
}

func (b *NatsBroker) Close() error {
	if b.nc != nil {
		_ = b.nc.Drain()
		b.nc.Close()
	}
	return nil
}

func topicToSubject(topic string) string { return strings.ReplaceAll(topic, ":", ".") }
func subjectToTopic(subj string) string  { return strings.ReplaceAll(subj, ".", ":") }
