package broadcast

import "context"

type Message struct {
	Topic   string
	Payload []byte
}

type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe delivers until ctx is done, then closes the channel.
	Subscribe(ctx context.Context, topics []string) (<-chan Message, error)
	Close() error
}
