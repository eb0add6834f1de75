package feed

import "context"

type Message struct {
	Topic   string
	Payload []byte
}

// Broker topic 统一用 ":" 分隔，具体实现自己映射成各自的 subject
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// 订阅，ctx 取消后 channel 关闭
	Subscribe(ctx context.Context, topics []string) (<-chan Message, error)
	Close() error
}
