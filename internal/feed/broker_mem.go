package feed

import (
	"context"
	"sync"
)

// MemBroker 进程内 fanout，测试和单机回放用
type MemBroker struct {
	mu   sync.RWMutex
	subs map[string][]chan Message
	buf  int
}

func NewMemBroker(buf int) *MemBroker {
	if buf <= 0 {
		buf = 4096
	}
	return &MemBroker{subs: make(map[string][]chan Message), buf: buf}
}

// Publish 订阅者满了就等，直到 ctx 取消；回放不能丢数据
func (b *MemBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	list := b.subs[topic]
	b.mu.RUnlock()

	msg := Message{Topic: topic, Payload: payload}
	for _, ch := range list {
		select {
		case ch <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *MemBroker) Subscribe(ctx context.Context, topics []string) (<-chan Message, error) {
	ch := make(chan Message, b.buf)
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
		}
		b.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}

func (b *MemBroker) Close() error { return nil }

// remove 返回新 slice，Publish 手里的旧快照不受影响
func remove(list []chan Message, ch chan Message) []chan Message {
	out := make([]chan Message, 0, len(list))
	for _, c := range list {
		if c != ch {
			out = append(out, c)
		}
	}
	return out
}
