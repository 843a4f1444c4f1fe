package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"Awe-Chain/pkg/logger"

	gethevent "github.com/ethereum/go-ethereum/event"
)

// relayBuffer 是每个订阅者在 Feed 与其通道之间的中转缓冲。
const relayBuffer = 64

// MemoryBus 基于 go-ethereum event.Feed 在进程内广播事件，并保留最近的若干条供查询。
type MemoryBus struct {
	feed  gethevent.Feed
	scope gethevent.SubscriptionScope

	mu      sync.RWMutex
	history []Event
	limit   int
	closed  bool
}

// NewMemoryBus 创建内存事件总线，history 为保留的最近事件数量。
func NewMemoryBus(history int) *MemoryBus {
	if history <= 0 {
		history = 256
	}
	return &MemoryBus{limit: history}
}

// Publish 实现 Publisher 接口。发布不会等待慢订阅者，见 Subscribe。
func (b *MemoryBus) Publish(ctx context.Context, evts ...Event) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New("事件总线已关闭")
	}
	b.history = append(b.history, evts...)
	if over := len(b.history) - b.limit; over > 0 {
		b.history = append([]Event(nil), b.history[over:]...)
	}
	b.mu.Unlock()

	for _, evt := range evts {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.feed.Send(evt)
	}
	return nil
}

// Subscribe 订阅后续事件。每个订阅者有独立的中转协程，发布方从不等待订阅者：
// ch 已满时新事件被丢弃并记录告警。需要完整事件流的消费者应使用足够大的缓冲，
// 或改用 rabbitmq 驱动。
func (b *MemoryBus) Subscribe(ch chan<- Event) gethevent.Subscription {
	relay := make(chan Event, relayBuffer)
	inner := b.feed.Subscribe(relay)
	sub := gethevent.NewSubscription(func(quit <-chan struct{}) error {
		defer inner.Unsubscribe()
		for {
			select {
			case <-quit:
				return nil
			case err := <-inner.Err():
				return err
			case evt := <-relay:
				select {
				case ch <- evt:
				default:
					logger.L().Warn("事件订阅者处理过慢，丢弃事件",
						slog.String("type", evt.Type),
						slog.String("transaction", evt.Transaction))
				}
			}
		}
	})
	return b.scope.Track(sub)
}

// Consume 实现 Consumer 接口，直到 ctx 结束或处理函数返回错误。
func (b *MemoryBus) Consume(ctx context.Context, handler Handler) error {
	ch := make(chan Event, 64)
	sub := b.Subscribe(ch)
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-sub.Err():
			if !ok {
				return nil
			}
			return err
		case evt := <-ch:
			if err := handler(ctx, evt); err != nil {
				return err
			}
		}
	}
}

// Recent 返回最近的最多 n 条事件，按发生顺序排列。
func (b *MemoryBus) Recent(n int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n <= 0 || n > len(b.history) {
		n = len(b.history)
	}
	return append([]Event(nil), b.history[len(b.history)-n:]...)
}

// Close 取消所有订阅。
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.scope.Close()
	return nil
}

var (
	_ Publisher = (*MemoryBus)(nil)
	_ Consumer  = (*MemoryBus)(nil)
)
