package events

import (
	"context"
	"time"
)

// 程序事件类型。
const (
	TypeMetadataInitialized = "MetadataInitialized"
	TypeMetadataUpdated     = "MetadataUpdated"
	TypeCreatorInitialized  = "CreatorInitialized"
	TypeAgentCreated        = "AgentCreated"
)

// Event 是程序执行期间产生、在提交后发布的类型化事件。
type Event struct {
	Type        string            `json:"type"`
	Program     string            `json:"program"`
	Transaction string            `json:"transaction"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
}

// Attr 返回指定属性，不存在时返回空字符串。
func (e Event) Attr(key string) string {
	if e.Attributes == nil {
		return ""
	}
	return e.Attributes[key]
}

// Handler 处理一条订阅到的事件。
type Handler func(ctx context.Context, evt Event) error

// Publisher 负责把已提交交易的事件投递出去。
type Publisher interface {
	Publish(ctx context.Context, evts ...Event) error
	Close() error
}

// Consumer 负责消费事件流。
type Consumer interface {
	Consume(ctx context.Context, handler Handler) error
	Close() error
}

// Nop 丢弃所有事件，对应 driver = none。
type Nop struct{}

// Publish 实现 Publisher 接口。
func (Nop) Publish(context.Context, ...Event) error { return nil }

// Close 实现 Publisher 接口。
func (Nop) Close() error { return nil }
