package events

import (
	"fmt"
	"strings"
)

// Config 选择事件驱动。
type Config struct {
	Driver   string
	History  int
	RabbitMQ RabbitMQConfig
}

// New 根据驱动名称创建 Publisher：memory（默认）、rabbitmq、none。
func New(cfg Config) (Publisher, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemoryBus(cfg.History), nil
	case "rabbitmq":
		return NewRabbitMQ(cfg.RabbitMQ)
	case "none":
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("不支持的事件驱动: %s", cfg.Driver)
	}
}
