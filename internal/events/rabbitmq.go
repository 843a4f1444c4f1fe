package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQConfig 描述事件队列的连接参数。
type RabbitMQConfig struct {
	URL        string
	Queue      string
	Prefetch   int
	Durable    bool
	AutoDelete bool
}

// RabbitMQ 通过默认交换机把事件以 JSON 投递到指定队列。
type RabbitMQ struct {
	conn  *amqp.Connection
	mu    sync.Mutex
	ch    *amqp.Channel
	queue string
}

// NewRabbitMQ 创建 RabbitMQ 事件通道并声明队列。
func NewRabbitMQ(cfg RabbitMQConfig) (*RabbitMQ, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "awe.events"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("设置 RabbitMQ QOS 失败: %w", err)
		}
	}
	if _, err := ch.QueueDeclare(queue, cfg.Durable, cfg.AutoDelete, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("声明 RabbitMQ 队列失败: %w", err)
	}
	return &RabbitMQ{conn: conn, ch: ch, queue: queue}, nil
}

// Publish 实现 Publisher 接口。
func (r *RabbitMQ) Publish(ctx context.Context, evts ...Event) error {
	if r == nil || r.ch == nil {
		return errors.New("RabbitMQ 事件通道未初始化")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, evt := range evts {
		msg, err := encodeMessage(evt)
		if err != nil {
			return err
		}
		if err := r.ch.PublishWithContext(ctx, "", r.queue, false, false, msg); err != nil {
			return fmt.Errorf("投递事件 %s 失败: %w", evt.Type, err)
		}
	}
	return nil
}

func encodeMessage(evt Event) (amqp.Publishing, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("编码事件失败: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         evt.Type,
		MessageId:    evt.Transaction + ":" + evt.Type,
		Timestamp:    evt.OccurredAt,
		Body:         body,
	}, nil
}

func decodeMessage(body []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return Event{}, fmt.Errorf("解析事件失败: %w", err)
	}
	return evt, nil
}

// Consume 实现 Consumer 接口，使用手动确认；处理失败的消息会被重新入队。
func (r *RabbitMQ) Consume(ctx context.Context, handler Handler) error {
	if r == nil || r.ch == nil {
		return errors.New("RabbitMQ 事件通道未初始化")
	}
	msgs, err := r.ch.ConsumeWithContext(ctx, r.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("订阅 RabbitMQ 队列失败: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			evt, err := decodeMessage(msg.Body)
			if err != nil {
				// 格式错误的消息无法重试，直接丢弃。
				_ = msg.Nack(false, false)
				continue
			}
			if err := handler(ctx, evt); err != nil {
				_ = msg.Nack(false, true)
				continue
			}
			_ = msg.Ack(false)
		}
	}
}

// Close 关闭 RabbitMQ 连接。
func (r *RabbitMQ) Close() error {
	if r == nil {
		return nil
	}
	if r.ch != nil {
		_ = r.ch.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

var (
	_ Publisher = (*RabbitMQ)(nil)
	_ Consumer  = (*RabbitMQ)(nil)
)
