package redis

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"mailbucket/backend/internal/domain"
)

// EventsChannel 收件桶事件的发布订阅频道
const EventsChannel = keyPrefix + "events"

// EventBus 通过 Redis 发布订阅在多个实例间转发收件桶事件。
type EventBus struct {
	client *Client
	log    *zap.Logger
}

// NewEventBus 创建事件总线
func NewEventBus(client *Client, log *zap.Logger) *EventBus {
	if log == nil {
		log = zap.NewNop()
	}
	return &EventBus{client: client, log: log}
}

// Publish 发布事件
func (b *EventBus) Publish(ctx context.Context, event *domain.BucketEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.client.rdb.Publish(ctx, EventsChannel, data).Err()
}

// publishTimeout 单次发布的超时时间
const publishTimeout = 2 * time.Second

// Notify 发布事件，失败只记录日志。
func (b *EventBus) Notify(event *domain.BucketEvent) bool {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := b.Publish(ctx, event); err != nil {
		b.log.Warn("failed to publish bucket event",
			zap.String("token", event.Token),
			zap.String("type", string(event.Type)),
			zap.Error(err))
		return false
	}
	return true
}

// Subscribe 订阅事件并同步调用 handler，直到 ctx 结束。
func (b *EventBus) Subscribe(ctx context.Context, handler func(*domain.BucketEvent)) error {
	sub := b.client.rdb.Subscribe(ctx, EventsChannel)
	defer sub.Close()

	// 等待订阅确认
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event domain.BucketEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.log.Warn("dropping malformed bucket event", zap.Error(err))
				continue
			}
			handler(&event)
		}
	}
}
