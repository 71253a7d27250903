// Package notify 控制状态变更通知（Redis Pub/Sub）。
// 操作员写入后发布通知，网关收到后提前开始下一个 tick；没有通知时网关照常轮询。
package notify

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Notifier 发布控制状态变更
type Notifier struct {
	client  *redis.Client
	channel string
}

// NewNotifier 创建通知发布器
func NewNotifier(client *redis.Client, channel string) *Notifier {
	return &Notifier{client: client, channel: channel}
}

// ControlChanged 发布一次变更（消息内容只用于日志）
func (n *Notifier) ControlChanged(ctx context.Context, reason string) error {
	if err := n.client.Publish(ctx, n.channel, reason).Err(); err != nil {
		return fmt.Errorf("failed to publish control change: %w", err)
	}
	return nil
}

// Watcher 订阅控制状态变更
type Watcher struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewWatcher 创建订阅器
func NewWatcher(client *redis.Client, channel string, logger *zap.Logger) *Watcher {
	return &Watcher{client: client, channel: channel, logger: logger}
}

// Watch 订阅并返回唤醒通道，多次通知合并为一次
// ctx 取消后关闭订阅
func (w *Watcher) Watch(ctx context.Context) (<-chan struct{}, error) {
	sub := w.client.Subscribe(ctx, w.channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", w.channel, err)
	}

	wake := make(chan struct{}, 1)
	go func() {
		defer sub.Close()
		messages := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				w.logger.Debug("Control change notification", zap.String("reason", msg.Payload))
				select {
				case wake <- struct{}{}:
				default:
				}
			}
		}
	}()

	w.logger.Info("Watching control changes", zap.String("channel", w.channel))
	return wake, nil
}
