// Package link 网关与设备之间的行协议链路（每帧一行 JSON，以 '\n' 结尾）。
package link

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	commonmqtt "smarthome-gateway/common/mqtt"
	"smarthome-gateway/internal/config"
)

// ErrLinkClosed 链路已关闭或对端断开
var ErrLinkClosed = errors.New("link closed")

// Link 设备链路
type Link interface {
	// ReceiveLine 非阻塞：没有完整的行时返回 ok=false
	ReceiveLine() (line string, ok bool, err error)
	// SendLine 发送一帧，自动追加换行
	SendLine(line string) error
	Close() error
}

// Open 按配置打开链路并等待设备复位完成
// 打开失败由调用方视为致命错误
func Open(ctx context.Context, cfg *config.LinkConfig, logger *zap.Logger) (Link, error) {
	var (
		l   Link
		err error
	)

	switch cfg.Type {
	case config.LinkSerial:
		l, err = OpenSerial(cfg.Serial, logger)
	case config.LinkTCP:
		l, err = DialTCP(ctx, cfg.TCPAddr, logger)
	case config.LinkMQTT:
		var client *commonmqtt.Client
		client, err = commonmqtt.NewClient(&cfg.MQTT, logger)
		if err == nil {
			l, err = NewMQTTLink(client, cfg.TelemetryTopic, cfg.CommandTopic, client.QoS(), logger)
			if err != nil {
				client.Disconnect()
			}
		}
	default:
		return nil, fmt.Errorf("unsupported link type: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("Link opened, waiting for device to settle",
		zap.String("type", cfg.Type),
		zap.Duration("settle_delay", cfg.SettleDelay),
	)
	if err := settle(ctx, cfg.SettleDelay); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

func settle(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
