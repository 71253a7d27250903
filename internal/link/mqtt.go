package link

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	commonmqtt "smarthome-gateway/common/mqtt"
)

// Broker MQTT 客户端中链路用到的部分（common/mqtt.Client 实现）
type Broker interface {
	Subscribe(topic string, qos byte, handler commonmqtt.MessageHandler) error
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Unsubscribe(topics ...string) error
	Disconnect()
}

// MQTTLink 通过 MQTT 连接的设备（ESP32 等 Wi-Fi 设备）
// 遥测主题上每条消息是一帧或多行帧，指令发布到指令主题
type MQTTLink struct {
	broker         Broker
	telemetryTopic string
	commandTopic   string
	qos            byte
	logger         *zap.Logger

	lines     chan string
	closed    chan struct{}
	closeOnce sync.Once
	dropped   atomic.Uint64
}

// NewMQTTLink 订阅遥测主题
func NewMQTTLink(broker Broker, telemetryTopic, commandTopic string, qos byte, logger *zap.Logger) (*MQTTLink, error) {
	l := &MQTTLink{
		broker:         broker,
		telemetryTopic: telemetryTopic,
		commandTopic:   commandTopic,
		qos:            qos,
		logger:         logger,
		lines:          make(chan string, inboundBuffer),
		closed:         make(chan struct{}),
	}

	if err := broker.Subscribe(telemetryTopic, qos, l.handleMessage); err != nil {
		return nil, err
	}

	logger.Info("MQTT link subscribed",
		zap.String("telemetry_topic", telemetryTopic),
		zap.String("command_topic", commandTopic),
	)
	return l, nil
}

func (l *MQTTLink) handleMessage(topic string, payload []byte) error {
	for _, raw := range bytes.Split(payload, []byte("\n")) {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			continue
		}
		if len(raw) > maxLineLength {
			l.logger.Debug("Discarded overlong line", zap.String("topic", topic))
			continue
		}
		select {
		case l.lines <- string(raw):
		default:
			if n := l.dropped.Add(1); n == 1 || n%100 == 0 {
				l.logger.Warn("Inbound buffer full, dropping lines", zap.Uint64("dropped", n))
			}
		}
	}
	return nil
}

// ReceiveLine 取出一行缓冲的数据
// 断线重连由 MQTT 客户端处理，这里不上报读取错误
func (l *MQTTLink) ReceiveLine() (string, bool, error) {
	select {
	case line := <-l.lines:
		return line, true, nil
	default:
		return "", false, nil
	}
}

// SendLine 发布一帧到指令主题
func (l *MQTTLink) SendLine(line string) error {
	select {
	case <-l.closed:
		return ErrLinkClosed
	default:
	}
	if err := l.broker.Publish(l.commandTopic, l.qos, false, []byte(line+"\n")); err != nil {
		return fmt.Errorf("link write failed: %w", err)
	}
	return nil
}

// Close 取消订阅并断开
func (l *MQTTLink) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		err = l.broker.Unsubscribe(l.telemetryTopic)
		l.broker.Disconnect()
	})
	return err
}
