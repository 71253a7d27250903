package events

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	commonredis "smarthome-gateway/common/redis"
	"smarthome-gateway/internal/models"
)

// 事件类型
const (
	TypeSensorRecord = "sensor_record"
	TypeCommandSent  = "command_sent"
)

// StreamConfig 事件流配置
type StreamConfig struct {
	TelemetryStream string
	CommandStream   string
	MaxLen          int64
}

// Publisher 把传感器记录和已发送指令发布到 Redis Streams，供显示层消费
// 实现 ingester.RecordSink 和 synchronizer.CommandObserver
type Publisher struct {
	client    *redis.Client
	cfg       StreamConfig
	sessionID string
}

// NewPublisher 创建事件发布器
func NewPublisher(client *redis.Client, cfg StreamConfig, sessionID string) *Publisher {
	return &Publisher{
		client:    client,
		cfg:       cfg,
		sessionID: sessionID,
	}
}

// PublishRecord 发布一条传感器记录
func (p *Publisher) PublishRecord(ctx context.Context, rec models.SensorRecord) error {
	_, err := commonredis.PublishToStream(ctx, p.client, p.cfg.TelemetryStream, p.cfg.MaxLen, map[string]interface{}{
		"event_id":   uuid.NewString(),
		"session_id": p.sessionID,
		"type":       TypeSensorRecord,
		"data":       rec,
		"timestamp":  rec.Timestamp.Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to publish sensor record: %w", err)
	}
	return nil
}

// CommandSent 发布一帧已发送的指令
func (p *Publisher) CommandSent(ctx context.Context, frame models.CommandFrame) error {
	_, err := commonredis.PublishJSONToStream(ctx, p.client, p.cfg.CommandStream, p.cfg.MaxLen, commandEvent{
		EventID:   uuid.NewString(),
		SessionID: p.sessionID,
		Type:      TypeCommandSent,
		Frame:     frame,
	})
	if err != nil {
		return fmt.Errorf("failed to publish command frame: %w", err)
	}
	return nil
}

type commandEvent struct {
	EventID   string              `json:"event_id"`
	SessionID string              `json:"session_id"`
	Type      string              `json:"type"`
	Frame     models.CommandFrame `json:"frame"`
}
