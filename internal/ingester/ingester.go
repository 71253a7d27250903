package ingester

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"smarthome-gateway/internal/alert"
	"smarthome-gateway/internal/models"
)

// ErrMalformedFrame 不是合法的遥测帧（调用方静默丢弃）
var ErrMalformedFrame = errors.New("malformed telemetry frame")

// 旁路输出（事件流、分析库）的单次超时，避免拖慢同步循环
const sinkTimeout = 500 * time.Millisecond

// SensorLog 传感器记录追加
type SensorLog interface {
	Append(ctx context.Context, rec *models.SensorRecord) error
}

// AlertRaiser 置位 pending_alert
type AlertRaiser interface {
	RaisePendingAlert(ctx context.Context) error
}

// RecordSink 传感器记录的旁路输出（尽力而为，失败只记日志）
type RecordSink interface {
	PublishRecord(ctx context.Context, rec models.SensorRecord) error
}

// Stats 计数
type Stats struct {
	Accepted  uint64
	Malformed uint64
}

// Ingester 遥测帧处理
type Ingester struct {
	sensorLog SensorLog
	alerts    AlertRaiser
	mirror    *alert.Mirror
	sinks     []RecordSink
	logger    *zap.Logger
	now       func() time.Time

	accepted  atomic.Uint64
	malformed atomic.Uint64
}

// NewIngester 创建遥测处理器
func NewIngester(sensorLog SensorLog, alerts AlertRaiser, mirror *alert.Mirror, logger *zap.Logger, sinks ...RecordSink) *Ingester {
	return &Ingester{
		sensorLog: sensorLog,
		alerts:    alerts,
		mirror:    mirror,
		sinks:     sinks,
		logger:    logger,
		now:       time.Now,
	}
}

// ParseTelemetryFrame 解析一行遥测帧，缺失或类型不符的字段使用默认值
func ParseTelemetryFrame(line string) (models.TelemetryFrame, error) {
	frame := models.DefaultTelemetryFrame()

	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") || !strings.HasSuffix(trimmed, "}") {
		return frame, ErrMalformedFrame
	}
	if err := json.Unmarshal([]byte(trimmed), &frame); err != nil {
		return models.DefaultTelemetryFrame(), fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return frame, nil
}

// Ingest 处理一行入站数据
// 非法帧返回 ErrMalformedFrame，不写库、不更新告警镜像
// 存储失败只记日志，帧仍视为已处理
func (i *Ingester) Ingest(ctx context.Context, line string) error {
	frame, err := ParseTelemetryFrame(line)
	if err != nil {
		i.malformed.Add(1)
		return err
	}
	i.accepted.Add(1)

	i.mirror.Observe(frame.TrashAlert)

	rec := models.NewSensorRecord(frame, i.now())
	i.logger.Info("Telemetry received",
		zap.Float64("temp", frame.Temp),
		zap.Float64("humid", frame.Humid),
		zap.Int("rain", frame.Rain),
		zap.String("sound", frame.Sound),
		zap.Float64("conf", frame.Conf),
		zap.String("win_stat", frame.WinStat),
		zap.String("heat_stat", frame.HeatStat),
		zap.String("cool_stat", frame.CoolStat),
		zap.String("reason", frame.Reason),
		zap.Int("trash_alert", int(frame.TrashAlert)),
	)
	if len(frame.InvalidFields) > 0 {
		i.logger.Warn("Telemetry fields with unexpected types replaced by defaults",
			zap.Strings("fields", frame.InvalidFields),
		)
	}

	if err := i.sensorLog.Append(ctx, &rec); err != nil {
		i.logger.Error("Failed to append sensor record", zap.Error(err))
	}

	if frame.TrashAlert == models.AlertRaised {
		if err := i.alerts.RaisePendingAlert(ctx); err != nil {
			i.logger.Error("Failed to raise pending alert", zap.Error(err))
		}
	}

	for _, sink := range i.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, sinkTimeout)
		if err := sink.PublishRecord(sinkCtx, rec); err != nil {
			i.logger.Warn("Failed to publish sensor record", zap.Error(err))
		}
		cancel()
	}

	return nil
}

// Stats 返回计数快照
func (i *Ingester) Stats() Stats {
	return Stats{
		Accepted:  i.accepted.Load(),
		Malformed: i.malformed.Load(),
	}
}
