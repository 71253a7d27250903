package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"smarthome-gateway/common/config"
	"smarthome-gateway/internal/models"
)

const sensorRecordsTable = `
CREATE TABLE IF NOT EXISTS sensor_records (
    timestamp DateTime64(3),
    session_id String,
    temp Float64,
    humid Float64,
    rain_val Int32,
    sound_class LowCardinality(String),
    confidence Float64,
    win_stat LowCardinality(String),
    heat_stat LowCardinality(String),
    cool_stat LowCardinality(String),
    reason String,
    trash_alert UInt8
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(timestamp)
ORDER BY timestamp
TTL toDateTime(timestamp) + INTERVAL 180 DAY`

// Execer driver.Conn 中用到的部分
type Execer interface {
	Exec(ctx context.Context, query string, args ...any) error
}

// Sink 传感器记录的 ClickHouse 分析副本
// 实现 ingester.RecordSink
type Sink struct {
	conn      Execer
	sessionID string
}

// NewSink 包装已有连接
func NewSink(conn Execer, sessionID string) *Sink {
	return &Sink{conn: conn, sessionID: sessionID}
}

// Open 连接 ClickHouse 并建表
func Open(ctx context.Context, cfg *config.ClickHouseConfig, logger *zap.Logger) (driver.Conn, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	if err := InitSchema(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}

	logger.Info("Connected to ClickHouse", zap.String("addr", cfg.Addr), zap.String("database", cfg.Database))
	return conn, nil
}

// InitSchema 建表（幂等）
func InitSchema(ctx context.Context, conn Execer) error {
	if err := conn.Exec(ctx, sensorRecordsTable); err != nil {
		return fmt.Errorf("failed to create sensor_records table: %w", err)
	}
	return nil
}

// PublishRecord 写入一条传感器记录
func (s *Sink) PublishRecord(ctx context.Context, rec models.SensorRecord) error {
	query := `
		INSERT INTO sensor_records (
			timestamp, session_id, temp, humid, rain_val, sound_class, confidence,
			win_stat, heat_stat, cool_stat, reason, trash_alert
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	err := s.conn.Exec(ctx, query,
		rec.Timestamp,
		s.sessionID,
		rec.Temperature,
		rec.Humidity,
		int32(rec.RainReading),
		rec.ClassifiedSound,
		rec.Confidence,
		rec.WindowStatus,
		rec.HeatStatus,
		rec.CoolStatus,
		rec.Reason,
		uint8(rec.AlertBit),
	)
	if err != nil {
		return fmt.Errorf("failed to insert sensor record: %w", err)
	}
	return nil
}
