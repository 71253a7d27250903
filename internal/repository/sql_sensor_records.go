package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"smarthome-gateway/internal/models"
)

// SQLSensorRecordRepo sensor_data 表实现
type SQLSensorRecordRepo struct {
	db *sqlx.DB
}

// NewSQLSensorRecordRepo 创建传感器记录Repository
func NewSQLSensorRecordRepo(db *sqlx.DB) *SQLSensorRecordRepo {
	return &SQLSensorRecordRepo{db: db}
}

// 外部工具写入的历史行可能有 NULL 列
const sensorColumns = `
	id, timestamp,
	COALESCE(temp, 0) AS temp,
	COALESCE(humid, 0) AS humid,
	COALESCE(rain_val, 0) AS rain_val,
	COALESCE(sound_class, '') AS sound_class,
	COALESCE(confidence, 0) AS confidence,
	COALESCE(win_stat, '') AS win_stat,
	COALESCE(heat_stat, '') AS heat_stat,
	COALESCE(cool_stat, '') AS cool_stat,
	COALESCE(reason, '') AS reason,
	COALESCE(trash_alert, 0) AS trash_alert
`

// Append 追加一条记录
func (r *SQLSensorRecordRepo) Append(ctx context.Context, rec *models.SensorRecord) error {
	query := r.db.Rebind(`
		INSERT INTO sensor_data (
			timestamp, temp, humid, rain_val, sound_class, confidence,
			win_stat, heat_stat, cool_stat, reason, trash_alert
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := r.db.ExecContext(ctx, query,
		rec.Timestamp,
		rec.Temperature,
		rec.Humidity,
		rec.RainReading,
		rec.ClassifiedSound,
		rec.Confidence,
		rec.WindowStatus,
		rec.HeatStatus,
		rec.CoolStatus,
		rec.Reason,
		rec.AlertBit,
	)
	if err != nil {
		return fmt.Errorf("failed to append sensor record: %w", err)
	}
	return nil
}

// Recent 最近的记录
func (r *SQLSensorRecordRepo) Recent(ctx context.Context, limit int) ([]models.SensorRecord, error) {
	query := r.db.Rebind(`SELECT ` + sensorColumns + ` FROM sensor_data ORDER BY id DESC LIMIT ?`)
	records := []models.SensorRecord{}
	if err := r.db.SelectContext(ctx, &records, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list sensor records: %w", err)
	}
	return records, nil
}

// LatestClassified 最近一条识别出声音的记录（排除 Noise 和 Unknown）
func (r *SQLSensorRecordRepo) LatestClassified(ctx context.Context) (*models.SensorRecord, error) {
	query := r.db.Rebind(`SELECT ` + sensorColumns + `
		FROM sensor_data
		WHERE sound_class IS NOT NULL AND sound_class NOT IN ('', ?, ?)
		ORDER BY id DESC
		LIMIT 1
	`)
	var rec models.SensorRecord
	if err := r.db.GetContext(ctx, &rec, query, "Noise", "Unknown"); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoSensorRecords
		}
		return nil, fmt.Errorf("failed to get latest classified record: %w", err)
	}
	return &rec, nil
}

// Events 下雨或识别出声音的记录
func (r *SQLSensorRecordRepo) Events(ctx context.Context, rainThreshold, limit int) ([]models.SensorRecord, error) {
	query := r.db.Rebind(`SELECT ` + sensorColumns + `
		FROM sensor_data
		WHERE rain_val < ?
		   OR (sound_class IS NOT NULL AND sound_class NOT IN ('', ?, ?))
		ORDER BY id DESC
		LIMIT ?
	`)
	records := []models.SensorRecord{}
	if err := r.db.SelectContext(ctx, &records, query, rainThreshold, "Noise", "Unknown", limit); err != nil {
		return nil, fmt.Errorf("failed to list sensor events: %w", err)
	}
	return records, nil
}
