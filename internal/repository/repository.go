package repository

import (
	"context"
	"database/sql"
	"errors"

	"smarthome-gateway/internal/models"
)

var (
	// ErrControlStateNotFound system_control 中没有 id=1 的行（schema 未初始化）
	ErrControlStateNotFound = errors.New("control state not found")
	// ErrNoSensorRecords 没有符合条件的传感器记录
	ErrNoSensorRecords = errors.New("no sensor records")
)

// ControlStateRepository 控制状态Repository接口
// 网关只做两种写入：设备告警时置 pending_alert、手动模式到期时切回 AUTO；
// 其余写入来自操作员侧
type ControlStateRepository interface {
	GetControlState(ctx context.Context) (*models.ControlState, error)

	// 网关写入
	RaisePendingAlert(ctx context.Context) error
	// RevertToAuto 仅当仍处于 MANUAL 且到期时间未被并发修改时生效，返回是否生效
	RevertToAuto(ctx context.Context, expectedExpiry string) (bool, error)

	// 操作员写入
	SetManualOverride(ctx context.Context, override ManualOverride) error
	SetAuto(ctx context.Context) error
	// ClearPendingAlert 返回是否确实清除了一个挂起的告警
	ClearPendingAlert(ctx context.Context) (bool, error)
}

// ManualOverride 手动覆盖（nil 字段保持原指令不变）
type ManualOverride struct {
	Window *string
	Heat   *string
	Cool   *string
	Expiry string
}

// SensorRecordRepository 传感器记录Repository接口（只追加）
type SensorRecordRepository interface {
	Append(ctx context.Context, rec *models.SensorRecord) error
	// Recent 最近的记录，按时间倒序
	Recent(ctx context.Context, limit int) ([]models.SensorRecord, error)
	// LatestClassified 最近一条识别出声音的记录
	LatestClassified(ctx context.Context) (*models.SensorRecord, error)
	// Events 值得关注的记录：下雨（rain_val 低于阈值）或识别出非 Noise 的声音
	Events(ctx context.Context, rainThreshold, limit int) ([]models.SensorRecord, error)
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
