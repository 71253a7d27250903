package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"smarthome-gateway/common/config"
)

const sqliteSensorTable = `
CREATE TABLE IF NOT EXISTS sensor_data (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp DATETIME NOT NULL,
    temp REAL, humid REAL, rain_val INTEGER,
    sound_class TEXT, confidence REAL,
    win_stat TEXT, heat_stat TEXT, cool_stat TEXT,
    reason TEXT,
    trash_alert INTEGER DEFAULT 0
)`

const postgresSensorTable = `
CREATE TABLE IF NOT EXISTS sensor_data (
    id BIGSERIAL PRIMARY KEY,
    timestamp TIMESTAMPTZ NOT NULL,
    temp DOUBLE PRECISION, humid DOUBLE PRECISION, rain_val INTEGER,
    sound_class TEXT, confidence DOUBLE PRECISION,
    win_stat TEXT, heat_stat TEXT, cool_stat TEXT,
    reason TEXT,
    trash_alert INTEGER DEFAULT 0
)`

// 单行表：id 固定为 1
const controlTable = `
CREATE TABLE IF NOT EXISTS system_control (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    mode TEXT NOT NULL DEFAULT 'AUTO',
    cmd_win TEXT NOT NULL DEFAULT 'Open',
    cmd_heat TEXT NOT NULL DEFAULT 'OFF',
    cmd_cool TEXT NOT NULL DEFAULT 'OFF',
    manual_expiry TEXT,
    trash_alert INTEGER NOT NULL DEFAULT 0
)`

const defaultControlRow = `
INSERT INTO system_control (id, mode, cmd_win, cmd_heat, cmd_cool, trash_alert)
VALUES (1, 'AUTO', 'Open', 'OFF', 'OFF', 0)
ON CONFLICT (id) DO NOTHING`

const sensorTimestampIndex = `CREATE INDEX IF NOT EXISTS idx_sensor_data_timestamp ON sensor_data (timestamp)`

// EnsureSchema 建表并写入默认控制状态（幂等）
// 早期版本的 sensor_data 没有 trash_alert 列，这里顺带补齐
func EnsureSchema(ctx context.Context, db *sqlx.DB, driver string) error {
	var statements []string
	switch driver {
	case config.DriverSQLite:
		statements = []string{sqliteSensorTable, controlTable, defaultControlRow, sensorTimestampIndex}
	case config.DriverPostgres:
		statements = []string{
			postgresSensorTable,
			controlTable,
			defaultControlRow,
			sensorTimestampIndex,
			`ALTER TABLE sensor_data ADD COLUMN IF NOT EXISTS trash_alert INTEGER DEFAULT 0`,
		}
	default:
		return fmt.Errorf("unsupported store driver: %s", driver)
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	if driver == config.DriverSQLite {
		return addSQLiteAlertColumn(ctx, db)
	}
	return nil
}

func addSQLiteAlertColumn(ctx context.Context, db *sqlx.DB) error {
	var count int
	err := db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM pragma_table_info('sensor_data') WHERE name = 'trash_alert'`)
	if err != nil {
		return fmt.Errorf("failed to inspect sensor_data: %w", err)
	}
	if count > 0 {
		return nil
	}
	if _, err := db.ExecContext(ctx, `ALTER TABLE sensor_data ADD COLUMN trash_alert INTEGER DEFAULT 0`); err != nil {
		return fmt.Errorf("failed to add trash_alert column: %w", err)
	}
	return nil
}
