package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"smarthome-gateway/internal/models"
)

// SQLControlStateRepo system_control 表实现（SQLite / PostgreSQL）
type SQLControlStateRepo struct {
	db *sqlx.DB
}

// NewSQLControlStateRepo 创建控制状态Repository
func NewSQLControlStateRepo(db *sqlx.DB) *SQLControlStateRepo {
	return &SQLControlStateRepo{db: db}
}

type controlRow struct {
	Mode         string         `db:"mode"`
	WindowCmd    string         `db:"cmd_win"`
	HeatCmd      string         `db:"cmd_heat"`
	CoolCmd      string         `db:"cmd_cool"`
	ManualExpiry sql.NullString `db:"manual_expiry"`
	TrashAlert   int            `db:"trash_alert"`
}

// GetControlState 读取控制状态
func (r *SQLControlStateRepo) GetControlState(ctx context.Context) (*models.ControlState, error) {
	query := `
		SELECT mode, cmd_win, cmd_heat, cmd_cool, manual_expiry, trash_alert
		FROM system_control
		WHERE id = 1
	`
	var row controlRow
	if err := r.db.GetContext(ctx, &row, query); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrControlStateNotFound
		}
		return nil, fmt.Errorf("failed to get control state: %w", err)
	}

	state := &models.ControlState{
		Mode:          models.Mode(row.Mode),
		WindowCommand: row.WindowCmd,
		HeatCommand:   row.HeatCmd,
		CoolCommand:   row.CoolCmd,
		PendingAlert:  row.TrashAlert == 1,
	}
	if row.ManualExpiry.Valid {
		expiry := row.ManualExpiry.String
		state.ManualExpiry = &expiry
	}
	return state, nil
}

// RaisePendingAlert 置位 pending_alert（幂等）
func (r *SQLControlStateRepo) RaisePendingAlert(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE system_control SET trash_alert = 1 WHERE id = 1`); err != nil {
		return fmt.Errorf("failed to raise pending alert: %w", err)
	}
	return nil
}

// RevertToAuto 手动模式到期后切回 AUTO
// 条件更新：操作员在此期间修改过模式或到期时间则不生效
func (r *SQLControlStateRepo) RevertToAuto(ctx context.Context, expectedExpiry string) (bool, error) {
	query := r.db.Rebind(`
		UPDATE system_control
		SET mode = ?, manual_expiry = NULL
		WHERE id = 1 AND mode = ? AND manual_expiry = ?
	`)
	result, err := r.db.ExecContext(ctx, query, string(models.ModeAuto), string(models.ModeManual), expectedExpiry)
	if err != nil {
		return false, fmt.Errorf("failed to revert to auto: %w", err)
	}
	return affected(result)
}

// SetManualOverride 进入手动模式
func (r *SQLControlStateRepo) SetManualOverride(ctx context.Context, override ManualOverride) error {
	query := r.db.Rebind(`
		UPDATE system_control
		SET mode = ?,
		    cmd_win = COALESCE(?, cmd_win),
		    cmd_heat = COALESCE(?, cmd_heat),
		    cmd_cool = COALESCE(?, cmd_cool),
		    manual_expiry = ?
		WHERE id = 1
	`)
	result, err := r.db.ExecContext(ctx, query,
		string(models.ModeManual),
		nullString(override.Window),
		nullString(override.Heat),
		nullString(override.Cool),
		override.Expiry,
	)
	if err != nil {
		return fmt.Errorf("failed to set manual override: %w", err)
	}
	return requireRow(result)
}

// SetAuto 操作员主动切回 AUTO
func (r *SQLControlStateRepo) SetAuto(ctx context.Context) error {
	query := r.db.Rebind(`UPDATE system_control SET mode = ?, manual_expiry = NULL WHERE id = 1`)
	result, err := r.db.ExecContext(ctx, query, string(models.ModeAuto))
	if err != nil {
		return fmt.Errorf("failed to set auto mode: %w", err)
	}
	return requireRow(result)
}

// ClearPendingAlert 操作员确认告警已处理
func (r *SQLControlStateRepo) ClearPendingAlert(ctx context.Context) (bool, error) {
	result, err := r.db.ExecContext(ctx, `UPDATE system_control SET trash_alert = 0 WHERE id = 1 AND trash_alert = 1`)
	if err != nil {
		return false, fmt.Errorf("failed to clear pending alert: %w", err)
	}
	return affected(result)
}

func affected(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

func requireRow(result sql.Result) error {
	ok, err := affected(result)
	if err != nil {
		return err
	}
	if !ok {
		return ErrControlStateNotFound
	}
	return nil
}
