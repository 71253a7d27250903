package service

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"smarthome-gateway/common/database"
	"smarthome-gateway/internal/config"
	"smarthome-gateway/internal/repository"
)

// Stores 控制状态与传感器记录存储
type Stores struct {
	Control repository.ControlStateRepository
	Records repository.SensorRecordRepository
	db      *sqlx.DB
}

// OpenStores 按 STORE_DRIVER 打开存储，需要时建表
func OpenStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Stores, error) {
	if cfg.Store.Driver == config.DriverMemory {
		logger.Warn("Using in-memory store, data will not survive restarts")
		mem := repository.NewMemoryStore()
		return &Stores{Control: mem, Records: mem}, nil
	}

	db, err := database.Open(&cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if cfg.Store.AutoMigrate {
		if err := repository.EnsureSchema(ctx, db, cfg.Store.Driver); err != nil {
			db.Close()
			return nil, err
		}
	}

	logger.Info("Store opened", zap.String("driver", cfg.Store.Driver))
	return &Stores{
		Control: repository.NewSQLControlStateRepo(db),
		Records: repository.NewSQLSensorRecordRepo(db),
		db:      db,
	}, nil
}

// Close 关闭数据库连接
func (s *Stores) Close() error {
	return database.Close(s.db)
}
