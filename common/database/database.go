package database

import (
	"context"
	"fmt"
	"smarthome-gateway/common/config"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

func init() {
	// modernc 的驱动名是 "sqlite"，sqlx 默认只认识 "sqlite3"
	sqlx.BindDriver(config.DriverSQLite, sqlx.QUESTION)
}

// Open 按配置打开控制状态存储
func Open(cfg *config.StoreConfig) (*sqlx.DB, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		return NewSQLiteDB(cfg)
	case config.DriverPostgres:
		return NewPostgresDB(&cfg.Postgres)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}
}

// NewSQLiteDB 创建SQLite数据库连接
func NewSQLiteDB(cfg *config.StoreConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open(config.DriverSQLite, cfg.GetSQLiteDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// 单连接：同一进程内的写入天然串行
	db.SetMaxOpenConns(1)

	if err := ping(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	return db, nil
}

// NewPostgresDB 创建PostgreSQL数据库连接
func NewPostgresDB(cfg *config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open(config.DriverPostgres, cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 设置连接池参数
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.MaxIdle)
	}

	// 测试连接
	if err := ping(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

func ping(db *sqlx.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// Close 关闭数据库连接
func Close(db *sqlx.DB) error {
	if db != nil {
		return db.Close()
	}
	return nil
}
