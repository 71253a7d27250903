package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// 存储驱动
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DatabaseConfig PostgreSQL 配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// StoreConfig 控制状态存储配置
// 默认使用本地 SQLite 文件（与设备网关部署在同一台机器上）
type StoreConfig struct {
	Driver      string // sqlite 或 postgres
	SQLitePath  string
	BusyTimeout time.Duration
	AutoMigrate bool
	Postgres    DatabaseConfig
}

// RedisConfig Redis配置
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT配置
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// SerialConfig 串口配置
type SerialConfig struct {
	Port     string
	BaudRate int
}

// ClickHouseConfig ClickHouse 配置（传感器数据分析副本）
type ClickHouseConfig struct {
	Enabled  bool
	Addr     string
	Database string
	Username string
	Password string
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json 或 console
	File   string // 非空时同时写入该文件
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// GetSQLiteDSN SQLite 连接字符串（busy_timeout 让并发写入方排队而不是直接失败）
func (c *StoreConfig) GetSQLiteDSN() string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)",
		c.SQLitePath, c.BusyTimeout.Milliseconds())
}

// LoadFromEnv 从环境变量加载配置
func (c *DatabaseConfig) LoadFromEnv(prefix string) {
	if host := os.Getenv(prefix + "_HOST"); host != "" {
		c.Host = host
	}
	if port := os.Getenv(prefix + "_PORT"); port != "" {
		fmt.Sscanf(port, "%d", &c.Port)
	}
	if user := os.Getenv(prefix + "_USER"); user != "" {
		c.User = user
	}
	if password := os.Getenv(prefix + "_PASSWORD"); password != "" {
		c.Password = password
	}
	if database := os.Getenv(prefix + "_DATABASE"); database != "" {
		c.Database = database
	}
	if sslMode := os.Getenv(prefix + "_SSLMODE"); sslMode != "" {
		c.SSLMode = sslMode
	}
}

// LoadFromEnv 从环境变量加载Redis配置
func (c *RedisConfig) LoadFromEnv(prefix string) {
	if enabled := os.Getenv(prefix + "_ENABLED"); enabled != "" {
		c.Enabled = enabled == "true"
	}
	if addr := os.Getenv(prefix + "_ADDR"); addr != "" {
		c.Addr = addr
	}
	if password := os.Getenv(prefix + "_PASSWORD"); password != "" {
		c.Password = password
	}
	if db := os.Getenv(prefix + "_DB"); db != "" {
		fmt.Sscanf(db, "%d", &c.DB)
	}
}

// LoadFromEnv 从环境变量加载MQTT配置
func (c *MQTTConfig) LoadFromEnv(prefix string) {
	if broker := os.Getenv(prefix + "_BROKER"); broker != "" {
		c.Broker = broker
	}
	if clientID := os.Getenv(prefix + "_CLIENT_ID"); clientID != "" {
		c.ClientID = clientID
	}
	if username := os.Getenv(prefix + "_USERNAME"); username != "" {
		c.Username = username
	}
	if password := os.Getenv(prefix + "_PASSWORD"); password != "" {
		c.Password = password
	}
	if qos := os.Getenv(prefix + "_QOS"); qos != "" {
		if v, err := strconv.Atoi(qos); err == nil && v >= 0 && v <= 2 {
			c.QoS = byte(v)
		}
	}
}

// LoadFromEnv 从环境变量加载串口配置
func (c *SerialConfig) LoadFromEnv(prefix string) {
	if port := os.Getenv(prefix + "_PORT"); port != "" {
		c.Port = port
	}
	if baud := os.Getenv(prefix + "_BAUD_RATE"); baud != "" {
		if v, err := strconv.Atoi(baud); err == nil && v > 0 {
			c.BaudRate = v
		}
	}
}

// LoadFromEnv 从环境变量加载ClickHouse配置
func (c *ClickHouseConfig) LoadFromEnv(prefix string) {
	if enabled := os.Getenv(prefix + "_ENABLED"); enabled != "" {
		c.Enabled = enabled == "true"
	}
	if addr := os.Getenv(prefix + "_ADDR"); addr != "" {
		c.Addr = addr
	}
	if database := os.Getenv(prefix + "_DB"); database != "" {
		c.Database = database
	}
	if user := os.Getenv(prefix + "_USER"); user != "" {
		c.Username = user
	}
	if password := os.Getenv(prefix + "_PASS"); password != "" {
		c.Password = password
	}
}

// LoadFromEnv 从环境变量加载日志配置
func (c *LogConfig) LoadFromEnv(prefix string) {
	if level := os.Getenv(prefix + "_LEVEL"); level != "" {
		c.Level = level
	}
	if format := os.Getenv(prefix + "_FORMAT"); format != "" {
		c.Format = format
	}
	if file := os.Getenv(prefix + "_FILE"); file != "" {
		c.File = file
	}
}
