package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"smarthome-gateway/common/config"
)

// 链路类型
const (
	LinkSerial = "serial"
	LinkTCP    = "tcp"
	LinkMQTT   = "mqtt"
)

// DriverMemory 不落盘的内存存储（本地调试）
const DriverMemory = "memory"

// LinkConfig 设备链路配置
type LinkConfig struct {
	Type           string // serial, tcp 或 mqtt
	Serial         config.SerialConfig
	TCPAddr        string // ser2net 之类的串口转 TCP 桥
	MQTT           config.MQTTConfig
	TelemetryTopic string // 设备 → 网关
	CommandTopic   string // 网关 → 设备
	SettleDelay    time.Duration
}

// Config 网关与操作员服务配置
type Config struct {
	Store      config.StoreConfig
	Redis      config.RedisConfig
	ClickHouse config.ClickHouseConfig
	Link       LinkConfig

	Gateway struct {
		TickInterval    time.Duration
		MaxLinesPerTick int
		TelemetryStream string // 遥测记录流
		CommandStream   string // 已发送指令流
		StreamMaxLen    int64
		ControlChannel  string // 控制状态变更通知频道
	}

	// Webhook 设备告警外部通知（URL 为空时不启用）
	Webhook struct {
		AlertURL string
		Timeout  time.Duration
	}

	Operator struct {
		HTTPAddr        string
		DefaultOverride time.Duration
		RecentLimit     int
	}

	Log config.LogConfig
}

// Load 加载配置
// 如果工作目录下有 .env 文件先加载它，已存在的环境变量优先
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}

	// 存储配置
	cfg.Store.Driver = getEnv("STORE_DRIVER", config.DriverSQLite)
	cfg.Store.SQLitePath = getEnv("SQLITE_PATH", "smart_home.db")
	cfg.Store.BusyTimeout = getEnvDurationMs("SQLITE_BUSY_TIMEOUT_MS", 5000)
	cfg.Store.AutoMigrate = getEnvBool("STORE_AUTO_MIGRATE", true)
	cfg.Store.Postgres.Host = getEnv("DB_HOST", "localhost")
	cfg.Store.Postgres.Port = getEnvInt("DB_PORT", 5432)
	cfg.Store.Postgres.User = getEnv("DB_USER", "postgres")
	cfg.Store.Postgres.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Store.Postgres.Database = getEnv("DB_NAME", "smarthome")
	cfg.Store.Postgres.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Store.Postgres.MaxConns = getEnvInt("DB_MAX_CONNS", 5)
	cfg.Store.Postgres.MaxIdle = getEnvInt("DB_MAX_IDLE", 2)

	// Redis（可选：事件流 + 控制变更通知）
	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.LoadFromEnv("REDIS")

	// ClickHouse（可选：传感器数据分析副本）
	cfg.ClickHouse.Addr = "localhost:9000"
	cfg.ClickHouse.Database = "smarthome"
	cfg.ClickHouse.Username = "default"
	cfg.ClickHouse.LoadFromEnv("CLICKHOUSE")

	// 设备链路
	cfg.Link.Type = getEnv("LINK_TYPE", LinkSerial)
	cfg.Link.Serial.Port = "/dev/ttyACM0"
	cfg.Link.Serial.BaudRate = 115200
	cfg.Link.Serial.LoadFromEnv("SERIAL")
	cfg.Link.TCPAddr = getEnv("LINK_TCP_ADDR", "localhost:2000")
	cfg.Link.MQTT.Broker = "tcp://localhost:1883"
	cfg.Link.MQTT.ClientID = "smarthome-gateway"
	cfg.Link.MQTT.QoS = 1
	cfg.Link.MQTT.LoadFromEnv("LINK_MQTT")
	cfg.Link.TelemetryTopic = getEnv("LINK_MQTT_TELEMETRY_TOPIC", "smarthome/device/telemetry")
	cfg.Link.CommandTopic = getEnv("LINK_MQTT_COMMAND_TOPIC", "smarthome/device/command")
	// 打开串口会让 Arduino 复位，等它启动完再收发
	cfg.Link.SettleDelay = getEnvDurationMs("LINK_SETTLE_DELAY_MS", 2000)

	// 同步循环
	cfg.Gateway.TickInterval = getEnvDurationMs("GATEWAY_TICK_MS", 100)
	cfg.Gateway.MaxLinesPerTick = getEnvInt("GATEWAY_MAX_LINES_PER_TICK", 32)
	cfg.Gateway.TelemetryStream = getEnv("GATEWAY_TELEMETRY_STREAM", "smarthome:telemetry:stream")
	cfg.Gateway.CommandStream = getEnv("GATEWAY_COMMAND_STREAM", "smarthome:command:stream")
	cfg.Gateway.StreamMaxLen = int64(getEnvInt("GATEWAY_STREAM_MAXLEN", 10000))
	cfg.Gateway.ControlChannel = getEnv("GATEWAY_CONTROL_CHANNEL", "smarthome:control:changed")

	cfg.Webhook.AlertURL = getEnv("ALERT_WEBHOOK_URL", "")
	cfg.Webhook.Timeout = getEnvDurationMs("ALERT_WEBHOOK_TIMEOUT_MS", 5000)

	// 操作员服务
	cfg.Operator.HTTPAddr = getEnv("OPERATOR_HTTP_ADDR", ":8080")
	cfg.Operator.DefaultOverride = time.Duration(getEnvInt("OPERATOR_DEFAULT_OVERRIDE_MINUTES", 30)) * time.Minute
	cfg.Operator.RecentLimit = getEnvInt("OPERATOR_RECENT_LIMIT", 50)

	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	cfg.Log.LoadFromEnv("LOG")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验枚举型配置
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case config.DriverSQLite, config.DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("invalid STORE_DRIVER: %q", c.Store.Driver)
	}
	switch c.Link.Type {
	case LinkSerial, LinkTCP, LinkMQTT:
	default:
		return fmt.Errorf("invalid LINK_TYPE: %q", c.Link.Type)
	}
	if c.Gateway.TickInterval <= 0 {
		return fmt.Errorf("GATEWAY_TICK_MS must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt 非法值回退默认值
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil && v > 0 {
			return v
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseBool(value); err == nil {
			return v
		}
	}
	return defaultValue
}

// getEnvDurationMs 毫秒，允许 0
func getEnvDurationMs(key string, defaultMs int) time.Duration {
	ms := defaultMs
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil && v >= 0 {
			ms = v
		}
	}
	return time.Duration(ms) * time.Millisecond
}
