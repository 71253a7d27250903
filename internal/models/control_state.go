package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Mode 控制模式
type Mode string

const (
	ModeAuto   Mode = "AUTO"
	ModeManual Mode = "MANUAL"
)

// 执行器指令取值（与设备固件保持一致）
const (
	WindowOpen   = "Open"
	WindowClosed = "Closed"
	SwitchOn     = "ON"
	SwitchOff    = "OFF"
)

// ExpiryLayout 手动模式到期时间的存储格式（本地时间，微秒精度）
const ExpiryLayout = "2006-01-02 15:04:05.000000"

var (
	// ErrNoExpiry 手动模式没有设置到期时间
	ErrNoExpiry = errors.New("no manual expiry")
	// ErrInvalidExpiry 到期时间无法解析
	ErrInvalidExpiry = errors.New("invalid manual expiry")
)

// 兼容历史数据：任意小数秒位数、isoformat、RFC3339
var expiryLayouts = []string{
	ExpiryLayout,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
}

// ControlState 控制状态（system_control 单行记录，操作员可修改）
type ControlState struct {
	Mode          Mode    `json:"mode"`
	WindowCommand string  `json:"window_command"`
	HeatCommand   string  `json:"heat_command"`
	CoolCommand   string  `json:"cool_command"`
	ManualExpiry  *string `json:"manual_expiry,omitempty"`
	PendingAlert  bool    `json:"pending_alert"`
}

// DefaultControlState 首次启动的默认值，也是读取失败时的安全回退值
func DefaultControlState() ControlState {
	return ControlState{
		Mode:          ModeAuto,
		WindowCommand: WindowOpen,
		HeatCommand:   SwitchOff,
		CoolCommand:   SwitchOff,
	}
}

// Expiry 解析手动模式到期时间
func (s ControlState) Expiry() (time.Time, error) {
	if s.ManualExpiry == nil || strings.TrimSpace(*s.ManualExpiry) == "" {
		return time.Time{}, ErrNoExpiry
	}
	return ParseExpiry(*s.ManualExpiry)
}

// ParseExpiry 按本地时区解析到期时间
func ParseExpiry(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range expiryLayouts {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidExpiry, value)
}

// FormatExpiry 格式化到期时间
func FormatExpiry(t time.Time) string {
	return t.In(time.Local).Format(ExpiryLayout)
}

// ValidWindowCommand 窗户指令是否合法
func ValidWindowCommand(v string) bool {
	return v == WindowOpen || v == WindowClosed
}

// ValidSwitchCommand 制热/制冷指令是否合法
func ValidSwitchCommand(v string) bool {
	return v == SwitchOn || v == SwitchOff
}
