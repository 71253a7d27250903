package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ResolveResolved 告警解除信号
const ResolveResolved = "Resolved"

// AlertBit 设备上报的告警位（0/1，兼容 true/false）
type AlertBit int

const (
	AlertClear  AlertBit = 0
	AlertRaised AlertBit = 1
)

// UnmarshalJSON 兼容数字和布尔两种写法；只有 1 视为告警
func (b *AlertBit) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "null":
		return nil
	case "true":
		*b = AlertRaised
		return nil
	case "false":
		*b = AlertClear
		return nil
	}

	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid alert bit: %s", data)
	}
	if n == 1 {
		*b = AlertRaised
	} else {
		*b = AlertClear
	}
	return nil
}

// TelemetryFrame 设备 → 网关的遥测帧
type TelemetryFrame struct {
	Temp       float64  `json:"temp"`
	Humid      float64  `json:"humid"`
	Rain       int      `json:"rain"`
	Sound      string   `json:"sound"`
	Conf       float64  `json:"conf"`
	WinStat    string   `json:"win_stat"`
	HeatStat   string   `json:"heat_stat"`
	CoolStat   string   `json:"cool_stat"`
	Reason     string   `json:"reason"`
	TrashAlert AlertBit `json:"trash_alert"`

	// InvalidFields 类型不符、保留了默认值的字段
	InvalidFields []string `json:"-"`
}

// UnmarshalJSON 逐字段解码
// 整体不是 JSON 对象时报错；单个字段类型不符只保留该字段的默认值，整帧照常使用
func (f *TelemetryFrame) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	decode := func(key string, fn func(raw json.RawMessage) error) {
		raw, ok := fields[key]
		if !ok || string(bytes.TrimSpace(raw)) == "null" {
			return
		}
		if err := fn(raw); err != nil {
			f.InvalidFields = append(f.InvalidFields, key)
		}
	}
	number := func(dst *float64) func(json.RawMessage) error {
		return func(raw json.RawMessage) error {
			v, err := parseNumber(raw)
			if err == nil {
				*dst = v
			}
			return err
		}
	}
	text := func(dst *string) func(json.RawMessage) error {
		return func(raw json.RawMessage) error {
			return json.Unmarshal(raw, dst)
		}
	}

	decode("temp", number(&f.Temp))
	decode("humid", number(&f.Humid))
	decode("rain", func(raw json.RawMessage) error {
		v, err := parseNumber(raw)
		if err == nil {
			f.Rain = int(math.Round(v))
		}
		return err
	})
	decode("sound", text(&f.Sound))
	decode("conf", number(&f.Conf))
	decode("win_stat", text(&f.WinStat))
	decode("heat_stat", text(&f.HeatStat))
	decode("cool_stat", text(&f.CoolStat))
	decode("reason", text(&f.Reason))
	decode("trash_alert", func(raw json.RawMessage) error {
		return json.Unmarshal(raw, &f.TrashAlert)
	})
	return nil
}

// parseNumber 接受 JSON 数字或数字字符串
func parseNumber(raw json.RawMessage) (float64, error) {
	var v float64
	if err := json.Unmarshal(raw, &v); err == nil {
		return v, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("not a number: %s", raw)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not a number: %s", raw)
	}
	return v, nil
}

// DefaultTelemetryFrame 缺失字段的默认值
func DefaultTelemetryFrame() TelemetryFrame {
	return TelemetryFrame{
		Sound:    "Unknown",
		WinStat:  "Unknown",
		HeatStat: SwitchOff,
		CoolStat: SwitchOff,
	}
}

// CommandFrame 网关 → 设备的指令帧
type CommandFrame struct {
	Mode    Mode   `json:"mode"`
	Window  string `json:"win"`
	Heat    string `json:"heat"`
	Cool    string `json:"cool"`
	Resolve string `json:"resolve,omitempty"`
}

// NewCommandFrame 由控制状态构建指令帧
func NewCommandFrame(mode Mode, state ControlState) CommandFrame {
	return CommandFrame{
		Mode:   mode,
		Window: state.WindowCommand,
		Heat:   state.HeatCommand,
		Cool:   state.CoolCommand,
	}
}

// Equal 逐字段比较
func (f CommandFrame) Equal(other CommandFrame) bool {
	return f.Mode == other.Mode &&
		f.Window == other.Window &&
		f.Heat == other.Heat &&
		f.Cool == other.Cool &&
		f.Resolve == other.Resolve
}

// HasResolve 是否携带告警解除信号
func (f CommandFrame) HasResolve() bool {
	return f.Resolve != ""
}

// Encode 序列化为一行 JSON（不含换行）
func (f CommandFrame) Encode() (string, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("failed to marshal command frame: %w", err)
	}
	return string(b), nil
}
