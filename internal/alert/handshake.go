// Package alert 告警握手：设备告警位（进程内镜像）与操作员处理结果（pending_alert）的对账。
//
// 状态流转：
//
//	Idle(0,0) → DeviceRaised(1,1) → OperatorResolving(1,0) → ResolveInFlight(1,0) → Idle
//
// DeviceRaised → OperatorResolving 由操作员侧完成，网关只观察存储中的结果。
// ResolveInFlight 期间每个 tick 都重发解除信号，直到设备下一帧遥测上报 trash_alert=0。
package alert

import (
	"sync/atomic"

	"smarthome-gateway/internal/models"
)

// State 握手状态
type State string

const (
	StateIdle              State = "idle"
	StateDeviceRaised      State = "device_raised"
	StateOperatorResolving State = "operator_resolving"
	StateResolveInFlight   State = "resolve_in_flight"
	// StateAwaitingDevice 存储里还挂着告警但设备已清除（例如网关重启后镜像重置）
	StateAwaitingDevice State = "awaiting_device"
)

// Mirror 设备告警位的进程内镜像（不持久化，进程启动时为 false）
type Mirror struct {
	raised atomic.Bool
}

// NewMirror 创建告警镜像
func NewMirror() *Mirror {
	return &Mirror{}
}

// Observe 用遥测帧的告警位覆盖镜像
func (m *Mirror) Observe(bit models.AlertBit) {
	m.raised.Store(bit == models.AlertRaised)
}

// Raised 网关认为设备当前是否处于告警
func (m *Mirror) Raised() bool {
	return m.raised.Load()
}

// NeedsResolve 设备仍在告警而操作员已处理 → 需要发送解除信号
func NeedsResolve(deviceRaised, pendingAlert bool) bool {
	return deviceRaised && !pendingAlert
}

// Classify 计算当前握手状态
// resolveSent 表示解除信号已经至少发送过一次
func Classify(deviceRaised, pendingAlert, resolveSent bool) State {
	switch {
	case deviceRaised && pendingAlert:
		return StateDeviceRaised
	case deviceRaised && resolveSent:
		return StateResolveInFlight
	case deviceRaised:
		return StateOperatorResolving
	case pendingAlert:
		return StateAwaitingDevice
	default:
		return StateIdle
	}
}
