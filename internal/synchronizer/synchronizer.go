package synchronizer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"smarthome-gateway/internal/alert"
	"smarthome-gateway/internal/models"
)

const observerTimeout = 500 * time.Millisecond

// ControlStore 同步器对控制状态的读写
type ControlStore interface {
	GetControlState(ctx context.Context) (*models.ControlState, error)
	RevertToAuto(ctx context.Context, expectedExpiry string) (bool, error)
}

// Sender 下行链路
type Sender interface {
	SendLine(line string) error
}

// CommandObserver 指令帧发送成功后的旁路通知（尽力而为）
type CommandObserver interface {
	CommandSent(ctx context.Context, frame models.CommandFrame) error
}

// Synchronizer 指令同步器
// 每个 tick 把控制状态与告警握手结果合成一帧指令，只有变化（或携带解除信号）时才下发
type Synchronizer struct {
	store     ControlStore
	sender    Sender
	mirror    *alert.Mirror
	observers []CommandObserver
	logger    *zap.Logger

	// 最近一次成功发送的指令帧，nil 表示需要无条件发送
	lastSent    *models.CommandFrame
	resolveSent bool
	alertState  alert.State
}

// NewSynchronizer 创建指令同步器
func NewSynchronizer(store ControlStore, sender Sender, mirror *alert.Mirror, logger *zap.Logger, observers ...CommandObserver) *Synchronizer {
	return &Synchronizer{
		store:      store,
		sender:     sender,
		mirror:     mirror,
		observers:  observers,
		logger:     logger,
		alertState: alert.StateIdle,
	}
}

// Sync 执行一次同步
// 返回是否发送了指令帧；发送失败返回错误，去重缓存不更新，下一个 tick 重试
func (s *Synchronizer) Sync(ctx context.Context, now time.Time) (bool, error) {
	state, readOK := s.readState(ctx)

	mode, conflict := s.effectiveMode(ctx, state, now)
	if conflict {
		// 操作员并发修改了控制状态：按最新状态继续本 tick，不再重复写回
		state, readOK = s.readState(ctx)
		mode = state.Mode
		if expired(state, now) {
			mode = models.ModeAuto
		}
	}

	candidate := models.NewCommandFrame(mode, state)

	deviceRaised := s.mirror.Raised()
	if !deviceRaised {
		s.resolveSent = false
	}
	// 读取失败时的默认值不代表操作员已处理告警
	if readOK && alert.NeedsResolve(deviceRaised, state.PendingAlert) {
		candidate.Resolve = models.ResolveResolved
		s.lastSent = nil
	}
	if readOK {
		s.trackAlert(deviceRaised, state.PendingAlert)
	}

	if s.lastSent != nil && s.lastSent.Equal(candidate) {
		return false, nil
	}

	line, err := candidate.Encode()
	if err != nil {
		return false, err
	}
	if err := s.sender.SendLine(line); err != nil {
		return false, fmt.Errorf("failed to send command frame: %w", err)
	}

	sent := candidate
	s.lastSent = &sent
	if candidate.HasResolve() {
		s.resolveSent = true
	}

	s.logger.Info("Command sent",
		zap.String("mode", string(candidate.Mode)),
		zap.String("win", candidate.Window),
		zap.String("heat", candidate.Heat),
		zap.String("cool", candidate.Cool),
		zap.Bool("resolve", candidate.HasResolve()),
	)
	s.notify(ctx, candidate)
	return true, nil
}

// readState 读取失败时回退到默认状态
func (s *Synchronizer) readState(ctx context.Context) (models.ControlState, bool) {
	state, err := s.store.GetControlState(ctx)
	if err != nil {
		s.logger.Warn("Failed to read control state, using defaults", zap.Error(err))
		return models.DefaultControlState(), false
	}
	return *state, true
}

// effectiveMode 处理手动模式到期
// 第二个返回值为 true 表示条件写回没有命中（控制状态已被并发修改）
func (s *Synchronizer) effectiveMode(ctx context.Context, state models.ControlState, now time.Time) (models.Mode, bool) {
	if state.Mode != models.ModeManual {
		return state.Mode, false
	}

	if _, err := state.Expiry(); err != nil {
		// 没有或无法解析的到期时间：保持手动模式直到操作员处理
		if errors.Is(err, models.ErrInvalidExpiry) {
			s.logger.Debug("Ignoring unparseable manual expiry", zap.Error(err))
		}
		return models.ModeManual, false
	}
	if !expired(state, now) {
		return models.ModeManual, false
	}

	reverted, err := s.store.RevertToAuto(ctx, *state.ManualExpiry)
	switch {
	case err != nil:
		s.logger.Error("Failed to revert expired manual override", zap.Error(err))
	case !reverted:
		s.logger.Info("Control state changed concurrently, re-reading")
		return "", true
	default:
		s.logger.Info("Manual override expired, switched to AUTO",
			zap.String("manual_expiry", *state.ManualExpiry),
		)
	}
	return models.ModeAuto, false
}

// expired 手动模式且到期时间可解析并已过
func expired(state models.ControlState, now time.Time) bool {
	if state.Mode != models.ModeManual {
		return false
	}
	expiry, err := state.Expiry()
	return err == nil && now.After(expiry)
}

func (s *Synchronizer) trackAlert(deviceRaised, pendingAlert bool) {
	next := alert.Classify(deviceRaised, pendingAlert, s.resolveSent)
	if next == s.alertState {
		return
	}
	s.logger.Info("Alert handshake state changed",
		zap.String("from", string(s.alertState)),
		zap.String("to", string(next)),
	)
	s.alertState = next
}

func (s *Synchronizer) notify(ctx context.Context, frame models.CommandFrame) {
	for _, o := range s.observers {
		obsCtx, cancel := context.WithTimeout(ctx, observerTimeout)
		if err := o.CommandSent(obsCtx, frame); err != nil {
			s.logger.Warn("Failed to publish command frame", zap.Error(err))
		}
		cancel()
	}
}

// AlertState 当前告警握手状态
func (s *Synchronizer) AlertState() alert.State {
	return s.alertState
}
