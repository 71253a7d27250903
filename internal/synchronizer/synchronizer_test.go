package synchronizer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"smarthome-gateway/internal/alert"
	"smarthome-gateway/internal/models"
	"smarthome-gateway/internal/repository"
)

// flakyStore 可注入读写失败的控制状态存储
type flakyStore struct {
	*repository.MemoryStore
	readErr   error
	revertErr error
	reverts   int
	// 非 nil 时写回前先执行（模拟操作员并发写入），写回结果为未命中
	beforeRevert func()
}

func (s *flakyStore) GetControlState(ctx context.Context) (*models.ControlState, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	return s.MemoryStore.GetControlState(ctx)
}

func (s *flakyStore) RevertToAuto(ctx context.Context, expectedExpiry string) (bool, error) {
	s.reverts++
	if s.revertErr != nil {
		return false, s.revertErr
	}
	if s.beforeRevert != nil {
		s.beforeRevert()
		return false, nil
	}
	return s.MemoryStore.RevertToAuto(ctx, expectedExpiry)
}

type fakeSender struct {
	lines []string
	err   error
}

func (f *fakeSender) SendLine(line string) error {
	if f.err != nil {
		return f.err
	}
	f.lines = append(f.lines, line)
	return nil
}

type recordingObserver struct {
	frames []models.CommandFrame
}

func (o *recordingObserver) CommandSent(ctx context.Context, frame models.CommandFrame) error {
	o.frames = append(o.frames, frame)
	return nil
}

const (
	autoDefault = `{"mode":"AUTO","win":"Open","heat":"OFF","cool":"OFF"}`
	withResolve = `{"mode":"AUTO","win":"Open","heat":"OFF","cool":"OFF","resolve":"Resolved"}`
)

var now = time.Date(2026, 10, 19, 12, 0, 0, 0, time.Local)

func newTestSynchronizer() (*Synchronizer, *flakyStore, *fakeSender, *alert.Mirror) {
	store := &flakyStore{MemoryStore: repository.NewMemoryStore()}
	sender := &fakeSender{}
	mirror := alert.NewMirror()
	return NewSynchronizer(store, sender, mirror, zap.NewNop()), store, sender, mirror
}

func TestSync_DedupIdenticalCommands(t *testing.T) {
	sync, _, sender, _ := newTestSynchronizer()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := sync.Sync(ctx, now.Add(time.Duration(i)*100*time.Millisecond))
		require.NoError(t, err)
	}

	assert.Equal(t, []string{autoDefault}, sender.lines)
}

func TestSync_SendsOnChange(t *testing.T) {
	sync, store, sender, _ := newTestSynchronizer()
	ctx := context.Background()

	sent, err := sync.Sync(ctx, now)
	require.NoError(t, err)
	assert.True(t, sent)

	window := models.WindowClosed
	require.NoError(t, store.SetManualOverride(ctx, repository.ManualOverride{
		Window: &window,
		Expiry: models.FormatExpiry(now.Add(10 * time.Minute)),
	}))

	sent, err = sync.Sync(ctx, now.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, sent)

	sent, _ = sync.Sync(ctx, now.Add(2*time.Second))
	assert.False(t, sent)

	require.Len(t, sender.lines, 2)
	assert.Equal(t, `{"mode":"MANUAL","win":"Closed","heat":"OFF","cool":"OFF"}`, sender.lines[1])
}

func TestSync_ForcedResendWhileResolving(t *testing.T) {
	sync, store, sender, mirror := newTestSynchronizer()
	ctx := context.Background()

	// 设备告警，操作员尚未处理：不发解除信号
	mirror.Observe(models.AlertRaised)
	require.NoError(t, store.RaisePendingAlert(ctx))
	_, err := sync.Sync(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, []string{autoDefault}, sender.lines)
	assert.Equal(t, alert.StateDeviceRaised, sync.AlertState())

	// 操作员处理后，每个 tick 都重发解除信号
	_, err = store.ClearPendingAlert(ctx)
	require.NoError(t, err)
	for i := 1; i <= 3; i++ {
		sent, err := sync.Sync(ctx, now.Add(time.Duration(i)*100*time.Millisecond))
		require.NoError(t, err)
		assert.True(t, sent)
	}
	assert.Equal(t, []string{autoDefault, withResolve, withResolve, withResolve}, sender.lines)
	assert.Equal(t, alert.StateResolveInFlight, sync.AlertState())

	// 设备清除告警后恢复普通指令帧并重新去重
	mirror.Observe(models.AlertClear)
	_, _ = sync.Sync(ctx, now.Add(time.Second))
	_, _ = sync.Sync(ctx, now.Add(2*time.Second))
	assert.Equal(t, []string{autoDefault, withResolve, withResolve, withResolve, autoDefault}, sender.lines)
	assert.Equal(t, alert.StateIdle, sync.AlertState())
}

func TestSync_ManualExpiryRevertsToAuto(t *testing.T) {
	sync, store, sender, _ := newTestSynchronizer()
	ctx := context.Background()

	heat := models.SwitchOn
	expiry := now.Add(-time.Second)
	require.NoError(t, store.SetManualOverride(ctx, repository.ManualOverride{
		Heat:   &heat,
		Expiry: models.FormatExpiry(expiry),
	}))

	sent, err := sync.Sync(ctx, now)
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, []string{`{"mode":"AUTO","win":"Open","heat":"ON","cool":"OFF"}`}, sender.lines)

	state, _ := store.GetControlState(ctx)
	assert.Equal(t, models.ModeAuto, state.Mode)
	assert.Nil(t, state.ManualExpiry)
}

func TestSync_ManualNotYetExpired(t *testing.T) {
	sync, store, sender, _ := newTestSynchronizer()
	ctx := context.Background()

	require.NoError(t, store.SetManualOverride(ctx, repository.ManualOverride{
		Expiry: models.FormatExpiry(now.Add(time.Minute)),
	}))

	_, err := sync.Sync(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, []string{`{"mode":"MANUAL","win":"Open","heat":"OFF","cool":"OFF"}`}, sender.lines)
	assert.Equal(t, 0, store.reverts)
}

func TestSync_UnparseableExpiryStaysManual(t *testing.T) {
	sync, store, sender, _ := newTestSynchronizer()
	ctx := context.Background()

	garbage := "next tuesday"
	store.PutControlState(models.ControlState{
		Mode:          models.ModeManual,
		WindowCommand: models.WindowClosed,
		HeatCommand:   models.SwitchOff,
		CoolCommand:   models.SwitchOn,
		ManualExpiry:  &garbage,
	})

	_, err := sync.Sync(ctx, now.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{`{"mode":"MANUAL","win":"Closed","heat":"OFF","cool":"ON"}`}, sender.lines)
	assert.Equal(t, 0, store.reverts)

	state, _ := store.GetControlState(ctx)
	assert.Equal(t, models.ModeManual, state.Mode)
}

func TestSync_RevertFailureStillUsesAuto(t *testing.T) {
	sync, store, sender, _ := newTestSynchronizer()
	ctx := context.Background()

	require.NoError(t, store.SetManualOverride(ctx, repository.ManualOverride{
		Expiry: models.FormatExpiry(now.Add(-time.Minute)),
	}))
	store.revertErr = errors.New("database is locked")

	_, err := sync.Sync(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, []string{autoDefault}, sender.lines)

	// 下一个 tick 继续尝试写回
	store.revertErr = nil
	_, err = sync.Sync(ctx, now.Add(100*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, 2, store.reverts)
	state, _ := store.GetControlState(ctx)
	assert.Equal(t, models.ModeAuto, state.Mode)
}

func TestSync_RevertConflictStillSendsResolve(t *testing.T) {
	sync, store, sender, mirror := newTestSynchronizer()
	ctx := context.Background()

	require.NoError(t, store.SetManualOverride(ctx, repository.ManualOverride{
		Expiry: models.FormatExpiry(now.Add(-time.Minute)),
	}))
	mirror.Observe(models.AlertRaised)
	store.beforeRevert = func() {}

	sent, err := sync.Sync(ctx, now)
	require.NoError(t, err)
	assert.True(t, sent)
	// 控制状态没变但仍已到期：本 tick 按 AUTO 发送，下个 tick 再写回
	assert.Equal(t, []string{withResolve}, sender.lines)
	assert.Equal(t, 1, store.reverts)
}

func TestSync_RevertConflictUsesFreshState(t *testing.T) {
	sync, store, sender, mirror := newTestSynchronizer()
	ctx := context.Background()

	require.NoError(t, store.SetManualOverride(ctx, repository.ManualOverride{
		Expiry: models.FormatExpiry(now.Add(-time.Minute)),
	}))
	mirror.Observe(models.AlertRaised)

	// 写回前操作员延长了手动覆盖
	window := models.WindowClosed
	store.beforeRevert = func() {
		require.NoError(t, store.SetManualOverride(ctx, repository.ManualOverride{
			Window: &window,
			Expiry: models.FormatExpiry(now.Add(10 * time.Minute)),
		}))
	}

	sent, err := sync.Sync(ctx, now)
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, []string{`{"mode":"MANUAL","win":"Closed","heat":"OFF","cool":"OFF","resolve":"Resolved"}`}, sender.lines)

	state, _ := store.GetControlState(ctx)
	assert.Equal(t, models.ModeManual, state.Mode)
}

func TestSync_ReadFailureFallsBackToDefaults(t *testing.T) {
	sync, store, sender, mirror := newTestSynchronizer()
	ctx := context.Background()

	mirror.Observe(models.AlertRaised)
	store.readErr = errors.New("no such table: system_control")

	sent, err := sync.Sync(ctx, now)
	require.NoError(t, err)
	assert.True(t, sent)
	// 默认状态下不发送解除信号
	assert.Equal(t, []string{autoDefault}, sender.lines)
}

func TestSync_SendFailureRetriedNextTick(t *testing.T) {
	sync, _, sender, _ := newTestSynchronizer()
	ctx := context.Background()
	observer := &recordingObserver{}
	sync.observers = append(sync.observers, observer)

	sender.err = errors.New("write: broken pipe")
	sent, err := sync.Sync(ctx, now)
	assert.Error(t, err)
	assert.False(t, sent)
	assert.Empty(t, observer.frames)

	sender.err = nil
	sent, err = sync.Sync(ctx, now.Add(100*time.Millisecond))
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, []string{autoDefault}, sender.lines)
	require.Len(t, observer.frames, 1)
	assert.Equal(t, models.ModeAuto, observer.frames[0].Mode)
}
