package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"smarthome-gateway/internal/alert"
	"smarthome-gateway/internal/config"
	"smarthome-gateway/internal/ingester"
	"smarthome-gateway/internal/link"
	"smarthome-gateway/internal/repository"
	"smarthome-gateway/internal/synchronizer"
)

// fakeLink 内存链路：inbound 为设备上报，sent 为网关下发
type fakeLink struct {
	mu       sync.Mutex
	inbound  []string
	sent     []string
	readErr  error
	deadErr  error // 每次读取都返回
	writeErr error
	closed   bool
}

func (f *fakeLink) push(lines ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbound = append(f.inbound, lines...)
}

func (f *fakeLink) ReceiveLine() (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deadErr != nil {
		return "", false, f.deadErr
	}
	if f.readErr != nil {
		err := f.readErr
		f.readErr = nil
		return "", false, err
	}
	if len(f.inbound) == 0 {
		return "", false, nil
	}
	line := f.inbound[0]
	f.inbound = f.inbound[1:]
	return line, true, nil
}

func (f *fakeLink) SendLine(line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return link.ErrLinkClosed
	}
	if f.writeErr != nil {
		return f.writeErr
	}
	f.sent = append(f.sent, line)
	return nil
}

func (f *fakeLink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeLink) takeSent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.sent
	f.sent = nil
	return out
}

func (f *fakeLink) pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inbound)
}

const (
	autoFrame    = `{"mode":"AUTO","win":"Open","heat":"OFF","cool":"OFF"}`
	resolveFrame = `{"mode":"AUTO","win":"Open","heat":"OFF","cool":"OFF","resolve":"Resolved"}`
)

func newTestGateway(t *testing.T) (*GatewayService, *fakeLink, *repository.MemoryStore, *alert.Mirror) {
	t.Helper()
	cfg := &config.Config{}
	cfg.Gateway.TickInterval = 5 * time.Millisecond
	cfg.Gateway.MaxLinesPerTick = 4

	logger := zap.NewNop()
	store := repository.NewMemoryStore()
	fl := &fakeLink{}
	mirror := alert.NewMirror()

	s := &GatewayService{
		config:       cfg,
		logger:       logger,
		link:         fl,
		ingester:     ingester.NewIngester(store, store, mirror, logger),
		synchronizer: synchronizer.NewSynchronizer(store, fl, mirror, logger),
		now:          time.Now,
	}
	return s, fl, store, mirror
}

func TestTick_AlertHandshakeEndToEnd(t *testing.T) {
	s, fl, store, mirror := newTestGateway(t)
	ctx := context.Background()

	// 初始状态：发送一次默认指令
	s.Tick(ctx)
	assert.Equal(t, []string{autoFrame}, fl.takeSent())

	// 设备告警：pending_alert 置位，不发解除信号，指令未变化不重发
	fl.push(`{"temp":22,"sound":"Can","conf":0.93,"trash_alert":1}`)
	s.Tick(ctx)
	assert.True(t, mirror.Raised())
	state, _ := store.GetControlState(ctx)
	assert.True(t, state.PendingAlert)
	assert.Empty(t, fl.takeSent())

	// 操作员处理告警 → 下一个 tick 开始每次都发送解除信号
	cleared, err := store.ClearPendingAlert(ctx)
	require.NoError(t, err)
	require.True(t, cleared)
	s.Tick(ctx)
	s.Tick(ctx)
	assert.Equal(t, []string{resolveFrame, resolveFrame}, fl.takeSent())

	// 设备确认清除 → 停止发送解除信号，恢复去重
	fl.push(`{"temp":22,"trash_alert":0}`)
	s.Tick(ctx)
	s.Tick(ctx)
	s.Tick(ctx)
	assert.False(t, mirror.Raised())
	assert.Equal(t, []string{autoFrame}, fl.takeSent())

	records := store.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "Can", records[0].ClassifiedSound)
	assert.Equal(t, 1, records[0].AlertBit)
}

func TestTick_BoundedDrainAndMalformedInput(t *testing.T) {
	s, fl, store, _ := newTestGateway(t)
	ctx := context.Background()

	fl.push("garbage", `{"temp":1`, `{"temp":20}`, `{"temp":21}`, `{"temp":22}`, `{"temp":23}`)

	s.Tick(ctx)
	assert.Equal(t, 2, fl.pending())
	assert.Len(t, store.Records(), 2)

	s.Tick(ctx)
	assert.Equal(t, 0, fl.pending())
	assert.Len(t, store.Records(), 4)
	assert.Equal(t, ingester.Stats{Accepted: 4, Malformed: 2}, s.ingester.Stats())
}

func TestTick_LinkErrorsAreNotFatal(t *testing.T) {
	s, fl, _, _ := newTestGateway(t)
	ctx := context.Background()

	fl.readErr = errors.New("read: device not configured")
	fl.writeErr = errors.New("write: broken pipe")
	s.Tick(ctx)
	assert.Empty(t, fl.takeSent())

	// 恢复后补发
	fl.writeErr = nil
	s.Tick(ctx)
	assert.Equal(t, []string{autoFrame}, fl.takeSent())
}

func TestTick_DeadLinkKeepsLoopRunning(t *testing.T) {
	s, fl, store, _ := newTestGateway(t)
	ctx := context.Background()

	fl.mu.Lock()
	fl.deadErr = link.ErrLinkClosed
	fl.mu.Unlock()
	for i := 0; i < 3; i++ {
		s.Tick(ctx)
	}
	assert.Equal(t, uint64(3), s.readFailures.Load())
	assert.Equal(t, []string{autoFrame}, fl.takeSent())

	fl.mu.Lock()
	fl.deadErr = nil
	fl.mu.Unlock()
	fl.push(`{"temp":20.5,"trash_alert":0}`)
	s.Tick(ctx)
	assert.Equal(t, uint64(0), s.readFailures.Load())
	assert.Len(t, store.Records(), 1)
}

func TestStartStop(t *testing.T) {
	s, fl, store, _ := newTestGateway(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	fl.push(`{"temp":19.5}`)
	require.Eventually(t, func() bool {
		return len(store.Records()) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("gateway loop did not stop")
	}

	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
	assert.True(t, fl.closed)
	assert.ErrorIs(t, fl.SendLine("{}"), link.ErrLinkClosed)
}

func TestStart_WakeTriggersTick(t *testing.T) {
	s, fl, store, _ := newTestGateway(t)
	s.config.Gateway.TickInterval = time.Hour
	wake := make(chan struct{}, 1)
	s.wake = wake

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Start(ctx)

	// 首个 tick 立即执行
	require.Eventually(t, func() bool { return len(fl.takeSent()) == 1 }, time.Second, 5*time.Millisecond)

	heat := "ON"
	require.NoError(t, store.SetManualOverride(ctx, repository.ManualOverride{
		Heat:   &heat,
		Expiry: "2099-01-01 00:00:00.000000",
	}))
	wake <- struct{}{}

	require.Eventually(t, func() bool {
		fl.mu.Lock()
		defer fl.mu.Unlock()
		return len(fl.sent) == 1 && fl.sent[0] == `{"mode":"MANUAL","win":"Open","heat":"ON","cool":"OFF"}`
	}, time.Second, 5*time.Millisecond)
}
