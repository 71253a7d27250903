package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	commonredis "smarthome-gateway/common/redis"
	"smarthome-gateway/internal/alert"
	"smarthome-gateway/internal/analytics"
	"smarthome-gateway/internal/config"
	"smarthome-gateway/internal/events"
	"smarthome-gateway/internal/ingester"
	"smarthome-gateway/internal/link"
	"smarthome-gateway/internal/notify"
	"smarthome-gateway/internal/synchronizer"
	"smarthome-gateway/internal/webhook"
)

// GatewayService 设备网关服务
// 单一循环：每个 tick 先取完已缓冲的遥测帧（有上限），再做一次指令同步
type GatewayService struct {
	config       *config.Config
	logger       *zap.Logger
	link         link.Link
	ingester     *ingester.Ingester
	synchronizer *synchronizer.Synchronizer

	// 控制状态变更通知，nil 表示只轮询
	wake <-chan struct{}
	now  func() time.Time

	// 连续读取失败次数
	readFailures atomic.Uint64

	closers  []func() error
	stopOnce sync.Once
}

// NewGatewayService 创建网关服务
// 链路打开失败返回错误，由调用方终止进程
func NewGatewayService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*GatewayService, error) {
	sessionID := uuid.NewString()
	logger = logger.With(zap.String("session_id", sessionID))

	s := &GatewayService{
		config: cfg,
		logger: logger,
		now:    time.Now,
	}

	stores, err := OpenStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, stores.Close)

	var (
		sinks     []ingester.RecordSink
		observers []synchronizer.CommandObserver
	)

	// Redis：事件流 + 控制变更唤醒（不可用时降级为纯轮询）
	if cfg.Redis.Enabled {
		redisClient, err := commonredis.Connect(ctx, &cfg.Redis)
		if err != nil {
			logger.Warn("Redis unavailable, event fan-out disabled", zap.Error(err))
		} else {
			s.closers = append(s.closers, redisClient.Close)
			publisher := events.NewPublisher(redisClient, events.StreamConfig{
				TelemetryStream: cfg.Gateway.TelemetryStream,
				CommandStream:   cfg.Gateway.CommandStream,
				MaxLen:          cfg.Gateway.StreamMaxLen,
			}, sessionID)
			sinks = append(sinks, publisher)
			observers = append(observers, publisher)
			s.wake = s.watchControlChanges(ctx, redisClient)
		}
	}

	// ClickHouse：传感器记录分析副本
	if cfg.ClickHouse.Enabled {
		conn, err := analytics.Open(ctx, &cfg.ClickHouse, logger)
		if err != nil {
			logger.Warn("ClickHouse unavailable, analytics disabled", zap.Error(err))
		} else {
			s.closers = append(s.closers, conn.Close)
			sinks = append(sinks, analytics.NewSink(conn, sessionID))
		}
	}

	if cfg.Webhook.AlertURL != "" {
		notifier := webhook.NewAlertNotifier(cfg.Webhook.AlertURL, sessionID, cfg.Webhook.Timeout, logger)
		s.closers = append(s.closers, func() error {
			notifier.Close()
			return nil
		})
		sinks = append(sinks, notifier)
	}

	l, err := link.Open(ctx, &cfg.Link, logger)
	if err != nil {
		s.closeResources()
		return nil, fmt.Errorf("failed to open link: %w", err)
	}

	mirror := alert.NewMirror()
	s.link = l
	s.ingester = ingester.NewIngester(stores.Records, stores.Control, mirror, logger, sinks...)
	s.synchronizer = synchronizer.NewSynchronizer(stores.Control, l, mirror, logger, observers...)
	return s, nil
}

func (s *GatewayService) watchControlChanges(ctx context.Context, client *redis.Client) <-chan struct{} {
	wake, err := notify.NewWatcher(client, s.config.Gateway.ControlChannel, s.logger).Watch(ctx)
	if err != nil {
		s.logger.Warn("Control change notifications disabled", zap.Error(err))
		return nil
	}
	return wake
}

// Start 运行同步循环，直到 ctx 取消
func (s *GatewayService) Start(ctx context.Context) error {
	s.logger.Info("Starting gateway loop",
		zap.String("link_type", s.config.Link.Type),
		zap.Duration("tick_interval", s.config.Gateway.TickInterval),
		zap.Int("max_lines_per_tick", s.config.Gateway.MaxLinesPerTick),
	)

	ticker := time.NewTicker(s.config.Gateway.TickInterval)
	defer ticker.Stop()

	for {
		s.Tick(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-s.wake:
		}
	}
}

// Tick 一个周期：收取遥测帧，然后同步一次指令
func (s *GatewayService) Tick(ctx context.Context) {
	for i := 0; i < s.config.Gateway.MaxLinesPerTick; i++ {
		line, ok, err := s.link.ReceiveLine()
		if err != nil {
			// 链路断开时每个 tick 都会报错，按次数限流
			if n := s.readFailures.Add(1); n == 1 || n%100 == 0 {
				s.logger.Warn("Link read failed", zap.Error(err), zap.Uint64("failures", n))
			}
			break
		}
		s.readFailures.Store(0)
		if !ok {
			break
		}
		// 非法帧静默丢弃
		_ = s.ingester.Ingest(ctx, line)
	}

	if ctx.Err() != nil {
		return
	}
	if _, err := s.synchronizer.Sync(ctx, s.now()); err != nil {
		s.logger.Warn("Link write failed", zap.Error(err))
	}
}

// Stop 关闭链路和存储；之后不再收发任何帧
func (s *GatewayService) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		if s.link != nil {
			if cerr := s.link.Close(); cerr != nil {
				err = fmt.Errorf("failed to close link: %w", cerr)
			}
		}
		s.closeResources()

		stats := s.ingester.Stats()
		s.logger.Info("Gateway stopped",
			zap.Uint64("frames_accepted", stats.Accepted),
			zap.Uint64("frames_malformed", stats.Malformed),
			zap.String("alert_state", string(s.synchronizer.AlertState())),
		)
	})
	return err
}

func (s *GatewayService) closeResources() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn("Failed to close resource", zap.Error(err))
		}
	}
	s.closers = nil
}
