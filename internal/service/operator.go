package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	commonredis "smarthome-gateway/common/redis"
	"smarthome-gateway/internal/config"
	"smarthome-gateway/internal/httpapi"
	"smarthome-gateway/internal/notify"
	"smarthome-gateway/internal/operator"
)

// OperatorService 操作员 HTTP 服务
type OperatorService struct {
	config  *config.Config
	logger  *zap.Logger
	server  *http.Server
	closers []func() error
}

// NewOperatorService 创建操作员服务
func NewOperatorService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*OperatorService, error) {
	s := &OperatorService{config: cfg, logger: logger}

	stores, err := OpenStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, stores.Close)

	// 变更通知可选：网关没有收到通知时照常轮询
	var notifier operator.ChangeNotifier
	if cfg.Redis.Enabled {
		redisClient, err := commonredis.Connect(ctx, &cfg.Redis)
		if err != nil {
			logger.Warn("Redis unavailable, control change notifications disabled", zap.Error(err))
		} else {
			s.closers = append(s.closers, redisClient.Close)
			notifier = notify.NewNotifier(redisClient, cfg.Gateway.ControlChannel)
		}
	}

	svc := operator.NewService(stores.Control, stores.Records, notifier, cfg.Operator.DefaultOverride, logger)
	s.server = &http.Server{
		Addr:              cfg.Operator.HTTPAddr,
		Handler:           httpapi.NewRouter(svc, cfg.Operator.RecentLimit, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	return s, nil
}

// Start 监听 HTTP，直到 Stop
func (s *OperatorService) Start(ctx context.Context) error {
	s.logger.Info("Starting operator API", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("operator API failed: %w", err)
	}
	return nil
}

// Stop 优雅关闭
func (s *OperatorService) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.server.Shutdown(shutdownCtx)
	for i := len(s.closers) - 1; i >= 0; i-- {
		if cerr := s.closers[i](); cerr != nil {
			s.logger.Warn("Failed to close resource", zap.Error(cerr))
		}
	}
	s.closers = nil
	return err
}
