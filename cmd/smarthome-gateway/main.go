package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	logpkg "smarthome-gateway/common/logger"
	"smarthome-gateway/internal/config"
	"smarthome-gateway/internal/service"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	log, err := logpkg.NewLogger(&cfg.Log, "smarthome-gateway")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting smarthome-gateway service")

	// 创建上下文（打开链路时的复位等待也可以被信号打断）
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 创建服务（链路打开失败是致命错误）
	svc, err := service.NewGatewayService(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to create gateway service", zap.Error(err))
	}

	// 启动服务（在 goroutine 中）
	errChan := make(chan error, 1)
	go func() {
		errChan <- svc.Start(ctx)
	}()

	// 等待信号或错误
	select {
	case <-ctx.Done():
		log.Info("Received signal, shutting down")
		// 等当前 tick 结束再关闭链路
		<-errChan
	case err := <-errChan:
		if err != nil {
			log.Error("Service error", zap.Error(err))
		}
	}
	stop()

	// 停止服务
	if err := svc.Stop(context.Background()); err != nil {
		log.Error("Error stopping service", zap.Error(err))
	}

	log.Info("Service stopped")
}
