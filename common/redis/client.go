package redis

import (
	"context"
	"fmt"
	"smarthome-gateway/common/config"
	"time"

	"github.com/go-redis/redis/v8"
)

// 连接与探测超时
const (
	dialTimeout = 2 * time.Second
	pingTimeout = 2 * time.Second
)

// Connect 创建客户端并探测连通性；失败时关闭客户端并返回错误
func Connect(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: dialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}
