package link

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
)

const dialTimeout = 5 * time.Second

// DialTCP 连接串口转 TCP 桥（如 ser2net）
func DialTCP(ctx context.Context, addr string, logger *zap.Logger) (*StreamLink, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	logger.Info("TCP link connected", zap.String("addr", addr))
	return NewStreamLink(conn, logger), nil
}
