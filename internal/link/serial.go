package link

import (
	"fmt"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"smarthome-gateway/common/config"
)

// OpenSerial 打开串口（8N1）
func OpenSerial(cfg config.SerialConfig, logger *zap.Logger) (*StreamLink, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Port, err)
	}

	logger.Info("Serial port opened",
		zap.String("port", cfg.Port),
		zap.Int("baud_rate", cfg.BaudRate),
	)
	return NewStreamLink(port, logger), nil
}
