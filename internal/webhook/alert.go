package webhook

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"smarthome-gateway/internal/models"
)

// AlertPayload 告警通知请求体
type AlertPayload struct {
	Event       string    `json:"event"`
	SessionID   string    `json:"session_id"`
	RaisedAt    time.Time `json:"raised_at"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	RainReading int       `json:"rain_reading"`
	Sound       string    `json:"classified_sound"`
}

// AlertNotifier 设备告警位 0→1 时向外部 URL 推送一次通知
// 实现 ingester.RecordSink；推送在后台完成，不阻塞同步循环
type AlertNotifier struct {
	httpClient *resty.Client
	path       string
	sessionID  string
	logger     *zap.Logger

	mu      sync.Mutex
	lastBit int
	wg      sync.WaitGroup
}

// NewAlertNotifier 创建告警通知器
// url: 完整的 webhook 地址
func NewAlertNotifier(url, sessionID string, timeout time.Duration, logger *zap.Logger) *AlertNotifier {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &AlertNotifier{
		httpClient: client,
		path:       url,
		sessionID:  sessionID,
		logger:     logger,
	}
}

// PublishRecord 检测告警上升沿，命中时异步推送
func (n *AlertNotifier) PublishRecord(_ context.Context, rec models.SensorRecord) error {
	n.mu.Lock()
	rising := n.lastBit == 0 && rec.AlertBit == 1
	n.lastBit = rec.AlertBit
	n.mu.Unlock()

	if !rising {
		return nil
	}

	payload := AlertPayload{
		Event:       "trash_alert",
		SessionID:   n.sessionID,
		RaisedAt:    rec.Timestamp,
		Temperature: rec.Temperature,
		Humidity:    rec.Humidity,
		RainReading: rec.RainReading,
		Sound:       rec.ClassifiedSound,
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.send(payload); err != nil {
			n.logger.Warn("Alert webhook failed", zap.Error(err))
		}
	}()
	return nil
}

func (n *AlertNotifier) send(payload AlertPayload) error {
	resp, err := n.httpClient.R().
		SetBody(payload).
		Post(n.path)
	if err != nil {
		return fmt.Errorf("failed to call alert webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("alert webhook returned status %d", resp.StatusCode())
	}

	n.logger.Info("Alert webhook delivered",
		zap.Int("status_code", resp.StatusCode()),
		zap.Time("raised_at", payload.RaisedAt),
	)
	return nil
}

// Close 等待在途推送完成
func (n *AlertNotifier) Close() {
	n.wg.Wait()
}
