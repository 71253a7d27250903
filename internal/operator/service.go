package operator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"smarthome-gateway/internal/models"
	"smarthome-gateway/internal/repository"
)

var (
	// ErrInvalidCommand 非法的执行器指令或参数
	ErrInvalidCommand = errors.New("invalid command")
	// ErrNoAlertPending 没有待处理的告警
	ErrNoAlertPending = errors.New("no alert pending")
)

const (
	// RainThreshold 雨量传感器读数低于该值视为下雨
	RainThreshold = 800
	// ColdThreshold 室温低于该值视为偏冷（°C）
	ColdThreshold = 18.0

	maxRecentLimit = 3600
)

// 室内环境概况
const (
	ConditionRain        = "rain"
	ConditionCold        = "cold"
	ConditionComfortable = "comfortable"
	ConditionNoData      = "no_data"
)

// ChangeNotifier 控制状态变更通知（可选）
type ChangeNotifier interface {
	ControlChanged(ctx context.Context, reason string) error
}

// Service 操作员服务接口（控制状态的外部写入方）
type Service interface {
	Control(ctx context.Context) (*models.ControlState, error)
	Override(ctx context.Context, req OverrideRequest) (*models.ControlState, error)
	ReturnToAuto(ctx context.Context) (*models.ControlState, error)
	ResolveAlert(ctx context.Context) error
	RecordClassification(ctx context.Context, req ClassificationRequest) (*models.SensorRecord, error)
	RecentRecords(ctx context.Context, limit int) ([]models.SensorRecord, error)
	RecentEvents(ctx context.Context, limit int) ([]models.SensorRecord, error)
	Status(ctx context.Context) (*StatusResponse, error)
}

// OverrideRequest 手动覆盖请求（未提供的指令保持不变）
type OverrideRequest struct {
	Window          *string `json:"win,omitempty"`
	Heat            *string `json:"heat,omitempty"`
	Cool            *string `json:"cool,omitempty"`
	DurationMinutes int     `json:"duration_minutes,omitempty"` // 0 使用默认时长
}

// ClassificationRequest 手动声音分类请求
type ClassificationRequest struct {
	Sound      string  `json:"sound"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

// StatusResponse 概况
type StatusResponse struct {
	Condition        string               `json:"condition"`
	Control          *models.ControlState `json:"control"`
	Latest           *models.SensorRecord `json:"latest,omitempty"`
	LatestClassified *models.SensorRecord `json:"latest_classified,omitempty"`
}

// operatorService 实现
type operatorService struct {
	control         repository.ControlStateRepository
	records         repository.SensorRecordRepository
	notifier        ChangeNotifier
	defaultOverride time.Duration
	logger          *zap.Logger
	now             func() time.Time
}

// NewService 创建操作员服务；notifier 可以为 nil
func NewService(control repository.ControlStateRepository, records repository.SensorRecordRepository, notifier ChangeNotifier, defaultOverride time.Duration, logger *zap.Logger) Service {
	return &operatorService{
		control:         control,
		records:         records,
		notifier:        notifier,
		defaultOverride: defaultOverride,
		logger:          logger,
		now:             time.Now,
	}
}

func (s *operatorService) Control(ctx context.Context) (*models.ControlState, error) {
	return s.control.GetControlState(ctx)
}

// Override 进入手动模式，到期后由网关切回 AUTO
func (s *operatorService) Override(ctx context.Context, req OverrideRequest) (*models.ControlState, error) {
	if req.Window != nil && !models.ValidWindowCommand(*req.Window) {
		return nil, fmt.Errorf("%w: win must be Open or Closed", ErrInvalidCommand)
	}
	if req.Heat != nil && !models.ValidSwitchCommand(*req.Heat) {
		return nil, fmt.Errorf("%w: heat must be ON or OFF", ErrInvalidCommand)
	}
	if req.Cool != nil && !models.ValidSwitchCommand(*req.Cool) {
		return nil, fmt.Errorf("%w: cool must be ON or OFF", ErrInvalidCommand)
	}
	if req.DurationMinutes < 0 {
		return nil, fmt.Errorf("%w: duration_minutes must not be negative", ErrInvalidCommand)
	}

	duration := s.defaultOverride
	if req.DurationMinutes > 0 {
		duration = time.Duration(req.DurationMinutes) * time.Minute
	}
	expiry := models.FormatExpiry(s.now().Add(duration))

	err := s.control.SetManualOverride(ctx, repository.ManualOverride{
		Window: req.Window,
		Heat:   req.Heat,
		Cool:   req.Cool,
		Expiry: expiry,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Manual override set",
		zap.Stringp("win", req.Window),
		zap.Stringp("heat", req.Heat),
		zap.Stringp("cool", req.Cool),
		zap.String("manual_expiry", expiry),
	)
	s.changed(ctx, "override")
	return s.control.GetControlState(ctx)
}

func (s *operatorService) ReturnToAuto(ctx context.Context) (*models.ControlState, error) {
	if err := s.control.SetAuto(ctx); err != nil {
		return nil, err
	}
	s.logger.Info("Returned to AUTO mode")
	s.changed(ctx, "auto")
	return s.control.GetControlState(ctx)
}

// ResolveAlert 确认告警已处理，网关随后向设备发送解除信号
func (s *operatorService) ResolveAlert(ctx context.Context) error {
	cleared, err := s.control.ClearPendingAlert(ctx)
	if err != nil {
		return err
	}
	if !cleared {
		return ErrNoAlertPending
	}
	s.logger.Info("Alert resolved by operator")
	s.changed(ctx, "resolve")
	return nil
}

// RecordClassification 追加一条手动分类记录，环境读数沿用最近一条记录
func (s *operatorService) RecordClassification(ctx context.Context, req ClassificationRequest) (*models.SensorRecord, error) {
	if req.Sound == "" {
		return nil, fmt.Errorf("%w: sound is required", ErrInvalidCommand)
	}
	if req.Confidence < 0 || req.Confidence > 1 {
		return nil, fmt.Errorf("%w: confidence must be within [0, 1]", ErrInvalidCommand)
	}

	rec := models.SensorRecord{
		Timestamp:    s.now(),
		WindowStatus: "Unknown",
		HeatStatus:   models.SwitchOff,
		CoolStatus:   models.SwitchOff,
	}
	latest, err := s.records.Recent(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(latest) > 0 {
		prev := latest[0]
		rec.Temperature = prev.Temperature
		rec.Humidity = prev.Humidity
		rec.RainReading = prev.RainReading
		rec.WindowStatus = prev.WindowStatus
		rec.HeatStatus = prev.HeatStatus
		rec.CoolStatus = prev.CoolStatus
	}
	rec.ClassifiedSound = req.Sound
	rec.Confidence = req.Confidence
	rec.Reason = req.Reason
	if rec.Reason == "" {
		rec.Reason = models.ManualClassificationReason
	}

	if err := s.records.Append(ctx, &rec); err != nil {
		return nil, err
	}
	s.logger.Info("Manual classification recorded",
		zap.String("sound", rec.ClassifiedSound),
		zap.Float64("confidence", rec.Confidence),
	)
	return &rec, nil
}

func (s *operatorService) RecentRecords(ctx context.Context, limit int) ([]models.SensorRecord, error) {
	return s.records.Recent(ctx, clampLimit(limit))
}

func (s *operatorService) RecentEvents(ctx context.Context, limit int) ([]models.SensorRecord, error) {
	return s.records.Events(ctx, RainThreshold, clampLimit(limit))
}

// Status 控制状态 + 最近读数 + 环境概况
func (s *operatorService) Status(ctx context.Context) (*StatusResponse, error) {
	control, err := s.control.GetControlState(ctx)
	if err != nil {
		return nil, err
	}
	resp := &StatusResponse{Condition: ConditionNoData, Control: control}

	latest, err := s.records.Recent(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(latest) > 0 {
		resp.Latest = &latest[0]
		resp.Condition = Condition(latest[0])
	}

	classified, err := s.records.LatestClassified(ctx)
	switch {
	case err == nil:
		resp.LatestClassified = classified
	case !errors.Is(err, repository.ErrNoSensorRecords):
		return nil, err
	}
	return resp, nil
}

// Condition 由一条记录判断室内环境概况
func Condition(rec models.SensorRecord) string {
	switch {
	case rec.RainReading < RainThreshold:
		return ConditionRain
	case rec.Temperature < ColdThreshold:
		return ConditionCold
	default:
		return ConditionComfortable
	}
}

func (s *operatorService) changed(ctx context.Context, reason string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.ControlChanged(ctx, reason); err != nil {
		s.logger.Warn("Failed to publish control change", zap.Error(err))
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > maxRecentLimit {
		return maxRecentLimit
	}
	return limit
}
