package repository

import (
	"context"
	"sync"

	"smarthome-gateway/internal/models"
)

// MemoryStore 内存实现（STORE_DRIVER=memory 时使用，进程退出即丢失）
// 同时实现 ControlStateRepository 和 SensorRecordRepository
type MemoryStore struct {
	mu      sync.RWMutex
	state   models.ControlState
	records []models.SensorRecord
	nextID  int64
}

// NewMemoryStore 创建内存存储，控制状态为默认值
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state:  models.DefaultControlState(),
		nextID: 1,
	}
}

// GetControlState 返回副本
func (s *MemoryStore) GetControlState(ctx context.Context) (*models.ControlState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := s.state
	if s.state.ManualExpiry != nil {
		expiry := *s.state.ManualExpiry
		state.ManualExpiry = &expiry
	}
	return &state, nil
}

// PutControlState 整体覆盖控制状态（用于预置数据）
func (s *MemoryStore) PutControlState(state models.ControlState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *MemoryStore) RaisePendingAlert(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.PendingAlert = true
	return nil
}

func (s *MemoryStore) RevertToAuto(ctx context.Context, expectedExpiry string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Mode != models.ModeManual || s.state.ManualExpiry == nil || *s.state.ManualExpiry != expectedExpiry {
		return false, nil
	}
	s.state.Mode = models.ModeAuto
	s.state.ManualExpiry = nil
	return true, nil
}

func (s *MemoryStore) SetManualOverride(ctx context.Context, override ManualOverride) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Mode = models.ModeManual
	if override.Window != nil {
		s.state.WindowCommand = *override.Window
	}
	if override.Heat != nil {
		s.state.HeatCommand = *override.Heat
	}
	if override.Cool != nil {
		s.state.CoolCommand = *override.Cool
	}
	expiry := override.Expiry
	s.state.ManualExpiry = &expiry
	return nil
}

func (s *MemoryStore) SetAuto(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Mode = models.ModeAuto
	s.state.ManualExpiry = nil
	return nil
}

func (s *MemoryStore) ClearPendingAlert(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.PendingAlert {
		return false, nil
	}
	s.state.PendingAlert = false
	return true, nil
}

// Append 追加记录并分配自增 ID
func (s *MemoryStore) Append(ctx context.Context, rec *models.SensorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ID = s.nextID
	s.nextID++
	s.records = append(s.records, *rec)
	return nil
}

func (s *MemoryStore) Recent(ctx context.Context, limit int) ([]models.SensorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.SensorRecord, 0, limit)
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.records[i])
	}
	return out, nil
}

func (s *MemoryStore) LatestClassified(ctx context.Context) (*models.SensorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.records) - 1; i >= 0; i-- {
		if models.IsClassified(s.records[i].ClassifiedSound) {
			rec := s.records[i]
			return &rec, nil
		}
	}
	return nil, ErrNoSensorRecords
}

func (s *MemoryStore) Events(ctx context.Context, rainThreshold, limit int) ([]models.SensorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.SensorRecord, 0, limit)
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		if models.IsEvent(s.records[i], rainThreshold) {
			out = append(out, s.records[i])
		}
	}
	return out, nil
}

// Records 全部记录（按追加顺序）
func (s *MemoryStore) Records() []models.SensorRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.SensorRecord, len(s.records))
	copy(out, s.records)
	return out
}
