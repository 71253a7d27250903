package httpapi

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"smarthome-gateway/internal/operator"
	"smarthome-gateway/internal/repository"
)

// ControlHandler 控制状态与传感器记录 Handler
type ControlHandler struct {
	svc          operator.Service
	defaultLimit int
	logger       *zap.Logger
}

// NewControlHandler 创建 Handler
func NewControlHandler(svc operator.Service, defaultLimit int, logger *zap.Logger) *ControlHandler {
	return &ControlHandler{
		svc:          svc,
		defaultLimit: defaultLimit,
		logger:       logger,
	}
}

func (h *ControlHandler) Health(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *ControlHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.Status(r.Context())
	if err != nil {
		h.fail(w, "Status", err)
		return
	}
	respond(w, http.StatusOK, status)
}

func (h *ControlHandler) GetControl(w http.ResponseWriter, r *http.Request) {
	state, err := h.svc.Control(r.Context())
	if err != nil {
		h.fail(w, "GetControl", err)
		return
	}
	respond(w, http.StatusOK, state)
}

// Override POST /api/v1/control/override
// body: {"win":"Closed","heat":"ON","cool":"OFF","duration_minutes":30}，字段均可选
func (h *ControlHandler) Override(w http.ResponseWriter, r *http.Request) {
	var req operator.OverrideRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	state, err := h.svc.Override(r.Context(), req)
	if err != nil {
		h.fail(w, "Override", err)
		return
	}
	respond(w, http.StatusOK, state)
}

func (h *ControlHandler) ReturnToAuto(w http.ResponseWriter, r *http.Request) {
	state, err := h.svc.ReturnToAuto(r.Context())
	if err != nil {
		h.fail(w, "ReturnToAuto", err)
		return
	}
	respond(w, http.StatusOK, state)
}

func (h *ControlHandler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ResolveAlert(r.Context()); err != nil {
		h.fail(w, "ResolveAlert", err)
		return
	}
	respond(w, http.StatusOK, map[string]bool{"resolved": true})
}

// ListSensors GET /api/v1/sensors?limit=50
func (h *ControlHandler) ListSensors(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, h.defaultLimit)
	records, err := h.svc.RecentRecords(r.Context(), limit)
	if err != nil {
		h.fail(w, "ListSensors", err)
		return
	}
	respond(w, http.StatusOK, records)
}

// ListEvents GET /api/v1/sensors/events?limit=5
func (h *ControlHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, h.defaultLimit)
	records, err := h.svc.RecentEvents(r.Context(), limit)
	if err != nil {
		h.fail(w, "ListEvents", err)
		return
	}
	respond(w, http.StatusOK, records)
}

// RecordClassification POST /api/v1/sensors/classification
// body: {"sound":"Can","confidence":1.0,"reason":"..."}
func (h *ControlHandler) RecordClassification(w http.ResponseWriter, r *http.Request) {
	var req operator.ClassificationRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := h.svc.RecordClassification(r.Context(), req)
	if err != nil {
		h.fail(w, "RecordClassification", err)
		return
	}
	respond(w, http.StatusCreated, rec)
}

// fail 业务错误映射为状态码，其余记日志后返回 500
func (h *ControlHandler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, operator.ErrInvalidCommand):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, operator.ErrNoAlertPending):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, repository.ErrControlStateNotFound):
		h.logger.Error(op+" failed", zap.Error(err))
		respondError(w, http.StatusServiceUnavailable, "control state not initialized")
	default:
		h.logger.Error(op+" failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
