package httpapi

import (
	"io"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"smarthome-gateway/internal/operator"
)

// NewRouter 操作员 API 路由
func NewRouter(svc operator.Service, defaultLimit int, logger *zap.Logger) http.Handler {
	h := NewControlHandler(svc, defaultLimit, logger)

	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	api.HandleFunc("/status", h.Status).Methods(http.MethodGet)

	// 控制状态
	api.HandleFunc("/control", h.GetControl).Methods(http.MethodGet)
	api.HandleFunc("/control/override", h.Override).Methods(http.MethodPost)
	api.HandleFunc("/control/auto", h.ReturnToAuto).Methods(http.MethodPost)
	api.HandleFunc("/alert/resolve", h.ResolveAlert).Methods(http.MethodPost)

	// 传感器记录
	api.HandleFunc("/sensors", h.ListSensors).Methods(http.MethodGet)
	api.HandleFunc("/sensors/events", h.ListEvents).Methods(http.MethodGet)
	api.HandleFunc("/sensors/export", h.ExportSensors).Methods(http.MethodGet)
	api.HandleFunc("/sensors/classification", h.RecordClassification).Methods(http.MethodPost)

	var handler http.Handler = router
	handler = handlers.CustomLoggingHandler(io.Discard, handler, accessLogger(logger))
	handler = handlers.CORS(
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(handler)
	handler = handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(logger)),
		handlers.PrintRecoveryStack(true),
	)(handler)
	return handler
}

// accessLogger 访问日志写到 zap（忽略 handlers 传入的 writer）
func accessLogger(logger *zap.Logger) handlers.LogFormatter {
	return func(_ io.Writer, params handlers.LogFormatterParams) {
		logger.Info("HTTP request",
			zap.String("method", params.Request.Method),
			zap.String("path", params.URL.Path),
			zap.Int("status", params.StatusCode),
			zap.Int("size", params.Size),
			zap.Duration("latency", time.Since(params.TimeStamp)),
		)
	}
}
