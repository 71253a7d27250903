package httpapi

import (
	"encoding/json"
	"net/http"
)

// Result 操作员 API 响应信封，看板按 code 判断成功与否
type Result[T any] struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Result  T      `json:"result"`
}

const (
	ResultSuccess = 2000
	ResultError   = -1
)

// respond 成功响应
func respond[T any](w http.ResponseWriter, status int, result T) {
	writeJSON(w, status, Result[T]{Code: ResultSuccess, Type: "success", Message: "ok", Result: result})
}

// respondError 失败响应，result 为 null
func respondError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Result[any]{Code: ResultError, Type: "error", Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
