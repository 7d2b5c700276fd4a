package http

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// ErrorKind 错误类别，客户端按此区分
type ErrorKind string

const (
	KindInvalidJSON     ErrorKind = "InvalidJSON"
	KindSchemaMismatch  ErrorKind = "SchemaMismatch"
	KindUnknownCategory ErrorKind = "UnknownCategory"
	KindPayloadTooLarge ErrorKind = "PayloadTooLarge"
	KindTimeout         ErrorKind = "Timeout"
	KindInternalError   ErrorKind = "InternalError"
)

// ErrorResponse 错误响应体
type ErrorResponse struct {
	Error   ErrorKind `json:"error"`
	Message string    `json:"message"`
}

// writeError 写入错误响应
func writeError(w http.ResponseWriter, status int, kind ErrorKind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: kind, Message: message})
}

// respondJSON 统一JSON响应
func respondJSON(w http.ResponseWriter, logger *zap.Logger, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode JSON", zap.Error(err))
	}
}
