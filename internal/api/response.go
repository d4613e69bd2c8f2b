package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shaiso/Modelflow/internal/repo"
)

// ErrorCode — машиночитаемый код ошибки API.
type ErrorCode string

const (
	ErrCodeBadRequest    ErrorCode = "BAD_REQUEST"
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeConflict      ErrorCode = "CONFLICT"
	ErrCodeInvalidState  ErrorCode = "INVALID_STATE"
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// errorStatus — HTTP статус для каждого кода ошибки.
var errorStatus = map[ErrorCode]int{
	ErrCodeBadRequest:    http.StatusBadRequest,
	ErrCodeNotFound:      http.StatusNotFound,
	ErrCodeConflict:      http.StatusConflict,
	ErrCodeInvalidState:  http.StatusUnprocessableEntity,
	ErrCodeInternalError: http.StatusInternalServerError,
}

// Конверты ответов. Данные всегда под ключом data,
// ошибки — под ключом error.
type (
	// DataResponse — одиночный объект.
	DataResponse struct {
		Data any `json:"data"`
	}

	// ListResponse — список с количеством элементов.
	ListResponse struct {
		Data  any `json:"data"`
		Total int `json:"total,omitempty"`
	}

	// ErrorResponse — ошибка с кодом и сообщением.
	ErrorResponse struct {
		Error ErrorDetail `json:"error"`
	}

	// ErrorDetail — детали ошибки.
	ErrorDetail struct {
		Code    ErrorCode `json:"code"`
		Message string    `json:"message"`
	}
)

// respond сериализует body в JSON с указанным статусом.
func respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// Success отвечает 200 с данными.
func Success(w http.ResponseWriter, data any) {
	respond(w, http.StatusOK, DataResponse{Data: data})
}

// Created отвечает 201 с созданным ресурсом.
func Created(w http.ResponseWriter, data any) {
	respond(w, http.StatusCreated, DataResponse{Data: data})
}

// NoContent отвечает 204 без тела.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// List отвечает 200 со списком.
func List(w http.ResponseWriter, data any, total int) {
	respond(w, http.StatusOK, ListResponse{Data: data, Total: total})
}

// Fail отвечает ошибкой с кодом и сообщением.
func Fail(w http.ResponseWriter, code ErrorCode, message string) {
	status, ok := errorStatus[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	respond(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

// BadRequest отвечает 400.
func BadRequest(w http.ResponseWriter, message string) {
	Fail(w, ErrCodeBadRequest, message)
}

// NotFound отвечает 404.
func NotFound(w http.ResponseWriter, message string) {
	Fail(w, ErrCodeNotFound, message)
}

// Conflict отвечает 409.
func Conflict(w http.ResponseWriter, message string) {
	Fail(w, ErrCodeConflict, message)
}

// InvalidState отвечает 422.
func InvalidState(w http.ResponseWriter, message string) {
	Fail(w, ErrCodeInvalidState, message)
}

// InternalError логирует ошибку и отвечает 500 без деталей.
func InternalError(w http.ResponseWriter, logger *slog.Logger, err error) {
	logger.Error("internal error", "error", err)
	Fail(w, ErrCodeInternalError, "internal server error")
}

// HandleRepoError переводит ошибку репозитория в HTTP ответ.
// Возвращает true, если ответ уже отправлен.
func HandleRepoError(w http.ResponseWriter, logger *slog.Logger, err error, notFoundMsg string) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, repo.ErrNotFound):
		NotFound(w, notFoundMsg)
	case errors.Is(err, repo.ErrAlreadyExists):
		Conflict(w, err.Error())
	case errors.Is(err, repo.ErrInvalidState), errors.Is(err, repo.ErrRunFinished):
		InvalidState(w, err.Error())
	default:
		InternalError(w, logger, err)
	}
	return true
}
