// Package http is the admin API surface: task CRUD, execution history
// and health. Fire-path errors never reach these handlers; they are
// observable only through history rows and logs.
package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// AppError is the user-visible error envelope.
type AppError struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code"`
	Status    int    `json:"-"`
}

func (e *AppError) Error() string {
	return e.Detail
}

var errTaskNotFound = &AppError{
	Detail:    "Task not found",
	ErrorCode: "TASK_404",
	Status:    http.StatusNotFound,
}

func errInvalidRequest(detail string) *AppError {
	return &AppError{
		Detail:    detail,
		ErrorCode: "VALIDATION_422",
		Status:    http.StatusUnprocessableEntity,
	}
}

func errTaskCreationFailed() *AppError {
	return &AppError{
		Detail:    "Failed to create/schedule task",
		ErrorCode: "TASK_CREATE_500",
		Status:    http.StatusInternalServerError,
	}
}

func errInternal() *AppError {
	return &AppError{
		Detail:    "Internal error",
		ErrorCode: "TASK_500",
		Status:    http.StatusInternalServerError,
	}
}

func errTaskDeletionFailed() *AppError {
	return &AppError{
		Detail:    "Failed to delete task",
		ErrorCode: "TASK_DELETE_500",
		Status:    http.StatusInternalServerError,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, err *AppError) {
	writeJSON(w, err.Status, err)
}
