package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nextlevelbuilder/chrono/internal/clock"
	"github.com/nextlevelbuilder/chrono/internal/cron"
	"github.com/nextlevelbuilder/chrono/internal/store"
)

const (
	defaultLimit = 10
	maxLimit     = 100
)

// Dispatcher is the slice of the scheduling engine the admin API drives.
type Dispatcher interface {
	Arm(task *store.ScheduledTask) (time.Time, error)
	Disarm(slug string)
}

// TasksHandler serves the /tasks resource.
type TasksHandler struct {
	store      store.TaskStore
	dispatcher Dispatcher
	eval       *cron.Evaluator
	clk        clock.Clock
}

// NewTasksHandler wires the task admin endpoints.
func NewTasksHandler(ts store.TaskStore, d Dispatcher, eval *cron.Evaluator, clk clock.Clock) *TasksHandler {
	return &TasksHandler{store: ts, dispatcher: d, eval: eval, clk: clk}
}

// Register mounts the handler's routes on mux.
func (h *TasksHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /tasks", h.create)
	mux.HandleFunc("GET /tasks", h.list)
	mux.HandleFunc("GET /tasks/{slug}", h.get)
	mux.HandleFunc("DELETE /tasks/{slug}", h.delete)
	mux.HandleFunc("GET /tasks/{slug}/results", h.listResults)
}

type createRequest struct {
	Name           string `json:"name"`
	CronExpression string `json:"cron_expression"`
}

type taskResponse struct {
	Slug           string    `json:"slug"`
	Name           string    `json:"name"`
	CronExpression string    `json:"cron_expression"`
	CreatedAt      time.Time `json:"created_at"`
	NextRunAt      time.Time `json:"next_run_at"`
}

type pageResponse[T any] struct {
	Count  int `json:"count"`
	Result []T `json:"result"`
}

type executionResponse struct {
	TaskSlug   string       `json:"task_slug"`
	ExecutedAt time.Time    `json:"executed_at"`
	Status     store.Status `json:"status"`
	Result     string       `json:"result"`
}

func taskToResponse(t *store.ScheduledTask) taskResponse {
	return taskResponse{
		Slug:           t.Slug,
		Name:           t.Name,
		CronExpression: t.CronExpression,
		CreatedAt:      t.CreatedAt,
		NextRunAt:      t.NextRunAt,
	}
}

// create persists the task first, then arms the dispatcher. An arming
// failure rolls the create back so a malformed schedule never leaves a
// row behind.
func (h *TasksHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errInvalidRequest(fmt.Sprintf("invalid JSON: %s", err)))
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, errInvalidRequest("name is required"))
		return
	}
	nextAt, err := h.eval.NextAfter(req.CronExpression, h.clk.Now())
	if err != nil {
		writeError(w, errInvalidRequest(fmt.Sprintf("invalid cron expression: %q", req.CronExpression)))
		return
	}

	ctx := r.Context()
	task, err := h.store.Create(ctx, store.TaskDef{
		Name:           req.Name,
		CronExpression: req.CronExpression,
		NextRunAt:      nextAt,
	})
	if err != nil {
		slog.Error("task create failed", "name", req.Name, "error", err)
		writeError(w, errTaskCreationFailed())
		return
	}

	next, err := h.dispatcher.Arm(task)
	if err != nil {
		slog.Error("task arm failed, rolling back create", "slug", task.Slug, "error", err)
		if _, delErr := h.store.DeleteBySlug(ctx, task.Slug); delErr != nil {
			slog.Error("create rollback failed", "slug", task.Slug, "error", delErr)
		}
		writeError(w, errTaskCreationFailed())
		return
	}
	task.NextRunAt = next

	slog.Info("created and scheduled task", "slug", task.Slug, "name", task.Name)
	writeJSON(w, http.StatusOK, taskToResponse(task))
}

func (h *TasksHandler) list(w http.ResponseWriter, r *http.Request) {
	offset, limit, appErr := pagination(r)
	if appErr != nil {
		writeError(w, appErr)
		return
	}

	count, tasks, err := h.store.List(r.Context(), offset, limit)
	if err != nil {
		slog.Error("task list failed", "error", err)
		writeError(w, errInternal())
		return
	}

	result := make([]taskResponse, 0, len(tasks))
	for i := range tasks {
		result = append(result, taskToResponse(&tasks[i]))
	}
	writeJSON(w, http.StatusOK, pageResponse[taskResponse]{Count: count, Result: result})
}

func (h *TasksHandler) get(w http.ResponseWriter, r *http.Request) {
	task, err := h.store.GetBySlug(r.Context(), r.PathValue("slug"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, errTaskNotFound)
		return
	}
	if err != nil {
		slog.Error("task get failed", "error", err)
		writeError(w, errInternal())
		return
	}
	writeJSON(w, http.StatusOK, taskToResponse(task))
}

// delete disarms the dispatcher before removing rows. Store failure
// after a successful disarm is alert-worthy: the row survives but its
// trigger is gone until the next boot recovery.
func (h *TasksHandler) delete(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")

	h.dispatcher.Disarm(slug)

	existed, err := h.store.DeleteBySlug(r.Context(), slug)
	if err != nil {
		slog.Error("task delete failed after disarm", "slug", slug, "error", err)
		writeError(w, errTaskDeletionFailed())
		return
	}
	if !existed {
		writeError(w, errTaskNotFound)
		return
	}

	slog.Info("deleted task", "slug", slug)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Task %s deleted.", slug),
	})
}

func (h *TasksHandler) listResults(w http.ResponseWriter, r *http.Request) {
	offset, limit, appErr := pagination(r)
	if appErr != nil {
		writeError(w, appErr)
		return
	}
	slug := r.PathValue("slug")

	count, rows, err := h.store.ListExecutions(r.Context(), slug, offset, limit)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, errTaskNotFound)
		return
	}
	if err != nil {
		slog.Error("list executions failed", "slug", slug, "error", err)
		writeError(w, errInternal())
		return
	}

	result := make([]executionResponse, 0, len(rows))
	for _, row := range rows {
		result = append(result, executionResponse{
			TaskSlug:   slug,
			ExecutedAt: row.ExecutedAt,
			Status:     row.Status,
			Result:     row.Result,
		})
	}
	writeJSON(w, http.StatusOK, pageResponse[executionResponse]{Count: count, Result: result})
}

func pagination(r *http.Request) (offset, limit int, appErr *AppError) {
	offset, limit = 0, defaultLimit

	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, errInvalidRequest(fmt.Sprintf("offset must be a non-negative integer, got %q", v))
		}
		offset = n
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxLimit {
			return 0, 0, errInvalidRequest(fmt.Sprintf("limit must be between 1 and %d, got %q", maxLimit, v))
		}
		limit = n
	}
	return offset, limit, nil
}
