package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nextlevelbuilder/chrono/internal/clock"
	"github.com/nextlevelbuilder/chrono/internal/cron"
	"github.com/nextlevelbuilder/chrono/internal/store"
)

// stubDispatcher records arm/disarm calls; Arm trusts the precomputed
// next_run_at on the task.
type stubDispatcher struct {
	armed  map[string]bool
	armErr error
}

func newStubDispatcher() *stubDispatcher {
	return &stubDispatcher{armed: make(map[string]bool)}
}

func (d *stubDispatcher) Arm(task *store.ScheduledTask) (time.Time, error) {
	if d.armErr != nil {
		return time.Time{}, d.armErr
	}
	d.armed[task.Slug] = true
	return task.NextRunAt, nil
}

func (d *stubDispatcher) Disarm(slug string) {
	delete(d.armed, slug)
}

type apiRig struct {
	clk        *clock.Fake
	store      *store.Memory
	dispatcher *stubDispatcher
	mux        *http.ServeMux
}

func newAPIRig(t *testing.T) *apiRig {
	t.Helper()
	clk := clock.NewFake(time.Date(2025, 1, 1, 10, 30, 0, 0, time.UTC))
	mem := store.NewMemory(clk)
	d := newStubDispatcher()
	h := NewTasksHandler(mem, d, cron.New(), clk)

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health", handleHealth)

	return &apiRig{clk: clk, store: mem, dispatcher: d, mux: mux}
}

func (rig *apiRig) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	rig.mux.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return v
}

func (rig *apiRig) createTask(t *testing.T, name, expr string) taskResponse {
	t.Helper()
	w := rig.do(t, "POST", "/tasks", createRequest{Name: name, CronExpression: expr})
	if w.Code != http.StatusOK {
		t.Fatalf("create %q: status %d, body %s", name, w.Code, w.Body.String())
	}
	return decode[taskResponse](t, w)
}

func TestCreateTask(t *testing.T) {
	rig := newAPIRig(t)

	got := rig.createTask(t, "Nightly report", "0 0 * * *")
	if len(got.Slug) != 10 {
		t.Errorf("slug = %q, want 10 characters", got.Slug)
	}
	if got.Name != "Nightly report" {
		t.Errorf("name = %q", got.Name)
	}
	wantNext := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	if !got.NextRunAt.Equal(wantNext) {
		t.Errorf("next_run_at = %s, want %s", got.NextRunAt, wantNext)
	}
	if !got.CreatedAt.Equal(rig.clk.Now()) {
		t.Errorf("created_at = %s, want %s", got.CreatedAt, rig.clk.Now())
	}
	if !rig.dispatcher.armed[got.Slug] {
		t.Error("task was not armed")
	}
}

func TestCreateThenGetRoundTrip(t *testing.T) {
	rig := newAPIRig(t)
	created := rig.createTask(t, "Nightly report", "0 0 * * *")

	w := rig.do(t, "GET", "/tasks/"+created.Slug, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: status %d, body %s", w.Code, w.Body.String())
	}
	fetched := decode[taskResponse](t, w)
	if fetched != created {
		t.Errorf("get = %+v, want create response %+v", fetched, created)
	}
}

func TestCreateTask_InvalidCron(t *testing.T) {
	rig := newAPIRig(t)

	for _, expr := range []string{"not a cron", "* * * *", "* * * * * *", "99 99 * * *", ""} {
		w := rig.do(t, "POST", "/tasks", createRequest{Name: "Broken", CronExpression: expr})
		if w.Code != http.StatusUnprocessableEntity {
			t.Errorf("expr %q: status = %d, want 422", expr, w.Code)
		}
		if got := decode[AppError](t, w); got.ErrorCode != "VALIDATION_422" {
			t.Errorf("expr %q: error_code = %q, want VALIDATION_422", expr, got.ErrorCode)
		}
	}

	// No row survives a rejected create.
	count, _, err := rig.store.List(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if count != 0 {
		t.Errorf("persisted tasks = %d, want 0", count)
	}
}

func TestCreateTask_NameRequired(t *testing.T) {
	rig := newAPIRig(t)
	w := rig.do(t, "POST", "/tasks", createRequest{Name: "   ", CronExpression: "0 0 * * *"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}
}

func TestCreateTask_ArmFailureRollsBack(t *testing.T) {
	rig := newAPIRig(t)
	rig.dispatcher.armErr = errors.New("engine down")

	w := rig.do(t, "POST", "/tasks", createRequest{Name: "Nightly", CronExpression: "0 0 * * *"})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if got := decode[AppError](t, w); got.ErrorCode != "TASK_CREATE_500" {
		t.Errorf("error_code = %q, want TASK_CREATE_500", got.ErrorCode)
	}

	count, _, err := rig.store.List(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if count != 0 {
		t.Errorf("persisted tasks = %d, want create rolled back", count)
	}
}

func TestDeleteTask_Idempotence(t *testing.T) {
	rig := newAPIRig(t)
	created := rig.createTask(t, "Nightly", "0 0 * * *")

	w := rig.do(t, "DELETE", "/tasks/"+created.Slug, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("first delete: status %d, body %s", w.Code, w.Body.String())
	}
	msg := decode[map[string]string](t, w)
	want := fmt.Sprintf("Task %s deleted.", created.Slug)
	if msg["message"] != want {
		t.Errorf("message = %q, want %q", msg["message"], want)
	}
	if rig.dispatcher.armed[created.Slug] {
		t.Error("task still armed after delete")
	}

	// Second delete of the same slug is a clean 404.
	w = rig.do(t, "DELETE", "/tasks/"+created.Slug, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete: status = %d, want 404", w.Code)
	}
	if got := decode[AppError](t, w); got.ErrorCode != "TASK_404" {
		t.Errorf("error_code = %q, want TASK_404", got.ErrorCode)
	}
}

func TestDeleteTask_Unknown(t *testing.T) {
	rig := newAPIRig(t)
	w := rig.do(t, "DELETE", "/tasks/nosuchtask", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestGetTask_Unknown(t *testing.T) {
	rig := newAPIRig(t)
	w := rig.do(t, "GET", "/tasks/nosuchtask", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if got := decode[AppError](t, w); got.ErrorCode != "TASK_404" {
		t.Errorf("error_code = %q, want TASK_404", got.ErrorCode)
	}
}

func TestListTasks_Pagination(t *testing.T) {
	rig := newAPIRig(t)
	for i := 0; i < 3; i++ {
		rig.createTask(t, fmt.Sprintf("Task %d", i), "0 0 * * *")
		rig.clk.Advance(time.Minute)
	}

	w := rig.do(t, "GET", "/tasks?limit=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", w.Code, w.Body.String())
	}
	page := decode[pageResponse[taskResponse]](t, w)
	if page.Count != 3 {
		t.Errorf("count = %d, want 3", page.Count)
	}
	if len(page.Result) != 2 {
		t.Errorf("result len = %d, want 2", len(page.Result))
	}

	w = rig.do(t, "GET", "/tasks?offset=2&limit=2", nil)
	page = decode[pageResponse[taskResponse]](t, w)
	if page.Count != 3 || len(page.Result) != 1 {
		t.Errorf("count = %d, result = %d, want 3 and 1", page.Count, len(page.Result))
	}
}

func TestListResults_Pagination(t *testing.T) {
	rig := newAPIRig(t)
	created := rig.createTask(t, "Busy", "* * * * *")

	// Seed ten history rows through the transactional append path.
	stored, err := rig.store.GetBySlug(context.Background(), created.Slug)
	if err != nil {
		t.Fatalf("GetBySlug: %v", err)
	}
	tx, err := rig.store.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	at := rig.clk.Now()
	for i := 0; i < 10; i++ {
		if _, err := tx.AppendExecution(context.Background(), stored.ID, store.StatusDone, fmt.Sprintf("run %d", i), at.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("AppendExecution: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	w := rig.do(t, "GET", "/tasks/"+created.Slug+"/results?offset=5&limit=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", w.Code, w.Body.String())
	}
	page := decode[pageResponse[executionResponse]](t, w)
	if page.Count != 10 {
		t.Errorf("count = %d, want 10", page.Count)
	}
	if len(page.Result) != 2 {
		t.Fatalf("result len = %d, want 2", len(page.Result))
	}
	if page.Result[0].Result != "run 5" || page.Result[1].Result != "run 6" {
		t.Errorf("page = [%q, %q], want [run 5, run 6]",
			page.Result[0].Result, page.Result[1].Result)
	}
	for _, row := range page.Result {
		if row.TaskSlug != created.Slug {
			t.Errorf("task_slug = %q, want %q", row.TaskSlug, created.Slug)
		}
	}
}

func TestListResults_UnknownTask(t *testing.T) {
	rig := newAPIRig(t)
	w := rig.do(t, "GET", "/tasks/nosuchtask/results", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestPaginationBounds(t *testing.T) {
	rig := newAPIRig(t)
	for _, path := range []string{
		"/tasks?limit=0",
		"/tasks?limit=101",
		"/tasks?limit=abc",
		"/tasks?offset=-1",
		"/tasks?offset=x",
	} {
		w := rig.do(t, "GET", path, nil)
		if w.Code != http.StatusUnprocessableEntity {
			t.Errorf("%s: status = %d, want 422", path, w.Code)
		}
	}
}

func TestHealth(t *testing.T) {
	rig := newAPIRig(t)
	w := rig.do(t, "GET", "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := decode[map[string]string](t, w); got["status"] != "ok" {
		t.Errorf("body = %v, want status ok", got)
	}
}
