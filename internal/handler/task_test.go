package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/hiroki-koketsu/checklist-api/internal/model"
	"github.com/hiroki-koketsu/checklist-api/internal/repository"
	"github.com/hiroki-koketsu/checklist-api/internal/storage"
	"github.com/hiroki-koketsu/checklist-api/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

type response struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

type testServer struct {
	handler http.Handler
	gateway *storage.Gateway
}

func newTestMetrics(t *testing.T) *telemetry.Metrics {
	t.Helper()

	m, err := telemetry.NewMetrics(noop.NewMeterProvider().Meter("test"),
		func(context.Context) (model.StatusCounts, error) { return model.StatusCounts{}, nil },
		func() sql.DBStats { return sql.DBStats{} },
	)
	require.NoError(t, err)
	return m
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	g, err := storage.Open(context.Background(), storage.Options{Driver: "sqlite"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })

	logger := newTestLogger()
	tasks := NewTaskHandler(repository.NewTaskRepository(g), logger, newTestMetrics(t), false)
	router := NewRouter(tasks, RouterConfig{
		AllowedOrigins: []string{"*"},
		Logger:         logger,
		DB:             g,
	})

	return &testServer{handler: router, gateway: g}
}

func (s *testServer) do(t *testing.T, method, path string, body any) (int, response) {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var resp response
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	}
	return rec.Code, resp
}

func (s *testServer) create(t *testing.T, body map[string]any) model.Task {
	t.Helper()

	code, resp := s.do(t, http.MethodPost, "/api/tasks", body)
	require.Equal(t, http.StatusCreated, code, resp.Message)

	var task model.Task
	require.NoError(t, json.Unmarshal(resp.Data, &task))
	return task
}

func decodeTask(t *testing.T, resp response) model.Task {
	t.Helper()

	var task model.Task
	require.NoError(t, json.Unmarshal(resp.Data, &task))
	return task
}

func TestCreate(t *testing.T) {
	s := newTestServer(t)

	task := s.create(t, map[string]any{"title": "Write report", "due_date": "2024-03-15T10:00:00Z"})

	assert.Positive(t, task.ID)
	assert.Equal(t, "Write report", task.Title)
	assert.Equal(t, model.StatusPending, task.Status)
	assert.Equal(t, model.PriorityMedium, task.Priority)
	require.NotNil(t, task.DueDate)
	assert.Equal(t, "2024-03-15", *task.DueDate)
}

func TestCreate_EmptyPriorityDefaults(t *testing.T) {
	s := newTestServer(t)

	task := s.create(t, map[string]any{"title": "Defaulted", "priority": ""})
	assert.Equal(t, model.PriorityMedium, task.Priority)
}

func TestCreate_Validation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body any
	}{
		{"missing title", map[string]any{"description": "no title"}},
		{"blank title", map[string]any{"title": "  "}},
		{"bad priority", map[string]any{"title": "x", "priority": "urgent"}},
		{"bad due date", map[string]any{"title": "x", "due_date": "whenever"}},
		{"malformed json", "{"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := s.do(t, http.MethodPost, "/api/tasks", tt.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Equal(t, "error", resp.Status)
			assert.NotEmpty(t, resp.Message)
			assert.Empty(t, resp.Error)
		})
	}
}

func TestGetByID(t *testing.T) {
	s := newTestServer(t)
	created := s.create(t, map[string]any{"title": "Find me"})

	code, resp := s.do(t, http.MethodGet, "/api/tasks/"+itoa(created.ID), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, created.ID, decodeTask(t, resp).ID)

	code, resp = s.do(t, http.MethodGet, "/api/tasks/9999", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "task not found", resp.Message)

	code, _ = s.do(t, http.MethodGet, "/api/tasks/abc", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, http.MethodGet, "/api/tasks/0", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestList(t *testing.T) {
	s := newTestServer(t)

	code, resp := s.do(t, http.MethodGet, "/api/tasks", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(resp.Data))

	a := s.create(t, map[string]any{"title": "XABCY", "priority": "high"})
	b := s.create(t, map[string]any{"title": "other", "description": "has abc inside"})
	s.create(t, map[string]any{"title": "unrelated"})

	code, resp = s.do(t, http.MethodGet, "/api/tasks?search=abc", nil)
	require.Equal(t, http.StatusOK, code)
	var tasks []model.Task
	require.NoError(t, json.Unmarshal(resp.Data, &tasks))
	require.Len(t, tasks, 2)
	assert.Equal(t, b.ID, tasks[0].ID)
	assert.Equal(t, a.ID, tasks[1].ID)

	code, resp = s.do(t, http.MethodGet, "/api/tasks?priority=high&status=pending", nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(resp.Data, &tasks))
	require.Len(t, tasks, 1)
	assert.Equal(t, a.ID, tasks[0].ID)

	code, _ = s.do(t, http.MethodGet, "/api/tasks?status=archived", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestUpdate(t *testing.T) {
	s := newTestServer(t)
	created := s.create(t, map[string]any{"title": "Old", "description": "keep me"})
	path := "/api/tasks/" + itoa(created.ID)

	code, resp := s.do(t, http.MethodPut, path, map[string]any{
		"title":    "New",
		"status":   "in_progress",
		"due_date": "2025-01-31",
		"ignored":  true,
	})
	require.Equal(t, http.StatusOK, code, resp.Message)
	updated := decodeTask(t, resp)
	assert.Equal(t, "New", updated.Title)
	assert.Equal(t, model.StatusInProgress, updated.Status)
	require.NotNil(t, updated.DueDate)
	assert.Equal(t, "2025-01-31", *updated.DueDate)
	require.NotNil(t, updated.Description)
	assert.Equal(t, "keep me", *updated.Description)

	code, resp = s.do(t, http.MethodPut, path, map[string]any{"unknownField": 1})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, model.ErrNoUpdatableFields.Error(), resp.Message)

	code, _ = s.do(t, http.MethodPut, path, map[string]any{"status": "bogus"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = s.do(t, http.MethodPut, path, map[string]any{"title": ""})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, model.ErrTitleRequired.Error(), resp.Message)
	_, resp = s.do(t, http.MethodGet, path, nil)
	assert.Equal(t, "New", decodeTask(t, resp).Title)

	code, _ = s.do(t, http.MethodPut, "/api/tasks/9999", map[string]any{"title": "ghost"})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestUpdateStatus(t *testing.T) {
	s := newTestServer(t)
	created := s.create(t, map[string]any{"title": "Status"})
	path := "/api/tasks/" + itoa(created.ID) + "/status"

	code, resp := s.do(t, http.MethodPatch, path, map[string]any{"status": "completed"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, model.StatusCompleted, decodeTask(t, resp).Status)

	code, resp = s.do(t, http.MethodPatch, path, map[string]any{"status": "bogus"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, resp.Message, "invalid status")

	code, resp = s.do(t, http.MethodPatch, path, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, model.ErrStatusRequired.Error(), resp.Message)

	code, resp = s.do(t, http.MethodGet, "/api/tasks/"+itoa(created.ID), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, model.StatusCompleted, decodeTask(t, resp).Status)

	code, _ = s.do(t, http.MethodPatch, "/api/tasks/9999/status", map[string]any{"status": "pending"})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestDelete(t *testing.T) {
	s := newTestServer(t)
	created := s.create(t, map[string]any{"title": "Gone soon"})
	path := "/api/tasks/" + itoa(created.ID)

	code, resp := s.do(t, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, "task deleted", resp.Message)

	code, _ = s.do(t, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestStats(t *testing.T) {
	s := newTestServer(t)

	code, resp := s.do(t, http.MethodGet, "/api/tasks/stats", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"pending":0,"in_progress":0,"completed":0}`, string(resp.Data))

	created := s.create(t, map[string]any{"title": "one"})
	s.create(t, map[string]any{"title": "two"})
	s.do(t, http.MethodPatch, "/api/tasks/"+itoa(created.ID)+"/status", map[string]any{"status": "in_progress"})

	code, resp = s.do(t, http.MethodGet, "/api/tasks/stats", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"pending":1,"in_progress":1,"completed":0}`, string(resp.Data))
}

func TestRouter_Misc(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Welcome to Checklist API")

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	code, resp := s.do(t, http.MethodGet, "/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "error", resp.Status)

	require.NoError(t, s.gateway.Close())
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRouter_CORS(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/tasks", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

// failingStore returns a storage failure from every operation.
type failingStore struct{ err error }

func (f failingStore) Create(context.Context, *model.CreateTaskRequest) (*model.Task, error) {
	return nil, f.err
}
func (f failingStore) FindByID(context.Context, int64) (*model.Task, error) { return nil, f.err }
func (f failingStore) FindAll(context.Context, model.TaskFilter) ([]*model.Task, error) {
	return nil, f.err
}
func (f failingStore) Update(context.Context, int64, model.TaskPatch) (*model.Task, error) {
	return nil, f.err
}
func (f failingStore) UpdateStatus(context.Context, int64, model.Status) (*model.Task, error) {
	return nil, f.err
}
func (f failingStore) Delete(context.Context, int64) (bool, error) { return false, f.err }
func (f failingStore) CountByStatus(context.Context) (model.StatusCounts, error) {
	return model.StatusCounts{}, f.err
}

func TestStorageFailures(t *testing.T) {
	storeErr := &model.StorageError{Op: "list tasks", Err: errors.New("connection refused")}

	for _, debug := range []bool{false, true} {
		h := NewTaskHandler(failingStore{err: storeErr}, newTestLogger(), newTestMetrics(t), debug)
		s := &testServer{handler: NewRouter(h, RouterConfig{Logger: newTestLogger()})}

		code, resp := s.do(t, http.MethodGet, "/api/tasks", nil)
		assert.Equal(t, http.StatusInternalServerError, code)
		assert.Equal(t, "failed to list tasks", resp.Message)
		if debug {
			assert.Equal(t, "list tasks failed: connection refused", resp.Error)
		} else {
			assert.Empty(t, resp.Error)
		}

		code, _ = s.do(t, http.MethodPost, "/api/tasks", map[string]any{"title": "x"})
		assert.Equal(t, http.StatusInternalServerError, code)

		code, _ = s.do(t, http.MethodDelete, "/api/tasks/1", nil)
		assert.Equal(t, http.StatusInternalServerError, code)

		code, _ = s.do(t, http.MethodGet, "/api/tasks/stats", nil)
		assert.Equal(t, http.StatusInternalServerError, code)
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
