package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hiroki-koketsu/checklist-api/internal/model"
	"github.com/hiroki-koketsu/checklist-api/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/hiroki-koketsu/checklist-api/internal/handler")

const (
	routeTasks      = "/api/tasks"
	routeTaskStats  = "/api/tasks/stats"
	routeTask       = "/api/tasks/{id}"
	routeTaskStatus = "/api/tasks/{id}/status"
)

// TaskStore is the task repository as seen by the handlers.
type TaskStore interface {
	Create(ctx context.Context, req *model.CreateTaskRequest) (*model.Task, error)
	FindByID(ctx context.Context, id int64) (*model.Task, error)
	FindAll(ctx context.Context, filter model.TaskFilter) ([]*model.Task, error)
	Update(ctx context.Context, id int64, patch model.TaskPatch) (*model.Task, error)
	UpdateStatus(ctx context.Context, id int64, status model.Status) (*model.Task, error)
	Delete(ctx context.Context, id int64) (bool, error)
	CountByStatus(ctx context.Context) (model.StatusCounts, error)
}

// TaskHandler handles HTTP requests for tasks.
type TaskHandler struct {
	repo    TaskStore
	logger  *slog.Logger
	metrics *telemetry.Metrics
	debug   bool
}

// NewTaskHandler creates a new TaskHandler. With debug set, error responses
// include the internal cause.
func NewTaskHandler(repo TaskStore, logger *slog.Logger, metrics *telemetry.Metrics, debug bool) *TaskHandler {
	return &TaskHandler{
		repo:    repo,
		logger:  logger,
		metrics: metrics,
		debug:   debug,
	}
}

// Routes returns the chi router with task routes.
func (h *TaskHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/stats", h.Stats)
	r.Get("/{id}", h.GetByID)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
	r.Patch("/{id}/status", h.UpdateStatus)

	return r
}

// List returns tasks matching the status, priority and search query parameters.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	ctx, span := tracer.Start(ctx, "TaskHandler.List")
	defer span.End()

	filter, err := parseFilter(r)
	if err != nil {
		h.logger.WarnContext(ctx, "invalid filter", slog.Any("error", err))
		h.respondError(ctx, w, r, routeTasks, http.StatusBadRequest, err.Error(), err, start)
		return
	}

	h.logger.InfoContext(ctx, "listing tasks",
		slog.String("status", string(filter.Status)),
		slog.String("priority", string(filter.Priority)),
		slog.String("search", filter.Search),
	)

	tasks, err := h.repo.FindAll(ctx, filter)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list tasks", slog.Any("error", err))
		h.respondError(ctx, w, r, routeTasks, http.StatusInternalServerError, "failed to list tasks", err, start)
		return
	}

	span.SetAttributes(attribute.Int("task.count", len(tasks)))
	h.logger.InfoContext(ctx, "tasks listed", slog.Int("count", len(tasks)))

	h.respondData(ctx, w, r, routeTasks, http.StatusOK, tasks, start)
}

// Stats returns the number of tasks per status.
func (h *TaskHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	ctx, span := tracer.Start(ctx, "TaskHandler.Stats")
	defer span.End()

	counts, err := h.repo.CountByStatus(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to count tasks", slog.Any("error", err))
		h.respondError(ctx, w, r, routeTaskStats, http.StatusInternalServerError, "failed to get task stats", err, start)
		return
	}

	span.SetAttributes(attribute.Int64("task.count", counts.Total()))
	h.respondData(ctx, w, r, routeTaskStats, http.StatusOK, counts, start)
}

// Create adds a new task.
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	ctx, span := tracer.Start(ctx, "TaskHandler.Create")
	defer span.End()

	var req model.CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid request body", slog.Any("error", err))
		h.respondError(ctx, w, r, routeTasks, http.StatusBadRequest, "invalid request body", err, start)
		return
	}

	if err := req.Validate(); err != nil {
		h.logger.WarnContext(ctx, "validation failed", slog.Any("error", err))
		h.respondError(ctx, w, r, routeTasks, http.StatusBadRequest, err.Error(), err, start)
		return
	}

	h.logger.InfoContext(ctx, "creating task", slog.String("title", req.Title))

	task, err := h.repo.Create(ctx, &req)
	if err != nil {
		h.failWrite(ctx, w, r, routeTasks, "failed to create task", err, start)
		return
	}

	span.SetAttributes(attribute.Int64("task.id", task.ID))
	h.logger.InfoContext(ctx, "task created", slog.Int64("id", task.ID))

	h.respondData(ctx, w, r, routeTasks, http.StatusCreated, task, start)
}

// GetByID returns a task by ID.
func (h *TaskHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	id, ok := h.taskID(w, r, routeTask, start)
	if !ok {
		return
	}

	ctx, span := tracer.Start(ctx, "TaskHandler.GetByID",
		trace.WithAttributes(attribute.Int64("task.id", id)),
	)
	defer span.End()

	h.logger.InfoContext(ctx, "getting task", slog.Int64("id", id))

	task, err := h.repo.FindByID(ctx, id)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to get task", slog.Any("error", err))
		h.respondError(ctx, w, r, routeTask, http.StatusInternalServerError, "failed to get task", err, start)
		return
	}
	if task == nil {
		h.notFound(ctx, w, r, routeTask, id, start)
		return
	}

	h.respondData(ctx, w, r, routeTask, http.StatusOK, task, start)
}

// Update modifies the fields present in the request body. Unknown fields
// are ignored.
func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	id, ok := h.taskID(w, r, routeTask, start)
	if !ok {
		return
	}

	ctx, span := tracer.Start(ctx, "TaskHandler.Update",
		trace.WithAttributes(attribute.Int64("task.id", id)),
	)
	defer span.End()

	var patch model.TaskPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		h.logger.WarnContext(ctx, "invalid request body", slog.Any("error", err))
		h.respondError(ctx, w, r, routeTask, http.StatusBadRequest, "invalid request body", err, start)
		return
	}

	if !h.exists(ctx, w, r, routeTask, id, start) {
		return
	}

	h.logger.InfoContext(ctx, "updating task", slog.Int64("id", id))

	task, err := h.repo.Update(ctx, id, patch)
	if err != nil {
		h.failWrite(ctx, w, r, routeTask, "failed to update task", err, start)
		return
	}
	if task == nil {
		h.notFound(ctx, w, r, routeTask, id, start)
		return
	}

	h.logger.InfoContext(ctx, "task updated", slog.Int64("id", id))
	h.respondData(ctx, w, r, routeTask, http.StatusOK, task, start)
}

type updateStatusRequest struct {
	Status model.Status `json:"status"`
}

// UpdateStatus changes only the status of a task.
func (h *TaskHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	id, ok := h.taskID(w, r, routeTaskStatus, start)
	if !ok {
		return
	}

	ctx, span := tracer.Start(ctx, "TaskHandler.UpdateStatus",
		trace.WithAttributes(attribute.Int64("task.id", id)),
	)
	defer span.End()

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid request body", slog.Any("error", err))
		h.respondError(ctx, w, r, routeTaskStatus, http.StatusBadRequest, "invalid request body", err, start)
		return
	}
	if req.Status == "" {
		h.respondError(ctx, w, r, routeTaskStatus, http.StatusBadRequest, model.ErrStatusRequired.Error(), model.ErrStatusRequired, start)
		return
	}

	if !h.exists(ctx, w, r, routeTaskStatus, id, start) {
		return
	}

	span.SetAttributes(attribute.String("task.status", string(req.Status)))
	h.logger.InfoContext(ctx, "updating task status", slog.Int64("id", id), slog.String("status", string(req.Status)))

	task, err := h.repo.UpdateStatus(ctx, id, req.Status)
	if err != nil {
		h.failWrite(ctx, w, r, routeTaskStatus, "failed to update task status", err, start)
		return
	}
	if task == nil {
		h.notFound(ctx, w, r, routeTaskStatus, id, start)
		return
	}

	h.respondData(ctx, w, r, routeTaskStatus, http.StatusOK, task, start)
}

// Delete removes a task.
func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	id, ok := h.taskID(w, r, routeTask, start)
	if !ok {
		return
	}

	ctx, span := tracer.Start(ctx, "TaskHandler.Delete",
		trace.WithAttributes(attribute.Int64("task.id", id)),
	)
	defer span.End()

	if !h.exists(ctx, w, r, routeTask, id, start) {
		return
	}

	h.logger.InfoContext(ctx, "deleting task", slog.Int64("id", id))

	deleted, err := h.repo.Delete(ctx, id)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to delete task", slog.Any("error", err))
		h.respondError(ctx, w, r, routeTask, http.StatusInternalServerError, "failed to delete task", err, start)
		return
	}
	if !deleted {
		h.notFound(ctx, w, r, routeTask, id, start)
		return
	}

	h.logger.InfoContext(ctx, "task deleted", slog.Int64("id", id))
	h.respond(ctx, w, r, routeTask, http.StatusOK, envelope{Status: statusSuccess, Message: "task deleted"}, start)
}

// taskID parses the {id} URL parameter. It writes a 400 response and
// returns false when the id is not a positive integer.
func (h *TaskHandler) taskID(w http.ResponseWriter, r *http.Request, route string, start time.Time) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		h.logger.WarnContext(r.Context(), "invalid task id", slog.String("id", raw))
		h.respondError(r.Context(), w, r, route, http.StatusBadRequest, model.ErrInvalidTaskID.Error(), model.ErrInvalidTaskID, start)
		return 0, false
	}
	return id, true
}

// exists writes a 404 or 500 response and returns false unless the task
// can be found.
func (h *TaskHandler) exists(ctx context.Context, w http.ResponseWriter, r *http.Request, route string, id int64, start time.Time) bool {
	task, err := h.repo.FindByID(ctx, id)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to get task", slog.Any("error", err))
		h.respondError(ctx, w, r, route, http.StatusInternalServerError, "failed to get task", err, start)
		return false
	}
	if task == nil {
		h.notFound(ctx, w, r, route, id, start)
		return false
	}
	return true
}

func (h *TaskHandler) notFound(ctx context.Context, w http.ResponseWriter, r *http.Request, route string, id int64, start time.Time) {
	h.logger.WarnContext(ctx, "task not found", slog.Int64("id", id))
	h.respondError(ctx, w, r, route, http.StatusNotFound, model.ErrTaskNotFound.Error(), model.ErrTaskNotFound, start)
}

// failWrite maps a repository write error to 400 or 500.
func (h *TaskHandler) failWrite(ctx context.Context, w http.ResponseWriter, r *http.Request, route, message string, err error, start time.Time) {
	if model.IsValidationError(err) {
		h.logger.WarnContext(ctx, "validation failed", slog.Any("error", err))
		h.respondError(ctx, w, r, route, http.StatusBadRequest, err.Error(), err, start)
		return
	}
	h.logger.ErrorContext(ctx, message, slog.Any("error", err))
	h.respondError(ctx, w, r, route, http.StatusInternalServerError, message, err, start)
}

func parseFilter(r *http.Request) (model.TaskFilter, error) {
	q := r.URL.Query()
	filter := model.TaskFilter{Search: q.Get("search")}

	if raw := q.Get("status"); raw != "" {
		status, err := model.ParseStatus(raw)
		if err != nil {
			return filter, err
		}
		filter.Status = status
	}
	if raw := q.Get("priority"); raw != "" {
		priority, err := model.ParsePriority(raw)
		if err != nil {
			return filter, err
		}
		filter.Priority = priority
	}

	return filter, nil
}
