package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/hiroki-koketsu/checklist-api/internal/model"
	"github.com/hiroki-koketsu/checklist-api/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/hiroki-koketsu/checklist-api/internal/repository")

// DB is the subset of the storage gateway the repository needs.
type DB interface {
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) *sql.Row
	Exec(ctx context.Context, query string, args ...any) (storage.Result, error)
	Insert(ctx context.Context, query string, args ...any) (int64, error)
}

const taskColumns = "id, title, description, content, status, priority, due_date, created_at"

// TaskRepository stores tasks in a relational database. It holds no state
// besides the gateway, so every read goes to storage.
type TaskRepository struct {
	db DB
}

// NewTaskRepository creates a new TaskRepository.
func NewTaskRepository(db DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// Create inserts a task and returns the row as persisted.
func (r *TaskRepository) Create(ctx context.Context, req *model.CreateTaskRequest) (*model.Task, error) {
	ctx, span := tracer.Start(ctx, "TaskRepository.Create",
		trace.WithAttributes(attribute.String("task.title", req.Title)),
	)
	defer span.End()

	priority := model.DefaultPriority
	if req.Priority != nil && *req.Priority != "" {
		priority = *req.Priority
	}

	var dueDate any
	if req.DueDate != nil && *req.DueDate != "" {
		normalized, err := model.NormalizeDueDate(*req.DueDate)
		if err != nil {
			return nil, fail(span, err)
		}
		dueDate = normalized
	}

	id, err := r.db.Insert(ctx,
		"INSERT INTO tasks (title, description, content, status, priority, due_date) VALUES (?, ?, ?, ?, ?, ?)",
		req.Title, nullable(req.Description), nullable(req.Content), string(model.StatusPending), string(priority), dueDate,
	)
	if err != nil {
		return nil, fail(span, storageError("create task", err))
	}

	span.SetAttributes(attribute.Int64("task.id", id))
	return r.FindByID(ctx, id)
}

// FindByID returns the task with the given id, or nil if there is none.
func (r *TaskRepository) FindByID(ctx context.Context, id int64) (*model.Task, error) {
	ctx, span := tracer.Start(ctx, "TaskRepository.FindByID",
		trace.WithAttributes(attribute.Int64("task.id", id)),
	)
	defer span.End()

	row := r.db.QueryRow(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetAttributes(attribute.Bool("task.found", false))
		return nil, nil
	}
	if err != nil {
		return nil, fail(span, storageError("find task", err))
	}

	span.SetAttributes(attribute.Bool("task.found", true))
	return task, nil
}

// FindAll lists tasks matching every non-empty filter field, newest first.
func (r *TaskRepository) FindAll(ctx context.Context, filter model.TaskFilter) ([]*model.Task, error) {
	ctx, span := tracer.Start(ctx, "TaskRepository.FindAll",
		trace.WithAttributes(
			attribute.String("filter.status", string(filter.Status)),
			attribute.String("filter.priority", string(filter.Priority)),
			attribute.String("filter.search", filter.Search),
		),
	)
	defer span.End()

	query := "SELECT " + taskColumns + " FROM tasks"
	var conditions []string
	var args []any

	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Priority != "" {
		conditions = append(conditions, "priority = ?")
		args = append(args, string(filter.Priority))
	}
	if filter.Search != "" {
		pattern := "%" + escapeLike(strings.ToLower(filter.Search)) + "%"
		conditions = append(conditions, `(LOWER(title) LIKE ? ESCAPE '\' OR LOWER(description) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fail(span, storageError("list tasks", err))
	}
	defer rows.Close()

	tasks := make([]*model.Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fail(span, storageError("list tasks", err))
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, storageError("list tasks", err))
	}

	span.SetAttributes(attribute.Int("task.count", len(tasks)))
	return tasks, nil
}

// Update applies the non-nil fields of patch and returns the task as
// persisted, or nil if no task has that id.
func (r *TaskRepository) Update(ctx context.Context, id int64, patch model.TaskPatch) (*model.Task, error) {
	ctx, span := tracer.Start(ctx, "TaskRepository.Update",
		trace.WithAttributes(attribute.Int64("task.id", id)),
	)
	defer span.End()

	if err := patch.Validate(); err != nil {
		return nil, fail(span, err)
	}

	var sets []string
	var args []any
	set := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}

	if patch.Title != nil {
		set("title", *patch.Title)
	}
	if patch.Description != nil {
		set("description", *patch.Description)
	}
	if patch.Content != nil {
		set("content", *patch.Content)
	}
	if patch.Status != nil {
		set("status", string(*patch.Status))
	}
	if patch.Priority != nil {
		set("priority", string(*patch.Priority))
	}
	if patch.DueDate != nil {
		if *patch.DueDate == "" {
			set("due_date", nil)
		} else {
			normalized, err := model.NormalizeDueDate(*patch.DueDate)
			if err != nil {
				return nil, fail(span, err)
			}
			set("due_date", normalized)
		}
	}

	args = append(args, id)
	res, err := r.db.Exec(ctx, "UPDATE tasks SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return nil, fail(span, storageError("update task", err))
	}

	span.SetAttributes(
		attribute.Int("task.updated_fields", len(sets)),
		attribute.Int64("db.rows_affected", res.RowsAffected),
	)
	return r.FindByID(ctx, id)
}

// UpdateStatus moves a task to status. Any status may follow any other.
func (r *TaskRepository) UpdateStatus(ctx context.Context, id int64, status model.Status) (*model.Task, error) {
	ctx, span := tracer.Start(ctx, "TaskRepository.UpdateStatus",
		trace.WithAttributes(
			attribute.Int64("task.id", id),
			attribute.String("task.status", string(status)),
		),
	)
	defer span.End()

	if !status.Valid() {
		return nil, fail(span, fmt.Errorf("%w: %q", model.ErrInvalidStatus, status))
	}

	return r.Update(ctx, id, model.TaskPatch{Status: &status})
}

// Delete removes a task and reports whether a row was actually deleted.
func (r *TaskRepository) Delete(ctx context.Context, id int64) (bool, error) {
	ctx, span := tracer.Start(ctx, "TaskRepository.Delete",
		trace.WithAttributes(attribute.Int64("task.id", id)),
	)
	defer span.End()

	res, err := r.db.Exec(ctx, "DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return false, fail(span, storageError("delete task", err))
	}

	deleted := res.RowsAffected > 0
	span.SetAttributes(attribute.Bool("task.found", deleted))
	return deleted, nil
}

// CountByStatus returns the number of tasks per status. Statuses without
// tasks are reported as zero.
func (r *TaskRepository) CountByStatus(ctx context.Context) (model.StatusCounts, error) {
	ctx, span := tracer.Start(ctx, "TaskRepository.CountByStatus")
	defer span.End()

	var counts model.StatusCounts

	rows, err := r.db.Query(ctx, "SELECT status, COUNT(*) FROM tasks GROUP BY status")
	if err != nil {
		return counts, fail(span, storageError("count tasks", err))
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return model.StatusCounts{}, fail(span, storageError("count tasks", err))
		}
		counts.Set(model.Status(status), n)
	}
	if err := rows.Err(); err != nil {
		return model.StatusCounts{}, fail(span, storageError("count tasks", err))
	}

	span.SetAttributes(attribute.Int64("task.count", counts.Total()))
	return counts, nil
}

func storageError(op string, err error) error {
	return &model.StorageError{Op: op, Err: err}
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if storage.IsConstraintViolation(err) {
		span.SetAttributes(attribute.Bool("db.constraint_violation", true))
	}
	return err
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
