package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/hiroki-koketsu/checklist-api/internal/model"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// taskRow mirrors the tasks table. Date columns come back as time.Time or
// text depending on the driver, so they are scanned loosely and converted.
type taskRow struct {
	ID          int64
	Title       string
	Description sql.NullString
	Content     sql.NullString
	Status      string
	Priority    string
	DueDate     any
	CreatedAt   any
}

func scanTask(s rowScanner) (*model.Task, error) {
	var row taskRow
	if err := s.Scan(
		&row.ID,
		&row.Title,
		&row.Description,
		&row.Content,
		&row.Status,
		&row.Priority,
		&row.DueDate,
		&row.CreatedAt,
	); err != nil {
		return nil, err
	}
	return row.toModel()
}

func (row taskRow) toModel() (*model.Task, error) {
	task := &model.Task{
		ID:       row.ID,
		Title:    row.Title,
		Status:   model.Status(row.Status),
		Priority: model.Priority(row.Priority),
	}
	if row.Description.Valid {
		task.Description = &row.Description.String
	}
	if row.Content.Valid {
		task.Content = &row.Content.String
	}

	dueDate, err := dateColumn(row.DueDate)
	if err != nil {
		return nil, fmt.Errorf("task %d due_date: %w", row.ID, err)
	}
	task.DueDate = dueDate

	createdAt, err := timeColumn(row.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("task %d created_at: %w", row.ID, err)
	}
	task.CreatedAt = createdAt

	return task, nil
}

func dateColumn(v any) (*string, error) {
	var s string
	switch d := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		s = d.Format(model.DateLayout)
		return &s, nil
	case string:
		s = d
	case []byte:
		s = string(d)
	default:
		return nil, fmt.Errorf("unexpected type %T", v)
	}

	normalized, err := model.NormalizeDueDate(s)
	if err != nil {
		return nil, err
	}
	return &normalized, nil
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	time.RFC3339Nano,
}

func timeColumn(v any) (time.Time, error) {
	var s string
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		s = t
	case []byte:
		s = string(t)
	default:
		return time.Time{}, fmt.Errorf("unexpected type %T", v)
	}

	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}
