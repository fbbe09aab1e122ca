package model

import (
	"fmt"
	"strings"
	"time"
)

// Status is the progress state of a task. Any status may move to any other.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Statuses lists every valid status in display order.
var Statuses = []Status{StatusPending, StatusInProgress, StatusCompleted}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// ParseStatus converts raw input into a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return s, nil
}

// Priority is the importance of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// DefaultPriority is applied when a task is created without one.
const DefaultPriority = PriorityMedium

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// ParsePriority converts raw input into a Priority.
func ParsePriority(raw string) (Priority, error) {
	p := Priority(raw)
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidPriority, raw)
	}
	return p, nil
}

// Task represents a checklist item in the system.
type Task struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	Content     *string   `json:"content"`
	Status      Status    `json:"status"`
	Priority    Priority  `json:"priority"`
	DueDate     *string   `json:"due_date"`
	CreatedAt   time.Time `json:"created_at"`
}

// CreateTaskRequest represents the request body for creating a task.
type CreateTaskRequest struct {
	Title       string    `json:"title"`
	Description *string   `json:"description,omitempty"`
	Content     *string   `json:"content,omitempty"`
	Priority    *Priority `json:"priority,omitempty"`
	DueDate     *string   `json:"due_date,omitempty"`
}

// Validate checks if the CreateTaskRequest is valid.
func (r *CreateTaskRequest) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return ErrTitleRequired
	}
	if r.Priority != nil && *r.Priority != "" && !r.Priority.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPriority, *r.Priority)
	}
	return nil
}

// TaskPatch is a partial update. A nil field is left untouched; a non-nil
// field is written as is, including the empty string, except that a title
// may never become blank.
type TaskPatch struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Content     *string   `json:"content,omitempty"`
	Status      *Status   `json:"status,omitempty"`
	Priority    *Priority `json:"priority,omitempty"`
	DueDate     *string   `json:"due_date,omitempty"`
}

// IsEmpty reports whether the patch carries no updatable field.
func (p TaskPatch) IsEmpty() bool {
	return p.Title == nil &&
		p.Description == nil &&
		p.Content == nil &&
		p.Status == nil &&
		p.Priority == nil &&
		p.DueDate == nil
}

// Validate rejects enum values that storage must never see.
func (p TaskPatch) Validate() error {
	if p.IsEmpty() {
		return ErrNoUpdatableFields
	}
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return ErrTitleRequired
	}
	if p.Status != nil && !p.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, *p.Status)
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPriority, *p.Priority)
	}
	return nil
}

// TaskFilter narrows a task listing. Zero-valued fields do not filter.
type TaskFilter struct {
	Status   Status
	Priority Priority
	Search   string
}

// StatusCounts holds the number of tasks in each status.
type StatusCounts struct {
	Pending    int64 `json:"pending"`
	InProgress int64 `json:"in_progress"`
	Completed  int64 `json:"completed"`
}

// Set stores n for status s. Unknown statuses are ignored.
func (c *StatusCounts) Set(s Status, n int64) {
	switch s {
	case StatusPending:
		c.Pending = n
	case StatusInProgress:
		c.InProgress = n
	case StatusCompleted:
		c.Completed = n
	}
}

// Get returns the count for status s.
func (c StatusCounts) Get(s Status) int64 {
	switch s {
	case StatusPending:
		return c.Pending
	case StatusInProgress:
		return c.InProgress
	case StatusCompleted:
		return c.Completed
	}
	return 0
}

func (c StatusCounts) Total() int64 {
	return c.Pending + c.InProgress + c.Completed
}
