package types

import (
	"math"
	"time"
)

// TaskStatus is the workflow state of a task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
)

// TaskStatuses lists every status in display order.
var TaskStatuses = []TaskStatus{TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted}

func (s TaskStatus) Valid() bool {
	for _, status := range TaskStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// TaskPriority ranks a task relative to its owner's other tasks.
type TaskPriority string

const (
	TaskPriorityLow    TaskPriority = "low"
	TaskPriorityMedium TaskPriority = "medium"
	TaskPriorityHigh   TaskPriority = "high"
)

// TaskPriorities lists every priority from lowest to highest.
var TaskPriorities = []TaskPriority{TaskPriorityLow, TaskPriorityMedium, TaskPriorityHigh}

func (p TaskPriority) Valid() bool {
	for _, priority := range TaskPriorities {
		if p == priority {
			return true
		}
	}
	return false
}

// Task is a unit of work owned by exactly one user.
type Task struct {
	// ID is the unique identifier of the task.
	ID int `json:"id" db:"id"`

	// Title is a short human-readable summary, 1 to 200 characters.
	Title string `json:"title" db:"title"`

	// Description holds optional free-form details, up to 2000 characters.
	Description string `json:"description" db:"description"`

	// Status is the workflow state. New tasks start as pending.
	Status TaskStatus `json:"status" db:"status"`

	// Priority defaults to medium when not supplied.
	Priority TaskPriority `json:"priority" db:"priority"`

	// UserID identifies the owning user. Deleting the user deletes the task.
	UserID int `json:"user_id" db:"user_id"`

	// CreatedAt is the timestamp when the task was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the task.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NewTask carries the validated fields of a task creation request.
type NewTask struct {
	Title       string
	Description string
	Priority    TaskPriority
}

// TaskPatch carries the validated fields of a task update request.
// Nil fields are left unchanged.
type TaskPatch struct {
	Title       *string
	Description *string
	Status      *TaskStatus
	Priority    *TaskPriority
}

// Apply returns a copy of task with the patch fields applied.
func (p TaskPatch) Apply(task Task) Task {
	if p.Title != nil {
		task.Title = *p.Title
	}
	if p.Description != nil {
		task.Description = *p.Description
	}
	if p.Status != nil {
		task.Status = *p.Status
	}
	if p.Priority != nil {
		task.Priority = *p.Priority
	}
	return task
}

// TaskFilter selects tasks by exact match. Zero-valued fields do not filter.
type TaskFilter struct {
	// OwnerID restricts results to a single owner when non-nil.
	OwnerID  *int
	Status   TaskStatus
	Priority TaskPriority
}

// TaskQuery is a validated list request: filters plus page coordinates.
type TaskQuery struct {
	Page     int
	Limit    int
	Status   TaskStatus
	Priority TaskPriority
}

// Offset returns the number of rows to skip for the requested page. It
// saturates at math.MaxInt instead of overflowing.
func (q TaskQuery) Offset() int {
	if q.Page < 1 || q.Limit < 1 {
		return 0
	}
	if q.Page-1 > math.MaxInt/q.Limit {
		return math.MaxInt
	}
	return (q.Page - 1) * q.Limit
}

// Pagination describes where a page of results sits in the full result set.
type Pagination struct {
	CurrentPage int `json:"current_page"`
	TotalPages  int `json:"total_pages"`
	TotalTasks  int `json:"total_tasks"`
	Limit       int `json:"limit"`
}

// TaskPage is one page of a task listing.
type TaskPage struct {
	Tasks      []Task     `json:"tasks"`
	Pagination Pagination `json:"pagination"`
}

// TaskStats aggregates task counts across all owners.
type TaskStats struct {
	TotalTasks      int `json:"total_tasks"`
	PendingTasks    int `json:"pending_tasks"`
	InProgressTasks int `json:"in_progress_tasks"`
	CompletedTasks  int `json:"completed_tasks"`
	TotalUsers      int `json:"total_users"`
}
