package task

import "time"

// Status is the board column a task sits in.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusDone       Status = "done"
)

// Valid reports whether the status is one of the known values.
func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusBlocked, StatusDone:
		return true
	}
	return false
}

// Priority orders tasks within a column.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether the priority is one of the known values.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Task is a single unit of work on a project board. Schedule fields
// (start, due, duration, dependencies) feed the Gantt derivation; they
// are optional and zero values mean "unscheduled".
type Task struct {
	ID         string   `json:"id"`
	ProjectID  string   `json:"project_id"`
	AssigneeID string   `json:"assignee_id,omitempty"`
	LegacyID   string   `json:"legacy_id,omitempty"`
	Title      string   `json:"title"`
	Notes      string   `json:"notes,omitempty"`
	Status     Status   `json:"status"`
	Priority   Priority `json:"priority"`
	Position   int      `json:"position"`

	StartDate    time.Time `json:"start_date,omitempty"`
	DueDate      time.Time `json:"due_date,omitempty"`
	DurationDays int       `json:"duration_days,omitempty"`
	DependsOn    []string  `json:"depends_on,omitempty"`
	Progress     int       `json:"progress"`
	Overdue      bool      `json:"overdue"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Filter narrows task listings. Zero fields match everything.
type Filter struct {
	Status     Status
	Priority   Priority
	AssigneeID string
}

// Matches reports whether the task satisfies every set filter field.
func (f Filter) Matches(t Task) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Priority != "" && t.Priority != f.Priority {
		return false
	}
	if f.AssigneeID != "" && t.AssigneeID != f.AssigneeID {
		return false
	}
	return true
}
