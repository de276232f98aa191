package task

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/careline/portal/internal/platform/apperror"
)

const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

const dateLayout = "2006-01-02"

// Task maps to the follow_up_tasks table. A high-priority open task raises
// an urgent alert for staff on the next notification scan.
type Task struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	PatientID   *uuid.UUID `db:"patient_id" json:"patient_id,omitempty"`
	Title       string     `db:"title" json:"title"`
	Description *string    `db:"description" json:"description,omitempty"`
	Priority    string     `db:"priority" json:"priority"`
	Status      string     `db:"status" json:"status"`
	DueDate     *string    `db:"due_date" json:"due_date,omitempty"`
	AssignedTo  *uuid.UUID `db:"assigned_to" json:"assigned_to,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

func ValidStatus(s string) bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// IsUrgent reports whether the task qualifies for an urgent staff alert.
func (t *Task) IsUrgent() bool {
	return t.Priority == PriorityHigh && t.Status == StatusOpen
}

// Normalize trims the title and fills in default priority and status.
func (t *Task) Normalize() {
	t.Title = strings.TrimSpace(t.Title)
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if t.Status == "" {
		t.Status = StatusOpen
	}
	if t.DueDate != nil && strings.TrimSpace(*t.DueDate) == "" {
		t.DueDate = nil
	}
}

func (t *Task) Validate() error {
	if t.Title == "" {
		return apperror.Validation("title is required")
	}
	if !ValidPriority(t.Priority) {
		return apperror.Validationf("invalid priority: %s", t.Priority)
	}
	if !ValidStatus(t.Status) {
		return apperror.Validationf("invalid status: %s", t.Status)
	}
	if t.DueDate != nil {
		if _, err := time.Parse(dateLayout, *t.DueDate); err != nil {
			return apperror.Validation("due_date must be formatted as YYYY-MM-DD")
		}
	}
	return nil
}

// Filter narrows List. Empty fields match everything.
type Filter struct {
	Status    string
	Priority  string
	PatientID *uuid.UUID
}
