package models

import "time"

// TaskStatus represents the progress state of a task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// Task is a unit of work that pomodoro sessions are tracked against.
type Task struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"user_id"`
	Title              string     `json:"title"`
	Description        string     `json:"description"`
	EstimatedPomodoros int        `json:"estimated_pomodoros"`
	CompletedPomodoros int        `json:"completed_pomodoros"`
	Status             TaskStatus `json:"status"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Exhausted reports whether every estimated pomodoro has been completed.
func (t *Task) Exhausted() bool {
	return t.CompletedPomodoros >= t.EstimatedPomodoros
}

// DeriveStatus returns the status implied by the pomodoro counts.
// A cancelled task keeps its status.
func (t *Task) DeriveStatus() TaskStatus {
	switch {
	case t.Status == TaskStatusCancelled:
		return TaskStatusCancelled
	case t.Exhausted():
		return TaskStatusCompleted
	case t.CompletedPomodoros > 0:
		return TaskStatusInProgress
	default:
		return TaskStatusPending
	}
}
