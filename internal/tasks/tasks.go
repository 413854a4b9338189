// Package tasks owns task records and their pomodoro bookkeeping. A Service is
// bound to a store.Queries so it can run inside a caller's transaction.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/joescharf/pomo/internal/models"
	"github.com/joescharf/pomo/internal/store"
)

// ErrInvalid is returned for task input that fails validation.
var ErrInvalid = errors.New("invalid task")

// MaxTitleLength bounds task titles.
const MaxTitleLength = 255

// Service implements task operations on top of the store.
type Service struct {
	q store.Queries
}

// New returns a Service bound to q.
func New(q store.Queries) *Service {
	return &Service{q: q}
}

// Grouped holds a user's tasks bucketed by progress.
type Grouped struct {
	Pending    []*models.Task `json:"pending"`
	InProgress []*models.Task `json:"in_progress"`
	Completed  []*models.Task `json:"completed"`
}

// Create validates and stores a new task, deriving its initial status.
func (s *Service) Create(ctx context.Context, t *models.Task) error {
	t.Title = strings.TrimSpace(t.Title)
	if err := validateTitle(t.Title); err != nil {
		return err
	}
	if t.UserID == "" {
		return fmt.Errorf("%w: user is required", ErrInvalid)
	}
	if t.EstimatedPomodoros < 1 {
		return fmt.Errorf("%w: estimated pomodoros must be at least 1", ErrInvalid)
	}
	if t.CompletedPomodoros < 0 {
		return fmt.Errorf("%w: completed pomodoros cannot be negative", ErrInvalid)
	}
	t.Status = t.DeriveStatus()
	return s.q.CreateTask(ctx, t)
}

func validateTitle(title string) error {
	if title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalid)
	}
	if len([]rune(title)) > MaxTitleLength {
		return fmt.Errorf("%w: title is longer than %d characters", ErrInvalid, MaxTitleLength)
	}
	return nil
}

// Update is a partial edit of a task. Nil fields are left unchanged.
type Update struct {
	Title              *string            `json:"title"`
	Description        *string            `json:"description"`
	EstimatedPomodoros *int               `json:"estimated_pomodoros"`
	CompletedPomodoros *int               `json:"completed_pomodoros"`
	Status             *models.TaskStatus `json:"status"`
}

// Update applies u to the task and re-derives its status from the counts.
// Setting status to cancelled is kept as given; any other status clears a
// cancellation. A task with an active session cannot be cancelled and stays
// in progress while the session lasts.
func (s *Service) Update(ctx context.Context, taskID, userID string, u Update) (*models.Task, error) {
	t, err := s.q.GetTask(ctx, taskID, userID)
	if err != nil {
		return nil, err
	}

	if u.Title != nil {
		title := strings.TrimSpace(*u.Title)
		if err := validateTitle(title); err != nil {
			return nil, err
		}
		t.Title = title
	}
	if u.Description != nil {
		t.Description = *u.Description
	}
	if u.EstimatedPomodoros != nil {
		if *u.EstimatedPomodoros < 1 {
			return nil, fmt.Errorf("%w: estimated pomodoros must be at least 1", ErrInvalid)
		}
		t.EstimatedPomodoros = *u.EstimatedPomodoros
	}
	if u.CompletedPomodoros != nil {
		if *u.CompletedPomodoros < 0 {
			return nil, fmt.Errorf("%w: completed pomodoros cannot be negative", ErrInvalid)
		}
		t.CompletedPomodoros = *u.CompletedPomodoros
	}

	active, err := s.q.CountOtherActive(ctx, taskID, userID, "")
	if err != nil {
		return nil, err
	}

	if u.Status != nil {
		switch *u.Status {
		case models.TaskStatusCancelled:
			if active > 0 {
				return nil, fmt.Errorf("%w: task has an active session; cancel it first", ErrInvalid)
			}
		case models.TaskStatusPending, models.TaskStatusInProgress, models.TaskStatusCompleted:
		default:
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalid, *u.Status)
		}
		t.Status = *u.Status
	}

	t.Status = t.DeriveStatus()
	if t.Status == models.TaskStatusPending && active > 0 {
		t.Status = models.TaskStatusInProgress
	}
	if err := s.q.UpdateTask(ctx, t); err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	return t, nil
}

// Get returns the task if it exists and belongs to userID.
func (s *Service) Get(ctx context.Context, taskID, userID string) (*models.Task, error) {
	return s.q.GetTask(ctx, taskID, userID)
}

// List returns the user's tasks, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]*models.Task, error) {
	return s.q.ListTasks(ctx, userID)
}

// Delete removes a task and, through the foreign key, its sessions.
func (s *Service) Delete(ctx context.Context, taskID, userID string) error {
	return s.q.DeleteTask(ctx, taskID, userID)
}

// Grouped buckets the user's tasks. A task whose quota is met is completed
// regardless of its stored status; cancelled tasks are left out.
func (s *Service) Grouped(ctx context.Context, userID string) (*Grouped, error) {
	all, err := s.q.ListTasks(ctx, userID)
	if err != nil {
		return nil, err
	}
	g := &Grouped{
		Pending:    []*models.Task{},
		InProgress: []*models.Task{},
		Completed:  []*models.Task{},
	}
	for _, t := range all {
		switch {
		case t.Status == models.TaskStatusCompleted || t.Exhausted():
			g.Completed = append(g.Completed, t)
		case t.Status == models.TaskStatusInProgress:
			g.InProgress = append(g.InProgress, t)
		case t.Status == models.TaskStatusPending:
			g.Pending = append(g.Pending, t)
		}
	}
	return g, nil
}

// IncrementCompletedPomodoros adds one completed pomodoro and re-derives the
// status. At quota it is a no-op and returns the task unchanged.
func (s *Service) IncrementCompletedPomodoros(ctx context.Context, taskID, userID string) (*models.Task, error) {
	t, err := s.q.GetTask(ctx, taskID, userID)
	if err != nil {
		return nil, err
	}
	if t.Exhausted() {
		return t, nil
	}
	t.CompletedPomodoros++
	t.Status = t.DeriveStatus()
	if err := s.q.UpdateTask(ctx, t); err != nil {
		return nil, fmt.Errorf("increment pomodoros: %w", err)
	}
	return t, nil
}

// MarkInProgress moves a pending task to in_progress when a session starts.
func (s *Service) MarkInProgress(ctx context.Context, taskID, userID string) error {
	t, err := s.q.GetTask(ctx, taskID, userID)
	if err != nil {
		return err
	}
	if t.Status != models.TaskStatusPending {
		return nil
	}
	t.Status = models.TaskStatusInProgress
	return s.q.UpdateTask(ctx, t)
}

// RevertProgress is called when the last active session of a task is
// cancelled. Tasks without completed pomodoros go back to pending; tasks with
// progress keep it.
func (s *Service) RevertProgress(ctx context.Context, taskID, userID string) (*models.Task, error) {
	t, err := s.q.GetTask(ctx, taskID, userID)
	if err != nil {
		return nil, err
	}
	next := t.DeriveStatus()
	if next == t.Status {
		return t, nil
	}
	t.Status = next
	if err := s.q.UpdateTask(ctx, t); err != nil {
		return nil, fmt.Errorf("revert task status: %w", err)
	}
	return t, nil
}
