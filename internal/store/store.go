package store

import (
	"context"
	"errors"
	"time"

	"github.com/joescharf/pomo/internal/models"
)

var (
	// ErrNotFound is returned when a record does not exist or is not owned by the caller.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write would leave two running sessions for
	// the same task, or two running breaks for the same user.
	ErrConflict = errors.New("conflict")
)

// Queries is the record-level API. It is implemented both by the store itself
// and by the transaction handle passed to WithTx callbacks.
type Queries interface {
	// Tasks
	CreateTask(ctx context.Context, t *models.Task) error
	GetTask(ctx context.Context, id, userID string) (*models.Task, error)
	ListTasks(ctx context.Context, userID string) ([]*models.Task, error)
	UpdateTask(ctx context.Context, t *models.Task) error
	DeleteTask(ctx context.Context, id, userID string) error

	// Pomodoro sessions
	CreateSession(ctx context.Context, s *models.PomodoroSession) error
	GetSession(ctx context.Context, id, userID string) (*models.PomodoroSession, error)
	FindActiveUnpaused(ctx context.Context, taskID, userID string) (*models.PomodoroSession, error)
	CountOtherActive(ctx context.Context, taskID, userID, excludeID string) (int, error)
	UpdateSession(ctx context.Context, s *models.PomodoroSession) error
	ListExpiredSessions(ctx context.Context, now time.Time) ([]*models.PomodoroSession, error)
	ListSessions(ctx context.Context, userID string, limit int) ([]*models.PomodoroSession, error)
	ListActiveSessions(ctx context.Context, userID string) ([]*models.PomodoroSession, error)

	// Breaks
	CreateBreak(ctx context.Context, b *models.Break) error
	GetBreak(ctx context.Context, id, userID string) (*models.Break, error)
	UpdateBreak(ctx context.Context, b *models.Break) error
	DeleteBreak(ctx context.Context, id, userID string) error
	ListBreaks(ctx context.Context, userID string) ([]*models.Break, error)
	FindRunningBreak(ctx context.Context, userID string) (*models.Break, error)
	ListExpiredBreaks(ctx context.Context, now time.Time) ([]*models.Break, error)
}

// Store defines the persistence interface for pomo.
type Store interface {
	Queries

	// WithTx runs fn inside a single transaction. The transaction commits when
	// fn returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(q Queries) error) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
