package pomodoro

import (
	"errors"

	"github.com/joescharf/pomo/internal/store"
)

var (
	// ErrNotFound is returned when a session or task does not exist or is not owned by the caller.
	ErrNotFound = store.ErrNotFound
	// ErrTaskExhausted is returned when starting a session on a task whose quota is met.
	ErrTaskExhausted = errors.New("task has no remaining estimated pomodoros")
	// ErrTaskCancelled is returned when starting a session on a cancelled task.
	ErrTaskCancelled = errors.New("task is cancelled")
	// ErrSessionConflict is returned when a task already has a running session.
	ErrSessionConflict = errors.New("an active session already exists for this task")
	// ErrNotActive is returned for transitions on completed or cancelled sessions.
	ErrNotActive = errors.New("session is not active")
	// ErrAlreadyPaused is returned when pausing a paused session.
	ErrAlreadyPaused = errors.New("session is already paused")
	// ErrNotPaused is returned when resuming a session that is not paused.
	ErrNotPaused = errors.New("session is not paused")

	// ErrInvalidBreak is returned for break input that fails validation.
	ErrInvalidBreak = errors.New("invalid break")
	// ErrBreakNotScheduled is returned when starting a break that already started or ended.
	ErrBreakNotScheduled = errors.New("break is not scheduled")
	// ErrBreakFinished is returned for transitions on completed or cancelled breaks.
	ErrBreakFinished = errors.New("break is already finished")
	// ErrBreakConflict is returned when the user already has a running break.
	ErrBreakConflict = errors.New("a break is already running")
)

// IsPrecondition reports whether err is a rejected state transition or quota
// check rather than a lookup or storage failure.
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrTaskExhausted) ||
		errors.Is(err, ErrTaskCancelled) ||
		errors.Is(err, ErrSessionConflict) ||
		errors.Is(err, ErrNotActive) ||
		errors.Is(err, ErrAlreadyPaused) ||
		errors.Is(err, ErrNotPaused) ||
		errors.Is(err, ErrBreakNotScheduled) ||
		errors.Is(err, ErrBreakFinished) ||
		errors.Is(err, ErrBreakConflict)
}
