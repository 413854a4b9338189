// Package pomodoro implements the session lifecycle: starting, pausing,
// resuming, completing and cancelling pomodoro sessions, plus the sweeper that
// finalizes sessions whose deadline passed with no client action.
package pomodoro

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/joescharf/pomo/internal/models"
	"github.com/joescharf/pomo/internal/store"
	"github.com/joescharf/pomo/internal/tasks"
)

// DefaultDurationMinutes is the nominal length of a session.
const DefaultDurationMinutes = 25

const tracerName = "github.com/joescharf/pomo/internal/pomodoro"

// Engine applies session transitions. Every mutation runs in a single store
// transaction and re-reads the session before changing it.
type Engine struct {
	store    store.Store
	now      func() time.Time
	duration int
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithDuration sets the duration in minutes for newly started sessions.
func WithDuration(minutes int) Option {
	return func(e *Engine) {
		if minutes > 0 {
			e.duration = minutes
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates an engine over s.
func NewEngine(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:    s,
		now:      time.Now,
		duration: DefaultDurationMinutes,
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Duration returns the length in minutes of newly started sessions.
func (e *Engine) Duration() int { return e.duration }

// Result is returned by operations that may complete a session.
type Result struct {
	Session            *models.PomodoroSession `json:"session"`
	CompletedPomodoros int                     `json:"completed_pomodoros,omitempty"`
	EstimatedPomodoros int                     `json:"estimated_pomodoros,omitempty"`
	Next               *models.PomodoroSession `json:"next_session,omitempty"`
}

// Body is what clients receive for r: the bare session when it is still
// active after a resume, the full result when it was completed.
func (r *Result) Body() any {
	if r.Session != nil && r.Session.Status == models.SessionStatusActive {
		return r.Session
	}
	return r
}

// clock returns the current time at the store's millisecond precision.
func (e *Engine) clock() time.Time {
	return e.now().UTC().Truncate(time.Millisecond)
}

// Start creates a running session for the task.
func (e *Engine) Start(ctx context.Context, taskID, userID string) (*models.PomodoroSession, error) {
	ctx, span := e.tracer.Start(ctx, "pomodoro.Start", trace.WithAttributes(
		attribute.String("pomo.task_id", taskID),
		attribute.String("pomo.user_id", userID),
	))
	defer span.End()

	var created *models.PomodoroSession
	err := e.store.WithTx(ctx, func(q store.Queries) error {
		ts := tasks.New(q)
		task, err := ts.Get(ctx, taskID, userID)
		if err != nil {
			return err
		}
		if task.Status == models.TaskStatusCancelled {
			return fmt.Errorf("start session for task %s: %w", taskID, ErrTaskCancelled)
		}
		if task.Exhausted() {
			return fmt.Errorf("start session for task %s: %w", taskID, ErrTaskExhausted)
		}

		existing, err := q.FindActiveUnpaused(ctx, taskID, userID)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("start session for task %s: %w", taskID, ErrSessionConflict)
		}

		created = e.newSession(taskID, userID, e.duration)
		if err := q.CreateSession(ctx, created); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return fmt.Errorf("start session for task %s: %w", taskID, ErrSessionConflict)
			}
			return err
		}
		return ts.MarkInProgress(ctx, taskID, userID)
	})
	if err != nil {
		return nil, recordError(span, err)
	}

	e.logger.Debug("session started", "session_id", created.ID, "task_id", taskID, "user_id", userID)
	return e.view(created), nil
}

// Pause freezes the remaining time of a running session.
func (e *Engine) Pause(ctx context.Context, sessionID, userID string) (*models.PomodoroSession, error) {
	ctx, span := e.startSessionSpan(ctx, "pomodoro.Pause", sessionID, userID)
	defer span.End()

	var session *models.PomodoroSession
	err := e.store.WithTx(ctx, func(q store.Queries) error {
		var err error
		session, err = q.GetSession(ctx, sessionID, userID)
		if err != nil {
			return err
		}
		if session.Status != models.SessionStatusActive {
			return fmt.Errorf("pause session %s: %w", sessionID, ErrNotActive)
		}
		if session.IsPaused {
			return fmt.Errorf("pause session %s: %w", sessionID, ErrAlreadyPaused)
		}

		now := e.clock()
		remaining := session.Remaining(now)
		session.IsPaused = true
		session.RemainingSeconds = &remaining
		session.PausedAt = &now
		session.EndTime = nil
		session.UpdatedAt = now
		return q.UpdateSession(ctx, session)
	})
	if err != nil {
		return nil, recordError(span, err)
	}
	return session, nil
}

// Resume restarts a paused session from its frozen remaining time. A session
// frozen at zero is completed instead, with the deadline it had already crossed.
func (e *Engine) Resume(ctx context.Context, sessionID, userID string) (*Result, error) {
	ctx, span := e.startSessionSpan(ctx, "pomodoro.Resume", sessionID, userID)
	defer span.End()

	var res *Result
	err := e.store.WithTx(ctx, func(q store.Queries) error {
		session, err := q.GetSession(ctx, sessionID, userID)
		if err != nil {
			return err
		}
		if session.Status != models.SessionStatusActive {
			return fmt.Errorf("resume session %s: %w", sessionID, ErrNotActive)
		}
		if !session.IsPaused {
			return fmt.Errorf("resume session %s: %w", sessionID, ErrNotPaused)
		}

		now := e.clock()
		remaining := 0
		if session.RemainingSeconds != nil {
			remaining = *session.RemainingSeconds
		}

		if remaining <= 0 {
			endedAt := now
			if session.PausedAt != nil {
				endedAt = session.PausedAt.Add(time.Duration(remaining) * time.Second)
			}
			res, err = e.finalize(ctx, q, session, endedAt)
			return err
		}

		existing, err := q.FindActiveUnpaused(ctx, session.TaskID, userID)
		if err != nil {
			return err
		}
		if existing != nil && existing.ID != session.ID {
			return fmt.Errorf("resume session %s: %w", sessionID, ErrSessionConflict)
		}

		end := now.Add(time.Duration(remaining) * time.Second)
		session.IsPaused = false
		session.Status = models.SessionStatusActive
		session.StartTime = now
		session.EndTime = &end
		session.RemainingSeconds = nil
		session.PausedAt = nil
		session.UpdatedAt = now
		if err := q.UpdateSession(ctx, session); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return fmt.Errorf("resume session %s: %w", sessionID, ErrSessionConflict)
			}
			return err
		}
		res = &Result{Session: e.view(session)}
		return nil
	})
	if err != nil {
		return nil, recordError(span, err)
	}
	return res, nil
}

// Complete finishes a running or paused session now, counts it against the
// task and starts the next session while quota remains.
func (e *Engine) Complete(ctx context.Context, sessionID, userID string) (*Result, error) {
	ctx, span := e.startSessionSpan(ctx, "pomodoro.Complete", sessionID, userID)
	defer span.End()

	var res *Result
	err := e.store.WithTx(ctx, func(q store.Queries) error {
		session, err := q.GetSession(ctx, sessionID, userID)
		if err != nil {
			return err
		}
		if session.Status.Terminal() {
			return fmt.Errorf("complete session %s: %w", sessionID, ErrNotActive)
		}
		res, err = e.finalize(ctx, q, session, e.clock())
		return err
	})
	if err != nil {
		return nil, recordError(span, err)
	}
	return res, nil
}

// Cancel ends a session without counting it. When no other active session
// remains for the task, the task drops back to pending unless it already has
// completed pomodoros.
func (e *Engine) Cancel(ctx context.Context, sessionID, userID string) (*models.PomodoroSession, error) {
	ctx, span := e.startSessionSpan(ctx, "pomodoro.Cancel", sessionID, userID)
	defer span.End()

	var session *models.PomodoroSession
	err := e.store.WithTx(ctx, func(q store.Queries) error {
		var err error
		session, err = q.GetSession(ctx, sessionID, userID)
		if err != nil {
			return err
		}
		if session.Status.Terminal() {
			return fmt.Errorf("cancel session %s: %w", sessionID, ErrNotActive)
		}

		now := e.clock()
		session.Status = models.SessionStatusCancelled
		session.EndTime = &now
		session.IsPaused = false
		session.RemainingSeconds = nil
		session.PausedAt = nil
		session.UpdatedAt = now
		if err := q.UpdateSession(ctx, session); err != nil {
			return err
		}

		others, err := q.CountOtherActive(ctx, session.TaskID, userID, session.ID)
		if err != nil {
			return err
		}
		if others > 0 {
			return nil
		}
		_, err = tasks.New(q).RevertProgress(ctx, session.TaskID, userID)
		return err
	})
	if err != nil {
		return nil, recordError(span, err)
	}
	return session, nil
}

// Sessions returns all of the user's sessions, newest first. Remaining time of
// running sessions is recomputed from their deadline.
func (e *Engine) Sessions(ctx context.Context, userID string) ([]*models.PomodoroSession, error) {
	sessions, err := e.store.ListSessions(ctx, userID, 0)
	if err != nil {
		return nil, err
	}
	for _, s := range sessions {
		e.view(s)
	}
	return sessions, nil
}

// ActiveSession returns the user's most recent running or paused session.
func (e *Engine) ActiveSession(ctx context.Context, userID string) (*models.PomodoroSession, error) {
	sessions, err := e.store.ListActiveSessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, fmt.Errorf("active session for user %s: %w", userID, ErrNotFound)
	}
	// Prefer a running session over a paused one.
	active := sessions[0]
	for _, s := range sessions {
		if s.Running() {
			active = s
			break
		}
	}
	remaining := active.Remaining(e.clock())
	active.RemainingSeconds = &remaining
	return active, nil
}

// expire finalizes a session found by the sweeper at its crossed deadline.
// It returns a nil result when the session is no longer running or its
// deadline moved since it was listed.
func (e *Engine) expire(ctx context.Context, candidate *models.PomodoroSession) (*Result, error) {
	var res *Result
	err := e.store.WithTx(ctx, func(q store.Queries) error {
		session, err := q.GetSession(ctx, candidate.ID, candidate.UserID)
		if err != nil {
			return err
		}
		if !session.Running() || session.EndTime == nil || session.EndTime.After(e.clock()) {
			return nil
		}
		res, err = e.finalize(ctx, q, session, *session.EndTime)
		return err
	})
	return res, err
}

// finalize marks the session completed at endedAt, counts it against the
// task and auto-advances, all on the caller's transaction.
func (e *Engine) finalize(ctx context.Context, q store.Queries, session *models.PomodoroSession, endedAt time.Time) (*Result, error) {
	session.Status = models.SessionStatusCompleted
	session.EndTime = &endedAt
	session.IsPaused = false
	session.RemainingSeconds = nil
	session.PausedAt = nil
	session.UpdatedAt = e.clock()
	if err := q.UpdateSession(ctx, session); err != nil {
		return nil, err
	}

	task, err := tasks.New(q).IncrementCompletedPomodoros(ctx, session.TaskID, session.UserID)
	if err != nil {
		return nil, err
	}

	next, err := e.advance(ctx, q, session, task)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("session completed",
		"session_id", session.ID,
		"task_id", session.TaskID,
		"completed_pomodoros", task.CompletedPomodoros,
		"estimated_pomodoros", task.EstimatedPomodoros,
	)
	return &Result{
		Session:            session,
		CompletedPomodoros: task.CompletedPomodoros,
		EstimatedPomodoros: task.EstimatedPomodoros,
		Next:               e.view(next),
	}, nil
}

// advance starts the task's next session if quota remains and nothing else is
// running for it. Losing the insert to a concurrent writer is not an error.
func (e *Engine) advance(ctx context.Context, q store.Queries, prev *models.PomodoroSession, task *models.Task) (*models.PomodoroSession, error) {
	if task.Exhausted() || task.Status == models.TaskStatusCancelled {
		return nil, nil
	}

	existing, err := q.FindActiveUnpaused(ctx, prev.TaskID, prev.UserID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, nil
	}

	duration := prev.DurationMinutes
	if duration <= 0 {
		duration = e.duration
	}
	next := e.newSession(prev.TaskID, prev.UserID, duration)
	if err := q.CreateSession(ctx, next); err != nil {
		if errors.Is(err, store.ErrConflict) {
			e.logger.Warn("auto-advance skipped: active session already exists",
				"task_id", prev.TaskID, "session_id", prev.ID)
			return nil, nil
		}
		return nil, err
	}

	e.logger.Debug("auto-started next session", "task_id", prev.TaskID, "session_id", next.ID)
	return next, nil
}

// newSession builds a running session. The stored row carries only the
// deadline; remaining time is derived from it on read.
func (e *Engine) newSession(taskID, userID string, durationMinutes int) *models.PomodoroSession {
	now := e.clock()
	end := now.Add(time.Duration(durationMinutes) * time.Minute)
	return &models.PomodoroSession{
		UserID:          userID,
		TaskID:          taskID,
		DurationMinutes: durationMinutes,
		StartTime:       now,
		EndTime:         &end,
		Status:          models.SessionStatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// view fills in the remaining seconds of a running session for callers.
// The value is never written back.
func (e *Engine) view(s *models.PomodoroSession) *models.PomodoroSession {
	if s == nil || !s.Running() {
		return s
	}
	remaining := s.Remaining(e.clock())
	s.RemainingSeconds = &remaining
	return s
}

func (e *Engine) startSessionSpan(ctx context.Context, name, sessionID, userID string) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("pomo.session_id", sessionID),
		attribute.String("pomo.user_id", userID),
	))
}

func recordError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
