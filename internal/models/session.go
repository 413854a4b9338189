package models

import "time"

// SessionStatus represents the lifecycle state of a pomodoro session.
// Pausing is tracked separately by PomodoroSession.IsPaused.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusCancelled SessionStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusCancelled
}

// PomodoroSession is one timed focus interval linked to a task and a user.
//
// While running, EndTime is the absolute deadline and the stored
// RemainingSeconds is nil; read paths fill it in from the deadline. While
// paused, EndTime is nil and RemainingSeconds holds the frozen countdown.
// Terminal sessions carry the completion or cancellation time in EndTime and
// no remaining time.
type PomodoroSession struct {
	ID               string        `json:"id"`
	UserID           string        `json:"user_id"`
	TaskID           string        `json:"task_id"`
	DurationMinutes  int           `json:"duration_minutes"`
	StartTime        time.Time     `json:"start_time"`
	EndTime          *time.Time    `json:"end_time"`
	RemainingSeconds *int          `json:"remaining_seconds"`
	PausedAt         *time.Time    `json:"paused_at"`
	Status           SessionStatus `json:"status"`
	IsPaused         bool          `json:"is_paused"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Running reports whether the session is active and counting down.
func (s *PomodoroSession) Running() bool {
	return s.Status == SessionStatusActive && !s.IsPaused
}

// Remaining returns the seconds left at now: recomputed from EndTime while
// running, the frozen value while paused, and zero for terminal sessions.
func (s *PomodoroSession) Remaining(now time.Time) int {
	switch {
	case s.Status.Terminal():
		return 0
	case s.IsPaused || s.EndTime == nil:
		if s.RemainingSeconds == nil {
			return 0
		}
		return max(0, *s.RemainingSeconds)
	default:
		return SecondsUntil(*s.EndTime, now)
	}
}

// SecondsUntil returns max(0, round(deadline-now)) in whole seconds.
func SecondsUntil(deadline, now time.Time) int {
	d := deadline.Sub(now).Round(time.Second)
	if d <= 0 {
		return 0
	}
	return int(d / time.Second)
}
