package models

import "time"

// BreakType distinguishes short rests from the longer one after a set.
type BreakType string

const (
	BreakTypeShort BreakType = "short"
	BreakTypeLong  BreakType = "long"
)

// Valid reports whether t is a known break type.
func (t BreakType) Valid() bool {
	return t == BreakTypeShort || t == BreakTypeLong
}

// BreakStatus represents the lifecycle state of a break.
type BreakStatus string

const (
	BreakStatusScheduled BreakStatus = "scheduled"
	BreakStatusRunning   BreakStatus = "running"
	BreakStatusCompleted BreakStatus = "completed"
	BreakStatusCancelled BreakStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s BreakStatus) Terminal() bool {
	return s == BreakStatusCompleted || s == BreakStatusCancelled
}

// Break is a rest period taken after a pomodoro session.
//
// A scheduled break carries its planned window. Starting it moves the window
// to begin at the start time. Terminal breaks carry the time they ended in
// EndTime. RemainingSeconds is never stored; read paths fill it in for
// running breaks.
type Break struct {
	ID               string      `json:"id"`
	UserID           string      `json:"user_id"`
	SessionID        string      `json:"session_id"`
	Type             BreakType   `json:"type"`
	DurationMinutes  int         `json:"duration_minutes"`
	StartTime        time.Time   `json:"start_time"`
	EndTime          time.Time   `json:"end_time"`
	Status           BreakStatus `json:"status"`
	RemainingSeconds *int        `json:"remaining_seconds,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// Remaining returns the seconds left at now for a running break, and zero
// otherwise.
func (b *Break) Remaining(now time.Time) int {
	if b.Status != BreakStatusRunning {
		return 0
	}
	return SecondsUntil(b.EndTime, now)
}
