package pomodoro

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/joescharf/pomo/internal/models"
	"github.com/joescharf/pomo/internal/store"
)

// DefaultBreakMinutes is the length of a break created without a duration.
const DefaultBreakMinutes = 5

// NewBreak describes a break to schedule after a session.
type NewBreak struct {
	SessionID       string           `json:"session_id"`
	Type            models.BreakType `json:"type"`
	DurationMinutes int              `json:"duration_minutes"`
	// StartTime is the planned start. Zero means now.
	StartTime time.Time `json:"start_time"`
}

// CreateBreak schedules a break after one of the user's sessions.
func (e *Engine) CreateBreak(ctx context.Context, userID string, in NewBreak) (*models.Break, error) {
	ctx, span := e.tracer.Start(ctx, "pomodoro.CreateBreak", trace.WithAttributes(
		attribute.String("pomo.session_id", in.SessionID),
		attribute.String("pomo.user_id", userID),
	))
	defer span.End()

	if in.SessionID == "" {
		return nil, recordError(span, fmt.Errorf("%w: session_id is required", ErrInvalidBreak))
	}
	if in.Type == "" {
		in.Type = models.BreakTypeShort
	}
	if !in.Type.Valid() {
		return nil, recordError(span, fmt.Errorf("%w: unknown type %q", ErrInvalidBreak, in.Type))
	}
	if in.DurationMinutes < 0 {
		return nil, recordError(span, fmt.Errorf("%w: duration must be at least 1 minute", ErrInvalidBreak))
	}
	if in.DurationMinutes == 0 {
		in.DurationMinutes = DefaultBreakMinutes
	}

	var created *models.Break
	err := e.store.WithTx(ctx, func(q store.Queries) error {
		if _, err := q.GetSession(ctx, in.SessionID, userID); err != nil {
			return err
		}
		now := e.clock()
		start := now
		if !in.StartTime.IsZero() {
			start = in.StartTime.UTC().Truncate(time.Millisecond)
		}
		created = &models.Break{
			UserID:          userID,
			SessionID:       in.SessionID,
			Type:            in.Type,
			DurationMinutes: in.DurationMinutes,
			StartTime:       start,
			EndTime:         start.Add(time.Duration(in.DurationMinutes) * time.Minute),
			Status:          models.BreakStatusScheduled,
			CreatedAt:       now,
		}
		return q.CreateBreak(ctx, created)
	})
	if err != nil {
		return nil, recordError(span, err)
	}
	return created, nil
}

// Breaks returns the user's breaks, newest first.
func (e *Engine) Breaks(ctx context.Context, userID string) ([]*models.Break, error) {
	list, err := e.store.ListBreaks(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, b := range list {
		e.viewBreak(b)
	}
	return list, nil
}

// Break returns one of the user's breaks.
func (e *Engine) Break(ctx context.Context, breakID, userID string) (*models.Break, error) {
	b, err := e.store.GetBreak(ctx, breakID, userID)
	if err != nil {
		return nil, err
	}
	return e.viewBreak(b), nil
}

// ActiveBreak returns the user's running break.
func (e *Engine) ActiveBreak(ctx context.Context, userID string) (*models.Break, error) {
	b, err := e.store.FindRunningBreak(ctx, userID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("active break for user %s: %w", userID, ErrNotFound)
	}
	return e.viewBreak(b), nil
}

// StartBreak starts a scheduled break now, running for its full duration.
func (e *Engine) StartBreak(ctx context.Context, breakID, userID string) (*models.Break, error) {
	return e.breakTransition(ctx, "pomodoro.StartBreak", breakID, userID, func(q store.Queries, b *models.Break, now time.Time) error {
		if b.Status != models.BreakStatusScheduled {
			return fmt.Errorf("start break %s: %w", breakID, ErrBreakNotScheduled)
		}
		running, err := q.FindRunningBreak(ctx, userID)
		if err != nil {
			return err
		}
		if running != nil {
			return fmt.Errorf("start break %s: %w", breakID, ErrBreakConflict)
		}
		b.Status = models.BreakStatusRunning
		b.StartTime = now
		b.EndTime = now.Add(time.Duration(b.DurationMinutes) * time.Minute)
		return nil
	})
}

// CompleteBreak ends a scheduled or running break now.
func (e *Engine) CompleteBreak(ctx context.Context, breakID, userID string) (*models.Break, error) {
	return e.breakTransition(ctx, "pomodoro.CompleteBreak", breakID, userID, func(_ store.Queries, b *models.Break, now time.Time) error {
		if b.Status.Terminal() {
			return fmt.Errorf("complete break %s: %w", breakID, ErrBreakFinished)
		}
		b.Status = models.BreakStatusCompleted
		b.EndTime = now
		return nil
	})
}

// CancelBreak abandons a scheduled or running break.
func (e *Engine) CancelBreak(ctx context.Context, breakID, userID string) (*models.Break, error) {
	return e.breakTransition(ctx, "pomodoro.CancelBreak", breakID, userID, func(_ store.Queries, b *models.Break, now time.Time) error {
		if b.Status.Terminal() {
			return fmt.Errorf("cancel break %s: %w", breakID, ErrBreakFinished)
		}
		b.Status = models.BreakStatusCancelled
		b.EndTime = now
		return nil
	})
}

// DeleteBreak removes a break in any state.
func (e *Engine) DeleteBreak(ctx context.Context, breakID, userID string) error {
	return e.store.DeleteBreak(ctx, breakID, userID)
}

// breakTransition re-reads the break in a transaction, applies fn and saves it.
func (e *Engine) breakTransition(ctx context.Context, name, breakID, userID string, fn func(q store.Queries, b *models.Break, now time.Time) error) (*models.Break, error) {
	ctx, span := e.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("pomo.break_id", breakID),
		attribute.String("pomo.user_id", userID),
	))
	defer span.End()

	var b *models.Break
	err := e.store.WithTx(ctx, func(q store.Queries) error {
		var err error
		b, err = q.GetBreak(ctx, breakID, userID)
		if err != nil {
			return err
		}
		now := e.clock()
		if err := fn(q, b, now); err != nil {
			return err
		}
		b.UpdatedAt = now
		if err := q.UpdateBreak(ctx, b); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return fmt.Errorf("break %s: %w", breakID, ErrBreakConflict)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, recordError(span, err)
	}
	return e.viewBreak(b), nil
}

// expireBreak completes a running break found by the sweeper at its end time.
// It returns false when the break changed since it was listed.
func (e *Engine) expireBreak(ctx context.Context, candidate *models.Break) (bool, error) {
	done := false
	err := e.store.WithTx(ctx, func(q store.Queries) error {
		b, err := q.GetBreak(ctx, candidate.ID, candidate.UserID)
		if err != nil {
			return err
		}
		if b.Status != models.BreakStatusRunning || b.EndTime.After(e.clock()) {
			return nil
		}
		b.Status = models.BreakStatusCompleted
		b.UpdatedAt = e.clock()
		if err := q.UpdateBreak(ctx, b); err != nil {
			return err
		}
		done = true
		return nil
	})
	return done, err
}

func (e *Engine) viewBreak(b *models.Break) *models.Break {
	if b == nil || b.Status != models.BreakStatusRunning {
		return b
	}
	remaining := b.Remaining(e.clock())
	b.RemainingSeconds = &remaining
	return b
}
